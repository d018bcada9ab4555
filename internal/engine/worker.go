// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package engine implements the conversion worker: an isolated goroutine
// that receives PING and CONVERT messages, performs one format transform at
// a time and streams STATUS messages back. Every CONVERT produces exactly
// one terminal status, even when the transform fails or panics.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pdiddy/convert-engine/internal/logging"
	"github.com/pdiddy/convert-engine/internal/pdfdoc"
	"github.com/pdiddy/convert-engine/pkg/types"
)

// Worker owns one message loop. Requests are handled strictly in arrival
// order and share no state with each other.
type Worker struct {
	cfg     types.EngineConfig
	logger  *slog.Logger
	authors *pdfdoc.Loader

	inbox  chan types.Inbound
	outbox chan types.Outbound

	done      chan struct{}
	closeOnce sync.Once
	startOnce sync.Once
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the worker's logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// WithAuthorLoader injects the document-authoring capability used for PDF
// targets. Without it the worker links the fpdf author sized from cfg.
func WithAuthorLoader(l *pdfdoc.Loader) Option {
	return func(w *Worker) { w.authors = l }
}

// NewWorker creates a worker. Call Start to run its loop.
func NewWorker(cfg types.EngineConfig, opts ...Option) *Worker {
	cfg = types.Config{Engine: cfg}.Normalize().Engine
	w := &Worker{
		cfg:    cfg,
		inbox:  make(chan types.Inbound, cfg.InboxSize),
		outbox: make(chan types.Outbound, cfg.InboxSize),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = logging.Component(w.logger, "engine")
	if w.authors == nil {
		w.authors = pdfdoc.DefaultLoader(cfg.PageWidthMM, cfg.PageHeightMM)
	}
	return w
}

// Start runs the message loop in its own goroutine until ctx is cancelled
// or Close is called. Calling Start more than once has no effect.
func (w *Worker) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		go w.run(ctx)
	})
}

// Post enqueues msg for the worker. The request payload is copied so the
// caller and the worker never share memory. Post blocks while the inbox is
// full and returns ErrClosed once the worker has shut down.
func (w *Worker) Post(msg types.Inbound) error {
	if msg.Request != nil {
		req := *msg.Request
		req.Source = req.Source.Clone()
		if req.Quality != nil {
			q := *req.Quality
			req.Quality = &q
		}
		msg.Request = &req
	}

	select {
	case <-w.done:
		return ErrClosed
	default:
	}
	select {
	case w.inbox <- msg:
		return nil
	case <-w.done:
		return ErrClosed
	}
}

// Messages returns the stream of PONG and STATUS messages. It is closed when
// the loop exits.
func (w *Worker) Messages() <-chan types.Outbound {
	return w.outbox
}

// Close stops the loop. Messages already posted but not yet handled are
// dropped.
func (w *Worker) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	return nil
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.outbox)
	w.logger.Debug("worker started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case msg := <-w.inbox:
			w.handle(ctx, msg)
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg types.Inbound) {
	switch msg.Kind {
	case types.KindPing:
		w.emit(ctx, types.PongMessage())
	case types.KindConvert:
		if msg.Request == nil {
			w.logger.Warn("convert message without request")
			return
		}
		w.convert(ctx, *msg.Request)
	default:
		w.logger.Warn("unknown message kind", slog.String("kind", string(msg.Kind)))
		if msg.Request != nil {
			w.emit(ctx, errorStatus(msg.Request.ID,
				wrap(ErrInvalidRequest, fmt.Sprintf("unknown message kind %q", msg.Kind), nil)))
		}
	}
}

func (w *Worker) convert(ctx context.Context, req types.ConversionRequest) {
	logger := w.logger.With(
		slog.String(logging.FieldRequestID, req.ID),
		slog.String(logging.FieldTarget, string(req.Target)),
		slog.String(logging.FieldSource, req.Source.MIME),
	)

	report := monotonic(func(p float64) {
		w.emit(ctx, types.StatusMessage(types.ConversionStatus{
			ID:       req.ID,
			State:    types.StateProcessing,
			Progress: p,
		}))
	})

	result, err := w.process(req, report)
	if err != nil {
		logger.Warn("conversion failed", slog.String("kind", Kind(err)), slog.Any("error", err))
		w.emit(ctx, errorStatus(req.ID, err))
		return
	}

	logger.Debug("conversion completed", slog.Int("bytes", result.Len()))
	w.emit(ctx, types.StatusMessage(types.ConversionStatus{
		ID:       req.ID,
		State:    types.StateCompleted,
		Progress: ProgressDone,
		Result:   &result,
	}))
}

// process runs the transform for req. Any panic inside the transform is
// converted into an ErrInternal failure.
func (w *Worker) process(req types.ConversionRequest, report progressFunc) (result types.Blob, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = wrap(ErrInternal, "conversion panicked", fmt.Errorf("%v", r))
		}
	}()

	if err := req.Validate(); err != nil {
		return types.Blob{}, wrap(ErrInvalidRequest, "validating request", err)
	}
	report(ProgressStarted)

	kind := classify(req.Source)
	t, ok := lookup(kind, req.Target)
	if !ok {
		return types.Blob{}, wrap(ErrUnsupported, fmt.Sprintf("%s to %s", kind, req.Target), nil)
	}
	return t.run(w, req, report)
}

func (w *Worker) emit(ctx context.Context, msg types.Outbound) bool {
	select {
	case w.outbox <- msg:
		return true
	case <-w.done:
		return false
	case <-ctx.Done():
		return false
	}
}

func errorStatus(id string, err error) types.Outbound {
	return types.StatusMessage(types.ConversionStatus{
		ID:       id,
		State:    types.StateError,
		Progress: ProgressDone,
		Error:    err.Error(),
	})
}
