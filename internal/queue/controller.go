// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package queue owns the engine worker on behalf of its callers. It assigns
// request IDs, keeps one record per submitted file, posts work to the
// engine one file at a time and folds the engine's status stream back into
// those records.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pdiddy/convert-engine/internal/logging"
	"github.com/pdiddy/convert-engine/pkg/types"
)

var (
	// ErrNotReady is returned when the engine failed to start.
	ErrNotReady = errors.New("engine not ready")
	// ErrBacklogFull is returned when a submission made before the engine
	// is ready exceeds the backlog limit.
	ErrBacklogFull = errors.New("startup backlog full")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("controller closed")
	// ErrAlreadyInitialized is returned by a second Initialize.
	ErrAlreadyInitialized = errors.New("controller already initialized")
)

// Error texts stored on records the engine never reported on.
const (
	msgStartupFailed = "engine failed to start"
	msgEngineStopped = "engine stopped"
)

type phase int

const (
	phaseIdle phase = iota
	phaseStarting
	phaseReady
	phaseFailed
	phaseClosed
)

type job struct {
	id     string
	source types.Blob
	target types.Format
	opts   SubmitOptions
}

type batch struct {
	generation uint64
	jobs       []job
}

// Controller drives a single engine. It is safe for concurrent use.
type Controller struct {
	factory    EngineFactory
	cfg        types.QueueConfig
	logger     *slog.Logger
	normalizer Normalizer
	recorder   Recorder
	now        func() time.Time

	mu         sync.Mutex
	phase      phase
	readyCh    chan struct{}
	startErr   error
	engine     Engine
	life       context.Context
	cancel     context.CancelFunc
	generation uint64
	order      []string
	records    map[string]*Record
	backlog    *batch
	subs       map[int]chan []Record
	nextSub    int

	wg sync.WaitGroup
}

// New returns a controller that will create its engine with factory.
func New(factory EngineFactory, opts ...Option) *Controller {
	c := &Controller{
		factory: factory,
		cfg:     types.DefaultConfig().Queue,
		now:     time.Now,
		readyCh: make(chan struct{}),
		records: make(map[string]*Record),
		subs:    make(map[int]chan []Record),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.cfg = types.Config{Queue: c.cfg}.Normalize().Queue
	c.logger = logging.Component(c.logger, "queue")
	return c
}

// Initialize creates the engine and probes it with PING. It returns once
// the probe is posted; the controller becomes ready when PONG arrives.
// When the engine cannot be created, the probe cannot be posted, or no
// PONG arrives within the startup timeout, the controller is permanently
// not ready.
func (c *Controller) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	switch c.phase {
	case phaseClosed:
		c.mu.Unlock()
		return ErrClosed
	case phaseIdle:
	default:
		c.mu.Unlock()
		return ErrAlreadyInitialized
	}
	c.phase = phaseStarting
	c.life, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	life := c.life
	c.mu.Unlock()

	if c.factory == nil {
		err := errors.New("no engine factory")
		c.startupFailed(err)
		return fmt.Errorf("%w: %w", ErrNotReady, err)
	}
	eng, err := c.factory(life)
	if err != nil {
		c.startupFailed(err)
		return fmt.Errorf("%w: creating engine: %w", ErrNotReady, err)
	}

	c.mu.Lock()
	if c.phase != phaseStarting {
		c.mu.Unlock()
		_ = eng.Close()
		return ErrClosed
	}
	c.engine = eng
	c.wg.Add(2)
	c.mu.Unlock()

	go c.read(eng)
	go c.watchStartup(life, c.cfg.StartupTimeout)

	if err := eng.Post(types.PingMessage()); err != nil {
		c.startupFailed(err)
		return fmt.Errorf("%w: posting ping: %w", ErrNotReady, err)
	}
	c.logger.Debug("engine probe sent")
	return nil
}

// Ready reports whether the engine answered the startup probe.
func (c *Controller) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase == phaseReady
}

// WaitReady blocks until the engine is ready, startup fails or ctx ends.
func (c *Controller) WaitReady(ctx context.Context) error {
	c.mu.Lock()
	ch := c.readyCh
	c.mu.Unlock()

	select {
	case <-ch:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.phase {
	case phaseReady:
		return nil
	case phaseFailed:
		return fmt.Errorf("%w: %w", ErrNotReady, c.startErr)
	default:
		return ErrClosed
	}
}

// Submit replaces the queue with one pending record per file and returns
// the new IDs in file order. Files are posted to the engine in the
// background; a later Submit or Reset abandons whatever has not been posted
// yet. Before the engine is ready the batch is held back and flushed once
// it is.
func (c *Controller) Submit(ctx context.Context, files []types.Blob, target types.Format, opts SubmitOptions) ([]string, error) {
	if _, err := types.ParseFormat(string(target)); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.phase {
	case phaseClosed:
		return nil, ErrClosed
	case phaseFailed:
		return nil, fmt.Errorf("%w: %w", ErrNotReady, c.startErr)
	case phaseIdle, phaseStarting:
		if len(files) > c.cfg.MaxPending {
			return nil, fmt.Errorf("%w: %d files, limit %d", ErrBacklogFull, len(files), c.cfg.MaxPending)
		}
	}

	c.generation++
	now := c.now()
	b := batch{generation: c.generation, jobs: make([]job, 0, len(files))}
	ids := make([]string, 0, len(files))
	c.order = make([]string, 0, len(files))
	c.records = make(map[string]*Record, len(files))

	for _, f := range files {
		id := uuid.NewString()
		c.records[id] = &Record{
			ID:          id,
			Name:        f.Name,
			Target:      target,
			SourceMIME:  f.MIME,
			SourceBytes: f.Len(),
			State:       types.StatePending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		c.order = append(c.order, id)
		ids = append(ids, id)
		b.jobs = append(b.jobs, job{id: id, source: f, target: target, opts: opts})
	}

	if c.phase == phaseReady {
		c.startDispatchLocked(b)
	} else {
		c.backlog = &b
	}
	c.publishLocked()

	c.logger.Info("batch submitted",
		slog.Int("files", len(files)),
		slog.String(logging.FieldTarget, string(target)),
		slog.Bool("buffered", c.phase != phaseReady),
	)
	return ids, nil
}

// Observe returns a snapshot of the queue in submission order.
func (c *Controller) Observe() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe returns a channel of queue snapshots. Only the most recent
// snapshot is retained for a slow reader. The current snapshot is
// delivered immediately. The returned func unsubscribes and closes the
// channel.
func (c *Controller) Subscribe() (<-chan []Record, func()) {
	ch := make(chan []Record, 1)

	c.mu.Lock()
	if c.phase == phaseClosed {
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.snapshotLocked()
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if _, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(ch)
			}
		})
	}
}

// IsConverting reports whether any record is pending or processing.
func (c *Controller) IsConverting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.records {
		if r.State.Active() {
			return true
		}
	}
	return false
}

// Wait blocks until no record is pending or processing.
func (c *Controller) Wait(ctx context.Context) error {
	ch, cancel := c.Subscribe()
	defer cancel()
	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				return ErrClosed
			}
			if !anyActive(snap) {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Reset empties the queue. Work already posted to the engine still runs,
// but its statuses are ignored.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.order = nil
	c.records = make(map[string]*Record)
	c.backlog = nil
	c.publishLocked()
}

// Close stops the engine and waits for the controller's goroutines.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.phase == phaseClosed {
		c.mu.Unlock()
		return nil
	}
	if c.phase == phaseStarting || c.phase == phaseIdle {
		close(c.readyCh)
	}
	c.phase = phaseClosed
	c.generation++
	c.backlog = nil
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	eng, cancel := c.engine, c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if eng != nil {
		err = eng.Close()
	}
	c.wg.Wait()
	return err
}

func (c *Controller) read(eng Engine) {
	defer c.wg.Done()
	for msg := range eng.Messages() {
		switch msg.Kind {
		case types.KindPong:
			c.onPong()
		case types.KindStatus:
			if msg.Status != nil {
				c.apply(*msg.Status)
			}
		default:
			c.logger.Warn("unexpected engine message", slog.String("kind", string(msg.Kind)))
		}
	}
	c.onEngineStopped()
}

func (c *Controller) watchStartup(ctx context.Context, timeout time.Duration) {
	defer c.wg.Done()
	c.mu.Lock()
	ready := c.readyCh
	c.mu.Unlock()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ready:
	case <-ctx.Done():
	case <-t.C:
		c.startupFailed(fmt.Errorf("no response within %s", timeout))
	}
}

func (c *Controller) onPong() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != phaseStarting {
		return
	}
	c.phase = phaseReady
	close(c.readyCh)
	c.logger.Info("engine ready")

	if b := c.backlog; b != nil {
		c.backlog = nil
		if b.generation == c.generation {
			c.startDispatchLocked(*b)
		}
	}
}

// startupFailed moves the controller to the failed phase and fails every
// record that was waiting for the engine.
func (c *Controller) startupFailed(cause error) {
	c.mu.Lock()
	if c.phase != phaseStarting {
		c.mu.Unlock()
		return
	}
	c.phase = phaseFailed
	c.startErr = cause
	c.backlog = nil
	close(c.readyCh)
	failed := c.failActiveLocked(msgStartupFailed)
	c.publishLocked()
	eng := c.engine
	c.mu.Unlock()

	c.logger.Error("engine failed to start", slog.Any("error", cause))
	if eng != nil {
		_ = eng.Close()
	}
	c.recordAll(failed)
}

func (c *Controller) onEngineStopped() {
	c.mu.Lock()
	switch c.phase {
	case phaseStarting:
		c.mu.Unlock()
		c.startupFailed(errors.New("engine exited before answering"))
		return
	case phaseReady:
	default:
		c.mu.Unlock()
		return
	}
	c.generation++
	failed := c.failActiveLocked(msgEngineStopped)
	c.publishLocked()
	c.mu.Unlock()

	c.logger.Error("engine stopped unexpectedly", slog.Int("failed", len(failed)))
	c.recordAll(failed)
}

// apply folds one status into the record with the same ID.
func (c *Controller) apply(st types.ConversionStatus) {
	c.mu.Lock()
	rec, ok := c.records[st.ID]
	if !ok || rec.State.Terminal() {
		c.mu.Unlock()
		c.logger.Debug("ignoring status",
			slog.String(logging.FieldRequestID, st.ID),
			slog.String(logging.FieldState, string(st.State)),
			slog.Bool("known", ok),
		)
		return
	}

	progress := max(rec.Progress, min(max(st.Progress, 0), 1))
	switch st.State {
	case types.StateProcessing:
		rec.State = types.StateProcessing
		rec.Progress = progress
	case types.StateCompleted:
		rec.State = types.StateCompleted
		rec.Progress = 1
		rec.Result = st.Result
		rec.Error = ""
	case types.StateError:
		rec.State = types.StateError
		rec.Progress = progress
		rec.Error = st.Error
		if rec.Error == "" {
			rec.Error = "conversion failed"
		}
	default:
		c.mu.Unlock()
		return
	}
	rec.UpdatedAt = c.now()
	snapshot := *rec
	c.publishLocked()
	c.mu.Unlock()

	if snapshot.State.Terminal() {
		c.logger.Info("conversion finished",
			slog.String(logging.FieldRequestID, snapshot.ID),
			slog.String(logging.FieldState, string(snapshot.State)),
			slog.String("file", snapshot.Name),
		)
		c.recordAll([]Record{snapshot})
	}
}

func (c *Controller) startDispatchLocked(b batch) {
	eng := c.engine
	life := c.life
	c.wg.Add(1)
	go c.dispatch(life, eng, b)
}

// dispatch posts a batch file by file. It stops as soon as the batch has
// been superseded.
func (c *Controller) dispatch(ctx context.Context, eng Engine, b batch) {
	defer c.wg.Done()
	for _, j := range b.jobs {
		if !c.current(b.generation) {
			return
		}
		src := j.source
		if c.normalizer != nil {
			if out, ok := c.normalizer.Normalize(ctx, src); ok {
				src = out
			}
		}
		if !c.current(b.generation) {
			return
		}

		req := types.ConversionRequest{
			ID:      j.id,
			Source:  src.Clone(),
			Target:  j.target,
			Quality: j.opts.Quality,
			Scale:   j.opts.Scale,
		}
		if err := eng.Post(types.ConvertMessage(req)); err != nil {
			c.apply(types.ConversionStatus{
				ID:    j.id,
				State: types.StateError,
				Error: fmt.Sprintf("posting to engine: %v", err),
			})
		}
	}
}

func (c *Controller) current(generation uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase == phaseReady && c.generation == generation
}

func (c *Controller) failActiveLocked(reason string) []Record {
	now := c.now()
	var failed []Record
	for _, id := range c.order {
		rec := c.records[id]
		if !rec.State.Active() {
			continue
		}
		rec.State = types.StateError
		rec.Error = reason
		rec.UpdatedAt = now
		failed = append(failed, *rec)
	}
	return failed
}

func (c *Controller) recordAll(records []Record) {
	if c.recorder == nil {
		return
	}
	ctx := context.Background()
	for _, r := range records {
		if err := c.recorder.Record(ctx, r); err != nil {
			c.logger.Warn("recording outcome failed",
				slog.String(logging.FieldRequestID, r.ID),
				slog.Any("error", err),
			)
		}
	}
}

func (c *Controller) snapshotLocked() []Record {
	out := make([]Record, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.records[id])
	}
	return out
}

// publishLocked hands the current snapshot to every subscriber, replacing
// any snapshot the subscriber has not read yet.
func (c *Controller) publishLocked() {
	if len(c.subs) == 0 {
		return
	}
	snap := c.snapshotLocked()
	for _, ch := range c.subs {
		s := slices.Clone(snap)
		select {
		case ch <- s:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}
