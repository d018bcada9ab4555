// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package queue

import (
	"context"
	"log/slog"

	"github.com/pdiddy/convert-engine/internal/engine"
	"github.com/pdiddy/convert-engine/pkg/types"
)

// Engine is the worker boundary as seen by the controller.
type Engine interface {
	Post(msg types.Inbound) error
	Messages() <-chan types.Outbound
	Close() error
}

// EngineFactory creates and starts an Engine. ctx bounds the engine's
// lifetime.
type EngineFactory func(ctx context.Context) (Engine, error)

// WorkerFactory returns an EngineFactory for the in-process engine worker.
func WorkerFactory(cfg types.EngineConfig, logger *slog.Logger) EngineFactory {
	return func(ctx context.Context) (Engine, error) {
		w := engine.NewWorker(cfg, engine.WithLogger(logger))
		w.Start(ctx)
		return w, nil
	}
}

// Normalizer rewrites a file before it is posted to the engine. It returns
// false to keep the original.
type Normalizer interface {
	Normalize(ctx context.Context, b types.Blob) (types.Blob, bool)
}

// Recorder receives every record that reaches a terminal state.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// SubmitOptions apply to every file of one submission.
type SubmitOptions struct {
	// Quality in [0,1]; nil selects the engine default.
	Quality *float64
	// Scale for vector sources, 1..3; zero means 1.
	Scale int
}

// Option configures a Controller.
type Option func(*Controller)

// WithConfig sets the startup timeout and backlog limit.
func WithConfig(cfg types.QueueConfig) Option {
	return func(c *Controller) { c.cfg = cfg }
}

// WithLogger sets the controller's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithNormalizer installs a pre-normalization step, typically HEIC to JPEG.
func WithNormalizer(n Normalizer) Option {
	return func(c *Controller) { c.normalizer = n }
}

// WithRecorder installs a sink for terminal records.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}
