// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// EngineConfig holds settings for the engine worker.
type EngineConfig struct {
	// JPEGQuality is used when a JPEG request carries no quality (default 0.92).
	JPEGQuality float64 `json:"jpeg_quality" yaml:"jpeg_quality"`

	// WebPQuality is used when a WebP request carries no quality (default 0.80).
	WebPQuality float64 `json:"webp_quality" yaml:"webp_quality"`

	// IntermediateQuality is the JPEG quality of bitmaps embedded into
	// documents (default 0.92).
	IntermediateQuality float64 `json:"intermediate_quality" yaml:"intermediate_quality"`

	// PageWidthMM and PageHeightMM give the document page size (default 210x297).
	PageWidthMM  float64 `json:"page_width_mm" yaml:"page_width_mm"`
	PageHeightMM float64 `json:"page_height_mm" yaml:"page_height_mm"`

	// InboxSize bounds the number of messages buffered towards the worker.
	InboxSize int `json:"inbox_size" yaml:"inbox_size"`
}

// QueueConfig holds settings for the queue controller.
type QueueConfig struct {
	// StartupTimeout is how long Initialize waits for the worker's PONG
	// before the controller gives up (default 10s).
	StartupTimeout time.Duration `json:"startup_timeout" yaml:"startup_timeout"`

	// MaxPending bounds the number of files buffered while the worker is
	// not yet ready (default 256).
	MaxPending int `json:"max_pending" yaml:"max_pending"`
}

// HEICConfig holds settings for the HEIC pre-normalizer.
type HEICConfig struct {
	// Quality of the JPEG intermediate (default 0.8).
	Quality float64 `json:"quality" yaml:"quality"`
}

// LogConfig selects logger level and format.
type LogConfig struct {
	// Level is one of debug, info, warn, error (default info).
	Level string `json:"level" yaml:"level"`

	// Format is console or json (default console).
	Format string `json:"format" yaml:"format"`
}

// HistoryConfig holds settings for the session ledger.
type HistoryConfig struct {
	// DBPath is the SQLite file. Empty keeps the ledger in memory for the
	// lifetime of the process.
	DBPath string `json:"db_path" yaml:"db_path"`
}

// Config groups all component configurations.
type Config struct {
	Engine  EngineConfig  `json:"engine" yaml:"engine"`
	Queue   QueueConfig   `json:"queue" yaml:"queue"`
	HEIC    HEICConfig    `json:"heic" yaml:"heic"`
	Log     LogConfig     `json:"log" yaml:"log"`
	History HistoryConfig `json:"history" yaml:"history"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Engine: EngineConfig{
			JPEGQuality:         0.92,
			WebPQuality:         0.80,
			IntermediateQuality: 0.92,
			PageWidthMM:         210,
			PageHeightMM:        297,
			InboxSize:           64,
		},
		Queue: QueueConfig{
			StartupTimeout: 10 * time.Second,
			MaxPending:     256,
		},
		HEIC: HEICConfig{Quality: 0.8},
		Log:  LogConfig{Level: "info", Format: "console"},
	}
}

// Normalize fills zero fields from DefaultConfig.
func (c Config) Normalize() Config {
	d := DefaultConfig()
	if c.Engine.JPEGQuality <= 0 {
		c.Engine.JPEGQuality = d.Engine.JPEGQuality
	}
	if c.Engine.WebPQuality <= 0 {
		c.Engine.WebPQuality = d.Engine.WebPQuality
	}
	if c.Engine.IntermediateQuality <= 0 {
		c.Engine.IntermediateQuality = d.Engine.IntermediateQuality
	}
	if c.Engine.PageWidthMM <= 0 || c.Engine.PageHeightMM <= 0 {
		c.Engine.PageWidthMM = d.Engine.PageWidthMM
		c.Engine.PageHeightMM = d.Engine.PageHeightMM
	}
	if c.Engine.InboxSize <= 0 {
		c.Engine.InboxSize = d.Engine.InboxSize
	}
	if c.Queue.StartupTimeout <= 0 {
		c.Queue.StartupTimeout = d.Queue.StartupTimeout
	}
	if c.Queue.MaxPending <= 0 {
		c.Queue.MaxPending = d.Queue.MaxPending
	}
	if c.HEIC.Quality <= 0 || c.HEIC.Quality > 1 {
		c.HEIC.Quality = d.HEIC.Quality
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	return c
}
