// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"errors"
	"fmt"
	"strings"
)

// State is the lifecycle of one conversion request.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateError      State = "error"
)

// Terminal reports whether no further transition may follow.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateError
}

// Active reports whether the request is still waiting for a terminal status.
func (s State) Active() bool {
	return s == StatePending || s == StateProcessing
}

// ParseState converts a string into a known State.
func ParseState(value string) (State, bool) {
	s := State(strings.ToLower(strings.TrimSpace(value)))
	switch s {
	case StatePending, StateProcessing, StateCompleted, StateError:
		return s, true
	}
	return "", false
}

// Valid scale factors for vector rasterization.
const (
	MinScale = 1
	MaxScale = 3
)

// ConversionRequest identifies one unit of work. It is never mutated after
// submission.
type ConversionRequest struct {
	// ID correlates status messages with the request. Unique among in-flight
	// requests.
	ID string `json:"id" yaml:"id"`

	// Source is the file to convert.
	Source Blob `json:"source" yaml:"source"`

	// Target is the output format.
	Target Format `json:"target" yaml:"target"`

	// Quality in [0,1] for lossy targets. Nil selects the encoder default.
	Quality *float64 `json:"quality,omitempty" yaml:"quality,omitempty"`

	// Scale multiplies the intrinsic size of vector sources (1, 2 or 3).
	// Zero means 1.
	Scale int `json:"scale,omitempty" yaml:"scale,omitempty"`
}

// Validate checks the fields the worker relies on.
func (r ConversionRequest) Validate() error {
	if r.ID == "" {
		return errors.New("request id is empty")
	}
	if _, err := ParseFormat(string(r.Target)); err != nil {
		return err
	}
	if r.Quality != nil && (*r.Quality < 0 || *r.Quality > 1) {
		return fmt.Errorf("quality %v outside [0,1]", *r.Quality)
	}
	if r.Scale != 0 && (r.Scale < MinScale || r.Scale > MaxScale) {
		return fmt.Errorf("scale %d outside %d..%d", r.Scale, MinScale, MaxScale)
	}
	return nil
}

// EffectiveScale returns Scale with the zero value mapped to 1.
func (r ConversionRequest) EffectiveScale() int {
	if r.Scale == 0 {
		return 1
	}
	return r.Scale
}

// ConversionStatus is the worker's report on one request. Progress is a
// fraction in [0,1] on every path.
type ConversionStatus struct {
	ID       string  `json:"id" yaml:"id"`
	State    State   `json:"status" yaml:"status"`
	Progress float64 `json:"progress" yaml:"progress"`
	Result   *Blob   `json:"result,omitempty" yaml:"result,omitempty"`
	Error    string  `json:"error,omitempty" yaml:"error,omitempty"`
}
