// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package queue

import (
	"time"

	"github.com/pdiddy/convert-engine/pkg/types"
)

// Record is the controller's view of one submitted file.
type Record struct {
	ID     string       `json:"id" yaml:"id"`
	Name   string       `json:"name" yaml:"name"`
	Target types.Format `json:"target" yaml:"target"`

	// SourceMIME and SourceBytes describe the file as submitted, before any
	// pre-normalization.
	SourceMIME  string `json:"source_mime" yaml:"source_mime"`
	SourceBytes int    `json:"source_bytes" yaml:"source_bytes"`

	State    types.State `json:"status" yaml:"status"`
	Progress float64     `json:"progress" yaml:"progress"`
	// Result is set once the record is completed.
	Result *types.Blob `json:"result,omitempty" yaml:"result,omitempty"`
	Error  string      `json:"error,omitempty" yaml:"error,omitempty"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Duration is the time from submission to the last update.
func (r Record) Duration() time.Duration {
	return r.UpdatedAt.Sub(r.CreatedAt)
}

// ResultBytes returns the size of the converted file, or zero.
func (r Record) ResultBytes() int {
	if r.Result == nil {
		return 0
	}
	return r.Result.Len()
}

// anyActive reports whether any record still awaits a terminal status.
func anyActive(records []Record) bool {
	for _, r := range records {
		if r.State.Active() {
			return true
		}
	}
	return false
}
