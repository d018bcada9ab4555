// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package engine

import (
	"errors"
	"fmt"
	"strings"
)

// Failure markers. Every error the worker reports wraps exactly one of them.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrDecode         = errors.New("decode failed")
	ErrUnsupported    = errors.New("unsupported conversion")
	ErrDependency     = errors.New("dependency unavailable")
	ErrEncode         = errors.New("encode failed")
	ErrInternal       = errors.New("internal failure")
)

// ErrClosed is returned by Post after the worker has shut down.
var ErrClosed = errors.New("engine worker closed")

var markerNames = []struct {
	marker error
	name   string
}{
	{ErrInvalidRequest, "invalid_request"},
	{ErrDecode, "decode"},
	{ErrUnsupported, "unsupported"},
	{ErrDependency, "dependency"},
	{ErrEncode, "encode"},
	{ErrInternal, "internal"},
}

// wrap tags err with marker and the operation that failed. A nil err yields
// an error carrying only the marker and detail.
func wrap(marker error, op string, err error) error {
	op = strings.TrimSpace(op)
	if op == "" {
		op = "conversion"
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, op, err)
	}
	return fmt.Errorf("%w: %s", marker, op)
}

// Kind returns a short classification of err ("decode", "dependency", ...),
// or "internal" when err carries no known marker.
func Kind(err error) string {
	for _, m := range markerNames {
		if errors.Is(err, m.marker) {
			return m.name
		}
	}
	return "internal"
}
