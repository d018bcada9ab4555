// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types holds the vocabulary shared by the engine worker, the queue
// controller and the CLI: formats, blobs, conversion requests and statuses,
// the message envelopes exchanged with the worker, and configuration.
package types

import (
	"fmt"
	"strings"
)

// Format is a conversion target. The set is closed; ParseFormat rejects
// anything else.
type Format string

const (
	FormatJPG  Format = "jpg"
	FormatPNG  Format = "png"
	FormatPDF  Format = "pdf"
	FormatWebP Format = "webp"
	FormatSVG  Format = "svg"
	// FormatJFIF is encoded exactly like FormatJPG; only the output file
	// extension differs.
	FormatJFIF Format = "jfif"
)

var allFormats = []Format{FormatJPG, FormatPNG, FormatPDF, FormatWebP, FormatSVG, FormatJFIF}

// AllFormats returns the supported targets in display order.
func AllFormats() []Format {
	cp := make([]Format, len(allFormats))
	copy(cp, allFormats)
	return cp
}

// ParseFormat converts a user-supplied name into a Format. Names are
// case-insensitive and "jpeg" is accepted as an alias of "jpg".
func ParseFormat(value string) (Format, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	v = strings.TrimPrefix(v, ".")
	if v == "jpeg" {
		v = string(FormatJPG)
	}
	for _, f := range allFormats {
		if string(f) == v {
			return f, nil
		}
	}
	return "", fmt.Errorf("unsupported target format %q", value)
}

// MIMEType returns the media type of data encoded in this format.
func (f Format) MIMEType() string {
	switch f {
	case FormatJPG, FormatJFIF:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatWebP:
		return "image/webp"
	case FormatSVG:
		return "image/svg+xml"
	case FormatPDF:
		return "application/pdf"
	}
	return "application/octet-stream"
}

// Extension returns the file extension, including the leading dot.
func (f Format) Extension() string {
	return "." + string(f)
}

// Lossy reports whether the quality setting affects the encoding.
func (f Format) Lossy() bool {
	return f == FormatJPG || f == FormatJFIF || f == FormatWebP
}

// Raster reports whether the format is a bitmap encoding.
func (f Format) Raster() bool {
	return f == FormatJPG || f == FormatJFIF || f == FormatPNG || f == FormatWebP
}
