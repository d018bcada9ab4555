// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Blob is a named chunk of file bytes plus the media type used to route it.
type Blob struct {
	// Name is the original file name (e.g. "holiday.heic").
	Name string `json:"name" yaml:"name"`

	// MIME is the inferred media type (e.g. "image/png").
	MIME string `json:"mime" yaml:"mime"`

	// Data holds the raw file contents.
	Data []byte `json:"-" yaml:"-"`
}

// extensionTypes covers the formats the engine routes on. It is consulted
// when content sniffing only produces a generic type.
var extensionTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".jfif": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".svg":  "image/svg+xml",
	".heic": "image/heic",
	".heif": "image/heif",
	".pdf":  "application/pdf",
}

var genericTypes = map[string]bool{
	"application/octet-stream": true,
	"text/plain":               true,
	"text/xml":                 true,
	"application/xml":          true,
}

// NewBlob wraps data and infers its media type from the content, falling
// back to the name's extension when sniffing is inconclusive.
func NewBlob(name string, data []byte) Blob {
	return Blob{Name: name, MIME: DetectMIME(name, data), Data: data}
}

// DetectMIME sniffs data and returns a bare media type without parameters.
func DetectMIME(name string, data []byte) string {
	sniffed := mimetype.Detect(data).String()
	if i := strings.IndexByte(sniffed, ';'); i >= 0 {
		sniffed = sniffed[:i]
	}
	if genericTypes[sniffed] {
		if byExt, ok := extensionTypes[strings.ToLower(filepath.Ext(name))]; ok {
			return byExt
		}
	}
	return sniffed
}

// Ext returns the lower-cased extension of the blob name.
func (b Blob) Ext() string {
	return strings.ToLower(filepath.Ext(b.Name))
}

// Len returns the size of the blob in bytes.
func (b Blob) Len() int {
	return len(b.Data)
}

// Clone returns a copy that shares no memory with b.
func (b Blob) Clone() Blob {
	b.Data = bytes.Clone(b.Data)
	return b
}

// Rename returns the blob name with its extension replaced by ext.
func (b Blob) Rename(ext string) string {
	base := strings.TrimSuffix(b.Name, filepath.Ext(b.Name))
	if base == "" {
		base = "file"
	}
	return base + ext
}
