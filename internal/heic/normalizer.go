// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package heic converts HEIC/HEIF photos to JPEG before they are handed to
// the engine worker, which has no HEIC decoder. Normalization is best
// effort: when it fails the original file is passed through unchanged.
package heic

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/gen2brain/heic"
	"golang.org/x/image/draw"

	"github.com/pdiddy/convert-engine/internal/logging"
	"github.com/pdiddy/convert-engine/pkg/types"
)

// DefaultQuality is the JPEG quality used for normalized photos.
const DefaultQuality = 0.8

// DecodeFunc decodes one HEIC image.
type DecodeFunc func(io.Reader) (image.Image, error)

// LoaderFunc acquires a DecodeFunc. It runs on first use.
type LoaderFunc func() (DecodeFunc, error)

var heicTypes = map[string]bool{
	"image/heic":          true,
	"image/heif":          true,
	"image/heic-sequence": true,
	"image/heif-sequence": true,
}

// IsHEIC reports whether b is a HEIC or HEIF file, by media type or by
// file extension.
func IsHEIC(b types.Blob) bool {
	if heicTypes[strings.ToLower(b.MIME)] {
		return true
	}
	ext := b.Ext()
	return ext == ".heic" || ext == ".heif"
}

// Normalizer turns HEIC blobs into JPEG blobs.
type Normalizer struct {
	load    LoaderFunc
	quality float64
	logger  *slog.Logger

	mu     sync.Mutex
	decode DecodeFunc
	loads  int
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithQuality sets the JPEG quality in [0,1].
func WithQuality(q float64) Option {
	return func(n *Normalizer) {
		if q > 0 && q <= 1 {
			n.quality = q
		}
	}
}

// WithLoader replaces the decoder loader.
func WithLoader(l LoaderFunc) Option {
	return func(n *Normalizer) { n.load = l }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *Normalizer) { n.logger = l }
}

// New returns a Normalizer backed by the gen2brain HEIC decoder.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		load:    func() (DecodeFunc, error) { return heic.Decode, nil },
		quality: DefaultQuality,
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = logging.Component(n.logger, "heic")
	return n
}

// Normalize converts b to JPEG when it is a HEIC file. It returns the new
// blob and true on success. Non-HEIC input, cancellation and every failure
// return b unchanged and false.
func (n *Normalizer) Normalize(ctx context.Context, b types.Blob) (types.Blob, bool) {
	if !IsHEIC(b) {
		return b, false
	}
	if ctx.Err() != nil {
		return b, false
	}

	logger := n.logger.With(slog.String("file", b.Name))
	out, err := n.convert(b)
	if err != nil {
		logger.Warn("heic normalization failed, passing original through", slog.Any("error", err))
		return b, false
	}
	if ctx.Err() != nil {
		return b, false
	}
	logger.Debug("heic normalized", slog.Int("bytes", out.Len()))
	return out, true
}

// Loads reports how many times the decoder loader has run.
func (n *Normalizer) Loads() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.loads
}

func (n *Normalizer) decoder() (DecodeFunc, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.decode != nil {
		return n.decode, nil
	}
	if n.load == nil {
		return nil, fmt.Errorf("no heic decoder configured")
	}
	n.loads++
	dec, err := n.load()
	if err != nil {
		return nil, fmt.Errorf("loading heic decoder: %w", err)
	}
	if dec == nil {
		return nil, fmt.Errorf("loading heic decoder: loader returned no decoder")
	}
	n.decode = dec
	return dec, nil
}

func (n *Normalizer) convert(b types.Blob) (out types.Blob, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("heic decoder panicked: %v", r)
		}
	}()

	dec, err := n.decoder()
	if err != nil {
		return types.Blob{}, err
	}
	img, err := dec(bytes.NewReader(b.Data))
	if err != nil {
		return types.Blob{}, fmt.Errorf("decoding heic: %w", err)
	}
	bounds := img.Bounds()
	if bounds.Empty() {
		return types.Blob{}, fmt.Errorf("decoding heic: image has no pixels")
	}

	flat := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(flat, flat.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(flat, flat.Bounds(), img, bounds.Min, draw.Over)

	var buf bytes.Buffer
	q := max(1, min(100, int(math.Round(n.quality*100))))
	if err := jpeg.Encode(&buf, flat, &jpeg.Options{Quality: q}); err != nil {
		return types.Blob{}, fmt.Errorf("encoding jpeg: %w", err)
	}
	return types.Blob{
		Name: b.Rename(".jpg"),
		MIME: "image/jpeg",
		Data: buf.Bytes(),
	}, nil
}
