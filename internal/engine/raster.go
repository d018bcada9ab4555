// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package engine

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"math"

	"github.com/gen2brain/webp"
	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"

	"github.com/pdiddy/convert-engine/pkg/types"
)

// maxSurfacePixels bounds the drawing surfaces the worker allocates.
const maxSurfacePixels = 16384 * 16384

// webpMethod trades encode speed for size (0 fastest, 6 smallest).
const webpMethod = 4

type decoderFunc func(io.Reader) (image.Image, error)

// rasterDecoders maps source media types to decoders. HEIC is absent: it is
// normalized to JPEG before it reaches the worker.
var rasterDecoders = map[string]decoderFunc{
	"image/jpeg": jpeg.Decode,
	"image/png":  png.Decode,
	"image/gif":  gif.Decode,
	"image/webp": webp.Decode,
	"image/bmp":  bmp.Decode,
	"image/tiff": tiff.Decode,
}

// decodeRaster decodes src at its natural size. The declared media type is
// used first; when no decoder matches it, the content is sniffed once more.
func decodeRaster(src types.Blob) (image.Image, error) {
	mime := src.MIME
	dec, ok := rasterDecoders[mime]
	if !ok {
		mime = types.DetectMIME(src.Name, src.Data)
		dec, ok = rasterDecoders[mime]
	}
	if !ok {
		return nil, wrap(ErrDecode, fmt.Sprintf("no decoder for %q", src.MIME), nil)
	}

	img, err := dec(bytes.NewReader(src.Data))
	if err != nil {
		return nil, wrap(ErrDecode, "decoding "+mime, err)
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, wrap(ErrDecode, "decoding "+mime, fmt.Errorf("image has no pixels"))
	}
	if b.Dx()*b.Dy() > maxSurfacePixels {
		return nil, wrap(ErrUnsupported, "allocating drawing surface",
			fmt.Errorf("%dx%d exceeds the surface limit", b.Dx(), b.Dy()))
	}
	return img, nil
}

// drawSurface copies img onto a fresh RGBA surface of the same size, with
// its origin at (0,0). A non-nil background is painted first and the image
// composited over it.
func drawSurface(img image.Image, background color.Color) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	op := draw.Src
	if background != nil {
		draw.Draw(dst, dst.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)
		op = draw.Over
	}
	draw.Draw(dst, dst.Bounds(), img, b.Min, op)
	return dst
}

// encodeRaster encodes img as target. quality is honored by lossy targets
// only; nil selects the configured default.
func (w *Worker) encodeRaster(img image.Image, target types.Format, quality *float64) ([]byte, error) {
	var buf bytes.Buffer
	switch target {
	case types.FormatJPG, types.FormatJFIF:
		surface := drawSurface(img, color.White)
		q := qualityOr(quality, w.cfg.JPEGQuality)
		if err := jpeg.Encode(&buf, surface, &jpeg.Options{Quality: percent(q)}); err != nil {
			return nil, wrap(ErrEncode, "encoding jpeg", err)
		}
	case types.FormatPNG:
		if err := png.Encode(&buf, drawSurface(img, nil)); err != nil {
			return nil, wrap(ErrEncode, "encoding png", err)
		}
	case types.FormatWebP:
		q := qualityOr(quality, w.cfg.WebPQuality)
		opts := webp.Options{Quality: percent(q), Method: webpMethod}
		if err := webp.Encode(&buf, drawSurface(img, nil), opts); err != nil {
			return nil, wrap(ErrEncode, "encoding webp", err)
		}
	default:
		return nil, wrap(ErrUnsupported, fmt.Sprintf("encoding %s as raster", target), nil)
	}
	if buf.Len() == 0 {
		return nil, wrap(ErrEncode, "encoding "+string(target), fmt.Errorf("encoder produced no data"))
	}
	return buf.Bytes(), nil
}

func qualityOr(q *float64, def float64) float64 {
	if q == nil {
		return def
	}
	return *q
}

// percent maps a [0,1] quality onto the 1..100 scale encoders expect.
func percent(q float64) int {
	p := int(math.Round(q * 100))
	return max(1, min(100, p))
}
