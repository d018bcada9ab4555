// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package engine

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	"github.com/pdiddy/convert-engine/internal/pdfdoc"
)

// embedPage places img on a single page. The bitmap is flattened onto
// white and re-encoded as a JPEG intermediate before embedding.
func (w *Worker) embedPage(img image.Image, report progressFunc) ([]byte, error) {
	author, err := w.authors.Author()
	if err != nil {
		return nil, wrap(ErrDependency, "acquiring document author", err)
	}

	surface := drawSurface(img, color.White)
	var buf bytes.Buffer
	opts := &jpeg.Options{Quality: percent(w.cfg.IntermediateQuality)}
	if err := jpeg.Encode(&buf, surface, opts); err != nil {
		return nil, wrap(ErrEncode, "encoding page image", err)
	}
	report(ProgressRendered)

	b := surface.Bounds()
	out, err := author.SinglePage(pdfdoc.Image{JPEG: buf.Bytes(), Width: b.Dx(), Height: b.Dy()})
	if err != nil {
		return nil, wrap(ErrEncode, "embedding page", err)
	}
	return out, nil
}

const svgWrapper = `<svg xmlns="http://www.w3.org/2000/svg" xmlns:xlink="http://www.w3.org/1999/xlink" ` +
	`width="%[1]d" height="%[2]d" viewBox="0 0 %[1]d %[2]d">` +
	`<image width="%[1]d" height="%[2]d" xlink:href="data:image/png;base64,%[3]s"/></svg>`

// wrapInSVG returns an SVG document that displays img as an embedded PNG at
// its natural size. No tracing is attempted.
func wrapInSVG(img image.Image) ([]byte, error) {
	surface := drawSurface(img, nil)
	var buf bytes.Buffer
	if err := png.Encode(&buf, surface); err != nil {
		return nil, wrap(ErrEncode, "encoding embedded png", err)
	}
	b := surface.Bounds()
	encoded := base64.StdEncoding.EncodeToString(buf.Bytes())
	return fmt.Appendf(nil, svgWrapper, b.Dx(), b.Dy(), encoded), nil
}
