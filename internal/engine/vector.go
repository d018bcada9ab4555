// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package engine

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"image"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// Size a vector image takes when it declares neither dimensions nor a
// viewBox.
const (
	fallbackWidth  = 300.0
	fallbackHeight = 150.0
)

// svgRoot holds the sizing attributes of the root <svg> element and the
// byte range of its start tag.
type svgRoot struct {
	width   string
	height  string
	viewBox string

	start, end int64
}

// parseSVGRoot scans data up to the first element, which must be <svg>.
func parseSVGRoot(data []byte) (svgRoot, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) {
		return input, nil
	}
	for {
		start := dec.InputOffset()
		tok, err := dec.Token()
		if err == io.EOF {
			return svgRoot{}, fmt.Errorf("no svg element found")
		}
		if err != nil {
			return svgRoot{}, err
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if se.Name.Local != "svg" {
			return svgRoot{}, fmt.Errorf("root element is <%s>, want <svg>", se.Name.Local)
		}

		root := svgRoot{start: start, end: dec.InputOffset()}
		for _, a := range se.Attr {
			if a.Name.Space != "" {
				continue
			}
			switch a.Name.Local {
			case "width":
				root.width = a.Value
			case "height":
				root.height = a.Value
			case "viewBox":
				root.viewBox = a.Value
			}
		}
		return root, nil
	}
}

// parseLength accepts a positive unitless or px length. Percentages and
// other units are treated as absent.
func parseLength(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasSuffix(s, "%") {
		return 0, false
	}
	s = strings.TrimSuffix(s, "px")
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v <= 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// parseViewBox returns the width and height of a "minx miny w h" viewBox.
func parseViewBox(s string) (float64, float64, bool) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	if len(fields) != 4 {
		return 0, 0, false
	}
	w, err := strconv.ParseFloat(fields[2], 64)
	if err != nil || w <= 0 {
		return 0, 0, false
	}
	h, err := strconv.ParseFloat(fields[3], 64)
	if err != nil || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}

// intrinsicSize resolves the natural size of the image. Explicit absolute
// dimensions win; a single explicit dimension keeps the viewBox aspect
// ratio; otherwise the viewBox size is used, then the fallback.
func (r svgRoot) intrinsicSize() (float64, float64) {
	w, h := fallbackWidth, fallbackHeight
	vbW, vbH, hasViewBox := parseViewBox(r.viewBox)
	if hasViewBox {
		w, h = vbW, vbH
	}

	ew, hasW := parseLength(r.width)
	eh, hasH := parseLength(r.height)
	switch {
	case hasW && hasH:
		w, h = ew, eh
	case hasW:
		if hasViewBox {
			h = ew * vbH / vbW
		}
		w = ew
	case hasH:
		if hasViewBox {
			w = eh * vbW / vbH
		}
		h = eh
	}
	return w, h
}

var sizeAttr = regexp.MustCompile(`\s(?:width|height)\s*=\s*(?:"[^"]*"|'[^']*')`)

// withSize returns data with the root start tag's width and height replaced
// by w and h.
func (r svgRoot) withSize(data []byte, w, h float64) []byte {
	tag := sizeAttr.ReplaceAll(data[r.start:r.end], nil)
	nameEnd := bytes.IndexAny(tag[1:], " \t\r\n/>") + 1
	if nameEnd <= 0 {
		nameEnd = len(tag)
	}
	attrs := fmt.Sprintf(` width="%s" height="%s"`, formatLength(w), formatLength(h))

	out := make([]byte, 0, len(data)+len(attrs))
	out = append(out, data[:r.start]...)
	out = append(out, tag[:nameEnd]...)
	out = append(out, attrs...)
	out = append(out, tag[nameEnd:]...)
	out = append(out, data[r.end:]...)
	return out
}

func formatLength(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// vectorImage is a parsed SVG ready to be drawn at a fixed pixel size.
type vectorImage struct {
	icon          *oksvg.SvgIcon
	width, height int
}

// loadVector parses data and resolves its pixel size at scale.
func loadVector(data []byte, scale int) (*vectorImage, error) {
	root, err := parseSVGRoot(data)
	if err != nil {
		return nil, wrap(ErrDecode, "parsing svg", err)
	}
	w, h := root.intrinsicSize()
	if scale < 1 {
		scale = 1
	}
	pw := max(1, int(math.Round(w*float64(scale))))
	ph := max(1, int(math.Round(h*float64(scale))))
	if pw*ph > maxSurfacePixels {
		return nil, wrap(ErrUnsupported, "allocating drawing surface",
			fmt.Errorf("%dx%d exceeds the surface limit", pw, ph))
	}

	icon, err := oksvg.ReadIconStream(bytes.NewReader(root.withSize(data, w, h)))
	if err != nil {
		return nil, wrap(ErrDecode, "parsing svg", err)
	}
	if icon.ViewBox.W <= 0 || icon.ViewBox.H <= 0 {
		icon.ViewBox.X, icon.ViewBox.Y = 0, 0
		icon.ViewBox.W, icon.ViewBox.H = w, h
	}
	return &vectorImage{icon: icon, width: pw, height: ph}, nil
}

// render draws the image onto a transparent surface.
func (v *vectorImage) render() (img *image.RGBA, err error) {
	defer func() {
		if r := recover(); r != nil {
			img, err = nil, wrap(ErrDecode, "rendering svg", fmt.Errorf("%v", r))
		}
	}()

	img = image.NewRGBA(image.Rect(0, 0, v.width, v.height))
	scanner := rasterx.NewScannerGV(v.width, v.height, img, img.Bounds())
	raster := rasterx.NewDasher(v.width, v.height, scanner)
	v.icon.SetTarget(0, 0, float64(v.width), float64(v.height))
	v.icon.Draw(raster, 1)
	return img, nil
}

// rasterizeVector parses and draws an SVG source, reporting the decoded and
// rendered checkpoints.
func rasterizeVector(data []byte, scale int, report progressFunc) (*image.RGBA, error) {
	v, err := loadVector(data, scale)
	if err != nil {
		return nil, err
	}
	report(ProgressDecoded)

	img, err := v.render()
	if err != nil {
		return nil, err
	}
	report(ProgressRendered)
	return img, nil
}
