// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package engine

import (
	"sort"
	"strings"

	"github.com/pdiddy/convert-engine/pkg/types"
)

// sourceKind groups source media types by how they are decoded.
type sourceKind string

const (
	kindRaster   sourceKind = "raster"
	kindVector   sourceKind = "vector"
	kindDocument sourceKind = "document"
)

// classify picks the decode path for src. Anything that is not a vector
// image or a PDF takes the raster path, where an undecodable payload fails
// with ErrDecode.
func classify(src types.Blob) sourceKind {
	mime := strings.ToLower(src.MIME)
	switch {
	case mime == "image/svg+xml" || (mime == "" && src.Ext() == ".svg"):
		return kindVector
	case mime == "application/pdf" || (mime == "" && src.Ext() == ".pdf"):
		return kindDocument
	}
	return kindRaster
}

type routeKey struct {
	source sourceKind
	target types.Format
}

type transform struct {
	path string
	run  func(w *Worker, req types.ConversionRequest, report progressFunc) (types.Blob, error)
}

var routes = buildRoutes()

func buildRoutes() map[routeKey]transform {
	r := make(map[routeKey]transform)
	for _, f := range types.AllFormats() {
		switch {
		case f.Raster():
			r[routeKey{kindRaster, f}] = transform{"decode, draw, encode", rasterToRaster}
			r[routeKey{kindVector, f}] = transform{"rasterize, encode", vectorToRaster}
		case f == types.FormatPDF:
			r[routeKey{kindRaster, f}] = transform{"decode, jpeg intermediate, embed page", rasterToDocument}
			r[routeKey{kindVector, f}] = transform{"rasterize, jpeg intermediate, embed page", vectorToDocument}
		case f == types.FormatSVG:
			r[routeKey{kindRaster, f}] = transform{"decode, wrap as embedded image", rasterToVector}
			r[routeKey{kindVector, f}] = transform{"pass through", vectorIdentity}
		}
		r[routeKey{kindDocument, f}] = transform{"unsupported", documentUnsupported}
	}
	return r
}

func lookup(kind sourceKind, target types.Format) (transform, bool) {
	t, ok := routes[routeKey{kind, target}]
	return t, ok
}

// Route describes one supported (source kind, target) pair.
type Route struct {
	Source    string
	Target    types.Format
	Path      string
	Supported bool
}

// Routes lists the dispatch table, ordered by source kind then target.
func Routes() []Route {
	out := make([]Route, 0, len(routes))
	for k, t := range routes {
		out = append(out, Route{
			Source:    string(k.source),
			Target:    k.target,
			Path:      t.path,
			Supported: k.source != kindDocument,
		})
	}
	order := map[string]int{string(kindRaster): 0, string(kindVector): 1, string(kindDocument): 2}
	formatOrder := make(map[types.Format]int)
	for i, f := range types.AllFormats() {
		formatOrder[f] = i
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return order[out[i].Source] < order[out[j].Source]
		}
		return formatOrder[out[i].Target] < formatOrder[out[j].Target]
	})
	return out
}

func resultBlob(req types.ConversionRequest, data []byte) types.Blob {
	return types.Blob{
		Name: req.Source.Rename(req.Target.Extension()),
		MIME: req.Target.MIMEType(),
		Data: data,
	}
}

func rasterToRaster(w *Worker, req types.ConversionRequest, report progressFunc) (types.Blob, error) {
	img, err := decodeRaster(req.Source)
	if err != nil {
		return types.Blob{}, err
	}
	report(ProgressDecoded)

	data, err := w.encodeRaster(img, req.Target, req.Quality)
	if err != nil {
		return types.Blob{}, err
	}
	return resultBlob(req, data), nil
}

func rasterToDocument(w *Worker, req types.ConversionRequest, report progressFunc) (types.Blob, error) {
	img, err := decodeRaster(req.Source)
	if err != nil {
		return types.Blob{}, err
	}
	report(ProgressDecoded)

	data, err := w.embedPage(img, report)
	if err != nil {
		return types.Blob{}, err
	}
	return resultBlob(req, data), nil
}

func rasterToVector(_ *Worker, req types.ConversionRequest, report progressFunc) (types.Blob, error) {
	img, err := decodeRaster(req.Source)
	if err != nil {
		return types.Blob{}, err
	}
	report(ProgressDecoded)

	data, err := wrapInSVG(img)
	if err != nil {
		return types.Blob{}, err
	}
	return resultBlob(req, data), nil
}

func vectorToRaster(w *Worker, req types.ConversionRequest, report progressFunc) (types.Blob, error) {
	img, err := rasterizeVector(req.Source.Data, req.EffectiveScale(), report)
	if err != nil {
		return types.Blob{}, err
	}

	data, err := w.encodeRaster(img, req.Target, req.Quality)
	if err != nil {
		return types.Blob{}, err
	}
	return resultBlob(req, data), nil
}

func vectorToDocument(w *Worker, req types.ConversionRequest, report progressFunc) (types.Blob, error) {
	img, err := rasterizeVector(req.Source.Data, req.EffectiveScale(), report)
	if err != nil {
		return types.Blob{}, err
	}

	data, err := w.embedPage(img, report)
	if err != nil {
		return types.Blob{}, err
	}
	return resultBlob(req, data), nil
}

func vectorIdentity(_ *Worker, req types.ConversionRequest, report progressFunc) (types.Blob, error) {
	if _, err := parseSVGRoot(req.Source.Data); err != nil {
		return types.Blob{}, wrap(ErrDecode, "parsing svg", err)
	}
	report(ProgressDecoded)
	return resultBlob(req, req.Source.Clone().Data), nil
}

func documentUnsupported(_ *Worker, req types.ConversionRequest, _ progressFunc) (types.Blob, error) {
	return types.Blob{}, wrap(ErrUnsupported, "rasterizing pdf pages to "+string(req.Target), nil)
}
