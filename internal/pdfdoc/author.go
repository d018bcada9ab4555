// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pdfdoc provides the document-authoring capability the engine uses
// to embed a bitmap into a single-page PDF. The capability is an interface
// injected into the engine; the fpdf-backed implementation is linked in
// statically and acquired through a Loader.
package pdfdoc

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"
)

// A4 portrait, in millimetres.
const (
	A4WidthMM  = 210.0
	A4HeightMM = 297.0
)

// Image is a JPEG-encoded bitmap with its pixel dimensions.
type Image struct {
	JPEG   []byte
	Width  int
	Height int
}

// Author builds documents from bitmaps.
type Author interface {
	// SinglePage returns the bytes of a one-page PDF showing img fitted to
	// the page.
	SinglePage(img Image) ([]byte, error)
}

// Placement positions an image on a page, in page units.
type Placement struct {
	X, Y, W, H float64
}

// FitToPage scales an imgW x imgH bitmap to the largest size that fits the
// page without distortion and centers it.
func FitToPage(imgW, imgH, pageW, pageH float64) Placement {
	if imgW <= 0 || imgH <= 0 {
		return Placement{W: pageW, H: pageH}
	}
	scale := min(pageW/imgW, pageH/imgH)
	w, h := imgW*scale, imgH*scale
	return Placement{X: (pageW - w) / 2, Y: (pageH - h) / 2, W: w, H: h}
}

// FPDF implements Author with go-pdf/fpdf.
type FPDF struct {
	pageW, pageH float64
	// created is stamped into the document; fixed so output is reproducible.
	created time.Time
}

// NewFPDF returns an Author producing pages of the given size in
// millimetres. Non-positive sizes select A4.
func NewFPDF(pageWidthMM, pageHeightMM float64) *FPDF {
	if pageWidthMM <= 0 || pageHeightMM <= 0 {
		pageWidthMM, pageHeightMM = A4WidthMM, A4HeightMM
	}
	return &FPDF{
		pageW:   pageWidthMM,
		pageH:   pageHeightMM,
		created: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// PageSize returns the page dimensions in millimetres.
func (a *FPDF) PageSize() (w, h float64) {
	return a.pageW, a.pageH
}

// SinglePage embeds img into a new one-page document.
func (a *FPDF) SinglePage(img Image) ([]byte, error) {
	if len(img.JPEG) == 0 {
		return nil, errors.New("empty image")
	}

	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "mm",
		Size:           fpdf.SizeType{Wd: a.pageW, Ht: a.pageH},
	})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetCreationDate(a.created)
	pdf.SetCreator("convert-engine", false)
	pdf.AddPage()

	opts := fpdf.ImageOptions{ImageType: "JPG"}
	pdf.RegisterImageOptionsReader("page", opts, bytes.NewReader(img.JPEG))
	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("registering image: %w", err)
	}

	p := FitToPage(float64(img.Width), float64(img.Height), a.pageW, a.pageH)
	pdf.ImageOptions("page", p.X, p.Y, p.W, p.H, false, opts, 0, "")

	var out bytes.Buffer
	if err := pdf.Output(&out); err != nil {
		return nil, fmt.Errorf("writing document: %w", err)
	}
	return out.Bytes(), nil
}
