package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gen2brain/go-fitz"
)

var (
	ErrNotPDF        = errors.New("file is not a PDF document")
	ErrEmptyDocument = errors.New("PDF document has no pages")
)

// Page is one rasterized slide.
type Page struct {
	Number   int // 1-based
	Image    []byte
	MIMEType string
	Width    int
	Height   int
}

// Rasterizer renders a document into slide images.
type Rasterizer interface {
	Rasterize(ctx context.Context, pdf []byte) ([]Page, error)
}

// PDFRasterizer renders PDF pages to PNG with MuPDF.
type PDFRasterizer struct {
	DPI float64
}

// NewPDFRasterizer creates a rasterizer rendering at the given DPI
func NewPDFRasterizer(dpi int) *PDFRasterizer {
	if dpi <= 0 {
		dpi = 150
	}
	return &PDFRasterizer{DPI: float64(dpi)}
}

// IsPDF reports whether data looks like a PDF document
func IsPDF(data []byte) bool {
	return len(data) > 0 && mimetype.Detect(data).Is("application/pdf")
}

// Rasterize implements Rasterizer
func (r *PDFRasterizer) Rasterize(ctx context.Context, pdf []byte) ([]Page, error) {
	if !IsPDF(pdf) {
		return nil, ErrNotPDF
	}

	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	pageCount := doc.NumPage()
	if pageCount == 0 {
		return nil, ErrEmptyDocument
	}

	pages := make([]Page, 0, pageCount)
	for i := 0; i < pageCount; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		img, err := doc.ImageDPI(i, r.DPI)
		if err != nil {
			return nil, fmt.Errorf("failed to render page %d: %w", i+1, err)
		}

		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("failed to encode page %d as PNG: %w", i+1, err)
		}

		b := img.Bounds()
		pages = append(pages, Page{
			Number:   i + 1,
			Image:    buf.Bytes(),
			MIMEType: "image/png",
			Width:    b.Dx(),
			Height:   b.Dy(),
		})
	}
	return pages, nil
}
