package compositor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"slidecast/audiograph"
)

// Canvas is the default Surface: an RGBA image cleared to black.
type Canvas struct {
	img *image.RGBA
}

// NewCanvas allocates a w x h canvas.
func NewCanvas(w, h int) (Surface, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid canvas size %dx%d", w, h)
	}
	return &Canvas{img: image.NewRGBA(image.Rect(0, 0, w, h))}, nil
}

func (c *Canvas) Clear() {
	draw.Draw(c.img, c.img.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
}

// DrawImage copies img into dst, scaling only when the sizes differ.
func (c *Canvas) DrawImage(img image.Image, dst image.Rectangle) {
	if dst.Empty() {
		return
	}
	if img.Bounds().Size() == dst.Size() {
		draw.Draw(c.img, dst, img, img.Bounds().Min, draw.Over)
		return
	}
	draw.CatmullRom.Scale(c.img, dst, img, img.Bounds(), draw.Over, nil)
}

func (c *Canvas) Frame() image.Image { return c.img }

// FitRect letterboxes or pillarboxes a srcW x srcH image inside dstW x dstH:
// scale = min(dstW/srcW, dstH/srcH), centered. Each side is at least one
// pixel so extreme ratios stay visible.
func FitRect(srcW, srcH, dstW, dstH int) image.Rectangle {
	if srcW <= 0 || srcH <= 0 || dstW <= 0 || dstH <= 0 {
		return image.Rectangle{}
	}
	scale := math.Min(float64(dstW)/float64(srcW), float64(dstH)/float64(srcH))
	w := min(max(int(math.Round(float64(srcW)*scale)), 1), dstW)
	h := min(max(int(math.Round(float64(srcH)*scale)), 1), dstH)
	x := (dstW - w) / 2
	y := (dstH - h) / 2
	return image.Rect(x, y, x+w, y+h)
}

// scaleToFit resamples img once to its fitted size so per-frame draws are
// plain copies.
func scaleToFit(img image.Image, w, h int) (image.Image, image.Rectangle) {
	b := img.Bounds()
	rect := FitRect(b.Dx(), b.Dy(), w, h)
	if rect.Empty() || rect.Size() == b.Size() {
		return img, rect
	}
	scaled := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, b, draw.Src, nil)
	return scaled, rect
}

// StdImageDecoder decodes PNG, JPEG and WebP.
type StdImageDecoder struct{}

func (StdImageDecoder) DecodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return img, nil
}

// WAVDecoder accepts only 16-bit PCM WAV already in the context format.
type WAVDecoder struct{}

func (WAVDecoder) DecodeAudio(_ context.Context, data []byte, sampleRate, channels int) (*audiograph.Buffer, error) {
	buf, err := audiograph.DecodeWAV(data)
	if err != nil {
		return nil, err
	}
	if buf.SampleRate != sampleRate || buf.Channels != channels {
		return nil, fmt.Errorf("%w: got %d Hz/%d ch, want %d Hz/%d ch",
			audiograph.ErrFormatMismatch, buf.SampleRate, buf.Channels, sampleRate, channels)
	}
	return buf, nil
}
