// Package finishing turns an arbitrary model-generated image into the fixed
// deliverable: a square JPEG on a pure white background.
package finishing

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"

	"github.com/you-humble/amazonmain/api/internal/domain"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

type Options struct {
	Size            int
	Quality         int
	WhitenThreshold uint8
}

func DefaultOptions() Options {
	return Options{
		Size:            domain.OutputSize,
		Quality:         domain.JPEGQuality,
		WhitenThreshold: domain.WhitenThreshold,
	}
}

type Result struct {
	Data     []byte
	Width    int
	Height   int
	Whitened int
}

var white = color.NRGBA{R: 255, G: 255, B: 255, A: 255}

// Finish runs decode, canonicalize, whiten and encode. A failing stage aborts
// the whole run and no bytes are returned.
func Finish(data []byte, opts Options) (Result, error) {
	if opts.Size <= 0 {
		return Result{}, fmt.Errorf("%w: invalid output size %d", domain.ErrEncodingFailure, opts.Size)
	}

	src, err := Decode(data)
	if err != nil {
		return Result{}, err
	}

	canvas := Canonicalize(src, opts.Size)
	whitened := Whiten(canvas, opts.WhitenThreshold)

	var buf bytes.Buffer
	if err := Encode(&buf, canvas, opts.Quality); err != nil {
		return Result{}, err
	}

	return Result{
		Data:     buf.Bytes(),
		Width:    canvas.Bounds().Dx(),
		Height:   canvas.Bounds().Dy(),
		Whitened: whitened,
	}, nil
}

func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image payload", domain.ErrEncodingFailure)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %w", domain.ErrEncodingFailure, err)
	}
	return img, nil
}

// Canonicalize fits src inside a size×size opaque white canvas, preserving the
// aspect ratio and scaling up when src is smaller. Transparent regions end up
// white.
func Canonicalize(src image.Image, size int) *image.NRGBA {
	canvas := imaging.New(size, size, white)

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return canvas
	}

	fw, fh := fitInside(w, h, size)
	fitted := src
	if fw != w || fh != h {
		fitted = imaging.Resize(src, fw, fh, imaging.Lanczos)
	}

	out := imaging.OverlayCenter(canvas, fitted, 1.0)
	flatten(out)
	return out
}

// Whiten forces every pixel whose R, G and B are all >= threshold to pure
// white and returns how many pixels changed. Alpha is left alone.
func Whiten(img *image.NRGBA, threshold uint8) int {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	changed := 0

	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for i := 0; i < len(row); i += 4 {
			r, g, bl := row[i], row[i+1], row[i+2]
			if r < threshold || g < threshold || bl < threshold {
				continue
			}
			if r != 255 || g != 255 || bl != 255 {
				changed++
			}
			row[i], row[i+1], row[i+2] = 255, 255, 255
		}
	}

	return changed
}

func Encode(w io.Writer, img image.Image, quality int) error {
	if err := imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return fmt.Errorf("%w: jpeg: %w", domain.ErrEncodingFailure, err)
	}
	return nil
}

func fitInside(w, h, size int) (int, int) {
	if w >= h {
		return size, max(1, int(math.Round(float64(h)*float64(size)/float64(w))))
	}
	return max(1, int(math.Round(float64(w)*float64(size)/float64(h)))), size
}

// flatten drops any leftover alpha; the canvas is opaque so only rounding in
// the blend can leave a value below 255.
func flatten(img *image.NRGBA) {
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
}
