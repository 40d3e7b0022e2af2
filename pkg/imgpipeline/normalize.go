// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package imgpipeline

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	xdraw "golang.org/x/image/draw"
)

// jpegQualityFloor is the lowest quality the encoder steps down to when an
// output size budget is set.
const jpegQualityFloor = 50

// Normalizer produces the canonical output form: opaque RGB pixels, max
// dimension clamped, encoded as JPEG.
type Normalizer struct {
	// MaxDim clamps the larger output dimension. Default 1024.
	MaxDim int

	// JPEGQuality is the initial encode quality. Default 85.
	JPEGQuality int

	// SizeBudget, when > 0, steps quality down by 10 (to a floor of 50)
	// until the encoded output fits.
	SizeBudget int64
}

// Normalize flattens img to opaque RGB and scales it down so the larger
// dimension is at most MaxDim. Aspect ratio is preserved up to integer
// rounding; images already within bounds are not resampled. Inputs so
// elongated that the scaled short side would drop below the decoder's
// minimum are rejected rather than emitted undersized.
func (n *Normalizer) Normalize(img image.Image) (image.Image, error) {
	flat := flattenToRGB(img)

	maxDim := n.MaxDim
	if maxDim <= 0 {
		maxDim = 1024
	}
	b := flat.Bounds()
	w, h := b.Dx(), b.Dy()
	longest := w
	if h > longest {
		longest = h
	}
	if longest <= maxDim {
		return flat, nil
	}

	scale := float64(maxDim) / float64(longest)
	nw := int(float64(w)*scale + 0.5)
	nh := int(float64(h)*scale + 0.5)
	shortest := nw
	if nh < shortest {
		shortest = nh
	}
	if shortest < minSideLen {
		return nil, stageErr(KindResizeFailed, "", "scaled size %dx%d falls below minimum side %d", nw, nh, minSideLen)
	}

	dst := image.NewNRGBA(image.Rect(0, 0, nw, nh))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), flat, b, xdraw.Src, nil)
	return dst, nil
}

// EncodeJPEG encodes img at the configured quality, stepping down when a
// size budget is set and exceeded.
func (n *Normalizer) EncodeJPEG(img image.Image) ([]byte, error) {
	quality := n.JPEGQuality
	if quality <= 0 {
		quality = 85
	}

	for {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, wrapErr(KindConversionFailed, "", err)
		}
		if n.SizeBudget <= 0 || int64(buf.Len()) <= n.SizeBudget || quality <= jpegQualityFloor {
			return buf.Bytes(), nil
		}
		quality -= 10
		if quality < jpegQualityFloor {
			quality = jpegQualityFloor
		}
	}
}

// flattenToRGB composites any alpha channel over a white background and
// converts every color mode to opaque RGB. Already-opaque NRGBA buffers
// pass through untouched.
func flattenToRGB(img image.Image) image.Image {
	if n, ok := img.(*image.NRGBA); ok && n.Opaque() {
		return n
	}

	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}
