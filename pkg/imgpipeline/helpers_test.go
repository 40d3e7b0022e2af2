// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package imgpipeline

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"testing"
)

// testImage builds a deterministic gradient-plus-noise image. The noise keeps
// sharpness and contrast high enough to clear the quality floor.
func testImage(t *testing.T, w, h int, seed int64) *image.NRGBA {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			n := uint8(rng.Intn(128))
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x*255/w)/2 + n,
				G: uint8(y*255/h)/2 + n,
				B: 128,
				A: 255,
			})
		}
	}
	return img
}

// flatImage builds a uniform mid-gray image; every score-driving statistic
// except brightness bottoms out.
func flatImage(t *testing.T, w, h int) *image.NRGBA {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 128, G: 128, B: 128, A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image, quality int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		t.Fatalf("jpeg encode: %v", err)
	}
	return buf.Bytes()
}

// mustDecode runs the default decoder and fails the test on error.
func mustDecode(t *testing.T, b []byte) *DecodedImage {
	t.Helper()
	d := &Decoder{}
	img, err := d.Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return img
}
