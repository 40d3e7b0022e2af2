// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package imgpipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"image"
	"image/color"
	"testing"
)

func TestExtractMetadata(t *testing.T) {
	raw := encodePNG(t, testImage(t, 200, 100, 1))
	img := mustDecode(t, raw)

	meta := ExtractMetadata("https://scontent.cdninstagram.com/a.png", raw, img)

	sum := sha256.Sum256(raw)
	if meta.SHA256 != hex.EncodeToString(sum[:]) {
		t.Errorf("sha256 = %s, want hash of raw bytes", meta.SHA256)
	}
	if meta.Width != 200 || meta.Height != 100 {
		t.Errorf("size = %dx%d, want 200x100", meta.Width, meta.Height)
	}
	if !almostEqual(meta.AspectRatio, 2.0) {
		t.Errorf("aspect ratio = %v, want 2.0", meta.AspectRatio)
	}
	if meta.FileSizeBytes != int64(len(raw)) {
		t.Errorf("file size = %d, want %d", meta.FileSizeBytes, len(raw))
	}
	if meta.Format != "png" {
		t.Errorf("format = %q, want png", meta.Format)
	}
	if meta.EXIF != nil {
		t.Errorf("plain png should carry no EXIF, got %+v", meta.EXIF)
	}
	if meta.PHash == 0 {
		t.Error("phash not computed")
	}
}

func TestPHashStability(t *testing.T) {
	raw := encodeJPEG(t, testImage(t, 200, 200, 9), 90)

	a := ExtractMetadata("u", raw, mustDecode(t, raw))
	b := ExtractMetadata("u", raw, mustDecode(t, raw))
	if a.PHash != b.PHash {
		t.Errorf("same bytes produced different hashes: %#x vs %#x", a.PHash, b.PHash)
	}
}

func TestPHashDistinguishesOpposites(t *testing.T) {
	top := image.NewNRGBA(image.Rect(0, 0, 128, 128))
	bottom := image.NewNRGBA(image.Rect(0, 0, 128, 128))
	for y := 0; y < 128; y++ {
		for x := 0; x < 128; x++ {
			if y < 64 {
				top.SetNRGBA(x, y, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
				bottom.SetNRGBA(x, y, color.NRGBA{A: 255})
			} else {
				top.SetNRGBA(x, y, color.NRGBA{A: 255})
				bottom.SetNRGBA(x, y, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
			}
		}
	}

	rawTop := encodePNG(t, top)
	rawBottom := encodePNG(t, bottom)
	a := ExtractMetadata("a", rawTop, mustDecode(t, rawTop))
	b := ExtractMetadata("b", rawBottom, mustDecode(t, rawBottom))

	if sim := HashSimilarity(a.PHash, b.PHash); sim >= 0.85 {
		t.Errorf("opposite images similarity = %v, want below dedup threshold", sim)
	}
}

func TestExtractMetadataTransparency(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 100, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 200, A: uint8(x * 2)})
		}
	}
	raw := encodePNG(t, img)
	meta := ExtractMetadata("u", raw, mustDecode(t, raw))
	if !meta.HasTransparency {
		t.Error("alpha-carrying png should report transparency")
	}

	rawOpaque := encodePNG(t, testImage(t, 100, 100, 1))
	metaOpaque := ExtractMetadata("u", rawOpaque, mustDecode(t, rawOpaque))
	if metaOpaque.HasTransparency {
		t.Error("opaque png should not report transparency")
	}
}

func TestExtractMetadataEXIFOrientation(t *testing.T) {
	raw := exifJPEG(t, encodeJPEG(t, testImage(t, 140, 100, 2), 90), 6)
	meta := ExtractMetadata("u", raw, mustDecode(t, raw))

	if meta.EXIF == nil {
		t.Fatal("EXIF block expected")
	}
	if meta.EXIF.Orientation != 6 {
		t.Errorf("orientation = %d, want 6", meta.EXIF.Orientation)
	}
	if meta.EXIF.GPS != nil {
		t.Errorf("no GPS tags present, got %+v", meta.EXIF.GPS)
	}
}

func TestGPSToDecimal(t *testing.T) {
	cases := []struct {
		d, m, s, want float64
	}{
		{37, 30, 36, 37.51},
		{0, 0, 0, 0},
		{127, 2, 24, 127.04},
		{51, 30, 0, 51.5},
	}
	for _, tc := range cases {
		if got := gpsToDecimal(tc.d, tc.m, tc.s); !almostEqual(got, tc.want) {
			t.Errorf("gpsToDecimal(%v,%v,%v) = %v, want %v", tc.d, tc.m, tc.s, got, tc.want)
		}
	}
}
