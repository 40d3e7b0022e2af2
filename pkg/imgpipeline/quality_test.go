// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package imgpipeline

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestResolutionScore(t *testing.T) {
	cases := []struct {
		name   string
		pixels int
		want   float64
	}{
		{"full hd", 1920 * 1080, 1.0},
		{"above full hd", 4000 * 3000, 1.0},
		{"hd", 1280 * 720, 0.8},
		{"just below full hd", 1920*1080 - 1, 0.8},
		{"vga", 640 * 480, 0.5},
		{"qvga", 320 * 240, 0.3},
		{"tiny", 100 * 100, 0.1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := resolutionScore(tc.pixels); !almostEqual(got, tc.want) {
				t.Errorf("resolutionScore(%d) = %v, want %v", tc.pixels, got, tc.want)
			}
		})
	}
}

func TestSharpnessScore(t *testing.T) {
	cases := []struct {
		v, want float64
	}{
		{500, 1.0},
		{1000, 1.0},
		{100, 0.7},
		{300, 0.7 + 200.0/400*0.3},
		{50, 0.5},
		{75, 0.5 + 25.0/50*0.2},
		{25, 25.0 / 50 * 0.5},
		{0, 0},
	}
	for _, tc := range cases {
		if got := sharpnessScore(tc.v); !almostEqual(got, tc.want) {
			t.Errorf("sharpnessScore(%v) = %v, want %v", tc.v, got, tc.want)
		}
	}
}

func TestBrightnessScore(t *testing.T) {
	cases := []struct {
		mu, want float64
	}{
		{100, 1.0},
		{130, 1.0},
		{160, 1.0},
		{80, 0.7},
		{90, 0.7 + 10.0/20*0.3},
		{170, 1.0 - 10.0/20*0.3},
		{180, 0.7},
		{40, 40.0 / 80 * 0.7},
		{0, 0},
		{255, math.Max(0.3, 1.0-75.0/75*0.7)},
	}
	for _, tc := range cases {
		if got := brightnessScore(tc.mu); !almostEqual(got, tc.want) {
			t.Errorf("brightnessScore(%v) = %v, want %v", tc.mu, got, tc.want)
		}
	}
}

func TestContrastScore(t *testing.T) {
	cases := []struct {
		sigma, want float64
	}{
		{50, 1.0},
		{100, 1.0},
		{30, 0.7},
		{40, 0.7 + 10.0/20*0.3},
		{15, 0.4},
		{22.5, 0.4 + 7.5/15*0.3},
		{7.5, 7.5 / 15 * 0.4},
		{0, 0},
	}
	for _, tc := range cases {
		if got := contrastScore(tc.sigma); !almostEqual(got, tc.want) {
			t.Errorf("contrastScore(%v) = %v, want %v", tc.sigma, got, tc.want)
		}
	}
}

func TestCompressionScore(t *testing.T) {
	cases := []struct {
		bpp, want float64
	}{
		{0.5, 1.0},
		{1.5, 1.0},
		{3.0, 1.0},
		{0.25, math.Max(0.3, 0.25/0.5*0.7+0.3)},
		{0, 0.3},
		{5.0, 1.0 - 2.0/5*0.5},
		{100, 0.5},
	}
	for _, tc := range cases {
		if got := compressionScore(tc.bpp); !almostEqual(got, tc.want) {
			t.Errorf("compressionScore(%v) = %v, want %v", tc.bpp, got, tc.want)
		}
	}
}

func TestAnalyzeOverallIsWeightedSum(t *testing.T) {
	img := testImage(t, 320, 240, 7)
	d := &DecodedImage{Pixels: img, Width: 320, Height: 240, ColorMode: "RGB", Format: "png"}

	m := Analyzer{}.Analyze(d, 40_000)

	want := 0.25*m.Resolution + 0.25*m.Sharpness + 0.15*m.Brightness +
		0.15*m.Contrast + 0.10*m.Colorfulness + 0.10*m.CompressionQuality
	if !almostEqual(m.Overall, clamp01(want)) {
		t.Errorf("Overall = %v, want weighted sum %v", m.Overall, want)
	}

	for name, v := range map[string]float64{
		"overall":     m.Overall,
		"resolution":  m.Resolution,
		"sharpness":   m.Sharpness,
		"brightness":  m.Brightness,
		"contrast":    m.Contrast,
		"colorful":    m.Colorfulness,
		"compression": m.CompressionQuality,
	} {
		if v < 0 || v > 1 {
			t.Errorf("%s = %v, out of [0,1]", name, v)
		}
	}
}

func TestAnalyzeGrayscaleColorfulness(t *testing.T) {
	img := flatImage(t, 120, 120)
	d := &DecodedImage{Pixels: img, Width: 120, Height: 120, ColorMode: "L", Format: "jpeg"}

	m := Analyzer{}.Analyze(d, 5_000)
	if m.Colorfulness != 0.5 {
		t.Errorf("grayscale colorfulness = %v, want 0.5", m.Colorfulness)
	}
}

func TestAnalyzeFlatImage(t *testing.T) {
	img := flatImage(t, 120, 120)
	d := &DecodedImage{Pixels: img, Width: 120, Height: 120, ColorMode: "RGB", Format: "png"}

	// Uniform pixels leave only float rounding behind, so the statistics
	// are compared with a tolerance rather than exact zero.
	m := Analyzer{}.Analyze(d, 500)
	if !almostEqual(m.Sharpness, 0) {
		t.Errorf("flat image sharpness = %v, want 0", m.Sharpness)
	}
	if !almostEqual(m.Contrast, 0) {
		t.Errorf("flat image contrast = %v, want 0", m.Contrast)
	}
	if m.Brightness != 1.0 {
		t.Errorf("mid-gray brightness = %v, want 1.0", m.Brightness)
	}
	if !almostEqual(m.Colorfulness, 0) {
		t.Errorf("flat gray-pixel colorfulness = %v, want 0", m.Colorfulness)
	}
	if m.DynamicRange != 0 {
		t.Errorf("flat image dynamic range = %v, want 0", m.DynamicRange)
	}
}

func TestAnalyzeNoisyBeatsFlat(t *testing.T) {
	noisy := &DecodedImage{Pixels: testImage(t, 320, 240, 3), Width: 320, Height: 240, ColorMode: "RGB"}
	flat := &DecodedImage{Pixels: flatImage(t, 320, 240), Width: 320, Height: 240, ColorMode: "RGB"}

	a := Analyzer{}
	if na, fa := a.Analyze(noisy, 60_000), a.Analyze(flat, 60_000); na.Overall <= fa.Overall {
		t.Errorf("noisy overall %v should beat flat overall %v", na.Overall, fa.Overall)
	}
}
