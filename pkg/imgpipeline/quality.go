// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package imgpipeline

import (
	"image"
	"math"
)

// Score weights. Overall is the weighted sum of the six sub-scores.
const (
	weightResolution  = 0.25
	weightSharpness   = 0.25
	weightBrightness  = 0.15
	weightContrast    = 0.15
	weightColorful    = 0.10
	weightCompression = 0.10
)

// edgeThreshold is the absolute Laplacian response above which a pixel
// counts toward edge density.
const edgeThreshold = 25.0

// Analyzer computes quality metrics from decoded pixels and the encoded
// byte length. The zero value is ready to use.
type Analyzer struct{}

// Analyze scores one decoded image. Grayscale inputs (color mode L, LA or 1)
// get the fixed 0.5 colorfulness score.
func (Analyzer) Analyze(d *DecodedImage, fileSize int64) QualityMetrics {
	st := analyzePixels(d.Pixels)

	isGray := d.ColorMode == "L" || d.ColorMode == "LA" || d.ColorMode == "1"

	pixels := d.Width * d.Height
	m := QualityMetrics{
		Resolution:         resolutionScore(pixels),
		Sharpness:          sharpnessScore(st.lapVariance),
		Brightness:         brightnessScore(st.grayMean),
		Contrast:           contrastScore(st.grayStd),
		CompressionQuality: compressionScore(float64(fileSize) / float64(pixels)),

		BlurLaplacianVariance: st.lapVariance,
		EdgeDensity:           st.edgeDensity,
		DynamicRange:          st.dynamicRange,
	}
	if isGray {
		m.Colorfulness = 0.5
	} else {
		m.Colorfulness = clamp01(st.colorfulness / 100)
	}

	m.Resolution = clamp01(m.Resolution)
	m.Sharpness = clamp01(m.Sharpness)
	m.Brightness = clamp01(m.Brightness)
	m.Contrast = clamp01(m.Contrast)
	m.CompressionQuality = clamp01(m.CompressionQuality)

	m.Overall = clamp01(weightResolution*m.Resolution +
		weightSharpness*m.Sharpness +
		weightBrightness*m.Brightness +
		weightContrast*m.Contrast +
		weightColorful*m.Colorfulness +
		weightCompression*m.CompressionQuality)
	return m
}

// resolutionScore maps total pixel count to a banded score.
func resolutionScore(pixels int) float64 {
	switch {
	case pixels >= 1920*1080:
		return 1.0
	case pixels >= 1280*720:
		return 0.8
	case pixels >= 640*480:
		return 0.5
	case pixels >= 320*240:
		return 0.3
	default:
		return 0.1
	}
}

// sharpnessScore maps Laplacian variance to a piecewise-linear score.
func sharpnessScore(v float64) float64 {
	switch {
	case v >= 500:
		return 1.0
	case v >= 100:
		return 0.7 + (v-100)/400*0.3
	case v >= 50:
		return 0.5 + (v-50)/50*0.2
	default:
		return v / 50 * 0.5
	}
}

// brightnessScore maps the grayscale mean to a score peaking in [100,160].
func brightnessScore(mu float64) float64 {
	switch {
	case mu >= 100 && mu <= 160:
		return 1.0
	case mu >= 80 && mu < 100:
		return 0.7 + (mu-80)/20*0.3
	case mu > 160 && mu <= 180:
		return 1.0 - (mu-160)/20*0.3
	case mu < 80:
		return mu / 80 * 0.7
	default: // mu > 180
		return math.Max(0.3, 1.0-(mu-180)/75*0.7)
	}
}

// contrastScore maps the grayscale standard deviation to a banded score.
func contrastScore(sigma float64) float64 {
	switch {
	case sigma >= 50:
		return 1.0
	case sigma >= 30:
		return 0.7 + (sigma-30)/20*0.3
	case sigma >= 15:
		return 0.4 + (sigma-15)/15*0.3
	default:
		return sigma / 15 * 0.4
	}
}

// compressionScore maps bytes-per-pixel to a score. The comfortable band is
// [0.5, 3.0] bpp; lower suggests over-compression, higher bloat.
func compressionScore(bpp float64) float64 {
	switch {
	case bpp >= 0.5 && bpp <= 3.0:
		return 1.0
	case bpp < 0.5:
		return math.Max(0.3, bpp/0.5*0.7+0.3)
	default:
		return math.Max(0.5, 1.0-(bpp-3)/5*0.5)
	}
}

// pixelStats aggregates one pass over the pixel grid.
type pixelStats struct {
	grayMean     float64
	grayStd      float64
	lapVariance  float64
	edgeDensity  float64
	dynamicRange float64
	colorfulness float64
}

// analyzePixels computes grayscale statistics, Laplacian variance, and
// Hasler-Suesstrunk colorfulness in two passes over the image.
func analyzePixels(img image.Image) pixelStats {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return pixelStats{}
	}

	gray := make([]float64, w*h)

	var graySum float64
	var rgSum, rgSumSq float64
	var ybSum, ybSumSq float64
	grayMin, grayMax := 255.0, 0.0

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r16, g16, b16, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			r := float64(r16 >> 8)
			g := float64(g16 >> 8)
			bl := float64(b16 >> 8)

			// ITU-R 601 luma, matching the usual grayscale conversion.
			lum := 0.299*r + 0.587*g + 0.114*bl
			gray[y*w+x] = lum
			graySum += lum
			if lum < grayMin {
				grayMin = lum
			}
			if lum > grayMax {
				grayMax = lum
			}

			rg := r - g
			yb := 0.5*(r+g) - bl
			rgSum += rg
			rgSumSq += rg * rg
			ybSum += yb
			ybSumSq += yb * yb
		}
	}

	n := float64(w * h)
	mean := graySum / n

	// Variance from squared deviations; the sum-of-squares shortcut
	// cancels catastrophically on near-uniform images.
	var devSq float64
	for _, lum := range gray {
		d := lum - mean
		devSq += d * d
	}
	variance := devSq / n

	rgMean := rgSum / n
	rgVar := rgSumSq/n - rgMean*rgMean
	ybMean := ybSum / n
	ybVar := ybSumSq/n - ybMean*ybMean
	if rgVar < 0 {
		rgVar = 0
	}
	if ybVar < 0 {
		ybVar = 0
	}
	colorfulness := math.Sqrt(rgVar+ybVar) + 0.3*math.Sqrt(rgMean*rgMean+ybMean*ybMean)

	// Laplacian over interior pixels with the 4-neighbor kernel.
	var lapSum, lapSumSq float64
	var edgeCount int
	interior := 0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			lap := gray[(y-1)*w+x] + gray[(y+1)*w+x] + gray[y*w+x-1] + gray[y*w+x+1] - 4*gray[y*w+x]
			lapSum += lap
			lapSumSq += lap * lap
			if math.Abs(lap) > edgeThreshold {
				edgeCount++
			}
			interior++
		}
	}

	var lapVariance, edgeDensity float64
	if interior > 0 {
		lapMean := lapSum / float64(interior)
		lapVariance = lapSumSq/float64(interior) - lapMean*lapMean
		if lapVariance < 0 {
			lapVariance = 0
		}
		edgeDensity = float64(edgeCount) / float64(interior)
	}

	dynamicRange := 0.0
	if grayMax > grayMin {
		dynamicRange = (grayMax - grayMin) / 255
	}

	return pixelStats{
		grayMean:     mean,
		grayStd:      math.Sqrt(variance),
		lapVariance:  lapVariance,
		edgeDensity:  edgeDensity,
		dynamicRange: dynamicRange,
		colorfulness: colorfulness,
	}
}
