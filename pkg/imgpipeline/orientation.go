// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package imgpipeline

import (
	"image"
)

// applyOrientation maps the stored pixel grid through the standard 8-value
// EXIF orientation table so the returned buffer matches visual orientation.
// Orientation 1 (or anything out of range) returns the input unchanged.
//
//	1: normal          5: transpose (flip + 90 CW)
//	2: flip horizontal 6: rotate 90 CW
//	3: rotate 180      7: transverse (flip + 90 CCW)
//	4: flip vertical   8: rotate 90 CCW
func applyOrientation(img image.Image, orientation int) image.Image {
	if orientation <= 1 || orientation > 8 {
		return img
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	var dst *image.NRGBA
	if orientation >= 5 {
		dst = image.NewNRGBA(image.Rect(0, 0, h, w))
	} else {
		dst = image.NewNRGBA(image.Rect(0, 0, w, h))
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := img.At(b.Min.X+x, b.Min.Y+y)
			var dx, dy int
			switch orientation {
			case 2: // mirror horizontal
				dx, dy = w-1-x, y
			case 3: // rotate 180
				dx, dy = w-1-x, h-1-y
			case 4: // mirror vertical
				dx, dy = x, h-1-y
			case 5: // mirror horizontal + rotate 90 CW
				dx, dy = y, x
			case 6: // rotate 90 CW
				dx, dy = h-1-y, x
			case 7: // mirror horizontal + rotate 90 CCW
				dx, dy = h-1-y, w-1-x
			case 8: // rotate 90 CCW
				dx, dy = y, w-1-x
			}
			dst.Set(dx, dy, c)
		}
	}
	return dst
}
