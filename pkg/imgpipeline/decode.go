// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package imgpipeline

import (
	"bytes"
	"image"
	"image/gif"

	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder

	_ "github.com/gen2brain/avif" // register AVIF decoder
	_ "github.com/gen2brain/heic" // register HEIF decoder
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/webp" // register WebP decoder
)

// maxSideLen is the largest accepted width or height.
const maxSideLen = 10_000

// minSideLen is the smallest accepted width or height.
const minSideLen = 100

// Decoder turns downloaded bytes into a DecodedImage, defending against
// malformed input and decompression bombs before committing to a full pixel
// decode. Animated inputs decode frame 0 only.
type Decoder struct {
	// MaxPixels caps width*height, checked against the header before the
	// pixel decode runs.
	MaxPixels int
}

// Decode validates, decodes, and orientation-corrects b.
func (d *Decoder) Decode(b []byte) (*DecodedImage, error) {
	format := sniffFormat(b)
	switch format {
	case "":
		return nil, stageErr(KindInvalidFormat, "", "unrecognized image header")
	case "bmp", "tiff", "ico":
		return nil, stageErr(KindUnsupportedFormat, "", "format %s is not supported", format)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(b))
	if err != nil {
		return nil, wrapErr(KindCorruptedImage, "", err)
	}

	if cfg.Width > maxSideLen || cfg.Height > maxSideLen {
		return nil, stageErr(KindDecompressionBomb, "", "declared size %dx%d exceeds %d per side", cfg.Width, cfg.Height, maxSideLen)
	}
	maxPixels := d.MaxPixels
	if maxPixels <= 0 {
		maxPixels = 100_000_000
	}
	if cfg.Width*cfg.Height > maxPixels {
		return nil, stageErr(KindDecompressionBomb, "", "declared pixel count %d exceeds cap %d", cfg.Width*cfg.Height, maxPixels)
	}
	if cfg.Width < minSideLen || cfg.Height < minSideLen {
		return nil, stageErr(KindInvalidFormat, "", "image %dx%d below minimum %dx%d", cfg.Width, cfg.Height, minSideLen, minSideLen)
	}

	var (
		img        image.Image
		isAnimated bool
		frameCount = 1
	)
	switch format {
	case "gif":
		// gif.Decode stops after frame 0, so a many-frame GIF never
		// expands past one frame of pixels. The count comes from a
		// block-structure scan that skips pixel data entirely.
		img, err = gif.Decode(bytes.NewReader(b))
		if err != nil {
			return nil, wrapErr(KindCorruptedImage, "", err)
		}
		frameCount = countGIFFrames(b)
		isAnimated = frameCount > 1
	case "webp":
		isAnimated = webpAnimated(b)
		img, _, err = image.Decode(bytes.NewReader(b))
		if err != nil {
			return nil, wrapErr(KindCorruptedImage, "", err)
		}
		if isAnimated {
			frameCount = 2 // at least; the container does not say without a full parse
		}
	default:
		img, _, err = image.Decode(bytes.NewReader(b))
		if err != nil {
			return nil, wrapErr(KindCorruptedImage, "", err)
		}
	}

	if o := exifOrientation(b); o > 1 {
		img = applyOrientation(img, o)
	}

	bounds := img.Bounds()
	return &DecodedImage{
		Pixels:     img,
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		ColorMode:  colorModeOf(img),
		Format:     format,
		IsAnimated: isAnimated,
		FrameCount: frameCount,
	}, nil
}

// sniffFormat identifies the container from magic bytes. Returns "" when the
// header matches nothing known.
func sniffFormat(b []byte) string {
	switch {
	case len(b) >= 3 && b[0] == 0xFF && b[1] == 0xD8 && b[2] == 0xFF:
		return "jpeg"
	case len(b) >= 8 && bytes.Equal(b[:8], []byte("\x89PNG\r\n\x1a\n")):
		return "png"
	case len(b) >= 6 && (bytes.Equal(b[:6], []byte("GIF87a")) || bytes.Equal(b[:6], []byte("GIF89a"))):
		return "gif"
	case len(b) >= 12 && bytes.Equal(b[:4], []byte("RIFF")) && bytes.Equal(b[8:12], []byte("WEBP")):
		return "webp"
	case len(b) >= 12 && bytes.Equal(b[4:8], []byte("ftyp")):
		brand := string(b[8:12])
		switch brand {
		case "avif", "avis":
			return "avif"
		case "heic", "heix", "hevc", "hevx", "heif", "mif1", "msf1":
			return "heif"
		}
		return ""
	case len(b) >= 2 && b[0] == 'B' && b[1] == 'M':
		return "bmp"
	case len(b) >= 4 && (bytes.Equal(b[:4], []byte("II*\x00")) || bytes.Equal(b[:4], []byte("MM\x00*"))):
		return "tiff"
	case len(b) >= 4 && bytes.Equal(b[:4], []byte{0x00, 0x00, 0x01, 0x00}):
		return "ico"
	}
	return ""
}

// countGIFFrames counts image descriptors by walking the GIF block
// structure. LZW pixel data is skipped, never decoded.
func countGIFFrames(b []byte) int {
	// Header (6) plus logical screen descriptor (7).
	if len(b) < 13 {
		return 1
	}
	pos := 13
	if b[10]&0x80 != 0 {
		pos += 3 * (2 << (b[10] & 0x07)) // global color table
	}

	frames := 0
	for pos < len(b) {
		switch b[pos] {
		case 0x2C: // image descriptor
			frames++
			if pos+10 > len(b) {
				return frames
			}
			packed := b[pos+9]
			pos += 10
			if packed&0x80 != 0 {
				pos += 3 * (2 << (packed & 0x07)) // local color table
			}
			pos++ // LZW minimum code size
			pos = skipGIFSubBlocks(b, pos)
		case 0x21: // extension: introducer, label, then sub-blocks
			pos = skipGIFSubBlocks(b, pos+2)
		default: // trailer or junk
			if frames == 0 {
				return 1
			}
			return frames
		}
	}
	if frames == 0 {
		return 1
	}
	return frames
}

// skipGIFSubBlocks advances past a chain of length-prefixed sub-blocks,
// including the zero terminator.
func skipGIFSubBlocks(b []byte, pos int) int {
	for pos < len(b) {
		n := int(b[pos])
		pos++
		if n == 0 {
			return pos
		}
		pos += n
	}
	return pos
}

// webpAnimated reads the VP8X animation bit. Still images either lack the
// VP8X chunk or carry the bit cleared.
func webpAnimated(b []byte) bool {
	// RIFF(4) size(4) WEBP(4) then first chunk header.
	if len(b) < 21 || !bytes.Equal(b[12:16], []byte("VP8X")) {
		return false
	}
	return b[20]&0x02 != 0
}

// exifOrientation extracts the EXIF orientation tag, or 0 when absent.
func exifOrientation(b []byte) int {
	x, err := exif.Decode(bytes.NewReader(b))
	if err != nil {
		return 0
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 0
	}
	o, err := tag.Int(0)
	if err != nil {
		return 0
	}
	return o
}

// colorModeOf reports the PIL-style color mode of a decoded Go image.
func colorModeOf(img image.Image) string {
	switch im := img.(type) {
	case *image.Gray, *image.Gray16:
		return "L"
	case *image.Paletted:
		return "P"
	case *image.CMYK:
		return "CMYK"
	case *image.YCbCr:
		return "RGB"
	case *image.NYCbCrA:
		if im.Opaque() {
			return "RGB"
		}
		return "RGBA"
	case *image.NRGBA:
		if im.Opaque() {
			return "RGB"
		}
		return "RGBA"
	case *image.NRGBA64:
		if im.Opaque() {
			return "RGB"
		}
		return "RGBA"
	case *image.RGBA:
		if im.Opaque() {
			return "RGB"
		}
		return "RGBA"
	case *image.RGBA64:
		if im.Opaque() {
			return "RGB"
		}
		return "RGBA"
	default:
		return "RGB"
	}
}
