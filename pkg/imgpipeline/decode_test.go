// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package imgpipeline

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color/palette"
	"image/gif"
	"testing"
)

// pngHeader builds a syntactically valid PNG signature plus IHDR chunk
// declaring the given dimensions. Enough for DecodeConfig; there is no pixel
// data behind it.
func pngHeader(t *testing.T, width, height uint32) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")

	data := make([]byte, 13)
	binary.BigEndian.PutUint32(data[0:4], width)
	binary.BigEndian.PutUint32(data[4:8], height)
	data[8] = 8 // bit depth
	data[9] = 2 // color type: truecolor
	// compression, filter, interlace: 0

	var length [4]byte
	binary.BigEndian.PutUint32(length[:], 13)
	buf.Write(length[:])
	buf.WriteString("IHDR")
	buf.Write(data)

	crc := crc32.NewIEEE()
	crc.Write([]byte("IHDR"))
	crc.Write(data)
	var sum [4]byte
	binary.BigEndian.PutUint32(sum[:], crc.Sum32())
	buf.Write(sum[:])
	return buf.Bytes()
}

// exifJPEG splices a minimal EXIF APP1 segment carrying just the orientation
// tag into an encoded JPEG, right after SOI.
func exifJPEG(t *testing.T, jpg []byte, orientation uint16) []byte {
	t.Helper()

	tiff := make([]byte, 0, 32)
	tiff = append(tiff, 'I', 'I', 0x2A, 0x00) // little-endian TIFF
	tiff = append(tiff, 0x08, 0x00, 0x00, 0x00)
	tiff = append(tiff, 0x01, 0x00)             // one IFD entry
	tiff = append(tiff, 0x12, 0x01)             // tag 0x0112 Orientation
	tiff = append(tiff, 0x03, 0x00)             // type SHORT
	tiff = append(tiff, 0x01, 0x00, 0x00, 0x00) // count 1
	tiff = append(tiff, byte(orientation), byte(orientation>>8), 0x00, 0x00)
	tiff = append(tiff, 0x00, 0x00, 0x00, 0x00) // no next IFD

	payload := append([]byte("Exif\x00\x00"), tiff...)
	app1 := make([]byte, 0, 4+len(payload))
	app1 = append(app1, 0xFF, 0xE1)
	app1 = append(app1, byte((len(payload)+2)>>8), byte(len(payload)+2))
	app1 = append(app1, payload...)

	out := make([]byte, 0, len(jpg)+len(app1))
	out = append(out, jpg[:2]...) // SOI
	out = append(out, app1...)
	out = append(out, jpg[2:]...)
	return out
}

func TestDecodeFormats(t *testing.T) {
	t.Run("png", func(t *testing.T) {
		img := mustDecode(t, encodePNG(t, testImage(t, 120, 100, 1)))
		if img.Format != "png" || img.Width != 120 || img.Height != 100 {
			t.Errorf("got %s %dx%d, want png 120x100", img.Format, img.Width, img.Height)
		}
		if img.IsAnimated || img.FrameCount != 1 {
			t.Errorf("png must be a single still frame, got animated=%v frames=%d", img.IsAnimated, img.FrameCount)
		}
	})

	t.Run("jpeg", func(t *testing.T) {
		img := mustDecode(t, encodeJPEG(t, testImage(t, 100, 140, 2), 85))
		if img.Format != "jpeg" || img.Width != 100 || img.Height != 140 {
			t.Errorf("got %s %dx%d, want jpeg 100x140", img.Format, img.Width, img.Height)
		}
		if img.ColorMode != "RGB" {
			t.Errorf("jpeg color mode = %q, want RGB", img.ColorMode)
		}
	})

	t.Run("animated gif", func(t *testing.T) {
		frame0 := image.NewPaletted(image.Rect(0, 0, 100, 100), palette.Plan9)
		frame1 := image.NewPaletted(image.Rect(0, 0, 100, 100), palette.Plan9)
		var buf bytes.Buffer
		err := gif.EncodeAll(&buf, &gif.GIF{
			Image: []*image.Paletted{frame0, frame1},
			Delay: []int{10, 10},
		})
		if err != nil {
			t.Fatalf("gif encode: %v", err)
		}

		img := mustDecode(t, buf.Bytes())
		if img.Format != "gif" || !img.IsAnimated || img.FrameCount != 2 {
			t.Errorf("got %s animated=%v frames=%d, want gif animated 2 frames", img.Format, img.IsAnimated, img.FrameCount)
		}
		if img.ColorMode != "P" {
			t.Errorf("gif color mode = %q, want P", img.ColorMode)
		}
	})
}

func TestCountGIFFrames(t *testing.T) {
	encode := func(frames int) []byte {
		g := &gif.GIF{}
		for i := 0; i < frames; i++ {
			g.Image = append(g.Image, image.NewPaletted(image.Rect(0, 0, 100, 100), palette.Plan9))
			g.Delay = append(g.Delay, 10)
		}
		var buf bytes.Buffer
		if err := gif.EncodeAll(&buf, g); err != nil {
			t.Fatalf("gif encode: %v", err)
		}
		return buf.Bytes()
	}

	for _, frames := range []int{1, 3, 5} {
		if got := countGIFFrames(encode(frames)); got != frames {
			t.Errorf("countGIFFrames = %d, want %d", got, frames)
		}
	}

	// Truncated data never panics and still reports at least one frame.
	if got := countGIFFrames([]byte("GIF89a")); got != 1 {
		t.Errorf("truncated header frame count = %d, want 1", got)
	}
}

func TestDecodeRejections(t *testing.T) {
	d := &Decoder{}

	cases := []struct {
		name string
		b    []byte
		kind ErrorKind
	}{
		{"garbage", []byte("this is not an image at all, not even close"), KindInvalidFormat},
		{"empty", nil, KindInvalidFormat},
		{"bmp", []byte("BM\x00\x00\x00\x00\x00\x00\x00\x00"), KindUnsupportedFormat},
		{"tiff", []byte("II*\x00\x00\x00\x00\x00"), KindUnsupportedFormat},
		{"ico", []byte{0x00, 0x00, 0x01, 0x00, 0x01, 0x00}, KindUnsupportedFormat},
		{"truncated jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00}, KindCorruptedImage},
		{"too wide", pngHeader(t, 20_000, 500), KindDecompressionBomb},
		{"too tall", pngHeader(t, 500, 20_000), KindDecompressionBomb},
		{"too small", pngHeader(t, 99, 500), KindInvalidFormat},
		{"one px short", pngHeader(t, 100, 99), KindInvalidFormat},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := d.Decode(tc.b)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := KindOf(err); got != tc.kind {
				t.Errorf("kind = %s, want %s", got, tc.kind)
			}
		})
	}
}

func TestDecodePixelCap(t *testing.T) {
	d := &Decoder{MaxPixels: 1_000_000}
	// 2000x2000 passes the per-side check but exceeds the pixel cap.
	_, err := d.Decode(pngHeader(t, 2000, 2000))
	if err == nil || KindOf(err) != KindDecompressionBomb {
		t.Fatalf("err = %v, want DECOMPRESSION_BOMB", err)
	}

	// At exactly the cap the header check passes (the truncated body then
	// fails as corrupted, proving the bomb gate was cleared).
	_, err = d.Decode(pngHeader(t, 1000, 1000))
	if KindOf(err) != KindCorruptedImage {
		t.Fatalf("err = %v, want CORRUPTED_IMAGE after the bomb gate", err)
	}
}

func TestDecodeBoundaryDimensions(t *testing.T) {
	img := mustDecode(t, encodePNG(t, testImage(t, 100, 100, 5)))
	if img.Width != 100 || img.Height != 100 {
		t.Errorf("100x100 must be accepted, got %dx%d", img.Width, img.Height)
	}
}

func TestDecodeAppliesOrientation(t *testing.T) {
	base := encodeJPEG(t, testImage(t, 140, 100, 9), 90)

	img := mustDecode(t, exifJPEG(t, base, 6)) // rotate 90 CW
	if img.Width != 100 || img.Height != 140 {
		t.Errorf("orientation 6 should swap dims, got %dx%d", img.Width, img.Height)
	}

	plain := mustDecode(t, base)
	if plain.Width != 140 || plain.Height != 100 {
		t.Errorf("no orientation tag should keep dims, got %dx%d", plain.Width, plain.Height)
	}
}

func TestSniffFormat(t *testing.T) {
	cases := []struct {
		name string
		b    []byte
		want string
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, "jpeg"},
		{"png", []byte("\x89PNG\r\n\x1a\nrest"), "png"},
		{"gif87", []byte("GIF87a..."), "gif"},
		{"gif89", []byte("GIF89a..."), "gif"},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), "webp"},
		{"avif", []byte("\x00\x00\x00\x20ftypavif________"), "avif"},
		{"heic", []byte("\x00\x00\x00\x18ftypheic________"), "heif"},
		{"mif1", []byte("\x00\x00\x00\x18ftypmif1________"), "heif"},
		{"unknown ftyp", []byte("\x00\x00\x00\x18ftypmp42________"), ""},
		{"bmp", []byte("BM\x00\x00"), "bmp"},
		{"empty", nil, ""},
		{"text", []byte("hello world"), ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := sniffFormat(tc.b); got != tc.want {
				t.Errorf("sniffFormat = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestWebpAnimatedBit(t *testing.T) {
	still := []byte("RIFF\x00\x00\x00\x00WEBPVP8 \x00\x00\x00\x00\x00")
	if webpAnimated(still) {
		t.Error("VP8 chunk is never animated")
	}
	anim := []byte("RIFF\x00\x00\x00\x00WEBPVP8X\x0a\x00\x00\x00\x12\x00")
	if !webpAnimated(anim) {
		t.Error("VP8X with animation bit set must report animated")
	}
	vp8xStill := []byte("RIFF\x00\x00\x00\x00WEBPVP8X\x0a\x00\x00\x00\x00\x00")
	if webpAnimated(vp8xStill) {
		t.Error("VP8X with animation bit clear must not report animated")
	}
}
