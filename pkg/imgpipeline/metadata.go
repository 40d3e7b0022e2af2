// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package imgpipeline

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/corona10/goimagehash"
	"github.com/rwcarlsen/goexif/exif"
)

// ExtractMetadata builds the metadata record for one downloaded image.
// The content hash covers the raw downloaded bytes; the perceptual hash is
// computed on the orientation-corrected pixels.
func ExtractMetadata(url string, raw []byte, d *DecodedImage) ImageMetadata {
	sum := sha256.Sum256(raw)

	meta := ImageMetadata{
		URL:             url,
		Width:           d.Width,
		Height:          d.Height,
		Format:          d.Format,
		ColorMode:       d.ColorMode,
		FileSizeBytes:   int64(len(raw)),
		SHA256:          hex.EncodeToString(sum[:]),
		EXIF:            parseEXIF(raw),
		HasTransparency: d.ColorMode == "RGBA" || d.ColorMode == "LA",
		IsAnimated:      d.IsAnimated,
		FrameCount:      d.FrameCount,
	}
	if d.Height > 0 {
		meta.AspectRatio = float64(d.Width) / float64(d.Height)
	}
	if h, err := goimagehash.AverageHash(d.Pixels); err == nil {
		meta.PHash = h.GetHash()
	}
	return meta
}

// parseEXIF extracts the GPS, datetime, camera, and orientation fields.
// Returns nil when the bytes carry no parsable EXIF block.
func parseEXIF(raw []byte) *EXIFInfo {
	x, err := exif.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil
	}

	info := &EXIFInfo{}
	found := false

	if gps := parseGPS(x); gps != nil {
		info.GPS = gps
		found = true
	}

	if tag, err := x.Get(exif.DateTimeOriginal); err == nil {
		if s, err := tag.StringVal(); err == nil {
			if t, err := time.Parse("2006:01:02 15:04:05", s); err == nil {
				info.DateTime = t.Format("2006-01-02T15:04:05")
				found = true
			}
		}
	}

	cam := &CameraInfo{}
	if tag, err := x.Get(exif.Make); err == nil {
		cam.Make, _ = tag.StringVal()
	}
	if tag, err := x.Get(exif.Model); err == nil {
		cam.Model, _ = tag.StringVal()
	}
	if cam.Make != "" || cam.Model != "" {
		info.Camera = cam
		found = true
	}

	if tag, err := x.Get(exif.Orientation); err == nil {
		if o, err := tag.Int(0); err == nil && o >= 1 && o <= 8 {
			info.Orientation = o
			found = true
		}
	}

	if !found {
		return nil
	}
	return info
}

// parseGPS emits a position only when both latitude and longitude are
// present and parsable. Altitude rides along when available.
func parseGPS(x *exif.Exif) *GPSInfo {
	lat, latOK := gpsCoordinate(x, exif.GPSLatitude, exif.GPSLatitudeRef, "S")
	lng, lngOK := gpsCoordinate(x, exif.GPSLongitude, exif.GPSLongitudeRef, "W")
	if !latOK || !lngOK {
		return nil
	}

	gps := &GPSInfo{Lat: lat, Lng: lng}
	if tag, err := x.Get(exif.GPSAltitude); err == nil {
		if r, err := tag.Rat(0); err == nil {
			alt, _ := r.Float64()
			gps.Altitude = &alt
		}
	}
	return gps
}

// gpsCoordinate converts the three EXIF rationals (degrees, minutes,
// seconds) plus a hemisphere reference into decimal degrees.
func gpsCoordinate(x *exif.Exif, coord, ref exif.FieldName, negRef string) (float64, bool) {
	tag, err := x.Get(coord)
	if err != nil {
		return 0, false
	}
	var parts [3]float64
	for i := 0; i < 3; i++ {
		r, err := tag.Rat(i)
		if err != nil {
			return 0, false
		}
		parts[i], _ = r.Float64()
	}
	dec := gpsToDecimal(parts[0], parts[1], parts[2])

	if refTag, err := x.Get(ref); err == nil {
		if s, err := refTag.StringVal(); err == nil && s == negRef {
			dec = -dec
		}
	}
	return dec, true
}

// gpsToDecimal is the d + m/60 + s/3600 conversion.
func gpsToDecimal(d, m, s float64) float64 {
	return d + m/60 + s/3600
}
