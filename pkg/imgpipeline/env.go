// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package imgpipeline

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// SettingsFromEnv overlays the IMG_* environment keys onto s and returns the
// result. Unset or malformed values leave the corresponding field untouched.
//
// Recognized keys: IMG_MAX_BYTES, IMG_MAX_PIXELS, IMG_MAX_DIM,
// IMG_MAX_CONCURRENT_DL, IMG_DL_TIMEOUT_CONNECT_MS, IMG_DL_TIMEOUT_READ_MS,
// IMG_DL_TIMEOUT_WRITE_MS, IMG_RETRY_MAX, IMG_TOP_K, IMG_DEDUP_THRESHOLD,
// IMG_QUALITY_FLOOR, IMG_JPEG_QUALITY, IMG_ALLOW_HOSTS, IMG_DENY_EXTS.
func SettingsFromEnv(s Settings) Settings {
	envInt64 := func(key string, dst *int64) {
		if v, err := strconv.ParseInt(os.Getenv(key), 10, 64); err == nil {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
			*dst = v
		}
	}
	envFloat := func(key string, dst *float64) {
		if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
			*dst = v
		}
	}
	envMillis := func(key string, dst *time.Duration) {
		if v, err := strconv.ParseInt(os.Getenv(key), 10, 64); err == nil {
			*dst = time.Duration(v) * time.Millisecond
		}
	}
	envList := func(key string, dst *[]string) {
		raw := os.Getenv(key)
		if raw == "" {
			return
		}
		var out []string
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			*dst = out
		}
	}

	envInt64("IMG_MAX_BYTES", &s.MaxBytes)
	envInt("IMG_MAX_PIXELS", &s.MaxPixels)
	envInt("IMG_MAX_DIM", &s.MaxDim)
	envInt64("IMG_MAX_CONCURRENT_DL", &s.MaxConcurrentDownloads)
	envMillis("IMG_DL_TIMEOUT_CONNECT_MS", &s.ConnectTimeout)
	envMillis("IMG_DL_TIMEOUT_READ_MS", &s.ReadTimeout)
	envMillis("IMG_DL_TIMEOUT_WRITE_MS", &s.WriteTimeout)
	envInt("IMG_RETRY_MAX", &s.MaxAttempts)
	envInt("IMG_TOP_K", &s.TopK)
	envFloat("IMG_DEDUP_THRESHOLD", &s.DedupThreshold)
	envFloat("IMG_QUALITY_FLOOR", &s.QualityFloor)
	envInt("IMG_JPEG_QUALITY", &s.JPEGQuality)
	envList("IMG_ALLOW_HOSTS", &s.AllowHosts)
	envList("IMG_DENY_EXTS", &s.DenyExts)

	return s
}
