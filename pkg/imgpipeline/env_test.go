// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package imgpipeline

import (
	"testing"
	"time"
)

func TestSettingsFromEnv(t *testing.T) {
	t.Setenv("IMG_MAX_BYTES", "5242880")
	t.Setenv("IMG_MAX_DIM", "512")
	t.Setenv("IMG_MAX_CONCURRENT_DL", "8")
	t.Setenv("IMG_DL_TIMEOUT_READ_MS", "2500")
	t.Setenv("IMG_RETRY_MAX", "5")
	t.Setenv("IMG_TOP_K", "10")
	t.Setenv("IMG_DEDUP_THRESHOLD", "0.9")
	t.Setenv("IMG_QUALITY_FLOOR", "0.25")
	t.Setenv("IMG_ALLOW_HOSTS", "mycdn.example, other.example ,")

	s := SettingsFromEnv(DefaultSettings())

	if s.MaxBytes != 5<<20 {
		t.Errorf("MaxBytes = %d", s.MaxBytes)
	}
	if s.MaxDim != 512 || s.MaxConcurrentDownloads != 8 {
		t.Errorf("MaxDim/MaxConcurrent = %d/%d", s.MaxDim, s.MaxConcurrentDownloads)
	}
	if s.ReadTimeout != 2500*time.Millisecond {
		t.Errorf("ReadTimeout = %v", s.ReadTimeout)
	}
	if s.MaxAttempts != 5 || s.TopK != 10 {
		t.Errorf("MaxAttempts/TopK = %d/%d", s.MaxAttempts, s.TopK)
	}
	if s.DedupThreshold != 0.9 || s.QualityFloor != 0.25 {
		t.Errorf("thresholds = %v/%v", s.DedupThreshold, s.QualityFloor)
	}
	if len(s.AllowHosts) != 2 || s.AllowHosts[0] != "mycdn.example" || s.AllowHosts[1] != "other.example" {
		t.Errorf("AllowHosts = %v", s.AllowHosts)
	}

	// Untouched fields keep their defaults.
	if s.JPEGQuality != 85 {
		t.Errorf("JPEGQuality = %d, want default 85", s.JPEGQuality)
	}
}

func TestSettingsFromEnvMalformed(t *testing.T) {
	t.Setenv("IMG_MAX_BYTES", "ten megabytes")
	t.Setenv("IMG_TOP_K", "")

	s := SettingsFromEnv(DefaultSettings())
	if s.MaxBytes != 10<<20 || s.TopK != 3 {
		t.Errorf("malformed env overrode defaults: MaxBytes=%d TopK=%d", s.MaxBytes, s.TopK)
	}
}
