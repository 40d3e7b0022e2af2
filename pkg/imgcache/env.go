// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package imgcache

import (
	"os"
	"strconv"
	"time"
)

// ConfigFromEnv overlays IMG_L1_MAX_ENTRIES, IMG_L1_MAX_BYTES,
// IMG_L1_TTL_SECS and IMG_L2_TTL_SECS onto cfg. Unset or malformed values
// leave the field untouched. IMG_L2_URL is read separately by the caller
// because it selects whether an L2 store exists at all.
func ConfigFromEnv(cfg Config) Config {
	if v, err := strconv.Atoi(os.Getenv("IMG_L1_MAX_ENTRIES")); err == nil {
		cfg.L1MaxEntries = v
	}
	if v, err := strconv.ParseInt(os.Getenv("IMG_L1_MAX_BYTES"), 10, 64); err == nil {
		cfg.L1MaxBytes = v
	}
	if v, err := strconv.ParseInt(os.Getenv("IMG_L1_TTL_SECS"), 10, 64); err == nil {
		cfg.L1TTL = time.Duration(v) * time.Second
	}
	if v, err := strconv.ParseInt(os.Getenv("IMG_L2_TTL_SECS"), 10, 64); err == nil {
		cfg.L2TTL = time.Duration(v) * time.Second
	}
	return cfg
}
