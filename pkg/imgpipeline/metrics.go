// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package imgpipeline

import "time"

// Metrics receives pipeline counters and histograms. Implementations must be
// safe for concurrent use; the prometheus implementation lives in
// internal/metrics.
type Metrics interface {
	// DownloadCompleted records one terminal fetch outcome
	// ("ok", "timeout", "http_error", "too_large", "request_error").
	DownloadCompleted(outcome string, bytes int64, d time.Duration)

	// StageCompleted records one stage duration with its outcome ("ok" or
	// an ErrorKind string).
	StageCompleted(stage string, outcome string, d time.Duration)

	// CacheEvent records a cache lookup or write ("l1"/"l2",
	// "hit"/"miss"/"put"/"error").
	CacheEvent(level, outcome string)

	// ImageEmitted counts one image reaching the output.
	ImageEmitted()

	// URLFailed counts one URL dropped with the given kind.
	URLFailed(kind string)
}

type nopMetrics struct{}

func (nopMetrics) DownloadCompleted(string, int64, time.Duration) {}
func (nopMetrics) StageCompleted(string, string, time.Duration)   {}
func (nopMetrics) CacheEvent(string, string)                      {}
func (nopMetrics) ImageEmitted()                                  {}
func (nopMetrics) URLFailed(string)                               {}

// NopMetrics returns a Metrics that discards everything.
func NopMetrics() Metrics { return nopMetrics{} }
