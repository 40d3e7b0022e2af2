// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides the prometheus implementation of the pipeline's
// Metrics interface.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector implements imgpipeline.Metrics on prometheus primitives.
type Collector struct {
	downloads     *prometheus.CounterVec
	downloadBytes prometheus.Histogram
	stageDuration *prometheus.HistogramVec
	cacheEvents   *prometheus.CounterVec
	emitted       prometheus.Counter
	failures      *prometheus.CounterVec
}

// New registers the pipeline collectors on reg and returns them.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imgpipeline_downloads_total",
			Help: "Terminal download outcomes.",
		}, []string{"outcome"}),
		downloadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "imgpipeline_download_bytes",
			Help:    "Downloaded body sizes in bytes.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imgpipeline_stage_duration_seconds",
			Help:    "Per-stage processing durations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage", "outcome"}),
		cacheEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imgpipeline_cache_events_total",
			Help: "Cache lookups and writes by tier and outcome.",
		}, []string{"level", "outcome"}),
		emitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imgpipeline_images_emitted_total",
			Help: "Images that reached the pipeline output.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imgpipeline_url_failures_total",
			Help: "URLs dropped from the pipeline by error kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(c.downloads, c.downloadBytes, c.stageDuration, c.cacheEvents, c.emitted, c.failures)
	return c
}

func (c *Collector) DownloadCompleted(outcome string, bytes int64, d time.Duration) {
	c.downloads.WithLabelValues(outcome).Inc()
	if bytes > 0 {
		c.downloadBytes.Observe(float64(bytes))
	}
	c.stageDuration.WithLabelValues("download", outcome).Observe(d.Seconds())
}

func (c *Collector) StageCompleted(stage, outcome string, d time.Duration) {
	c.stageDuration.WithLabelValues(stage, outcome).Observe(d.Seconds())
}

func (c *Collector) CacheEvent(level, outcome string) {
	c.cacheEvents.WithLabelValues(level, outcome).Inc()
}

func (c *Collector) ImageEmitted() {
	c.emitted.Inc()
}

func (c *Collector) URLFailed(kind string) {
	c.failures.WithLabelValues(kind).Inc()
}
