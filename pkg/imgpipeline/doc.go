// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package imgpipeline downloads, validates, scores, deduplicates, and
// normalizes images harvested from social-media posts, emitting the best K
// of a batch for downstream analysis.
//
// The pipeline is a linear, staged transformation:
//
//	URLs → validate → cache lookup → download → decode → metadata ∥ quality
//	     → select top-K (perceptual-hash dedup) → normalize → cache → output
//
// Each stage is exposed on its own so it can be tested or replaced in
// isolation: URLValidator, Downloader, Decoder, Analyzer, Select, and
// Normalizer. Pipeline wires them together.
//
// # Quick start
//
//	cfg := imgpipeline.DefaultSettings()
//	p := imgpipeline.New(cfg)
//
//	result, err := p.Process(ctx, imgpipeline.Job{
//	    URLs: []string{
//	        "https://scontent.cdninstagram.com/v/p1.jpg",
//	        "https://scontent.cdninstagram.com/v/p2.jpg",
//	    },
//	    TopK: 3,
//	}, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for i, img := range result.Images {
//	    fmt.Printf("%s score=%.2f %d bytes\n",
//	        result.Metadata[i].URL, result.QualityScores[i], len(img.JPEG))
//	}
//
// # Caching
//
// Attach a two-level cache so repeated URLs skip the network entirely:
//
//	store, _ := imgcache.NewRedisStore("redis://localhost:6379/0")
//	cache := imgcache.New(imgcache.DefaultConfig(), store)
//	p := imgpipeline.New(cfg, imgpipeline.WithCache(cache))
//
// The store is optional; imgcache.New(cfg, nil) runs L1-only, and the
// pipeline runs fine with no cache at all.
//
// # Failure model
//
// Individual URL failures never abort a run. Every URL that does not reach
// the output is recorded in PipelineResult.Errors with an ErrorKind from the
// fixed taxonomy (INVALID_URL, DOWNLOAD_TIMEOUT, HTTP_ERROR, FILE_TOO_LARGE,
// REQUEST_ERROR, INVALID_FORMAT, CORRUPTED_IMAGE, UNSUPPORTED_FORMAT,
// DECOMPRESSION_BOMB, RESIZE_FAILED, CONVERSION_FAILED, QUALITY_TOO_LOW,
// INTERNAL). Process returns a non-nil error only for programmer mistakes.
//
// Cancellation through the context aborts in-flight downloads and pending
// CPU work; Process then returns a partial result with whatever was already
// normalized.
//
// # Concurrency
//
// Downloads run under a weighted semaphore (3 in flight by default) sharing
// one pooled HTTP client. Decoding, scoring, and encoding run on a bounded
// worker pool (4 workers by default) so CPU-heavy work never starves the
// I/O side. Output order does not depend on completion order: results are
// ranked by quality with stable ties broken by input order.
package imgpipeline
