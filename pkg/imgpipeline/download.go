// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package imgpipeline

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Downloader fetches image bytes over HTTPS with bounded concurrency, size
// caps, and a fixed retry schedule. One instance is shared across runs so
// the connection pool is reused.
type Downloader struct {
	client  *http.Client
	sem     *semaphore.Weighted
	cfg     Settings
	logger  *zap.Logger
	metrics Metrics
}

// NewDownloader builds a downloader from settings. The HTTP client keeps at
// most 20 connections with 10 idle keep-alive, HTTP/2 where the server
// offers it.
func NewDownloader(cfg Settings) *Downloader {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ForceAttemptHTTP2:     true,
		MaxConnsPerHost:       20,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	concurrency := cfg.MaxConcurrentDownloads
	if concurrency <= 0 {
		concurrency = 3
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NopMetrics()
	}

	return &Downloader{
		client:  &http.Client{Transport: tr},
		sem:     semaphore.NewWeighted(concurrency),
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
}

// Download fetches every URL in parallel under the concurrency gate. The
// output is index-aligned with the input; individual failures are reported
// in the result, never as a returned error.
func (d *Downloader) Download(ctx context.Context, urls []string) []DownloadResult {
	results := make([]DownloadResult, len(urls))
	var wg sync.WaitGroup

	for i, u := range urls {
		i, u := i, u
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = d.fetchOne(ctx, u)
		}()
	}
	wg.Wait()
	return results
}

// fetchOne runs the per-URL protocol: acquire the gate, preflight HEAD,
// then GET with retries on timeout, connection error, and 5xx.
func (d *Downloader) fetchOne(ctx context.Context, url string) DownloadResult {
	start := time.Now()
	res := DownloadResult{URL: url}
	fp := Fingerprint(url)

	if err := d.sem.Acquire(ctx, 1); err != nil {
		res.Err = wrapErr(KindRequestError, url, err)
		res.Duration = time.Since(start)
		return res
	}
	defer d.sem.Release(1)

	// Preflight: fail fast on a declared oversize body without issuing GET.
	if length, ok := d.preflight(ctx, url); ok && length > d.cfg.MaxBytes {
		res.Err = stageErr(KindFileTooLarge, url, "content-length %d exceeds cap %d", length, d.cfg.MaxBytes)
		res.ContentLength = length
		res.Duration = time.Since(start)
		d.finish(fp, &res, "too_large")
		return res
	}

	maxAttempts := d.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	var lastErr *PipelineError
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			d.logger.Info("retrying download",
				zap.String("url_fp", fp),
				zap.String("stage", "download"),
				zap.Int("attempt", attempt),
				zap.String("reason", lastErr.Error()),
			)
			if !sleepCtx(ctx, d.backoffFor(attempt)) {
				// Canceled mid-backoff: every earlier attempt failed.
				res.RetryCount = attempt - 1
				break
			}
		}

		perr, retryable := d.attempt(ctx, url, &res)
		if perr == nil {
			res.Success = true
			res.RetryCount = attempt - 1
			res.Duration = time.Since(start)
			d.finish(fp, &res, "ok")
			return res
		}
		lastErr = perr
		if !retryable {
			res.RetryCount = attempt - 1
			break
		}
		if attempt == maxAttempts {
			res.RetryCount = attempt - 1
		}
	}

	if lastErr == nil {
		lastErr = stageErr(KindRequestError, url, "canceled")
	}
	res.Err = lastErr
	res.Duration = time.Since(start)
	d.finish(fp, &res, outcomeFor(lastErr.Kind))
	return res
}

// attempt performs one GET. It returns the classified error and whether the
// failure is worth retrying.
func (d *Downloader) attempt(ctx context.Context, url string, res *DownloadResult) (*PipelineError, bool) {
	reqCtx, cancel := context.WithTimeout(ctx, d.cfg.ConnectTimeout+d.cfg.ReadTimeout+d.cfg.WriteTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return wrapErr(KindRequestError, url, err), false
	}
	req.Header.Set("User-Agent", defaultString(d.cfg.UserAgent, "imgpipeline/1"))

	resp, err := d.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return wrapErr(KindDownloadTimeout, url, err), true
		}
		return wrapErr(KindRequestError, url, err), true
	}
	defer resp.Body.Close()

	res.HTTPStatus = resp.StatusCode
	res.ContentType = resp.Header.Get("Content-Type")

	if resp.StatusCode >= 500 {
		return stageErr(KindHTTPError, url, "status %d", resp.StatusCode), true
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return stageErr(KindHTTPError, url, "status %d", resp.StatusCode), false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, d.cfg.MaxBytes+1))
	if err != nil {
		if isTimeout(err) {
			return wrapErr(KindDownloadTimeout, url, err), true
		}
		return wrapErr(KindRequestError, url, err), true
	}
	if int64(len(body)) > d.cfg.MaxBytes {
		return stageErr(KindFileTooLarge, url, "body exceeds cap %d", d.cfg.MaxBytes), false
	}

	res.Body = body
	res.ContentLength = int64(len(body))
	return nil, false
}

// preflight issues a HEAD and reports the declared Content-Length. Any HEAD
// failure is ignored; the GET decides.
func (d *Downloader) preflight(ctx context.Context, url string) (int64, bool) {
	reqCtx, cancel := context.WithTimeout(ctx, d.cfg.ConnectTimeout+d.cfg.WriteTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, url, nil)
	if err != nil {
		return 0, false
	}
	req.Header.Set("User-Agent", defaultString(d.cfg.UserAgent, "imgpipeline/1"))

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, false
	}
	defer resp.Body.Close()

	if resp.ContentLength > 0 {
		return resp.ContentLength, true
	}
	return 0, false
}

// backoffFor returns the wait before the given attempt (2-based).
func (d *Downloader) backoffFor(attempt int) time.Duration {
	schedule := d.cfg.RetryBackoff
	if len(schedule) == 0 {
		schedule = []time.Duration{time.Second, 2 * time.Second}
	}
	idx := attempt - 2
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return schedule[idx]
}

func (d *Downloader) finish(fp string, res *DownloadResult, outcome string) {
	d.metrics.DownloadCompleted(outcome, res.ContentLength, res.Duration)
	d.logger.Info("download finished",
		zap.String("url_fp", fp),
		zap.String("stage", "download"),
		zap.String("outcome", outcome),
		zap.Int("retries", res.RetryCount),
		zap.Duration("duration", res.Duration),
	)
}

// isTimeout reports whether err is a deadline or network timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// outcomeFor maps an error kind to the metric outcome label.
func outcomeFor(kind ErrorKind) string {
	switch kind {
	case KindDownloadTimeout:
		return "timeout"
	case KindHTTPError:
		return "http_error"
	case KindFileTooLarge:
		return "too_large"
	case KindRequestError:
		return "request_error"
	default:
		return "error"
	}
}
