// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package imgpipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"image/jpeg"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"imgpipeline/pkg/imgcache"
)

// ImageDownloader fetches image bytes. The default is the bounded-
// concurrency Downloader; tests inject deterministic fakes.
type ImageDownloader interface {
	Download(ctx context.Context, urls []string) []DownloadResult
}

// ImageDecoder turns downloaded bytes into a decoded, orientation-corrected
// image.
type ImageDecoder interface {
	Decode(b []byte) (*DecodedImage, error)
}

// ImageAnalyzer scores a decoded image.
type ImageAnalyzer interface {
	Analyze(d *DecodedImage, fileSize int64) QualityMetrics
}

// Pipeline orchestrates the stages: validate, cache lookup, download,
// decode, metadata, quality, select, normalize, cache write.
type Pipeline struct {
	cfg        Settings
	validator  *URLValidator
	downloader ImageDownloader
	decoder    ImageDecoder
	analyzer   ImageAnalyzer
	normalizer *Normalizer
	cache      *imgcache.Cache
	logger     *zap.Logger
	metrics    Metrics
}

// Option customizes a Pipeline at construction.
type Option func(*Pipeline)

// WithCache attaches a two-level cache. Without it the pipeline runs
// cache-less.
func WithCache(c *imgcache.Cache) Option {
	return func(p *Pipeline) { p.cache = c }
}

// WithDownloader replaces the HTTP downloader, mainly for tests.
func WithDownloader(d ImageDownloader) Option {
	return func(p *Pipeline) { p.downloader = d }
}

// WithDecoder replaces the decoder.
func WithDecoder(d ImageDecoder) Option {
	return func(p *Pipeline) { p.decoder = d }
}

// WithAnalyzer replaces the quality analyzer.
func WithAnalyzer(a ImageAnalyzer) Option {
	return func(p *Pipeline) { p.analyzer = a }
}

// New builds a pipeline from settings, filling in defaults for every
// component that is not overridden.
func New(cfg Settings, opts ...Option) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NopMetrics()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	if cfg.CPUWorkers <= 0 {
		cfg.CPUWorkers = 4
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 10 << 20
	}

	p := &Pipeline{
		cfg:       cfg,
		validator: NewURLValidator(cfg.AllowHosts, cfg.DenyExts),
		decoder:   &Decoder{MaxPixels: cfg.MaxPixels},
		analyzer:  Analyzer{},
		normalizer: &Normalizer{
			MaxDim:      cfg.MaxDim,
			JPEGQuality: cfg.JPEGQuality,
			SizeBudget:  cfg.EncodedSizeBudget,
		},
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.downloader == nil {
		p.downloader = NewDownloader(cfg)
	}
	return p
}

// cachedRecord is the metadata half of a cache entry.
type cachedRecord struct {
	Meta    ImageMetadata  `json:"meta"`
	Quality QualityMetrics `json:"quality"`
}

// Process runs the full pipeline over job.URLs and returns at most K images
// ranked by quality. Per-URL failures land in the result's Errors; Process
// itself only errs on programmer mistakes. Cancellation aborts in-flight
// downloads and pending CPU work and returns a partial result.
func (p *Pipeline) Process(ctx context.Context, job Job, progress ProgressFunc) (*PipelineResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	topK := job.TopK
	if topK <= 0 {
		topK = p.cfg.TopK
	}

	emit := func(ev ProgressEvent) {
		if progress != nil {
			if ev.Time.IsZero() {
				ev.Time = time.Now()
			}
			progress(ev)
		}
	}

	type urlState struct {
		index int
		url   string
	}

	failures := make(map[int]URLError)
	var failMu sync.Mutex
	fail := func(idx int, url string, kind ErrorKind, detail string) {
		failMu.Lock()
		failures[idx] = URLError{URL: url, Kind: kind, Detail: detail}
		failMu.Unlock()
		p.metrics.URLFailed(string(kind))
		emit(ProgressEvent{Event: "error", Level: "warn", URLFingerprint: Fingerprint(url), Message: string(kind) + ": " + detail})
	}

	// Validation gate. Everything downstream sees only accepted URLs.
	var accepted []urlState
	for i, u := range job.URLs {
		if !p.validator.Validate(u) {
			fail(i, u, KindInvalidURL, "rejected by validator")
			continue
		}
		accepted = append(accepted, urlState{index: i, url: u})
		emit(ProgressEvent{Event: "validate", URLFingerprint: Fingerprint(u), Stage: "validate"})
	}

	// Cache lookups come before any network traffic.
	var candidates []Candidate
	var candMu sync.Mutex
	var toDownload []urlState

	useCache := p.cache != nil && !job.DisableCache
	for _, st := range accepted {
		if !useCache {
			toDownload = append(toDownload, st)
			continue
		}
		entry, level, ok := p.cache.Get(ctx, st.url)
		if !ok {
			p.metrics.CacheEvent("l1", "miss")
			toDownload = append(toDownload, st)
			continue
		}
		cand, err := candidateFromCache(st.url, st.index, entry)
		if err != nil {
			// Corrupt entry: drop it and fall back to a fresh fetch.
			p.logger.Warn("cached entry unusable", zap.String("url_fp", Fingerprint(st.url)), zap.Error(err))
			p.cache.Invalidate(ctx, st.url)
			toDownload = append(toDownload, st)
			continue
		}
		p.metrics.CacheEvent(level, "hit")
		emit(ProgressEvent{Event: "cache_hit", URLFingerprint: Fingerprint(st.url), Stage: "cache"})
		candMu.Lock()
		candidates = append(candidates, cand)
		candMu.Unlock()
	}

	// Download and decode run as one streamed stage: a bounded set of
	// workers each fetch one URL, decode it, and release the body before
	// taking the next, so in-flight bytes stay bounded by the worker count
	// regardless of input size. Decode and scoring additionally hold a CPU
	// token so CPU-heavy work never exceeds CPUWorkers.
	tokens := make(chan struct{}, p.cfg.CPUWorkers)

	handle := func(st urlState) {
		res := p.downloader.Download(ctx, []string{st.url})[0]
		if !res.Success {
			kind := KindOf(res.Err)
			detail := ""
			if res.Err != nil {
				detail = res.Err.Error()
			}
			fail(st.index, st.url, kind, detail)
			return
		}

		select {
		case tokens <- struct{}{}:
			defer func() { <-tokens }()
		case <-ctx.Done():
			return
		}
		if ctx.Err() != nil {
			return
		}

		fp := Fingerprint(st.url)

		decodeStart := time.Now()
		img, err := p.decoder.Decode(res.Body)
		if err != nil {
			p.metrics.StageCompleted("decode", string(KindOf(err)), time.Since(decodeStart))
			fail(st.index, st.url, KindOf(err), err.Error())
			return
		}
		p.metrics.StageCompleted("decode", "ok", time.Since(decodeStart))
		emit(ProgressEvent{Event: "decoded", URLFingerprint: fp, Stage: "decode"})

		analyzeStart := time.Now()
		meta := ExtractMetadata(st.url, res.Body, img)
		res.Body = nil
		quality := p.analyzer.Analyze(img, res.ContentLength)
		p.metrics.StageCompleted("analyze", "ok", time.Since(analyzeStart))
		emit(ProgressEvent{Event: "analyzed", URLFingerprint: fp, Stage: "analyze"})

		candMu.Lock()
		candidates = append(candidates, Candidate{Image: img, Meta: meta, Quality: quality, inputIndex: st.index})
		candMu.Unlock()
	}

	workers := p.cfg.CPUWorkers
	if n := int(p.cfg.MaxConcurrentDownloads); n > workers {
		workers = n
	}
	if workers > len(toDownload) {
		workers = len(toDownload)
	}

	work := make(chan urlState)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for st := range work {
				handle(st)
			}
		}()
	}
	for _, st := range toDownload {
		select {
		case work <- st:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(work)
	wg.Wait()

	// Candidate order must not depend on goroutine completion order; the
	// selector's stable sort needs a deterministic starting sequence.
	sortCandidatesByInput(candidates)

	floor := -1.0
	if p.cfg.QualityFilter {
		floor = p.cfg.QualityFloor
	}
	selected, tooLow := Select(candidates, topK, p.cfg.DedupThreshold, floor)
	for _, c := range tooLow {
		fail(c.inputIndex, c.Meta.URL, KindQualityTooLow, "overall quality below floor")
	}

	// Normalize, cache, emit.
	result := &PipelineResult{}
	for _, c := range selected {
		if ctx.Err() != nil {
			break
		}
		fp := Fingerprint(c.Meta.URL)

		var out NormalizedImage
		if c.normalized != nil {
			out = NormalizedImage{Image: c.Image.Pixels, JPEG: c.normalized, Width: c.Image.Width, Height: c.Image.Height}
		} else {
			normStart := time.Now()
			img, err := p.normalizer.Normalize(c.Image.Pixels)
			if err != nil {
				p.metrics.StageCompleted("normalize", string(KindOf(err)), time.Since(normStart))
				fail(c.inputIndex, c.Meta.URL, KindOf(err), err.Error())
				continue
			}
			encoded, err := p.normalizer.EncodeJPEG(img)
			if err != nil {
				p.metrics.StageCompleted("normalize", string(KindOf(err)), time.Since(normStart))
				fail(c.inputIndex, c.Meta.URL, KindOf(err), err.Error())
				continue
			}
			p.metrics.StageCompleted("normalize", "ok", time.Since(normStart))

			b := img.Bounds()
			out = NormalizedImage{Image: img, JPEG: encoded, Width: b.Dx(), Height: b.Dy()}
			emit(ProgressEvent{Event: "normalized", URLFingerprint: fp, Stage: "normalize"})

			if useCache {
				if metaJSON, merr := json.Marshal(cachedRecord{Meta: c.Meta, Quality: c.Quality}); merr == nil {
					p.cache.Put(ctx, c.Meta.URL, imgcache.Entry{Meta: metaJSON, JPEG: encoded})
					p.metrics.CacheEvent("l1", "put")
					emit(ProgressEvent{Event: "cached", URLFingerprint: fp, Stage: "cache"})
				}
			}
		}

		result.Images = append(result.Images, out)
		result.Metadata = append(result.Metadata, c.Meta)
		result.QualityScores = append(result.QualityScores, c.Quality.Overall)
		p.metrics.ImageEmitted()
		emit(ProgressEvent{Event: "url_done", URLFingerprint: fp, Done: len(result.Images), Total: topK})
	}

	// Errors come out in input order.
	for i, u := range job.URLs {
		if e, ok := failures[i]; ok && e.URL == u {
			result.Errors = append(result.Errors, e)
		}
	}

	result.ProcessingTime = time.Since(start)
	p.metrics.StageCompleted("pipeline", "ok", result.ProcessingTime)
	p.logger.Info("pipeline finished",
		zap.Int("input", len(job.URLs)),
		zap.Int("emitted", len(result.Images)),
		zap.Int("failed", len(result.Errors)),
		zap.Duration("duration", result.ProcessingTime),
	)
	emit(ProgressEvent{Event: "done", Done: len(result.Images), Total: len(job.URLs), Elapsed: result.ProcessingTime})
	return result, nil
}

// candidateFromCache rebuilds a candidate from a stored entry. The cached
// JPEG is re-decoded so downstream consumers get pixels, but the bytes
// emitted stay byte-identical to what was stored.
func candidateFromCache(url string, index int, e imgcache.Entry) (Candidate, error) {
	var rec cachedRecord
	if err := json.Unmarshal(e.Meta, &rec); err != nil {
		return Candidate{}, err
	}
	img, err := jpeg.Decode(bytes.NewReader(e.JPEG))
	if err != nil {
		return Candidate{}, err
	}
	b := img.Bounds()
	return Candidate{
		Image: &DecodedImage{
			Pixels:     img,
			Width:      b.Dx(),
			Height:     b.Dy(),
			ColorMode:  colorModeOf(img),
			Format:     "jpeg",
			FrameCount: 1,
		},
		Meta:       rec.Meta,
		Quality:    rec.Quality,
		normalized: e.JPEG,
		inputIndex: index,
	}, nil
}

// sortCandidatesByInput orders candidates by their position in the input
// list.
func sortCandidatesByInput(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].inputIndex < cands[j].inputIndex
	})
}
