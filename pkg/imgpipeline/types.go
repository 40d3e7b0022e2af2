// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package imgpipeline

import (
	"image"
	"time"

	"go.uber.org/zap"
)

// Job defines one pipeline run: which URLs to process and how many images
// to keep.
//
// Example:
//
//	job := imgpipeline.Job{
//	    URLs: []string{"https://scontent.cdninstagram.com/p/a.jpg"},
//	    TopK: 3,
//	}
type Job struct {
	// URLs is the list of candidate image URLs, in caller order.
	URLs []string

	// TopK is the maximum number of images to emit.
	// If <= 0, Settings.TopK is used (default 3).
	TopK int

	// DisableCache skips cache lookups and write-through for this run.
	DisableCache bool
}

// Settings configures pipeline behavior.
//
// All fields have sensible defaults; start from DefaultSettings and override
// what you need. The IMG_* environment keys are applied by SettingsFromEnv.
type Settings struct {
	// MaxBytes caps a single download, both at HEAD preflight
	// (Content-Length) and after body receipt. Default 10 MiB.
	MaxBytes int64

	// MaxPixels caps width*height before full decode, guarding against
	// decompression bombs. Default 100,000,000.
	MaxPixels int

	// MaxDim is the maximum output dimension after normalization.
	// Larger images are scaled down preserving aspect ratio. Default 1024.
	MaxDim int

	// MaxConcurrentDownloads bounds in-flight fetches regardless of input
	// size. Default 3.
	MaxConcurrentDownloads int64

	// CPUWorkers bounds concurrent decode/score/encode work so CPU-heavy
	// stages never run unbounded. Default 4.
	CPUWorkers int

	// ConnectTimeout, ReadTimeout, WriteTimeout are the per-request phase
	// budgets. Defaults: 5s, 10s, 5s.
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	// MaxAttempts is the total number of tries per URL (first attempt plus
	// retries). Default 3.
	MaxAttempts int

	// RetryBackoff is the wait before attempts 2, 3, ... Default [1s, 2s].
	// Tests shrink this to keep retry paths fast.
	RetryBackoff []time.Duration

	// TopK is the default number of images to emit when Job.TopK is unset.
	// Default 3.
	TopK int

	// DedupThreshold is the perceptual-hash similarity above which a
	// candidate is considered a duplicate of an already-selected image.
	// Similarity is 1 - hamming/64. Default 0.85.
	DedupThreshold float64

	// QualityFloor drops candidates scoring below it before selection when
	// QualityFilter is on. Default 0.3.
	QualityFloor float64

	// QualityFilter enables the QualityFloor cut. Default true.
	QualityFilter bool

	// JPEGQuality is the initial quality for normalized output. Default 85.
	JPEGQuality int

	// EncodedSizeBudget, when > 0, re-encodes oversize output at quality
	// steps of 10 down to a floor of 50. Default 0 (disabled).
	EncodedSizeBudget int64

	// AllowHosts are host tokens matched as suffix-or-infix against the
	// lower-cased URL host. Only matching URLs pass validation.
	AllowHosts []string

	// DenyExts are path suffixes rejected outright (executables and such).
	DenyExts []string

	// UserAgent identifies outbound requests. Default "imgpipeline/1".
	UserAgent string

	// Logger receives structured stage events. Defaults to zap.NewNop().
	// Records at INFO and below carry only the URL fingerprint, never the
	// URL itself.
	Logger *zap.Logger

	// Metrics receives counters and histograms. Defaults to NopMetrics().
	Metrics Metrics
}

// DefaultAllowHosts covers the social-CDN hosts the platform harvests from.
var DefaultAllowHosts = []string{
	"instagram.com",
	"cdninstagram.com",
	"fbcdn.net",
	"ytimg.com",
	"googleusercontent.com",
	"pstatic.net",
	"kakaocdn.net",
	"cloudfront.net",
	"amazonaws.com",
	"akamaihd.net",
}

// DefaultDenyExts rejects executable-looking paths.
var DefaultDenyExts = []string{".exe", ".bat", ".sh", ".cmd", ".com"}

// DefaultSettings returns Settings with all defaults filled in.
//
//	cfg := imgpipeline.DefaultSettings()
//	cfg.TopK = 5
func DefaultSettings() Settings {
	return Settings{
		MaxBytes:               10 << 20,
		MaxPixels:              100_000_000,
		MaxDim:                 1024,
		MaxConcurrentDownloads: 3,
		CPUWorkers:             4,
		ConnectTimeout:         5 * time.Second,
		ReadTimeout:            10 * time.Second,
		WriteTimeout:           5 * time.Second,
		MaxAttempts:            3,
		RetryBackoff:           []time.Duration{time.Second, 2 * time.Second},
		TopK:                   3,
		DedupThreshold:         0.85,
		QualityFloor:           0.3,
		QualityFilter:          true,
		JPEGQuality:            85,
		AllowHosts:             DefaultAllowHosts,
		DenyExts:               DefaultDenyExts,
		UserAgent:              "imgpipeline/1",
	}
}

// DownloadResult reports the terminal outcome of fetching one URL.
// Created by the downloader, consumed by the decoder. Immutable.
type DownloadResult struct {
	URL           string
	Success       bool
	Body          []byte
	HTTPStatus    int
	ContentType   string
	ContentLength int64
	Duration      time.Duration
	RetryCount    int
	Err           error // *PipelineError when Success is false
}

// DecodedImage is a decoded pixel buffer with its observed properties.
// EXIF orientation has already been applied: logical orientation equals
// stored orientation.
type DecodedImage struct {
	Pixels     image.Image
	Width      int
	Height     int
	ColorMode  string // RGB, RGBA, P, L, CMYK, LA, 1
	Format     string // jpeg, png, webp, gif, heif, avif
	IsAnimated bool
	FrameCount int
}

// QualityMetrics holds the six sub-scores and the weighted overall score,
// each in [0,1]. Overall is the fixed weighted sum:
// 0.25*resolution + 0.25*sharpness + 0.15*brightness + 0.15*contrast +
// 0.10*colorfulness + 0.10*compression.
type QualityMetrics struct {
	Overall            float64 `json:"overall"`
	Resolution         float64 `json:"resolution"`
	Sharpness          float64 `json:"sharpness"`
	Brightness         float64 `json:"brightness"`
	Contrast           float64 `json:"contrast"`
	Colorfulness       float64 `json:"colorfulness"`
	CompressionQuality float64 `json:"compressionQuality"`

	// Diagnostics, not part of the score.
	BlurLaplacianVariance float64 `json:"blurLaplacianVariance,omitempty"`
	EdgeDensity           float64 `json:"edgeDensity,omitempty"`
	DynamicRange          float64 `json:"dynamicRange,omitempty"`
}

// GPSInfo is a decimal-degrees position parsed from EXIF rationals.
type GPSInfo struct {
	Lat      float64  `json:"lat"`
	Lng      float64  `json:"lng"`
	Altitude *float64 `json:"altitude,omitempty"`
}

// CameraInfo identifies the capturing device when EXIF carries it.
type CameraInfo struct {
	Make  string `json:"make,omitempty"`
	Model string `json:"model,omitempty"`
}

// EXIFInfo is the subset of EXIF the pipeline extracts.
type EXIFInfo struct {
	GPS         *GPSInfo    `json:"gps,omitempty"`
	DateTime    string      `json:"datetime,omitempty"` // ISO-8601
	Camera      *CameraInfo `json:"camera,omitempty"`
	Orientation int         `json:"orientation,omitempty"`
}

// ImageMetadata describes one downloaded image. SHA256 is over the raw
// downloaded bytes; PHash is the 8x8 average-hash of the decoded image after
// the orientation fix.
type ImageMetadata struct {
	URL             string    `json:"url"`
	Width           int       `json:"width"`
	Height          int       `json:"height"`
	Format          string    `json:"format"`
	ColorMode       string    `json:"colorMode"`
	FileSizeBytes   int64     `json:"fileSizeBytes"`
	AspectRatio     float64   `json:"aspectRatio"`
	SHA256          string    `json:"sha256"`
	PHash           uint64    `json:"phash"`
	EXIF            *EXIFInfo `json:"exif,omitempty"`
	HasTransparency bool      `json:"hasTransparency"`
	IsAnimated      bool      `json:"isAnimated"`
	FrameCount      int       `json:"frameCount"`
}

// Candidate is the internal unit ranked by the selector.
type Candidate struct {
	Image   *DecodedImage
	Meta    ImageMetadata
	Quality QualityMetrics

	// normalized holds the cached JPEG when the candidate came from the
	// cache; such candidates skip re-normalization so emitted bytes stay
	// byte-identical across runs.
	normalized []byte

	// inputIndex is the position of the candidate's URL in Job.URLs, so
	// late failures land on the right occurrence even when the input
	// repeats a URL.
	inputIndex int
}

// NormalizedImage is one emitted output: the pixel buffer after orientation
// fix, resize, and color normalization, plus its JPEG encoding.
type NormalizedImage struct {
	Image  image.Image
	JPEG   []byte
	Width  int
	Height int
}

// URLError records why one input URL did not reach the output.
type URLError struct {
	URL    string    `json:"url"`
	Kind   ErrorKind `json:"kind"`
	Detail string    `json:"detail,omitempty"`
}

// PipelineResult aggregates one run. Images, Metadata, and QualityScores are
// parallel slices of equal length, at most K entries, ordered by descending
// quality with stable ties.
type PipelineResult struct {
	Images         []NormalizedImage
	Metadata       []ImageMetadata
	QualityScores  []float64
	ProcessingTime time.Duration
	Errors         []URLError
}

// ProgressEvent is one stage transition during a run.
//
// Event values: "validate", "cache_hit", "download_start", "download_done",
// "retry", "decoded", "analyzed", "selected", "normalized", "cached",
// "url_done", "error", "done".
type ProgressEvent struct {
	Time time.Time `json:"time"`

	// Level is "debug", "info", "warn" or "error". Empty means "info".
	Level string `json:"level,omitempty"`

	Event string `json:"event"`

	// URLFingerprint is the first 16 hex chars of sha256(url).
	URLFingerprint string `json:"urlFp,omitempty"`

	Stage   string        `json:"stage,omitempty"`
	Attempt int           `json:"attempt,omitempty"`
	Elapsed time.Duration `json:"elapsed,omitempty"`
	Message string        `json:"message,omitempty"`

	// Done/Total track per-run completion for progress bars.
	Done  int `json:"done,omitempty"`
	Total int `json:"total,omitempty"`
}

// ProgressFunc receives progress events. It is invoked from multiple
// goroutines and must be safe for concurrent use.
type ProgressFunc func(ProgressEvent)
