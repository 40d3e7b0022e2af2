// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package imgpipeline

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a URL dropped out of the pipeline.
//
// Kinds are stable strings so callers can match on them without importing
// stage internals.
type ErrorKind string

const (
	// KindInvalidURL means the URL was rejected by the validator.
	KindInvalidURL ErrorKind = "INVALID_URL"

	// KindDownloadTimeout means the fetch timed out after all retries.
	KindDownloadTimeout ErrorKind = "DOWNLOAD_TIMEOUT"

	// KindHTTPError means a non-2xx response persisted after retries.
	// The status code is carried in the error detail.
	KindHTTPError ErrorKind = "HTTP_ERROR"

	// KindFileTooLarge means the declared or received body exceeded the byte cap.
	KindFileTooLarge ErrorKind = "FILE_TOO_LARGE"

	// KindRequestError means a connection, DNS, or TLS failure persisted
	// after retries.
	KindRequestError ErrorKind = "REQUEST_ERROR"

	// KindInvalidFormat means the bytes are not identifiable as a supported image.
	KindInvalidFormat ErrorKind = "INVALID_FORMAT"

	// KindCorruptedImage means the header parsed but the pixel decode failed.
	KindCorruptedImage ErrorKind = "CORRUPTED_IMAGE"

	// KindUnsupportedFormat means the format was recognized but is outside
	// the supported set.
	KindUnsupportedFormat ErrorKind = "UNSUPPORTED_FORMAT"

	// KindDecompressionBomb means the declared or realized pixel count
	// exceeds the configured cap.
	KindDecompressionBomb ErrorKind = "DECOMPRESSION_BOMB"

	// KindResizeFailed means the resize pass of normalization failed.
	KindResizeFailed ErrorKind = "RESIZE_FAILED"

	// KindConversionFailed means color-mode conversion or re-encoding failed.
	KindConversionFailed ErrorKind = "CONVERSION_FAILED"

	// KindQualityTooLow means the selection filter rejected the candidate.
	KindQualityTooLow ErrorKind = "QUALITY_TOO_LOW"

	// KindInternal is any other uncategorized failure.
	KindInternal ErrorKind = "INTERNAL"
)

// PipelineError wraps a per-URL stage failure with its taxonomy kind.
type PipelineError struct {
	Kind   ErrorKind
	URL    string
	Detail string
	Err    error
}

func (e *PipelineError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// stageErr builds a PipelineError with a formatted detail.
func stageErr(kind ErrorKind, url string, format string, args ...any) *PipelineError {
	return &PipelineError{Kind: kind, URL: url, Detail: fmt.Sprintf(format, args...)}
}

// wrapErr builds a PipelineError around an underlying error.
func wrapErr(kind ErrorKind, url string, err error) *PipelineError {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	return &PipelineError{Kind: kind, URL: url, Detail: detail, Err: err}
}

// KindOf extracts the ErrorKind from err, or KindInternal if it carries none.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}
