// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dossier Contributors

package extract

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"path/filepath"
	"strings"
	"time"

	dserr "github.com/dossier-dev/dossier/pkg/errors"
)

// OCRClient is the collaborator that turns one image into text. An empty
// string with a nil error means the image contains no text.
type OCRClient interface {
	ExtractImage(ctx context.Context, path string) (string, error)
}

// Config holds extractor tuning.
type Config struct {
	// RetryAttempts caps OCR attempts per image, including the first.
	RetryAttempts int
	// RetryBackoff is the base delay; attempt n waits n * RetryBackoff.
	RetryBackoff time.Duration
	// Extensions lists ingestible file suffixes, lowercase with dot.
	Extensions []string
}

// Extractor turns one file into zero or more text chunks, one per image or
// PDF page, in page order.
type Extractor struct {
	ocr      OCRClient
	attempts int
	backoff  time.Duration
	exts     map[string]bool
}

// New creates an Extractor. Zero-value config fields fall back to the
// production defaults (3 attempts, 1s backoff, pdf/png/jpg/jpeg).
func New(ocr OCRClient, cfg Config) *Extractor {
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = []string{".pdf", ".png", ".jpg", ".jpeg"}
	}

	exts := make(map[string]bool, len(cfg.Extensions))
	for _, ext := range cfg.Extensions {
		exts[strings.ToLower(ext)] = true
	}

	return &Extractor{
		ocr:      ocr,
		attempts: cfg.RetryAttempts,
		backoff:  cfg.RetryBackoff,
		exts:     exts,
	}
}

// Supported reports whether the file's extension is ingestible.
func (e *Extractor) Supported(path string) bool {
	return e.exts[strings.ToLower(filepath.Ext(path))]
}

// Extract returns the ordered text chunks of a file: one chunk for an image,
// one per page for a PDF. Pages and images that yield no text are omitted.
func (e *Extractor) Extract(ctx context.Context, path string) ([]string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !e.exts[ext] {
		return nil, dserr.New(dserr.CodeExtractFileUnsupported, "unsupported file type", dserr.FieldFile(path))
	}

	if ext == ".pdf" {
		return e.extractPDF(ctx, path)
	}
	return e.extractImage(ctx, path)
}

// extractImage runs OCR over a single image with bounded retry. Only
// connection-class failures are retried; anything else aborts immediately.
func (e *Extractor) extractImage(ctx context.Context, path string) ([]string, error) {
	for attempt := 1; ; attempt++ {
		text, err := e.ocr.ExtractImage(ctx, path)
		if err == nil {
			if text == "" {
				return nil, nil
			}
			return []string{text}, nil
		}

		if !isConnectionError(err) || attempt >= e.attempts {
			return nil, err
		}

		slog.Warn("transient ocr failure, retrying",
			"file", path, "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * e.backoff):
		}
	}
}

// isConnectionError classifies transient connection-level failures that are
// worth retrying. Upstream API errors (4xx/5xx payloads) are not.
func isConnectionError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "connection")
}
