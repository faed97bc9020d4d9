// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dossier Contributors

package extract

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ledongthuc/pdf"

	dserr "github.com/dossier-dev/dossier/pkg/errors"
)

// rasterDPI is the pdftoppm render resolution. 200dpi keeps small print
// legible for the vision model without producing oversized page images.
const rasterDPI = "200"

// extractPDF rasterizes every page to a scratch JPEG, then OCRs all pages
// concurrently. Page images are removed whether or not OCR succeeds. The
// image retry layer does not apply here; a failed page contributes no chunk.
func (e *Extractor) extractPDF(ctx context.Context, path string) ([]string, error) {
	expected, err := pageCount(path)
	if err != nil {
		return nil, dserr.Wrapf(err, dserr.CodeExtractPDFRenderFailure, "opening pdf %s", path)
	}

	scratch, err := os.MkdirTemp("", "dossier-pages-")
	if err != nil {
		return nil, dserr.Wrapf(err, dserr.CodeExtractPDFRenderFailure, "creating scratch dir")
	}
	defer func() { _ = os.RemoveAll(scratch) }()

	pages, err := rasterizePages(ctx, path, scratch)
	if err != nil {
		return nil, err
	}
	if len(pages) != expected {
		slog.Warn("rasterized page count differs from pdf page count",
			"file", path, "rasterized", len(pages), "pages", expected)
	}

	texts := make([]string, len(pages))
	var wg sync.WaitGroup
	for i, page := range pages {
		wg.Add(1)
		go func() {
			defer wg.Done()
			text, err := e.ocr.ExtractImage(ctx, page)
			if err != nil {
				slog.Warn("page ocr failed", "file", path, "page", i+1, "error", err)
				return
			}
			texts[i] = text
		}()
	}
	wg.Wait()

	chunks := make([]string, 0, len(texts))
	for _, t := range texts {
		if t != "" {
			chunks = append(chunks, t)
		}
	}
	return chunks, nil
}

// pageCount opens the PDF just far enough to validate it and count pages.
func pageCount(path string) (int, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()
	return reader.NumPage(), nil
}

// rasterizePages shells out to poppler's pdftoppm and returns the generated
// page images in page order. pdftoppm zero-pads page numbers, so a lexical
// sort preserves page order.
func rasterizePages(ctx context.Context, path, scratch string) ([]string, error) {
	prefix := filepath.Join(scratch, "page")

	cmd := exec.CommandContext(ctx, "pdftoppm", "-jpeg", "-r", rasterDPI, path, prefix)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, dserr.Wrapf(err, dserr.CodeExtractPDFRenderFailure,
			"rasterizing %s: %s", path, stderr.String())
	}

	pages, err := filepath.Glob(prefix + "-*.jpg")
	if err != nil {
		return nil, dserr.Wrapf(err, dserr.CodeExtractPDFRenderFailure, "listing page images for %s", path)
	}
	sort.Strings(pages)
	return pages, nil
}
