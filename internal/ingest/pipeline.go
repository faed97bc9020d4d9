// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dossier Contributors

// Package ingest turns documents on disk into indexed, owner-scoped chunks.
// It wires the extractor, the embedding client, and the vector store into a
// single pipeline with file, tree, and batch entry points.
package ingest

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dossier-dev/dossier/internal/index"
	"github.com/dossier-dev/dossier/pkg/errors"
)

// minChunkRunes is the shortest extracted chunk worth indexing. Anything
// below this is OCR noise (stray punctuation, single glyphs).
const minChunkRunes = 5

// Extractor produces text chunks from a document on disk.
type Extractor interface {
	Extract(ctx context.Context, path string) ([]string, error)
	Supported(path string) bool
}

// Embedder maps a text chunk to a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Indexer is the slice of the vector store the pipeline writes to.
type Indexer interface {
	Append(vectors [][]float32, entries []index.Entry) error
}

// Progress reports batch advancement. It is invoked after each file
// completes, successful or not, and once more when the batch is done with
// processed == total. Callbacks are serialized; processed never decreases.
type Progress func(processed, total int, label string)

// Item is one file in a batch ingestion request.
type Item struct {
	Path  string
	Owner string
}

// Config bounds the pipeline's concurrency and pacing.
type Config struct {
	// TreeConcurrency caps simultaneous files during a tree walk.
	TreeConcurrency int
	// BulkDelay is the pause between files in a serialized batch.
	BulkDelay time.Duration
}

// Pipeline coordinates extraction, embedding, and indexing. All collaborator
// clients are constructed once by the caller and reused across batches.
type Pipeline struct {
	extractor Extractor
	embedder  Embedder
	store     Indexer
	cfg       Config
}

func New(extractor Extractor, embedder Embedder, store Indexer, cfg Config) *Pipeline {
	if cfg.TreeConcurrency < 1 {
		cfg.TreeConcurrency = 5
	}
	return &Pipeline{
		extractor: extractor,
		embedder:  embedder,
		store:     store,
		cfg:       cfg,
	}
}

// IngestFile runs one document through extract, embed, and append. Chunks
// shorter than minChunkRunes after trimming are dropped, as are chunks whose
// embedding fails; the survivors are appended in their original order as a
// single batch. The returned bool reports whether anything was indexed.
func (p *Pipeline) IngestFile(ctx context.Context, path, owner string) (bool, error) {
	chunks, err := p.extractor.Extract(ctx, path)
	if err != nil {
		return false, err
	}

	kept := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if utf8.RuneCountInString(strings.TrimSpace(chunk)) < minChunkRunes {
			continue
		}
		kept = append(kept, chunk)
	}
	if len(kept) == 0 {
		slog.Info("no usable text extracted", "file", path)
		return false, nil
	}

	vectors := make([][]float32, len(kept))
	var wg sync.WaitGroup
	for i, chunk := range kept {
		wg.Add(1)
		go func(i int, chunk string) {
			defer wg.Done()
			vec, err := p.embedder.Embed(ctx, chunk)
			if err != nil {
				slog.Warn("embedding failed, dropping chunk",
					"file", path, "chunk", i, "error", err)
				return
			}
			vectors[i] = vec
		}(i, chunk)
	}
	wg.Wait()

	// Keep position pairing intact: survivors stay in chunk order.
	filename := filepath.Base(path)
	outVecs := make([][]float32, 0, len(kept))
	outEntries := make([]index.Entry, 0, len(kept))
	for i, vec := range vectors {
		if vec == nil {
			continue
		}
		outVecs = append(outVecs, vec)
		outEntries = append(outEntries, index.Entry{
			Text:     kept[i],
			Source:   path,
			Owner:    owner,
			Filename: filename,
		})
	}
	if len(outVecs) == 0 {
		return false, nil
	}

	if err := p.store.Append(outVecs, outEntries); err != nil {
		return false, err
	}
	slog.Info("ingested file", "file", path, "owner", owner, "chunks", len(outVecs))
	return true, nil
}

// IngestTree walks root and ingests every supported file, bounded by
// TreeConcurrency. The owner of each file is the name of its immediate
// parent directory; files sitting directly in root belong to base(root).
// Per-file failures are logged and counted as processed, never fatal.
// Returns the number of files attempted, which includes failed ones.
func (p *Pipeline) IngestTree(ctx context.Context, root string, progress Progress) (int, error) {
	var items []Item
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !p.extractor.Supported(path) {
			return nil
		}
		items = append(items, Item{Path: path, Owner: ownerFor(root, path)})
		return nil
	})
	if err != nil {
		return 0, errors.Wrapf(err, errors.CodeIngestWalkFailure, "walking %s", root)
	}

	total := len(items)
	var (
		mu        sync.Mutex
		processed int
		succeeded int
	)
	report := func(label string) {
		mu.Lock()
		processed++
		done := processed
		mu.Unlock()
		if progress != nil {
			progress(done, total, label)
		}
	}

	sem := make(chan struct{}, p.cfg.TreeConcurrency)
	var wg sync.WaitGroup
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(item Item) {
			defer wg.Done()
			defer func() { <-sem }()
			ok, err := p.IngestFile(ctx, item.Path, item.Owner)
			if err != nil {
				slog.Warn("ingestion failed", "file", item.Path, "error", err)
			} else if ok {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
			report(filepath.Base(item.Path))
		}(item)
	}
	wg.Wait()

	if progress != nil {
		progress(total, total, "")
	}
	slog.Info("tree ingestion finished",
		"root", root, "processed", processed, "indexed", succeeded)
	return processed, ctx.Err()
}

// IngestBatch processes items one at a time with BulkDelay between files.
// Uploads from the HTTP surface go through here; the serialized pacing keeps
// pressure off the OCR collaborator. Reporting matches IngestTree.
func (p *Pipeline) IngestBatch(ctx context.Context, items []Item, progress Progress) (int, error) {
	total := len(items)
	succeeded := 0
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return succeeded, err
		}
		ok, err := p.IngestFile(ctx, item.Path, item.Owner)
		if err != nil {
			slog.Warn("ingestion failed", "file", item.Path, "error", err)
		} else if ok {
			succeeded++
		}
		if progress != nil {
			progress(i+1, total, filepath.Base(item.Path))
		}
		if i < total-1 && p.cfg.BulkDelay > 0 {
			select {
			case <-ctx.Done():
				return succeeded, ctx.Err()
			case <-time.After(p.cfg.BulkDelay):
			}
		}
	}
	if progress != nil {
		progress(total, total, "")
	}
	return succeeded, nil
}

// ownerFor derives the owner from a file's position under root.
func ownerFor(root, path string) string {
	parent := filepath.Dir(path)
	if filepath.Clean(parent) == filepath.Clean(root) {
		return filepath.Base(root)
	}
	return filepath.Base(parent)
}
