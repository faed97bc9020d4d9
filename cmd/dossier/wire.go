// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dossier Contributors

package main

import (
	"os"

	"github.com/dossier-dev/dossier/internal/answer"
	"github.com/dossier-dev/dossier/internal/config"
	"github.com/dossier-dev/dossier/internal/embed"
	"github.com/dossier-dev/dossier/internal/extract"
	"github.com/dossier-dev/dossier/internal/index"
	"github.com/dossier-dev/dossier/internal/ingest"
	"github.com/dossier-dev/dossier/internal/ocr"
	dserr "github.com/dossier-dev/dossier/pkg/errors"
)

// App holds all wired subsystems. Collaborator clients are constructed once
// here and shared for the life of the process.
type App struct {
	Config    *config.Config
	Extractor *extract.Extractor
	Embedder  *embed.Client
	Answerer  *answer.Client
	Store     *index.Store
	Pipeline  *ingest.Pipeline
}

// wireApp creates all subsystems in dependency order: clients, store,
// pipeline. The answer client is optional; commands that need it check.
func wireApp(cfg *config.Config) (*App, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, dserr.Errorf(dserr.CodeCLISetupFailure, "creating data directory: %w", err)
	}

	ocrClient, err := ocr.New(ocr.Config{
		Endpoint: cfg.OCR.Endpoint,
		APIKey:   cfg.OCR.APIKey,
		Model:    cfg.OCR.Model,
		Timeout:  cfg.OCR.Timeout,
	})
	if err != nil {
		return nil, dserr.Wrapf(err, dserr.CodeCLISetupFailure, "creating OCR client")
	}

	extractor := extract.New(ocrClient, extract.Config{
		RetryAttempts: cfg.Ingest.RetryAttempts,
		RetryBackoff:  cfg.Ingest.RetryBackoff,
		Extensions:    cfg.Ingest.Extensions,
	})

	if cfg.Embedding.Endpoint == "" {
		return nil, dserr.New(dserr.CodeCLISetupFailure, "embedding endpoint is not configured")
	}
	embedder, err := embed.New(embed.Config{
		Endpoint: cfg.Embedding.Endpoint,
		APIKey:   cfg.Embedding.APIKey,
		Model:    cfg.Embedding.Model,
		Timeout:  cfg.Embedding.Timeout,
	})
	if err != nil {
		return nil, dserr.Wrapf(err, dserr.CodeCLISetupFailure, "creating embedding client")
	}

	var answerer *answer.Client
	if cfg.Answer.Endpoint != "" {
		answerer, err = answer.New(answer.Config{
			Endpoint: cfg.Answer.Endpoint,
			APIKey:   cfg.Answer.APIKey,
			Model:    cfg.Answer.Model,
			Timeout:  cfg.Answer.Timeout,
		})
		if err != nil {
			return nil, dserr.Wrapf(err, dserr.CodeCLISetupFailure, "creating answer client")
		}
	}

	store := index.NewStore(cfg.IndexPath(), cfg.MetadataPath())

	pipeline := ingest.New(extractor, embedder, store, ingest.Config{
		TreeConcurrency: cfg.Ingest.TreeConcurrency,
		BulkDelay:       cfg.Ingest.BulkDelay,
	})

	return &App{
		Config:    cfg,
		Extractor: extractor,
		Embedder:  embedder,
		Answerer:  answerer,
		Store:     store,
		Pipeline:  pipeline,
	}, nil
}
