// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dossier Contributors

package server

import (
	"context"

	"github.com/dossier-dev/dossier/internal/answer"
	"github.com/dossier-dev/dossier/internal/index"
	"github.com/dossier-dev/dossier/internal/ingest"
)

// Ingestor runs batches of saved files through the ingestion pipeline.
type Ingestor interface {
	IngestBatch(ctx context.Context, items []ingest.Item, progress ingest.Progress) (int, error)
}

// Indexer is the slice of the vector store the HTTP surface needs.
type Indexer interface {
	Search(query []float32, k int, owner string) ([]index.Result, error)
	Entries() ([]index.Entry, error)
	Delete(filename, owner string) (bool, error)
	Count() (int, error)
}

// Embedder maps query text to a dense vector for search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Answerer generates grounded answers over retrieved chunks.
type Answerer interface {
	Stream(ctx context.Context, query string, contexts []answer.Context, history []answer.Message) (<-chan answer.Event, error)
}

// Services carries the subsystem dependencies for the REST routes. All
// clients are constructed once at startup and shared across requests.
type Services struct {
	Ingest   Ingestor
	Index    Indexer
	Embedder Embedder
	Answerer Answerer

	// TopK is the retrieval depth for search and chat.
	TopK int
}

// RegisterServices sets the service dependencies and registers REST routes.
func (s *Server) RegisterServices(svc *Services) {
	if svc.TopK < 1 {
		svc.TopK = 5
	}
	s.services = svc
	s.registerRoutes()
	s.registerUploadRoute()
	s.registerSSERoute()
}
