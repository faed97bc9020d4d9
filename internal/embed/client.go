// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dossier Contributors

package embed

import (
	"context"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	dserr "github.com/dossier-dev/dossier/pkg/errors"
)

// Config holds embedding collaborator configuration.
type Config struct {
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// Client produces fixed-dimension vectors from text via an OpenAI-compatible
// embeddings endpoint. One Client is built at startup and shared.
type Client struct {
	client openaisdk.Client
	model  string
}

// New creates an embedding client.
func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, dserr.New(dserr.CodeEmbedInputInvalid, "embed: missing endpoint in config")
	}
	if cfg.Model == "" {
		return nil, dserr.New(dserr.CodeEmbedInputInvalid, "embed: missing model in config")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.Endpoint),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	return &Client{client: openaisdk.NewClient(opts...), model: cfg.Model}, nil
}

// Embed turns one text into a vector. Whitespace-only input fails without
// calling the collaborator. Newlines are normalized to spaces first; the
// embedding model is sensitive to embedded newlines.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, dserr.New(dserr.CodeEmbedInputInvalid, "embed: empty input")
	}

	text = strings.ReplaceAll(text, "\n", " ")

	resp, err := c.client.Embeddings.New(ctx, openaisdk.EmbeddingNewParams{
		Input: openaisdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{text}},
		Model: openaisdk.EmbeddingModel(c.model),
	})
	if err != nil {
		return nil, dserr.Wrapf(err, dserr.CodeEmbedUpstreamFailure, "embedding call")
	}
	if len(resp.Data) == 0 {
		return nil, dserr.New(dserr.CodeEmbedUpstreamFailure, "embed: empty response data")
	}

	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}
