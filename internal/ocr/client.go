// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dossier Contributors

package ocr

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	dserr "github.com/dossier-dev/dossier/pkg/errors"
)

// extractPrompt instructs the vision model to behave as a plain OCR engine.
const extractPrompt = "Extract all text from this image. Output ONLY the extracted text. If there is no text, output nothing."

// Config holds OCR collaborator configuration.
type Config struct {
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// Client calls an OpenAI-compatible vision model to extract text from images.
// One Client is built at startup and shared across requests.
type Client struct {
	client openaisdk.Client
	model  string
}

// New creates an OCR client. The endpoint and model are required; the API key
// may be a placeholder for unauthenticated local deployments.
func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, dserr.New(dserr.CodeOCRRequestInvalid, "ocr: missing endpoint in config")
	}
	if cfg.Model == "" {
		return nil, dserr.New(dserr.CodeOCRRequestInvalid, "ocr: missing model in config")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.Endpoint),
		// Retry policy lives in the extractor, which only retries
		// connection-class failures. SDK-level retries would stack on top.
		option.WithMaxRetries(0),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	return &Client{client: openaisdk.NewClient(opts...), model: cfg.Model}, nil
}

// ExtractImage runs OCR over a single image file and returns the sanitized
// text. An empty string is a valid result meaning no text was found; errors
// are reserved for failed calls.
func (c *Client) ExtractImage(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", dserr.Wrapf(err, dserr.CodeOCRRequestInvalid, "reading image %s", path)
	}

	dataURL := "data:" + mimeType(path) + ";base64," + base64.StdEncoding.EncodeToString(data)

	params := openaisdk.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.UserMessage([]openaisdk.ChatCompletionContentPartUnionParam{
				openaisdk.ImageContentPart(openaisdk.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
				openaisdk.TextContentPart(extractPrompt),
			}),
		},
		Temperature: param.NewOpt(0.0),
		TopP:        param.NewOpt(0.95),
		MaxTokens:   param.NewOpt(int64(4096)),
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", dserr.Wrapf(err, dserr.CodeOCRUpstreamFailure, "ocr call for %s", path)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}

	return Sanitize(resp.Choices[0].Message.Content), nil
}

func mimeType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	default:
		return "image/jpeg"
	}
}
