// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dossier Contributors

package ocr_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dossier-dev/dossier/internal/ocr"
	dserr "github.com/dossier-dev/dossier/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scan.jpg")
	require.NoError(t, os.WriteFile(path, []byte("not-really-a-jpeg"), 0o644))
	return path
}

// chatCompletionStub serves an OpenAI-style chat completion with the given
// assistant content and captures the request body for assertions.
func chatCompletionStub(t *testing.T, content string, captured *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(captured))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-test",
			"object": "chat.completion",
			"choices": []map[string]any{
				{
					"index":         0,
					"finish_reason": "stop",
					"message":       map[string]any{"role": "assistant", "content": content},
				},
			},
		})
	}))
}

func TestNew_RequiresEndpointAndModel(t *testing.T) {
	_, err := ocr.New(ocr.Config{Model: "HunyuanOCR"})
	require.Error(t, err)
	assert.True(t, dserr.IsInvalidInput(err))

	_, err = ocr.New(ocr.Config{Endpoint: "http://localhost:8009/v1"})
	require.Error(t, err)
	assert.True(t, dserr.IsInvalidInput(err))
}

func TestExtractImage_ReturnsSanitizedText(t *testing.T) {
	var captured map[string]any
	srv := chatCompletionStub(t, "```json\n[{\"text\": \"Name: 张三\"}]\n```", &captured)
	defer srv.Close()

	client, err := ocr.New(ocr.Config{Endpoint: srv.URL, APIKey: "EMPTY", Model: "HunyuanOCR"})
	require.NoError(t, err)

	text, err := client.ExtractImage(context.Background(), writeTestImage(t))
	require.NoError(t, err)
	assert.Equal(t, "Name: 张三", text)

	// The request must carry the image as a base64 data URL content part.
	require.NotNil(t, captured)
	assert.Equal(t, "HunyuanOCR", captured["model"])
	raw, err := json.Marshal(captured["messages"])
	require.NoError(t, err)
	assert.Contains(t, string(raw), "data:image/jpeg;base64,")
}

func TestExtractImage_FailurePhraseYieldsEmpty(t *testing.T) {
	srv := chatCompletionStub(t, "No text found.", nil)
	defer srv.Close()

	client, err := ocr.New(ocr.Config{Endpoint: srv.URL, APIKey: "EMPTY", Model: "HunyuanOCR"})
	require.NoError(t, err)

	text, err := client.ExtractImage(context.Background(), writeTestImage(t))
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestExtractImage_UpstreamErrorIsWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error": {"message": "boom"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, err := ocr.New(ocr.Config{Endpoint: srv.URL, APIKey: "EMPTY", Model: "HunyuanOCR"})
	require.NoError(t, err)

	_, err = client.ExtractImage(context.Background(), writeTestImage(t))
	require.Error(t, err)
	assert.True(t, dserr.HasCode(err, dserr.CodeOCRUpstreamFailure))
}

func TestExtractImage_MissingFile(t *testing.T) {
	srv := chatCompletionStub(t, "unused", nil)
	defer srv.Close()

	client, err := ocr.New(ocr.Config{Endpoint: srv.URL, APIKey: "EMPTY", Model: "HunyuanOCR"})
	require.NoError(t, err)

	_, err = client.ExtractImage(context.Background(), filepath.Join(t.TempDir(), "missing.jpg"))
	require.Error(t, err)
	assert.True(t, dserr.HasCode(err, dserr.CodeOCRRequestInvalid))
}

func TestExtractImage_PNGMimeType(t *testing.T) {
	var captured map[string]any
	srv := chatCompletionStub(t, "ok", &captured)
	defer srv.Close()

	client, err := ocr.New(ocr.Config{Endpoint: srv.URL, APIKey: "EMPTY", Model: "HunyuanOCR"})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "scan.PNG")
	require.NoError(t, os.WriteFile(path, []byte("png-bytes"), 0o644))

	_, err = client.ExtractImage(context.Background(), path)
	require.NoError(t, err)

	raw, err := json.Marshal(captured["messages"])
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), "data:image/png;base64,"))
}
