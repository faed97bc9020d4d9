// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dossier Contributors

package answer_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dossier-dev/dossier/internal/answer"
	"github.com/dossier-dev/dossier/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// streamStub serves an OpenAI-compatible streaming chat completion that
// emits the given deltas, recording the request body it received.
func streamStub(t *testing.T, deltas []string, body *string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		if body != nil {
			*body = string(raw)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, d := range deltas {
			chunk := map[string]any{
				"id":     "chatcmpl-1",
				"object": "chat.completion.chunk",
				"model":  "qwq-32b",
				"choices": []map[string]any{
					{"index": 0, "delta": map[string]any{"content": d}},
				},
			}
			payload, err := json.Marshal(chunk)
			require.NoError(t, err)
			fmt.Fprintf(w, "data: %s\n\n", payload)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func newClient(t *testing.T, endpoint string) *answer.Client {
	t.Helper()
	c, err := answer.New(answer.Config{Endpoint: endpoint, APIKey: "test", Model: "qwq-32b"})
	require.NoError(t, err)
	return c
}

func collect(t *testing.T, ch <-chan answer.Event) ([]string, answer.Event) {
	t.Helper()
	var deltas []string
	var terminal answer.Event
	for ev := range ch {
		switch ev.Type {
		case answer.EventTypeDelta:
			deltas = append(deltas, ev.Text)
		default:
			terminal = ev
		}
	}
	return deltas, terminal
}

func TestNew_Validation(t *testing.T) {
	_, err := answer.New(answer.Config{Model: "m"})
	require.Error(t, err)

	_, err = answer.New(answer.Config{Endpoint: "http://localhost"})
	require.Error(t, err)
}

func TestStream_DeliversDeltasThenDone(t *testing.T) {
	var body string
	srv := streamStub(t, []string{"李", "明", "的出生日期是1990年。"}, &body)
	defer srv.Close()

	c := newClient(t, srv.URL)
	ch, err := c.Stream(context.Background(), "他的生日是什么时候？",
		[]answer.Context{{Source: "id.jpg", Text: "姓名:李明 出生:1990"}},
		[]answer.Message{{Role: "user", Content: "李明是谁？"}, {Role: "assistant", Content: "一位用户。"}})
	require.NoError(t, err)

	deltas, terminal := collect(t, ch)
	assert.Equal(t, "李明的出生日期是1990年。", strings.Join(deltas, ""))
	assert.Equal(t, answer.EventTypeDone, terminal.Type)

	// The request carries the system prompt, history, and grounded query.
	assert.Contains(t, body, "智能文档助手")
	assert.Contains(t, body, "李明是谁？")
	assert.Contains(t, body, "来源: id.jpg")
	assert.Contains(t, body, "用户问题: 他的生日是什么时候？")
}

func TestStream_NoContextShortCircuits(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newClient(t, srv.URL)
	ch, err := c.Stream(context.Background(), "anything", nil, nil)
	require.NoError(t, err)

	deltas, terminal := collect(t, ch)
	require.Len(t, deltas, 1)
	assert.Contains(t, deltas[0], "无法在提供的文档中找到")
	assert.Equal(t, answer.EventTypeDone, terminal.Type)
	assert.False(t, called, "collaborator is not called without contexts or history")
}

func TestStream_HistoryAloneStillCalls(t *testing.T) {
	srv := streamStub(t, []string{"好的。"}, nil)
	defer srv.Close()

	c := newClient(t, srv.URL)
	ch, err := c.Stream(context.Background(), "继续", nil,
		[]answer.Message{{Role: "user", Content: "你好"}})
	require.NoError(t, err)

	deltas, terminal := collect(t, ch)
	assert.Equal(t, []string{"好的。"}, deltas)
	assert.Equal(t, answer.EventTypeDone, terminal.Type)
}

func TestStream_UpstreamErrorEndsWithErrorEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newClient(t, srv.URL)
	ch, err := c.Stream(context.Background(), "q",
		[]answer.Context{{Source: "s", Text: "t"}}, nil)
	require.NoError(t, err)

	_, terminal := collect(t, ch)
	require.Equal(t, answer.EventTypeError, terminal.Type)
	require.Error(t, terminal.Err)
	assert.Equal(t, errors.CodeAnswerUpstreamFailure, errors.CodeOf(terminal.Err))
}

func TestAnswer_ReturnsCompletion(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		body = string(raw)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "qwq-32b",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Born in 1990."}, "finish_reason": "stop"}]
		}`)
	}))
	defer srv.Close()

	c := newClient(t, srv.URL)
	got, err := c.Answer(context.Background(), "When was Li Ming born?",
		[]answer.Context{{Source: "id.jpg", Text: "Name: Li Ming, born 1990"}})
	require.NoError(t, err)
	assert.Equal(t, "Born in 1990.", got)
	assert.Contains(t, body, "Source: id.jpg")
	assert.Contains(t, body, "Question: When was Li Ming born?")
}

func TestAnswer_NoContexts(t *testing.T) {
	c := newClient(t, "http://localhost:0")
	got, err := c.Answer(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Contains(t, got, "couldn't find any relevant information")
}
