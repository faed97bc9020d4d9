// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dossier Contributors

package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dossier-dev/dossier/internal/answer"
)

// ChatStreamRequest is the request body for the SSE chat endpoint.
type ChatStreamRequest struct {
	Query   string        `json:"query" minLength:"1" doc:"User question"`
	Owner   string        `json:"owner,omitempty" doc:"Restrict retrieval to one owner; empty or \"All\" searches everyone"`
	History []ChatMessage `json:"history,omitempty" doc:"Prior conversation turns"`
}

// ChatMessage is one prior conversation turn on the wire.
type ChatMessage struct {
	Role    string `json:"role" enum:"user,assistant" doc:"Turn author"`
	Content string `json:"content" doc:"Turn text"`
}

func (s *Server) registerSSERoute() {
	s.router.Post("/api/v1/chat/stream", s.handleChatStream)

	// The SSE handler needs raw http.ResponseWriter access, so it cannot use
	// huma's standard handler signature. The chi route above does the real
	// work; this spec entry documents it.
	minQueryLen := 1
	s.api.OpenAPI().AddOperation(&huma.Operation{
		OperationID: "chat-stream",
		Method:      http.MethodPost,
		Path:        "/api/v1/chat/stream",
		Summary:     "Ask a question and stream the answer via SSE",
		Tags:        []string{"retrieval"},
		RequestBody: &huma.RequestBody{
			Required: true,
			Content: map[string]*huma.MediaType{
				"application/json": {
					Schema: &huma.Schema{
						Type:     "object",
						Required: []string{"query"},
						Properties: map[string]*huma.Schema{
							"query":   {Type: "string", MinLength: &minQueryLen, Description: "User question"},
							"owner":   {Type: "string", Description: "Owner filter"},
							"history": {Type: "array", Items: &huma.Schema{Type: "object"}},
						},
					},
				},
			},
		},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Server-sent event stream of delta, done, and error events",
				Content: map[string]*huma.MediaType{
					"text/event-stream": {
						Schema: &huma.Schema{Type: "string", Description: "SSE stream"},
					},
				},
			},
			"422": {Description: "Validation error (missing query)"},
		},
	})
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req ChatStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		http.Error(w, `{"error":"query is required"}`, http.StatusUnprocessableEntity)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, _ := w.(http.Flusher)

	if s.services.Answerer == nil {
		writeSSEEvent(w, flusher, "error", errorPayload("answer collaborator not configured"))
		return
	}

	count, err := s.services.Index.Count()
	if err == nil && count == 0 {
		writeSSEEvent(w, flusher, "delta", deltaPayload("Knowledge base is empty. Please upload documents first."))
		writeSSEEvent(w, flusher, "done", "{}")
		return
	}

	contexts, err := s.retrieve(r, req)
	if err != nil {
		slog.Warn("retrieval failed", "error", err)
		writeSSEEvent(w, flusher, "error", errorPayload("failed to process query"))
		return
	}

	history := make([]answer.Message, 0, len(req.History))
	for _, m := range req.History {
		history = append(history, answer.Message{Role: m.Role, Content: m.Content})
	}

	events, err := s.services.Answerer.Stream(r.Context(), req.Query, contexts, history)
	if err != nil {
		writeSSEEvent(w, flusher, "error", errorPayload("failed to start answer stream"))
		return
	}

	for ev := range events {
		switch ev.Type {
		case answer.EventTypeDelta:
			writeSSEEvent(w, flusher, "delta", deltaPayload(ev.Text))
		case answer.EventTypeDone:
			writeSSEEvent(w, flusher, "done", "{}")
		case answer.EventTypeError:
			slog.Warn("answer stream failed", "error", ev.Err)
			writeSSEEvent(w, flusher, "error", errorPayload("answer generation failed"))
		}
	}
}

// retrieve embeds the query and fetches the grounding chunks.
func (s *Server) retrieve(r *http.Request, req ChatStreamRequest) ([]answer.Context, error) {
	vec, err := s.services.Embedder.Embed(r.Context(), req.Query)
	if err != nil {
		return nil, err
	}
	results, err := s.services.Index.Search(vec, s.services.TopK, ownerFilter(req.Owner))
	if err != nil {
		return nil, err
	}
	contexts := make([]answer.Context, 0, len(results))
	for _, res := range results {
		contexts = append(contexts, answer.Context{Source: res.Source, Text: res.Text})
	}
	return contexts, nil
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event, data string) {
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return
	}
	if flusher != nil {
		flusher.Flush()
	}
}

func deltaPayload(text string) string {
	raw, _ := json.Marshal(struct {
		Text string `json:"text"`
	}{Text: text})
	return string(raw)
}

func errorPayload(msg string) string {
	raw, _ := json.Marshal(struct {
		Error string `json:"error"`
	}{Error: msg})
	return string(raw)
}
