// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dossier Contributors

package server

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dossier-dev/dossier/pkg/errors"
)

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-progress",
		Method:      http.MethodGet,
		Path:        "/api/v1/progress",
		Summary:     "Current batch progress",
		Tags:        []string{"ingestion"},
	}, s.handleProgress)

	huma.Register(s.api, huma.Operation{
		OperationID: "search",
		Method:      http.MethodPost,
		Path:        "/api/v1/search",
		Summary:     "Search indexed chunks",
		Tags:        []string{"retrieval"},
	}, s.handleSearch)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-summary",
		Method:      http.MethodGet,
		Path:        "/api/v1/summary",
		Summary:     "Per-owner document summary",
		Tags:        []string{"documents"},
	}, s.handleSummary)

	huma.Register(s.api, huma.Operation{
		OperationID: "list-people",
		Method:      http.MethodGet,
		Path:        "/api/v1/people",
		Summary:     "List document owners",
		Tags:        []string{"documents"},
	}, s.handleListPeople)

	huma.Register(s.api, huma.Operation{
		OperationID: "delete-document",
		Method:      http.MethodPost,
		Path:        "/api/v1/documents/delete",
		Summary:     "Delete a document and its vectors",
		Tags:        []string{"documents"},
	}, s.handleDeleteDocument)

	// File viewing needs raw http.ResponseWriter access for ServeFile.
	s.router.Get("/api/v1/view", s.handleView)
	s.api.OpenAPI().AddOperation(&huma.Operation{
		OperationID: "view-document",
		Method:      http.MethodGet,
		Path:        "/api/v1/view",
		Summary:     "Serve an uploaded document by token",
		Tags:        []string{"documents"},
		Parameters: []*huma.Param{
			{Name: "token", In: "query", Required: true, Schema: &huma.Schema{Type: "string"}},
		},
		Responses: map[string]*huma.Response{
			"200": {Description: "The document bytes"},
			"400": {Description: "Invalid token"},
			"404": {Description: "File not found"},
		},
	})
}

// --- Request/Response types for huma ---

type progressOutput struct {
	Body ProgressSnapshot
}

type searchInput struct {
	Body struct {
		Query string `json:"query" minLength:"1" doc:"Query text"`
		Owner string `json:"owner,omitempty" doc:"Restrict results to one owner; empty or \"All\" searches everyone"`
		K     int    `json:"k,omitempty" minimum:"0" doc:"Result count; defaults to the configured top-k"`
	}
}

// SearchHit is one retrieved chunk.
type SearchHit struct {
	Text     string  `json:"text" doc:"Chunk text"`
	Source   string  `json:"source" doc:"Path of the source document"`
	Owner    string  `json:"owner" doc:"Document owner"`
	Filename string  `json:"filename" doc:"Source file name"`
	Distance float64 `json:"distance" doc:"L2 distance to the query"`
}

type searchOutput struct {
	Body struct {
		Results []SearchHit `json:"results"`
	}
}

// FileRef names an uploaded file together with its viewing token.
type FileRef struct {
	Name  string `json:"name" doc:"File name"`
	Token string `json:"token" doc:"Opaque token for the view and delete endpoints"`
}

// OwnerSummary aggregates one owner's indexed material.
type OwnerSummary struct {
	Person   string    `json:"person" doc:"Display name, enriched with the extracted real name when available"`
	PersonID string    `json:"person_id" doc:"Raw owner identifier"`
	Count    int       `json:"count" doc:"Indexed chunks for this owner"`
	Files    []FileRef `json:"files"`
}

type summaryOutput struct {
	Body struct {
		Summary []OwnerSummary `json:"summary"`
	}
}

// Person is a selectable owner for the chat filter.
type Person struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type peopleOutput struct {
	Body struct {
		People []Person `json:"people"`
	}
}

type deleteDocumentInput struct {
	Body struct {
		Token string `json:"token" minLength:"1" doc:"Token from the summary endpoint"`
	}
}

type deleteDocumentOutput struct {
	Body struct {
		Message string `json:"message"`
	}
}

// --- Handlers ---

func (s *Server) handleProgress(_ context.Context, _ *struct{}) (*progressOutput, error) {
	return &progressOutput{Body: s.progress.snapshot()}, nil
}

func (s *Server) handleSearch(ctx context.Context, input *searchInput) (*searchOutput, error) {
	k := input.Body.K
	if k <= 0 {
		k = s.services.TopK
	}
	owner := ownerFilter(input.Body.Owner)

	vec, err := s.services.Embedder.Embed(ctx, input.Body.Query)
	if err != nil {
		if errors.IsInvalidInput(err) {
			return nil, huma.Error422UnprocessableEntity("query must not be empty")
		}
		return nil, huma.Error502BadGateway("embedding query", err)
	}

	results, err := s.services.Index.Search(vec, k, owner)
	if err != nil {
		return nil, huma.Error500InternalServerError("searching index", err)
	}

	out := &searchOutput{}
	out.Body.Results = make([]SearchHit, 0, len(results))
	for _, r := range results {
		out.Body.Results = append(out.Body.Results, SearchHit{
			Text:     r.Text,
			Source:   r.Source,
			Owner:    r.Owner,
			Filename: r.Filename,
			Distance: r.Distance,
		})
	}
	return out, nil
}

func (s *Server) handleSummary(_ context.Context, _ *struct{}) (*summaryOutput, error) {
	entries, err := s.services.Index.Entries()
	if err != nil {
		return nil, huma.Error500InternalServerError("loading index metadata", err)
	}

	type acc struct {
		count    int
		files    []FileRef
		seen     map[string]bool
		realName string
	}
	byOwner := map[string]*acc{}
	var order []string

	for _, e := range entries {
		a, ok := byOwner[e.Owner]
		if !ok {
			a = &acc{seen: map[string]bool{}}
			byOwner[e.Owner] = a
			order = append(order, e.Owner)
		}
		a.count++
		if !a.seen[e.Filename] {
			a.seen[e.Filename] = true
			a.files = append(a.files, FileRef{Name: e.Filename, Token: encodeToken(e.Source)})
		}
		if a.realName == "" {
			a.realName = extractRealName(e.Text)
		}
	}

	out := &summaryOutput{}
	out.Body.Summary = make([]OwnerSummary, 0, len(order))
	for _, owner := range order {
		a := byOwner[owner]
		display := owner
		if a.realName != "" {
			display = fmt.Sprintf("%s (%s)", owner, a.realName)
		}
		out.Body.Summary = append(out.Body.Summary, OwnerSummary{
			Person:   display,
			PersonID: owner,
			Count:    a.count,
			Files:    a.files,
		})
	}
	return out, nil
}

func (s *Server) handleListPeople(_ context.Context, _ *struct{}) (*peopleOutput, error) {
	entries, err := s.services.Index.Entries()
	if err != nil {
		return nil, huma.Error500InternalServerError("loading index metadata", err)
	}

	realNames := map[string]string{}
	for _, e := range entries {
		if _, ok := realNames[e.Owner]; !ok {
			realNames[e.Owner] = ""
		}
		if realNames[e.Owner] == "" {
			realNames[e.Owner] = extractRealName(e.Text)
		}
	}

	owners := make([]string, 0, len(realNames))
	for owner := range realNames {
		owners = append(owners, owner)
	}
	sort.Strings(owners)

	out := &peopleOutput{}
	out.Body.People = append(out.Body.People, Person{ID: "All", Name: "全部"})
	for _, owner := range owners {
		display := owner
		if rn := realNames[owner]; rn != "" {
			display = fmt.Sprintf("%s (%s)", rn, owner)
		}
		out.Body.People = append(out.Body.People, Person{ID: owner, Name: display})
	}
	return out, nil
}

func (s *Server) handleDeleteDocument(_ context.Context, input *deleteDocumentInput) (*deleteDocumentOutput, error) {
	path, err := s.decodeToken(input.Body.Token)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid file token")
	}

	filename := filepath.Base(path)
	owner := filepath.Base(filepath.Dir(path))

	removed, err := s.services.Index.Delete(filename, owner)
	if err != nil {
		return nil, huma.Error500InternalServerError("deleting from index", err)
	}

	// The disk copy goes regardless of whether vectors were present; the
	// file may have been uploaded but never yielded indexable text.
	diskErr := os.Remove(path)
	if diskErr != nil && !os.IsNotExist(diskErr) {
		return nil, huma.Error500InternalServerError("removing file", diskErr)
	}

	if !removed && os.IsNotExist(diskErr) {
		return nil, huma.Error404NotFound(fmt.Sprintf("document %q not found", filename))
	}

	out := &deleteDocumentOutput{}
	out.Body.Message = fmt.Sprintf("成功删除文件 %s", filename)
	return out, nil
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, `{"error":"token is required"}`, http.StatusBadRequest)
		return
	}
	path, err := s.decodeToken(token)
	if err != nil {
		http.Error(w, `{"error":"invalid file token"}`, http.StatusBadRequest)
		return
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		http.Error(w, `{"error":"file not found"}`, http.StatusNotFound)
		return
	}
	http.ServeFile(w, r, path)
}

// encodeToken turns a source path into an opaque URL-safe token.
func encodeToken(path string) string {
	return base64.URLEncoding.EncodeToString([]byte(path))
}

// decodeToken reverses encodeToken and confines the result to the upload
// directory so a crafted token cannot reach arbitrary files.
func (s *Server) decodeToken(token string) (string, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return "", err
	}
	path, err := filepath.Abs(string(raw))
	if err != nil {
		return "", err
	}
	root, err := filepath.Abs(s.cfg.UploadDir)
	if err != nil {
		return "", err
	}
	if path != root && !strings.HasPrefix(path, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes upload directory")
	}
	return path, nil
}

// ownerFilter maps the wire-level owner selector to the index filter.
func ownerFilter(owner string) string {
	if owner == "All" {
		return ""
	}
	return owner
}
