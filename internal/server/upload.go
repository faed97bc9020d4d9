// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dossier Contributors

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/dossier-dev/dossier/internal/ingest"
)

const maxUploadMemory = 64 << 20

func (s *Server) registerUploadRoute() {
	// Multipart folder uploads need raw request access; huma's typed
	// handlers don't fit. The chi route does the work, the OpenAPI entry
	// below documents it.
	s.router.Post("/api/v1/upload", s.handleUpload)
	s.router.Post("/api/v1/documents", s.handleAddDocument)

	s.api.OpenAPI().AddOperation(&huma.Operation{
		OperationID: "upload-tree",
		Method:      http.MethodPost,
		Path:        "/api/v1/upload",
		Summary:     "Upload a folder of documents",
		Description: "Multipart form with one or more 'files' parts. Relative paths are preserved; each file's owner is its immediate parent folder. Ingestion runs in the background; poll /api/v1/progress.",
		Tags:        []string{"ingestion"},
		Responses: map[string]*huma.Response{
			"202": {Description: "Batch accepted"},
			"400": {Description: "Malformed multipart body or unsafe path"},
		},
	})
	s.api.OpenAPI().AddOperation(&huma.Operation{
		OperationID: "add-document",
		Method:      http.MethodPost,
		Path:        "/api/v1/documents",
		Summary:     "Add a single document to an owner",
		Description: "Multipart form with 'owner' and 'file' parts. Processed synchronously.",
		Tags:        []string{"ingestion"},
		Responses: map[string]*huma.Response{
			"200": {Description: "Document indexed"},
			"400": {Description: "Malformed request or no indexable text"},
		},
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	// Folder uploads carry the file's relative path in the Content-Disposition
	// filename. FileHeader.Filename strips directories per RFC 7578, so the
	// parts are read by hand to keep the owner folder intact.
	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, `{"error":"malformed multipart body"}`, http.StatusBadRequest)
		return
	}

	s.progress.begin(statusUploading)

	var items []ingest.Item
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.progress.finish(statusError)
			http.Error(w, `{"error":"malformed multipart body"}`, http.StatusBadRequest)
			return
		}
		if part.FormName() != "files" {
			part.Close()
			continue
		}
		rel := partFilename(part)
		target, err := s.saveUpload(part, rel)
		part.Close()
		if err != nil {
			s.progress.finish(statusError)
			slog.Warn("rejecting upload", "file", rel, "error", err)
			http.Error(w, `{"error":"unsafe or unwritable file path"}`, http.StatusBadRequest)
			return
		}
		items = append(items, ingest.Item{Path: target, Owner: s.uploadOwner(target)})
	}
	if len(items) == 0 {
		s.progress.finish(statusError)
		http.Error(w, `{"error":"no files provided"}`, http.StatusBadRequest)
		return
	}

	batchID := uuid.NewString()
	s.progress.processing(len(items))

	// Ingestion outlives the request; the upload response only acknowledges
	// receipt and the progress endpoint tracks the rest.
	go func() {
		n, err := s.services.Ingest.IngestBatch(context.Background(), items, s.progress.update)
		if err != nil {
			slog.Error("batch ingestion failed", "batch", batchID, "error", err)
			s.progress.finish(statusError)
			return
		}
		slog.Info("batch ingestion finished", "batch", batchID, "files", len(items), "indexed", n)
		s.progress.finish(statusDone)
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"batch_id": batchID,
		"saved":    len(items),
		"message":  fmt.Sprintf("已接收 %d 个文件，正在处理。", len(items)),
	})
}

func (s *Server) handleAddDocument(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		http.Error(w, `{"error":"malformed multipart body"}`, http.StatusBadRequest)
		return
	}
	owner := r.FormValue("owner")
	if owner == "" || owner != filepath.Base(owner) || owner == ".." || owner == "." {
		http.Error(w, `{"error":"owner is required"}`, http.StatusBadRequest)
		return
	}
	file, fh, err := r.FormFile("file")
	if err != nil {
		http.Error(w, `{"error":"file is required"}`, http.StatusBadRequest)
		return
	}
	defer file.Close()

	target, err := s.saveUpload(file, filepath.Join(owner, filepath.Base(fh.Filename)))
	if err != nil {
		http.Error(w, `{"error":"unsafe or unwritable file path"}`, http.StatusBadRequest)
		return
	}

	n, err := s.services.Ingest.IngestBatch(r.Context(), []ingest.Item{{Path: target, Owner: owner}}, nil)
	if err != nil {
		http.Error(w, `{"error":"processing failed"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if n == 0 {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"message": "文件已上传，但未提取到有效文本，未添加到知识库。",
		})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{
		"message": fmt.Sprintf("成功添加文件 %s", filepath.Base(target)),
	})
}

// partFilename extracts the filename from a part's Content-Disposition
// header without stripping directory components.
func partFilename(part *multipart.Part) string {
	_, params, err := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
	if err != nil {
		return ""
	}
	return params["filename"]
}

// saveUpload writes one multipart part under the upload directory,
// preserving the relative path and refusing anything that escapes it.
func (s *Server) saveUpload(src io.Reader, relPath string) (string, error) {
	if relPath == "" {
		return "", fmt.Errorf("missing filename")
	}
	rel := filepath.FromSlash(relPath)
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("absolute path %q", relPath)
	}
	target := filepath.Join(s.cfg.UploadDir, rel)
	root, err := filepath.Abs(s.cfg.UploadDir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes upload directory", relPath)
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	dst, err := os.Create(abs)
	if err != nil {
		return "", err
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return "", err
	}
	return abs, nil
}

// uploadOwner derives the owner from a saved file's parent folder. Files
// dropped directly into the upload root have no owner folder.
func (s *Server) uploadOwner(path string) string {
	parent := filepath.Dir(path)
	root, _ := filepath.Abs(s.cfg.UploadDir)
	if filepath.Clean(parent) == root {
		return "unknown"
	}
	return filepath.Base(parent)
}
