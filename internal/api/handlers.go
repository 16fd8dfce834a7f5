package api

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lumozai/layout-aware-rag-demo/internal/evidence"
	"github.com/lumozai/layout-aware-rag-demo/internal/ingest"
	"github.com/lumozai/layout-aware-rag-demo/internal/query"
)

const maxQueryBody = 1 << 20

// UploadResponse is returned by POST /upload.
type UploadResponse struct {
	DocID      string `json:"doc_id"`
	Title      string `json:"title"`
	PageCount  int    `json:"page_count"`
	ChunkCount int    `json:"chunk_count"`
	Message    string `json:"message"`
}

// handleUpload handles POST /upload (multipart: file, title, family).
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(r.Context(), w, "TOO_LARGE", "file too large", http.StatusRequestEntityTooLarge)
			return
		}
		s.writeError(r.Context(), w, "BAD_REQUEST", "invalid multipart form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(r.Context(), w, "BAD_REQUEST", "file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	ctx, cancel := withTimeout(r.Context(), s.config.IngestTimeout)
	defer cancel()

	s.logger.InfoContext(ctx, "upload received", "filename", header.Filename, "size", header.Size)
	res, err := s.uploader.Upload(ctx, header.Filename, file, ingest.Options{
		Title:  r.FormValue("title"),
		Family: r.FormValue("family"),
	})
	if err != nil {
		s.writeFailure(ctx, w, "upload", err)
		return
	}

	respondJSON(w, http.StatusOK, UploadResponse{
		DocID:      res.DocID,
		Title:      res.Title,
		PageCount:  res.PageCount,
		ChunkCount: res.ChunkCount,
		Message:    "PDF processed successfully",
	})
}

// handleQuery handles POST /query.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	req := query.Request{DocType: evidence.DefaultFamily}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQueryBody))
	if err := dec.Decode(&req); err != nil {
		s.writeError(r.Context(), w, "BAD_REQUEST", "invalid request body", http.StatusBadRequest)
		return
	}

	ctx, cancel := withTimeout(r.Context(), s.config.QueryTimeout)
	defer cancel()

	resp, err := s.answerer.Answer(ctx, req)
	if err != nil {
		s.writeFailure(ctx, w, "query", err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleDocument handles GET /documents/{id}; a trailing .pdf is accepted.
func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSuffix(r.PathValue("id"), ".pdf")
	if _, err := uuid.Parse(id); err != nil {
		s.writeError(r.Context(), w, "BAD_REQUEST", "invalid document id", http.StatusBadRequest)
		return
	}

	path := filepath.Join(s.config.DocumentsDir, id+".pdf")
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		s.writeError(r.Context(), w, "NOT_FOUND", "document not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	http.ServeFile(w, r, path)
}

// handleChunk handles GET /chunks/{id}.
func (s *Server) handleChunk(w http.ResponseWriter, r *http.Request) {
	res, err := s.chunks.GetChunk(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(r.Context(), w, "get chunk", err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// handleViewer serves the evidence viewer. It reads doc, page and bbox
// from its own query string.
func (s *Server) handleViewer(w http.ResponseWriter, r *http.Request) {
	page, err := fs.ReadFile(staticFS, "static/viewer.html")
	if err != nil {
		s.writeError(r.Context(), w, "INTERNAL_ERROR", "viewer unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
