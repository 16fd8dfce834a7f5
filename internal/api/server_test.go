package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumozai/layout-aware-rag-demo/internal/chunk"
	"github.com/lumozai/layout-aware-rag-demo/internal/citation"
	"github.com/lumozai/layout-aware-rag-demo/internal/embedding"
	"github.com/lumozai/layout-aware-rag-demo/internal/evidence"
	"github.com/lumozai/layout-aware-rag-demo/internal/ingest"
	"github.com/lumozai/layout-aware-rag-demo/internal/parser"
	"github.com/lumozai/layout-aware-rag-demo/internal/query"
	"github.com/lumozai/layout-aware-rag-demo/internal/retrieval"
	"github.com/lumozai/layout-aware-rag-demo/internal/store/memory"
)

var fakePDF = []byte("%PDF-1.7\n% fake body\n%%EOF\n")

type testEnv struct {
	srv    *Server
	cfg    *Config
	gw     *memory.Gateway
	docDir string
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	docDir := filepath.Join(root, "documents")

	p := parser.Func(func(ctx context.Context, _ string) (*parser.Document, error) {
		return parser.JSONFile{}.Parse(ctx, "../parser/testdata/fair_housing.json")
	})
	e := embedding.NewHash(64)
	gw := memory.New()
	ing := ingest.NewService(p, chunk.NewBuilder(e, chunk.Options{}, nil), gw,
		ingest.Config{UploadDir: filepath.Join(root, "uploads"), DocumentsDir: docDir}, nil)
	qs := query.NewService(retrieval.NewRanker(e, gw, nil), citation.KeywordSynthesizer{}, nil)

	cfg := DefaultConfig()
	cfg.DocumentsDir = docDir
	return &testEnv{srv: New(cfg, ing, qs, gw, nil, nil), cfg: cfg, gw: gw, docDir: docDir}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)
	return w
}

func multipartUpload(t *testing.T, filename string, body []byte, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(body)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonQuery(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func upload(t *testing.T, e *testEnv) UploadResponse {
	t.Helper()
	w := e.do(t, multipartUpload(t, "fair_housing.pdf", fakePDF, map[string]string{"family": "housing"}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp UploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestUpload(t *testing.T) {
	e := newEnv(t)

	resp := upload(t, e)
	_, err := uuid.Parse(resp.DocID)
	require.NoError(t, err)
	assert.Equal(t, "fair_housing", resp.Title)
	assert.Equal(t, 2, resp.PageCount)
	assert.Equal(t, 2, resp.ChunkCount)
	assert.Equal(t, "PDF processed successfully", resp.Message)

	for _, path := range []string{"/documents/" + resp.DocID, "/documents/" + resp.DocID + ".pdf"} {
		w := e.do(t, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, w.Code, path)
		assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
		assert.Equal(t, fakePDF, w.Body.Bytes())
	}
}

func TestUpload_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		body     []byte
		detail   string
	}{
		{"not a pdf name", "notes.txt", fakePDF, "only PDF files are supported"},
		{"not a pdf body", "notes.pdf", []byte("plain text"), "only PDF files are supported"},
		{"no file", "", nil, "file is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			w := e.do(t, multipartUpload(t, tt.filename, tt.body, nil))
			assert.Equal(t, http.StatusBadRequest, w.Code)
			resp := decodeError(t, w)
			assert.Equal(t, tt.detail, resp.Detail)
			assert.Equal(t, "BAD_REQUEST", resp.Code)
			assert.NotEmpty(t, resp.CorrelationID)
		})
	}
}

func TestUpload_TooLarge(t *testing.T) {
	e := newEnv(t)
	e.srv.maxUploadBytes = 64

	big := append(append([]byte{}, fakePDF...), bytes.Repeat([]byte("x"), 4096)...)
	w := e.do(t, multipartUpload(t, "big.pdf", big, nil))
	assert.Contains(t, []int{http.StatusBadRequest, http.StatusRequestEntityTooLarge}, w.Code)
	_, _, chunks := e.gw.Counts()
	assert.Zero(t, chunks)
}

func TestQuery(t *testing.T) {
	e := newEnv(t)
	doc := upload(t, e)

	w := e.do(t, jsonQuery(`{"query":"What does handicap mean?","doc_type":"general","k":10,"limit":5}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp query.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Chunks)
	assert.LessOrEqual(t, len(resp.Chunks), 5)
	require.NotEmpty(t, resp.CitedChunks, resp.Answer)
	for id, c := range resp.CitedChunks {
		assert.Equal(t, doc.DocID, c.DocID)
		assert.Contains(t, resp.Answer, "["+id+"]")
		assert.Contains(t, resp.AnswerHTML, "/viewer?doc="+doc.DocID)
	}
}

func TestQuery_EmptyStore(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, jsonQuery(`{"query":"anything at all"}`))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `"chunks":[]`)
	assert.Contains(t, body, `"cited_chunks":{}`)
	assert.Contains(t, body, citation.NoResultsAnswer)
}

func TestQuery_BadRequests(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		detail string
	}{
		{"empty query", `{"query":"   "}`, "query must not be empty"},
		{"missing query", `{}`, "query must not be empty"},
		{"malformed json", `{"query":`, "invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			w := e.do(t, jsonQuery(tt.body))
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.detail, decodeError(t, w).Detail)
		})
	}
}

type failingAnswerer struct{ err error }

func (f failingAnswerer) Answer(context.Context, query.Request) (*query.Response, error) {
	return nil, f.err
}

func TestQuery_UpstreamFailure(t *testing.T) {
	cause := evidence.UpstreamError("embed query", errors.New("connection refused"))

	for _, expose := range []bool{false, true} {
		cfg := DefaultConfig()
		cfg.ExposeErrors = expose
		srv := New(cfg, nil, failingAnswerer{err: cause}, memory.New(), nil, nil)

		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, jsonQuery(`{"query":"q"}`))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		resp := decodeError(t, w)
		if expose {
			assert.Equal(t, "processing failed: embed query: connection refused", resp.Detail)
		} else {
			assert.Equal(t, "processing failed", resp.Detail)
		}
	}
}

func TestDocuments_Errors(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, httptest.NewRequest(http.MethodGet, "/documents/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, httptest.NewRequest(http.MethodGet, "/documents/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "document not found", decodeError(t, w).Detail)
}

func TestChunks(t *testing.T) {
	e := newEnv(t)
	doc := upload(t, e)

	w := e.do(t, jsonQuery(`{"query":"dwelling"}`))
	require.Equal(t, http.StatusOK, w.Code)
	var resp query.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Chunks)
	id := resp.Chunks[0].Chunk.ID

	w = e.do(t, httptest.NewRequest(http.MethodGet, "/chunks/"+id, nil))
	require.Equal(t, http.StatusOK, w.Code)
	var got evidence.QueryResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, id, got.Chunk.ID)
	assert.Equal(t, doc.DocID, got.Doc.ID)

	w = e.do(t, httptest.NewRequest(http.MethodGet, "/chunks/deadbeef", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestViewerAndOps(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, httptest.NewRequest(http.MethodGet, "/viewer?doc=d1&page=2&bbox=1,2,3,4", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "convertToViewportRectangle")

	w = e.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "layoutrag_query_total")
}

func TestMiddleware(t *testing.T) {
	e := newEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(CorrelationHeader, "abc-123")
	w := e.do(t, req)
	assert.Equal(t, "abc-123", w.Header().Get(CorrelationHeader))
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = e.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	_, err := uuid.Parse(w.Header().Get(CorrelationHeader))
	assert.NoError(t, err)

	w = e.do(t, httptest.NewRequest(http.MethodOptions, "/upload", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestCORS_AllowList(t *testing.T) {
	h := corsMiddleware([]string{"https://app.example"}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://app.example")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
