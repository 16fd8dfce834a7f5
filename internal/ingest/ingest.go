// Package ingest drives an uploaded document through parsing, chunk
// building and the evidence store.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lumozai/layout-aware-rag-demo/internal/evidence"
	"github.com/lumozai/layout-aware-rag-demo/internal/observability"
	"github.com/lumozai/layout-aware-rag-demo/internal/parser"
	"github.com/lumozai/layout-aware-rag-demo/internal/store"
)

var (
	// ErrNotPDF rejects uploads without a .pdf name or the PDF signature.
	ErrNotPDF = errors.New("only PDF files are supported")
)

// Config locates upload artifacts.
type Config struct {
	// UploadDir receives the raw upload while it is processed.
	UploadDir string
	// DocumentsDir keeps <doc_id>.pdf for the viewer.
	DocumentsDir string
}

// ChunkBuilder produces embedded chunks from a parsed document.
type ChunkBuilder interface {
	Build(ctx context.Context, doc *parser.Document) ([]evidence.Chunk, error)
}

// Options are caller-supplied document attributes.
type Options struct {
	Title      string
	Family     string
	WorkflowID string
}

// Job is a staged document waiting to be processed. It is what the
// durable workflow carries between submit and execution.
type Job struct {
	DocID      string `json:"doc_id"`
	Filename   string `json:"filename"`
	UploadPath string `json:"upload_path"`
	Path       string `json:"path"`
	Title      string `json:"title,omitempty"`
	Family     string `json:"family"`
	WorkflowID string `json:"workflow_id,omitempty"`
}

// Result summarizes a processed document.
type Result struct {
	DocID      string `json:"doc_id"`
	Title      string `json:"title"`
	PageCount  int    `json:"page_count"`
	ChunkCount int    `json:"chunk_count"`
}

// Service ingests documents.
type Service struct {
	parser  parser.Parser
	builder ChunkBuilder
	gateway store.Gateway
	cfg     Config
	logger  *slog.Logger
	metrics *observability.RAGMetrics
}

// NewService wires an ingestion service.
func NewService(p parser.Parser, b ChunkBuilder, g store.Gateway, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		parser:  p,
		builder: b,
		gateway: g,
		cfg:     cfg,
		logger:  logger,
		metrics: observability.Metrics(),
	}
}

// Upload stages body as a new document and processes it. On failure every
// artifact written for it is removed.
func (s *Service) Upload(ctx context.Context, filename string, body io.Reader, opts Options) (*Result, error) {
	job, err := s.Stage(filename, body, opts)
	if err != nil {
		return nil, err
	}
	res, err := s.Process(ctx, job)
	if err != nil {
		s.Discard(job)
		return nil, err
	}
	s.Release(job)
	return res, nil
}

// IngestFile uploads a file already on disk.
func (s *Service) IngestFile(ctx context.Context, path string, opts Options) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, evidence.InputError("open", err)
	}
	defer f.Close()
	return s.Upload(ctx, filepath.Base(path), f, opts)
}

// StageFile stages a file on disk without processing it.
func (s *Service) StageFile(path string, opts Options) (Job, error) {
	f, err := os.Open(path)
	if err != nil {
		return Job{}, evidence.InputError("open", err)
	}
	defer f.Close()
	return s.Stage(filepath.Base(path), f, opts)
}

// Stage validates the upload, assigns a document id, saves the upload and
// copies it to the documents directory.
func (s *Service) Stage(filename string, body io.Reader, opts Options) (Job, error) {
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return Job{}, evidence.InputError("validate upload", ErrNotPDF)
	}
	br := bufio.NewReader(body)
	head, err := br.Peek(len(parser.PDFMagic))
	if err != nil || !bytes.Equal(head, parser.PDFMagic) {
		return Job{}, evidence.InputError("validate upload", ErrNotPDF)
	}

	for _, dir := range []string{s.cfg.UploadDir, s.cfg.DocumentsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Job{}, evidence.UpstreamError("prepare storage", err)
		}
	}

	docID := uuid.NewString()
	job := Job{
		DocID:      docID,
		Filename:   filepath.Base(filename),
		UploadPath: filepath.Join(s.cfg.UploadDir, docID+".pdf"),
		Path:       filepath.Join(s.cfg.DocumentsDir, docID+".pdf"),
		Title:      strings.TrimSpace(opts.Title),
		Family:     NormalizeFamily(opts.Family),
		WorkflowID: opts.WorkflowID,
	}

	if err := writeFile(job.UploadPath, br); err != nil {
		s.Discard(job)
		return Job{}, evidence.UpstreamError("save upload", err)
	}
	if err := copyFile(job.UploadPath, job.Path); err != nil {
		s.Discard(job)
		return Job{}, evidence.UpstreamError("copy document", err)
	}
	s.logger.Info("upload staged", "doc_id", docID, "filename", job.Filename, "path", job.Path)
	return job, nil
}

// Release removes the upload copy once the document is processed.
func (s *Service) Release(job Job) {
	removeIfExists(s.logger, job.UploadPath)
}

// Discard removes every artifact of a failed job.
func (s *Service) Discard(job Job) {
	removeIfExists(s.logger, job.UploadPath)
	removeIfExists(s.logger, job.Path)
}

// Process parses, chunks and stores a staged job. It is idempotent: chunk
// and page identities are derived from content, so retrying a job
// overwrites what an earlier attempt wrote.
func (s *Service) Process(ctx context.Context, job Job) (*Result, error) {
	start := time.Now()
	family := NormalizeFamily(job.Family)

	ctx, span := observability.StartIngestSpan(ctx, job.DocID, family)
	defer span.End()
	s.metrics.IngestsInFlight.Inc()
	defer s.metrics.IngestsInFlight.Dec()
	observability.Audit().LogIngestStart(ctx, job.DocID, job.WorkflowID, job.Filename, family)

	res, err := s.process(ctx, job, family)
	duration := time.Since(start)
	if err != nil {
		observability.RecordError(span, err)
		s.metrics.RecordIngest(duration, 0, 0, err)
		observability.Audit().LogIngestError(ctx, job.DocID, job.WorkflowID, evidence.KindOf(err).String(), err)
		s.logger.ErrorContext(ctx, "ingestion failed",
			"doc_id", job.DocID, "filename", job.Filename, "kind", evidence.KindOf(err).String(), "error", err)
		return nil, err
	}

	observability.RecordIngestResult(span, res.PageCount, res.ChunkCount, duration)
	s.metrics.RecordIngest(duration, res.PageCount, res.ChunkCount, nil)
	observability.Audit().LogIngestComplete(ctx, job.DocID, job.WorkflowID, duration, res.PageCount, res.ChunkCount)
	s.logger.InfoContext(ctx, "document ingested",
		"doc_id", res.DocID, "title", res.Title, "pages", res.PageCount, "chunks", res.ChunkCount, "duration", duration)
	return res, nil
}

func (s *Service) process(ctx context.Context, job Job, family string) (*Result, error) {
	parseCtx, parseSpan := observability.StartParseSpan(ctx, parserName(s.parser), job.Path)
	doc, err := s.parser.Parse(parseCtx, job.Path)
	if err != nil {
		observability.RecordError(parseSpan, err)
		parseSpan.End()
		return nil, evidence.UpstreamError("parse", err)
	}
	parseSpan.End()

	chunks, err := s.builder.Build(ctx, doc)
	if err != nil {
		return nil, err
	}

	pages := CompletePages(job.DocID, Pages(job.DocID, job.Path, doc), chunks)
	document := evidence.Document{
		ID:        job.DocID,
		Title:     resolveTitle(job, doc),
		SourceURI: sourceURI(job.Path),
		Family:    family,
	}
	if err := s.gateway.Upsert(ctx, document, pages, chunks); err != nil {
		return nil, evidence.UpstreamError("store document", err)
	}

	return &Result{
		DocID:      document.ID,
		Title:      document.Title,
		PageCount:  len(pages),
		ChunkCount: len(chunks),
	}, nil
}

// NormalizeFamily trims family and substitutes the default when blank.
func NormalizeFamily(family string) string {
	if family = strings.TrimSpace(family); family == "" {
		return evidence.DefaultFamily
	}
	return family
}

// resolveTitle prefers the caller's title, then the parsed document name.
// The staged file is named after the document id, so a parser falling back
// to that stem yields the original filename instead.
func resolveTitle(job Job, doc *parser.Document) string {
	if job.Title != "" {
		return job.Title
	}
	if t := doc.Title(); t != "" && t != job.DocID && t != "untitled" {
		return t
	}
	if job.Filename != "" {
		return strings.TrimSuffix(job.Filename, filepath.Ext(job.Filename))
	}
	return job.DocID
}

func sourceURI(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return "file://" + filepath.ToSlash(path)
}

func parserName(p parser.Parser) string {
	switch p.(type) {
	case *parser.DoclingCLI:
		return "docling"
	case parser.JSONFile, *parser.JSONFile:
		return "json"
	default:
		return fmt.Sprintf("%T", p)
	}
}

func writeFile(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	return writeFile(dst, in)
}

func removeIfExists(logger *slog.Logger, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("cleanup failed", "path", path, "error", err)
	}
}
