package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// AuditEventType categorizes audit events.
type AuditEventType string

const (
	AuditEventIngestStart    AuditEventType = "ingest.start"
	AuditEventIngestComplete AuditEventType = "ingest.complete"
	AuditEventIngestError    AuditEventType = "ingest.error"
	AuditEventQuery          AuditEventType = "query"
	AuditEventQueryError     AuditEventType = "query.error"
	AuditEventSchema         AuditEventType = "store.schema"
)

// AuditEvent represents a single audit log entry.
type AuditEvent struct {
	Timestamp   time.Time              `json:"timestamp"`
	EventType   AuditEventType         `json:"event_type"`
	SessionID   string                 `json:"session_id"`
	WorkflowID  string                 `json:"workflow_id,omitempty"`
	DocID       string                 `json:"doc_id,omitempty"`
	UserID      string                 `json:"user_id,omitempty"`
	Success     bool                   `json:"success"`
	Duration    time.Duration          `json:"duration_ms,omitempty"`
	Message     string                 `json:"message,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
	ErrorCode   string                 `json:"error_code,omitempty"`
	ErrorDetail string                 `json:"error_detail,omitempty"`
}

// AuditLogger handles audit event logging.
type AuditLogger struct {
	mu        sync.Mutex
	writer    io.Writer
	sessionID string
	userID    string
	enabled   bool
}

// AuditConfig configures the audit logger.
type AuditConfig struct {
	Enabled    bool
	OutputPath string // File path or "stdout"/"stderr"
	SessionID  string
	UserID     string
}

// DefaultAuditConfig returns default audit configuration.
func DefaultAuditConfig() *AuditConfig {
	return &AuditConfig{
		Enabled:    true,
		OutputPath: "stdout",
	}
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger(config *AuditConfig) (*AuditLogger, error) {
	if config == nil {
		config = DefaultAuditConfig()
	}

	var writer io.Writer
	switch config.OutputPath {
	case "stdout", "":
		writer = os.Stdout
	case "stderr":
		writer = os.Stderr
	default:
		f, err := os.OpenFile(config.OutputPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		writer = f
	}

	sessionID := config.SessionID
	if sessionID == "" {
		sessionID = fmt.Sprintf("session-%d", time.Now().UnixNano())
	}

	return &AuditLogger{
		writer:    writer,
		sessionID: sessionID,
		userID:    config.UserID,
		enabled:   config.Enabled,
	}, nil
}

// Log writes an audit event.
func (l *AuditLogger) Log(event *AuditEvent) error {
	if !l.enabled {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Fill in defaults
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.SessionID == "" {
		event.SessionID = l.sessionID
	}
	if event.UserID == "" {
		event.UserID = l.userID
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	_, err = fmt.Fprintf(l.writer, "%s\n", data)
	return err
}

// LogIngestStart records that a document was accepted for ingestion.
func (l *AuditLogger) LogIngestStart(ctx context.Context, docID, workflowID, filename, family string) {
	l.Log(&AuditEvent{
		EventType:  AuditEventIngestStart,
		DocID:      docID,
		WorkflowID: workflowID,
		Success:    true,
		Message:    fmt.Sprintf("Ingesting %s", filename),
		Details: map[string]interface{}{
			"filename": filename,
			"family":   family,
		},
	})
}

// LogIngestComplete records a finished ingestion.
func (l *AuditLogger) LogIngestComplete(ctx context.Context, docID, workflowID string, duration time.Duration, pages, chunks int) {
	l.Log(&AuditEvent{
		EventType:  AuditEventIngestComplete,
		DocID:      docID,
		WorkflowID: workflowID,
		Success:    true,
		Duration:   duration,
		Message:    fmt.Sprintf("Ingested %d chunks over %d pages", chunks, pages),
		Details: map[string]interface{}{
			"pages":  pages,
			"chunks": chunks,
		},
	})
}

// LogIngestError records a failed ingestion.
func (l *AuditLogger) LogIngestError(ctx context.Context, docID, workflowID, kind string, err error) {
	l.Log(&AuditEvent{
		EventType:   AuditEventIngestError,
		DocID:       docID,
		WorkflowID:  workflowID,
		Success:     false,
		Message:     fmt.Sprintf("Ingestion of %s failed", docID),
		ErrorCode:   kind,
		ErrorDetail: err.Error(),
	})
}

// LogQuery records an answered question. The question text itself is not
// written, only its length.
func (l *AuditLogger) LogQuery(ctx context.Context, questionLen, hits, cited int, family string, duration time.Duration) {
	l.Log(&AuditEvent{
		EventType: AuditEventQuery,
		Success:   true,
		Duration:  duration,
		Message:   fmt.Sprintf("Answered with %d citations from %d hits", cited, hits),
		Details: map[string]interface{}{
			"question_len": questionLen,
			"hits":         hits,
			"cited":        cited,
			"family":       family,
		},
	})
}

// LogQueryError records a failed question.
func (l *AuditLogger) LogQueryError(ctx context.Context, kind string, err error) {
	l.Log(&AuditEvent{
		EventType:   AuditEventQueryError,
		Success:     false,
		Message:     "Query failed",
		ErrorCode:   kind,
		ErrorDetail: err.Error(),
	})
}

// LogSchema records an evidence store schema bootstrap.
func (l *AuditLogger) LogSchema(ctx context.Context, backend string, err error) {
	event := &AuditEvent{
		EventType: AuditEventSchema,
		Success:   err == nil,
		Message:   fmt.Sprintf("Schema ensured on %s", backend),
		Details: map[string]interface{}{
			"backend": backend,
		},
	}
	if err != nil {
		event.ErrorDetail = err.Error()
	}
	l.Log(event)
}

// Close closes the audit logger (if using a file).
func (l *AuditLogger) Close() error {
	if closer, ok := l.writer.(io.Closer); ok {
		if closer != os.Stdout && closer != os.Stderr {
			return closer.Close()
		}
	}
	return nil
}

var globalAuditLogger *AuditLogger
var auditOnce sync.Once

// InitGlobalAuditLogger initializes the global audit logger.
func InitGlobalAuditLogger(config *AuditConfig) error {
	var err error
	auditOnce.Do(func() {
		globalAuditLogger, err = NewAuditLogger(config)
	})
	return err
}

// Audit returns the global audit logger.
func Audit() *AuditLogger {
	if globalAuditLogger == nil {
		// Return a disabled logger if not initialized
		return &AuditLogger{enabled: false}
	}
	return globalAuditLogger
}
