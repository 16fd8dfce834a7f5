package temporal

import (
	"context"

	"go.temporal.io/sdk/activity"
	sdktemporal "go.temporal.io/sdk/temporal"

	"github.com/lumozai/layout-aware-rag-demo/internal/evidence"
	"github.com/lumozai/layout-aware-rag-demo/internal/ingest"
)

// Processor runs and discards staged ingestion jobs.
type Processor interface {
	Process(ctx context.Context, job ingest.Job) (*ingest.Result, error)
	Discard(job ingest.Job)
}

// Activities holds the shared resources activities run against.
type Activities struct {
	Processor Processor
}

// IngestDocument parses, chunks, embeds and stores a staged document.
// Processing is idempotent, so retried attempts overwrite earlier writes.
func (a *Activities) IngestDocument(ctx context.Context, job ingest.Job) (*ingest.Result, error) {
	info := activity.GetInfo(ctx)
	if job.WorkflowID == "" {
		job.WorkflowID = info.WorkflowExecution.ID
	}
	activity.GetLogger(ctx).Info("ingesting document", "doc_id", job.DocID, "attempt", info.Attempt)

	res, err := a.Processor.Process(ctx, job)
	if err != nil {
		return nil, applicationError(err)
	}
	return res, nil
}

// DiscardDocument removes a job's staged files.
func (a *Activities) DiscardDocument(_ context.Context, job ingest.Job) error {
	a.Processor.Discard(job)
	return nil
}

func applicationError(err error) error {
	switch evidence.KindOf(err) {
	case evidence.KindInput:
		return sdktemporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInput, err)
	case evidence.KindConfig:
		return sdktemporal.NewNonRetryableApplicationError(err.Error(), ErrTypeConfig, err)
	default:
		return sdktemporal.NewApplicationError(err.Error(), ErrTypeUpstream, err)
	}
}
