package temporal

import (
	"fmt"
	"time"

	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/lumozai/layout-aware-rag-demo/internal/ingest"
)

// Application error types carried by activity failures.
const (
	ErrTypeInput    = "InputError"
	ErrTypeConfig   = "ConfigError"
	ErrTypeUpstream = "UpstreamError"
)

// IngestRetryPolicy retries upstream failures. Input and config failures
// cannot succeed on retry.
var IngestRetryPolicy = &sdktemporal.RetryPolicy{
	InitialInterval:        2 * time.Second,
	BackoffCoefficient:     2.0,
	MaximumInterval:        time.Minute,
	MaximumAttempts:        5,
	NonRetryableErrorTypes: []string{ErrTypeInput, ErrTypeConfig},
}

// IngestWorkflow processes one staged document. When processing fails for
// good, the staged artifacts are discarded.
func IngestWorkflow(ctx workflow.Context, job ingest.Job) (*ingest.Result, error) {
	logger := workflow.GetLogger(ctx)
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy:         IngestRetryPolicy,
	}
	actx := workflow.WithActivityOptions(ctx, ao)

	var a *Activities
	var res ingest.Result
	err := workflow.ExecuteActivity(actx, a.IngestDocument, job).Get(actx, &res)
	if err == nil {
		return &res, nil
	}

	logger.Error("ingest failed, discarding artifacts", "doc_id", job.DocID, "error", err)
	cleanup := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy:         &sdktemporal.RetryPolicy{MaximumAttempts: 3},
	})
	if derr := workflow.ExecuteActivity(cleanup, a.DiscardDocument, job).Get(cleanup, nil); derr != nil {
		logger.Warn("discard failed", "doc_id", job.DocID, "error", derr)
	}
	return nil, fmt.Errorf("ingest %s: %w", job.DocID, err)
}
