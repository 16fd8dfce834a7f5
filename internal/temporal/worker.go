package temporal

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/lumozai/layout-aware-rag-demo/internal/ingest"
)

// StartWorker creates and starts a Temporal worker.
func StartWorker(c client.Client, taskQueue string, acts *Activities) (worker.Worker, error) {
	w := worker.New(c, taskQueue, worker.Options{})

	w.RegisterWorkflow(IngestWorkflow)
	w.RegisterActivity(acts)

	if err := w.Start(); err != nil {
		return nil, fmt.Errorf("starting worker: %w", err)
	}
	return w, nil
}

// WorkflowID names the ingestion workflow of a document.
func WorkflowID(docID string) string {
	return "ingest-" + docID
}

// SubmitIngest starts IngestWorkflow for a staged job.
func SubmitIngest(ctx context.Context, c client.Client, taskQueue string, job ingest.Job) (client.WorkflowRun, error) {
	if job.WorkflowID == "" {
		job.WorkflowID = WorkflowID(job.DocID)
	}
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        job.WorkflowID,
		TaskQueue: taskQueue,
	}, IngestWorkflow, job)
	if err != nil {
		return nil, fmt.Errorf("starting ingest workflow: %w", err)
	}
	return run, nil
}
