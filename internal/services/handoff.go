package services

import (
	"context"
	"log/slog"

	"github.com/Lllllllleong/documentcapture/internal/models"
)

// WorkflowStarter starts a downstream workflow execution with payload as its
// argument. *gcp.WorkflowTrigger satisfies it.
type WorkflowStarter interface {
	Trigger(ctx context.Context, payload any) (string, error)
}

// NewWorkflowHandoff returns a completion hook that hands each run summary to
// a workflow. Runs in which nothing reached a terminal status are skipped.
// Failures are logged only.
func NewWorkflowHandoff(starter WorkflowStarter) CompletionHook {
	return func(ctx context.Context, summary models.ProcessSummary) {
		logCtx := slog.With("runId", summary.RunID)
		if len(summary.Succeeded)+len(summary.Failed) == 0 {
			logCtx.Info("Nothing to hand off.")
			return
		}
		execution, err := starter.Trigger(ctx, summary)
		if err != nil {
			logCtx.Error("Failed to trigger workflow execution.", "error", err)
			return
		}
		logCtx.Info("Hand-off to workflow complete.", "executionId", execution)
	}
}
