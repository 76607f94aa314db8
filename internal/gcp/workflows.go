package gcp

import (
	"context"
	"encoding/json"
	"fmt"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
)

// WorkflowTrigger starts executions of one Cloud Workflow.
type WorkflowTrigger struct {
	client *executions.Client
	parent string
}

// NewWorkflowTrigger creates a trigger for projects/<project>/locations/<location>/workflows/<id>.
func NewWorkflowTrigger(ctx context.Context, projectID, location, workflowID string) (*WorkflowTrigger, error) {
	if projectID == "" || location == "" || workflowID == "" {
		return nil, fmt.Errorf("NewWorkflowTrigger: projectID, location and workflowID cannot be empty")
	}
	client, err := executions.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
	}
	return &WorkflowTrigger{
		client: client,
		parent: WorkflowParent(projectID, location, workflowID),
	}, nil
}

// WorkflowParent formats the resource name of a workflow.
func WorkflowParent(projectID, location, workflowID string) string {
	return fmt.Sprintf("projects/%s/locations/%s/workflows/%s", projectID, location, workflowID)
}

// Trigger starts one execution with payload encoded as its JSON argument and
// returns the execution name.
func (t *WorkflowTrigger) Trigger(ctx context.Context, payload any) (string, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	exec, err := t.client.CreateExecution(ctx, &executionspb.CreateExecutionRequest{
		Parent: t.parent,
		Execution: &executionspb.Execution{
			Argument: string(payloadBytes),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to trigger workflow execution: %w", err)
	}
	return exec.GetName(), nil
}

func (t *WorkflowTrigger) Close() error {
	return t.client.Close()
}
