package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/chainflow-io/chainflow/internal/bus"
	"github.com/chainflow-io/chainflow/internal/domain"
)

// CreateRequest describes one new workflow instance. Identity holds the
// fields that uniquely identify the logical operation; two requests with the
// same identity map to the same fingerprint.
type CreateRequest struct {
	WorkflowKind  string
	Identity      map[string]string
	RequestParams map[string]any
}

// Creator starts workflows: it applies the idempotency guard, persists the
// workflow row and its completed init record, then queues and publishes the
// entry node's successors.
type Creator struct {
	registry  *Registry
	workflows WorkflowRepo
	steps     StepRepo
	publisher Publisher
	chainID   string
}

func NewCreator(registry *Registry, workflows WorkflowRepo, steps StepRepo, publisher Publisher, chainID string) *Creator {
	return &Creator{
		registry:  registry,
		workflows: workflows,
		steps:     steps,
		publisher: publisher,
		chainID:   chainID,
	}
}

func (c *Creator) Create(ctx context.Context, req CreateRequest) (*domain.Workflow, error) {
	graph, ok := c.registry.Graph(req.WorkflowKind)
	if !ok {
		return nil, fmt.Errorf("unknown workflow kind %q", req.WorkflowKind)
	}
	if len(req.Identity) == 0 {
		return nil, fmt.Errorf("workflow kind %q: identity fields are required", req.WorkflowKind)
	}

	hash := Fingerprint(req.WorkflowKind, req.Identity)
	existing, err := c.workflows.FindActiveByUniqueHash(req.WorkflowKind, hash)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("workflow kind %q hash %s already active as %d: %w",
			req.WorkflowKind, hash, existing.ID, ErrDuplicateWorkflow)
	}

	params := encodeParams(req.RequestParams)
	wf := &domain.Workflow{
		Kind:          req.WorkflowKind,
		Status:        domain.WorkflowStatusActive,
		ChainID:       c.chainID,
		UniqueHash:    hash,
		RequestParams: params,
	}
	if _, err := c.workflows.Save(wf); err != nil {
		// Two simultaneous creates can both pass the read check; the unique
		// index on active (kind, unique_hash) rejects the loser here.
		if rival, findErr := c.workflows.FindActiveByUniqueHash(req.WorkflowKind, hash); findErr == nil && rival != nil {
			return nil, fmt.Errorf("workflow kind %q hash %s already active as %d: %w",
				req.WorkflowKind, hash, rival.ID, ErrDuplicateWorkflow)
		}
		return nil, err
	}

	// The init record is born completed; it exists to root the step tree and
	// carry the initial parameter bag.
	init := &domain.WorkflowStep{
		WorkflowID:    wf.ID,
		Kind:          graph.Entry,
		Status:        domain.StepStatusCompleted,
		RequestParams: params,
	}
	if _, err := c.steps.Save(init); err != nil {
		return nil, err
	}

	for _, next := range graph.Steps[graph.Entry].OnSuccess {
		child := &domain.WorkflowStep{
			WorkflowID:    wf.ID,
			Kind:          next,
			ParentID:      sql.NullInt64{Int64: init.ID, Valid: true},
			Status:        domain.StepStatusQueued,
			RequestParams: params,
		}
		if _, err := c.steps.Save(child); err != nil {
			return nil, err
		}
		msg := bus.Message{
			ID:           uuid.NewString(),
			WorkflowKind: req.WorkflowKind,
			StepKind:     next,
			StepID:       child.ID,
			WorkflowID:   wf.ID,
		}
		if err := c.publisher.Publish(ctx, bus.Topic(graph.Family, c.chainID), msg); err != nil {
			return nil, err
		}
	}

	slog.InfoContext(ctx, "Workflow created",
		"workflow_kind", req.WorkflowKind, "workflow_id", wf.ID, "unique_hash", hash)
	return wf, nil
}
