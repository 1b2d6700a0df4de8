package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/chainflow-io/chainflow/internal/domain"
)

// racingWorkflowStore makes a rival create win between the duplicate check
// and the insert, the way the unique index on active rows surfaces it.
type racingWorkflowStore struct {
	*memWorkflowStore
}

func (s *racingWorkflowStore) Save(wf *domain.Workflow) (int64, error) {
	rival := *wf
	if _, err := s.memWorkflowStore.Save(&rival); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("UNIQUE constraint failed: workflows.kind, workflows.unique_hash")
}

func TestCreate_PersistsInitAndQueuesSuccessor(t *testing.T) {
	registry := newTestRegistry(t, linearTestGraph(), nil)
	steps := newMemStepStore()
	workflows := newMemWorkflowStore()
	q := &queueBus{}
	creator := NewCreator(registry, workflows, steps, q, "2000")

	wf, err := creator.Create(context.Background(), CreateRequest{
		WorkflowKind:  "testFlow",
		Identity:      map[string]string{"multisigAddress": "0xdead", "deviceNonce": "7"},
		RequestParams: map[string]any{"deviceAddress": "0xbeef"},
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if wf.Status != domain.WorkflowStatusActive {
		t.Fatalf("expected active workflow, got %q", wf.Status)
	}
	if wf.UniqueHash == "" {
		t.Fatal("workflow must carry its identity fingerprint")
	}

	init := steps.byKind(wf.ID, "testFlowInit")
	if init == nil || init.Status != domain.StepStatusCompleted {
		t.Fatal("init record must exist and be born completed")
	}
	child := steps.byKind(wf.ID, "submitTx")
	if child == nil || child.Status != domain.StepStatusQueued {
		t.Fatal("entry successor must be queued")
	}
	if !child.ParentID.Valid || child.ParentID.Int64 != init.ID {
		t.Fatal("entry successor must be parented to the init record")
	}

	msg, ok := q.pop()
	if !ok {
		t.Fatal("creation must publish one message for the entry successor")
	}
	if msg.StepID != child.ID || msg.StepKind != "submitTx" || msg.WorkflowKind != "testFlow" {
		t.Fatalf("published message does not match the queued record: %+v", msg)
	}
	if msg.ID == "" {
		t.Fatal("message must carry a dedupe id")
	}
}

func TestCreate_RejectsDuplicateActiveWorkflow(t *testing.T) {
	registry := newTestRegistry(t, linearTestGraph(), nil)
	steps := newMemStepStore()
	workflows := newMemWorkflowStore()
	q := &queueBus{}
	creator := NewCreator(registry, workflows, steps, q, "2000")

	req := CreateRequest{
		WorkflowKind: "testFlow",
		Identity:     map[string]string{"multisigAddress": "0xdead", "deviceNonce": "7"},
	}
	if _, err := creator.Create(context.Background(), req); err != nil {
		t.Fatalf("first Create returned error: %v", err)
	}
	_, err := creator.Create(context.Background(), req)
	if !errors.Is(err, ErrDuplicateWorkflow) {
		t.Fatalf("expected ErrDuplicateWorkflow, got %v", err)
	}
}

func TestCreate_SimultaneousCreatesCollapseToDuplicate(t *testing.T) {
	registry := newTestRegistry(t, linearTestGraph(), nil)
	store := &racingWorkflowStore{memWorkflowStore: newMemWorkflowStore()}
	creator := NewCreator(registry, store, newMemStepStore(), &queueBus{}, "2000")

	_, err := creator.Create(context.Background(), CreateRequest{
		WorkflowKind: "testFlow",
		Identity:     map[string]string{"multisigAddress": "0xdead", "deviceNonce": "7"},
	})
	if !errors.Is(err, ErrDuplicateWorkflow) {
		t.Fatalf("losing a concurrent create must report ErrDuplicateWorkflow, got %v", err)
	}
}

func TestCreate_AllowsNewWorkflowAfterPredecessorSettles(t *testing.T) {
	registry := newTestRegistry(t, linearTestGraph(), nil)
	steps := newMemStepStore()
	workflows := newMemWorkflowStore()
	q := &queueBus{}
	creator := NewCreator(registry, workflows, steps, q, "2000")
	router := NewRouter(registry, steps, workflows, q, "2000")

	req := CreateRequest{
		WorkflowKind: "testFlow",
		Identity:     map[string]string{"multisigAddress": "0xdead"},
	}
	if _, err := creator.Create(context.Background(), req); err != nil {
		t.Fatalf("first Create returned error: %v", err)
	}
	drive(t, router, q)

	if _, err := creator.Create(context.Background(), req); err != nil {
		t.Fatalf("settled predecessor must not block a new workflow: %v", err)
	}
}

func TestCreate_RequiresIdentityAndKnownKind(t *testing.T) {
	registry := newTestRegistry(t, linearTestGraph(), nil)
	creator := NewCreator(registry, newMemWorkflowStore(), newMemStepStore(), &queueBus{}, "2000")

	if _, err := creator.Create(context.Background(), CreateRequest{WorkflowKind: "testFlow"}); err == nil {
		t.Fatal("expected error for missing identity")
	}
	if _, err := creator.Create(context.Background(), CreateRequest{
		WorkflowKind: "unknown",
		Identity:     map[string]string{"k": "v"},
	}); err == nil {
		t.Fatal("expected error for unknown workflow kind")
	}
}
