package engine

import (
	"context"
	"database/sql"

	"github.com/chainflow-io/chainflow/internal/bus"
	"github.com/chainflow-io/chainflow/internal/domain"
)

// StepRepo defines the step record persistence surface, matching
// repository.WorkflowStepRepository.
type StepRepo interface {
	Save(step *domain.WorkflowStep) (int64, error)
	FindByID(id int64) (*domain.WorkflowStep, error)
	ExistsByKind(workflowID int64, kind string) (bool, error)
	MarkInProgress(id int64) error
	MarkCompleted(id int64, responseData sql.NullString) error
	MarkFailed(id int64, debugParams sql.NullString) error
	IncrementRetryCount(id int64) (int, error)
	FetchAncestorData(workflowID int64, kinds []string) (map[string]sql.NullString, error)
}

// WorkflowRepo defines the workflow persistence surface, matching
// repository.WorkflowRepository.
type WorkflowRepo interface {
	Save(wf *domain.Workflow) (int64, error)
	FindByID(id int64) (*domain.Workflow, error)
	FindActiveByUniqueHash(kind string, hash string) (*domain.Workflow, error)
	UpdateStatus(id int64, status string) error
}

// Publisher is the outbound half of the message bus adapter.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg bus.Message) error
}
