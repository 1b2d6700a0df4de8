package domain

import (
	"database/sql"
	"time"
)

// Step record statuses. Transitions are queued -> inProgress -> completed|failed;
// each transition is a compare-and-swap in the repository so that concurrent
// re-delivery of the same broker message is safe.
const (
	StepStatusQueued     = "queued"
	StepStatusInProgress = "inProgress"
	StepStatusCompleted  = "completed"
	StepStatusFailed     = "failed"
)

// WorkflowStep is one row per executed or pending step of a workflow.
// ParentID forms a tree rooted at the init record; fan-out produces sibling
// children of the same parent.
type WorkflowStep struct {
	ID            int64
	WorkflowID    int64
	Kind          string
	ParentID      sql.NullInt64
	Status        string
	RetryCount    int
	RequestParams sql.NullString
	ResponseData  sql.NullString
	DebugParams   sql.NullString
	Created       time.Time
	Modified      time.Time
}
