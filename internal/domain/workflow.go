package domain

import (
	"database/sql"
	"time"
)

// Workflow statuses. A workflow is active from creation until a terminal
// step record completes, after which no further records may be created.
const (
	WorkflowStatusActive    = "active"
	WorkflowStatusCompleted = "completed"
	WorkflowStatusFailed    = "failed"
)

// Workflow groups all step records belonging to one logical long-running
// operation, e.g. one token setup or one device authorization.
type Workflow struct {
	ID            int64
	Kind          string
	Status        string
	ChainID       string
	UniqueHash    string
	RequestParams sql.NullString
	Created       time.Time
	Modified      time.Time
}
