package domain

import "time"

// Worker process supervisory statuses.
const (
	WorkerProcessRunning = "running"
	WorkerProcessStopped = "stopped"
)

// WorkerProcess is the supervisory registration of one long-lived consumer,
// keyed by (kind, chain_id, sequence_number) so that two consumers are never
// accidentally started for the same partition.
type WorkerProcess struct {
	ID             int64
	Kind           string
	ChainID        string
	SequenceNumber int
	Hostname       string
	Status         string
	Started        time.Time
	LastActive     time.Time
}
