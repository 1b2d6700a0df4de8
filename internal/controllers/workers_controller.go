package controllers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/chainflow-io/chainflow/internal/repository"
)

// WorkersController exposes the supervisory view of registered worker
// processes.
type WorkersController struct {
	AuthController
	WorkerProcessRepo *repository.WorkerProcessRepository
}

func NewWorkersController(repo *repository.WorkerProcessRepository) *WorkersController {
	return &WorkersController{WorkerProcessRepo: repo}
}

type ApiWorkerProcess struct {
	ID             int64  `json:"id"`
	Kind           string `json:"kind"`
	ChainID        string `json:"chainId"`
	SequenceNumber int    `json:"sequenceNumber"`
	Hostname       string `json:"hostname"`
	Status         string `json:"status"`
	Started        string `json:"started"`
	LastActive     string `json:"lastActive"`
}

func (c *WorkersController) handleGetWorkers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	procs, err := c.WorkerProcessRepo.GetByLastActive(100)
	if err != nil {
		slog.Error("Failed to list worker processes", "error", err)
		http.Error(w, "failed to list workers", http.StatusInternalServerError)
		return
	}
	out := make([]ApiWorkerProcess, 0, len(procs))
	for _, p := range procs {
		out = append(out, ApiWorkerProcess{
			ID:             p.ID,
			Kind:           p.Kind,
			ChainID:        p.ChainID,
			SequenceNumber: p.SequenceNumber,
			Hostname:       p.Hostname,
			Status:         p.Status,
			Started:        p.Started.Format("2006-01-02T15:04:05Z07:00"),
			LastActive:     p.LastActive.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(out)
}
