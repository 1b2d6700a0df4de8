package controllers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/chainflow-io/chainflow/internal/domain"
	"github.com/chainflow-io/chainflow/internal/engine"
	"github.com/chainflow-io/chainflow/internal/repository"
)

// WorkflowsController holds dependencies for workflow HTTP endpoints.
type WorkflowsController struct {
	AuthController
	WorkflowRepo *repository.WorkflowRepository
	StepRepo     *repository.WorkflowStepRepository
	Creator      *engine.Creator
}

func NewWorkflowsController(workflowRepo *repository.WorkflowRepository, stepRepo *repository.WorkflowStepRepository, creator *engine.Creator) *WorkflowsController {
	return &WorkflowsController{WorkflowRepo: workflowRepo, StepRepo: stepRepo, Creator: creator}
}

type CreateWorkflowRequest struct {
	WorkflowKind  string            `json:"workflowKind"`
	Identity      map[string]string `json:"identity"`
	RequestParams map[string]any    `json:"requestParams"`
}

type CreateWorkflowResponse struct {
	ID       int64  `json:"id"`
	Status   string `json:"status"`
	UniqueID string `json:"uniqueId"`
}

type ApiWorkflow struct {
	ID            int64           `json:"id"`
	Kind          string          `json:"kind"`
	Status        string          `json:"status"`
	ChainID       string          `json:"chainId"`
	UniqueID      string          `json:"uniqueId"`
	RequestParams string          `json:"requestParams,omitempty"`
	Created       string          `json:"created"`
	Modified      string          `json:"modified"`
	Steps         []ApiStepRecord `json:"steps"`
}

type ApiStepRecord struct {
	ID           int64  `json:"id"`
	Kind         string `json:"kind"`
	ParentID     *int64 `json:"parentId,omitempty"`
	Status       string `json:"status"`
	RetryCount   int    `json:"retryCount"`
	ResponseData string `json:"responseData,omitempty"`
	DebugParams  string `json:"debugParams,omitempty"`
	Created      string `json:"created"`
	Modified     string `json:"modified"`
}

func (c *WorkflowsController) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req CreateWorkflowRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if req.WorkflowKind == "" {
		http.Error(w, "workflowKind is required", http.StatusBadRequest)
		return
	}
	if len(req.Identity) == 0 {
		http.Error(w, "identity is required", http.StatusBadRequest)
		return
	}

	wf, err := c.Creator.Create(r.Context(), engine.CreateRequest{
		WorkflowKind:  req.WorkflowKind,
		Identity:      req.Identity,
		RequestParams: req.RequestParams,
	})
	if err != nil {
		if errors.Is(err, engine.ErrDuplicateWorkflow) {
			http.Error(w, "an active workflow already exists for this identity", http.StatusConflict)
			return
		}
		slog.Error("Failed to create workflow", "kind", req.WorkflowKind, "error", err)
		http.Error(w, "failed to create workflow", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(CreateWorkflowResponse{
		ID:       wf.ID,
		Status:   wf.Status,
		UniqueID: wf.UniqueHash,
	})
}

func (c *WorkflowsController) handleGetWorkflowById(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	idStr := r.PathValue("id")
	if idStr == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "id is an integer", http.StatusBadRequest)
		return
	}

	wf, err := c.WorkflowRepo.FindByID(id)
	if err != nil {
		http.Error(w, "workflow not found", http.StatusNotFound)
		return
	}
	steps, err := c.StepRepo.FindAllByWorkflowID(id)
	if err != nil {
		slog.Error("Failed to load workflow steps", "workflow_id", id, "error", err)
		http.Error(w, "failed to load workflow", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(mapWorkflowToApi(wf, steps))
}

func (c *WorkflowsController) handleSearchWorkflows(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	status := r.URL.Query().Get("status")
	if status == "" {
		status = domain.WorkflowStatusActive
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			http.Error(w, "limit must be between 1 and 500", http.StatusBadRequest)
			return
		}
		limit = n
	}

	results, err := c.WorkflowRepo.SearchByStatus(status, limit)
	if err != nil {
		slog.Error("Failed to search workflows", "status", status, "error", err)
		http.Error(w, "failed to search workflows", http.StatusInternalServerError)
		return
	}

	out := make([]ApiWorkflow, 0, len(results))
	for _, wf := range results {
		out = append(out, mapWorkflowToApi(wf, nil))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(out)
}

func mapWorkflowToApi(wf *domain.Workflow, steps []*domain.WorkflowStep) ApiWorkflow {
	out := ApiWorkflow{
		ID:       wf.ID,
		Kind:     wf.Kind,
		Status:   wf.Status,
		ChainID:  wf.ChainID,
		UniqueID: wf.UniqueHash,
		Created:  wf.Created.Format("2006-01-02T15:04:05Z07:00"),
		Modified: wf.Modified.Format("2006-01-02T15:04:05Z07:00"),
		Steps:    []ApiStepRecord{},
	}
	if wf.RequestParams.Valid {
		out.RequestParams = wf.RequestParams.String
	}
	for _, step := range steps {
		rec := ApiStepRecord{
			ID:         step.ID,
			Kind:       step.Kind,
			Status:     step.Status,
			RetryCount: step.RetryCount,
			Created:    step.Created.Format("2006-01-02T15:04:05Z07:00"),
			Modified:   step.Modified.Format("2006-01-02T15:04:05Z07:00"),
		}
		if step.ParentID.Valid {
			parentID := step.ParentID.Int64
			rec.ParentID = &parentID
		}
		if step.ResponseData.Valid {
			rec.ResponseData = step.ResponseData.String
		}
		if step.DebugParams.Valid {
			rec.DebugParams = step.DebugParams.String
		}
		out.Steps = append(out.Steps, rec)
	}
	return out
}
