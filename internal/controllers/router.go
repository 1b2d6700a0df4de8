package controllers

import "net/http"

// RegisterRoutes wires the HTTP routes for this controller.
func (c *WorkflowsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/workflows", c.RequireAuth(c.handleCreateWorkflow))
	mux.HandleFunc("GET /api/workflows/search", c.RequireAuth(c.handleSearchWorkflows))
	mux.HandleFunc("GET /api/workflows/{id}", c.RequireAuth(c.handleGetWorkflowById))
}

func (c *WorkersController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/workers", c.RequireAuth(c.handleGetWorkers))
}
