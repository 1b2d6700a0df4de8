package engine

import (
	"context"
	"fmt"
	"sort"
)

// OutcomeStatus is the result of a successful handler invocation.
type OutcomeStatus string

const (
	// OutcomeDone means the step finished; the router advances the frontier.
	OutcomeDone OutcomeStatus = "done"
	// OutcomePending means work is not finished yet (e.g. awaiting a
	// transaction confirmation); the router schedules a delayed redelivery.
	OutcomePending OutcomeStatus = "pending"
)

// StepOutcome carries a handler's result and its output data, stored as the
// record's responseData for descendants to read.
type StepOutcome struct {
	Status OutcomeStatus
	Data   map[string]any
}

// StepInput is the merged parameter bag a handler executes against:
// accumulated requestParams, ancestor responseData named in readDataFrom,
// then the message payload, later sources overriding earlier ones.
type StepInput struct {
	WorkflowID   int64
	StepID       int64
	WorkflowKind string
	StepKind     string
	ChainID      string
	Params       map[string]any
}

// StepHandler executes the business logic of one step kind. Expected failure
// modes come back as *HandlerError; anything else is treated as unexpected by
// the worker boundary.
type StepHandler interface {
	Handle(ctx context.Context, input StepInput) (StepOutcome, error)
}

// StepHandlerFunc adapts a function to StepHandler.
type StepHandlerFunc func(ctx context.Context, input StepInput) (StepOutcome, error)

func (f StepHandlerFunc) Handle(ctx context.Context, input StepInput) (StepOutcome, error) {
	return f(ctx, input)
}

type handlerKey struct {
	workflowKind string
	stepKind     string
}

// Registry maps workflow kinds to their step graphs and (workflowKind,
// stepKind) pairs to handlers. Populated at startup, validated once, then
// read-only.
type Registry struct {
	graphs   map[string]*Graph
	handlers map[handlerKey]StepHandler
}

func NewRegistry() *Registry {
	return &Registry{
		graphs:   map[string]*Graph{},
		handlers: map[handlerKey]StepHandler{},
	}
}

// RegisterFlow adds one workflow kind with its graph and per-step handlers.
func (r *Registry) RegisterFlow(g *Graph, handlers map[string]StepHandler) error {
	if _, exists := r.graphs[g.WorkflowKind]; exists {
		return fmt.Errorf("workflow kind %q already registered", g.WorkflowKind)
	}
	r.graphs[g.WorkflowKind] = g
	for stepKind, h := range handlers {
		r.handlers[handlerKey{g.WorkflowKind, stepKind}] = h
	}
	return nil
}

func (r *Registry) Graph(workflowKind string) (*Graph, bool) {
	g, ok := r.graphs[workflowKind]
	return g, ok
}

func (r *Registry) Handler(workflowKind string, stepKind string) (StepHandler, bool) {
	h, ok := r.handlers[handlerKey{workflowKind, stepKind}]
	return h, ok
}

// Families returns the distinct topic families of all registered graphs,
// used to provision broker streams at boot.
func (r *Registry) Families() []string {
	seen := map[string]bool{}
	for _, g := range r.graphs {
		seen[g.Family] = true
	}
	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Validate runs at process start: every graph validates, every graph node has
// a handler, and no handler is registered for an unknown node. Unregistered
// kinds are rejected here, not at dispatch time.
func (r *Registry) Validate() error {
	if len(r.graphs) == 0 {
		return fmt.Errorf("no workflow kinds registered")
	}
	for kind, g := range r.graphs {
		if err := g.Validate(); err != nil {
			return err
		}
		for stepKind := range g.Steps {
			if _, ok := r.handlers[handlerKey{kind, stepKind}]; !ok {
				return fmt.Errorf("workflow %q: no handler registered for step %q", kind, stepKind)
			}
		}
	}
	for key := range r.handlers {
		g, ok := r.graphs[key.workflowKind]
		if !ok {
			return fmt.Errorf("handler registered for unknown workflow kind %q", key.workflowKind)
		}
		if _, ok := g.Steps[key.stepKind]; !ok {
			return fmt.Errorf("workflow %q: handler registered for unknown step %q", key.workflowKind, key.stepKind)
		}
	}
	return nil
}
