package engine

import (
	"fmt"
)

// Terminal step kinds shared by every workflow graph. A markSuccess record
// completing flips the workflow to completed; markFailure flips it to failed.
const (
	KindMarkSuccess = "markSuccess"
	KindMarkFailure = "markFailure"
)

// StepConfig is one node of a workflow's step graph. Pure data, no behavior.
type StepConfig struct {
	Kind         string
	OnSuccess    []string
	OnFailure    string
	ReadDataFrom []string
	Retry        *RetryConfig
}

// Graph is the static per-workflow-kind step table. Each kind occurs at most
// once per workflow; map keys make that structural.
type Graph struct {
	WorkflowKind string
	Family       string
	Entry        string
	Steps        map[string]StepConfig
}

// IsTerminal reports whether the kind is a node with no successors.
func (g *Graph) IsTerminal(kind string) bool {
	cfg, ok := g.Steps[kind]
	return ok && len(cfg.OnSuccess) == 0
}

// RetryFor returns the step's retry bounds, falling back to DefaultRetry.
func (g *Graph) RetryFor(kind string) RetryConfig {
	if cfg, ok := g.Steps[kind]; ok && cfg.Retry != nil {
		return *cfg.Retry
	}
	return DefaultRetry
}

// Validate checks the graph at process start: every reference resolves, the
// graph is acyclic, every node is reachable from the entry node, and every
// node has a path to a terminal node.
func (g *Graph) Validate() error {
	if g.WorkflowKind == "" {
		return fmt.Errorf("graph has no workflow kind")
	}
	if g.Family == "" {
		return fmt.Errorf("graph %s has no topic family", g.WorkflowKind)
	}
	if _, ok := g.Steps[g.Entry]; !ok {
		return fmt.Errorf("graph %s: entry step %q not defined", g.WorkflowKind, g.Entry)
	}

	for kind, cfg := range g.Steps {
		if cfg.Kind != kind {
			return fmt.Errorf("graph %s: step %q declares kind %q", g.WorkflowKind, kind, cfg.Kind)
		}
		for _, next := range cfg.OnSuccess {
			if _, ok := g.Steps[next]; !ok {
				return fmt.Errorf("graph %s: step %q onSuccess references unknown step %q", g.WorkflowKind, kind, next)
			}
		}
		if cfg.OnFailure != "" {
			if _, ok := g.Steps[cfg.OnFailure]; !ok {
				return fmt.Errorf("graph %s: step %q onFailure references unknown step %q", g.WorkflowKind, kind, cfg.OnFailure)
			}
		}
		for _, dep := range cfg.ReadDataFrom {
			if _, ok := g.Steps[dep]; !ok {
				return fmt.Errorf("graph %s: step %q readDataFrom references unknown step %q", g.WorkflowKind, kind, dep)
			}
		}
	}

	if cycle := g.findCycle(); cycle != "" {
		return fmt.Errorf("graph %s: cycle through step %q", g.WorkflowKind, cycle)
	}

	reachable := map[string]bool{}
	g.markReachable(g.Entry, reachable)
	for kind := range g.Steps {
		if !reachable[kind] {
			return fmt.Errorf("graph %s: step %q unreachable from entry %q", g.WorkflowKind, kind, g.Entry)
		}
	}

	for kind := range g.Steps {
		if !g.reachesTerminal(kind, map[string]bool{}) {
			return fmt.Errorf("graph %s: step %q has no path to a terminal step", g.WorkflowKind, kind)
		}
	}
	return nil
}

// edges are onSuccess plus onFailure; compensation joins the same DAG.
func (g *Graph) edges(kind string) []string {
	cfg := g.Steps[kind]
	out := append([]string{}, cfg.OnSuccess...)
	if cfg.OnFailure != "" {
		out = append(out, cfg.OnFailure)
	}
	return out
}

func (g *Graph) findCycle() string {
	const (
		visiting = 1
		done     = 2
	)
	state := map[string]int{}
	var visit func(kind string) string
	visit = func(kind string) string {
		switch state[kind] {
		case visiting:
			return kind
		case done:
			return ""
		}
		state[kind] = visiting
		for _, next := range g.edges(kind) {
			if hit := visit(next); hit != "" {
				return hit
			}
		}
		state[kind] = done
		return ""
	}
	for kind := range g.Steps {
		if hit := visit(kind); hit != "" {
			return hit
		}
	}
	return ""
}

func (g *Graph) markReachable(kind string, seen map[string]bool) {
	if seen[kind] {
		return
	}
	seen[kind] = true
	for _, next := range g.edges(kind) {
		g.markReachable(next, seen)
	}
}

func (g *Graph) reachesTerminal(kind string, seen map[string]bool) bool {
	if g.IsTerminal(kind) {
		return true
	}
	if seen[kind] {
		return false
	}
	seen[kind] = true
	for _, next := range g.edges(kind) {
		if g.reachesTerminal(next, seen) {
			return true
		}
	}
	return false
}
