package engine

import (
	"strings"
	"testing"
)

func TestGraphValidate_AcceptsWellFormedGraph(t *testing.T) {
	if err := linearTestGraph().Validate(); err != nil {
		t.Fatalf("well formed graph rejected: %v", err)
	}
}

func TestGraphValidate_Rejections(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(g *Graph)
		wantErr string
	}{
		{
			name:    "missing entry",
			mutate:  func(g *Graph) { g.Entry = "nope" },
			wantErr: "entry step",
		},
		{
			name: "unknown onSuccess reference",
			mutate: func(g *Graph) {
				cfg := g.Steps["submitTx"]
				cfg.OnSuccess = []string{"ghost"}
				g.Steps["submitTx"] = cfg
			},
			wantErr: "onSuccess references unknown step",
		},
		{
			name: "unknown onFailure reference",
			mutate: func(g *Graph) {
				cfg := g.Steps["submitTx"]
				cfg.OnFailure = "ghost"
				g.Steps["submitTx"] = cfg
			},
			wantErr: "onFailure references unknown step",
		},
		{
			name: "unknown readDataFrom reference",
			mutate: func(g *Graph) {
				cfg := g.Steps["confirmTx"]
				cfg.ReadDataFrom = []string{"ghost"}
				g.Steps["confirmTx"] = cfg
			},
			wantErr: "readDataFrom references unknown step",
		},
		{
			name: "cycle",
			mutate: func(g *Graph) {
				cfg := g.Steps["confirmTx"]
				cfg.OnSuccess = []string{"submitTx"}
				g.Steps["confirmTx"] = cfg
			},
			wantErr: "cycle",
		},
		{
			name: "unreachable step",
			mutate: func(g *Graph) {
				g.Steps["orphan"] = StepConfig{Kind: "orphan", OnSuccess: []string{KindMarkSuccess}}
			},
			wantErr: "unreachable",
		},
		{
			name: "kind mismatch",
			mutate: func(g *Graph) {
				cfg := g.Steps["submitTx"]
				cfg.Kind = "other"
				g.Steps["submitTx"] = cfg
			},
			wantErr: "declares kind",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := linearTestGraph()
			tc.mutate(g)
			err := g.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error mentioning %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestGraph_TerminalAndRetryLookup(t *testing.T) {
	g := linearTestGraph()
	if !g.IsTerminal(KindMarkSuccess) || !g.IsTerminal(KindMarkFailure) {
		t.Fatal("steps without successors must be terminal")
	}
	if g.IsTerminal("submitTx") {
		t.Fatal("steps with successors must not be terminal")
	}
	if rc := g.RetryFor("confirmTx"); rc.MaxRetryCount != 3 {
		t.Fatalf("expected step retry override, got %+v", rc)
	}
	if rc := g.RetryFor("submitTx"); rc.MaxRetryCount != DefaultRetry.MaxRetryCount {
		t.Fatalf("expected default retry, got %+v", rc)
	}
}

func TestRegistryValidate_RequiresHandlerPerStep(t *testing.T) {
	r := NewRegistry()
	g := linearTestGraph()
	handlers := map[string]StepHandler{}
	for kind := range g.Steps {
		if kind == "confirmTx" {
			continue
		}
		handlers[kind] = StepHandlerFunc(doneHandler)
	}
	if err := r.RegisterFlow(g, handlers); err != nil {
		t.Fatalf("RegisterFlow returned error: %v", err)
	}
	err := r.Validate()
	if err == nil || !strings.Contains(err.Error(), "no handler registered") {
		t.Fatalf("expected missing handler error, got %v", err)
	}
}

func TestRegistry_RejectsDuplicateKind(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterFlow(linearTestGraph(), nil); err != nil {
		t.Fatalf("first RegisterFlow returned error: %v", err)
	}
	if err := r.RegisterFlow(linearTestGraph(), nil); err == nil {
		t.Fatal("expected error registering the same workflow kind twice")
	}
}

func TestRetryConfig_SlidingInterval(t *testing.T) {
	rc := RetryConfig{MaxRetryCount: 4, RetryIntervalMin: 1e9, RetryIntervalMax: 9e9}
	prev := rc.SlidingInterval(0)
	if prev != rc.RetryIntervalMin {
		t.Fatalf("first interval must be the minimum, got %v", prev)
	}
	for i := 1; i <= 4; i++ {
		d := rc.SlidingInterval(i)
		if d < prev {
			t.Fatalf("interval must not shrink: attempt %d gave %v after %v", i, d, prev)
		}
		prev = d
	}
	if prev != rc.RetryIntervalMax {
		t.Fatalf("final interval must be the maximum, got %v", prev)
	}
}
