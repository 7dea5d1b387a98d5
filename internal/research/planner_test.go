package research

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
)

func newTestPlanner(llm scriptedLLM) *planner {
	logger := log.New(io.Discard, "", 0)
	return &planner{llm: newLLMClient(llm, nil, logger, "test"), logger: logger}
}

func TestGeneratePlanFallbackOnError(t *testing.T) {
	p := newTestPlanner(scriptedLLM{completeErr: errors.New("provider down")})
	plan := p.generatePlan(context.Background(), "the query", "")
	if len(plan.Steps) != 1 {
		t.Fatalf("expected the single-step fallback, got %d steps", len(plan.Steps))
	}
	step := plan.Steps[0]
	if step.StepID != 1 || len(step.SearchQueries) != 1 || step.SearchQueries[0] != "the query" {
		t.Fatalf("fallback step must target the query itself, got %+v", step)
	}
}

func TestGeneratePlanFallbackOnMalformed(t *testing.T) {
	p := newTestPlanner(scriptedLLM{plan: "not json at all"})
	plan := p.generatePlan(context.Background(), "q", "")
	if len(plan.Steps) != 1 || plan.Steps[0].SearchQueries[0] != "q" {
		t.Fatalf("malformed plan must fall back, got %+v", plan)
	}
}

func TestGeneratePlanFallbackOnEmptySteps(t *testing.T) {
	p := newTestPlanner(scriptedLLM{plan: `{"assessments":"hmm","steps":[]}`})
	plan := p.generatePlan(context.Background(), "q", "")
	if len(plan.Steps) != 1 {
		t.Fatalf("empty step list must fall back, got %+v", plan)
	}
}

func TestGeneratePlanNormalizesSteps(t *testing.T) {
	p := newTestPlanner(scriptedLLM{plan: `{"assessments":"two angles","steps":[
		{"description":"first angle","search_queries":["a","b"],"goal":"g1"},
		{"description":"second angle","search_queries":[],"goal":"g2"},
		{"description":"","search_queries":[],"goal":""}
	]}`})
	plan := p.generatePlan(context.Background(), "the query", "")
	if len(plan.Steps) != 2 {
		t.Fatalf("blank step must be dropped, got %d steps", len(plan.Steps))
	}
	if plan.Steps[0].StepID != 1 || plan.Steps[1].StepID != 2 {
		t.Fatalf("missing step ids must be filled in order, got %+v", plan.Steps)
	}
	if got := plan.Steps[1].SearchQueries; len(got) != 1 || got[0] != "the query" {
		t.Fatalf("step without queries must default to the query, got %v", got)
	}
}
