package research

import (
	"context"
	"log"
	"strings"
)

// planner turns a (possibly refined) query into an ordered list of research
// steps. Step count is chosen by the model based on query complexity.
type planner struct {
	llm    *llmClient
	logger *log.Logger
}

// generatePlan builds the research plan. A malformed or empty plan falls back
// to a single default step targeting the query itself; the pipeline never
// proceeds with an empty plan.
func (p *planner) generatePlan(ctx context.Context, query, historyContext string) Plan {
	var plan Plan
	if err := p.llm.completeJSON(ctx, "generate_plan", "", researchPlanPrompt(query, historyContext), 0.7, &plan); err != nil {
		p.logger.Printf("plan generation failed, falling back to single step: %v", err)
		return defaultPlan(query)
	}

	steps := make([]PlanStep, 0, len(plan.Steps))
	for i, step := range plan.Steps {
		if step.StepID == 0 {
			step.StepID = i + 1
		}
		if strings.TrimSpace(step.Description) == "" && len(step.SearchQueries) == 0 {
			continue
		}
		if len(step.SearchQueries) == 0 {
			step.SearchQueries = []string{query}
		}
		steps = append(steps, step)
	}
	if len(steps) == 0 {
		p.logger.Printf("plan contained no usable steps, falling back to single step")
		return defaultPlan(query)
	}
	plan.Steps = steps
	return plan
}

func defaultPlan(query string) Plan {
	return Plan{
		Assessments: "fallback single-step plan",
		Steps: []PlanStep{{
			StepID:        1,
			Description:   "Research the query directly",
			SearchQueries: []string{query},
			Goal:          query,
		}},
	}
}
