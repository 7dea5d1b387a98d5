package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
)

// synthesizer aggregates step learnings into findings/gaps/recommendations
// and writes the final prose output.
type synthesizer struct {
	llm         *llmClient
	logger      *log.Logger
	contextSize int
}

// analyze folds all step summaries into a final analysis. A malformed
// completion yields an empty analysis rather than an error; the report can
// still be written from raw learnings.
func (s *synthesizer) analyze(ctx context.Context, query string, summaries []stepSummary) Analysis {
	var parts []string
	for _, sum := range summaries {
		b, err := json.Marshal(sum.Learnings)
		if err != nil {
			b = []byte("[]")
		}
		parts = append(parts, fmt.Sprintf("Step %d: %s\nFindings: %s", sum.StepID, sum.Description, b))
	}

	var analysis Analysis
	if err := s.llm.completeJSON(ctx, "final_analysis", "", researchSummaryPrompt(query, strings.Join(parts, "\n\n")), 0.7, &analysis); err != nil {
		s.logger.Printf("final analysis failed: %v", err)
		return Analysis{}
	}
	return analysis
}

// writeReport generates the final prose output, streaming fragments through
// onDelta when set. Context always passes through the deterministic size
// budget before prompting.
func (s *synthesizer) writeReport(ctx context.Context, query string, learnings []Learning, historyContext string, style AnswerStyle, onDelta func(string)) (string, error) {
	contextBlock := s.buildContext(learnings)

	var prompt string
	if style == StyleConcise {
		prompt = finalAnswerPrompt(query, contextBlock, historyContext)
	} else {
		prompt = finalReportPrompt(query, contextBlock, historyContext)
	}

	if onDelta != nil {
		return s.llm.completeStream(ctx, "final_report", researchSystemPrompt, prompt, 0.7, onDelta)
	}
	return s.llm.complete(ctx, "final_report", researchSystemPrompt, prompt, 0.7)
}

func (s *synthesizer) buildContext(learnings []Learning) string {
	b, err := json.Marshal(learnings)
	if err != nil {
		return ""
	}
	return truncateToBudget(string(b), s.contextSize)
}
