package research

import (
	"context"
	"log"
	"strings"
)

// clarifier decides whether a query is ambiguous, turns ambiguity into
// structured follow-up questions, and folds user answers back into a refined
// query.
type clarifier struct {
	llm    *llmClient
	logger *log.Logger
}

// needsClarification asks for a yes/no judgement. Any provider failure fails
// closed: asking an unnecessary question is cheaper than guessing wrong.
func (c *clarifier) needsClarification(ctx context.Context, query, historyContext string) bool {
	out, err := c.llm.complete(ctx, "should_clarify", "", shouldClarifyPrompt(query, historyContext), 0.2)
	if err != nil {
		c.logger.Printf("clarification judgement failed, assuming clarification needed: %v", err)
		return true
	}
	answer := strings.ToLower(strings.TrimSpace(out))
	return !strings.HasPrefix(answer, "no")
}

type followUpResponse struct {
	NeedsClarification bool                    `json:"needs_clarification"`
	Questions          []ClarificationQuestion `json:"questions"`
}

// generateQuestions produces the clarifying question set. A malformed
// completion yields no questions rather than an error.
func (c *clarifier) generateQuestions(ctx context.Context, query, historyContext string) []ClarificationQuestion {
	var resp followUpResponse
	if err := c.llm.completeJSON(ctx, "generate_questions", "", followUpQuestionsPrompt(query, historyContext), 0.7, &resp); err != nil {
		c.logger.Printf("question generation failed: %v", err)
		return nil
	}
	if !resp.NeedsClarification {
		return nil
	}
	return resp.Questions
}

// processAnswers folds user answers (and defaults for unanswered questions)
// into a refined query. When every question was left unanswered a distinct
// prompt variant asks for best-effort assumptions instead of treating the
// blanks as empty strings. On any failure the safe default is returned: the
// original query, search required, no assumptions.
func (c *clarifier) processAnswers(ctx context.Context, query string, answers map[string]string, questions []ClarificationQuestion, historyContext string) ClarificationResult {
	fallback := ClarificationResult{RefinedQuery: query, RequiresSearch: true}

	answered, unanswered := formatClarifications(questions, answers)

	var prompt string
	if len(answered) == 0 {
		prompt = processNoClarificationsPrompt(query, unanswered, historyContext)
	} else {
		prompt = processClarificationsPrompt(query, answered, unanswered, historyContext)
	}

	var result ClarificationResult
	if err := c.llm.completeJSON(ctx, "process_clarifications", "", prompt, 0.7, &result); err != nil {
		c.logger.Printf("clarification processing failed, using original query: %v", err)
		return fallback
	}
	if strings.TrimSpace(result.RefinedQuery) == "" {
		result.RefinedQuery = query
	}
	// A missing direct answer means search is still required regardless of
	// what the flag claims.
	if !result.RequiresSearch && strings.TrimSpace(result.DirectAnswer) == "" {
		result.RequiresSearch = true
	}
	return result
}
