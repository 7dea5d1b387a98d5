package research

import (
	"encoding/json"
	"strings"
)

// Learning is an atomic extracted fact with optional source attribution.
type Learning struct {
	Text string `json:"learning"`
	URL  string `json:"url,omitempty"`
}

// UnmarshalJSON accepts both the bare-string and the object form. Model
// output is not consistent about which one it produces.
func (l *Learning) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		l.Text = s
		return nil
	}
	var obj struct {
		Learning string `json:"learning"`
		Finding  string `json:"finding"`
		Info     string `json:"info"`
		URL      string `json:"url"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	switch {
	case obj.Learning != "":
		l.Text = obj.Learning
	case obj.Finding != "":
		l.Text = obj.Finding
	default:
		l.Text = obj.Info
	}
	l.URL = obj.URL
	return nil
}

// ClarificationQuestion is one structured follow-up question.
type ClarificationQuestion struct {
	Key      string `json:"key"`
	Question string `json:"question"`
	Default  string `json:"default"`
}

// ClarificationResult is the outcome of folding user answers back into the query.
type ClarificationResult struct {
	RefinedQuery   string   `json:"refined_query"`
	Assumptions    []string `json:"assumptions"`
	RequiresSearch bool     `json:"requires_search"`
	DirectAnswer   string   `json:"direct_answer"`
}

// PlanStep is one unit of the research plan. Steps are never mutated after
// the plan is generated.
type PlanStep struct {
	StepID        int      `json:"step_id"`
	Description   string   `json:"description"`
	SearchQueries []string `json:"search_queries"`
	Goal          string   `json:"goal"`
}

// Plan is the ordered list of research steps with the model's complexity assessment.
type Plan struct {
	Assessments string     `json:"assessments"`
	Steps       []PlanStep `json:"steps"`
}

// Analysis aggregates all step learnings into findings, gaps and recommendations.
type Analysis struct {
	Findings        []Learning `json:"findings"`
	Gaps            []string   `json:"gaps"`
	Recommendations []string   `json:"recommendations"`
}

// AnswerStyle selects the shape of the final output.
type AnswerStyle string

const (
	StyleReport  AnswerStyle = "report"
	StyleConcise AnswerStyle = "concise"
)

// Request describes one research invocation. Re-invoking with the same Query
// plus populated Clarifications continues a run suspended on clarification.
type Request struct {
	Query          string            `json:"query"`
	Breadth        int               `json:"breadth,omitempty"`
	Depth          int               `json:"depth,omitempty"`
	Clarifications map[string]string `json:"user_clarifications,omitempty"`
	SearchSource   string            `json:"search_source,omitempty"`
	HistoryContext string            `json:"history_context,omitempty"`
	AnswerStyle    AnswerStyle       `json:"answer_style,omitempty"`

	// OnReportDelta, when set, receives report text fragments as the model
	// produces them. The assembled report in the terminal event is identical
	// to the concatenation of the fragments.
	OnReportDelta func(string) `json:"-"`
}

func (r Request) style() AnswerStyle {
	if r.AnswerStyle == StyleConcise {
		return StyleConcise
	}
	return StyleReport
}

// Result is the final aggregate produced by draining the progress stream.
type Result struct {
	Query         string     `json:"query"`
	OriginalQuery string     `json:"original_query"`
	Learnings     []Learning `json:"learnings"`
	VisitedURLs   []string   `json:"visited_urls"`
	Analysis      *Analysis  `json:"analysis,omitempty"`
	FinalReport   string     `json:"final_report,omitempty"`

	// Set when the run suspended waiting for clarification answers.
	Questions []ClarificationQuestion `json:"questions,omitempty"`

	Error string `json:"error,omitempty"`
}

// Suspended reports whether the run stopped at the clarification boundary.
func (r Result) Suspended() bool { return len(r.Questions) > 0 && r.FinalReport == "" && r.Error == "" }

// stepSummary captures one finished plan step for the final analysis.
type stepSummary struct {
	StepID      int        `json:"step_id"`
	Description string     `json:"description"`
	Learnings   []Learning `json:"learnings"`
	URLs        []string   `json:"urls"`
}

// dedupeURLs removes exact duplicates while preserving first-seen order.
func dedupeURLs(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
