package research

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/mohammad-safakhou/depthcharge/config"
	"github.com/mohammad-safakhou/depthcharge/provider"
	"github.com/mohammad-safakhou/depthcharge/tools/web_search/models"
)

// scriptedLLM routes each prompt to a canned response by matching prompt
// markers, so tests stay independent of call ordering.
type scriptedLLM struct {
	clarify     string
	questions   string
	process     string
	plan        string
	extract     string
	followup    string
	analysis    string
	report      string
	completeErr error
}

func (s scriptedLLM) respond(prompt string) string {
	switch {
	case strings.Contains(prompt, `Answer only "yes" or "no"`):
		return s.clarify
	case strings.Contains(prompt, "generate clarifying questions"):
		return s.questions
	case strings.Contains(prompt, "clarification questions and their responses"),
		strings.Contains(prompt, "chose not to provide any clarifications"):
		return s.process
	case strings.Contains(prompt, "flexible research plan"):
		return s.plan
	case strings.Contains(prompt, "information extraction expert"):
		return s.extract
	case strings.Contains(prompt, "decide what to search next"):
		return s.followup
	case strings.Contains(prompt, "we've explored the query"):
		return s.analysis
	default:
		return s.report
	}
}

func (s scriptedLLM) Complete(ctx context.Context, messages []provider.Message, opts provider.Options) (string, provider.Usage, error) {
	if s.completeErr != nil {
		return "", provider.Usage{}, s.completeErr
	}
	prompt := messages[len(messages)-1].Content
	return s.respond(prompt), provider.Usage{TotalTokens: 10}, nil
}

func (s scriptedLLM) CompleteStream(ctx context.Context, messages []provider.Message, opts provider.Options, onDelta func(string)) (string, provider.Usage, error) {
	if s.completeErr != nil {
		return "", provider.Usage{}, s.completeErr
	}
	out := s.respond(messages[len(messages)-1].Content)
	if onDelta != nil {
		for i := 0; i < len(out); i += 5 {
			end := i + 5
			if end > len(out) {
				end = len(out)
			}
			onDelta(out[i:end])
		}
	}
	return out, provider.Usage{TotalTokens: 10}, nil
}

func (s scriptedLLM) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}

// stubSearcher answers every query from a function.
type stubSearcher struct {
	fn func(q string) ([]models.Result, error)
}

func (s stubSearcher) Discover(ctx context.Context, q string, k int) ([]models.Result, error) {
	return s.fn(q)
}

const (
	planOneStep = `{"assessments":"simple factual query","steps":[{"step_id":1,"description":"Look up the answer","search_queries":["capital of france"],"goal":"find the capital"}]}`
	followupEnd = `{"learnings":[{"learning":"Paris is the capital of France","url":"https://example.com/paris"}],"nextQueries":[]}`
	extractInfo = `{"extracted_infos":[{"info":"Paris is the capital of France","url":"https://example.com/paris","relevance":"answers the query"}]}`
	analysisOne = `{"findings":[{"finding":"Paris is the capital of France","url":"https://example.com/paris"}],"gaps":[],"recommendations":[]}`
	reportText  = "# Research Report\n\nParis is the capital of France. [cite](https://example.com/paris)"

	questionsSet = `{"needs_clarification":true,"questions":[{"key":"topic","question":"Do you mean the fruit or the company?","default":"company"}]}`
	processedOK  = `{"refined_query":"Introduce Apple Inc., the technology company","assumptions":["interpreting apple as the company"],"requires_search":true,"direct_answer":""}`
)

func clearLLM() scriptedLLM {
	return scriptedLLM{
		clarify:  "no",
		plan:     planOneStep,
		extract:  extractInfo,
		followup: followupEnd,
		analysis: analysisOne,
		report:   reportText,
	}
}

func okSearcher() stubSearcher {
	return stubSearcher{fn: func(q string) ([]models.Result, error) {
		return []models.Result{
			{Title: "Paris", URL: "https://example.com/paris", Snippet: "Paris is the capital of France"},
			{Title: "France", URL: "https://example.com/france", Snippet: "France is a country in Europe"},
		}, nil
	}}
}

func testConfig() *config.Config {
	return &config.Config{
		Research: config.ResearchConfig{
			DefaultBreadth:     2,
			DefaultDepth:       2,
			ConcurrencyLimit:   2,
			ContextSize:        10000,
			MaxResultsPerQuery: 3,
			EnableSummary:      true,
		},
		Search: config.SearchConfig{Source: "stub"},
		LLM:    config.LLMConfig{Model: "test-model"},
	}
}

func testEngine(llm scriptedLLM, searcher stubSearcher) *Engine {
	return NewEngine(testConfig(), llm, searcher, nil, nil, log.New(io.Discard, "", 0))
}

func collect(t *testing.T, e *Engine, req Request) []ProgressEvent {
	t.Helper()
	var evs []ProgressEvent
	for ev := range e.Stream(context.Background(), req) {
		evs = append(evs, ev)
	}
	if len(evs) == 0 {
		t.Fatal("stream produced no events")
	}
	return evs
}

func stages(evs []ProgressEvent) []Stage {
	out := make([]Stage, len(evs))
	for i, ev := range evs {
		out[i] = ev.Stage
	}
	return out
}

func hasStage(evs []ProgressEvent, s Stage) bool {
	for _, ev := range evs {
		if ev.Stage == s {
			return true
		}
	}
	return false
}

func TestSimpleQueryCompletes(t *testing.T) {
	e := testEngine(clearLLM(), okSearcher())
	evs := collect(t, e, Request{Query: "What is the capital of France?"})

	last := evs[len(evs)-1]
	if last.Stage != StageCompleted {
		t.Fatalf("expected completed terminal stage, got %s", last.Stage)
	}
	if last.FinalReport == "" {
		t.Fatal("expected non-empty final report")
	}
	if hasStage(evs, StageAwaitingClarification) {
		t.Fatal("unexpected awaiting_clarification on a clear query")
	}
	if !hasStage(evs, StageClarificationSkipped) {
		t.Fatalf("expected clarification_skipped, stages: %v", stages(evs))
	}
	for _, ev := range evs {
		if ev.Stage == StagePlanGenerated && len(ev.ResearchPlan) != 1 {
			t.Fatalf("expected a 1-step plan, got %d steps", len(ev.ResearchPlan))
		}
	}
}

func TestAmbiguousQuerySuspends(t *testing.T) {
	llm := clearLLM()
	llm.clarify = "yes"
	llm.questions = questionsSet
	e := testEngine(llm, okSearcher())

	evs := collect(t, e, Request{Query: "Tell me about apple"})

	last := evs[len(evs)-1]
	if last.Stage != StageAwaitingClarification {
		t.Fatalf("expected awaiting_clarification terminal, got %s", last.Stage)
	}
	if !last.AwaitingClarification || len(last.Questions) == 0 {
		t.Fatal("awaiting event must carry the question set")
	}
	if !hasStage(evs, StageClarificationNeeded) {
		t.Fatalf("expected clarification_needed before suspension, stages: %v", stages(evs))
	}
	if hasStage(evs, StageCompleted) {
		t.Fatal("suspended stream must not complete")
	}
}

func TestResumeWithAnswersRefinesQuery(t *testing.T) {
	llm := clearLLM()
	llm.clarify = "yes"
	llm.questions = questionsSet
	llm.process = processedOK
	e := testEngine(llm, okSearcher())

	// First invocation suspends.
	collect(t, e, Request{Query: "Tell me about apple"})

	// Re-invocation with answers continues past the suspension point.
	evs := collect(t, e, Request{
		Query:          "Tell me about apple",
		Clarifications: map[string]string{"topic": "company"},
	})

	var refined string
	for _, ev := range evs {
		if ev.Stage == StageQueryRefined {
			refined = ev.CurrentQuery
		}
	}
	if refined == "" || refined == "Tell me about apple" {
		t.Fatalf("expected a refined query different from the original, got %q", refined)
	}
	if !hasStage(evs, StagePlanGenerated) {
		t.Fatalf("expected resumed run to reach planning, stages: %v", stages(evs))
	}
	if evs[len(evs)-1].Stage != StageCompleted {
		t.Fatalf("expected resumed run to complete, got %s", evs[len(evs)-1].Stage)
	}
}

func TestDirectAnswerShortCircuit(t *testing.T) {
	llm := clearLLM()
	llm.clarify = "yes"
	llm.questions = questionsSet
	llm.process = `{"refined_query":"What is 2+2?","assumptions":[],"requires_search":false,"direct_answer":"2+2 equals 4."}`
	e := testEngine(llm, okSearcher())

	collect(t, e, Request{Query: "what is 2+2"})
	evs := collect(t, e, Request{
		Query:          "what is 2+2",
		Clarifications: map[string]string{"topic": "math"},
	})

	last := evs[len(evs)-1]
	if last.Stage != StageCompleted {
		t.Fatalf("expected completed, got %s", last.Stage)
	}
	if last.FinalReport != "2+2 equals 4." {
		t.Fatalf("terminal report must equal the direct answer, got %q", last.FinalReport)
	}
	if hasStage(evs, StagePlanGenerated) || hasStage(evs, StagePlanning) {
		t.Fatalf("direct answer must skip planning, stages: %v", stages(evs))
	}
	if len(last.VisitedURLs) != 0 {
		t.Fatalf("direct answer visits no URLs, got %v", last.VisitedURLs)
	}
}

func TestDepthBoundsBatchIterations(t *testing.T) {
	llm := clearLLM()
	// Every batch proposes three follow-ups; only depth stops the loop.
	llm.followup = `{"learnings":[{"learning":"a fact","url":"https://example.com/a"}],"nextQueries":["f1","f2","f3"]}`
	e := testEngine(llm, okSearcher())

	evs := collect(t, e, Request{Query: "complex topic", Breadth: 2, Depth: 2})

	iterations := 0
	for _, ev := range evs {
		if ev.Stage == StageProcessingQueries {
			iterations++
			if len(ev.CurrentQueries) > 2 {
				t.Fatalf("batch size exceeds breadth: %v", ev.CurrentQueries)
			}
		}
	}
	if iterations != 2 {
		t.Fatalf("expected exactly 2 batch iterations for depth=2, got %d", iterations)
	}
	if evs[len(evs)-1].Stage != StageCompleted {
		t.Fatalf("expected run to complete, got %s", evs[len(evs)-1].Stage)
	}
}

func TestQueryFailureIsolatedWithinBatch(t *testing.T) {
	llm := clearLLM()
	llm.plan = `{"assessments":"multi-angle","steps":[{"step_id":1,"description":"broad sweep","search_queries":["good one","bad","good two"],"goal":"coverage"}]}`
	searcher := stubSearcher{fn: func(q string) ([]models.Result, error) {
		if q == "bad" {
			return nil, errors.New("backend exploded")
		}
		return []models.Result{{Title: "T", URL: "https://example.com/" + strings.ReplaceAll(q, " ", "-"), Snippet: "some content"}}, nil
	}}
	e := testEngine(llm, searcher)

	evs := collect(t, e, Request{Query: "resilience check", Breadth: 3, Depth: 1})

	if hasStage(evs, StageError) {
		t.Fatalf("a single failed query must not produce an error terminal, stages: %v", stages(evs))
	}
	var stepLearnings []Learning
	for _, ev := range evs {
		if ev.Stage == StageStepCompleted {
			stepLearnings = ev.StepLearnings
		}
	}
	if len(stepLearnings) == 0 {
		t.Fatal("surviving queries must still contribute learnings")
	}
	if evs[len(evs)-1].Stage != StageCompleted {
		t.Fatalf("expected completion, got %s", evs[len(evs)-1].Stage)
	}
}

func TestLearningsAndURLsAreMonotonic(t *testing.T) {
	e := testEngine(clearLLM(), okSearcher())
	evs := collect(t, e, Request{Query: "What is the capital of France?"})

	prevL, prevU := 0, 0
	for _, ev := range evs {
		if len(ev.Learnings) < prevL {
			t.Fatalf("learnings shrank at stage %s: %d -> %d", ev.Stage, prevL, len(ev.Learnings))
		}
		if len(ev.VisitedURLs) < prevU && ev.Stage != StageCompleted {
			t.Fatalf("visited urls shrank at stage %s: %d -> %d", ev.Stage, prevU, len(ev.VisitedURLs))
		}
		prevL, prevU = len(ev.Learnings), len(ev.VisitedURLs)
	}
}

func TestTerminalURLsDeduplicated(t *testing.T) {
	llm := clearLLM()
	llm.plan = `{"assessments":"two angles","steps":[{"step_id":1,"description":"first","search_queries":["q1"],"goal":"g1"},{"step_id":2,"description":"second","search_queries":["q2"],"goal":"g2"}]}`
	searcher := stubSearcher{fn: func(q string) ([]models.Result, error) {
		return []models.Result{{Title: "Same", URL: "https://example.com/shared", Snippet: "shared page"}}, nil
	}}
	e := testEngine(llm, searcher)

	evs := collect(t, e, Request{Query: "dedup check", Depth: 1})
	last := evs[len(evs)-1]
	if last.Stage != StageCompleted {
		t.Fatalf("expected completion, got %s", last.Stage)
	}
	seen := map[string]int{}
	for _, u := range last.VisitedURLs {
		seen[u]++
	}
	for u, n := range seen {
		if n > 1 {
			t.Fatalf("url %q appears %d times in terminal snapshot", u, n)
		}
	}
	if len(last.VisitedURLs) != 1 {
		t.Fatalf("expected the shared url exactly once, got %v", last.VisitedURLs)
	}
}

func TestStreamedReportMatchesFinalReport(t *testing.T) {
	e := testEngine(clearLLM(), okSearcher())

	var streamed strings.Builder
	res, err := e.Run(context.Background(), Request{
		Query:         "What is the capital of France?",
		OnReportDelta: func(chunk string) { streamed.WriteString(chunk) },
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Error != "" {
		t.Fatalf("unexpected error: %s", res.Error)
	}
	if res.FinalReport == "" || res.FinalReport != streamed.String() {
		t.Fatalf("streamed report must equal materialized report:\n%q\nvs\n%q", streamed.String(), res.FinalReport)
	}
}

// questionCountingLLM counts how often question generation actually runs.
type questionCountingLLM struct {
	scriptedLLM
	generated *int32
}

func (c questionCountingLLM) Complete(ctx context.Context, messages []provider.Message, opts provider.Options) (string, provider.Usage, error) {
	if strings.Contains(messages[len(messages)-1].Content, "generate clarifying questions") {
		atomic.AddInt32(c.generated, 1)
	}
	return c.scriptedLLM.Complete(ctx, messages, opts)
}

func TestConcurrentSameQueryStreamsSuspend(t *testing.T) {
	llm := clearLLM()
	llm.clarify = "yes"
	llm.questions = questionsSet
	e := testEngine(llm, okSearcher())

	const runs = 4
	terminals := make([]Stage, runs)
	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var last ProgressEvent
			for ev := range e.Stream(context.Background(), Request{Query: "Tell me about apple"}) {
				last = ev
			}
			terminals[i] = last.Stage
		}(i)
	}
	wg.Wait()

	for i, s := range terminals {
		if s != StageAwaitingClarification {
			t.Fatalf("stream %d: expected awaiting_clarification, got %s", i, s)
		}
	}
}

func TestCompletedRunKeepsSiblingSuspension(t *testing.T) {
	llm := clearLLM()
	llm.clarify = "yes"
	llm.questions = questionsSet
	llm.process = processedOK

	var generated int32
	counting := questionCountingLLM{scriptedLLM: llm, generated: &generated}
	e := NewEngine(testConfig(), counting, okSearcher(), nil, nil, log.New(io.Discard, "", 0))

	// Two callers suspend on the same query text.
	collect(t, e, Request{Query: "Tell me about apple"})
	collect(t, e, Request{Query: "Tell me about apple"})
	suspendedGen := atomic.LoadInt32(&generated)

	// The first caller resumes and completes; that must not discard the
	// question set the second caller is still waiting to resume with.
	evs := collect(t, e, Request{
		Query:          "Tell me about apple",
		Clarifications: map[string]string{"topic": "company"},
	})
	if evs[len(evs)-1].Stage != StageCompleted {
		t.Fatalf("first resume should complete, got %s", evs[len(evs)-1].Stage)
	}

	evs = collect(t, e, Request{
		Query:          "Tell me about apple",
		Clarifications: map[string]string{"topic": "fruit"},
	})
	if evs[len(evs)-1].Stage != StageCompleted {
		t.Fatalf("second resume should complete, got %s", evs[len(evs)-1].Stage)
	}
	if n := atomic.LoadInt32(&generated); n != suspendedGen {
		t.Fatalf("resumed runs regenerated questions: %d -> %d generations", suspendedGen, n)
	}
}

func TestStepFallbackDoesNotLeakEarlierSteps(t *testing.T) {
	llm := clearLLM()
	llm.plan = `{"assessments":"two angles","steps":[{"step_id":1,"description":"working","search_queries":["good"],"goal":"g1"},{"step_id":2,"description":"broken","search_queries":["broken"],"goal":"g2"}]}`
	searcher := stubSearcher{fn: func(q string) ([]models.Result, error) {
		if q == "broken" {
			return nil, errors.New("backend down")
		}
		return []models.Result{{Title: "T", URL: "https://example.com/good", Snippet: "useful content"}}, nil
	}}
	e := testEngine(llm, searcher)

	evs := collect(t, e, Request{Query: "two step check", Depth: 1})

	var completed []ProgressEvent
	for _, ev := range evs {
		if ev.Stage == StageStepCompleted {
			completed = append(completed, ev)
		}
	}
	if len(completed) != 2 {
		t.Fatalf("expected 2 step_completed events, got %d", len(completed))
	}
	if len(completed[0].StepLearnings) == 0 {
		t.Fatal("first step should carry its own learnings")
	}
	// The second step gathered nothing at all, so it reports nothing. Content
	// from the first step must not reappear here as fallback learnings.
	if len(completed[1].StepLearnings) != 0 {
		t.Fatalf("second step should report no learnings, got %+v", completed[1].StepLearnings)
	}
}

func TestRunSurfacesSuspension(t *testing.T) {
	llm := clearLLM()
	llm.clarify = "yes"
	llm.questions = questionsSet
	e := testEngine(llm, okSearcher())

	res, err := e.Run(context.Background(), Request{Query: "Tell me about apple"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Suspended() {
		t.Fatalf("expected suspended result, got %+v", res)
	}
	if len(res.Questions) != 1 || res.Questions[0].Key != "topic" {
		t.Fatalf("expected the question set on the result, got %+v", res.Questions)
	}
}
