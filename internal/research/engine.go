package research

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohammad-safakhou/depthcharge/config"
	"github.com/mohammad-safakhou/depthcharge/internal/telemetry"
	"github.com/mohammad-safakhou/depthcharge/provider"
	"github.com/mohammad-safakhou/depthcharge/tools/web_fetch"
	"github.com/mohammad-safakhou/depthcharge/tools/web_search"
)

// Engine drives the research pipeline: clarification, planning, bounded
// breadth/depth search expansion, synthesis and report generation, emitting
// an ordered progress stream along the way.
type Engine struct {
	cfg       *config.Config
	provider  provider.Provider
	searcher  web_search.WebSearcher
	fetcher   web_fetch.WebFetcher
	telemetry *telemetry.Telemetry
	logger    *log.Logger
	tracer    trace.Tracer

	// SearcherFactory, when set, builds a backend for a per-request
	// search_source override. The default searcher handles everything else.
	SearcherFactory func(source string) (web_search.WebSearcher, error)

	mu       sync.Mutex
	sessions map[string]*session
}

// session carries the state that survives a clarification suspension: the
// generated question set and the per-session clarification memo. Concurrent
// runs with the same query text share one session, so every access goes
// through mu.
type session struct {
	mu          sync.Mutex
	questions   []ClarificationQuestion
	suspended   int
	clarifyMemo map[string]bool
}

// NewEngine wires the pipeline. fetcher may be nil to disable page fetching.
func NewEngine(cfg *config.Config, p provider.Provider, searcher web_search.WebSearcher, fetcher web_fetch.WebFetcher, tel *telemetry.Telemetry, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(log.Writer(), "[RESEARCH] ", log.LstdFlags)
	}
	return &Engine{
		cfg:       cfg,
		provider:  p,
		searcher:  searcher,
		fetcher:   fetcher,
		telemetry: tel,
		logger:    logger,
		tracer:    otel.Tracer("depthcharge/research"),
		sessions:  make(map[string]*session),
	}
}

// Stream runs the pipeline and returns its ordered progress stream. The
// channel is unbuffered: no work runs ahead of the consumer beyond what the
// current batch already dispatched. Cancel ctx to abandon a stream early;
// cancellation is honored at batch boundaries.
func (e *Engine) Stream(ctx context.Context, req Request) <-chan ProgressEvent {
	ch := make(chan ProgressEvent)
	go func() {
		defer close(ch)
		e.run(ctx, req, ch)
	}()
	return ch
}

// Run drains the stream and returns the final aggregate.
func (e *Engine) Run(ctx context.Context, req Request) (Result, error) {
	var last ProgressEvent
	var questions []ClarificationQuestion
	var original string
	var analysis *Analysis
	for ev := range e.Stream(ctx, req) {
		if len(ev.Questions) > 0 {
			questions = ev.Questions
		}
		if ev.OriginalQuery != "" {
			original = ev.OriginalQuery
		}
		if ev.Stage == StageAnalysisCompleted {
			analysis = &Analysis{
				Findings:        ev.FinalFindings,
				Gaps:            ev.Gaps,
				Recommendations: ev.Recommendations,
			}
		}
		last = ev
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	res := Result{
		Query:         req.Query,
		OriginalQuery: req.Query,
		Learnings:     last.Learnings,
		VisitedURLs:   last.VisitedURLs,
		FinalReport:   last.FinalReport,
		Analysis:      analysis,
		Error:         last.Error,
	}
	if last.CurrentQuery != "" {
		res.Query = last.CurrentQuery
	}
	if original != "" {
		res.OriginalQuery = original
	}
	switch last.Stage {
	case StageAwaitingClarification:
		res.Questions = questions
	case StageCompleted, StageError:
	default:
		// Stream ended without a terminal event, typically context
		// cancellation mid-run.
		res.Error = "stream ended before terminal event"
	}
	return res, nil
}

func (e *Engine) session(query string) *session {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[query]
	if !ok {
		s = &session{clarifyMemo: make(map[string]bool)}
		e.sessions[query] = s
	}
	return s
}

// SeedQuestions restores the question set of a run suspended in another
// process, so resumption does not regenerate questions.
func (e *Engine) SeedQuestions(query string, questions []ClarificationQuestion) {
	if len(questions) == 0 {
		return
	}
	e.session(query).suspend(questions)
}

// dropSession removes a session once no run is suspended on it. A completed
// run must not discard the question set a sibling run is still waiting to
// resume with.
func (e *Engine) dropSession(query string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.sessions[query]; ok && s.idle() {
		delete(e.sessions, query)
	}
}

// memoNeedsClarification memoizes the yes/no judgement per query text within
// one session, so a run never asks the model twice for the same string. The
// lock is held across judge so concurrent duplicates wait for the first
// judgement instead of repeating it.
func (s *session) memoNeedsClarification(query string, judge func() bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.clarifyMemo[query]; ok {
		return v
	}
	v := judge()
	s.clarifyMemo[query] = v
	return v
}

// suspend stores the question set for a run about to suspend.
func (s *session) suspend(questions []ClarificationQuestion) {
	s.mu.Lock()
	s.questions = questions
	s.suspended++
	s.mu.Unlock()
}

// takeQuestions hands the stored question set to a resuming run.
func (s *session) takeQuestions() []ClarificationQuestion {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.suspended > 0 {
		s.suspended--
	}
	return s.questions
}

func (s *session) idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suspended == 0
}

func (e *Engine) run(ctx context.Context, req Request, ch chan<- ProgressEvent) {
	cfg := e.cfg
	breadth := req.Breadth
	if breadth <= 0 {
		breadth = cfg.Research.DefaultBreadth
	}
	depth := req.Depth
	if depth <= 0 {
		depth = cfg.Research.DefaultDepth
	}

	searcher := e.searcher
	source := cfg.Search.Source
	if req.SearchSource != "" && req.SearchSource != cfg.Search.Source && e.SearcherFactory != nil {
		if s, err := e.SearcherFactory(req.SearchSource); err == nil {
			searcher = s
			source = req.SearchSource
		} else {
			e.logger.Printf("search source override %q failed, using default: %v", req.SearchSource, err)
		}
	}

	llm := newLLMClient(e.provider, e.telemetry, e.logger, cfg.LLM.Model)
	clar := &clarifier{llm: llm, logger: e.logger}
	plnr := &planner{llm: llm, logger: e.logger}
	expand := newExpander(llm, searcher, e.fetcher, cfg.Research, source, e.telemetry, e.logger)
	synth := &synthesizer{llm: llm, logger: e.logger, contextSize: cfg.Research.ContextSize}

	sess := e.session(req.Query)

	start := time.Now()
	status := "error"
	defer func() {
		cost, tokens := llm.totals()
		if e.telemetry != nil {
			e.telemetry.RecordRun(telemetry.RunEvent{
				ID:         req.Query,
				Query:      req.Query,
				StartTime:  start,
				EndTime:    time.Now(),
				Duration:   time.Since(start),
				Status:     status,
				Cost:       cost,
				TokensUsed: tokens,
			})
		}
		if status != "awaiting_clarification" {
			e.dropSession(req.Query)
		}
	}()

	ctx, span := e.tracer.Start(ctx, "research.run")
	defer span.End()

	var learnings []Learning
	var visited []string
	var searchContents []string

	emit := func(ev ProgressEvent) bool {
		if ev.Learnings == nil {
			ev.Learnings = append([]Learning(nil), learnings...)
		}
		if ev.VisitedURLs == nil {
			ev.VisitedURLs = append([]string(nil), visited...)
		}
		select {
		case ch <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	fail := func(err error) {
		e.logger.Printf("research run failed: %v", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		emit(ProgressEvent{
			Stage:         StageError,
			StatusMessage: fmt.Sprintf("Error: %v", err),
			Error:         err.Error(),
		})
	}

	defer func() {
		if r := recover(); r != nil {
			fail(fmt.Errorf("panic: %v", r))
		}
	}()

	if !emit(ProgressEvent{
		Stage:         StageInitial,
		StatusMessage: fmt.Sprintf("Starting research for query: %q", req.Query),
		CurrentQuery:  req.Query,
	}) {
		return
	}

	// Clarification branch. The judgement only runs when the caller has not
	// supplied answers already.
	needsClarification := false
	if len(req.Clarifications) == 0 {
		if !emit(ProgressEvent{
			Stage:         StageAnalyzingQuery,
			StatusMessage: "Analyzing whether the query needs clarification...",
			CurrentQuery:  req.Query,
		}) {
			return
		}
		needsClarification = sess.memoNeedsClarification(req.Query, func() bool {
			return clar.needsClarification(ctx, req.Query, req.HistoryContext)
		})
		if !needsClarification {
			if !emit(ProgressEvent{
				Stage:         StageClarificationSkipped,
				StatusMessage: "Query is clear enough, skipping clarification",
				CurrentQuery:  req.Query,
			}) {
				return
			}
		}
	}

	var questions []ClarificationQuestion
	if needsClarification {
		if !emit(ProgressEvent{
			Stage:         StageGeneratingQuestions,
			StatusMessage: "Generating clarifying questions...",
			CurrentQuery:  req.Query,
		}) {
			return
		}
		questions = clar.generateQuestions(ctx, req.Query, req.HistoryContext)
		if len(questions) > 0 {
			if !emit(ProgressEvent{
				Stage:         StageClarificationNeeded,
				StatusMessage: fmt.Sprintf("Query needs clarification, generated %d questions", len(questions)),
				CurrentQuery:  req.Query,
				Questions:     questions,
			}) {
				return
			}
			if len(req.Clarifications) == 0 {
				// Suspension point: the caller re-invokes with answers.
				sess.suspend(questions)
				status = "awaiting_clarification"
				emit(ProgressEvent{
					Stage:                 StageAwaitingClarification,
					StatusMessage:         "Waiting for clarification answers...",
					CurrentQuery:          req.Query,
					Questions:             questions,
					AwaitingClarification: true,
				})
				return
			}
		}
	}

	refined := req.Query
	if len(req.Clarifications) > 0 {
		if len(questions) == 0 {
			// Resumed run: reuse the suspended question set, or rebuild it
			// when this process never saw the original suspension.
			questions = sess.takeQuestions()
			if len(questions) == 0 {
				questions = clar.generateQuestions(ctx, req.Query, req.HistoryContext)
			}
		}
		if len(questions) > 0 {
			answered, unanswered := answeredSplit(questions, req.Clarifications)
			if !emit(ProgressEvent{
				Stage:               StageProcessingClarifications,
				StatusMessage:       fmt.Sprintf("Processing clarification answers (%d/%d answered)", len(answered), len(questions)),
				CurrentQuery:        req.Query,
				AnsweredQuestions:   answered,
				UnansweredQuestions: unanswered,
			}) {
				return
			}

			result := clar.processAnswers(ctx, req.Query, req.Clarifications, questions, req.HistoryContext)
			refined = result.RefinedQuery

			if !emit(ProgressEvent{
				Stage:         StageQueryRefined,
				StatusMessage: fmt.Sprintf("Query refined: %q", refined),
				OriginalQuery: req.Query,
				CurrentQuery:  refined,
				Assumptions:   result.Assumptions,
			}) {
				return
			}

			if !result.RequiresSearch && result.DirectAnswer != "" {
				// Direct-answer short-circuit: no planning, no search.
				learnings = []Learning{{Text: "Direct answer: " + result.DirectAnswer}}
				requires := false
				status = "completed"
				emit(ProgressEvent{
					Stage:          StageCompleted,
					StatusMessage:  "Query answered directly, no search needed",
					OriginalQuery:  req.Query,
					CurrentQuery:   refined,
					RequiresSearch: &requires,
					DirectAnswer:   result.DirectAnswer,
					FinalReport:    result.DirectAnswer,
					VisitedURLs:    []string{},
				})
				return
			}
		}
	}

	// Planning.
	if !emit(ProgressEvent{
		Stage:         StagePlanning,
		StatusMessage: fmt.Sprintf("Generating research plan for: %q", refined),
		CurrentQuery:  refined,
	}) {
		return
	}
	plan := plnr.generatePlan(ctx, refined, req.HistoryContext)
	if !emit(ProgressEvent{
		Stage:         StagePlanGenerated,
		StatusMessage: fmt.Sprintf("Generated a %d-step research plan: %s", len(plan.Steps), plan.Assessments),
		CurrentQuery:  refined,
		ResearchPlan:  plan.Steps,
	}) {
		return
	}

	// Expansion: every plan step runs its own breadth/depth loop.
	var stepSummaries []stepSummary
	for stepIdx := range plan.Steps {
		step := plan.Steps[stepIdx]
		stepCtx, stepSpan := e.tracer.Start(ctx, "research.step")

		if !emit(ProgressEvent{
			Stage:         StageStepStarted,
			StatusMessage: fmt.Sprintf("Starting research step %d/%d: %s", step.StepID, len(plan.Steps), step.Description),
			CurrentQuery:  refined,
			CurrentStep:   &step,
			Progress:      &StepProgress{CurrentStep: step.StepID, TotalSteps: len(plan.Steps)},
		}) {
			stepSpan.End()
			return
		}

		queue := append([]string(nil), step.SearchQueries...)
		if len(queue) == 0 {
			queue = []string{refined}
		}
		var stepURLs []string
		var stepLearnings []Learning
		var stepContents []string
		currentDepth := depth
		totalProcessed := 0

		for len(queue) > 0 && currentDepth > 0 {
			if err := stepCtx.Err(); err != nil {
				stepSpan.End()
				fail(err)
				return
			}

			batch := queue
			if len(batch) > breadth {
				batch = batch[:breadth]
			}
			queue = queue[len(batch):]

			if !emit(ProgressEvent{
				Stage:          StageProcessingQueries,
				StatusMessage:  fmt.Sprintf("Step %d/%d: researching %d queries in parallel, %d queued", step.StepID, len(plan.Steps), len(batch), len(queue)),
				CurrentQueries: batch,
				Progress: &StepProgress{
					CurrentStep:      step.StepID,
					TotalSteps:       len(plan.Steps),
					CurrentDepth:     currentDepth,
					MaxDepth:         depth,
					ProcessedQueries: totalProcessed,
					RemainingQueries: len(queue),
				},
			}) {
				stepSpan.End()
				return
			}

			results := expand.runBatch(stepCtx, batch, step, true, breadth)

			var newLearnings []Learning
			var newURLs []string
			for _, r := range results {
				if r.err != nil {
					// Failed queries contribute nothing; siblings proceed.
					totalProcessed++
					continue
				}
				stepURLs = append(stepURLs, r.urls...)
				newURLs = append(newURLs, r.urls...)
				stepLearnings = append(stepLearnings, r.learnings...)
				newLearnings = append(newLearnings, r.learnings...)
				if r.summary != "" {
					stepContents = append(stepContents, r.summary)
					searchContents = append(searchContents, r.summary)
				}
				queue = append(queue, r.nextQueries...)
				totalProcessed++
			}

			// Depth is spent per batch iteration, never per query: breadth
			// bounds fan-out, depth bounds the number of iterations.
			currentDepth--

			// The fallback only draws on content this step gathered; earlier
			// steps' content must not masquerade as this step's insights.
			if len(newLearnings) == 0 && len(stepContents) > 0 {
				newLearnings = contentFallback(stepContents)
			}

			nextPreview := queue
			if len(nextPreview) > 3 {
				nextPreview = nextPreview[:3]
			}
			if !emit(ProgressEvent{
				Stage:         StageInsightsFound,
				StatusMessage: fmt.Sprintf("Step %d/%d: found %d new insights", step.StepID, len(plan.Steps), len(newLearnings)),
				Learnings:     concatLearnings(learnings, stepLearnings),
				VisitedURLs:   concatStrings(visited, stepURLs),
				NewLearnings:  newLearnings,
				NewURLs:       newURLs,
				NextQueries:   append([]string(nil), nextPreview...),
				Progress: &StepProgress{
					CurrentStep:      step.StepID,
					TotalSteps:       len(plan.Steps),
					CurrentDepth:     currentDepth,
					MaxDepth:         depth,
					ProcessedQueries: totalProcessed,
				},
			}) {
				stepSpan.End()
				return
			}
		}

		visited = append(visited, stepURLs...)
		learnings = append(learnings, stepLearnings...)
		stepSummaries = append(stepSummaries, stepSummary{
			StepID:      step.StepID,
			Description: step.Description,
			Learnings:   stepLearnings,
			URLs:        stepURLs,
		})

		displayLearnings := stepLearnings
		if len(displayLearnings) == 0 && len(stepContents) > 0 {
			displayLearnings = contentFallback(stepContents)
		}
		stepSpan.End()
		if !emit(ProgressEvent{
			Stage:         StageStepCompleted,
			StatusMessage: fmt.Sprintf("Completed research step %d/%d: %s, gathered %d insights", step.StepID, len(plan.Steps), step.Description, len(displayLearnings)),
			StepLearnings: displayLearnings,
			StepURLs:      stepURLs,
			Progress:      &StepProgress{CurrentStep: step.StepID, TotalSteps: len(plan.Steps), Completed: true},
		}) {
			return
		}
	}

	// Synthesis (config-gated).
	if cfg.Research.EnableSummary {
		if !emit(ProgressEvent{
			Stage:         StageFinalAnalysis,
			StatusMessage: "Analyzing all gathered information...",
		}) {
			return
		}
		analysis := synth.analyze(ctx, refined, stepSummaries)
		learnings = append(learnings, analysis.Findings...)
		if !emit(ProgressEvent{
			Stage:           StageAnalysisCompleted,
			StatusMessage:   fmt.Sprintf("Analysis complete with %d key findings", len(analysis.Findings)),
			FinalFindings:   analysis.Findings,
			Gaps:            analysis.Gaps,
			Recommendations: analysis.Recommendations,
		}) {
			return
		}
	} else if len(learnings) == 0 && len(searchContents) > 0 {
		// Without synthesis the raw gathered content is the record.
		learnings = contentFallback(searchContents)
	}

	if !emit(ProgressEvent{
		Stage:         StageGeneratingReport,
		StatusMessage: "Generating the research report...",
	}) {
		return
	}

	report, err := synth.writeReport(ctx, refined, learnings, req.HistoryContext, req.style(), req.OnReportDelta)
	if err != nil {
		fail(fmt.Errorf("report generation failed: %w", err))
		return
	}

	visited = dedupeURLs(visited)
	status = "completed"
	emit(ProgressEvent{
		Stage:         StageCompleted,
		StatusMessage: "Research complete",
		OriginalQuery: req.Query,
		CurrentQuery:  refined,
		FinalReport:   report,
	})
}

// answeredSplit partitions the question texts by whether an answer was given.
func answeredSplit(questions []ClarificationQuestion, answers map[string]string) (answered, unanswered []string) {
	for _, q := range questions {
		if a, ok := answers[q.Key]; ok && strings.TrimSpace(a) != "" {
			answered = append(answered, q.Question)
		} else {
			unanswered = append(unanswered, q.Question)
		}
	}
	return answered, unanswered
}

// contentFallback turns raw search content into display learnings when the
// follow-up pass produced none.
func contentFallback(contents []string) []Learning {
	out := make([]Learning, 0, len(contents))
	for _, c := range contents {
		out = append(out, Learning{Text: truncateDisplay(c, 400)})
	}
	return out
}

func truncateDisplay(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func concatLearnings(a, b []Learning) []Learning {
	out := make([]Learning, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

func concatStrings(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}
