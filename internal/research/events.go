package research

// Stage identifies a pipeline state. Stages form a total order except for the
// clarification branch and the direct-answer short-circuit.
type Stage string

const (
	StageInitial                  Stage = "initial"
	StageAnalyzingQuery           Stage = "analyzing_query"
	StageClarificationSkipped     Stage = "clarification_skipped"
	StageGeneratingQuestions      Stage = "generating_questions"
	StageClarificationNeeded      Stage = "clarification_needed"
	StageAwaitingClarification    Stage = "awaiting_clarification"
	StageProcessingClarifications Stage = "processing_clarifications"
	StageQueryRefined             Stage = "query_refined"
	StagePlanning                 Stage = "planning"
	StagePlanGenerated            Stage = "plan_generated"
	StageStepStarted              Stage = "step_started"
	StageProcessingQueries        Stage = "processing_queries"
	StageInsightsFound            Stage = "insights_found"
	StageStepCompleted            Stage = "step_completed"
	StageFinalAnalysis            Stage = "final_analysis"
	StageAnalysisCompleted        Stage = "analysis_completed"
	StageGeneratingReport         Stage = "generating_report"
	StageCompleted                Stage = "completed"
	StageError                    Stage = "error"
)

// Terminal reports whether no further events follow this stage. A run
// suspended on awaiting_clarification resumes through a new invocation.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageError || s == StageAwaitingClarification
}

// StepProgress locates an event inside the plan/depth loops.
type StepProgress struct {
	CurrentStep      int  `json:"current_step"`
	TotalSteps       int  `json:"total_steps"`
	CurrentDepth     int  `json:"current_depth,omitempty"`
	MaxDepth         int  `json:"max_depth,omitempty"`
	ProcessedQueries int  `json:"processed_queries,omitempty"`
	RemainingQueries int  `json:"remaining_queries,omitempty"`
	Completed        bool `json:"completed,omitempty"`
}

// ProgressEvent is one entry of the ordered progress stream. Every event
// carries the cumulative learnings and visited URL snapshots; the remaining
// fields are populated only for the stages they belong to.
type ProgressEvent struct {
	Stage         Stage      `json:"stage"`
	StatusMessage string     `json:"status_update"`
	Learnings     []Learning `json:"learnings"`
	VisitedURLs   []string   `json:"visited_urls"`

	CurrentQuery  string `json:"current_query,omitempty"`
	OriginalQuery string `json:"original_query,omitempty"`

	// Clarification branch.
	Questions             []ClarificationQuestion `json:"questions,omitempty"`
	AwaitingClarification bool                    `json:"awaiting_clarification,omitempty"`
	AnsweredQuestions     []string                `json:"answered_questions,omitempty"`
	UnansweredQuestions   []string                `json:"unanswered_questions,omitempty"`
	Assumptions           []string                `json:"assumptions,omitempty"`
	RequiresSearch        *bool                   `json:"requires_search,omitempty"`
	DirectAnswer          string                  `json:"direct_answer,omitempty"`

	// Planning and expansion.
	ResearchPlan   []PlanStep    `json:"research_plan,omitempty"`
	CurrentStep    *PlanStep     `json:"current_step,omitempty"`
	CurrentQueries []string      `json:"current_queries,omitempty"`
	NewLearnings   []Learning    `json:"new_learnings,omitempty"`
	NewURLs        []string      `json:"new_urls,omitempty"`
	NextQueries    []string      `json:"next_queries,omitempty"`
	StepLearnings  []Learning    `json:"step_learnings,omitempty"`
	StepURLs       []string      `json:"step_urls,omitempty"`
	Progress       *StepProgress `json:"progress,omitempty"`

	// Synthesis and terminal stages.
	FinalFindings   []Learning `json:"final_findings,omitempty"`
	Gaps            []string   `json:"gaps,omitempty"`
	Recommendations []string   `json:"recommendations,omitempty"`
	FinalReport     string     `json:"final_report,omitempty"`
	Error           string     `json:"error,omitempty"`
}
