package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/depthcharge/config"
	"github.com/mohammad-safakhou/depthcharge/internal/research"
	"github.com/mohammad-safakhou/depthcharge/internal/store"
)

// ResearchHandler serves research runs: synchronous, streaming, and the
// persisted run history.
type ResearchHandler struct {
	Engine        *research.Engine
	Store         store.Store // nil disables persistence
	Config        *config.Config
	StreamEnabled bool
	Logger        *log.Logger
}

func (h *ResearchHandler) Register(g *echo.Group) {
	g.POST("/research", h.handleResearch)
	g.POST("/research/stream", h.handleStream)
	g.GET("/runs", h.handleListRuns)
	g.GET("/runs/:id", h.handleGetRun)
}

// ResearchRequest is the request body for both research endpoints.
type ResearchRequest struct {
	Query          string            `json:"query"`
	Breadth        int               `json:"breadth,omitempty"`
	Depth          int               `json:"depth,omitempty"`
	Clarifications map[string]string `json:"user_clarifications,omitempty"`
	SearchSource   string            `json:"search_source,omitempty"`
	HistoryContext string            `json:"history_context,omitempty"`
	AnswerStyle    string            `json:"answer_style,omitempty"`
}

func (r ResearchRequest) toEngine() research.Request {
	return research.Request{
		Query:          r.Query,
		Breadth:        r.Breadth,
		Depth:          r.Depth,
		Clarifications: r.Clarifications,
		SearchSource:   r.SearchSource,
		HistoryContext: r.HistoryContext,
		AnswerStyle:    research.AnswerStyle(r.AnswerStyle),
	}
}

// ResearchResponse mirrors the synchronous run result.
type ResearchResponse struct {
	Success            bool                             `json:"success"`
	RunID              string                           `json:"run_id,omitempty"`
	Answer             string                           `json:"answer,omitempty"`
	Learnings          []research.Learning              `json:"learnings,omitempty"`
	VisitedURLs        []string                         `json:"visitedUrls,omitempty"`
	NeedsClarification bool                             `json:"needs_clarification,omitempty"`
	Questions          []research.ClarificationQuestion `json:"questions,omitempty"`
	Error              string                           `json:"error,omitempty"`
}

func (h *ResearchHandler) handleResearch(c echo.Context) error {
	var req ResearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	ctx := c.Request().Context()

	h.restoreSession(c, req)

	start := time.Now()
	res, err := h.Engine.Run(ctx, req.toEngine())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	resp := ResearchResponse{
		Success:     res.Error == "" && !res.Suspended(),
		Answer:      res.FinalReport,
		Learnings:   res.Learnings,
		VisitedURLs: res.VisitedURLs,
		Error:       res.Error,
	}
	if res.Suspended() {
		resp.NeedsClarification = true
		resp.Questions = res.Questions
	}
	resp.RunID = h.persist(c, req, res, start)

	if res.Error != "" {
		return c.JSON(http.StatusInternalServerError, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

// handleStream runs the pipeline and relays every progress event over SSE.
func (h *ResearchHandler) handleStream(c echo.Context) error {
	if !h.StreamEnabled {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "research stream disabled")
	}
	var req ResearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	ctx := c.Request().Context()

	h.restoreSession(c, req)

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}

	start := time.Now()
	var last research.ProgressEvent
	var questions []research.ClarificationQuestion
	for ev := range h.Engine.Stream(ctx, req.toEngine()) {
		if len(ev.Questions) > 0 {
			questions = ev.Questions
		}
		last = ev
		data, err := json.Marshal(ev)
		if err != nil {
			h.Logger.Printf("event marshal failed: %v", err)
			continue
		}
		if _, err := resp.Write([]byte("event: progress\n")); err != nil {
			return nil
		}
		if _, err := resp.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
			return nil
		}
		flusher.Flush()
	}

	res := research.Result{
		Query:       req.Query,
		Learnings:   last.Learnings,
		VisitedURLs: last.VisitedURLs,
		FinalReport: last.FinalReport,
		Error:       last.Error,
	}
	if last.Stage == research.StageAwaitingClarification {
		res.Questions = questions
	}
	h.persist(c, req, res, start)
	return nil
}

// restoreSession re-seeds the engine with the stored question set when a
// suspended run resumes in a different process.
func (h *ResearchHandler) restoreSession(c echo.Context, req ResearchRequest) {
	if h.Store == nil || len(req.Clarifications) == 0 {
		return
	}
	sess, ok, err := h.Store.GetSession(c.Request().Context(), req.Query)
	if err != nil {
		h.Logger.Printf("session lookup failed for %q: %v", req.Query, err)
		return
	}
	if ok {
		h.Engine.SeedQuestions(req.Query, sess.Questions)
	}
}

// persist writes the run record and maintains the clarification session.
// Returns the run ID or empty when persistence is off or fails.
func (h *ResearchHandler) persist(c echo.Context, req ResearchRequest, res research.Result, start time.Time) string {
	if h.Store == nil {
		return ""
	}
	ctx := c.Request().Context()

	status := "completed"
	switch {
	case res.Error != "":
		status = "error"
	case res.Suspended():
		status = "awaiting_clarification"
	}

	if res.Suspended() {
		if err := h.Store.SaveSession(ctx, store.SessionRecord{Query: req.Query, Questions: res.Questions}); err != nil {
			h.Logger.Printf("session save failed for %q: %v", req.Query, err)
		}
	} else {
		if err := h.Store.DeleteSession(ctx, req.Query); err != nil {
			h.Logger.Printf("session delete failed for %q: %v", req.Query, err)
		}
	}

	id, err := h.Store.SaveRun(ctx, store.RunRecord{
		Query:        req.Query,
		RefinedQuery: res.Query,
		Breadth:      req.Breadth,
		Depth:        req.Depth,
		Status:       status,
		Report:       res.FinalReport,
		Error:        res.Error,
		Learnings:    res.Learnings,
		VisitedURLs:  res.VisitedURLs,
		Questions:    res.Questions,
		StartedAt:    start,
		FinishedAt:   time.Now(),
	})
	if err != nil {
		h.Logger.Printf("run save failed for %q: %v", req.Query, err)
		return ""
	}
	return id
}

func (h *ResearchHandler) handleListRuns(c echo.Context) error {
	if h.Store == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "persistence disabled")
	}
	runs, err := h.Store.ListRuns(c.Request().Context(), 50)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"runs": runs})
}

func (h *ResearchHandler) handleGetRun(c echo.Context) error {
	if h.Store == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "persistence disabled")
	}
	rec, ok, err := h.Store.GetRun(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	return c.JSON(http.StatusOK, rec)
}
