package server

import (
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/depthcharge/tools/web_search/index"
)

// DocumentsHandler manages the local index corpus backing the "index" search
// source.
type DocumentsHandler struct {
	Corpus *index.Corpus
	Logger *log.Logger
}

func (h *DocumentsHandler) Register(g *echo.Group) {
	g.POST("/documents", h.handleIngest)
	g.GET("/documents", h.handleList)
}

type ingestRequest struct {
	Documents []index.DocInput `json:"documents"`
}

type ingestResponse struct {
	Ingested int `json:"ingested"`
	Total    int `json:"total"`
}

func (h *DocumentsHandler) handleIngest(c echo.Context) error {
	var req ingestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.Documents) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "documents are required")
	}
	ctx := c.Request().Context()
	ingested := 0
	for _, in := range req.Documents {
		if strings.TrimSpace(in.URL) == "" || strings.TrimSpace(in.Text) == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "every document needs url and text")
		}
		if _, err := h.Corpus.Add(ctx, in); err != nil {
			h.Logger.Printf("document ingest failed for %s: %v", in.URL, err)
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		ingested++
	}
	return c.JSON(http.StatusOK, ingestResponse{Ingested: ingested, Total: h.Corpus.Len()})
}

func (h *DocumentsHandler) handleList(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"total":     h.Corpus.Len(),
		"documents": h.Corpus.Documents(),
	})
}
