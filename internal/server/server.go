package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammad-safakhou/depthcharge/config"
	"github.com/mohammad-safakhou/depthcharge/internal/research"
	"github.com/mohammad-safakhou/depthcharge/internal/store"
	"github.com/mohammad-safakhou/depthcharge/tools/web_search/index"
)

// Server exposes the research engine over HTTP.
type Server struct {
	cfg    *config.Config
	echo   *echo.Echo
	logger *log.Logger
}

// New wires the routes. st may be nil (persistence disabled), corpus may be
// nil (no local index backend configured).
func New(cfg *config.Config, engine *research.Engine, st store.Store, corpus *index.Corpus) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	// Unified HTTP error handler with structured JSON and logging
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	if cfg.Server.JWTSecret != "" {
		api.Use(withAuth([]byte(cfg.Server.JWTSecret)))
	}

	rh := &ResearchHandler{
		Engine:        engine,
		Store:         st,
		Config:        cfg,
		StreamEnabled: cfg.Server.StreamEnabled,
		Logger:        baseLogger,
	}
	rh.Register(api)

	if corpus != nil {
		dh := &DocumentsHandler{Corpus: corpus, Logger: baseLogger}
		dh.Register(api)
	}

	return &Server{cfg: cfg, echo: e, logger: baseLogger}
}

// Start blocks serving HTTP until Shutdown or failure.
func (s *Server) Start(addr string) error {
	if addr == "" {
		addr = s.cfg.Server.Address
	}
	if addr == "" {
		addr = ":8080"
	}
	s.logger.Printf("listening on %s", addr)
	return s.echo.Start(addr)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
