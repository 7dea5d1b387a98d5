package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/depthcharge/config"
	"github.com/mohammad-safakhou/depthcharge/internal/research"
)

// ErrNotConfigured is returned by New when neither Postgres nor Redis is
// configured. The API layer treats persistence as optional.
var ErrNotConfigured = errors.New("no storage backend configured")

// RunRecord is one persisted research run. The engine itself stays stateless;
// the API layer writes records after draining the stream.
type RunRecord struct {
	ID           string                           `json:"id"`
	Query        string                           `json:"query"`
	RefinedQuery string                           `json:"refined_query,omitempty"`
	Breadth      int                              `json:"breadth"`
	Depth        int                              `json:"depth"`
	Status       string                           `json:"status"`
	Report       string                           `json:"report,omitempty"`
	Error        string                           `json:"error,omitempty"`
	Learnings    []research.Learning              `json:"learnings,omitempty"`
	VisitedURLs  []string                         `json:"visited_urls,omitempty"`
	Questions    []research.ClarificationQuestion `json:"questions,omitempty"`
	Cost         float64                          `json:"cost"`
	Tokens       int64                            `json:"tokens"`
	StartedAt    time.Time                        `json:"started_at"`
	FinishedAt   time.Time                        `json:"finished_at"`
}

// SessionRecord carries a clarification suspension across processes: the
// question set generated before the run suspended, keyed by the query text.
type SessionRecord struct {
	Query     string                           `json:"query"`
	Questions []research.ClarificationQuestion `json:"questions"`
	CreatedAt time.Time                        `json:"created_at"`
}

// Store persists research runs and suspended clarification sessions.
type Store interface {
	SaveRun(ctx context.Context, rec RunRecord) (string, error)
	GetRun(ctx context.Context, id string) (RunRecord, bool, error)
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)

	SaveSession(ctx context.Context, rec SessionRecord) error
	GetSession(ctx context.Context, query string) (SessionRecord, bool, error)
	DeleteSession(ctx context.Context, query string) error

	Close() error
}

// Backend names a storage backend choice.
type Backend string

const (
	BackendPostgres Backend = "postgres"
	BackendRedis    Backend = "redis"
	BackendNone     Backend = ""
)

// pickBackend applies the preference order: Postgres when a DSN can be built,
// Redis when a host is configured, otherwise none.
func pickBackend(cfg config.StorageConfig) Backend {
	if cfg.Postgres.DSN() != "" {
		return BackendPostgres
	}
	if cfg.Redis.Host != "" {
		return BackendRedis
	}
	return BackendNone
}

// New connects the preferred configured backend.
func New(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch pickBackend(cfg) {
	case BackendPostgres:
		return NewPostgres(ctx, cfg.Postgres.DSN())
	case BackendRedis:
		return NewRedis(ctx, cfg.Redis)
	default:
		return nil, ErrNotConfigured
	}
}

// sessionTTL bounds how long a suspended clarification session survives.
const sessionTTL = 24 * time.Hour

func validateRun(rec RunRecord) error {
	if rec.Query == "" {
		return fmt.Errorf("query must be provided")
	}
	if rec.Status == "" {
		return fmt.Errorf("status must be provided")
	}
	return nil
}
