package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresStore persists runs and sessions in Postgres.
type PostgresStore struct {
	DB *sql.DB
}

// NewPostgres constructs the store from an explicit DSN.
func NewPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &PostgresStore{DB: db}, nil
}

func (s *PostgresStore) Close() error { return s.DB.Close() }

// SaveRun inserts or updates a run record. A missing ID is generated here so
// callers can persist before the run finishes and update in place afterwards.
func (s *PostgresStore) SaveRun(ctx context.Context, rec RunRecord) (string, error) {
	if err := validateRun(rec); err != nil {
		return "", err
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	learnings, err := json.Marshal(rec.Learnings)
	if err != nil {
		return "", fmt.Errorf("marshal learnings: %w", err)
	}
	questions, err := json.Marshal(rec.Questions)
	if err != nil {
		return "", fmt.Errorf("marshal questions: %w", err)
	}
	var finished *time.Time
	if !rec.FinishedAt.IsZero() {
		finished = &rec.FinishedAt
	}
	started := rec.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO research_runs (id, query, refined_query, breadth, depth, status, report, error, learnings, visited_urls, questions, cost, tokens, started_at, finished_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT (id) DO UPDATE SET
  refined_query = EXCLUDED.refined_query,
  status        = EXCLUDED.status,
  report        = EXCLUDED.report,
  error         = EXCLUDED.error,
  learnings     = EXCLUDED.learnings,
  visited_urls  = EXCLUDED.visited_urls,
  questions     = EXCLUDED.questions,
  cost          = EXCLUDED.cost,
  tokens        = EXCLUDED.tokens,
  finished_at   = EXCLUDED.finished_at
`, rec.ID, rec.Query, rec.RefinedQuery, rec.Breadth, rec.Depth, rec.Status, rec.Report, rec.Error,
		learnings, pq.Array(rec.VisitedURLs), questions, rec.Cost, rec.Tokens, started, finished)
	return rec.ID, err
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (RunRecord, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, query, refined_query, breadth, depth, status, report, error, learnings, visited_urls, questions, cost, tokens, started_at, finished_at
FROM research_runs WHERE id=$1`, id)
	rec, err := scanRun(row)
	if err == sql.ErrNoRows {
		return RunRecord{}, false, nil
	}
	if err != nil {
		return RunRecord{}, false, err
	}
	return rec, true, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, query, refined_query, breadth, depth, status, report, error, learnings, visited_urls, questions, cost, tokens, started_at, finished_at
FROM research_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (RunRecord, error) {
	var (
		rec       RunRecord
		learnings []byte
		questions []byte
		urls      pq.StringArray
		finished  *time.Time
	)
	err := row.Scan(&rec.ID, &rec.Query, &rec.RefinedQuery, &rec.Breadth, &rec.Depth, &rec.Status,
		&rec.Report, &rec.Error, &learnings, &urls, &questions, &rec.Cost, &rec.Tokens, &rec.StartedAt, &finished)
	if err != nil {
		return RunRecord{}, err
	}
	rec.VisitedURLs = []string(urls)
	if finished != nil {
		rec.FinishedAt = *finished
	}
	if len(learnings) > 0 {
		if err := json.Unmarshal(learnings, &rec.Learnings); err != nil {
			return RunRecord{}, fmt.Errorf("unmarshal learnings: %w", err)
		}
	}
	if len(questions) > 0 {
		if err := json.Unmarshal(questions, &rec.Questions); err != nil {
			return RunRecord{}, fmt.Errorf("unmarshal questions: %w", err)
		}
	}
	return rec, nil
}

func (s *PostgresStore) SaveSession(ctx context.Context, rec SessionRecord) error {
	if rec.Query == "" {
		return fmt.Errorf("query must be provided")
	}
	questions, err := json.Marshal(rec.Questions)
	if err != nil {
		return fmt.Errorf("marshal questions: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO clarification_sessions (query, questions, created_at)
VALUES ($1,$2,NOW())
ON CONFLICT (query) DO UPDATE SET questions=EXCLUDED.questions, created_at=NOW()
`, rec.Query, questions)
	return err
}

func (s *PostgresStore) GetSession(ctx context.Context, query string) (SessionRecord, bool, error) {
	var (
		rec       SessionRecord
		questions []byte
	)
	err := s.DB.QueryRowContext(ctx, `
SELECT query, questions, created_at FROM clarification_sessions WHERE query=$1 AND created_at > NOW() - $2::interval
`, query, fmt.Sprintf("%d seconds", int(sessionTTL.Seconds()))).Scan(&rec.Query, &questions, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return SessionRecord{}, false, nil
	}
	if err != nil {
		return SessionRecord{}, false, err
	}
	if len(questions) > 0 {
		if err := json.Unmarshal(questions, &rec.Questions); err != nil {
			return SessionRecord{}, false, fmt.Errorf("unmarshal questions: %w", err)
		}
	}
	return rec, true, nil
}

func (s *PostgresStore) DeleteSession(ctx context.Context, query string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM clarification_sessions WHERE query=$1`, query)
	return err
}
