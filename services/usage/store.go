package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // sqlite driver
)

// Record is one finished request's usage row.
type Record struct {
	ID               string
	Time             time.Time
	Route            string
	Backend          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int

	// Estimated marks token counts derived locally because the upstream
	// response carried none
	Estimated bool

	Cost      float64
	LatencyMs int64
	Status    int
	Aborted   bool
}

// SummaryRow is one aggregate bucket of the usage summary.
type SummaryRow struct {
	Route            string  `json:"route"`
	Backend          string  `json:"backend"`
	Model            string  `json:"model"`
	Requests         int64   `json:"requests"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	CostUSD          float64 `json:"cost_usd"`
	AvgLatencyMs     float64 `json:"avg_latency_ms"`
	Aborted          int64   `json:"aborted"`
}

// Store persists usage records to a local sqlite database.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (and if needed creates) the usage database at path.
func Open(path string, logger *zap.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open usage database: %w", err)
	}

	// The pure-Go driver returns SQLITE_BUSY to concurrent connections; a
	// single connection serializes readers behind the writer instead.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping usage database: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("usage store opened", zap.String("path", path))
	return s, nil
}

// initSchema initializes the usage schema
func (s *Store) initSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS usage_records (
			id TEXT PRIMARY KEY,
			ts INTEGER NOT NULL,
			route TEXT NOT NULL,
			backend TEXT NOT NULL,
			model TEXT NOT NULL,
			prompt_tokens INTEGER NOT NULL,
			completion_tokens INTEGER NOT NULL,
			total_tokens INTEGER NOT NULL,
			estimated INTEGER NOT NULL,
			cost REAL NOT NULL,
			latency_ms INTEGER NOT NULL,
			status INTEGER NOT NULL,
			aborted INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_usage_records_ts ON usage_records(ts);
		CREATE INDEX IF NOT EXISTS idx_usage_records_route ON usage_records(route);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize usage schema: %w", err)
	}

	return nil
}

// Insert appends one usage record.
func (s *Store) Insert(ctx context.Context, rec Record) error {
	query := `
		INSERT INTO usage_records (
			id, ts, route, backend, model,
			prompt_tokens, completion_tokens, total_tokens,
			estimated, cost, latency_ms, status, aborted
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.Time.UnixMilli(),
		rec.Route,
		rec.Backend,
		rec.Model,
		rec.PromptTokens,
		rec.CompletionTokens,
		rec.TotalTokens,
		rec.Estimated,
		rec.Cost,
		rec.LatencyMs,
		rec.Status,
		rec.Aborted,
	)
	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}

	return nil
}

// Summarize aggregates records newer than since by route, backend and model.
func (s *Store) Summarize(ctx context.Context, since time.Time) ([]SummaryRow, error) {
	query := `
		SELECT route, backend, model,
		       COUNT(*) AS requests,
		       COALESCE(SUM(prompt_tokens), 0) AS prompt_tokens,
		       COALESCE(SUM(completion_tokens), 0) AS completion_tokens,
		       COALESCE(SUM(total_tokens), 0) AS total_tokens,
		       COALESCE(SUM(cost), 0) AS cost,
		       COALESCE(AVG(latency_ms), 0) AS avg_latency_ms,
		       COALESCE(SUM(aborted), 0) AS aborted
		FROM usage_records
		WHERE ts >= ?
		GROUP BY route, backend, model
		ORDER BY route, backend, model
	`

	rows, err := s.db.QueryContext(ctx, query, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query usage summary: %w", err)
	}
	defer rows.Close()

	summary := make([]SummaryRow, 0)
	for rows.Next() {
		var row SummaryRow
		err := rows.Scan(
			&row.Route,
			&row.Backend,
			&row.Model,
			&row.Requests,
			&row.PromptTokens,
			&row.CompletionTokens,
			&row.TotalTokens,
			&row.CostUSD,
			&row.AvgLatencyMs,
			&row.Aborted,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage summary row: %w", err)
		}
		summary = append(summary, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage summary rows: %w", err)
	}

	return summary, nil
}

// Prune deletes records older than cutoff and returns how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM usage_records
		WHERE ts < ?
	`

	result, err := s.db.ExecContext(ctx, query, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune usage records: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return removed, nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("usage database health check failed: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
