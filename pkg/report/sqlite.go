package report

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	_ "modernc.org/sqlite"

	"github.com/logsift/logsift/pkg/aggregate"
)

const reportSchema = `
CREATE TABLE IF NOT EXISTS analyses (
	id                      INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id                  TEXT NOT NULL,
	created_at              TEXT NOT NULL,
	total_chunks            INTEGER NOT NULL,
	failed_chunks           INTEGER NOT NULL,
	coverage_incomplete     INTEGER NOT NULL,
	total_input_tokens      INTEGER NOT NULL,
	total_output_tokens     INTEGER NOT NULL,
	total_cost_microdollars INTEGER NOT NULL,
	document                BLOB NOT NULL
);
`

// SQLiteSink persists analyses in an analyses table: rollup columns for
// querying across runs, the full document as JSON.
type SQLiteSink struct {
	db    *sql.DB
	runID string
}

// OpenSQLiteSink opens (creating if needed) the report database at path.
func OpenSQLiteSink(ctx context.Context, path, runID string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open report db %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply PRAGMA journal_mode=WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, reportSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create analyses schema: %w", err)
	}
	return &SQLiteSink{db: db, runID: runID}, nil
}

func (s *SQLiteSink) Store(ctx context.Context, a *aggregate.Analysis) (RecordID, error) {
	doc, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("encode analysis: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO analyses (
			run_id, created_at, total_chunks, failed_chunks,
			coverage_incomplete, total_input_tokens, total_output_tokens,
			total_cost_microdollars, document
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.runID, time.Now().UTC().Format(time.RFC3339),
		a.TotalChunks, a.FailedChunks, a.CoverageIncomplete,
		a.TotalUsage.InputTokens, a.TotalUsage.OutputTokens,
		a.TotalCostMicrodollars, doc)
	if err != nil {
		return "", fmt.Errorf("insert analysis: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("analysis record id: %w", err)
	}
	return RecordID(fmt.Sprintf("%d", id)), nil
}

// Load retrieves a stored analysis document by record id.
func (s *SQLiteSink) Load(ctx context.Context, id RecordID) (*aggregate.Analysis, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM analyses WHERE id = ?`, string(id)).Scan(&doc)
	if err != nil {
		return nil, fmt.Errorf("load analysis %s: %w", id, err)
	}
	var a aggregate.Analysis
	if err := json.Unmarshal(doc, &a); err != nil {
		return nil, fmt.Errorf("decode analysis %s: %w", id, err)
	}
	return &a, nil
}

// Close closes the underlying database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
