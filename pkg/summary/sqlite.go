package summary

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	json "github.com/goccy/go-json"
	_ "modernc.org/sqlite"

	"github.com/logsift/logsift/pkg/provider"
)

const schema = `
CREATE TABLE IF NOT EXISTS chunk_summaries (
	run_id            TEXT    NOT NULL,
	chunk_index       INTEGER NOT NULL,
	status            TEXT    NOT NULL,
	start_line        INTEGER NOT NULL,
	end_line          INTEGER NOT NULL,
	byte_start        INTEGER NOT NULL,
	byte_end          INTEGER NOT NULL,
	input_tokens      INTEGER NOT NULL,
	output_tokens     INTEGER NOT NULL,
	cost_microdollars INTEGER NOT NULL,
	attempts          INTEGER NOT NULL,
	failure_reason    TEXT,
	payload           BLOB,
	PRIMARY KEY (run_id, chunk_index)
);
`

// payload holds the structured result fields that do not need their own
// columns.
type payload struct {
	Patterns  any    `json:"error_patterns,omitempty"`
	Endpoints any    `json:"api_endpoints,omitempty"`
	Issues    any    `json:"performance_issues,omitempty"`
	Summary   string `json:"summary,omitempty"`
}

// SQLiteStore is a durable Store keyed by (run_id, chunk_index). Reopening
// with the same run id resumes against the summaries a previous process
// left behind.
type SQLiteStore struct {
	db    *sql.DB
	runID string

	mu       sync.RWMutex
	snapshot Snapshot
	statuses map[int]Status
}

// OpenSQLite opens (creating if needed) the summary database at path and
// scopes all operations to runID.
func OpenSQLite(ctx context.Context, path, runID string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open summary db %s: %w", path, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create chunk_summaries schema: %w", err)
	}

	s := &SQLiteStore{
		db:       db,
		runID:    runID,
		statuses: make(map[int]Status),
	}
	if err := s.loadCounts(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// loadCounts seeds the in-memory status map so Counts stays O(1) and
// terminal-overwrite checks avoid a read per Put.
func (s *SQLiteStore) loadCounts(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_index, status FROM chunk_summaries WHERE run_id = ?`, s.runID)
	if err != nil {
		return fmt.Errorf("load summary counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var idx int
		var status Status
		if err := rows.Scan(&idx, &status); err != nil {
			return fmt.Errorf("scan summary row: %w", err)
		}
		s.statuses[idx] = status
		s.snapshot = add(s.snapshot, status)
	}
	return rows.Err()
}

func (s *SQLiteStore) Put(ctx context.Context, cs *ChunkSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, exists := s.statuses[cs.ChunkIndex]
	if exists && prev.Terminal() {
		return fmt.Errorf("put chunk %d: %w", cs.ChunkIndex, ErrTerminalOverwrite)
	}

	body, err := json.Marshal(payload{
		Patterns:  cs.Patterns,
		Endpoints: cs.Endpoints,
		Issues:    cs.Issues,
		Summary:   cs.Summary,
	})
	if err != nil {
		return fmt.Errorf("encode chunk %d payload: %w", cs.ChunkIndex, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chunk_summaries (
			run_id, chunk_index, status, start_line, end_line,
			byte_start, byte_end, input_tokens, output_tokens,
			cost_microdollars, attempts, failure_reason, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, chunk_index) DO UPDATE SET
			status = excluded.status,
			start_line = excluded.start_line,
			end_line = excluded.end_line,
			byte_start = excluded.byte_start,
			byte_end = excluded.byte_end,
			input_tokens = excluded.input_tokens,
			output_tokens = excluded.output_tokens,
			cost_microdollars = excluded.cost_microdollars,
			attempts = excluded.attempts,
			failure_reason = excluded.failure_reason,
			payload = excluded.payload`,
		s.runID, cs.ChunkIndex, string(cs.Status), cs.StartLine, cs.EndLine,
		cs.ByteStart, cs.ByteEnd, cs.Usage.InputTokens, cs.Usage.OutputTokens,
		cs.CostMicrodollars, cs.Attempts, cs.FailureReason, body)
	if err != nil {
		return fmt.Errorf("put chunk %d: %w", cs.ChunkIndex, err)
	}

	if exists {
		s.snapshot = remove(s.snapshot, prev)
	}
	s.statuses[cs.ChunkIndex] = cs.Status
	s.snapshot = add(s.snapshot, cs.Status)
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, chunkIndex int) (*ChunkSummary, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT chunk_index, status, start_line, end_line, byte_start, byte_end,
		       input_tokens, output_tokens, cost_microdollars, attempts,
		       failure_reason, payload
		FROM chunk_summaries WHERE run_id = ? AND chunk_index = ?`,
		s.runID, chunkIndex)

	cs, err := scanSummary(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get chunk %d: %w", chunkIndex, err)
	}
	return cs, true, nil
}

func (s *SQLiteStore) Counts(context.Context) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot, nil
}

func (s *SQLiteStore) All(ctx context.Context) ([]*ChunkSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_index, status, start_line, end_line, byte_start, byte_end,
		       input_tokens, output_tokens, cost_microdollars, attempts,
		       failure_reason, payload
		FROM chunk_summaries WHERE run_id = ? ORDER BY chunk_index`,
		s.runID)
	if err != nil {
		return nil, fmt.Errorf("list chunk summaries: %w", err)
	}
	defer rows.Close()

	var out []*ChunkSummary
	for rows.Next() {
		cs, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chunk summary: %w", err)
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSummary(row scanner) (*ChunkSummary, error) {
	var (
		cs            ChunkSummary
		status        string
		failureReason sql.NullString
		body          []byte
	)
	err := row.Scan(&cs.ChunkIndex, &status, &cs.StartLine, &cs.EndLine,
		&cs.ByteStart, &cs.ByteEnd, &cs.Usage.InputTokens,
		&cs.Usage.OutputTokens, &cs.CostMicrodollars, &cs.Attempts,
		&failureReason, &body)
	if err != nil {
		return nil, err
	}
	cs.Status = Status(status)
	cs.FailureReason = failureReason.String

	if len(body) > 0 {
		var p struct {
			Patterns  []provider.Pattern  `json:"error_patterns"`
			Endpoints []provider.Endpoint `json:"api_endpoints"`
			Issues    []provider.Issue    `json:"performance_issues"`
			Summary   string              `json:"summary"`
		}
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		cs.Patterns = p.Patterns
		cs.Endpoints = p.Endpoints
		cs.Issues = p.Issues
		cs.Summary = p.Summary
	}
	return &cs, nil
}
