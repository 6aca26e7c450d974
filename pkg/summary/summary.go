// Package summary holds the per-chunk analysis record and the durable store
// that makes crash-resume possible: a terminal summary is written exactly
// once and never overwritten, so a re-run never re-pays inference for work
// that already completed.
package summary

import (
	"errors"

	"github.com/logsift/logsift/pkg/provider"
)

// Status of a chunk's analysis. A summary is terminal once its status is
// success or failed.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// ErrTerminalOverwrite is returned by Store.Put when a write targets a chunk
// index that already holds a terminal summary.
var ErrTerminalOverwrite = errors.New("chunk summary is terminal")

// ChunkSummary is the full analysis record for one chunk. Created once per
// chunk index and mutated only by the worker that owns that index.
type ChunkSummary struct {
	ChunkIndex int    `json:"chunk_index"`
	Status     Status `json:"status"`

	StartLine int   `json:"start_line"`
	EndLine   int   `json:"end_line"`
	ByteStart int64 `json:"byte_start"`
	ByteEnd   int64 `json:"byte_end"`

	Patterns  []provider.Pattern  `json:"error_patterns,omitempty"`
	Endpoints []provider.Endpoint `json:"api_endpoints,omitempty"`
	Issues    []provider.Issue    `json:"performance_issues,omitempty"`
	Summary   string              `json:"summary,omitempty"`

	// Usage and cost accumulate across every attempt, failed ones
	// included.
	Usage            provider.Usage `json:"token_usage"`
	CostMicrodollars int64          `json:"cost_microdollars"`
	Attempts         int            `json:"attempts"`

	FailureReason string `json:"failure_reason,omitempty"`
}

// Snapshot is the progress surface: counts derived from stored summaries,
// never an independently tracked percentage.
type Snapshot struct {
	Total   int
	Success int
	Failed  int
	Pending int
}

// Terminal returns the count of terminal summaries.
func (s Snapshot) Terminal() int {
	return s.Success + s.Failed
}
