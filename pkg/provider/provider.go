// Package provider defines the inference provider contract: the Analyzer
// interface, the structured partial result it returns, and the error
// taxonomy callers use to decide between retrying and giving up.
package provider

import "context"

// Severity of an error pattern. Ordered critical > high > medium > low.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// severityRank maps severities onto integers for max-comparison during merge.
var severityRank = map[Severity]int{
	SeverityCritical: 4,
	SeverityHigh:     3,
	SeverityMedium:   2,
	SeverityLow:      1,
}

// Rank returns the severity's position in the critical-first order, 0 for
// unknown values so malformed provider output sorts last instead of failing.
func (s Severity) Rank() int {
	return severityRank[s]
}

// Valid reports whether s is one of the four known severities.
func (s Severity) Valid() bool {
	return severityRank[s] != 0
}

// Pattern is one recurring error signature reported for a chunk.
type Pattern struct {
	PatternType string   `json:"pattern_type"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
	Frequency   int      `json:"frequency"`
}

// Endpoint is one API endpoint observed in a chunk.
type Endpoint struct {
	Method        string  `json:"method"`
	Path          string  `json:"path"`
	StatusCodes   []int   `json:"status_codes"`
	SlowCallCount int     `json:"slow_call_count"`
	MaxLatencyMS  float64 `json:"max_latency_ms"`
}

// Issue is one performance problem observed in a chunk.
type Issue struct {
	Operation   string `json:"operation"`
	Description string `json:"description"`
	Count       int    `json:"count"`
}

// Usage is the token accounting for one provider call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add returns the elementwise sum. Used to accumulate usage across retry
// attempts, failed ones included.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
	}
}

// Total returns input plus output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Result is the structured partial analysis for one chunk of log text.
type Result struct {
	Patterns  []Pattern  `json:"error_patterns"`
	Endpoints []Endpoint `json:"api_endpoints"`
	Issues    []Issue    `json:"performance_issues"`
	Summary   string     `json:"summary"`

	// Usage is filled by the provider from response metadata, not decoded
	// from the model's JSON payload.
	Usage Usage `json:"-"`
}

// Analyzer is an inference provider that turns a chunk of log text into a
// structured partial analysis. Implementations classify failures as
// *TransportError (retryable) or *ParseError (payload did not conform;
// retried once with stricter instructions).
type Analyzer interface {
	Analyze(ctx context.Context, chunkText, instructions string) (*Result, error)

	// Model returns the provider model identifier, used for pricing.
	Model() string
}
