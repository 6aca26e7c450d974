// Package export writes a stored analysis out as parquet or JSON for
// offline analytics.
package export

import (
	"fmt"
	"os"

	json "github.com/goccy/go-json"
	"github.com/parquet-go/parquet-go"

	"github.com/logsift/logsift/pkg/aggregate"
)

// PatternRow is the parquet row shape for merged error patterns.
type PatternRow struct {
	Fingerprint    string `parquet:"fingerprint"`
	PatternType    string `parquet:"pattern_type"`
	Description    string `parquet:"description"`
	Severity       string `parquet:"severity"`
	Frequency      int64  `parquet:"frequency"`
	FirstSeenChunk int64  `parquet:"first_seen_chunk"`
}

// EndpointRow is the parquet row shape for merged endpoints. Status codes
// are flattened to a comma-separated string to keep the schema flat.
type EndpointRow struct {
	Method        string  `parquet:"method"`
	Path          string  `parquet:"path"`
	StatusCodes   string  `parquet:"status_codes"`
	SlowCallCount int64   `parquet:"slow_call_count"`
	MaxLatencyMS  float64 `parquet:"max_latency_ms"`
}

// IssueRow is the parquet row shape for merged performance issues.
type IssueRow struct {
	Operation   string `parquet:"operation"`
	Description string `parquet:"description"`
	Count       int64  `parquet:"count"`
}

// PatternRows converts an analysis's patterns.
func PatternRows(a *aggregate.Analysis) []PatternRow {
	rows := make([]PatternRow, len(a.Patterns))
	for i, p := range a.Patterns {
		rows[i] = PatternRow{
			Fingerprint:    p.Fingerprint,
			PatternType:    p.PatternType,
			Description:    p.Description,
			Severity:       string(p.Severity),
			Frequency:      int64(p.Frequency),
			FirstSeenChunk: int64(p.FirstSeenChunk),
		}
	}
	return rows
}

// EndpointRows converts an analysis's endpoints.
func EndpointRows(a *aggregate.Analysis) []EndpointRow {
	rows := make([]EndpointRow, len(a.Endpoints))
	for i, ep := range a.Endpoints {
		codes := ""
		for j, c := range ep.StatusCodes {
			if j > 0 {
				codes += ","
			}
			codes += fmt.Sprintf("%d", c)
		}
		rows[i] = EndpointRow{
			Method:        ep.Method,
			Path:          ep.Path,
			StatusCodes:   codes,
			SlowCallCount: int64(ep.SlowCallCount),
			MaxLatencyMS:  ep.MaxLatencyMS,
		}
	}
	return rows
}

// IssueRows converts an analysis's issues.
func IssueRows(a *aggregate.Analysis) []IssueRow {
	rows := make([]IssueRow, len(a.Issues))
	for i, is := range a.Issues {
		rows[i] = IssueRow{
			Operation:   is.Operation,
			Description: is.Description,
			Count:       int64(is.Count),
		}
	}
	return rows
}

// WriteParquet writes rows of one row type to path.
func WriteParquet[T any](path string, rows []T) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	writer := parquet.NewGenericWriter[T](file)
	if _, err := writer.Write(rows); err != nil {
		file.Close()
		return fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		file.Close()
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return file.Close()
}

// WriteJSON writes the full analysis document to path.
func WriteJSON(path string, a *aggregate.Analysis) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("encode analysis: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
