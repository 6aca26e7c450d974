package export

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"

	"github.com/logsift/logsift/pkg/aggregate"
	"github.com/logsift/logsift/pkg/provider"
)

func sampleAnalysis() *aggregate.Analysis {
	return &aggregate.Analysis{
		TotalChunks:   2,
		SuccessChunks: 2,
		Patterns: []aggregate.MergedPattern{
			{Fingerprint: "timeout|shard # timed out", PatternType: "timeout",
				Description: "shard 3 timed out", Severity: provider.SeverityHigh,
				Frequency: 11, FirstSeenChunk: 0},
			{Fingerprint: "db_error|connection refused", PatternType: "db_error",
				Description: "connection refused", Severity: provider.SeverityMedium,
				Frequency: 4, FirstSeenChunk: 1},
		},
		Endpoints: []aggregate.MergedEndpoint{
			{Method: "GET", Path: "/api/users", StatusCodes: []int{200, 500},
				SlowCallCount: 5, MaxLatencyMS: 900},
		},
		Issues: []aggregate.MergedIssue{
			{Operation: "user_lookup", Description: "slow join", Count: 7},
		},
	}
}

func TestPatternRowsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.parquet")
	rows := PatternRows(sampleAnalysis())
	if err := WriteParquet(path, rows); err != nil {
		t.Fatalf("write: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()

	reader := parquet.NewGenericReader[PatternRow](file)
	defer reader.Close()
	if reader.NumRows() != 2 {
		t.Fatalf("rows = %d, want 2", reader.NumRows())
	}
	got := make([]PatternRow, 2)
	if _, err := reader.Read(got); err != nil && !errors.Is(err, io.EOF) {
		t.Fatalf("read: %v", err)
	}
	if got[0].Fingerprint != "timeout|shard # timed out" || got[0].Frequency != 11 {
		t.Errorf("row 0 = %+v", got[0])
	}
}

func TestEndpointRowsFlattenStatusCodes(t *testing.T) {
	rows := EndpointRows(sampleAnalysis())
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0].StatusCodes != "200,500" {
		t.Errorf("status codes = %q, want \"200,500\"", rows[0].StatusCodes)
	}
}

func TestIssueRows(t *testing.T) {
	rows := IssueRows(sampleAnalysis())
	if len(rows) != 1 || rows[0].Count != 7 {
		t.Errorf("rows = %+v", rows)
	}
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analysis.json")
	if err := WriteJSON(path, sampleAnalysis()); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Error("empty JSON export")
	}
}
