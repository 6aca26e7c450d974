package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/logsift/logsift/pkg/aggregate"
	"github.com/logsift/logsift/pkg/provider"
	"github.com/logsift/logsift/pkg/provider/mock"
	"github.com/logsift/logsift/pkg/report"
	"github.com/logsift/logsift/pkg/summary"
	"github.com/logsift/logsift/pkg/tokens"
)

// memSink records stored analyses.
type memSink struct {
	mu     sync.Mutex
	stored []*aggregate.Analysis
}

func (s *memSink) Store(_ context.Context, a *aggregate.Analysis) (report.RecordID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stored = append(s.stored, a)
	return report.RecordID(fmt.Sprintf("record-%d", len(s.stored))), nil
}

func (s *memSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stored)
}

func writeLog(t *testing.T, lines int) string {
	t.Helper()
	var b strings.Builder
	for i := 1; i <= lines; i++ {
		fmt.Fprintf(&b, "2026-08-29T10:00:%02dZ ERROR shard %d connection refused\n", i%60, i)
	}
	path := filepath.Join(t.TempDir(), "app.log")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func chunkedConfig(path string) Config {
	return Config{
		SourcePath:      path,
		RunID:           "test-run",
		ChunkLineCap:    2,
		RouterThreshold: 1, // force the chunked path
		Workers:         2,
		CallTimeout:     time.Second,
		MaxAttempts:     2,
	}
}

func TestRunChunkedEndToEnd(t *testing.T) {
	path := writeLog(t, 10)
	prov := &mock.Provider{
		Result: &provider.Result{
			Patterns: []provider.Pattern{
				{PatternType: "db_error", Description: "shard 7 connection refused",
					Severity: provider.SeverityHigh, Frequency: 2},
			},
			Usage: provider.Usage{InputTokens: 100, OutputTokens: 10},
		},
	}
	store := summary.NewMemStore()
	sink := &memSink{}

	res, err := Run(context.Background(), chunkedConfig(path), prov, store, sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Route != tokens.RouteChunked {
		t.Errorf("route = %s, want chunked", res.Route)
	}
	if res.ChunksProduced != 5 {
		t.Errorf("chunks produced = %d, want 5 (10 lines, cap 2)", res.ChunksProduced)
	}
	if prov.CallCount() != 5 {
		t.Errorf("provider calls = %d, want 5", prov.CallCount())
	}
	if sink.count() != 1 {
		t.Fatalf("sink stores = %d, want exactly 1", sink.count())
	}

	a := res.Analysis
	if a.SuccessChunks != 5 || a.CoverageIncomplete {
		t.Errorf("analysis counts = %+v", a)
	}
	// Every chunk reported the same fingerprint; merge yields one pattern
	// with summed frequency.
	if len(a.Patterns) != 1 || a.Patterns[0].Frequency != 10 {
		t.Errorf("patterns = %+v", a.Patterns)
	}
	if len(a.CoveredLineRanges) != 1 || a.CoveredLineRanges[0] != (aggregate.LineRange{Start: 1, End: 10}) {
		t.Errorf("covered = %+v", a.CoveredLineRanges)
	}
	if a.TotalUsage.Total() != 5*110 {
		t.Errorf("total usage = %d, want 550", a.TotalUsage.Total())
	}
}

func TestRunDirectRoute(t *testing.T) {
	path := writeLog(t, 5)
	prov := &mock.Provider{}
	store := summary.NewMemStore()
	sink := &memSink{}

	cfg := chunkedConfig(path)
	cfg.RouterThreshold = 10_000_000 // well above the tiny fixture
	res, err := Run(context.Background(), cfg, prov, store, sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Route != tokens.RouteDirect {
		t.Errorf("route = %s, want direct", res.Route)
	}
	if res.ChunksProduced != 1 || prov.CallCount() != 1 {
		t.Errorf("chunks = %d, calls = %d, want 1 and 1", res.ChunksProduced, prov.CallCount())
	}
	if res.Analysis.TotalChunks != 1 || res.Analysis.CoverageIncomplete {
		t.Errorf("analysis = %+v", res.Analysis)
	}
}

func TestRunResumeSkipsTerminalChunks(t *testing.T) {
	path := writeLog(t, 10)
	store := summary.NewMemStore()
	ctx := context.Background()

	// Two of the five chunks already finished in an earlier run.
	for i := 0; i < 2; i++ {
		if err := store.Put(ctx, &summary.ChunkSummary{
			ChunkIndex: i, Status: summary.StatusSuccess,
			StartLine: i*2 + 1, EndLine: (i + 1) * 2,
		}); err != nil {
			t.Fatal(err)
		}
	}

	prov := &mock.Provider{}
	sink := &memSink{}
	res, err := Run(ctx, chunkedConfig(path), prov, store, sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if prov.CallCount() != 3 {
		t.Errorf("provider calls = %d, want exactly 3 (5 chunks minus 2 terminal)", prov.CallCount())
	}
	if res.Analysis.SuccessChunks != 5 {
		t.Errorf("success chunks = %d, want 5", res.Analysis.SuccessChunks)
	}
}

func TestRunPartialFailureStillReports(t *testing.T) {
	path := writeLog(t, 10)
	terr := &provider.TransportError{Op: "generate content", Err: errors.New("unavailable")}
	prov := &mock.Provider{Script: []error{terr, terr}} // first chunk exhausts MaxAttempts=2
	store := summary.NewMemStore()
	sink := &memSink{}

	cfg := chunkedConfig(path)
	cfg.Workers = 1
	res, err := Run(context.Background(), cfg, prov, store, sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	a := res.Analysis
	if a.FailedChunks != 1 || a.SuccessChunks != 4 {
		t.Errorf("chunks = %d failed / %d success, want 1/4", a.FailedChunks, a.SuccessChunks)
	}
	if !a.CoverageIncomplete {
		t.Error("partial failure should mark coverage incomplete")
	}
	if len(a.Gaps) != 1 {
		t.Errorf("gaps = %+v, want one failed range", a.Gaps)
	}
}

func TestRunOverallTimeoutAggregatesEarly(t *testing.T) {
	path := writeLog(t, 40)
	prov := &mock.Provider{Delay: 30 * time.Millisecond}
	store := summary.NewMemStore()
	sink := &memSink{}

	cfg := chunkedConfig(path)
	cfg.Workers = 1
	cfg.OverallTimeout = 100 * time.Millisecond
	res, err := Run(context.Background(), cfg, prov, store, sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if sink.count() != 1 {
		t.Fatalf("sink stores = %d, want 1", sink.count())
	}
	a := res.Analysis
	if !a.CoverageIncomplete {
		t.Error("timed-out run should mark coverage incomplete")
	}
	if a.SuccessChunks == 0 {
		t.Error("some chunks should have completed before the timeout")
	}
	if a.SuccessChunks >= 20 {
		t.Errorf("success chunks = %d, expected the timeout to cut the run short", a.SuccessChunks)
	}
	// The chunk in flight at the deadline was recorded pending at dispatch,
	// so the report names its unanalyzed line range.
	if a.PendingChunks == 0 {
		t.Error("timed-out run should report the in-flight chunk as pending")
	}
	if len(a.Gaps) == 0 {
		t.Error("timed-out run should report gap line ranges for unanalyzed chunks")
	}
}

func TestRunCancellationReturnsWithoutReport(t *testing.T) {
	path := writeLog(t, 20)
	prov := &mock.Provider{Delay: time.Second}
	store := summary.NewMemStore()
	sink := &memSink{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := Run(ctx, chunkedConfig(path), prov, store, sink)
		done <- err
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	if err := <-done; err == nil || !errors.Is(err, context.Canceled) {
		t.Fatalf("Run err = %v, want context.Canceled", err)
	}
	if sink.count() != 0 {
		t.Errorf("canceled run stored %d reports, want 0", sink.count())
	}
}

func TestRunMissingSourceIsFatal(t *testing.T) {
	cfg := chunkedConfig(filepath.Join(t.TempDir(), "missing.log"))
	_, err := Run(context.Background(), cfg, &mock.Provider{}, summary.NewMemStore(), &memSink{})
	if err == nil {
		t.Fatal("expected error for missing source")
	}
}
