package aggregate

import (
	"bytes"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/logsift/logsift/pkg/provider"
	"github.com/logsift/logsift/pkg/summary"
)

func successSummary(index int, patterns []provider.Pattern) *summary.ChunkSummary {
	return &summary.ChunkSummary{
		ChunkIndex:       index,
		Status:           summary.StatusSuccess,
		StartLine:        index*100 + 1,
		EndLine:          (index + 1) * 100,
		Patterns:         patterns,
		Usage:            provider.Usage{InputTokens: 1000, OutputTokens: 100},
		CostMicrodollars: 500,
	}
}

func TestPatternDedup(t *testing.T) {
	summaries := []*summary.ChunkSummary{
		successSummary(0, []provider.Pattern{
			{PatternType: "timeout", Description: "shard 3 timed out after 3000ms", Severity: provider.SeverityMedium, Frequency: 4},
		}),
		successSummary(1, []provider.Pattern{
			{PatternType: "timeout", Description: "shard 9 timed out after 5000ms", Severity: provider.SeverityHigh, Frequency: 7},
		}),
	}

	a := Build(summaries, 2)
	if len(a.Patterns) != 1 {
		t.Fatalf("merged patterns = %d, want 1: %+v", len(a.Patterns), a.Patterns)
	}
	p := a.Patterns[0]
	if p.Frequency != 11 {
		t.Errorf("frequency = %d, want 11 (sum)", p.Frequency)
	}
	if p.Severity != provider.SeverityHigh {
		t.Errorf("severity = %s, want high (max)", p.Severity)
	}
	if p.FirstSeenChunk != 0 {
		t.Errorf("first_seen_chunk = %d, want 0 (min)", p.FirstSeenChunk)
	}
}

func TestPatternOrdering(t *testing.T) {
	summaries := []*summary.ChunkSummary{
		successSummary(0, []provider.Pattern{
			{PatternType: "slow_query", Description: "aaa", Severity: provider.SeverityLow, Frequency: 100},
			{PatternType: "oom", Description: "heap exhausted", Severity: provider.SeverityCritical, Frequency: 1},
			{PatternType: "retry_storm", Description: "bbb", Severity: provider.SeverityHigh, Frequency: 5},
			{PatternType: "auth_failure", Description: "ccc", Severity: provider.SeverityHigh, Frequency: 9},
		}),
	}

	a := Build(summaries, 1)
	gotTypes := make([]string, len(a.Patterns))
	for i, p := range a.Patterns {
		gotTypes[i] = p.PatternType
	}
	// severity desc, then frequency desc within equal severity.
	want := []string{"oom", "auth_failure", "retry_storm", "slow_query"}
	for i := range want {
		if gotTypes[i] != want[i] {
			t.Fatalf("pattern order = %v, want %v", gotTypes, want)
		}
	}
}

func TestEndpointMerge(t *testing.T) {
	s0 := successSummary(0, nil)
	s0.Endpoints = []provider.Endpoint{
		{Method: "GET", Path: "/api/users", StatusCodes: []int{200, 500}, SlowCallCount: 2, MaxLatencyMS: 120},
	}
	s1 := successSummary(1, nil)
	s1.Endpoints = []provider.Endpoint{
		{Method: "get", Path: "/api/users", StatusCodes: []int{200, 429}, SlowCallCount: 3, MaxLatencyMS: 900},
		{Method: "POST", Path: "/api/users", StatusCodes: []int{201}},
	}

	a := Build([]*summary.ChunkSummary{s0, s1}, 2)
	if len(a.Endpoints) != 2 {
		t.Fatalf("merged endpoints = %d, want 2: %+v", len(a.Endpoints), a.Endpoints)
	}
	get := a.Endpoints[0]
	if get.Method != "GET" {
		t.Fatalf("endpoint order: first = %s %s, want GET", get.Method, get.Path)
	}
	wantCodes := []int{200, 429, 500}
	if len(get.StatusCodes) != len(wantCodes) {
		t.Fatalf("status codes = %v, want %v", get.StatusCodes, wantCodes)
	}
	for i, c := range wantCodes {
		if get.StatusCodes[i] != c {
			t.Errorf("status codes = %v, want %v", get.StatusCodes, wantCodes)
		}
	}
	if get.SlowCallCount != 5 {
		t.Errorf("slow_call_count = %d, want 5", get.SlowCallCount)
	}
	if get.MaxLatencyMS != 900 {
		t.Errorf("max_latency_ms = %v, want 900", get.MaxLatencyMS)
	}
}

func TestIssueMerge(t *testing.T) {
	s0 := successSummary(0, nil)
	s0.Issues = []provider.Issue{{Operation: "user_lookup 12", Description: "slow join", Count: 3}}
	s1 := successSummary(1, nil)
	s1.Issues = []provider.Issue{
		{Operation: "user_lookup 99", Description: "slow join", Count: 4},
		{Operation: "cache_refresh", Description: "stampede", Count: 2},
	}

	a := Build([]*summary.ChunkSummary{s0, s1}, 2)
	if len(a.Issues) != 2 {
		t.Fatalf("merged issues = %d, want 2: %+v", len(a.Issues), a.Issues)
	}
	if a.Issues[0].Count != 7 {
		t.Errorf("top issue count = %d, want 7", a.Issues[0].Count)
	}
	if a.Issues[1].Operation != "cache_refresh" {
		t.Errorf("second issue = %+v", a.Issues[1])
	}
}

func TestCoverageWithFailedAndMissingChunks(t *testing.T) {
	failed := &summary.ChunkSummary{
		ChunkIndex: 1, Status: summary.StatusFailed,
		StartLine: 101, EndLine: 200,
		Usage:         provider.Usage{InputTokens: 500},
		FailureReason: "retry attempts exhausted",
	}
	summaries := []*summary.ChunkSummary{
		successSummary(0, nil),
		failed,
		successSummary(2, nil),
	}

	// Chunk 3 was queued but never dispatched before the run was cut short.
	a := Build(summaries, 4)

	if !a.CoverageIncomplete {
		t.Error("coverage should be incomplete")
	}
	if a.SuccessChunks != 2 || a.FailedChunks != 1 || a.MissingChunks != 1 {
		t.Errorf("counts = %d/%d/%d, want 2/1/1", a.SuccessChunks, a.FailedChunks, a.MissingChunks)
	}
	wantCovered := []LineRange{{1, 100}, {201, 300}}
	if len(a.CoveredLineRanges) != 2 || a.CoveredLineRanges[0] != wantCovered[0] || a.CoveredLineRanges[1] != wantCovered[1] {
		t.Errorf("covered = %+v, want %+v", a.CoveredLineRanges, wantCovered)
	}
	if len(a.Gaps) != 1 || a.Gaps[0] != (LineRange{101, 200}) {
		t.Errorf("gaps = %+v, want [{101 200}]", a.Gaps)
	}
	// Failed chunks still contribute to cost rollup.
	if a.TotalUsage.InputTokens != 2500 {
		t.Errorf("total input tokens = %d, want 2500", a.TotalUsage.InputTokens)
	}
	if a.TotalCostMicrodollars != 1000 {
		t.Errorf("total cost = %d, want 1000", a.TotalCostMicrodollars)
	}
}

func TestPendingChunkReportsGapRange(t *testing.T) {
	pending := &summary.ChunkSummary{
		ChunkIndex: 1, Status: summary.StatusPending,
		StartLine: 101, EndLine: 200,
	}
	a := Build([]*summary.ChunkSummary{successSummary(0, nil), pending}, 2)

	if a.PendingChunks != 1 {
		t.Errorf("pending chunks = %d, want 1", a.PendingChunks)
	}
	if a.MissingChunks != 0 {
		t.Errorf("missing chunks = %d, want 0", a.MissingChunks)
	}
	if !a.CoverageIncomplete {
		t.Error("a run with a pending chunk should be marked incomplete")
	}
	if len(a.Gaps) != 1 || a.Gaps[0] != (LineRange{101, 200}) {
		t.Errorf("gaps = %+v, want [{101 200}]", a.Gaps)
	}
}

func TestCoveredRangesCoalesce(t *testing.T) {
	a := Build([]*summary.ChunkSummary{
		successSummary(0, nil),
		successSummary(1, nil),
		successSummary(2, nil),
	}, 3)
	if len(a.CoveredLineRanges) != 1 {
		t.Fatalf("covered = %+v, want single coalesced range", a.CoveredLineRanges)
	}
	if a.CoveredLineRanges[0] != (LineRange{1, 300}) {
		t.Errorf("covered = %+v, want {1 300}", a.CoveredLineRanges[0])
	}
	if a.CoverageIncomplete {
		t.Error("full success run should not be marked incomplete")
	}
}

func TestBuildDeterministic(t *testing.T) {
	mk := func(order []int) []*summary.ChunkSummary {
		all := []*summary.ChunkSummary{
			successSummary(0, []provider.Pattern{
				{PatternType: "timeout", Description: "shard 1 timed out", Severity: provider.SeverityHigh, Frequency: 2},
				{PatternType: "db_error", Description: "connection refused", Severity: provider.SeverityHigh, Frequency: 2},
			}),
			successSummary(1, []provider.Pattern{
				{PatternType: "timeout", Description: "shard 8 timed out", Severity: provider.SeverityMedium, Frequency: 3},
			}),
			successSummary(2, []provider.Pattern{
				{PatternType: "oom", Description: "heap exhausted", Severity: provider.SeverityCritical, Frequency: 1},
			}),
		}
		out := make([]*summary.ChunkSummary, 0, len(all))
		for _, i := range order {
			out = append(out, all[i])
		}
		return out
	}

	// Completion order must not leak into the output.
	first, err := json.Marshal(Build(mk([]int{0, 1, 2}), 3))
	if err != nil {
		t.Fatal(err)
	}
	second, err := json.Marshal(Build(mk([]int{2, 0, 1}), 3))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("aggregation not deterministic:\n%s\n%s", first, second)
	}
}
