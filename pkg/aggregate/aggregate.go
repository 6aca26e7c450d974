// Package aggregate merges per-chunk partial analyses into one deduplicated,
// deterministically ordered report. Workers finish out of order; this stage
// re-imposes order at merge time, so the final output never depends on
// completion order.
package aggregate

import (
	"sort"
	"strings"

	"github.com/logsift/logsift/pkg/provider"
	"github.com/logsift/logsift/pkg/summary"
)

// MergedPattern is one deduplicated error pattern across all chunks.
type MergedPattern struct {
	Fingerprint    string            `json:"fingerprint"`
	PatternType    string            `json:"pattern_type"`
	Description    string            `json:"description"`
	Severity       provider.Severity `json:"severity"`
	Frequency      int               `json:"frequency"`
	FirstSeenChunk int               `json:"first_seen_chunk"`
}

// MergedEndpoint is one API endpoint across all chunks.
type MergedEndpoint struct {
	Method        string  `json:"method"`
	Path          string  `json:"path"`
	StatusCodes   []int   `json:"status_codes"`
	SlowCallCount int     `json:"slow_call_count"`
	MaxLatencyMS  float64 `json:"max_latency_ms"`
}

// MergedIssue is one performance issue across all chunks.
type MergedIssue struct {
	Operation   string `json:"operation"`
	Description string `json:"description"`
	Count       int    `json:"count"`
}

// LineRange is an inclusive range of 1-based source lines.
type LineRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Analysis is the merged report for one run. Immutable once built; building
// it twice over the same terminal set yields identical values, so encoded
// output is byte-for-byte reproducible.
type Analysis struct {
	TotalChunks   int `json:"total_chunks"`
	SuccessChunks int `json:"success_chunks"`
	FailedChunks  int `json:"failed_chunks"`

	// PendingChunks counts chunks dispatched but still non-terminal, e.g.
	// in flight when an overall timeout fired. Their line ranges appear
	// in Gaps.
	PendingChunks int `json:"pending_chunks"`

	// MissingChunks counts expected indices with no summary at all:
	// chunks queued but never dispatched before the run was cut short.
	MissingChunks int `json:"missing_chunks"`

	CoverageIncomplete bool        `json:"coverage_incomplete"`
	CoveredLineRanges  []LineRange `json:"covered_line_ranges"`
	Gaps               []LineRange `json:"gaps,omitempty"`

	Patterns  []MergedPattern  `json:"error_patterns"`
	Endpoints []MergedEndpoint `json:"api_endpoints"`
	Issues    []MergedIssue    `json:"performance_issues"`

	// Summaries holds the per-chunk prose summaries of successful chunks
	// in chunk order.
	Summaries []string `json:"chunk_summaries,omitempty"`

	TotalUsage            provider.Usage `json:"total_token_usage"`
	TotalCostMicrodollars int64          `json:"total_cost_microdollars"`
}

// Build merges chunk summaries into an Analysis. expectedChunks is the
// number of chunks the splitter produced; summaries may cover fewer when a
// timeout or cancellation cut the run short. Summaries in any order are
// accepted; the merge sorts internally.
func Build(summaries []*summary.ChunkSummary, expectedChunks int) *Analysis {
	ordered := append([]*summary.ChunkSummary(nil), summaries...)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].ChunkIndex < ordered[j].ChunkIndex
	})

	a := &Analysis{TotalChunks: expectedChunks}
	if expectedChunks < len(ordered) {
		a.TotalChunks = len(ordered)
	}

	patterns := make(map[string]*MergedPattern)
	endpoints := make(map[string]*MergedEndpoint)
	statusSets := make(map[string]map[int]bool)
	issues := make(map[string]*MergedIssue)

	var covered, gaps []LineRange
	seen := 0

	for _, cs := range ordered {
		seen++
		switch cs.Status {
		case summary.StatusSuccess:
			a.SuccessChunks++
			covered = appendRange(covered, LineRange{cs.StartLine, cs.EndLine})
		case summary.StatusFailed:
			a.FailedChunks++
			gaps = appendRange(gaps, LineRange{cs.StartLine, cs.EndLine})
		default:
			a.PendingChunks++
			gaps = appendRange(gaps, LineRange{cs.StartLine, cs.EndLine})
		}

		a.TotalUsage = a.TotalUsage.Add(cs.Usage)
		a.TotalCostMicrodollars += cs.CostMicrodollars

		if cs.Status != summary.StatusSuccess {
			continue
		}
		if cs.Summary != "" {
			a.Summaries = append(a.Summaries, cs.Summary)
		}

		for _, p := range cs.Patterns {
			fp := Fingerprint(p)
			mp, ok := patterns[fp]
			if !ok {
				patterns[fp] = &MergedPattern{
					Fingerprint:    fp,
					PatternType:    p.PatternType,
					Description:    p.Description,
					Severity:       p.Severity,
					Frequency:      p.Frequency,
					FirstSeenChunk: cs.ChunkIndex,
				}
				continue
			}
			mp.Frequency += p.Frequency
			if p.Severity.Rank() > mp.Severity.Rank() {
				mp.Severity = p.Severity
			}
			// ordered is sorted by chunk index, so the first group
			// member already carries the minimum first_seen_chunk.
		}

		for _, ep := range cs.Endpoints {
			key := strings.ToUpper(ep.Method) + " " + ep.Path
			me, ok := endpoints[key]
			if !ok {
				me = &MergedEndpoint{
					Method:       strings.ToUpper(ep.Method),
					Path:         ep.Path,
					MaxLatencyMS: ep.MaxLatencyMS,
				}
				endpoints[key] = me
				statusSets[key] = make(map[int]bool)
			}
			for _, code := range ep.StatusCodes {
				statusSets[key][code] = true
			}
			me.SlowCallCount += ep.SlowCallCount
			if ep.MaxLatencyMS > me.MaxLatencyMS {
				me.MaxLatencyMS = ep.MaxLatencyMS
			}
		}

		for _, is := range cs.Issues {
			key := normalizeOperation(is.Operation)
			mi, ok := issues[key]
			if !ok {
				issues[key] = &MergedIssue{
					Operation:   is.Operation,
					Description: is.Description,
					Count:       is.Count,
				}
				continue
			}
			mi.Count += is.Count
		}
	}

	a.MissingChunks = a.TotalChunks - seen
	if a.MissingChunks < 0 {
		a.MissingChunks = 0
	}
	a.CoverageIncomplete = a.FailedChunks > 0 || a.PendingChunks > 0 || a.MissingChunks > 0
	a.CoveredLineRanges = covered
	a.Gaps = gaps

	a.Patterns = sortedPatterns(patterns)
	a.Endpoints = sortedEndpoints(endpoints, statusSets)
	a.Issues = sortedIssues(issues)
	return a
}

// appendRange appends r, coalescing with the previous range when adjacent.
// Summaries are processed in chunk order and chunk line ranges partition the
// source, so only the tail can coalesce.
func appendRange(ranges []LineRange, r LineRange) []LineRange {
	if n := len(ranges); n > 0 && ranges[n-1].End+1 >= r.Start {
		if r.End > ranges[n-1].End {
			ranges[n-1].End = r.End
		}
		return ranges
	}
	return append(ranges, r)
}

func sortedPatterns(m map[string]*MergedPattern) []MergedPattern {
	out := make([]MergedPattern, 0, len(m))
	for _, mp := range m {
		out = append(out, *mp)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if a.Frequency != b.Frequency {
			return a.Frequency > b.Frequency
		}
		if a.FirstSeenChunk != b.FirstSeenChunk {
			return a.FirstSeenChunk < b.FirstSeenChunk
		}
		return a.Fingerprint < b.Fingerprint
	})
	return out
}

func sortedEndpoints(m map[string]*MergedEndpoint, statusSets map[string]map[int]bool) []MergedEndpoint {
	out := make([]MergedEndpoint, 0, len(m))
	for key, me := range m {
		ep := *me
		for code := range statusSets[key] {
			ep.StatusCodes = append(ep.StatusCodes, code)
		}
		sort.Ints(ep.StatusCodes)
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Method != out[j].Method {
			return out[i].Method < out[j].Method
		}
		return out[i].Path < out[j].Path
	})
	return out
}

func sortedIssues(m map[string]*MergedIssue) []MergedIssue {
	out := make([]MergedIssue, 0, len(m))
	for _, mi := range m {
		out = append(out, *mi)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Operation < out[j].Operation
	})
	return out
}
