package tokens

import (
	"github.com/logsift/logsift/pkg/logsource"
)

// Route is the analysis path chosen for a source.
type Route int

const (
	// RouteDirect analyzes the whole source in a single provider call.
	RouteDirect Route = iota
	// RouteChunked splits the source and fans out per-chunk calls.
	RouteChunked
)

func (r Route) String() string {
	if r == RouteChunked {
		return "chunked"
	}
	return "direct"
}

// DefaultThreshold routes to the chunked path above this many estimated
// tokens: a 128K-token context window minus a safety margin for the
// instruction template and the structured response.
const DefaultThreshold = 100_000

// Decision is the router's output, kept for the final report's audit trail.
type Decision struct {
	Route    Route
	Estimate SourceEstimate
}

// Decide samples the source and chooses the analysis path. threshold <= 0
// uses DefaultThreshold. The sampling error is the only fatal error of the
// whole pipeline.
func Decide(src *logsource.Source, threshold int64, sampleBytes int) (Decision, error) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	est, err := EstimateSource(src, sampleBytes)
	if err != nil {
		return Decision{}, err
	}

	route := RouteDirect
	if est.TotalTokens > threshold {
		route = RouteChunked
	}
	return Decision{Route: route, Estimate: est}, nil
}
