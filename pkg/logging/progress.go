package logging

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/logsift/logsift/pkg/humanfmt"
)

// ETAEstimator estimates remaining time from a moving average of recent
// per-chunk durations. It carries no progress counts of its own: done/total
// always come from the chunk summary store's snapshot, so the reported
// progress can never drift from what is actually durable.
// It is safe for concurrent use.
type ETAEstimator struct {
	mu        sync.Mutex
	recent    []time.Duration
	maxRecent int
	startTime time.Time
	recorded  int64
}

// NewETAEstimator creates an estimator with a 10-sample moving window.
func NewETAEstimator() *ETAEstimator {
	return &ETAEstimator{
		recent:    make([]time.Duration, 0, 10),
		maxRecent: 10,
		startTime: time.Now(),
	}
}

// Record adds one completed chunk duration to the moving window.
func (e *ETAEstimator) Record(d time.Duration) {
	e.mu.Lock()
	if len(e.recent) >= e.maxRecent {
		e.recent = e.recent[1:]
	}
	e.recent = append(e.recent, d)
	e.recorded++
	e.mu.Unlock()
}

// ETA returns the estimated time to finish the given number of remaining
// chunks, assuming the given worker concurrency. Returns 0 before any
// completion has been recorded.
func (e *ETAEstimator) ETA(remaining int, workers int) time.Duration {
	if remaining <= 0 || workers <= 0 {
		return 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var avg time.Duration
	if len(e.recent) > 0 {
		var sum time.Duration
		for _, d := range e.recent {
			sum += d
		}
		avg = sum / time.Duration(len(e.recent))
	} else if e.recorded > 0 {
		avg = time.Since(e.startTime) / time.Duration(e.recorded)
	} else {
		return 0
	}

	waves := (remaining + workers - 1) / workers
	return avg * time.Duration(waves)
}

// Elapsed returns time since the estimator was created.
func (e *ETAEstimator) Elapsed() time.Duration {
	return time.Since(e.startTime)
}

// ChunkStarted logs a chunk dispatch event.
func ChunkStarted(log zerolog.Logger, chunkIndex int, done, total int) {
	log.Info().
		Str("event", "chunk_started").
		Int("chunk_index", chunkIndex).
		Int("chunks_done", done).
		Int("chunks_total", total).
		Msg("chunk started")
}

// ChunkCompleted logs a chunk terminal event with progress derived from the
// store snapshot.
func ChunkCompleted(log zerolog.Logger, chunkIndex int, status string, elapsed time.Duration, done, total int, eta time.Duration) {
	e := log.Info().
		Str("event", "chunk_completed").
		Int("chunk_index", chunkIndex).
		Str("status", status).
		Int64("duration_ms", elapsed.Milliseconds()).
		Int("chunks_done", done).
		Int("chunks_total", total)

	if total > 0 {
		e = e.Float64("progress_pct", float64(done)*100.0/float64(total))
	}
	if eta > 0 {
		e = e.Int64("eta_ms", eta.Milliseconds())
	}
	if IsPrettyMode() {
		e = e.Str("duration_h", humanfmt.Duration(elapsed))
		if eta > 0 {
			e = e.Str("eta_h", humanfmt.Duration(eta))
		}
	}

	e.Msg("chunk completed")
}

// PhaseComplete logs a phase completion event.
func PhaseComplete(log zerolog.Logger, phase string, elapsed time.Duration) *zerolog.Event {
	e := log.Info().
		Str("event", "phase_completed").
		Str("phase", phase).
		Int64("duration_ms", elapsed.Milliseconds())
	if IsPrettyMode() {
		e = e.Str("duration_h", humanfmt.Duration(elapsed))
	}
	return e
}
