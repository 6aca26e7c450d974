// Package analyzer runs the concurrent stage of the pipeline: a fixed pool
// of workers draining the splitter's chunk channel, each worker calling the
// inference provider with retry, backoff, and cost accounting. Each chunk is
// recorded pending at dispatch and driven to exactly one terminal
// ChunkSummary.
package analyzer

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/logsift/logsift/internal/logctx"
	"github.com/logsift/logsift/pkg/chunker"
	"github.com/logsift/logsift/pkg/logging"
	"github.com/logsift/logsift/pkg/membudget"
	"github.com/logsift/logsift/pkg/pricing"
	"github.com/logsift/logsift/pkg/provider"
	"github.com/logsift/logsift/pkg/summary"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Config configures the worker pool. Zero values are backfilled by New.
type Config struct {
	// Workers is the pool size W. Default: DefaultWorkers.
	Workers int

	// MaxAttempts bounds provider calls per chunk across transport
	// retries. Default: DefaultMaxAttempts.
	MaxAttempts int

	// CallTimeout is the hard per-call timeout, distinct from any overall
	// pipeline timeout. Default: DefaultCallTimeout.
	CallTimeout time.Duration

	// BackoffBase is the first retry delay; subsequent delays double up
	// to BackoffMax, each with up to 50% added jitter.
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// TotalChunks, when known up front, enables percentage progress in
	// chunk completion events. Zero means unknown (streaming split).
	TotalChunks int

	// Prices converts token usage to microdollars.
	Prices pricing.PriceTable

	// MemBudget, when set, is released by len(chunk.Text) as each chunk
	// reaches a terminal state, unblocking the splitter.
	MemBudget *membudget.Budget
}

const (
	DefaultWorkers     = 4
	DefaultMaxAttempts = 3
	DefaultCallTimeout = 2 * time.Minute

	defaultBackoffBase = time.Second
	defaultBackoffMax  = 30 * time.Second
)

// Pool is the chunk analysis worker pool.
type Pool struct {
	analyzer provider.Analyzer
	store    summary.Store
	cfg      Config
	eta      *logging.ETAEstimator
}

// New creates a Pool over the given provider and store.
func New(analyzer provider.Analyzer, store summary.Store, cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = defaultBackoffMax
	}
	if cfg.Prices.PerModel == nil {
		cfg.Prices = pricing.DefaultPrices()
	}
	return &Pool{
		analyzer: analyzer,
		store:    store,
		cfg:      cfg,
		eta:      logging.NewETAEstimator(),
	}
}

// Run drains chunks until the channel closes or ctx is canceled. A chunk
// failure never aborts the run; the only returned error is ctx's. Workers
// block only on the provider call or on channel availability.
func (p *Pool) Run(ctx context.Context, chunks <-chan chunker.Chunk) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			wctx := logctx.WithInt(ctx, "worker", worker)
			for {
				select {
				case chunk, ok := <-chunks:
					if !ok {
						return nil
					}
					p.process(wctx, chunk)
					if p.cfg.MemBudget != nil {
						p.cfg.MemBudget.Release(uint64(len(chunk.Text)))
					}
					if err := ctx.Err(); err != nil {
						return err
					}
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		})
	}
	return g.Wait()
}

// process drives one chunk to a terminal summary. The pool owns this chunk
// index exclusively, so no cross-worker coordination is needed beyond the
// store's own consistency.
func (p *Pool) process(ctx context.Context, chunk chunker.Chunk) {
	log := logctx.FromContext(ctx).With().Int("chunk_index", chunk.Index).Logger()

	// Resume: a terminal summary from an earlier run is final.
	if existing, ok, err := p.store.Get(ctx, chunk.Index); err != nil {
		log.Error().Err(err).Msg("read existing summary")
	} else if ok && existing.Status.Terminal() {
		log.Debug().Str("status", string(existing.Status)).Msg("chunk already terminal, skipping")
		return
	}

	// Dispatch: record the chunk as pending with its line and byte ranges
	// so an interrupted run still reports which lines went unanalyzed.
	pending := &summary.ChunkSummary{
		ChunkIndex: chunk.Index,
		Status:     summary.StatusPending,
		StartLine:  chunk.StartLine,
		EndLine:    chunk.EndLine,
		ByteStart:  chunk.ByteStart,
		ByteEnd:    chunk.ByteEnd,
	}
	if err := p.store.Put(ctx, pending); err != nil {
		log.Error().Err(err).Msg("store pending summary")
	}

	snap, _ := p.store.Counts(ctx)
	logging.ChunkStarted(log, chunk.Index, snap.Terminal(), p.cfg.TotalChunks)

	start := time.Now()
	cs := p.analyze(ctx, chunk, log)

	if !cs.Status.Terminal() {
		// Canceled mid-flight: the pending summary stays behind so a
		// resumed run redoes this chunk and the report can name its
		// line range as a gap.
		return
	}
	if err := p.store.Put(ctx, cs); err != nil {
		if errors.Is(err, summary.ErrTerminalOverwrite) {
			log.Warn().Err(err).Msg("summary already terminal")
			return
		}
		log.Error().Err(err).Msg("store chunk summary")
		return
	}

	elapsed := time.Since(start)
	p.eta.Record(elapsed)
	snap, _ = p.store.Counts(ctx)
	remaining := p.cfg.TotalChunks - snap.Terminal()
	logging.ChunkCompleted(log, chunk.Index, string(cs.Status), elapsed,
		snap.Terminal(), p.cfg.TotalChunks, p.eta.ETA(remaining, p.cfg.Workers))
}

// analyze runs the retry loop and returns the summary to persist. A
// non-terminal status means the context was canceled before an outcome.
func (p *Pool) analyze(ctx context.Context, chunk chunker.Chunk, log zerolog.Logger) *summary.ChunkSummary {
	cs := &summary.ChunkSummary{
		ChunkIndex: chunk.Index,
		Status:     summary.StatusPending,
		StartLine:  chunk.StartLine,
		EndLine:    chunk.EndLine,
		ByteStart:  chunk.ByteStart,
		ByteEnd:    chunk.ByteEnd,
	}

	instructions := DefaultInstructions
	strictRetried := false
	var lastErr error

	for cs.Attempts < p.cfg.MaxAttempts {
		if ctx.Err() != nil {
			return cs
		}
		cs.Attempts++

		callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
		res, err := p.analyzer.Analyze(callCtx, chunk.Text, instructions)
		cancel()

		if err == nil {
			cs.Usage = cs.Usage.Add(res.Usage)
			cs.CostMicrodollars += p.cfg.Prices.ComputeCost(
				p.analyzer.Model(), res.Usage.InputTokens, res.Usage.OutputTokens)
			cs.Status = summary.StatusSuccess
			cs.Patterns = res.Patterns
			cs.Endpoints = res.Endpoints
			cs.Issues = res.Issues
			cs.Summary = res.Summary
			return cs
		}
		lastErr = err

		var perr *provider.ParseError
		if errors.As(err, &perr) {
			cs.Usage = cs.Usage.Add(perr.Usage)
			cs.CostMicrodollars += p.cfg.Prices.ComputeCost(
				p.analyzer.Model(), perr.Usage.InputTokens, perr.Usage.OutputTokens)
			if strictRetried {
				break
			}
			// One reformat retry with stricter instructions; the
			// identical request would likely fail the same way.
			strictRetried = true
			instructions = strictInstructions
			log.Warn().Err(err).Int("attempt", cs.Attempts).Msg("parse failure, retrying with strict format")
			continue
		}

		var terr *provider.TransportError
		if errors.As(err, &terr) {
			if cs.Attempts >= p.cfg.MaxAttempts {
				break
			}
			delay := p.backoff(cs.Attempts)
			log.Warn().Err(err).Int("attempt", cs.Attempts).Dur("backoff", delay).Msg("transport failure, backing off")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return cs
			}
			continue
		}

		// Request rejections and unknown error classes: terminal
		// failure, no retry.
		break
	}

	if ctx.Err() != nil && lastErr == nil {
		return cs
	}
	cs.Status = summary.StatusFailed
	if lastErr != nil {
		cs.FailureReason = lastErr.Error()
	} else {
		cs.FailureReason = "retry attempts exhausted"
	}
	log.Error().Err(lastErr).Int("attempts", cs.Attempts).Msg("chunk analysis failed")
	return cs
}

// backoff returns the delay before the given retry, exponential from
// BackoffBase with up to 50% jitter, capped at BackoffMax.
func (p *Pool) backoff(attempt int) time.Duration {
	delay := p.cfg.BackoffBase << (attempt - 1)
	if delay > p.cfg.BackoffMax {
		delay = p.cfg.BackoffMax
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
	return delay + jitter
}
