// Package pipeline wires the stages together: open the source, route,
// split, analyze concurrently, aggregate, report. One call to Run performs
// one complete analysis.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/logsift/logsift/internal/logctx"
	"github.com/logsift/logsift/pkg/aggregate"
	"github.com/logsift/logsift/pkg/analyzer"
	"github.com/logsift/logsift/pkg/chunker"
	"github.com/logsift/logsift/pkg/logging"
	"github.com/logsift/logsift/pkg/logsource"
	"github.com/logsift/logsift/pkg/membudget"
	"github.com/logsift/logsift/pkg/pricing"
	"github.com/logsift/logsift/pkg/provider"
	"github.com/logsift/logsift/pkg/report"
	"github.com/logsift/logsift/pkg/summary"
	"github.com/logsift/logsift/pkg/tokens"
)

// Config configures one pipeline run. Zero values are backfilled.
type Config struct {
	// SourcePath is the local log file to analyze. Remote sources are
	// spooled to a local path before the pipeline starts.
	SourcePath string

	// RunID names this run in logs and durable stores.
	RunID string

	ChunkTokenBudget int
	ChunkLineCap     int

	// RouterThreshold is the estimated token count above which the
	// source is chunked instead of analyzed in one call.
	RouterThreshold int64

	// SampleBytes bounds the routing sample prefix.
	SampleBytes int

	Workers        int
	CallTimeout    time.Duration
	MaxAttempts    int
	OverallTimeout time.Duration

	// QueueDepth is the chunk channel capacity between splitter and
	// workers; boundedness is what backpressures the producer.
	// Default: 2*Workers.
	QueueDepth int

	Prices    pricing.PriceTable
	MemBudget *membudget.Budget
}

// Result is the outcome of one run.
type Result struct {
	Analysis       *aggregate.Analysis
	RecordID       report.RecordID
	Route          tokens.Route
	ChunksProduced int
	Elapsed        time.Duration
}

// Run executes the pipeline over cfg.SourcePath. Opening or sampling the
// source is the only fatal failure; all later errors degrade into coverage
// gaps. An overall timeout aggregates whatever is terminal at that point;
// an external cancellation returns ctx's error without a report.
func Run(ctx context.Context, cfg Config, prov provider.Analyzer, store summary.Store, sink report.Sink) (*Result, error) {
	start := time.Now()
	ctx = logctx.WithStr(ctx, "run_id", cfg.RunID)
	log := logctx.FromContext(ctx)

	src, err := logsource.Open(cfg.SourcePath)
	if err != nil {
		return nil, err
	}

	decision, err := tokens.Decide(src, cfg.RouterThreshold, cfg.SampleBytes)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("route", decision.Route.String()).
		Int64("source_bytes", src.Size).
		Int64("estimated_tokens", decision.Estimate.TotalTokens).
		Float64("bytes_per_token", decision.Estimate.BytesPerToken).
		Msg("source routed")

	splitCfg := chunker.Config{
		TokenBudget: cfg.ChunkTokenBudget,
		LineCap:     cfg.ChunkLineCap,
		Budget:      cfg.MemBudget,
	}
	if decision.Route == tokens.RouteDirect {
		// The direct path is the chunked path with one chunk: the same
		// pool, store, and aggregator, so output shape is identical.
		splitCfg.TokenBudget = math.MaxInt
		splitCfg.LineCap = math.MaxInt
		splitCfg.Budget = nil
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if cfg.OverallTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, cfg.OverallTimeout)
		defer cancel()
	}

	if cfg.Workers <= 0 {
		cfg.Workers = analyzer.DefaultWorkers
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 2 * cfg.Workers
	}

	pool := analyzer.New(prov, store, analyzer.Config{
		Workers:     cfg.Workers,
		MaxAttempts: cfg.MaxAttempts,
		CallTimeout: cfg.CallTimeout,
		Prices:      cfg.Prices,
		MemBudget:   splitCfg.Budget,
	})

	reader, err := src.NewReader(logsource.ReaderConfig{})
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	chunks := make(chan chunker.Chunk, cfg.QueueDepth)
	var produced int

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer close(chunks)
		n, err := chunker.New(reader, splitCfg).Split(gctx, chunks)
		produced = n
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			// Mid-stream read failures degrade coverage; chunks
			// already emitted still get analyzed.
			plog := logctx.FromContext(ctx)
			plog.Error().Err(err).Msg("source read failed mid-stream")
		}
		return nil
	})
	g.Go(func() error {
		return pool.Run(gctx, chunks)
	})

	runErr := g.Wait()
	if runErr != nil {
		if ctx.Err() != nil {
			// External abort: durable terminal summaries survive for
			// a resumed run, but no report is produced.
			return nil, fmt.Errorf("pipeline canceled: %w", ctx.Err())
		}
		if errors.Is(runErr, context.DeadlineExceeded) {
			log.Warn().
				Dur("overall_timeout", cfg.OverallTimeout).
				Msg("overall timeout reached, aggregating terminal chunks")
		} else {
			return nil, fmt.Errorf("pipeline: %w", runErr)
		}
	}

	warnings := reader.Warnings()
	if warnings.Encoding > 0 || warnings.Truncation > 0 {
		log.Debug().
			Int64("encoding_warnings", warnings.Encoding).
			Int64("truncation_warnings", warnings.Truncation).
			Msg("source produced sanitization warnings")
	}

	summaries, err := store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("load chunk summaries: %w", err)
	}
	analysis := aggregate.Build(summaries, produced)

	recordID, err := sink.Store(ctx, analysis)
	if err != nil {
		return nil, fmt.Errorf("store analysis: %w", err)
	}

	elapsed := time.Since(start)
	logging.PhaseComplete(log, "pipeline", elapsed).
		Str("record_id", string(recordID)).
		Int("chunks", analysis.TotalChunks).
		Int("failed_chunks", analysis.FailedChunks).
		Int("pending_chunks", analysis.PendingChunks).
		Bool("coverage_incomplete", analysis.CoverageIncomplete).
		Int("total_tokens", analysis.TotalUsage.Total()).
		Int64("cost_microdollars", analysis.TotalCostMicrodollars).
		Msg("analysis stored")

	return &Result{
		Analysis:       analysis,
		RecordID:       recordID,
		Route:          decision.Route,
		ChunksProduced: produced,
		Elapsed:        elapsed,
	}, nil
}
