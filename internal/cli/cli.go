// Package cli implements the command-line interface for logsift.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/logsift/logsift/internal/logctx"
	"github.com/logsift/logsift/pkg/aggregate"
	"github.com/logsift/logsift/pkg/export"
	"github.com/logsift/logsift/pkg/humanfmt"
	"github.com/logsift/logsift/pkg/logging"
	"github.com/logsift/logsift/pkg/membudget"
	"github.com/logsift/logsift/pkg/pipeline"
	"github.com/logsift/logsift/pkg/pricing"
	"github.com/logsift/logsift/pkg/provider/gemini"
	"github.com/logsift/logsift/pkg/report"
	"github.com/logsift/logsift/pkg/s3fetch"
	"github.com/logsift/logsift/pkg/summary"
	"github.com/logsift/logsift/pkg/tokens"
)

// Run executes the CLI with the given arguments.
func Run(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: logsift <command> [options]\ncommands: analyze, export")
	}

	switch args[0] {
	case "analyze":
		return runAnalyze(args[1:])
	case "export":
		return runExport(args[1:])
	default:
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func runAnalyze(args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	source := fs.String("source", "", "log file to analyze (local path or s3:// URI)")
	out := fs.String("out", "analysis.json", "output path for the JSON report")
	dbPath := fs.String("db", "", "sqlite database for chunk summaries and reports (enables resume)")
	runID := fs.String("run-id", "", "run identifier for resume (default: source file name)")
	chunkTokens := fs.Int("chunk-tokens", 0, "per-chunk token budget")
	chunkLines := fs.Int("chunk-lines", 0, "per-chunk line cap")
	threshold := fs.Int64("router-threshold", 0, "estimated tokens above which the source is chunked")
	workers := fs.Int("workers", 0, "analysis worker concurrency")
	callTimeout := fs.Duration("call-timeout", 0, "per-provider-call timeout")
	maxAttempts := fs.Int("max-attempts", 0, "provider attempts per chunk")
	overallTimeout := fs.Duration("overall-timeout", 0, "overall run timeout (0 = none)")
	model := fs.String("model", "", "provider model identifier")
	apiKey := fs.String("api-key", "", "provider API key (default: $GEMINI_API_KEY)")
	priceTable := fs.String("price-table", "", "JSON price table override")
	memBudgetBytes := fs.Uint64("mem-budget", 0, "buffered chunk text budget in bytes (0 = derive from RAM)")
	debug := fs.Bool("debug", false, "enable debug logging")
	human := fs.Bool("human", false, "human-readable console output")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *source == "" {
		return errors.New("--source is required")
	}

	logging.Init(*debug, *human)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logctx.WithLogger(ctx, *logging.L())

	key := *apiKey
	if key == "" {
		key = os.Getenv("GEMINI_API_KEY")
	}
	prov, err := gemini.New(ctx, gemini.Config{APIKey: key, Model: *model})
	if err != nil {
		return err
	}

	sourcePath := *source
	if s3fetch.IsS3URI(sourcePath) {
		spool, err := spoolRemote(ctx, sourcePath)
		if err != nil {
			return err
		}
		defer os.Remove(spool.Path)
		sourcePath = spool.Path
	}

	id := *runID
	if id == "" {
		id = filepath.Base(*source)
	}

	var store summary.Store
	var sink report.Sink = report.NewJSONSink(*out)
	if *dbPath != "" {
		sqlStore, err := summary.OpenSQLite(ctx, *dbPath, id)
		if err != nil {
			return err
		}
		defer sqlStore.Close()
		store = sqlStore

		sqlSink, err := report.OpenSQLiteSink(ctx, *dbPath, id)
		if err != nil {
			return err
		}
		defer sqlSink.Close()
		sink = multiSink{sink, sqlSink}
	} else {
		store = summary.NewMemStore()
	}

	prices := pricing.DefaultPrices()
	if *priceTable != "" {
		prices, err = pricing.LoadPriceTable(*priceTable)
		if err != nil {
			return err
		}
	}

	var budget *membudget.Budget
	if *memBudgetBytes > 0 {
		budget = membudget.New(*memBudgetBytes, membudget.SourceFlag)
	} else {
		budget = membudget.NewFromSystemRAM()
	}

	res, err := pipeline.Run(ctx, pipeline.Config{
		SourcePath:       sourcePath,
		RunID:            id,
		ChunkTokenBudget: *chunkTokens,
		ChunkLineCap:     *chunkLines,
		RouterThreshold:  *threshold,
		Workers:          *workers,
		CallTimeout:      *callTimeout,
		MaxAttempts:      *maxAttempts,
		OverallTimeout:   *overallTimeout,
		Prices:           prices,
		MemBudget:        budget,
	}, prov, store, sink)
	if err != nil {
		return err
	}

	fmt.Printf("analysis stored at %s (%d chunks, %d failed, %s, cost %s)\n",
		res.RecordID, res.Analysis.TotalChunks, res.Analysis.FailedChunks,
		res.Route, humanfmt.Cost(res.Analysis.TotalCostMicrodollars))
	return nil
}

// spoolRemote downloads an s3:// source to a local spool file. A bounded
// prefix is streamed first to log the token density the router will see,
// before committing to the full download.
func spoolRemote(ctx context.Context, uri string) (*s3fetch.SpoolResult, error) {
	log := logging.WithPhase("spool")

	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)

	body, err := s3fetch.Stream(ctx, client, uri)
	if err != nil {
		return nil, err
	}
	sample := make([]byte, tokens.DefaultSampleBytes)
	n, rerr := io.ReadFull(body, sample)
	body.Close()
	if rerr != nil && rerr != io.ErrUnexpectedEOF && rerr != io.EOF {
		return nil, fmt.Errorf("sample s3 prefix: %w", rerr)
	}
	sampleTokens := tokens.Estimate(string(sample[:n]))
	log.Debug().
		Str("uri", uri).
		Int("sample_bytes", n).
		Str("sample_tokens_h", humanfmt.Tokens(int64(sampleTokens))).
		Msg("sampled remote prefix")

	spooler := s3fetch.NewSpoolerWithClient(client, s3fetch.Config{})
	spool, err := spooler.Spool(ctx, uri)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("uri", uri).
		Int64("bytes", spool.BytesDownloaded).
		Str("bytes_h", humanfmt.Bytes(spool.BytesDownloaded)).
		Dur("duration", spool.Duration).
		Msg("spooled remote source")
	return spool, nil
}

func runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	dbPath := fs.String("db", "", "sqlite database holding stored analyses")
	record := fs.String("record", "", "analysis record id to export")
	format := fs.String("format", "parquet", "export format: parquet or json")
	outDir := fs.String("out-dir", ".", "output directory")
	debug := fs.Bool("debug", false, "enable debug logging")
	human := fs.Bool("human", false, "human-readable console output")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dbPath == "" {
		return errors.New("--db is required")
	}
	if *record == "" {
		return errors.New("--record is required")
	}

	logging.Init(*debug, *human)
	ctx := context.Background()

	sink, err := report.OpenSQLiteSink(ctx, *dbPath, "")
	if err != nil {
		return err
	}
	defer sink.Close()

	analysis, err := sink.Load(ctx, report.RecordID(*record))
	if err != nil {
		return err
	}

	switch *format {
	case "json":
		path := filepath.Join(*outDir, fmt.Sprintf("analysis-%s.json", *record))
		if err := export.WriteJSON(path, analysis); err != nil {
			return err
		}
		fmt.Printf("exported %s\n", path)
	case "parquet":
		exports := []struct {
			name  string
			write func(string) error
		}{
			{"patterns", func(p string) error { return export.WriteParquet(p, export.PatternRows(analysis)) }},
			{"endpoints", func(p string) error { return export.WriteParquet(p, export.EndpointRows(analysis)) }},
			{"issues", func(p string) error { return export.WriteParquet(p, export.IssueRows(analysis)) }},
		}
		for _, e := range exports {
			path := filepath.Join(*outDir, fmt.Sprintf("%s-%s.parquet", e.name, *record))
			if err := e.write(path); err != nil {
				return err
			}
			fmt.Printf("exported %s\n", path)
		}
	default:
		return fmt.Errorf("unknown format: %s", *format)
	}
	return nil
}

// multiSink fans one analysis out to several sinks, returning the first
// sink's record id.
type multiSink []report.Sink

func (m multiSink) Store(ctx context.Context, a *aggregate.Analysis) (report.RecordID, error) {
	var first report.RecordID
	for i, s := range m {
		id, err := s.Store(ctx, a)
		if err != nil {
			return "", err
		}
		if i == 0 {
			first = id
		}
	}
	return first, nil
}

