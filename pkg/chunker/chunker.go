// Package chunker splits a log line stream into token-budget-bounded chunks.
//
// Chunks respect line boundaries, carry their exact line and byte ranges,
// and are emitted as soon as a boundary condition is hit, so downstream
// analysis starts before the source is fully read.
package chunker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/logsift/logsift/pkg/logsource"
	"github.com/logsift/logsift/pkg/membudget"
	"github.com/logsift/logsift/pkg/tokens"
)

// Chunk is a contiguous, line-boundary-respecting slice of the source.
// Chunk indices are contiguous from the splitter's first index; line ranges
// across all chunks exactly partition the source's lines.
type Chunk struct {
	Index     int
	StartLine int
	EndLine   int
	ByteStart int64
	ByteEnd   int64
	EstTokens int
	Text      string
}

// Config configures a Splitter.
type Config struct {
	// TokenBudget closes a chunk before its estimated tokens would exceed
	// this value. Default: DefaultTokenBudget.
	TokenBudget int

	// LineCap closes a chunk when it reaches this many lines, whichever
	// of the two limits triggers first. Default: DefaultLineCap.
	LineCap int

	// FirstIndex is the index assigned to the first emitted chunk. A
	// resumed run passes the count of chunks already terminal so indices
	// line up with the existing store.
	FirstIndex int

	// Budget optionally bounds the total bytes of chunk text in flight:
	// each chunk's size is reserved before it is enqueued and released by
	// the worker that finishes it.
	Budget *membudget.Budget
}

const (
	// DefaultTokenBudget fits comfortably inside a per-chunk prompt with
	// the instruction template and response headroom.
	DefaultTokenBudget = 6000

	// DefaultLineCap bounds chunk size for token-sparse lines.
	DefaultLineCap = 500
)

// Splitter consumes a LineReader and emits chunks. It is the single-threaded
// producer half of the pipeline; lines and chunks are emitted strictly in
// source order.
type Splitter struct {
	reader *logsource.LineReader
	cfg    Config
}

// New creates a Splitter over the given reader.
func New(reader *logsource.LineReader, cfg Config) *Splitter {
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = DefaultTokenBudget
	}
	if cfg.LineCap <= 0 {
		cfg.LineCap = DefaultLineCap
	}
	return &Splitter{reader: reader, cfg: cfg}
}

// Split reads lines until EOF and sends chunks on out, returning the number
// of chunks emitted. It does not close out; the caller owns the channel.
// The error is nil on a fully consumed source, otherwise the first read
// error. Chunks emitted before an error still carry correct ranges, so a
// mid-stream failure degrades coverage instead of invalidating prior work.
func (s *Splitter) Split(ctx context.Context, out chan<- Chunk) (int, error) {
	var (
		buf       strings.Builder
		index     = s.cfg.FirstIndex
		startLine = 0
		byteStart = int64(-1)
		endLine   = 0
		byteEnd   = int64(0)
		estTokens = 0
		lineCount = 0
	)

	flush := func() error {
		if lineCount == 0 {
			return nil
		}
		chunk := Chunk{
			Index:     index,
			StartLine: startLine,
			EndLine:   endLine,
			ByteStart: byteStart,
			ByteEnd:   byteEnd,
			EstTokens: estTokens,
			Text:      buf.String(),
		}
		if s.cfg.Budget != nil {
			if err := s.cfg.Budget.Reserve(ctx, uint64(len(chunk.Text))); err != nil {
				return err
			}
		}
		select {
		case out <- chunk:
		case <-ctx.Done():
			if s.cfg.Budget != nil {
				s.cfg.Budget.Release(uint64(len(chunk.Text)))
			}
			return ctx.Err()
		}
		index++
		buf.Reset()
		startLine = 0
		byteStart = -1
		estTokens = 0
		lineCount = 0
		return nil
	}

	for {
		line, err := s.reader.Next()
		if errors.Is(err, io.EOF) {
			if ferr := flush(); ferr != nil {
				return index - s.cfg.FirstIndex, ferr
			}
			return index - s.cfg.FirstIndex, nil
		}
		if err != nil {
			if ferr := flush(); ferr != nil {
				return index - s.cfg.FirstIndex, ferr
			}
			return index - s.cfg.FirstIndex, fmt.Errorf("split: %w", err)
		}

		lineTokens := tokens.Estimate(line.Text)

		// Close the open chunk before this line would blow the budget.
		// A single oversized line still becomes its own chunk.
		if lineCount > 0 && estTokens+lineTokens > s.cfg.TokenBudget {
			if err := flush(); err != nil {
				return index - s.cfg.FirstIndex, err
			}
		}

		if lineCount == 0 {
			startLine = line.Number
			byteStart = line.Offset
		}
		buf.WriteString(line.Text)
		buf.WriteByte('\n')
		endLine = line.Number
		byteEnd = line.Offset + line.RawBytes
		estTokens += lineTokens
		lineCount++

		if lineCount >= s.cfg.LineCap || estTokens >= s.cfg.TokenBudget {
			if err := flush(); err != nil {
				return index - s.cfg.FirstIndex, err
			}
		}
	}
}
