// Package membudget bounds the bytes of raw chunk text buffered between the
// splitter and the analysis workers.
//
// The bounded chunk queue limits the number of in-flight chunks; the budget
// limits their combined size, so a run over a file with very large lines
// cannot buffer an unbounded amount of text while workers are busy. The
// splitter reserves a chunk's byte size before enqueueing it and the worker
// releases it once the chunk's summary is written.
package membudget

import (
	"context"
	"fmt"
	"sync"

	"github.com/logsift/logsift/pkg/sysmem"
)

// DefaultBudgetBytes is the fallback budget when system RAM cannot be
// detected: 256 MB of buffered chunk text is far more than any sane
// chunk-queue configuration needs.
const DefaultBudgetBytes uint64 = 256 * 1024 * 1024

// Source indicates how the budget was determined.
type Source string

const (
	// SourceAutoRAM indicates the budget was derived from detected RAM.
	SourceAutoRAM Source = "auto-ram"
	// SourceDefault indicates the budget used the fallback default.
	SourceDefault Source = "default"
	// SourceFlag indicates the budget was set via CLI flag.
	SourceFlag Source = "flag"
)

// Budget tracks reserved bytes against a fixed total. Reservations block
// until space frees up, giving the pipeline a memory-based backpressure
// layer in addition to queue capacity.
//
// Budget is safe for concurrent use.
type Budget struct {
	total  uint64
	source Source

	mu     sync.Mutex
	inUse  uint64
	wakeup chan struct{}
}

// New creates a Budget with the given total. A zero total falls back to
// DefaultBudgetBytes.
func New(total uint64, source Source) *Budget {
	if total == 0 {
		total = DefaultBudgetBytes
		source = SourceDefault
	}
	return &Budget{
		total:  total,
		source: source,
		wakeup: make(chan struct{}),
	}
}

// NewFromSystemRAM creates a Budget set to 1/16 of system RAM, which keeps
// buffered chunk text well clear of the memory the workers themselves need.
func NewFromSystemRAM() *Budget {
	result := sysmem.Total()
	if !result.Reliable {
		return New(DefaultBudgetBytes, SourceDefault)
	}
	return New(result.TotalBytes/16, SourceAutoRAM)
}

// Total returns the total budget in bytes.
func (b *Budget) Total() uint64 {
	return b.total
}

// InUse returns the currently reserved bytes.
func (b *Budget) InUse() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inUse
}

// Source returns how the budget was determined.
func (b *Budget) Source() Source {
	return b.source
}

// Reserve blocks until n bytes can be reserved or ctx is done. A single
// reservation larger than the whole budget is admitted alone rather than
// deadlocking: it waits for the budget to be empty, then proceeds.
func (b *Budget) Reserve(ctx context.Context, n uint64) error {
	for {
		b.mu.Lock()
		fits := b.inUse+n <= b.total || (n > b.total && b.inUse == 0)
		if fits {
			b.inUse += n
			b.mu.Unlock()
			return nil
		}
		wait := b.wakeup
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return fmt.Errorf("reserve %d bytes: %w", n, ctx.Err())
		case <-wait:
		}
	}
}

// TryReserve attempts to reserve n bytes without blocking.
func (b *Budget) TryReserve(n uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inUse+n > b.total && !(n > b.total && b.inUse == 0) {
		return false
	}
	b.inUse += n
	return true
}

// Release returns n bytes to the pool and wakes blocked reservations.
func (b *Budget) Release(n uint64) {
	b.mu.Lock()
	if n >= b.inUse {
		b.inUse = 0
	} else {
		b.inUse -= n
	}
	close(b.wakeup)
	b.wakeup = make(chan struct{})
	b.mu.Unlock()
}
