// Package mock provides a scriptable in-process Analyzer for tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/logsift/logsift/pkg/provider"
)

// Call records one Analyze invocation.
type Call struct {
	ChunkText    string
	Instructions string
}

// Provider implements provider.Analyzer with scripted responses. The zero
// value returns an empty successful result for every call. Safe for
// concurrent use.
type Provider struct {
	// Result is returned for every successful call when ResultFn is nil.
	Result *provider.Result

	// ResultFn, if set, computes the result from the chunk text.
	ResultFn func(chunkText string) *provider.Result

	// Script holds per-call outcomes: Script[i] is the error returned by
	// call i (nil means success). Calls beyond the script succeed.
	Script []error

	// Delay is slept inside each call, holding worker slots open so tests
	// can observe real concurrency.
	Delay time.Duration

	// ModelName overrides the reported model identifier.
	ModelName string

	mu        sync.Mutex
	calls     []Call
	inFlight  int
	highWater int
}

func (m *Provider) Model() string {
	if m.ModelName != "" {
		return m.ModelName
	}
	return "mock-model"
}

func (m *Provider) Analyze(ctx context.Context, chunkText, instructions string) (*provider.Result, error) {
	m.mu.Lock()
	seq := len(m.calls)
	m.calls = append(m.calls, Call{ChunkText: chunkText, Instructions: instructions})
	m.inFlight++
	if m.inFlight > m.highWater {
		m.highWater = m.inFlight
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, &provider.TransportError{Op: "mock analyze", Err: ctx.Err()}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, &provider.TransportError{Op: "mock analyze", Err: err}
	}

	if seq < len(m.Script) && m.Script[seq] != nil {
		return nil, m.Script[seq]
	}

	if m.ResultFn != nil {
		res := m.ResultFn(chunkText)
		return res, nil
	}
	if m.Result != nil {
		cp := *m.Result
		return &cp, nil
	}
	return &provider.Result{Usage: provider.Usage{InputTokens: 1, OutputTokens: 1}}, nil
}

// Calls returns a copy of all recorded invocations.
func (m *Provider) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallCount returns the number of Analyze invocations so far.
func (m *Provider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// MaxConcurrent returns the high-water mark of simultaneous in-flight calls.
func (m *Provider) MaxConcurrent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.highWater
}
