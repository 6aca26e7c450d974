// Package report hands the finished analysis to a persistence collaborator.
// The reporter has exactly one job: store the immutable Analysis once and
// return the record's identity.
package report

import (
	"context"
	"fmt"
	"os"

	json "github.com/goccy/go-json"

	"github.com/logsift/logsift/pkg/aggregate"
)

// RecordID identifies a stored analysis.
type RecordID string

// Sink accepts one Analysis per run.
type Sink interface {
	Store(ctx context.Context, a *aggregate.Analysis) (RecordID, error)
}

// JSONSink writes the analysis as an indented JSON document to a file.
type JSONSink struct {
	Path string
}

// NewJSONSink creates a sink writing to path.
func NewJSONSink(path string) *JSONSink {
	return &JSONSink{Path: path}
}

func (s *JSONSink) Store(_ context.Context, a *aggregate.Analysis) (RecordID, error) {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode analysis: %w", err)
	}
	if err := os.WriteFile(s.Path, data, 0o644); err != nil {
		return "", fmt.Errorf("write analysis %s: %w", s.Path, err)
	}
	return RecordID(s.Path), nil
}
