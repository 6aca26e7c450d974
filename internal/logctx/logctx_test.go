package logctx

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestFromContext_NoLogger(t *testing.T) {
	// Must not panic and must return a usable logger.
	log := FromContext(context.Background())
	log.Info().Msg("ok")

	log = FromContext(nil) //nolint:staticcheck // nil context is part of the contract
	log.Info().Msg("ok")
}

func TestWithLogger_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithLogger(context.Background(), base)
	log := FromContext(ctx)
	log.Info().Msg("hello")

	if !strings.Contains(buf.String(), "hello") {
		t.Errorf("expected message in buffer, got %s", buf.String())
	}
}

func TestWithFields_Propagate(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithLogger(context.Background(), base)
	ctx = WithStr(ctx, "run_id", "r42")
	ctx = WithInt(ctx, "chunk_index", 7)

	log := FromContext(ctx)
	log.Info().Msg("chunk")

	out := buf.String()
	if !strings.Contains(out, `"run_id":"r42"`) {
		t.Errorf("expected run_id field, got %s", out)
	}
	if !strings.Contains(out, `"chunk_index":7`) {
		t.Errorf("expected chunk_index field, got %s", out)
	}
}
