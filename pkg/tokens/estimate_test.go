package tokens

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/logsift/logsift/pkg/logsource"
)

func TestEstimate(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"hello", 1},
		{"hello world", 2},
		{"GET /api/users 200", 6},        // GET, /, api, /, users, 200
		{"error: connection refused", 4}, // error, :, connection, refused
	}
	for _, tt := range tests {
		if got := Estimate(tt.in); got != tt.want {
			t.Errorf("Estimate(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestEstimate_BlobFloor(t *testing.T) {
	// One long alphanumeric run would count as 1 token without the floor.
	blob := strings.Repeat("a", 800)
	got := Estimate(blob)
	if got != 100 {
		t.Errorf("Estimate(800-byte blob) = %d, want floor 100", got)
	}
}

func openFixture(t *testing.T, content string) *logsource.Source {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.log")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	src, err := logsource.Open(path)
	if err != nil {
		t.Fatalf("open source: %v", err)
	}
	return src
}

func TestEstimateSource_Extrapolates(t *testing.T) {
	line := "2024-01-01T00:00:00Z INFO request handled path=/api/users status=200\n"
	src := openFixture(t, strings.Repeat(line, 1000))

	// Sample only part of the file; the extrapolation covers all of it.
	est, err := EstimateSource(src, 4096)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if est.SampleBytes != 4096 {
		t.Errorf("sample bytes = %d, want 4096", est.SampleBytes)
	}
	if est.BytesPerToken <= 0 {
		t.Fatalf("bytes per token = %f", est.BytesPerToken)
	}

	// The file is uniform, so full-file estimate and extrapolation should
	// agree within a few percent.
	direct := int64(Estimate(strings.Repeat(line, 1000)))
	diff := est.TotalTokens - direct
	if diff < 0 {
		diff = -diff
	}
	if diff*20 > direct {
		t.Errorf("extrapolated %d vs direct %d: off by more than 5%%", est.TotalTokens, direct)
	}
}

func TestEstimateSource_Empty(t *testing.T) {
	src := openFixture(t, "")
	est, err := EstimateSource(src, 0)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if est.TotalTokens != 0 {
		t.Errorf("empty source estimated %d tokens", est.TotalTokens)
	}
}

func TestDecide_Routes(t *testing.T) {
	line := "2024-01-01T00:00:00Z ERROR db timeout shard=3\n"
	small := openFixture(t, strings.Repeat(line, 10))
	big := openFixture(t, strings.Repeat(line, 5000))

	d, err := Decide(small, 1000, 0)
	if err != nil {
		t.Fatalf("decide small: %v", err)
	}
	if d.Route != RouteDirect {
		t.Errorf("small source routed %s, want direct", d.Route)
	}

	d, err = Decide(big, 1000, 0)
	if err != nil {
		t.Fatalf("decide big: %v", err)
	}
	if d.Route != RouteChunked {
		t.Errorf("big source routed %s, want chunked", d.Route)
	}
}

func TestDecide_MissingSourceIsFatal(t *testing.T) {
	src := &logsource.Source{Path: filepath.Join(t.TempDir(), "gone.log"), Size: 10}
	if _, err := Decide(src, 0, 0); err == nil {
		t.Fatal("expected error for unreadable source")
	}
}
