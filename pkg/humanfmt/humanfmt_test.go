package humanfmt

import (
	"testing"
	"time"
)

func TestBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.00 KiB"},
		{1536, "1.50 KiB"},
		{5 * MiB, "5.00 MiB"},
		{3 * GiB, "3.00 GiB"},
		{2 * TiB, "2.00 TiB"},
		{-7, "-7 B"},
	}
	for _, tt := range tests {
		if got := Bytes(tt.in); got != tt.want {
			t.Errorf("Bytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{90 * time.Second, "1m30s"},
		{2 * time.Minute, "2m"},
		{2*time.Hour + 15*time.Minute, "2h15m"},
		{1500 * time.Millisecond, "1.50s"},
		{45600 * time.Microsecond, "45.6ms"},
	}
	for _, tt := range tests {
		if got := Duration(tt.in); got != tt.want {
			t.Errorf("Duration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCount(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{789, "789"},
		{456_000, "456.00K"},
		{1_230_000, "1.23M"},
		{2_500_000_000, "2.50B"},
	}
	for _, tt := range tests {
		if got := Count(tt.in); got != tt.want {
			t.Errorf("Count(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCost(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{125, "$0.000125"},
		{45_000, "$0.0450"},
		{2_500_000, "$2.50"},
		{150_000_000, "$150"},
	}
	for _, tt := range tests {
		if got := Cost(tt.in); got != tt.want {
			t.Errorf("Cost(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
