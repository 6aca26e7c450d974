// Package tokens estimates provider token counts for log text.
//
// The provider's tokenizer is not available locally, so the pipeline uses a
// fixed approximation: a token is either a run of letters/digits or a single
// non-space punctuation character, with a floor of one token per 8 bytes so
// long unbroken runs (hashes, base64 blobs) still count. The router refines
// this by sampling a bounded prefix of the actual source to get an average
// bytes-per-token ratio, then extrapolates from total byte size.
package tokens

import (
	"fmt"
	"io"
	"os"
	"unicode"

	"github.com/logsift/logsift/pkg/logsource"
)

const (
	// DefaultSampleBytes is the prefix size sampled for ratio estimation.
	DefaultSampleBytes = 64 * 1024

	// fallbackBytesPerToken is used when the sample is empty.
	fallbackBytesPerToken = 4.0

	// floorBytesPerToken caps how cheap text can look: one token per this
	// many bytes, so blob-heavy logs never estimate near zero.
	floorBytesPerToken = 8
)

// Estimate counts approximate tokens in s.
func Estimate(s string) int {
	tokens := 0
	inRun := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if !inRun {
				tokens++
				inRun = true
			}
		case unicode.IsSpace(r):
			inRun = false
		default:
			tokens++
			inRun = false
		}
	}
	if floor := (len(s) + floorBytesPerToken - 1) / floorBytesPerToken; tokens < floor {
		tokens = floor
	}
	return tokens
}

// SourceEstimate holds a sampled extrapolation for a whole source.
type SourceEstimate struct {
	// SampleBytes is how many bytes were actually sampled.
	SampleBytes int64
	// SampleTokens is the token estimate for the sampled prefix.
	SampleTokens int
	// BytesPerToken is the sampled ratio used for extrapolation.
	BytesPerToken float64
	// TotalTokens is the extrapolated token count for the full source.
	TotalTokens int64
}

// EstimateSource samples a bounded prefix of the source and extrapolates the
// total token count from its byte size. sampleBytes <= 0 uses
// DefaultSampleBytes. Failure to read the sample is fatal to the run.
func EstimateSource(src *logsource.Source, sampleBytes int) (SourceEstimate, error) {
	if sampleBytes <= 0 {
		sampleBytes = DefaultSampleBytes
	}

	f, err := os.Open(src.Path)
	if err != nil {
		return SourceEstimate{}, fmt.Errorf("sample log source %s: %w", src.Path, err)
	}
	defer f.Close()

	buf := make([]byte, sampleBytes)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return SourceEstimate{}, fmt.Errorf("sample log source %s: %w", src.Path, err)
	}

	est := SourceEstimate{SampleBytes: int64(n)}
	if n == 0 {
		est.BytesPerToken = fallbackBytesPerToken
		return est, nil
	}

	est.SampleTokens = Estimate(string(buf[:n]))
	est.BytesPerToken = float64(n) / float64(est.SampleTokens)
	est.TotalTokens = int64(float64(src.Size) / est.BytesPerToken)
	return est, nil
}
