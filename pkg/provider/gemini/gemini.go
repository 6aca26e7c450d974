// Package gemini implements the provider.Analyzer contract over the Google
// GenAI SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/logsift/logsift/pkg/provider"
)

const (
	// DefaultModel balances context window size against per-token cost for
	// bulk log analysis.
	DefaultModel = "gemini-2.5-flash"

	defaultMaxOutputTokens = 8192
)

// Config configures a Client. Zero values are backfilled by New.
type Config struct {
	APIKey          string
	Model           string
	MaxOutputTokens int32
	Temperature     float32
}

// Client calls the Gemini API and maps its failures onto the provider error
// taxonomy. Safe for concurrent use.
type Client struct {
	client          *genai.Client
	model           string
	maxOutputTokens int32
	temperature     float32
}

// New creates a Gemini-backed analyzer.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = defaultMaxOutputTokens
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Client{
		client:          client,
		model:           cfg.Model,
		maxOutputTokens: cfg.MaxOutputTokens,
		temperature:     cfg.Temperature,
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

// Analyze sends one chunk of log text for analysis. The caller supplies the
// instruction template and owns the per-call timeout on ctx.
func (c *Client) Analyze(ctx context.Context, chunkText, instructions string) (*provider.Result, error) {
	var prompt strings.Builder
	prompt.WriteString(instructions)
	prompt.WriteString("\n\n")
	prompt.WriteString(chunkText)

	resp, err := c.client.Models.GenerateContent(ctx,
		c.model,
		genai.Text(prompt.String()),
		&genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
			MaxOutputTokens:  c.maxOutputTokens,
			Temperature:      genai.Ptr(c.temperature),
		},
	)
	if err != nil {
		return nil, classify(err)
	}

	raw := resp.Text()
	if raw == "" {
		return nil, &provider.ParseError{Err: fmt.Errorf("empty response")}
	}

	res, err := provider.DecodeResult(raw)
	if err != nil {
		var perr *provider.ParseError
		if errors.As(err, &perr) {
			perr.Usage = usageFrom(resp)
		}
		return nil, err
	}
	res.Usage = usageFrom(resp)
	return res, nil
}

func usageFrom(resp *genai.GenerateContentResponse) provider.Usage {
	if resp.UsageMetadata == nil {
		return provider.Usage{}
	}
	return provider.Usage{
		InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
		OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
	}
}

// classify maps SDK failures onto the provider taxonomy. Timeouts, 5xx,
// and rate limits are transport errors and get the backoff cycle; definitive
// rejections like 400 and 401 fail the chunk on the first attempt.
func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if retryableStatus(apiErr.Code) {
			return &provider.TransportError{
				Op:         "generate content",
				StatusCode: apiErr.Code,
				Err:        err,
			}
		}
		return &provider.RequestError{
			Op:         "generate content",
			StatusCode: apiErr.Code,
			Err:        err,
		}
	}
	return &provider.TransportError{Op: "generate content", Err: err}
}

func retryableStatus(code int) bool {
	switch {
	case code >= 500:
		return true
	case code == 429 || code == 408:
		return true
	case code == 0:
		// No status recorded, likely a connection-level failure.
		return true
	}
	return false
}
