package provider

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
)

const rawPrefixLimit = 512

// DecodeResult parses a model response into a Result. Models occasionally
// wrap the JSON object in a fenced code block or prose despite the response
// mime type, so the payload is located before decoding. Returns *ParseError
// on anything that does not decode into a usable result.
func DecodeResult(raw string) (*Result, error) {
	payload, ok := extractJSON(raw)
	if !ok {
		return nil, &ParseError{
			Raw: truncateRaw(raw),
			Err: fmt.Errorf("no JSON object in response"),
		}
	}

	var res Result
	if err := json.Unmarshal([]byte(payload), &res); err != nil {
		return nil, &ParseError{Raw: truncateRaw(raw), Err: err}
	}

	for i, p := range res.Patterns {
		if !p.Severity.Valid() {
			return nil, &ParseError{
				Raw: truncateRaw(raw),
				Err: fmt.Errorf("pattern %d: unknown severity %q", i, p.Severity),
			}
		}
	}
	return &res, nil
}

// extractJSON locates the outermost JSON object in text, stripping a fenced
// code block if present.
func extractJSON(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if fenced, ok := stripFence(text); ok {
		text = fenced
	}
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

func stripFence(text string) (string, bool) {
	if !strings.HasPrefix(text, "```") {
		return "", false
	}
	body := text[3:]
	if strings.HasPrefix(body, "json") {
		body = body[4:]
	}
	end := strings.Index(body, "```")
	if end < 0 {
		return strings.TrimSpace(body), true
	}
	return strings.TrimSpace(body[:end]), true
}

func truncateRaw(raw string) string {
	if len(raw) > rawPrefixLimit {
		return raw[:rawPrefixLimit]
	}
	return raw
}
