package provider

import "fmt"

// TransportError covers failures where the request never produced a usable
// response: timeouts, connection errors, 5xx, and 429 rate limits. These are
// retryable with backoff.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RequestError covers definitive API rejections such as 400, 401, and 403.
// The identical request would be rejected again, so these are not retried.
type RequestError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// ParseError covers responses that arrived but did not decode into a valid
// Result. Retrying the identical request rarely helps; callers retry once
// with stricter formatting instructions instead.
type ParseError struct {
	// Raw is a bounded prefix of the offending payload, kept for debug logs.
	Raw string

	// Usage is the token accounting for the failed attempt; the tokens
	// were spent even though the payload was unusable.
	Usage Usage

	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse analysis response: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
