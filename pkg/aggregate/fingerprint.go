package aggregate

import (
	"regexp"
	"strings"

	"github.com/logsift/logsift/pkg/provider"
)

// Pattern descriptions from the provider embed literal values (ids, counts,
// addresses) that differ between chunks even when the underlying error is
// the same. Fingerprinting elides literals so cross-chunk merge identity
// depends only on the error's shape:
//
//	lowercase
//	quoted strings        -> "…"
//	uuid / long hex runs  -> #
//	number runs           -> #
//	whitespace            -> single space
//
// Identity is pattern_type joined with the normalized template.
var (
	quotedRe = regexp.MustCompile(`"[^"]*"|'[^']*'`)
	uuidRe   = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	hexRe    = regexp.MustCompile(`\b(0x)?[0-9a-f]{8,}\b`)
	numRe    = regexp.MustCompile(`\d+(\.\d+)?`)
	spaceRe  = regexp.MustCompile(`\s+`)
)

// Fingerprint returns the merge identity for a pattern.
func Fingerprint(p provider.Pattern) string {
	return strings.ToLower(strings.TrimSpace(p.PatternType)) + "|" + normalizeTemplate(p.Description)
}

// normalizeTemplate reduces a description to its literal-free template.
func normalizeTemplate(desc string) string {
	s := strings.ToLower(strings.TrimSpace(desc))
	s = quotedRe.ReplaceAllString(s, `"…"`)
	s = uuidRe.ReplaceAllString(s, "#")
	s = hexRe.ReplaceAllString(s, "#")
	s = numRe.ReplaceAllString(s, "#")
	s = spaceRe.ReplaceAllString(s, " ")
	return s
}

// normalizeOperation is the merge identity for performance issues.
func normalizeOperation(op string) string {
	return normalizeTemplate(op)
}
