package analyzer

// DefaultInstructions is the per-chunk analysis prompt. The provider is
// asked for a single JSON object matching the Result schema.
const DefaultInstructions = `You are analyzing a segment of an application log file. ` +
	`Identify recurring error patterns, API endpoints, and performance issues.

Respond with a single JSON object and nothing else, using this schema:
{
  "error_patterns": [
    {"pattern_type": "<category such as database_error, timeout, auth_failure>",
     "description": "<one-line description of the recurring error>",
     "severity": "critical" | "high" | "medium" | "low",
     "frequency": <occurrence count in this segment>}
  ],
  "api_endpoints": [
    {"method": "<HTTP method>", "path": "<request path>",
     "status_codes": [<observed status codes>],
     "slow_call_count": <calls noticeably slower than typical>,
     "max_latency_ms": <highest observed latency in milliseconds, 0 if unknown>}
  ],
  "performance_issues": [
    {"operation": "<short identifier of the slow operation>",
     "description": "<what is slow and why>",
     "count": <occurrence count>}
  ],
  "summary": "<two or three sentences on the overall health of this segment>"
}

Use empty arrays for categories with no findings. The log segment follows.`

// strictInstructions is appended for the reformat retry after a parse
// failure.
const strictInstructions = DefaultInstructions + `

IMPORTANT: the previous response could not be parsed. Output ONLY the raw
JSON object. No markdown fences, no commentary, no text before or after the
object.`
