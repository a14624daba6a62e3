package ai

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/fairyhunter13/ai-product-analyzer/internal/domain"
)

var (
	fencedBlockRe   = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")
	trailingCommaRe = regexp.MustCompile(`,(\s*[}\]])`)
	unquotedKeyRe   = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)\s*:`)
	boldRe          = regexp.MustCompile(`\*\*([^*]+)\*\*`)
)

// ResponseCleaner pulls a JSON object out of free-form model output.
type ResponseCleaner struct{}

// NewResponseCleaner creates a new response cleaner.
func NewResponseCleaner() *ResponseCleaner {
	return &ResponseCleaner{}
}

// CleanJSONResponse returns the best JSON object candidate found in response.
// Repairs are applied only when the extracted candidate does not parse, so
// well-formed text inside string values is never rewritten.
func (rc *ResponseCleaner) CleanJSONResponse(response string) string {
	candidate := rc.extractJSON(rc.removeMarkdownBlocks(response))
	if rc.IsValidJSON(candidate) {
		return candidate
	}
	return rc.fixCommonJSONIssues(candidate)
}

// removeMarkdownBlocks returns the body of the first fenced block, or the
// trimmed input when there is none.
func (rc *ResponseCleaner) removeMarkdownBlocks(response string) string {
	if m := fencedBlockRe.FindStringSubmatch(response); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(response)
}

// extractJSON slices the first balanced {...} object, skipping braces inside
// string literals. An unbalanced tail returns everything from the first brace.
func (rc *ResponseCleaner) extractJSON(response string) string {
	start := strings.Index(response, "{")
	if start == -1 {
		return response
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(response); i++ {
		ch := response[i]
		switch {
		case escaped:
			escaped = false
		case inString && ch == '\\':
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return response[start : i+1]
			}
		}
	}
	return response[start:]
}

// fixCommonJSONIssues repairs the usual model mistakes: markdown emphasis,
// backtick or single quotes, unquoted keys and trailing commas.
func (rc *ResponseCleaner) fixCommonJSONIssues(response string) string {
	response = boldRe.ReplaceAllString(response, `$1`)
	response = strings.ReplaceAll(response, "`", `"`)
	if !strings.Contains(response, `"`) {
		response = strings.ReplaceAll(response, "'", `"`)
	}
	response = unquotedKeyRe.ReplaceAllString(response, `$1"$2":`)
	response = trailingCommaRe.ReplaceAllString(response, "$1")
	return response
}

// IsValidJSON checks if a string is valid JSON.
func (rc *ResponseCleaner) IsValidJSON(response string) bool {
	return json.Valid([]byte(response))
}

// DecodeJSON cleans response and unmarshals it into v.
func (rc *ResponseCleaner) DecodeJSON(response string, v any) error {
	cleaned := rc.CleanJSONResponse(response)
	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return &JSONValidationError{
			Original: response,
			Cleaned:  cleaned,
			Message:  fmt.Sprintf("cleaned response is still not valid JSON: %v", err),
		}
	}
	return nil
}

// JSONValidationError reports model output that could not be repaired.
type JSONValidationError struct {
	Original string
	Cleaned  string
	Message  string
}

func (e *JSONValidationError) Error() string {
	return e.Message
}

// Unwrap lets callers match the error with domain.ErrSchemaInvalid.
func (e *JSONValidationError) Unwrap() error {
	return domain.ErrSchemaInvalid
}
