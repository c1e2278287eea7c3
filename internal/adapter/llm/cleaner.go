package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

// ResponseCleaner recovers a JSON object from a model response that wrapped
// it in markdown fences or surrounding prose. It never invents content; it
// only strips and extracts.
type ResponseCleaner struct{}

// NewResponseCleaner creates a response cleaner.
func NewResponseCleaner() *ResponseCleaner { return &ResponseCleaner{} }

var trailingComma = regexp.MustCompile(`,(\s*[}\]])`)

// Recover attempts to extract a valid JSON object from the raw response.
// It returns the cleaned text and whether the result parses as JSON.
func (rc *ResponseCleaner) Recover(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if rc.valid(s) {
		return s, true
	}

	s = rc.stripFences(s)
	if rc.valid(s) {
		return s, true
	}

	s = rc.extractObject(s)
	if rc.valid(s) {
		return s, true
	}

	// Trailing commas are the most common residual defect.
	s = trailingComma.ReplaceAllString(s, "$1")
	return s, rc.valid(s)
}

func (rc *ResponseCleaner) valid(s string) bool {
	var v any
	return json.Unmarshal([]byte(s), &v) == nil
}

// stripFences removes ```json ... ``` markers, tolerating prose before and
// after the fenced block.
func (rc *ResponseCleaner) stripFences(s string) string {
	if i := strings.Index(s, "```json"); i >= 0 {
		s = s[i+len("```json"):]
	} else if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// extractObject cuts the substring from the first '{' to its matching '}'.
func (rc *ResponseCleaner) extractObject(s string) string {
	start := strings.Index(s, "{")
	if start < 0 {
		return s
	}
	depth := 0
	inStr := false
	esc := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	// Unbalanced; fall back to first-{ .. last-}.
	if end := strings.LastIndex(s, "}"); end > start {
		return s[start : end+1]
	}
	return s
}
