package llm

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrEmptyResponse is returned for a blank model answer.
var ErrEmptyResponse = errors.New("empty model response")

// ParseJSONResponse parses a JSON object from an LLM answer, handling
// markdown code blocks and prose around the object.
func ParseJSONResponse(text string) (map[string]any, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyResponse
	}

	raw := text

	// Strip markdown code fences
	if strings.HasPrefix(text, "```") {
		lines := strings.Split(text, "\n")
		endIdx := len(lines)
		for i := len(lines) - 1; i > 0; i-- {
			if strings.TrimSpace(lines[i]) == "```" {
				endIdx = i
				break
			}
		}
		text = strings.Join(lines[1:endIdx], "\n")
	}

	var result map[string]any
	err := json.Unmarshal([]byte(text), &result)
	if err == nil {
		return result, nil
	}

	start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		if err2 := json.Unmarshal([]byte(raw[start:end+1]), &result); err2 == nil {
			return result, nil
		}
	}
	return nil, eris.Wrap(err, "parsing model response as JSON")
}

// String returns m[key] as a trimmed string, or fallback.
func String(m map[string]any, key, fallback string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return fallback
}

// Float returns m[key] as a number. Numeric strings are accepted.
func Float(m map[string]any, key string) (float64, bool) {
	switch n := m[key].(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		var f float64
		if err := json.Unmarshal([]byte(strings.TrimSpace(n)), &f); err == nil {
			return f, true
		}
	}
	return 0, false
}

// Bool returns m[key] as a bool; "true"/"yes" strings count as true.
func Bool(m map[string]any, key string) bool {
	switch b := m[key].(type) {
	case bool:
		return b
	case string:
		s := strings.ToLower(strings.TrimSpace(b))
		return s == "true" || s == "yes"
	}
	return false
}

// Strings returns the string elements of m[key] when it is an array.
func Strings(m map[string]any, key string) []string {
	arr, ok := m[key].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, v := range arr {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}
