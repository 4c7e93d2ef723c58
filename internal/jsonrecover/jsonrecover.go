// Package jsonrecover extracts structured JSON from free-text model output.
//
// Model responses frequently wrap JSON in markdown fences or surround it
// with prose. Rather than ad hoc string slicing at every call site, recovery
// runs an ordered pipeline of strategies: direct parse, strip known wrapper
// markers, extract the first balanced JSON object. Each strategy is explicit
// and independently testable.
package jsonrecover

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON indicates that no strategy could recover a JSON document from
// the content.
var ErrNoJSON = errors.New("no recoverable JSON found")

// strategy attempts to isolate a JSON document from raw content. It returns
// the candidate text and whether the strategy applies at all.
type strategy func(content string) (string, bool)

var strategies = []strategy{
	direct,
	stripFences,
	firstBalancedObject,
}

// Extract returns the first JSON document recoverable from content, trying
// each strategy in order and validating the candidate parses.
func Extract(content string) (string, error) {
	for _, s := range strategies {
		candidate, ok := s(content)
		if !ok {
			continue
		}
		if json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}
	return "", ErrNoJSON
}

// Unmarshal recovers a JSON document from content and decodes it into v.
func Unmarshal(content string, v any) error {
	doc, err := Extract(content)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(doc), v); err != nil {
		return fmt.Errorf("decoding recovered JSON: %w", err)
	}
	return nil
}

// direct passes trimmed content through unchanged.
func direct(content string) (string, bool) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", false
	}
	return trimmed, true
}

// stripFences removes a leading/trailing markdown code fence.
func stripFences(content string) (string, bool) {
	trimmed := strings.TrimSpace(content)
	if !strings.Contains(trimmed, "```") {
		return "", false
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)
	if trimmed == "" {
		return "", false
	}
	return trimmed, true
}

// firstBalancedObject scans for the first balanced top-level JSON object,
// tracking string literals and escapes so braces inside strings do not
// confuse the balance count.
func firstBalancedObject(content string) (string, bool) {
	start := strings.IndexByte(content, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		c := content[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return content[start : i+1], true
			}
		}
	}
	return "", false
}
