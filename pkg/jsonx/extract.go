// Package jsonx pulls JSON documents out of LLM responses: code fences
// are stripped, the outermost brace pair is located, and truncated
// trailing output is repaired before decoding.
package jsonx

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoJSON indicates no JSON document could be located in the text.
var ErrNoJSON = errors.New("no JSON document found in response")

// Extract returns the JSON document embedded in an LLM response. Fenced
// blocks win over bare braces; without either, the span from the first
// '{' to the last '}' (or '[' to ']') is used. Truncated documents are
// trimmed back to the last closing brace.
func Extract(text string) (string, error) {
	candidate := stripFences(text)

	start, end := span(candidate, '{', '}')
	if start < 0 {
		start, end = span(candidate, '[', ']')
	}
	if start < 0 {
		return "", ErrNoJSON
	}
	candidate = strings.TrimSpace(candidate[start : end+1])
	return repair(candidate), nil
}

// Decode extracts the JSON document from text and unmarshals it into v.
func Decode(text string, v any) error {
	doc, err := Extract(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(doc), v); err != nil {
		// A repaired document may still be short one closer; try once
		// with the missing braces appended.
		closed := closeBraces(doc)
		if closed != doc {
			if err2 := json.Unmarshal([]byte(closed), v); err2 == nil {
				return nil
			}
		}
		return err
	}
	return nil
}

func stripFences(text string) string {
	if i := strings.Index(text, "```json"); i >= 0 {
		rest := text[i+len("```json"):]
		if j := strings.Index(rest, "```"); j >= 0 {
			return rest[:j]
		}
		return rest
	}
	if i := strings.Index(text, "```"); i >= 0 {
		rest := text[i+3:]
		if j := strings.Index(rest, "```"); j >= 0 {
			return rest[:j]
		}
		return rest
	}
	return text
}

func span(text string, open, close byte) (int, int) {
	start := strings.IndexByte(text, open)
	if start < 0 {
		return -1, -1
	}
	end := strings.LastIndexByte(text, close)
	if end <= start {
		// Truncated output with no closer at all still yields the span
		// to the end; repair appends closers later.
		return start, len(text) - 1
	}
	return start, end
}

// repair trims a document that does not end with a closer back to its
// last closing brace.
func repair(doc string) string {
	if strings.HasSuffix(doc, "}") || strings.HasSuffix(doc, "]") {
		return doc
	}
	if last := strings.LastIndexByte(doc, '}'); last > 0 {
		return doc[:last+1]
	}
	return doc
}

// closeBraces appends the closers needed to balance an otherwise
// truncated document. String state is tracked so braces inside literals
// do not count.
func closeBraces(doc string) string {
	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(doc); i++ {
		c := doc[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			stack = append(stack, '}')
		case c == '[':
			stack = append(stack, ']')
		case c == '}' || c == ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	out := doc
	if inString {
		out += `"`
	}
	for i := len(stack) - 1; i >= 0; i-- {
		out += string(stack[i])
	}
	return out
}
