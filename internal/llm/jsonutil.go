package llm

import (
	"regexp"
	"strings"
)

var (
	// fencePattern matches the body of a markdown code block, optionally tagged json
	fencePattern = regexp.MustCompile("(?s)```(?:json|JSON)?[ \\t]*\\n?(.*?)```")
	// trailingCommaPattern matches trailing commas before ] or }.
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

// ExtractJSON extracts a JSON object from a model response that may wrap it
// in prose or code fences. Returns "" when no object is present.
func ExtractJSON(content string) string {
	return extract(content, '{', '}')
}

// ExtractJSONArray extracts a JSON array from a model response.
func ExtractJSONArray(content string) string {
	return extract(content, '[', ']')
}

func extract(content string, open, close byte) string {
	for _, m := range fencePattern.FindAllStringSubmatch(content, -1) {
		body := strings.TrimSpace(m[1])
		if len(body) > 0 && body[0] == open {
			if block := balanced(body, open, close); block != "" {
				return cleanJSON(block)
			}
		}
	}

	if block := balanced(content, open, close); block != "" {
		return cleanJSON(block)
	}

	// Truncated output: take everything from the first opener to the last closer
	start := strings.IndexByte(content, open)
	end := strings.LastIndexByte(content, close)
	if start >= 0 && end > start {
		return cleanJSON(content[start : end+1])
	}
	return ""
}

// balanced returns the first complete open..close block, respecting strings
func balanced(s string, open, close byte) string {
	start := strings.IndexByte(s, open)
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == open:
			depth++
		case ch == close:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// cleanJSON removes // comments and trailing commas, which models commonly emit.
func cleanJSON(raw string) string {
	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		lines[i] = stripLineComment(line)
	}
	return trailingCommaPattern.ReplaceAllString(strings.Join(lines, "\n"), "$1")
}

// stripLineComment removes a // comment outside of string values.
//
//	"url": "http://example.com" // source  ->  "url": "http://example.com"
func stripLineComment(line string) string {
	if !strings.Contains(line, "//") {
		return line
	}

	inString := false
	escaped := false
	for i := 0; i < len(line); i++ {
		ch := line[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if !inString && ch == '/' && i+1 < len(line) && line[i+1] == '/' {
			return strings.TrimRight(line[:i], " \t")
		}
	}
	return line
}
