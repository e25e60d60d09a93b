package usecase

import (
	"encoding/json"
	"regexp"
	"strings"
)

// modelOutput is the tagged result of reading model text. It is either a
// parsedOutput holding a decoded JSON object or a fallbackOutput carrying the
// text that could not be decoded.
type modelOutput interface {
	rawText() string
}

type parsedOutput struct {
	fields map[string]json.RawMessage
	raw    string
}

type fallbackOutput struct {
	text string
}

func (p parsedOutput) rawText() string   { return p.raw }
func (f fallbackOutput) rawText() string { return f.text }

var fencedBlock = regexp.MustCompile("(?is)```(?:json)?\\s*(.*?)\\s*```")

// extractFenced decodes the first fenced code block, or the whole text when
// there is none.
func extractFenced(raw string) modelOutput {
	raw = strings.TrimSpace(raw)
	candidate := raw
	if m := fencedBlock.FindStringSubmatch(raw); m != nil {
		candidate = m[1]
	}
	return decodeObject(raw, candidate)
}

// extractBraced decodes the span from the first '{' to the last '}'.
func extractBraced(raw string) modelOutput {
	raw = strings.TrimSpace(raw)
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return fallbackOutput{text: raw}
	}
	return decodeObject(raw, raw[start:end+1])
}

func decodeObject(raw, candidate string) modelOutput {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(candidate)), &fields); err != nil || fields == nil {
		return fallbackOutput{text: raw}
	}
	return parsedOutput{fields: fields, raw: raw}
}

// str returns the trimmed string under key, or "" when absent or not a string.
func (p parsedOutput) str(key string) string {
	var s string
	if err := json.Unmarshal(p.fields[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func (p parsedOutput) boolean(key string) (bool, bool) {
	raw := p.fields[key]
	if string(raw) == "null" {
		return false, false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, false
	}
	return b, true
}

// strList returns the non-blank string elements of the array under key.
// A non-array value yields nil.
func (p parsedOutput) strList(key string) []string {
	var elems []json.RawMessage
	if err := json.Unmarshal(p.fields[key], &elems); err != nil {
		return nil
	}
	out := make([]string, 0, len(elems))
	for _, e := range elems {
		var s string
		if err := json.Unmarshal(e, &s); err == nil && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}
