package suggestion

import (
	"errors"

	"github.com/tidwall/gjson"
)

// Bounds on ExtractJSON's work. Replies longer than maxExtractBytes are
// searched only in their prefix, and at most maxExtractStarts opening braces
// are tried, so a reply of unmatched braces costs linear time.
const (
	maxExtractBytes  = 64 << 10
	maxExtractStarts = 32
)

// ExtractJSON returns the first balanced {...} span in raw that is a valid
// JSON object. Markdown fences and surrounding prose are skipped. Braces
// inside JSON strings do not count toward nesting.
func ExtractJSON(raw string) (string, bool) {
	if len(raw) > maxExtractBytes {
		raw = raw[:maxExtractBytes]
	}
	tries := 0
	for start := 0; start < len(raw) && tries < maxExtractStarts; start++ {
		if raw[start] != '{' {
			continue
		}
		tries++
		end := matchBrace(raw, start)
		if end < 0 {
			continue
		}
		candidate := raw[start : end+1]
		if gjson.Valid(candidate) && gjson.Parse(candidate).IsObject() {
			return candidate, true
		}
	}
	return "", false
}

// matchBrace returns the index of the brace closing the one at start, or -1.
func matchBrace(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
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
				return i
			}
		}
	}
	return -1
}

// Parse recovers a Suggestion from a raw model reply. It fails with
// *MalformedResponseError when no JSON object is present and with
// *ValidationError when the object does not satisfy the schema. Both carry
// the raw reply.
func Parse(raw string) (Suggestion, error) {
	candidate, ok := ExtractJSON(raw)
	if !ok {
		return Suggestion{}, &MalformedResponseError{Raw: raw}
	}

	obj := gjson.Parse(candidate)
	text := obj.Get("suggestion")
	if text.Type != gjson.String {
		return Suggestion{}, &ValidationError{Field: "suggestion", Reason: "missing or not a string", Raw: raw}
	}
	priority := obj.Get("predictedPriority")
	if priority.Type != gjson.String {
		return Suggestion{}, &ValidationError{Field: "predictedPriority", Reason: "missing or not a string", Raw: raw}
	}

	s, err := New(text.String(), priority.String())
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			ve.Raw = raw
		}
		return Suggestion{}, err
	}
	return s, nil
}
