package composer

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kalambet/bugtriage/internal/retrieval"
)

// NoHistory is rendered in place of the context list when nothing similar
// was retrieved.
const NoHistory = "No relevant historical bugs found."

// SnippetLimit bounds the number of characters of each rendered body.
const SnippetLimit = 350

const elision = "..."

// RenderContext formats retrieved neighbours as a numbered list with one
// line per record: index, id and a body snippet. Newline runs inside a body
// become a single space before the snippet is cut to SnippetLimit.
func RenderContext(neighbors []retrieval.Neighbor) string {
	if len(neighbors) == 0 {
		return NoHistory
	}

	var sb strings.Builder
	for i, n := range neighbors {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%d. [%s] %s", i+1, n.ID, snippet(n.Body))
	}
	return sb.String()
}

func snippet(body string) string {
	s := collapseNewlines(strings.TrimSpace(body))
	if utf8.RuneCountInString(s) <= SnippetLimit {
		return s
	}
	runes := []rune(s)
	return string(runes[:SnippetLimit]) + elision
}

func collapseNewlines(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	inBreak := false
	for _, r := range s {
		if r == '\n' || r == '\r' {
			if !inBreak {
				sb.WriteByte(' ')
				inBreak = true
			}
			continue
		}
		inBreak = false
		sb.WriteRune(r)
	}
	return sb.String()
}
