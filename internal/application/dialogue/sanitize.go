package dialogue

import (
	"regexp"
	"strings"
	"unicode"
)

var htmlLikeTag = regexp.MustCompile(`</?[a-zA-Z][a-zA-Z0-9_-]*(\s[^<>]*)?/?>`)

// sanitizeOutput strips control characters and HTML-like constructs from a
// provider's raw response and collapses runs of blank lines, matching the
// post-call validation step of the agent loop (§4.4 step 5).
func sanitizeOutput(text string) string {
	text = htmlLikeTag.ReplaceAllString(text, "")

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}

	return strings.TrimSpace(collapseBlankLines(b.String()))
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		trimmed := strings.TrimRight(line, " \t")
		if trimmed == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, trimmed)
	}
	return strings.Join(out, "\n")
}
