package synthesis

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	fencedCodePattern   = regexp.MustCompile("(?s)```.*?```")
	inlineCodePattern   = regexp.MustCompile("`[^`]*`")
	markdownLinkPattern = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	bareURLPattern      = regexp.MustCompile(`https?://\S+`)
)

// SpeakableText strips markdown, links, code and emoji from an assistant reply
// and collapses whitespace, leaving text that reads naturally aloud.
func SpeakableText(raw string) string {
	s := fencedCodePattern.ReplaceAllString(raw, " ")
	s = inlineCodePattern.ReplaceAllString(s, " ")
	s = markdownLinkPattern.ReplaceAllString(s, "$1")
	s = bareURLPattern.ReplaceAllString(s, " ")

	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range s {
		switch {
		case unicode.Is(unicode.Cf, r), unicode.Is(unicode.Variation_Selector, r), unicode.IsControl(r) && !unicode.IsSpace(r):
			continue
		case unicode.IsLetter(r), unicode.IsDigit(r), keepsPunctuation(r):
			if pendingSpace && b.Len() > 0 && !closesClause(r) {
				b.WriteByte(' ')
			}
			b.WriteRune(r)
			pendingSpace = false
		default:
			// Whitespace, markup characters and symbols all separate words.
			pendingSpace = true
		}
	}
	return b.String()
}

func keepsPunctuation(r rune) bool {
	return strings.ContainsRune(`.,!?:;'"-()«»—`, r)
}

func closesClause(r rune) bool {
	return strings.ContainsRune(`.,!?:;)`, r)
}
