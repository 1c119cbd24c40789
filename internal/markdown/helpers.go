package markdown

import "strings"

// Taken from https://core.telegram.org/bots/api#markdownv2-style.
const (
	mdV2SpecialChars  = `\_*[]()~` + "`" + `>#+-=|{}.!`
	mdV2LinkURLChars  = `)\`
	mdV2CodeChars     = "`\\"
	mdV2EscapedLength = 2
)

//nolint:gochecknoglobals // Lookup tables meant to be immutable.
var (
	mdV2Lookup     = lookup(mdV2SpecialChars)
	mdV2LinkLookup = lookup(mdV2LinkURLChars)
	mdV2CodeLookup = lookup(mdV2CodeChars)
)

// EscapeV2 escapes text for MarkdownV2 outside of entities.
func EscapeV2(input string) string {
	return escape(input, &mdV2Lookup)
}

// EscapeLinkURL escapes the URL part of an inline link: [text](url).
func EscapeLinkURL(input string) string {
	return escape(input, &mdV2LinkLookup)
}

// EscapeCode escapes text placed inside `code` or ```pre``` entities.
func EscapeCode(input string) string {
	return escape(input, &mdV2CodeLookup)
}

// Link renders an inline link with escaped text and URL.
func Link(text string, url string) string {
	return "[" + EscapeV2(text) + "](" + EscapeLinkURL(url) + ")"
}

// TrimEscaped cuts escaped text to at most maxRunes without leaving a dangling backslash.
func TrimEscaped(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}

	cut := string(runes[:max(maxRunes, 0)])

	trailing := len(cut) - len(strings.TrimRight(cut, `\`))
	if trailing%mdV2EscapedLength == 1 {
		cut = cut[:len(cut)-1]
	}

	return cut
}

func escape(input string, table *[256]bool) string {
	charsToEscape := 0

	for i := range len(input) {
		if table[input[i]] {
			charsToEscape++
		}
	}

	if charsToEscape == 0 {
		return input
	}

	var b strings.Builder
	b.Grow(len(input) + charsToEscape)

	for i := range len(input) {
		c := input[i]
		if table[c] {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}

	return b.String()
}

func lookup(chars string) [256]bool {
	var m [256]bool
	for i := range len(chars) {
		m[chars[i]] = true
	}
	return m
}
