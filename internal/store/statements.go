package store

import "strings"

// hasTrailingStatement reports whether text holds another statement after a
// top-level semicolon. Quoted identifiers, string literals and comments are
// skipped.
func hasTrailingStatement(text string) bool {
	terminated := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			if terminated {
				return true
			}
			i = skipQuoted(text, i, c)
		case c == '[':
			if terminated {
				return true
			}
			i = skipQuoted(text, i, ']')
		case c == '-' && strings.HasPrefix(text[i:], "--"):
			if j := strings.IndexByte(text[i:], '\n'); j >= 0 {
				i += j
			} else {
				i = len(text)
			}
		case c == '/' && strings.HasPrefix(text[i:], "/*"):
			if j := strings.Index(text[i+2:], "*/"); j >= 0 {
				i += j + 3
			} else {
				i = len(text)
			}
		case c == ';':
			terminated = true
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f':
		default:
			if terminated {
				return true
			}
		}
	}
	return false
}

// skipQuoted returns the index of the quote closing the literal opened at
// start. A doubled closing quote is an escape.
func skipQuoted(text string, start int, closing byte) int {
	for i := start + 1; i < len(text); i++ {
		if text[i] != closing {
			continue
		}
		if closing != ']' && i+1 < len(text) && text[i+1] == closing {
			i++
			continue
		}
		return i
	}
	return len(text)
}
