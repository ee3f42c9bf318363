package text

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Normalize lowercases a corpus and collapses the whitespace of every line.
// Line breaks are kept: each line is a separate sequence.
func Normalize(corpus string) string {
	lines := strings.Split(strings.ToLower(corpus), "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return strings.Join(lines, "\n")
}

// CapitaliseSentences upper-cases the first letter of every sentence of s,
// where sentences are separated by delim.
func CapitaliseSentences(s, delim string) string {
	parts := strings.Split(s, delim)
	for i, part := range parts {
		parts[i] = capitaliseFirst(part)
	}
	return strings.Join(parts, delim)
}

func capitaliseFirst(s string) string {
	for i, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		if !unicode.IsLetter(r) {
			return s
		}
		return s[:i] + string(unicode.ToUpper(r)) + s[i+utf8.RuneLen(r):]
	}
	return s
}
