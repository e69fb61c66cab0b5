package store

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// QuoteMatches checks the evidence substring invariant:
// segment.text[char_start:char_end] must equal quote
// after Unicode NFC normalization and whitespace collapse.
func QuoteMatches(segmentText string, charStart, charEnd int, quote string) bool {
	runes := []rune(segmentText)
	if charStart < 0 || charEnd > len(runes) || charStart >= charEnd {
		return false
	}
	substr := string(runes[charStart:charEnd])
	return normalizeForCompare(substr) == normalizeForCompare(quote)
}

func normalizeForCompare(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}
