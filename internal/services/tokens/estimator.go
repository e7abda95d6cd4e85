// Package tokens approximates provider token counts without calling the provider.
package tokens

import (
	"unicode"

	"github.com/private-symposium-go/internal/models"
)

// Estimate counts Han ideographs plus maximal runs of ASCII letters, one
// token each. Digits, punctuation and whitespace cost nothing. This is an
// admission-control heuristic, not a billing figure.
func Estimate(text string) int {
	count := 0
	inWord := false
	for _, r := range text {
		switch {
		case isLatinLetter(r):
			if !inWord {
				count++
				inWord = true
			}
			continue
		case unicode.Is(unicode.Han, r):
			count++
		}
		inWord = false
	}
	return count
}

// EstimateMessages sums Estimate over every message content
func EstimateMessages(messages []models.Message) int {
	total := 0
	for _, m := range messages {
		total += Estimate(m.Content)
	}
	return total
}

func isLatinLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
