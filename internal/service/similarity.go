package service

import (
	"strings"
	"unicode"

	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/core"
)

// JaccardSimilarity calculates Jaccard similarity between two string sets.
func JaccardSimilarity(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0 // Both empty = perfect agreement
	}

	setA := toSet(a)
	setB := toSet(b)

	intersection := 0
	for item := range setA {
		if setB[item] {
			intersection++
		}
	}

	union := len(setA)
	for item := range setB {
		if !setA[item] {
			union++
		}
	}

	if union == 0 {
		return 1.0
	}

	return float64(intersection) / float64(union)
}

// NormalizeText lower-cases text and collapses everything that is not a
// letter or digit into single spaces.
func NormalizeText(text string) string {
	text = strings.ToLower(text)

	var builder strings.Builder
	prevSpace := true
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			builder.WriteRune(r)
			prevSpace = false
		} else if !prevSpace {
			builder.WriteRune(' ')
			prevSpace = true
		}
	}

	return strings.TrimSpace(builder.String())
}

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "to": true, "in": true,
	"for": true, "and": true, "or": true, "on": true, "with": true, "is": true,
	"be": true, "by": true, "all": true, "any": true,
}

// Tokens returns the normalized words of text without stop words.
func Tokens(text string) []string {
	fields := strings.Fields(NormalizeText(text))
	out := fields[:0]
	for _, f := range fields {
		if !stopWords[f] {
			out = append(out, f)
		}
	}
	return out
}

// TextSimilarity is the token Jaccard similarity of two texts.
func TextSimilarity(a, b string) float64 {
	return JaccardSimilarity(Tokens(a), Tokens(b))
}

// CategorySimilarity returns 1 for categories that are equal once
// canonicalized and their token similarity otherwise.
func CategorySimilarity(a, b string) float64 {
	ca, cb := core.CanonicalCategory(a), core.CanonicalCategory(b)
	if ca == "" || cb == "" {
		return 0
	}
	if ca == cb {
		return 1
	}
	return TextSimilarity(ca, cb)
}

// normalizeWhitespace collapses runs of whitespace into one space.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// toSet converts a slice to a set (map).
func toSet(items []string) map[string]bool {
	result := make(map[string]bool)
	for _, item := range items {
		result[item] = true
	}
	return result
}
