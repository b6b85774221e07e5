// Package matching pairs source column names with target field names.
package matching

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

const (
	// Threshold is the similarity a candidate must exceed to be matched.
	Threshold = 0.6
	// ContainmentScore is the similarity of two names where one contains the other.
	ContainmentScore = 0.8
)

// Similarity scores two names in [0,1], case-insensitively. It is symmetric.
func Similarity(a, b string) float64 {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a == b {
		return 1
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return ContainmentScore
	}
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}
