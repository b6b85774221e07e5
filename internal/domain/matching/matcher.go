package matching

import (
	"strings"

	"github.com/okian/sheetsync/internal/domain/model"
)

// Match finds the best candidate for column. An exact, case-sensitive name
// wins outright; otherwise the highest similarity wins with ties going to the
// earliest candidate. The match is only reported when it exceeds Threshold.
func Match(column string, candidates []string) (model.FieldMatch, bool) {
	fm := model.FieldMatch{SourceColumn: column}
	if strings.TrimSpace(column) == "" || len(candidates) == 0 {
		return fm, false
	}
	for _, c := range candidates {
		if c == column {
			fm.TargetField, fm.Similarity, fm.Matched = c, 1, true
			return fm, true
		}
	}

	best, bestScore := "", -1.0
	for _, c := range candidates {
		if s := Similarity(column, c); s > bestScore {
			best, bestScore = c, s
		}
	}
	fm.Similarity = bestScore
	if bestScore <= Threshold {
		return fm, false
	}
	fm.TargetField, fm.Matched = best, true
	return fm, true
}

// MatchColumns matches every column against the schema, in column order.
func MatchColumns(columns []string, fields []model.TargetField) []model.FieldMatch {
	names := model.FieldNames(fields)
	out := make([]model.FieldMatch, len(columns))
	for i, col := range columns {
		out[i], _ = Match(col, names)
	}
	return out
}
