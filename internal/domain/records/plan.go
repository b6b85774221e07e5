// Package records turns source rows into target records ready for batch writes.
package records

import (
	"github.com/okian/sheetsync/internal/domain/matching"
	"github.com/okian/sheetsync/internal/domain/model"
	"github.com/okian/sheetsync/pkg/metrics"
)

// Plan is the mapping from one dataset onto one table schema.
type Plan struct {
	Matches  []model.FieldMatch    `json:"matches"`
	Metadata model.MetadataMapping `json:"metadata"`
	// File is nil for datasets that did not come from an upload.
	File *model.FileInfo `json:"file,omitempty"`
}

// NewPlan matches columns against schema. The metadata roles are only
// resolved when file is set.
func NewPlan(columns []string, schema []model.TargetField, file *model.FileInfo) Plan {
	p := Plan{
		Matches: matching.MatchColumns(columns, schema),
		File:    file,
	}
	if file != nil {
		p.Metadata = matching.MapMetadataFields(model.FieldNames(schema))
	}
	for _, m := range p.Matches {
		metrics.RecordFieldMatch(m.Matched)
	}
	return p
}

// MatchedCount returns how many columns found a field.
func (p Plan) MatchedCount() int {
	n := 0
	for _, m := range p.Matches {
		if m.Matched {
			n++
		}
	}
	return n
}
