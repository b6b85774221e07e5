package records

import (
	"context"
	"fmt"

	"github.com/okian/sheetsync/internal/domain/coerce"
	"github.com/okian/sheetsync/internal/domain/model"
	"github.com/okian/sheetsync/pkg/logger"
	"github.com/okian/sheetsync/pkg/metrics"
)

// Result is the outcome of building records for one plan.
type Result struct {
	Records   []model.TargetRecord    `json:"-"`
	Dropped   int                     `json:"dropped"`
	Fallbacks int                     `json:"fallbacks"`
	Warnings  []model.CoercionWarning `json:"warnings,omitempty"`
}

// Option applies a configuration option to the Builder.
type Option func(*Builder)

// WithLogger sets the builder logger.
func WithLogger(l logger.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.log = l
		}
	}
}

// WithMaxWarnings caps how many warnings a Result keeps; fallbacks are still counted.
func WithMaxWarnings(n int) Option {
	return func(b *Builder) {
		if n >= 0 {
			b.maxWarnings = n
		}
	}
}

// Builder produces target records from rows.
type Builder struct {
	coercer     *coerce.Coercer
	log         logger.Logger
	maxWarnings int
}

// New creates a Builder around c.
func New(c *coerce.Coercer, opts ...Option) *Builder {
	b := &Builder{
		coercer:     c,
		maxWarnings: 1000,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = logger.Get().Named("records")
	}
	return b
}

// Build writes the metadata roles first and the matched columns second, so a
// column overwrites metadata aimed at the same field. Rows that end up with no
// fields are dropped. With no rows and a file, one metadata-only record is built.
func (b *Builder) Build(rows []model.SourceRow, plan Plan, schema []model.TargetField) Result {
	kinds := make(map[string]model.FieldKind, len(schema))
	for _, f := range schema {
		kinds[f.Name] = f.Kind
	}
	if len(rows) == 0 && plan.File != nil {
		rows = []model.SourceRow{{}}
	}

	var res Result
	res.Records = make([]model.TargetRecord, 0, len(rows))
	meta := b.metadataFields(plan, kinds, &res)

	for i, row := range rows {
		rec := make(model.TargetRecord, len(meta)+len(plan.Matches))
		for name, v := range meta {
			rec[name] = v
		}
		for _, m := range plan.Matches {
			if !m.Matched {
				continue
			}
			kind, ok := kinds[m.TargetField]
			if !ok {
				continue
			}
			raw := row[m.SourceColumn]
			v, fallback := b.coercer.Coerce(raw, kind)
			if fallback {
				b.warn(&res, model.CoercionWarning{
					Row: i, Column: m.SourceColumn, Field: m.TargetField, Kind: kind, Raw: fmt.Sprint(raw),
				})
			}
			if v != nil {
				rec[m.TargetField] = v
			}
		}
		if len(rec) == 0 {
			res.Dropped++
			continue
		}
		res.Records = append(res.Records, rec)
	}

	if res.Dropped > 0 {
		metrics.RecordRowsDropped(res.Dropped)
		b.log.Debug(context.Background(), "rows without matching fields dropped", logger.Int("dropped", res.Dropped))
	}
	return res
}

// metadataFields coerces the file metadata once; every row shares the values.
func (b *Builder) metadataFields(plan Plan, kinds map[string]model.FieldKind, res *Result) model.TargetRecord {
	out := model.TargetRecord{}
	if plan.File == nil {
		return out
	}
	f := plan.File
	roles := []struct {
		field string
		value string
	}{
		{plan.Metadata.FileName, f.Name},
		{plan.Metadata.FileSize, model.FormatSize(f.Size)},
		{plan.Metadata.FileType, f.Type},
		{plan.Metadata.FileURL, f.URL},
	}
	for _, r := range roles {
		b.putMeta(out, r.field, r.value, kinds, res)
	}

	if name := plan.Metadata.UploadTime; name != "" {
		if kind, ok := kinds[name]; ok && kind == model.KindDate {
			out[name] = b.coercer.Now().UnixMilli()
		} else {
			b.putMeta(out, name, f.UploadTime, kinds, res)
		}
	}
	return out
}

func (b *Builder) putMeta(out model.TargetRecord, field, value string, kinds map[string]model.FieldKind, res *Result) {
	if field == "" {
		return
	}
	kind, ok := kinds[field]
	if !ok {
		return
	}
	v, fallback := b.coercer.Coerce(value, kind)
	if fallback {
		b.warn(res, model.CoercionWarning{Row: -1, Field: field, Kind: kind, Raw: value})
	}
	if v != nil {
		out[field] = v
	}
}

func (b *Builder) warn(res *Result, w model.CoercionWarning) {
	res.Fallbacks++
	metrics.RecordCoercionFallback(w.Kind.String())
	if len(res.Warnings) < b.maxWarnings {
		res.Warnings = append(res.Warnings, w)
	}
}
