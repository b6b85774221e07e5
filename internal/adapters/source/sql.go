package source

import (
	"context"
	"fmt"

	"github.com/okian/sheetsync/internal/adapters/sqldb"
	"github.com/okian/sheetsync/internal/domain/model"
)

// SQLReader runs a query and returns its result set.
type SQLReader struct {
	Driver string
	DSN    string
	Query  string
	Args   []any
}

func (r *SQLReader) Read(ctx context.Context) (model.Dataset, error) {
	db, err := sqldb.Open(ctx, r.Driver, r.DSN)
	if err != nil {
		return model.Dataset{}, err
	}
	defer func() { _ = db.Close() }()

	rows, err := db.QueryContext(ctx, r.Query, r.Args...)
	if err != nil {
		return model.Dataset{}, fmt.Errorf("query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return model.Dataset{}, fmt.Errorf("columns: %w", err)
	}
	columns := normalizeHeaders(cols)

	ds := model.Dataset{Columns: columns}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return model.Dataset{}, fmt.Errorf("scan: %w", err)
		}
		row := make(model.SourceRow, len(cols))
		for i, col := range columns {
			row[col] = sqldb.Scalar(vals[i])
		}
		ds.Rows = append(ds.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return model.Dataset{}, fmt.Errorf("rows: %w", err)
	}
	return ds, nil
}
