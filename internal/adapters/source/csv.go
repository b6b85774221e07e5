package source

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"github.com/okian/sheetsync/internal/domain/model"
)

const utf8BOM = "\uFEFF"

// ParseCSV reads a delimited file whose first record is the header.
func ParseCSV(data []byte, delimiter rune) (model.Dataset, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte(utf8BOM))))
	r.Comma = delimiter
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return model.Dataset{}, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return model.Dataset{}, ErrEmptyDataset
	}
	columns := normalizeHeaders(records[0])
	return model.Dataset{Columns: columns, Rows: rowsFromCells(columns, records[1:])}, nil
}
