package source

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/okian/sheetsync/internal/domain/model"
	"github.com/xuri/excelize/v2"
)

// ParseXLSX reads the named sheet, or the first one when sheet is empty or
// unknown. The first row is the header; cells come back formatted.
func ParseXLSX(data []byte, sheet string) (model.Dataset, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return model.Dataset{}, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return model.Dataset{}, ErrEmptyDataset
	}
	if sheet == "" || !slices.Contains(sheets, sheet) {
		sheet = sheets[0]
	}

	cells, err := f.GetRows(sheet)
	if err != nil {
		return model.Dataset{}, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if len(cells) == 0 {
		return model.Dataset{}, ErrEmptyDataset
	}
	columns := normalizeHeaders(cells[0])
	return model.Dataset{Columns: columns, Rows: rowsFromCells(columns, cells[1:])}, nil
}
