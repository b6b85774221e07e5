// Package source reads tabular datasets from files, SQL databases and MongoDB.
package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/okian/sheetsync/internal/domain/model"
	"golang.org/x/text/unicode/norm"
)

// Sentinel kinds for source errors.
var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrEmptyDataset      = errors.New("dataset has no header row")
	ErrInvalidSpec       = errors.New("invalid source spec")
)

// Source kinds.
const (
	KindFile  = "file"
	KindSQL   = "sql"
	KindMongo = "mongo"
)

// Reader yields a dataset.
type Reader interface {
	Read(ctx context.Context) (model.Dataset, error)
}

// Spec describes a source in configuration.
type Spec struct {
	Kind string `koanf:"kind" json:"kind"`
	// file
	Path  string `koanf:"path" json:"path,omitempty"`
	Sheet string `koanf:"sheet" json:"sheet,omitempty"`
	// sql
	Driver string `koanf:"driver" json:"driver,omitempty"`
	DSN    string `koanf:"dsn" json:"-"`
	Query  string `koanf:"query" json:"query,omitempty"`
	// mongo
	URI        string `koanf:"uri" json:"-"`
	Database   string `koanf:"database" json:"database,omitempty"`
	Collection string `koanf:"collection" json:"collection,omitempty"`
	Filter     string `koanf:"filter" json:"filter,omitempty"`
	Limit      int64  `koanf:"limit" json:"limit,omitempty"`
}

// Name is a short label for logs and run history.
func (s Spec) Name() string {
	switch s.Kind {
	case KindFile:
		return filepath.Base(s.Path)
	case KindSQL:
		return s.Driver + " query"
	case KindMongo:
		return s.Database + "." + s.Collection
	default:
		return s.Kind
	}
}

// New builds the reader for spec.
func New(spec Spec) (Reader, error) {
	switch spec.Kind {
	case KindFile, "":
		if spec.Path == "" {
			return nil, fmt.Errorf("%w: file source needs a path", ErrInvalidSpec)
		}
		return &FileReader{Path: spec.Path, Sheet: spec.Sheet}, nil
	case KindSQL:
		if spec.Driver == "" || spec.DSN == "" || spec.Query == "" {
			return nil, fmt.Errorf("%w: sql source needs driver, dsn and query", ErrInvalidSpec)
		}
		return &SQLReader{Driver: spec.Driver, DSN: spec.DSN, Query: spec.Query}, nil
	case KindMongo:
		if spec.URI == "" || spec.Database == "" || spec.Collection == "" {
			return nil, fmt.Errorf("%w: mongo source needs uri, database and collection", ErrInvalidSpec)
		}
		return &MongoReader{URI: spec.URI, Database: spec.Database, Collection: spec.Collection, Filter: spec.Filter, Limit: spec.Limit}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidSpec, spec.Kind)
	}
}

// FromFile parses an uploaded file by extension. Files that are not tabular
// return ErrUnsupportedFormat.
func FromFile(name string, data []byte, sheet string) (model.Dataset, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".tsv", ".txt":
		return ParseCSV(data, delimiterFor(name))
	case ".xlsx", ".xlsm", ".xltx", ".xltm":
		return ParseXLSX(data, sheet)
	default:
		return model.Dataset{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(name))
	}
}

// IsTabular reports whether FromFile can parse name.
func IsTabular(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".tsv", ".txt", ".xlsx", ".xlsm", ".xltx", ".xltm":
		return true
	}
	return false
}

func delimiterFor(name string) rune {
	if strings.EqualFold(filepath.Ext(name), ".tsv") {
		return '\t'
	}
	return ','
}

// FileReader reads a spreadsheet from disk.
type FileReader struct {
	Path  string
	Sheet string
}

func (r *FileReader) Read(ctx context.Context) (model.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return model.Dataset{}, err
	}
	data, err := os.ReadFile(r.Path)
	if err != nil {
		return model.Dataset{}, fmt.Errorf("read %s: %w", r.Path, err)
	}
	return FromFile(r.Path, data, r.Sheet)
}

// normalizeHeaders trims headers to NFC, names blank ones col_N and suffixes
// repeats so every column name is unique.
func normalizeHeaders(raw []string) []string {
	out := make([]string, len(raw))
	seen := make(map[string]int, len(raw))
	for i, h := range raw {
		h = norm.NFC.String(strings.TrimSpace(strings.TrimPrefix(h, utf8BOM)))
		if h == "" {
			h = "col_" + strconv.Itoa(i+1)
		}
		if n := seen[h]; n > 0 {
			seen[h] = n + 1
			h = h + "_" + strconv.Itoa(n+1)
		}
		seen[h]++
		out[i] = h
	}
	return out
}

// rowsFromCells maps string cells to rows. Fully empty rows are skipped.
func rowsFromCells(columns []string, cells [][]string) []model.SourceRow {
	rows := make([]model.SourceRow, 0, len(cells))
	for _, rec := range cells {
		row := make(model.SourceRow, len(columns))
		empty := true
		for j, col := range columns {
			if j >= len(rec) {
				break
			}
			row[col] = rec[j]
			if strings.TrimSpace(rec[j]) != "" {
				empty = false
			}
		}
		if !empty {
			rows = append(rows, row)
		}
	}
	return rows
}
