// Package sqldb registers the SQL drivers and hides their dialect differences.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"
)

// Dialect names accepted in configuration.
const (
	SQLite    = "sqlite"
	Postgres  = "postgres"
	MySQL     = "mysql"
	SQLServer = "sqlserver"
)

// ErrUnknownDriver is returned for a dialect without a registered driver.
var ErrUnknownDriver = errors.New("unknown sql driver")

var driverNames = map[string]string{
	SQLite:    "sqlite",
	"sqlite3": "sqlite",
	Postgres:  "pgx",
	"pgx":     "pgx",
	MySQL:     "mysql",
	SQLServer: "sqlserver",
	"mssql":   "sqlserver",
}

// Normalize maps a dialect alias to its canonical name.
func Normalize(dialect string) (string, error) {
	d := strings.ToLower(strings.TrimSpace(dialect))
	switch driverNames[d] {
	case "sqlite":
		return SQLite, nil
	case "pgx":
		return Postgres, nil
	case "mysql":
		return MySQL, nil
	case "sqlserver":
		return SQLServer, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDriver, dialect)
}

// Open opens and pings a database for dialect.
func Open(ctx context.Context, dialect, dsn string) (*sql.DB, error) {
	d, err := Normalize(dialect)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driverNames[d], dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d, err)
	}
	if d == SQLite {
		// One writer at a time.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(8)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", d, err)
	}
	return db, nil
}

// Placeholder returns the n-th (1-based) bind parameter for dialect.
func Placeholder(dialect string, n int) string {
	switch dialect {
	case Postgres:
		return "$" + strconv.Itoa(n)
	case SQLServer:
		return "@p" + strconv.Itoa(n)
	default:
		return "?"
	}
}

// Placeholders returns n comma separated bind parameters starting at 1.
func Placeholders(dialect string, n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = Placeholder(dialect, i+1)
	}
	return strings.Join(ps, ", ")
}

// Limit renders a row limit clause placed after ORDER BY.
func Limit(dialect string, n int) string {
	if dialect == SQLServer {
		return fmt.Sprintf("OFFSET 0 ROWS FETCH NEXT %d ROWS ONLY", n)
	}
	return fmt.Sprintf("LIMIT %d", n)
}

// Scalar converts a driver value into a plain scalar.
func Scalar(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	default:
		return t
	}
}
