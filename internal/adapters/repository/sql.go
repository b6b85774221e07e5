package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/okian/sheetsync/internal/adapters/sqldb"
	"github.com/okian/sheetsync/internal/domain/model"
)

const runColumns = "id, status, app_token, source, error, payload, created_at, started_at, finished_at"

var ddl = map[string]string{
	sqldb.SQLite: `CREATE TABLE IF NOT EXISTS sync_runs (
	id TEXT PRIMARY KEY, status TEXT NOT NULL, app_token TEXT NOT NULL, source TEXT NOT NULL,
	error TEXT NOT NULL, payload TEXT NOT NULL,
	created_at INTEGER NOT NULL, started_at INTEGER NOT NULL, finished_at INTEGER NOT NULL)`,
	sqldb.Postgres: `CREATE TABLE IF NOT EXISTS sync_runs (
	id VARCHAR(64) PRIMARY KEY, status VARCHAR(16) NOT NULL, app_token VARCHAR(128) NOT NULL, source VARCHAR(255) NOT NULL,
	error TEXT NOT NULL, payload TEXT NOT NULL,
	created_at BIGINT NOT NULL, started_at BIGINT NOT NULL, finished_at BIGINT NOT NULL)`,
	sqldb.MySQL: `CREATE TABLE IF NOT EXISTS sync_runs (
	id VARCHAR(64) PRIMARY KEY, status VARCHAR(16) NOT NULL, app_token VARCHAR(128) NOT NULL, source VARCHAR(255) NOT NULL,
	error TEXT NOT NULL, payload LONGTEXT NOT NULL,
	created_at BIGINT NOT NULL, started_at BIGINT NOT NULL, finished_at BIGINT NOT NULL)`,
	sqldb.SQLServer: `IF OBJECT_ID(N'sync_runs', N'U') IS NULL CREATE TABLE sync_runs (
	id NVARCHAR(64) PRIMARY KEY, status NVARCHAR(16) NOT NULL, app_token NVARCHAR(128) NOT NULL, source NVARCHAR(255) NOT NULL,
	error NVARCHAR(MAX) NOT NULL, payload NVARCHAR(MAX) NOT NULL,
	created_at BIGINT NOT NULL, started_at BIGINT NOT NULL, finished_at BIGINT NOT NULL)`,
}

// payload holds the nested parts of a run.
type payload struct {
	TableIDs []string            `json:"table_ids,omitempty"`
	Results  []model.TableResult `json:"results,omitempty"`
}

// SQLStore keeps runs in a SQL database.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// OpenSQLStore opens dsn and creates the runs table when missing.
func OpenSQLStore(ctx context.Context, dialect, dsn string) (*SQLStore, error) {
	d, err := sqldb.Normalize(dialect)
	if err != nil {
		return nil, err
	}
	db, err := sqldb.Open(ctx, d, dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, ddl[d]); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sync_runs: %w", err)
	}
	return &SQLStore{db: db, dialect: d}, nil
}

func (s *SQLStore) ph(n int) string { return sqldb.Placeholder(s.dialect, n) }

// Save replaces the row inside one transaction.
func (s *SQLStore) Save(ctx context.Context, run Run) error {
	if run.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidRun)
	}
	body, err := json.Marshal(payload{TableIDs: run.TableIDs, Results: run.Results})
	if err != nil {
		return fmt.Errorf("encode run: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM sync_runs WHERE id = "+s.ph(1), run.ID); err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	insert := "INSERT INTO sync_runs (" + runColumns + ") VALUES (" + sqldb.Placeholders(s.dialect, 9) + ")"
	if _, err := tx.ExecContext(ctx, insert,
		run.ID, run.Status, run.AppToken, run.Source, run.Error, string(body),
		unixMilli(run.CreatedAt), unixMilli(run.StartedAt), unixMilli(run.FinishedAt),
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM sync_runs WHERE id = "+s.ph(1), id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	return run, err
}

func (s *SQLStore) List(ctx context.Context, limit int) ([]Run, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}
	q := "SELECT " + runColumns + " FROM sync_runs ORDER BY created_at DESC, id DESC " + sqldb.Limit(s.dialect, limit)
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *SQLStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sync_runs").Scan(&n); err != nil {
		return 0, fmt.Errorf("count runs: %w", err)
	}
	return n, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		run                        Run
		body                       string
		created, started, finished int64
	)
	if err := sc.Scan(&run.ID, &run.Status, &run.AppToken, &run.Source, &run.Error, &body, &created, &started, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	var p payload
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return Run{}, fmt.Errorf("decode run %s: %w", run.ID, err)
	}
	run.TableIDs, run.Results = p.TableIDs, p.Results
	run.CreatedAt, run.StartedAt, run.FinishedAt = fromMilli(created), fromMilli(started), fromMilli(finished)
	return run, nil
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
