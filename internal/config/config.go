// Package config defines service configuration structures and loading hooks.
//
// Conventions:
//   - Provide New() to build a Config with defaults.
//   - Load layers a YAML file and SHEETSYNC_ environment variables over them.
//   - Validation failures wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/okian/sheetsync/internal/adapters/source"
	"github.com/okian/sheetsync/internal/adapters/sqldb"
	"github.com/okian/sheetsync/internal/domain/model"
	"github.com/robfig/cron/v3"
)

// HistoryMemory keeps run history in process.
const HistoryMemory = "memory"

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`
	// MaxUploadBytes caps multipart uploads.
	MaxUploadBytes int64 `koanf:"max_upload_bytes"`

	// Remote service.
	BaseURL        string        `koanf:"base_url"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	MaxRetries     int           `koanf:"max_retries"`
	RetryDelay     time.Duration `koanf:"retry_delay"`
	CacheTTL       time.Duration `koanf:"cache_ttl"`
	CacheEnabled   bool          `koanf:"cache_enabled"`

	// ChunkSize is the number of records per batch create call (1..500).
	ChunkSize int `koanf:"chunk_size"`

	// Timezone renders upload times and evaluates cron specs.
	Timezone string `koanf:"timezone"`

	// Async jobs.
	QueueSize        int           `koanf:"queue_size"`
	WorkerCount      int           `koanf:"worker_count"`
	DedupeSize       int           `koanf:"dedupe_size"`
	JobTimeout       time.Duration `koanf:"job_timeout"`
	TableParallelism int           `koanf:"table_parallelism"`

	// Run history: memory, sqlite, postgres, mysql or sqlserver.
	HistoryDriver string `koanf:"history_driver"`
	HistoryDSN    string `koanf:"history_dsn"`

	// Uploaded files are copied here when set; otherwise file:// links are used.
	UploadDir     string `koanf:"upload_dir"`
	UploadBaseURL string `koanf:"upload_base_url"`

	Schedules   []Schedule    `koanf:"schedules"`
	Watches     []Watch       `koanf:"watches"`
	WatchSettle time.Duration `koanf:"watch_settle"`
}

// Target is a configured destination with its own credentials.
type Target struct {
	AppToken  string   `koanf:"app_token"`
	TableIDs  []string `koanf:"table_ids"`
	AppID     string   `koanf:"app_id"`
	AppSecret string   `koanf:"app_secret"`
}

// Model converts the target for the domain layer.
func (t Target) Model() model.Target {
	return model.Target{
		AppToken:    t.AppToken,
		TableIDs:    t.TableIDs,
		Credentials: model.Credentials{AppID: t.AppID, AppSecret: t.AppSecret},
	}
}

// Schedule is a recurring import.
type Schedule struct {
	Name   string      `koanf:"name"`
	Cron   string      `koanf:"cron"`
	Target Target      `koanf:"target"`
	Source source.Spec `koanf:"source"`
}

// Watch binds a directory to a target.
type Watch struct {
	Dir    string `koanf:"dir"`
	Sheet  string `koanf:"sheet"`
	Target Target `koanf:"target"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:         "info",
		LogFormat:        "text",
		Addr:             ":9080",
		MaxUploadBytes:   32 << 20,
		BaseURL:          "https://open.feishu.cn/open-apis",
		RequestTimeout:   30 * time.Second,
		MaxRetries:       3,
		RetryDelay:       time.Second,
		CacheTTL:         5 * time.Minute,
		CacheEnabled:     true,
		ChunkSize:        500,
		Timezone:         "Asia/Shanghai",
		QueueSize:        1000,
		WorkerCount:      runtime.NumCPU(),
		DedupeSize:       10_000,
		JobTimeout:       30 * time.Minute,
		TableParallelism: 4,
		HistoryDriver:    HistoryMemory,
		WatchSettle:      2 * time.Second,
	}
}

// Location loads the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %w", ErrInvalidConfig, c.Timezone, err)
	}
	return loc, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.ChunkSize < 1 || c.ChunkSize > 500:
		return fmt.Errorf("%w: chunk_size %d outside 1..500", ErrInvalidConfig, c.ChunkSize)
	case c.MaxRetries < 1:
		return fmt.Errorf("%w: max_retries must be at least 1", ErrInvalidConfig)
	case c.TableParallelism < 1:
		return fmt.Errorf("%w: table_parallelism must be at least 1", ErrInvalidConfig)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.HistoryDriver != HistoryMemory {
		if _, err := sqldb.Normalize(c.HistoryDriver); err != nil {
			return fmt.Errorf("%w: history_driver: %w", ErrInvalidConfig, err)
		}
		if c.HistoryDSN == "" {
			return fmt.Errorf("%w: history_dsn is required for %s", ErrInvalidConfig, c.HistoryDriver)
		}
	}

	seen := make(map[string]bool, len(c.Schedules))
	for i, s := range c.Schedules {
		if s.Name == "" {
			return fmt.Errorf("%w: schedules[%d]: missing name", ErrInvalidConfig, i)
		}
		if seen[s.Name] {
			return fmt.Errorf("%w: schedules[%d]: duplicate name %q", ErrInvalidConfig, i, s.Name)
		}
		seen[s.Name] = true
		if _, err := cron.ParseStandard(s.Cron); err != nil {
			return fmt.Errorf("%w: schedule %s: %w", ErrInvalidConfig, s.Name, err)
		}
		if err := s.Target.validate(); err != nil {
			return fmt.Errorf("%w: schedule %s: %w", ErrInvalidConfig, s.Name, err)
		}
		if _, err := source.New(s.Source); err != nil {
			return fmt.Errorf("%w: schedule %s: %w", ErrInvalidConfig, s.Name, err)
		}
	}
	for i, w := range c.Watches {
		if w.Dir == "" {
			return fmt.Errorf("%w: watches[%d]: missing dir", ErrInvalidConfig, i)
		}
		if err := w.Target.validate(); err != nil {
			return fmt.Errorf("%w: watch %s: %w", ErrInvalidConfig, w.Dir, err)
		}
	}
	return nil
}

func (t Target) validate() error {
	if t.AppToken == "" {
		return fmt.Errorf("target needs app_token")
	}
	if t.AppID == "" || t.AppSecret == "" {
		return fmt.Errorf("target needs app_id and app_secret")
	}
	return nil
}
