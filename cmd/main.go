package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/okian/sheetsync/internal/adapters/bitable"
	"github.com/okian/sheetsync/internal/adapters/http/api"
	"github.com/okian/sheetsync/internal/adapters/http/swagger"
	repository "github.com/okian/sheetsync/internal/adapters/repository"
	"github.com/okian/sheetsync/internal/adapters/schedule"
	"github.com/okian/sheetsync/internal/adapters/storage"
	"github.com/okian/sheetsync/internal/adapters/watch"
	app "github.com/okian/sheetsync/internal/app"
	"github.com/okian/sheetsync/internal/config"
	"github.com/okian/sheetsync/pkg/logger"
	"github.com/okian/sheetsync/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTP server timeout constants.
const (
	readTimeout               = 30 * time.Second
	writeTimeout              = 10 * time.Minute
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	serviceMetricsInterval    = 5 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	// Disable default Go metrics collection to avoid duplicate metrics
	// We collect our own custom system metrics instead
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Error(ctx, "server failed", logger.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	svc, err := newService(ctx, cfg)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	go startSystemMetricsUpdater(ctx)
	go startServiceMetricsUpdater(ctx, svc)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newHandler(ctx, svc, cfg),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var failed error
	select {
	case <-ctx.Done():
		log.Info(ctx, "shutting down server...")
	case err := <-serveErr:
		failed = fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	if err := svc.Stop(shutdownCtx); err != nil {
		log.Error(ctx, "service shutdown failed", logger.Error(err))
	}
	log.Info(ctx, "server stopped")
	return failed
}

// newService wires the remote client, run history, upload storage,
// schedules and watches from cfg.
func newService(ctx context.Context, cfg *config.Config) (*app.Service, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	clientOpts := []bitable.Option{
		bitable.WithBaseURL(cfg.BaseURL),
		bitable.WithTimeout(cfg.RequestTimeout),
		bitable.WithMaxRetries(cfg.MaxRetries),
		bitable.WithRetryDelay(cfg.RetryDelay),
		bitable.WithCacheTTL(cfg.CacheTTL),
	}
	if !cfg.CacheEnabled {
		clientOpts = append(clientOpts, bitable.WithCacheDisabled())
	}

	opts := []app.Option{
		app.WithRemote(bitable.New(clientOpts...)),
		app.WithLocation(loc),
		app.WithChunkSize(cfg.ChunkSize),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithQueueSize(cfg.QueueSize),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithTableParallelism(cfg.TableParallelism),
		app.WithJobTimeout(cfg.JobTimeout),
		app.WithMaxUploadBytes(cfg.MaxUploadBytes),
		app.WithSchedules(scheduleEntries(cfg)...),
		app.WithWatches(cfg.WatchSettle, watchEntries(cfg)...),
	}

	if cfg.HistoryDriver != config.HistoryMemory {
		store, err := repository.OpenSQLStore(ctx, cfg.HistoryDriver, cfg.HistoryDSN)
		if err != nil {
			return nil, fmt.Errorf("open run history: %w", err)
		}
		opts = append(opts, app.WithStore(store))
	}
	if cfg.UploadDir != "" {
		up, err := storage.NewDirUploader(cfg.UploadDir, cfg.UploadBaseURL)
		if err != nil {
			return nil, err
		}
		opts = append(opts, app.WithUploader(up))
	}
	return app.New(opts...), nil
}

func scheduleEntries(cfg *config.Config) []schedule.Entry {
	out := make([]schedule.Entry, 0, len(cfg.Schedules))
	for _, s := range cfg.Schedules {
		out = append(out, schedule.Entry{
			Name:   s.Name,
			Spec:   s.Cron,
			Target: s.Target.Model(),
			Source: s.Source,
		})
	}
	return out
}

func watchEntries(cfg *config.Config) []watch.Entry {
	out := make([]watch.Entry, 0, len(cfg.Watches))
	for _, w := range cfg.Watches {
		out = append(out, watch.Entry{
			Dir:    w.Dir,
			Sheet:  w.Sheet,
			Target: w.Target.Model(),
		})
	}
	return out
}

// newHandler registers the API and docs routes.
func newHandler(ctx context.Context, svc *app.Service, cfg *config.Config) http.Handler {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(svc, svc, api.WithMaxUploadBytes(cfg.MaxUploadBytes)).Register(ctx, mux)
	return mux
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater starts a background goroutine that updates service metrics.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(ctx, svc)
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}

// updateServiceMetrics refreshes the queue gauges; GetStats records them.
func updateServiceMetrics(ctx context.Context, svc *app.Service) {
	_ = svc.GetStats(ctx)
}
