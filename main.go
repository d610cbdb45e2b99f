package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/evanofslack/cloudflare-ddns/internal/config"
	"github.com/evanofslack/cloudflare-ddns/internal/fetcher"
	"github.com/evanofslack/cloudflare-ddns/internal/logger"
	"github.com/evanofslack/cloudflare-ddns/internal/metrics"
	"github.com/evanofslack/cloudflare-ddns/internal/provider/cloudflare"
	"github.com/evanofslack/cloudflare-ddns/internal/reconcile"
	"github.com/evanofslack/cloudflare-ddns/internal/report"
	"github.com/evanofslack/cloudflare-ddns/internal/state"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	once := flag.Bool("once", false, "run a single reconciliation and exit, even if an interval is configured")
	history := flag.Int("history", 0, "print the last `N` stored runs and exit")
	flag.Parse()

	logger.Configure("info", "prod")

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	logger.Configure(cfg.Log.Level, cfg.Log.Env)

	// Initialize metrics
	metrics := metrics.New(true)

	stateManager, err := state.New(cfg.StatePath, metrics)
	if err != nil {
		slog.Error("Failed to initialize state manager", "error", err)
		os.Exit(1)
	}
	defer stateManager.Close()

	if *history > 0 {
		runs, err := stateManager.RecentRuns(context.Background(), *history)
		if err != nil {
			slog.Error("Failed to read run history", "error", err)
			os.Exit(1)
		}
		if err := report.RenderHistory(os.Stdout, runs); err != nil {
			slog.Error("Failed to render run history", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid config", "error", err)
		os.Exit(1)
	}

	s, err := newSyncer(cfg, stateManager, metrics)
	if err != nil {
		slog.Error("Failed to initialize", "error", err)
		os.Exit(1)
	}

	if *once || cfg.Interval == 0 {
		results, err := s.performSync(context.Background())
		if err != nil {
			// deferred Close does not run past os.Exit
			stateManager.Close()
			os.Exit(1)
		}
		if err := report.Render(os.Stdout, results); err != nil {
			slog.Error("Failed to render results", "error", err)
		}
		if results.Count(reconcile.KindFailed) > 0 {
			stateManager.Close()
			os.Exit(1)
		}
		return
	}

	runDaemon(*configPath, cfg, s, metrics)
}

func runDaemon(configPath string, cfg *config.Config, s *syncer, metrics *metrics.Metrics) {
	// Set up HTTP server for metrics and health checks
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", s.healthz)

	server := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: mux,
	}

	// Start http server in background
	go func() {
		slog.Info("Starting metrics server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", "error", err)
		}
	}()

	// Graceful shutdown handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reload := make(chan time.Duration, 1)

	wg := &sync.WaitGroup{}
	wg.Add(2)
	go func() {
		defer wg.Done()
		err := config.Watch(ctx, configPath, func(next *config.Config) {
			if err := s.reload(next); err != nil {
				slog.Error("Failed to apply reloaded config", "error", err)
				return
			}
			logger.Configure(next.Log.Level, next.Log.Env)
			slog.Info("Config reloaded", "path", configPath)
			if next.Interval > 0 {
				select {
				case reload <- next.Interval:
				default:
				}
			}
		})
		if err != nil {
			slog.Error("Config watcher stopped", "error", err)
		}
	}()

	slog.Info("Starting cloudflare-ddns service", "interval", cfg.Interval, "dry_run", cfg.Cloudflare.DryRun)
	go runSyncLoop(ctx, wg, s, cfg.Interval, reload)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("Shutdown signal received")
	cancel()

	serverShutdownCtx, cancelServer := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelServer()
	if err := server.Shutdown(serverShutdownCtx); err != nil {
		slog.Error("Metrics server shutdown error", "error", err)
	}

	// Wait for sync loop and watcher to finish
	wg.Wait()
	slog.Info("Service shutdown complete")
}

func runSyncLoop(ctx context.Context, wg *sync.WaitGroup, s *syncer, interval time.Duration, reload <-chan time.Duration) {
	defer wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		// errors are logged and stored by performSync; the next tick retries
		s.performSync(ctx)

		select {
		case <-ticker.C:
			continue
		case next := <-reload:
			if next != interval {
				slog.Info("Sync interval changed", "from", interval, "to", next)
				interval = next
				ticker.Reset(interval)
			}
			continue
		case <-ctx.Done():
			slog.Info("Stopping sync loop")
			return
		}
	}
}

// syncer owns the pieces a run needs. They are swapped as a unit when the
// config file changes.
type syncer struct {
	mu      sync.Mutex
	engine  reconcile.Engine
	fetcher fetcher.Fetcher
	failing atomic.Bool

	state   state.Manager
	metrics *metrics.Metrics
}

func newSyncer(cfg *config.Config, stateManager state.Manager, metrics *metrics.Metrics) (*syncer, error) {
	s := &syncer{state: stateManager, metrics: metrics}
	if err := s.reload(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *syncer) reload(cfg *config.Config) error {
	cf, err := cloudflare.New(cfg.Cloudflare.Token, s.metrics)
	if err != nil {
		return fmt.Errorf("initialize dns provider: %w", err)
	}
	source, err := fetcher.New(cfg.Fetchers, s.metrics)
	if err != nil {
		return fmt.Errorf("initialize address fetcher: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine = reconcile.NewEngine(cf, cfg.Cloudflare, s.metrics)
	s.fetcher = source
	return nil
}

// performSync runs one reconciliation. A reload waits for a run in progress.
func (s *syncer) performSync(ctx context.Context) (reconcile.Results, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slog.Info("Starting sync operation")
	start := time.Now()
	defer func() {
		s.metrics.SetSyncDuration(time.Since(start))
	}()

	results, err := s.engine.Run(ctx, s.fetcher)
	s.metrics.IncSyncRun(err == nil)
	s.failing.Store(err != nil)
	if err != nil {
		slog.Error("Sync operation failed", "error", err)
	} else {
		slog.Info("Sync completed",
			"updated", results.Count(reconcile.KindUpdated),
			"skipped", results.Count(reconcile.KindSkipped),
			"failed", results.Count(reconcile.KindFailed),
			"planned", results.Count(reconcile.KindPlanned))
	}

	if serr := s.state.SaveRun(ctx, state.NewRun(start, results, err)); serr != nil {
		slog.Warn("Failed to store run summary", "error", serr)
	}
	return results, err
}

func (s *syncer) healthz(w http.ResponseWriter, r *http.Request) {
	if s.failing.Load() {
		http.Error(w, "last sync failed", http.StatusServiceUnavailable)
		return
	}
	fmt.Fprintln(w, "ok")
}
