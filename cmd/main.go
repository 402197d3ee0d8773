package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zelsaddr/GeoNodeProxiesChecker/internal/api"
	"github.com/zelsaddr/GeoNodeProxiesChecker/internal/config"
	"github.com/zelsaddr/GeoNodeProxiesChecker/internal/engine"
	"github.com/zelsaddr/GeoNodeProxiesChecker/internal/geonode"
	"github.com/zelsaddr/GeoNodeProxiesChecker/internal/metrics"
	"github.com/zelsaddr/GeoNodeProxiesChecker/internal/probe"
	"github.com/zelsaddr/GeoNodeProxiesChecker/internal/report"
	"github.com/zelsaddr/GeoNodeProxiesChecker/internal/snapshot"
	"github.com/zelsaddr/GeoNodeProxiesChecker/internal/storage"
	"github.com/zelsaddr/GeoNodeProxiesChecker/internal/summary"
	"github.com/zelsaddr/GeoNodeProxiesChecker/internal/types"
)

func main() {
	configPath := flag.String("config", "", "Path to JSON config file")
	workers := flag.Int("workers", 0, "Number of concurrent probe workers")
	timeout := flag.Int("timeout", 0, "Per-probe timeout in seconds")
	pages := flag.Int("pages", 0, "Number of listing pages to fetch")
	top := flag.Int("top", 0, "Number of fastest proxies to keep in the ranking")
	socks := flag.Bool("socks", false, "Also probe SOCKS5")
	serve := flag.Bool("serve", false, "Keep running and serve results over HTTP")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// CLI flags override file values.
	if *workers > 0 {
		cfg.Checker.Workers = *workers
	}
	if *timeout > 0 {
		cfg.Checker.TimeoutSeconds = *timeout
	}
	if *pages > 0 {
		cfg.GeoNode.Pages = *pages
	}
	if *top > 0 {
		cfg.Checker.TopResults = *top
	}
	if *socks {
		cfg.Checker.SocksEnabled = true
	}
	if *serve {
		cfg.API.Enabled = true
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	setupLogging(cfg)

	collector := metrics.NewCollector(cfg.Metrics.Namespace)

	store, err := storage.NewStorage(cfg.Storage.Type, cfg.Storage.Path)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	snap := snapshot.NewManager(store)
	defer snap.Close()

	runOnce := func(ctx context.Context) error {
		return runCheck(ctx, cfg, collector, snap)
	}

	if err := runOnce(context.Background()); err != nil {
		log.Fatalf("Run failed: %v", err)
	}

	if !cfg.API.Enabled {
		return
	}

	server := api.NewServer(cfg, snap, collector, runOnce)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Infof("Received signal %v, shutting down...", sig)
	case err := <-errCh:
		log.Errorf("API server error: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Shutdown error: %v", err)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func setupLogging(cfg *config.Config) {
	level, err := log.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Logging.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}
}

// runCheck performs one full cycle: fetch candidates, probe them, rank the
// results, write the report files and publish the snapshot.
func runCheck(ctx context.Context, cfg *config.Config, collector *metrics.Collector, snap *snapshot.Manager) error {
	start := time.Now()

	client := geonode.NewClient(cfg.GeoNode, collector)
	endpoints, stats, err := client.FetchAll(ctx, cfg.GeoNode.Pages)
	if err != nil {
		return err
	}
	log.Infof("Discovery done: %d candidates from %d pages (%d invalid dropped)",
		stats.Candidates, stats.PagesFetched, stats.Invalid)

	prober := probe.New(probe.Config{
		HTTPTarget:   cfg.Checker.HTTPTestURL,
		HTTPSTarget:  cfg.Checker.HTTPSTestURL,
		Timeout:      cfg.Checker.Timeout(),
		SocksEnabled: cfg.Checker.SocksEnabled,
		UserAgent:    cfg.GeoNode.UserAgent,
	})

	probeFn := prober.Probe
	if cfg.Checker.EnableFastFilter {
		reachable := probe.FastConnectFilter(endpoints,
			time.Duration(cfg.Checker.FastFilterTimeoutMs)*time.Millisecond,
			cfg.Checker.FastFilterConcurrency)
		probeFn = engine.SkipUnreachable(prober.Probe, reachable)
	}

	protocols := []types.Protocol{types.ProtocolHTTP, types.ProtocolHTTPS}
	if cfg.Checker.SocksEnabled {
		protocols = append(protocols, types.ProtocolSOCKS5)
	}

	eng, err := engine.New(probeFn, engine.Options{
		Workers:    cfg.Checker.Workers,
		Protocols:  protocols,
		OnComplete: report.LogRecord,
		Metrics:    collector,
	})
	if err != nil {
		return err
	}

	records := eng.Run(ctx, endpoints)

	s := summary.Summarize(records, cfg.Checker.TopResults, time.Since(start))

	collector.SetRunTotals(s.Working, s.Failed)
	report.LogSummary(s)

	if err := report.SaveAll(cfg.Output.ResultsPath, cfg.Output.WorkingPath,
		cfg.Output.FastestPath, records, s); err != nil {
		return err
	}

	snap.UpdateFromRun(s)
	return nil
}
