// Command goes-recovery executes one historic imagery recovery query
// against the tiered archive and prints the resulting report.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/wxarchive/goes-recovery/internal/archive"
	"github.com/wxarchive/goes-recovery/internal/config"
	"github.com/wxarchive/goes-recovery/internal/logging"
	"github.com/wxarchive/goes-recovery/internal/metrics"
	"github.com/wxarchive/goes-recovery/internal/mirror"
	"github.com/wxarchive/goes-recovery/internal/query"
	"github.com/wxarchive/goes-recovery/internal/recovery"
	"github.com/wxarchive/goes-recovery/internal/status"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML config (optional)")
		queryPath  = flag.String("query", "", "path to the query JSON document (required)")
		queryID    = flag.String("id", "", "query tracking id (generated when empty)")
	)
	flag.Parse()

	if *queryPath == "" {
		fmt.Fprintln(os.Stderr, "usage: goes-recovery -query <query.json> [-config <config.yaml>] [-id <id>]")
		os.Exit(2)
	}

	cfg := config.MustLoad(*configPath)

	logging.Setup(logging.Config{
		Format: cfg.Logging.Format,
		Level:  cfg.Logging.Level,
	})
	log := logging.Component("main")

	if cfg.Metrics.Enabled {
		metrics.Init("")
		go func() {
			log.Info("metrics server starting", "address", cfg.Metrics.Address)
			if err := metrics.StartServer(cfg.Metrics.Address); err != nil {
				log.Error("metrics server failed", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *queryPath, *queryID); err != nil {
		log.Error("recovery failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, queryPath, id string) error {
	raw, err := os.ReadFile(queryPath)
	if err != nil {
		return fmt.Errorf("read query %s: %w", queryPath, err)
	}
	q, err := query.Parse(raw)
	if err != nil {
		return err
	}
	if id == "" {
		id = uuid.NewString()
	}
	ctx = logging.WithCorrelationID(ctx, logging.GenerateCorrelationID())

	store, err := status.NewStore(status.Config{
		Enabled: cfg.Status.Enabled,
		Path:    cfg.Status.Path,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	opts := recovery.Options{
		Status:         store,
		DownloadDir:    cfg.Recovery.DownloadDir,
		Workers:        cfg.Recovery.Workers,
		ProcessTimeout: time.Duration(cfg.Recovery.ProcessTimeoutSec) * time.Second,
		Catalog:        cfg.Recovery.Products,
	}

	if cfg.Archive.Enabled {
		opts.Archive = archive.NewScanner(cfg.Archive.Root)
	}
	if cfg.Mirror.Enabled {
		epochs, err := cfg.EpochTable()
		if err != nil {
			return err
		}
		opts.Mirror = mirror.New(mirror.Config{
			BucketURL:      cfg.Mirror.BucketURL,
			Endpoint:       cfg.Mirror.Endpoint,
			Region:         cfg.Mirror.Region,
			ConnectTimeout: time.Duration(cfg.Mirror.ConnectTimeoutSec) * time.Second,
			ReadTimeout:    time.Duration(cfg.Mirror.ReadTimeoutSec) * time.Second,
			RetryAttempts:  cfg.Mirror.RetryAttempts,
			RetryBackoff:   time.Duration(cfg.Mirror.RetryBackoffSec) * time.Second,
			Workers:        cfg.Mirror.Workers,
			Catalog:        cfg.Recovery.Products,
		}, epochs)
	}

	report, err := recovery.New(opts).Run(ctx, id, q)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
