package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/chrscato/workcomp-rates-etl/backpressure"
	"github.com/chrscato/workcomp-rates-etl/metrics"
	"github.com/chrscato/workcomp-rates-etl/partition"
	"github.com/chrscato/workcomp-rates-etl/refdata"
	"github.com/chrscato/workcomp-rates-etl/source"
	"github.com/chrscato/workcomp-rates-etl/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML configuration")
	inventory := flag.Bool("inventory", false, "list committed partitions with decoded keys and exit")
	flag.Parse()

	cfg, err := LoadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *inventory {
		if err := runInventory(cfg, logger); err != nil {
			logger.Error("inventory failed", zap.Error(err))
			os.Exit(1)
		}
		return
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("run failed", zap.Error(err))
		os.Exit(1)
	}
}

// runInventory prints the lake's committed partitions as JSON, one audit
// entry per partition object. Read-only; no lease is taken.
func runInventory(cfg *AppConfig, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	st, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	entries, err := PartitionInventory(ctx, st, &partition.Encoder{Prefix: cfg.Partitioning.Prefix})
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func run(cfg *AppConfig, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Preflight. Everything here is fatal; the run has written nothing yet.
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.Catalog.Validate(); err != nil {
		return err
	}

	st, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	src, err := buildSource(cfg)
	if err != nil {
		return err
	}
	defer src.Close()

	catalog, err := refdata.Load(ctx, st, cfg.Reference, logger)
	if err != nil {
		return err
	}

	monitor, err := backpressure.NewMonitor(cfg.Backpressure, logger)
	if err != nil {
		return err
	}

	m := metrics.New(cfg.Metrics)
	if m.IsEnabled() {
		go func() {
			if err := m.StartServer(cfg.Metrics.Address); err != nil {
				logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	var registrar *Registrar
	if cfg.Catalog.Enabled {
		if cfg.Storage.Backend != "s3" {
			return fmt.Errorf("catalog registration requires the s3 backend")
		}
		registrar, err = NewRegistrarFromSession(cfg.Storage.Region, cfg.Catalog, logger)
		if err != nil {
			return err
		}
	}

	pipeline := NewPipeline(cfg, logger, st, src, catalog, monitor, m, registrar)
	summary, err := pipeline.Run(ctx)

	// The summary goes to stdout even for failed runs; logs go to stderr. A
	// copy also lands next to the data so runs can be audited after the fact.
	if summary != nil {
		if out, jsonErr := summary.JSON(); jsonErr == nil {
			fmt.Println(string(out))
			key := fmt.Sprintf("_runs/%s.json", summary.RunID)
			if putErr := st.Put(context.WithoutCancel(ctx), key, out); putErr != nil {
				logger.Warn("run summary not persisted", zap.String("key", key), zap.Error(putErr))
			}
		}
	}
	return err
}

func buildLogger(cfg *AppConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("bad logging.level %q: %w", cfg.Logging.Level, err)
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	if cfg.Logging.Format == "console" {
		zc.Encoding = "console"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	return zc.Build(zap.Fields(
		zap.String("service", cfg.Service.Name),
		zap.String("environment", cfg.Service.Environment),
	))
}

func buildStore(ctx context.Context, cfg *AppConfig, logger *zap.Logger) (store.Store, error) {
	switch cfg.Storage.Backend {
	case "s3":
		if cfg.Storage.VerifyCredentials {
			arn, err := store.VerifyCredentials(ctx, cfg.Storage.Region)
			if err != nil {
				return nil, fmt.Errorf("aws credential preflight: %w", err)
			}
			logger.Info("aws credentials verified", zap.String("arn", arn))
		}
		s3s, err := store.NewS3StoreFromSession(cfg.Storage.Region, cfg.Storage.Bucket)
		if err != nil {
			return nil, err
		}
		return store.WithRetry(s3s, cfg.RetryPolicy()), nil
	case "fs":
		return store.WithRetry(store.NewFSStore(cfg.Storage.Root), cfg.RetryPolicy()), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func buildSource(cfg *AppConfig) (source.Source, error) {
	switch cfg.Source.Kind {
	case "parquet":
		return source.OpenParquet(cfg.Source.Path)
	case "csv":
		return source.OpenCSV(cfg.Source.Path)
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Source.Kind)
	}
}
