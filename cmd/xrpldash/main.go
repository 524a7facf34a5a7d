// Package main runs the xrpldash server: it streams XRPL ledgers, derives
// the XRP/USD price series, and serves dashboard clients over websockets.
package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/xrpldash/xrpldash/internal/app"
	"github.com/xrpldash/xrpldash/internal/app/storage"
	"github.com/xrpldash/xrpldash/internal/app/storage/postgres"
	"github.com/xrpldash/xrpldash/internal/config"
	"github.com/xrpldash/xrpldash/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	seedCSV := flag.String("seed-csv", "", "Seed historical daily prices from a CSV file, then continue")
	interpolate := flag.Bool("interpolate", false, "Expand seeded daily prices into per-minute rows")
	flag.Parse()

	log := logger.NewDefault("main")
	cfg := config.LoadOrDefault(*configPath)

	var db *sql.DB
	if cfg.Database.DSN != "" {
		var err error
		db, err = sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			log.WithError(err).Error("open database failed")
			os.Exit(1)
		}
		defer db.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			log.WithError(err).Error("database unreachable")
			os.Exit(1)
		}
		if err := postgres.New(db).EnsureSchema(context.Background()); err != nil {
			log.WithError(err).Error("schema setup failed")
			os.Exit(1)
		}
	}

	application, err := app.New(cfg, db, log)
	if err != nil {
		log.WithError(err).Error("application setup failed")
		os.Exit(1)
	}

	if *seedCSV != "" {
		if err := seed(application.Store(), *seedCSV, *interpolate, log); err != nil {
			log.WithError(err).Error("seed failed")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		log.WithError(err).Error("server exited with error")
		os.Exit(1)
	}
}

func seed(store storage.PriceStore, path string, interpolate bool, log *logger.Logger) error {
	ctx := context.Background()

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	imported, err := storage.ImportCSV(ctx, store, f)
	if err != nil {
		return err
	}
	log.WithField("rows", imported).Info("seeded daily prices")

	if interpolate {
		// Minute interpolation only helps before any live history exists;
		// real ledger rows already give short intervals data.
		hasHistory, err := store.HasHistory(ctx)
		if err != nil {
			return err
		}
		if hasHistory {
			log.Info("live history present, skipping minute interpolation")
			return nil
		}
		expanded, err := storage.InterpolateMinutes(ctx, store, log)
		if err != nil {
			return err
		}
		log.WithField("rows", expanded).Info("interpolated per-minute prices")
	}
	return nil
}
