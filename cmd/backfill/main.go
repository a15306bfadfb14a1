// Command backfill fills in the hospital id on request records created
// before records carried it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	requestinfra "github.com/bloodbridge/platform/internal/request/infrastructure"
	"github.com/bloodbridge/platform/internal/shared/config"
	"github.com/bloodbridge/platform/internal/shared/database"
	"github.com/bloodbridge/platform/internal/shared/logging"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "report what would change and roll back")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall time limit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log, cfg.Server.ServiceName+"-backfill")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("database not available", zap.Error(err))
	}
	defer db.Close()

	res, err := requestinfra.BackfillHospitalIDs(ctx, db.Pool, *dryRun)
	if err != nil {
		logger.Fatal("backfill failed", zap.Error(err))
	}

	logger.Info("backfill finished",
		zap.Bool("dry_run", *dryRun),
		zap.Int64("from_broadcast", res.FromBroadcast),
		zap.Int64("from_sibling", res.FromSibling),
		zap.Int64("remaining", res.Remaining),
	)
}
