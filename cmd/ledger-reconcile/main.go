// ledger-reconcile replays stock movements, reading chains and transfers and
// reports drift. It never repairs. Exit code 3 means issues were found.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... \
//	  go run ./cmd/ledger-reconcile [-site TP01] [-json]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sekura/tollops_backend/config"
	"github.com/sekura/tollops_backend/models"
	"github.com/sekura/tollops_backend/utils"
	"github.com/sekura/tollops_backend/workflow"
	"github.com/sirupsen/logrus"
)

func main() {
	site := flag.String("site", "", "limit the run to one site")
	asJSON := flag.Bool("json", false, "print the full report as JSON")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall timeout")
	dbAttempts := flag.Int("db-attempts", 5, "database connection attempts before giving up")
	flag.Parse()

	logger := config.GetLogger()
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := config.ConnectDatabase(ctx, *dbAttempts); err != nil {
		config.LogError(logger, "ledger-reconcile", "main", "connect database", nil, err)
		os.Exit(1)
	}
	store := models.NewGormStore(config.GetDB())

	ctx = utils.SetCorrelationIdInContext(ctx, "cli-"+uuid.NewString())

	report, err := workflow.NewReconciler(store, logger).Run(ctx, *site)
	if err != nil {
		config.LogError(logger, "ledger-reconcile", "main", "reconcile", *site, err)
		os.Exit(1)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)
	} else {
		fmt.Printf("checked %d items, %d cycles, %d transfers in %s\n",
			report.CheckedItems, report.CheckedCycles, report.CheckedTransfer,
			report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
		for _, issue := range report.Issues {
			fmt.Printf("  %-15s %-12s %-30s %s\n", issue.CheckType, issue.EntityType, issue.EntityKey, issue.Details)
		}
	}

	if !report.OK() {
		logger.WithFields(logrus.Fields{
			"field":  "ledger-reconcile",
			"issues": len(report.Issues),
		}).Warn("ledger drift detected")
		os.Exit(3)
	}
}
