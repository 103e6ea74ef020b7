// seed-opening initializes (or re-seeds) the opening values of one instrument.
// Re-seeding keeps the reading history and starts a new chain from the given values.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... \
//	  go run ./cmd/seed-opening -site TP01 -instrument DG1 -metric-set DG \
//	  -value diesel=120 -value kwh=10500 -value rh=4435:12
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sekura/tollops_backend/config"
	"github.com/sekura/tollops_backend/models"
	"github.com/sekura/tollops_backend/workflow"
	"github.com/sirupsen/logrus"
)

type valueFlags map[string]string

func (v valueFlags) String() string { return fmt.Sprint(map[string]string(v)) }

func (v valueFlags) Set(s string) error {
	name, value, ok := strings.Cut(s, "=")
	if !ok || strings.TrimSpace(name) == "" {
		return fmt.Errorf("expected name=value, got %q", s)
	}
	v[strings.TrimSpace(name)] = value
	return nil
}

func main() {
	site := flag.String("site", "", "site code")
	instrument := flag.String("instrument", "", "instrument id")
	metricSet := flag.String("metric-set", "", "metric set code: "+strings.Join(models.MetricSetCodes(), ", "))
	actor := flag.String("actor", "seed-opening", "actor recorded in the audit trail")
	dbAttempts := flag.Int("db-attempts", 5, "database connection attempts before giving up")
	opening := valueFlags{}
	flag.Var(opening, "value", "opening value as name=value; repeat per metric")
	flag.Parse()

	if *site == "" || *instrument == "" || *metricSet == "" {
		flag.Usage()
		os.Exit(2)
	}

	logger := config.GetLogger()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := config.ConnectDatabase(ctx, *dbAttempts); err != nil {
		config.LogError(logger, "seed-opening", "main", "connect database", nil, err)
		os.Exit(1)
	}
	if config.MigrationsEnabled() {
		models.MigrateTable()
	}
	store := models.NewGormStore(config.GetDB())
	audit := workflow.NewAuditTrail(store, nil, logger)
	cycles := workflow.NewCycleLedger(store, workflow.NewLocalLocker(), audit, logger)

	state, err := cycles.Initialize(ctx, workflow.InitRequest{
		Site:         *site,
		InstrumentId: *instrument,
		MetricSet:    *metricSet,
		Opening:      opening,
		Identity:     models.Identity{Actor: *actor, Role: models.RoleAdmin},
		Source:       "cli",
	})
	if state == nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "seed-opening"}).Warn(err.Error())
	}

	fmt.Printf("%s/%s opening (version %d):\n", state.Site, state.InstrumentId, state.Version)
	for name, v := range workflow.FormatValues(state.MetricSet, state.OpeningValues) {
		fmt.Printf("  %-10s %s\n", name, v)
	}
}
