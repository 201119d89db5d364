package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mmdatafocus/finreport_backend/config"
	"github.com/mmdatafocus/finreport_backend/models"
	"github.com/mmdatafocus/finreport_backend/models/reports"
	"github.com/mmdatafocus/finreport_backend/utils"
)

func main() {
	familyKey := flag.String("family", "", "Optional: backfill only one statement family. If empty, backfills all families.")
	fromYear := flag.Int("from-year", time.Now().Year(), "First calendar year to recompute")
	toYear := flag.Int("to-year", time.Now().Year(), "Last calendar year to recompute")
	flag.Parse()

	if *fromYear > *toYear {
		fmt.Fprintf(os.Stderr, "from-year %d is after to-year %d\n", *fromYear, *toYear)
		os.Exit(2)
	}

	families, err := models.LoadStatementFamilies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load statement families: %v\n", err)
		os.Exit(1)
	}
	targets := families.All()
	if key := strings.TrimSpace(*familyKey); key != "" {
		f, err := families.Lookup(key)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		targets = []*models.StatementFamily{f}
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}

	ctx := utils.SetUserNameInContext(context.Background(), "BackfillCumulative")
	ledger := reports.NewLedger(models.NewGormLedgerStore(db), reports.NoopAggregateCache{}, nil, families)

	failed := false
	for _, f := range targets {
		for year := *fromYear; year <= *toYear; year++ {
			res, err := ledger.BackfillCumulative(ctx, f.Key, year)
			if err != nil {
				fmt.Fprintf(os.Stderr, "family %s year %d backfill failed: %v\n", f.Key, year, err)
				failed = true
				continue
			}
			fmt.Printf("Backfilled cumulative_amount family=%s year=%d rows=%d\n", res.Family, res.Year, res.Rows)
		}
	}
	if failed {
		os.Exit(1)
	}
	fmt.Println("Backfill complete")
}
