package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mmdatafocus/finreport_backend/config"
	"github.com/mmdatafocus/finreport_backend/models"
	"github.com/mmdatafocus/finreport_backend/models/reports"
	"github.com/mmdatafocus/finreport_backend/utils"
	"github.com/xuri/excelize/v2"
)

func main() {
	familyKey := flag.String("family", "", "Balance statement family to import into (required)")
	periodFlag := flag.String("period", "", "Period the balances close, YYYY-MM (required), e.g. 2023-12 for a January start")
	file := flag.String("file", "", "xlsx workbook with columns segment, customer, field, closing balance (required)")
	sheet := flag.String("sheet", "", "Optional: sheet name. Defaults to the first sheet.")
	dryRun := flag.Bool("dry-run", false, "Parse and validate only")
	flag.Parse()

	if *familyKey == "" || *periodFlag == "" || *file == "" {
		flag.Usage()
		os.Exit(2)
	}
	period, err := models.ParsePeriod(*periodFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	families, err := models.LoadStatementFamilies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load statement families: %v\n", err)
		os.Exit(1)
	}
	family, err := families.Lookup(*familyKey)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if !family.Kind.CarriesForward() {
		fmt.Fprintf(os.Stderr, "%s is a %s family; only balance families take opening balances\n", family.Key, family.Kind)
		os.Exit(2)
	}

	rows, err := readSheet(*file, *sheet)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read %s: %v\n", *file, err)
		os.Exit(1)
	}
	facts, err := parseBalanceRows(rows, family, period)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := family.ValidateFacts(facts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *dryRun {
		fmt.Printf("Parsed %d closing balances for %s %s\n", len(facts), family.Key, period)
		return
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	if err := models.MigrateTable(db, families); err != nil {
		fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
		os.Exit(1)
	}
	config.ConnectRedisWithRetry()

	ctx := utils.SetUserNameInContext(context.Background(), "ImportOpeningBalances")
	ledger := reports.NewLedger(models.NewGormLedgerStore(db), reports.NewAggregateCache(), models.NewGormSubmissionTracker(db), families)
	if err := ledger.SavePeriod(ctx, family.Key, period, facts); err != nil {
		fmt.Fprintf(os.Stderr, "import failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Imported %d closing balances into %s %s\n", len(facts), family.Key, period)
}

func readSheet(path string, sheet string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	return f.GetRows(sheet)
}

// parseBalanceRows reads segment, customer, field, closing balance. A first
// row whose balance cell is not a number is the header. Blank rows are
// skipped; an empty field cell means the family's only field.
func parseBalanceRows(rows [][]string, family *models.StatementFamily, period models.Period) ([]models.PeriodFact, error) {
	var facts []models.PeriodFact
	for i, row := range rows {
		cells := make([]string, 4)
		for j := 0; j < len(cells) && j < len(row); j++ {
			cells[j] = strings.TrimSpace(row[j])
		}
		if cells[0] == "" && cells[1] == "" && cells[3] == "" {
			continue
		}
		if cells[2] == "" && len(family.Fields) == 1 {
			cells[2] = family.Fields[0]
		}
		amount, err := utils.ParseDecimal(cells[3])
		if err != nil {
			if i == 0 {
				continue
			}
			return nil, fmt.Errorf("row %d: closing balance %q: %w", i+1, cells[3], err)
		}
		facts = append(facts, models.PeriodFact{
			Entity:         family.Entity,
			Period:         period,
			Segment:        cells[0],
			Customer:       cells[1],
			Field:          cells[2],
			ClosingBalance: &amount,
		})
	}
	if len(facts) == 0 {
		return nil, fmt.Errorf("no balance rows found")
	}
	return facts, nil
}
