// Package validation checks the daily metrics table after a load and prints a report.
package validation

import (
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/goswap/marketplace-stats/backend"
	"github.com/goswap/marketplace-stats/models"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Validator runs checks against a StatsBackend and writes human readable output to Out
type Validator struct {
	DB  backend.StatsBackend
	Out io.Writer
}

// USD formats d as $1,234.56
func USD(d decimal.Decimal) string {
	return "$" + humanize.FormatFloat("#,###.##", d.Round(2).InexactFloat64())
}

func (v *Validator) printf(format string, args ...interface{}) {
	fmt.Fprintf(v.Out, format, args...)
}

// VerifySetup checks the table is reachable and prints its row count
func (v *Validator) VerifySetup(ctx context.Context) bool {
	s, err := v.DB.GetSummary(ctx)
	return v.printSetup(s, err)
}

func (v *Validator) printSetup(s *models.TableSummary, err error) bool {
	if err != nil {
		v.printf("❌ Setup verification failed: %v\n", err)
		return false
	}
	v.printf("✓ Found %v rows in daily_metrics\n", s.TotalRows)
	return true
}

// VerifyData passes when the table has rows and every row has a USD volume
func (v *Validator) VerifyData(ctx context.Context) bool {
	s, err := v.DB.GetSummary(ctx)
	return v.printData(s, err)
}

func (v *Validator) printData(s *models.TableSummary, err error) bool {
	if err != nil {
		v.printf("❌ Data validation failed: %v\n", err)
		return false
	}
	v.printf("\nData Validation Results:\n")
	v.printf("Total Rows: %v\n", s.TotalRows)
	v.printf("Unique Dates: %v\n", s.UniqueDates)
	v.printf("Unique Projects: %v\n", s.UniqueProjects)
	v.printf("Null Volumes: %v\n", s.NullVolumes)
	if s.TotalRows == 0 {
		v.printf("❌ Table is empty\n")
		return false
	}
	return s.NullVolumes == 0
}

// DisplayResults prints totals per project and currency
func (v *Validator) DisplayResults(ctx context.Context) bool {
	vols, err := v.DB.GetProjectVolumes(ctx)
	return v.printResults(vols, err)
}

func (v *Validator) printResults(vols []*models.ProjectVolume, err error) bool {
	if err != nil {
		v.printf("❌ Error displaying results: %v\n", err)
		return false
	}
	v.printf("\nFinal Project Results:\n")
	v.printf("----------------------\n")
	for _, pv := range vols {
		v.printf("Project %v - %v:\n", pv.ProjectID, pv.CurrencySymbol)
		v.printf("  Transactions: %v\n", pv.TotalTransactions)
		v.printf("  Total Volume: %v\n", USD(pv.TotalProjectVolume))
	}
	return true
}

// DisplayRows prints every row by date and project, then the total volume and date range
func (v *Validator) DisplayRows(ctx context.Context) bool {
	rows, err := v.DB.GetMetrics(ctx, "", "")
	return v.printRows(rows, err)
}

func (v *Validator) printRows(rows []*models.DailyMetric, err error) bool {
	if err != nil {
		v.printf("❌ Error reading rows: %v\n", err)
		return false
	}
	v.printf("\nData in warehouse:\n")
	v.printf("%-10s  %10s  %-8s  %6s  %16s\n", "date", "project_id", "currency", "txns", "usd_volume")
	total := decimal.Zero
	for _, m := range rows {
		usd := "NULL"
		if m.Priced {
			usd = USD(m.USDVolume)
			total = total.Add(m.USDVolume)
		}
		v.printf("%-10s  %10d  %-8s  %6d  %16s\n", m.Date, m.ProjectID, m.CurrencySymbol, m.NumTransactions, usd)
	}
	v.printf("\nSummary Statistics:\n")
	v.printf("Total Records: %v\n", len(rows))
	v.printf("Total Volume: %v\n", total.StringFixed(2))
	if len(rows) > 0 {
		v.printf("Date Range: %v to %v\n", rows[0].Date, rows[len(rows)-1].Date)
	}
	return true
}

// Run queries everything in parallel, prints the sections in a fixed order and
// returns whether setup, data and results checks all passed. Rows are only
// printed when showRows is set.
func (v *Validator) Run(ctx context.Context, showRows bool) bool {
	var (
		summary    *models.TableSummary
		summaryErr error
		vols       []*models.ProjectVolume
		volsErr    error
		rows       []*models.DailyMetric
		rowsErr    error
	)
	// errors are reported per section so none of these fail the group
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		summary, summaryErr = v.DB.GetSummary(gctx)
		return nil
	})
	g.Go(func() error {
		vols, volsErr = v.DB.GetProjectVolumes(gctx)
		return nil
	})
	if showRows {
		g.Go(func() error {
			rows, rowsErr = v.DB.GetMetrics(gctx, "", "")
			return nil
		})
	}
	_ = g.Wait()

	setupOK := v.printSetup(summary, summaryErr)
	dataOK := v.printData(summary, summaryErr)
	v.printf("\nDisplaying final results...\n")
	resultsOK := v.printResults(vols, volsErr)
	if showRows {
		v.printRows(rows, rowsErr)
	}
	return setupOK && dataOK && resultsOK
}
