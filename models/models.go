package models

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/treeder/gotils/v2"
)

// Transaction is one parsed row of the marketplace event export
type Transaction struct {
	Time           time.Time       `json:"ts"`
	Date           string          `json:"date"` // YYYY-MM-DD, UTC
	ProjectID      int64           `json:"project_id"`
	CurrencySymbol string          `json:"currency_symbol"`
	TxnHash        string          `json:"txn_hash,omitempty"`
	RawValue       decimal.Decimal `json:"raw_value"`
}

// Props is the JSON encoded props column
type Props struct {
	CurrencySymbol  string `json:"currencySymbol"`
	TransactionHash string `json:"txnHash"`
}

// DailyMetric is one row of the daily metrics table: a (date, project, currency) group.
type DailyMetric struct {
	Date            string          `json:"date"`
	ProjectID       int64           `json:"project_id"`
	CurrencySymbol  string          `json:"currency_symbol"`
	NumTransactions int64           `json:"num_transactions"`
	RawVolume       decimal.Decimal `json:"raw_volume"`
	USDVolume       decimal.Decimal `json:"usd_volume"`

	// Priced is false when no price could be resolved, usd_volume is stored as NULL then.
	Priced bool `json:"priced"`

	// PriceSource and PriceAsOf record which price usd_volume was computed with.
	// Rows priced from an earlier date are priced again by the daily update.
	PriceSource PriceSource `json:"price_source,omitempty"`
	PriceAsOf   string      `json:"price_as_of,omitempty"`
}

// Stale reports whether the row needs pricing again
func (m *DailyMetric) Stale() bool {
	return !m.Priced || m.PriceSource == SourcePrior
}

// Key identifies the group this metric belongs to
func (m *DailyMetric) Key() string {
	return MetricKey(m.Date, m.ProjectID, m.CurrencySymbol)
}

func (m *DailyMetric) String() string {
	return fmt.Sprintf("%v/%v/%v", m.Date, m.ProjectID, m.CurrencySymbol)
}

// MetricKey builds the group key for a (date, project, currency) triple
func MetricKey(date string, projectID int64, currency string) string {
	return fmt.Sprintf("%v|%v|%v", date, projectID, currency)
}

// DailyVolume is a row of the /daily-volumes endpoint
type DailyVolume struct {
	Date           string          `json:"date"`
	CurrencySymbol string          `json:"currency_symbol"`
	Transactions   int64           `json:"transactions"`
	TotalUSDVolume decimal.Decimal `json:"total_usd_volume"`
}

// ProjectVolume is a row of the /project-volumes endpoint
type ProjectVolume struct {
	ProjectID          int64           `json:"project_id"`
	CurrencySymbol     string          `json:"currency_symbol"`
	TotalTransactions  int64           `json:"total_transactions"`
	TotalProjectVolume decimal.Decimal `json:"total_project_volume"`
}

// TableSummary holds the numbers the validation script checks
type TableSummary struct {
	TotalRows      int64           `json:"total_rows"`
	UniqueDates    int64           `json:"unique_dates"`
	UniqueProjects int64           `json:"unique_projects"`
	NullVolumes    int64           `json:"null_volumes"`
	TotalUSDVolume decimal.Decimal `json:"total_usd_volume"`
	FirstDate      string          `json:"first_date,omitempty"`
	LastDate       string          `json:"last_date,omitempty"`
}

// PriceSource says which tier a price came from
type PriceSource string

const (
	SourceStable PriceSource = "stable"
	SourceMemo   PriceSource = "memo"
	SourceStored PriceSource = "stored"
	SourceRemote PriceSource = "remote"
	SourcePrior  PriceSource = "prior"
)

// Price is a resolved USD price for a currency on a date
type Price struct {
	Symbol string          `json:"symbol"`
	Date   string          `json:"date"`
	USD    decimal.Decimal `json:"usd"`
	Source PriceSource     `json:"source"`
	// AsOf is the date the price was observed, earlier than Date for prior prices.
	AsOf string `json:"as_of"`
}

type PriceNotFound struct {
	Symbol string
	Date   string
}

func (nf *PriceNotFound) Error() string {
	if nf.Symbol == "" {
		return "price not found!"
	}
	return fmt.Sprintf("no price available for %v on %v", nf.Symbol, nf.Date)
}

// Run kinds
const (
	RunIngest = "ingest"
	RunPrices = "prices"
)

// RunReport describes one execution of the ingest or price update job.
// Stored in firestore and published to pubsub.
type RunReport struct {
	RunID      string    `firestore:"runID" json:"run_id"`
	Kind       string    `firestore:"kind" json:"kind"`
	Source     string    `firestore:"source" json:"source,omitempty"`
	StartedAt  time.Time `firestore:"startedAt" json:"started_at"`
	FinishedAt time.Time `firestore:"finishedAt" json:"finished_at"`

	RowsRead    int `firestore:"rowsRead" json:"rows_read"`
	RowsSkipped int `firestore:"rowsSkipped" json:"rows_skipped"`
	Metrics     int `firestore:"metrics" json:"metrics"`
	Priced      int `firestore:"priced" json:"priced"`
	Unpriced    int `firestore:"unpriced" json:"unpriced"`
	// Unchanged counts rows the price update left on the same earlier price
	Unchanged   int `firestore:"unchanged" json:"unchanged"`

	USDVolume  decimal.Decimal `firestore:"-" json:"usd_volume"`
	USDVolumeS string          `firestore:"usdVolume" json:"-"`
}

// Count adds a processed metric to the run totals
func (r *RunReport) Count(m *DailyMetric) {
	if !m.Priced {
		r.Unpriced++
		return
	}
	r.Priced++
	r.USDVolume = r.USDVolume.Add(m.USDVolume)
}

func (r *RunReport) PreSave() {
	r.USDVolumeS = r.USDVolume.String()
}

func (r *RunReport) AfterLoad(ctx context.Context) {
	var err error
	r.USDVolume, err = decimal.NewFromString(r.USDVolumeS)
	if err != nil && r.USDVolumeS != "" {
		gotils.C(ctx).Printf("bad usd volume on run %v: %v", r.RunID, err)
	}
}

// LastRun is the marker doc the scheduler checks so it runs at most once a day
type LastRun struct {
	LastRunAt time.Time `firestore:"lastRunAt" json:"lastRunAt"`
	RunID     string    `firestore:"runID" json:"runID"`
	Kind      string    `firestore:"kind" json:"kind"`
}
