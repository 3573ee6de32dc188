package collector

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/goswap/marketplace-stats/backend"
	"github.com/goswap/marketplace-stats/blobs"
	"github.com/goswap/marketplace-stats/models"
	"github.com/goswap/marketplace-stats/prices"
	"github.com/goswap/marketplace-stats/utils"
	"github.com/shopspring/decimal"
	"github.com/treeder/gcputils"
	"github.com/treeder/gotils"
)

// ErrAlreadyRan is returned by UpdatePrices when the update already ran today
var ErrAlreadyRan = errors.New("price update already ran today")

// Collector runs the ingest and price update jobs
type Collector struct {
	Bucket    blobs.Bucket
	Warehouse backend.MetricsWriter
	Prices    *prices.Resolver
	Runs      backend.RunStore
	Publisher Publisher

	// RawPrefix is where uploaded CSVs go in the bucket, eg: raw/
	RawPrefix string

	// OnChange is called after rows were written, eg: to purge a read cache
	OnChange func()

	// Now defaults to time.Now
	Now func() time.Time
}

func (c *Collector) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Collector) newReport(kind, source string) *models.RunReport {
	return &models.RunReport{
		RunID:     uuid.NewString(),
		Kind:      kind,
		Source:    source,
		StartedAt: c.now().UTC(),
		USDVolume: decimal.Zero,
	}
}

// Run uploads a local CSV to the bucket then ingests it
func (c *Collector) Run(ctx context.Context, path string) (*models.RunReport, error) {
	created, err := c.Bucket.Ensure(ctx)
	if err != nil {
		return nil, gotils.C(ctx).Errorf("error setting up bucket: %v", err)
	}
	if created {
		gcputils.Info().Printf("Bucket %v created", c.Bucket.Name())
	} else {
		gcputils.Info().Printf("Using existing bucket: %v", c.Bucket.Name())
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, gotils.C(ctx).Errorf("error opening %v: %v", path, err)
	}
	defer f.Close()

	uri, err := c.Bucket.Upload(ctx, c.RawPrefix+filepath.Base(path), f)
	if err != nil {
		return nil, gotils.C(ctx).Errorf("error uploading %v: %v", path, err)
	}
	gcputils.Info().Printf("File uploaded to %v", uri)

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, gotils.C(ctx).Errorf("%v", err)
	}
	return c.FetchData(ctx, uri, f)
}

// FetchObject ingests a CSV that is already in a bucket
func (c *Collector) FetchObject(ctx context.Context, b blobs.Bucket, name string) (*models.RunReport, error) {
	data, err := b.Get(ctx, name)
	if err != nil {
		return nil, gotils.C(ctx).Errorf("error reading %v: %v", blobs.URI(b.Name(), name), err)
	}
	return c.FetchData(ctx, blobs.URI(b.Name(), name), bytes.NewReader(data))
}

// FetchData is the main ingest function. It parses and aggregates the CSV, converts
// each group to USD and replaces the rows for the batch's dates in the warehouse.
func (c *Collector) FetchData(ctx context.Context, source string, r io.Reader) (*models.RunReport, error) {
	report := c.newReport(models.RunIngest, source)
	c.Prices.ForgetFallbacks()
	ctx = gotils.With(ctx, "run_id", report.RunID)
	l := gcputils.With("run_id", report.RunID)
	l.Info().Printf("Ingest starting, source: %v", source)

	txs, skipped, err := ReadTransactions(r)
	if err != nil {
		return nil, gotils.C(ctx).Errorf("error reading transactions from %v: %v", source, err)
	}
	metrics := Aggregate(txs)
	report.RowsRead = len(txs) + skipped
	report.RowsSkipped = skipped
	report.Metrics = len(metrics)
	l.Info().Printf("Read %v rows (%v skipped), %v daily groups", report.RowsRead, skipped, len(metrics))

	for _, m := range metrics {
		if err := c.priceMetric(ctx, m); err != nil {
			return nil, err
		}
		report.Count(m)
	}

	if err := c.Warehouse.EnsureTable(ctx); err != nil {
		return nil, gotils.C(ctx).Errorf("error setting up warehouse: %v", err)
	}
	if err := c.Warehouse.ReplaceMetrics(ctx, metrics); err != nil {
		return nil, gotils.C(ctx).Errorf("error loading metrics: %v", err)
	}

	c.finish(ctx, report)
	return report, nil
}

// priceMetric sets the USD volume on m. A missing price leaves m unpriced.
func (c *Collector) priceMetric(ctx context.Context, m *models.DailyMetric) error {
	p, err := c.Prices.Resolve(ctx, m.CurrencySymbol, m.Date)
	if err != nil {
		var nf *models.PriceNotFound
		if errors.As(err, &nf) {
			gcputils.Info().Printf("%v price error: %v", m, nf)
			m.Priced = false
			return nil
		}
		return gotils.C(ctx).Errorf("error getting price for %v: %v", m, err)
	}
	m.USDVolume = c.Prices.ToUSD(m.CurrencySymbol, m.RawVolume, p)
	m.Priced = true
	m.PriceSource = p.Source
	m.PriceAsOf = p.AsOf
	gcputils.Info().Printf("updated %v for %v, project %v, raw %v, price %v (%v), usd %v",
		m.CurrencySymbol, m.Date, m.ProjectID, c.Prices.Scaled(m.CurrencySymbol, m.RawVolume), p.USD, p.Source, m.USDVolume.StringFixed(2))
	return nil
}

// UpdatePrices prices every row that is still missing a USD volume, and prices again the
// rows that used a price from an earlier date. Unless forced it runs at most once per
// UTC day and returns ErrAlreadyRan otherwise.
func (c *Collector) UpdatePrices(ctx context.Context, force bool) (*models.RunReport, error) {
	today := utils.DateString(c.now())
	if !force && c.Runs != nil {
		lr, err := c.Runs.LastRun(ctx, models.RunPrices)
		if err != nil && err != gotils.ErrNotFound {
			return nil, gotils.C(ctx).Errorf("error getting last run: %v", err)
		}
		if err == nil && utils.DateString(lr.LastRunAt) == today {
			gcputils.Info().Printf("Price update already ran today at %v, skipping", lr.LastRunAt)
			return nil, ErrAlreadyRan
		}
	}

	report := c.newReport(models.RunPrices, "warehouse")
	c.Prices.ForgetFallbacks()
	ctx = gotils.With(ctx, "run_id", report.RunID)
	l := gcputils.With("run_id", report.RunID)
	l.Info().Printf("Starting daily price update for %v", today)

	metrics, err := c.Warehouse.GetUnpricedMetrics(ctx)
	if err != nil {
		return nil, gotils.C(ctx).Errorf("error getting unpriced metrics: %v", err)
	}
	report.Metrics = len(metrics)
	for _, m := range metrics {
		prev := *m
		if err := c.priceMetric(ctx, m); err != nil {
			return nil, err
		}
		// a row on an earlier price keeps it until something newer shows up
		if prev.Priced && (!m.Priced || (m.PriceSource == models.SourcePrior && m.PriceAsOf == prev.PriceAsOf)) {
			report.Unchanged++
			continue
		}
		if m.Priced {
			if err := c.Warehouse.SetUSDVolume(ctx, m); err != nil {
				return nil, gotils.C(ctx).Errorf("error updating %v: %v", m, err)
			}
		}
		report.Count(m)
	}

	c.finish(ctx, report)
	l.Info().Printf("Daily price update completed, %v of %v rows priced, %v unchanged", report.Priced, report.Metrics, report.Unchanged)
	return report, nil
}

// finish records and announces a successful run, failures here are only logged
func (c *Collector) finish(ctx context.Context, report *models.RunReport) {
	report.FinishedAt = c.now().UTC()
	if c.Runs != nil {
		if err := c.Runs.SaveRun(ctx, report); err != nil {
			gcputils.Error().Printf("error saving run %v: %v", report.RunID, err)
		}
	}
	if c.Publisher != nil {
		if err := c.Publisher.Publish(ctx, report); err != nil {
			gcputils.Error().Printf("error publishing run %v: %v", report.RunID, err)
		}
	}
	if c.OnChange != nil && (report.Kind == models.RunIngest || report.Priced > 0) {
		c.OnChange()
	}
	gcputils.Info().Printf("%v run %v complete: %v groups, %v priced, %v unpriced, $%v",
		report.Kind, report.RunID, report.Metrics, report.Priced, report.Unpriced, report.USDVolume.StringFixed(2))
}
