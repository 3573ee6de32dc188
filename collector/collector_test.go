package collector

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/goswap/marketplace-stats/backend"
	"github.com/goswap/marketplace-stats/blobs"
	"github.com/goswap/marketplace-stats/models"
	"github.com/goswap/marketplace-stats/prices"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `app,ts,event,project_id,props,nums
market,2024-01-01 10:00:00.000,BUY_ITEMS,1660,"{""currencySymbol"":""MATIC"",""txnHash"":""0x1""}","{""currencyValueDecimal"":""1500000000000000000""}"
market,2024-01-01 12:00:00.000,BUY_ITEMS,1660,"{""currencySymbol"":""MATIC""}","{""currencyValueDecimal"":""500000000000000000""}"
market,2024-01-01 23:59:59.999,BUY_ITEMS,1660,"{""currencySymbol"":""USDC.e""}","{""currencyValueDecimal"":12.5}"
market,2024-01-02 01:00:00.000,BUY_ITEMS,4974,"{""currencySymbol"":""SFL""}","{""currencyValueDecimal"":""40""}"
market,2024-01-02 02:00:00.000,BUY_ITEMS,4974,"{""currencySymbol"":""WETH""}","{""currencyValueDecimal"":""1""}"
market,not a time,BUY_ITEMS,1,{},{}
market,2024-01-02 03:00:00.000,BUY_ITEMS,4974,"{bad json",{}
market,2024-01-02 04:00:00.000,BUY_ITEMS,4974,{},
`

type fakeRemote struct {
	prices map[string]string
	calls  int
}

func (f *fakeRemote) HistoricalPrice(ctx context.Context, coinID, date string) (decimal.Decimal, bool, error) {
	f.calls++
	p, ok := f.prices[coinID+"|"+date]
	if !ok {
		return decimal.Zero, false, nil
	}
	return decimal.RequireFromString(p), true, nil
}

type recordingPublisher struct {
	reports []*models.RunReport
}

func (p *recordingPublisher) Publish(ctx context.Context, r *models.RunReport) error {
	p.reports = append(p.reports, r)
	return nil
}

type fixture struct {
	c      *Collector
	bucket blobs.Bucket
	store  *prices.Store
	db     *backend.Mock
	runs   *backend.MemoryRuns
	pub    *recordingPublisher
	remote *fakeRemote

	changes int
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		bucket: blobs.NewMemory("test-bucket"),
		db:     backend.NewMock(),
		runs:   backend.NewMemoryRuns(),
		pub:    &recordingPublisher{},
		remote: &fakeRemote{prices: map[string]string{
			"matic-network|2024-01-01":  "0.85",
			"sunflower-land|2024-01-02": "0.05",
		}},
		now: time.Date(2024, 1, 3, 1, 0, 0, 0, time.UTC),
	}
	f.store = prices.NewStore(f.bucket, "prices/")
	resolver, err := prices.NewResolver(ctx, f.store, f.remote, prices.Options{
		CoinIDs:     map[string]string{"MATIC": "matic-network", "SFL": "sunflower-land"},
		Stablecoins: []string{"USDC", "USDC.E"},
		Decimals:    map[string]int32{"MATIC": 18},
	})
	require.NoError(t, err)
	f.c = &Collector{
		Bucket:    f.bucket,
		Warehouse: f.db,
		Prices:    resolver,
		Runs:      f.runs,
		Publisher: f.pub,
		RawPrefix: "raw/",
		OnChange:  func() { f.changes++ },
		Now:       func() time.Time { return f.now },
	}
	return f
}

func rowStrings(ms []*models.DailyMetric) []string {
	var ret []string
	for _, m := range ms {
		usd := "NULL"
		if m.Priced {
			usd = m.USDVolume.String()
		}
		ret = append(ret, m.Key()+" "+decimal.NewFromInt(m.NumTransactions).String()+" "+usd)
	}
	return ret
}

func TestFetchData(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	report, err := f.c.FetchData(ctx, "test.csv", strings.NewReader(sampleCSV))
	require.NoError(t, err)

	exp := []string{
		"2024-01-01|1660|MATIC 2 1.7",
		"2024-01-01|1660|USDC.E 1 12.5",
		"2024-01-02|4974| 1 NULL",
		"2024-01-02|4974|SFL 1 2",
		"2024-01-02|4974|WETH 1 NULL",
	}
	assert.Equal(t, exp, rowStrings(f.db.Rows()))

	assert.Equal(t, models.RunIngest, report.Kind)
	assert.Equal(t, "test.csv", report.Source)
	assert.Equal(t, 8, report.RowsRead)
	assert.Equal(t, 2, report.RowsSkipped)
	assert.Equal(t, 5, report.Metrics)
	assert.Equal(t, 3, report.Priced)
	assert.Equal(t, 2, report.Unpriced)
	assert.Equal(t, "16.2", report.USDVolume.String())
	assert.Equal(t, f.now, report.FinishedAt)

	// remote prices were cached in the bucket
	ok, err := f.bucket.Exists(ctx, "prices/MATIC/2024-01-01.json")
	require.NoError(t, err)
	assert.True(t, ok)

	require.Len(t, f.pub.reports, 1)
	assert.Equal(t, report.RunID, f.pub.reports[0].RunID)
	require.Len(t, f.runs.Runs(), 1)
	assert.Equal(t, 1, f.changes)

	// rerun is idempotent and doesn't hit the remote again
	calls := f.remote.calls
	_, err = f.c.FetchData(ctx, "test.csv", strings.NewReader(sampleCSV))
	require.NoError(t, err)
	assert.Equal(t, exp, rowStrings(f.db.Rows()))
	assert.Equal(t, calls, f.remote.calls)
}

func TestFetchDataBadCSV(t *testing.T) {
	f := newFixture(t)
	_, err := f.c.FetchData(context.Background(), "bad.csv", strings.NewReader("ts,project_id,props\n"))
	assert.Error(t, err)
	assert.Empty(t, f.db.Rows())
	assert.Empty(t, f.pub.reports)
}

func TestFetchDataWarehouseError(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("boom")
	f.c.Warehouse = backend.NewMock(boom)
	_, err := f.c.FetchData(context.Background(), "test.csv", strings.NewReader(sampleCSV))
	assert.Error(t, err)
	assert.Empty(t, f.runs.Runs())
}

func TestRunUploadsRawFile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	path := filepath.Join(t.TempDir(), "sample_data.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o644))

	report, err := f.c.Run(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "gs://test-bucket/raw/sample_data.csv", report.Source)

	raw, err := f.bucket.Get(ctx, "raw/sample_data.csv")
	require.NoError(t, err)
	assert.Equal(t, sampleCSV, string(raw))
	assert.Len(t, f.db.Rows(), 5)

	_, err = f.c.Run(ctx, filepath.Join(t.TempDir(), "nope.csv"))
	assert.Error(t, err)
}

func TestFetchObject(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	other := blobs.NewMemory("landing")
	_, err := other.Upload(ctx, "raw/export.csv", strings.NewReader(sampleCSV))
	require.NoError(t, err)

	report, err := f.c.FetchObject(ctx, other, "raw/export.csv")
	require.NoError(t, err)
	assert.Equal(t, "gs://landing/raw/export.csv", report.Source)
	assert.Len(t, f.db.Rows(), 5)

	_, err = f.c.FetchObject(ctx, other, "raw/missing.csv")
	assert.Error(t, err)
}

func TestUpdatePrices(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.c.FetchData(ctx, "test.csv", strings.NewReader(sampleCSV))
	require.NoError(t, err)

	// a WETH price shows up for an earlier day, the updater uses it as the last known price
	require.NoError(t, f.store.Put(ctx, "WETH", "2023-12-31", decimal.RequireFromString("2300")))

	report, err := f.c.UpdatePrices(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, models.RunPrices, report.Kind)
	assert.Equal(t, 2, report.Metrics)
	assert.Equal(t, 1, report.Priced)
	assert.Equal(t, 1, report.Unpriced)
	assert.Equal(t, 1, f.db.Updates)
	assert.Contains(t, rowStrings(f.db.Rows()), "2024-01-02|4974|WETH 1 2300")

	// once a day unless forced
	_, err = f.c.UpdatePrices(ctx, false)
	assert.Equal(t, ErrAlreadyRan, err)

	// the WETH row stays on the earlier price until something newer shows up
	report, err = f.c.UpdatePrices(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Metrics)
	assert.Equal(t, 0, report.Priced)
	assert.Equal(t, 1, report.Unchanged)
	assert.Equal(t, 1, f.db.Updates)

	f.now = f.now.Add(24 * time.Hour)
	require.NoError(t, f.store.Put(ctx, "WETH", "2024-01-02", decimal.RequireFromString("2400")))
	report, err = f.c.UpdatePrices(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Priced)
	assert.Contains(t, rowStrings(f.db.Rows()), "2024-01-02|4974|WETH 1 2400")
}

func TestUpdatePricesReplacesPriorPrice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	delete(f.remote.prices, "sunflower-land|2024-01-02")
	require.NoError(t, f.store.Put(ctx, "SFL", "2024-01-01", decimal.RequireFromString("0.04")))

	_, err := f.c.FetchData(ctx, "test.csv", strings.NewReader(sampleCSV))
	require.NoError(t, err)
	var sfl *models.DailyMetric
	for _, m := range f.db.Rows() {
		if m.CurrencySymbol == "SFL" {
			sfl = m
		}
	}
	require.NotNil(t, sfl)
	assert.Equal(t, "1.6", sfl.USDVolume.String())
	assert.Equal(t, models.SourcePrior, sfl.PriceSource)
	assert.Equal(t, "2024-01-01", sfl.PriceAsOf)

	// the exact price is available the next day
	f.remote.prices["sunflower-land|2024-01-02"] = "0.05"
	calls := f.remote.calls
	report, err := f.c.UpdatePrices(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Metrics)
	assert.Equal(t, 1, report.Priced)
	assert.Equal(t, 2, report.Unpriced)
	assert.Equal(t, calls+1, f.remote.calls)
	assert.Contains(t, rowStrings(f.db.Rows()), "2024-01-02|4974|SFL 1 2")

	unpriced, err := f.db.GetUnpricedMetrics(ctx)
	require.NoError(t, err)
	for _, m := range unpriced {
		assert.NotEqual(t, "SFL", m.CurrencySymbol)
	}
}

func TestAggregate(t *testing.T) {
	day1 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	txs := []*models.Transaction{
		{Time: day1, Date: "2024-01-01", ProjectID: 2, CurrencySymbol: "SFL", RawValue: decimal.NewFromInt(5)},
		{Time: day1, Date: "2024-01-01", ProjectID: 1, CurrencySymbol: "SFL", RawValue: decimal.NewFromInt(1)},
		{Time: day1, Date: "2024-01-01", ProjectID: 2, CurrencySymbol: "SFL", RawValue: decimal.RequireFromString("2.5")},
		{Time: day1, Date: "2023-12-31", ProjectID: 9, CurrencySymbol: "USDC", RawValue: decimal.NewFromInt(3)},
		{Time: day1, Date: "2024-01-01", ProjectID: 1, CurrencySymbol: "MATIC", RawValue: decimal.Zero},
	}

	tests := []struct {
		in  []*models.Transaction
		exp []string
	}{
		{nil, nil},
		{txs[:1], []string{"2024-01-01|2|SFL 1 5"}},
		{txs, []string{
			"2023-12-31|9|USDC 1 3",
			"2024-01-01|1|MATIC 1 0",
			"2024-01-01|1|SFL 1 1",
			"2024-01-01|2|SFL 2 7.5",
		}},
	}

	for i, test := range tests {
		var got []string
		for _, m := range Aggregate(test.in) {
			got = append(got, m.Key()+" "+decimal.NewFromInt(m.NumTransactions).String()+" "+m.RawVolume.String())
		}
		if !reflect.DeepEqual(got, test.exp) {
			t.Errorf("test %v | results mismatch:\nexpected: %v\ngot: %v", i, test.exp, got)
		}
	}
}
