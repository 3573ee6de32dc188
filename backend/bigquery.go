package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/gochain-io/explorer/server/utils"
	"github.com/goswap/marketplace-stats/models"
	"github.com/shopspring/decimal"
	"github.com/treeder/gcputils"
	"github.com/treeder/gotils"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// MetricsSchema is the daily metrics table layout
var MetricsSchema = bigquery.Schema{
	{Name: "date", Type: bigquery.DateFieldType, Required: true},
	{Name: "project_id", Type: bigquery.IntegerFieldType, Required: true},
	{Name: "currency_symbol", Type: bigquery.StringFieldType, Required: true},
	{Name: "num_transactions", Type: bigquery.IntegerFieldType, Required: true},
	{Name: "raw_volume", Type: bigquery.BigNumericFieldType},
	{Name: "usd_volume", Type: bigquery.FloatFieldType},
	{Name: "price_source", Type: bigquery.StringFieldType},
	{Name: "price_as_of", Type: bigquery.DateFieldType},
	{Name: "updated_at", Type: bigquery.TimestampFieldType},
}

// missingFields returns the MetricsSchema columns an existing table doesn't have yet
func missingFields(have bigquery.Schema) bigquery.Schema {
	names := map[string]bool{}
	for _, f := range have {
		names[f.Name] = true
	}
	var ret bigquery.Schema
	for _, f := range MetricsSchema {
		if !names[f.Name] {
			ret = append(ret, f)
		}
	}
	return ret
}

// BigQuery stores daily metrics in a single warehouse table
type BigQuery struct {
	c        *bigquery.Client
	dataset  string
	table    string
	location string
}

var _ Warehouse = (*BigQuery)(nil)

func NewBigQuery(c *bigquery.Client, dataset, table, location string) *BigQuery {
	return &BigQuery{c: c, dataset: dataset, table: table, location: location}
}

// tableRef is the fully qualified, quoted table name for standard SQL
func (bq *BigQuery) tableRef() string {
	return fmt.Sprintf("`%s.%s.%s`", bq.c.Project(), bq.dataset, bq.table)
}

func apiCode(err error) int {
	var e *googleapi.Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

func (bq *BigQuery) EnsureTable(ctx context.Context) error {
	ds := bq.c.Dataset(bq.dataset)
	if _, err := ds.Metadata(ctx); err != nil {
		if apiCode(err) != http.StatusNotFound {
			return gotils.C(ctx).Errorf("error getting dataset %v: %v", bq.dataset, err)
		}
		err = ds.Create(ctx, &bigquery.DatasetMetadata{Location: bq.location})
		if err != nil && apiCode(err) != http.StatusConflict {
			return gotils.C(ctx).Errorf("error creating dataset %v: %v", bq.dataset, err)
		}
		gcputils.Info().Printf("Created dataset %v in %v", bq.dataset, bq.location)
	}

	t := ds.Table(bq.table)
	md, err := t.Metadata(ctx)
	if err != nil {
		if apiCode(err) != http.StatusNotFound {
			return gotils.C(ctx).Errorf("error getting table %v: %v", bq.table, err)
		}
		err = t.Create(ctx, &bigquery.TableMetadata{Schema: MetricsSchema})
		if err != nil && apiCode(err) != http.StatusConflict {
			return gotils.C(ctx).Errorf("error creating table %v: %v", bq.table, err)
		}
		gcputils.Info().Printf("Created table %v.%v", bq.dataset, bq.table)
		return nil
	}

	// tables created before the price columns existed get them added, new columns are nullable
	if missing := missingFields(md.Schema); len(missing) > 0 {
		schema := append(md.Schema, missing...)
		if _, err := t.Update(ctx, bigquery.TableMetadataToUpdate{Schema: schema}, md.ETag); err != nil {
			return gotils.C(ctx).Errorf("error adding %v columns to %v: %v", len(missing), bq.table, err)
		}
		gcputils.Info().Printf("Added %v columns to %v.%v", len(missing), bq.dataset, bq.table)
	}
	return nil
}

// metricRow is the load job json for one metric
type metricRow struct {
	Date            string   `json:"date"`
	ProjectID       int64    `json:"project_id"`
	CurrencySymbol  string   `json:"currency_symbol"`
	NumTransactions int64    `json:"num_transactions"`
	RawVolume       string   `json:"raw_volume"`
	USDVolume       *float64 `json:"usd_volume"`
	PriceSource     *string  `json:"price_source"`
	PriceAsOf       *string  `json:"price_as_of"`
	UpdatedAt       string   `json:"updated_at"`
}

// encodeRows writes metrics as newline delimited json, usd_volume is null when unpriced
func encodeRows(metrics []*models.DailyMetric, now time.Time) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, m := range metrics {
		row := metricRow{
			Date:            m.Date,
			ProjectID:       m.ProjectID,
			CurrencySymbol:  m.CurrencySymbol,
			NumTransactions: m.NumTransactions,
			RawVolume:       m.RawVolume.String(),
			UpdatedAt:       now.UTC().Format(time.RFC3339Nano),
		}
		if m.Priced {
			usd := m.USDVolume.Round(6).InexactFloat64()
			src, asOf := string(m.PriceSource), priceAsOf(m)
			row.USDVolume = &usd
			row.PriceSource = &src
			row.PriceAsOf = &asOf
		}
		if err := enc.Encode(row); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func priceAsOf(m *models.DailyMetric) string {
	if m.PriceAsOf != "" {
		return m.PriceAsOf
	}
	return m.Date
}

// metricKey is the STRUCT query parameter identifying one row of the table
type metricKey struct {
	Date           civil.Date `bigquery:"date"`
	ProjectID      int64      `bigquery:"project_id"`
	CurrencySymbol string     `bigquery:"currency_symbol"`
}

// batchKeys returns the distinct (date, project, currency) keys in metrics, sorted
func batchKeys(metrics []*models.DailyMetric) ([]metricKey, error) {
	seen := map[string]bool{}
	var keys []metricKey
	for _, m := range metrics {
		if seen[m.Key()] {
			continue
		}
		seen[m.Key()] = true
		d, err := civil.ParseDate(m.Date)
		if err != nil {
			return nil, fmt.Errorf("bad date %q on %v: %v", m.Date, m, err)
		}
		keys = append(keys, metricKey{Date: d, ProjectID: m.ProjectID, CurrencySymbol: m.CurrencySymbol})
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Date != b.Date {
			return a.Date.Before(b.Date)
		}
		if a.ProjectID != b.ProjectID {
			return a.ProjectID < b.ProjectID
		}
		return a.CurrencySymbol < b.CurrencySymbol
	})
	return keys, nil
}

// deleteKeysSQL removes only the groups present in the batch, other rows on the same dates stay
const deleteKeysSQL = `DELETE FROM %s t
WHERE EXISTS (
  SELECT 1 FROM UNNEST(@keys) k
  WHERE k.date = t.date AND k.project_id = t.project_id AND k.currency_symbol = t.currency_symbol
)`

// exec runs a DML statement and waits for it, retrying transient failures
func (bq *BigQuery) exec(ctx context.Context, sql string, params ...bigquery.QueryParameter) error {
	return utils.Retry(ctx, 5, 2*time.Second, func() error {
		q := bq.c.Query(sql)
		q.Parameters = params
		job, err := q.Run(ctx)
		if err != nil {
			return err
		}
		status, err := job.Wait(ctx)
		if err != nil {
			return err
		}
		return status.Err()
	})
}

func (bq *BigQuery) ReplaceMetrics(ctx context.Context, metrics []*models.DailyMetric) error {
	if len(metrics) == 0 {
		return nil
	}
	keys, err := batchKeys(metrics)
	if err != nil {
		return gotils.C(ctx).Errorf("%v", err)
	}

	err = bq.exec(ctx, fmt.Sprintf(deleteKeysSQL, bq.tableRef()),
		bigquery.QueryParameter{Name: "keys", Value: keys})
	if err != nil {
		return gotils.C(ctx).Errorf("error deleting %v existing groups: %v", len(keys), err)
	}

	data, err := encodeRows(metrics, time.Now())
	if err != nil {
		return gotils.C(ctx).Errorf("error encoding rows: %v", err)
	}
	t := bq.c.Dataset(bq.dataset).Table(bq.table)
	err = utils.Retry(ctx, 5, 2*time.Second, func() error {
		src := bigquery.NewReaderSource(bytes.NewReader(data))
		src.SourceFormat = bigquery.JSON
		loader := t.LoaderFrom(src)
		loader.WriteDisposition = bigquery.WriteAppend
		job, err := loader.Run(ctx)
		if err != nil {
			return err
		}
		status, err := job.Wait(ctx)
		if err != nil {
			return err
		}
		return status.Err()
	})
	if err != nil {
		return gotils.C(ctx).Errorf("error loading %v rows: %v", len(metrics), err)
	}
	gcputils.Info().Printf("Loaded %v rows into %v", len(metrics), bq.tableRef())
	return nil
}

func (bq *BigQuery) SetUSDVolume(ctx context.Context, m *models.DailyMetric) error {
	d, err := civil.ParseDate(m.Date)
	if err != nil {
		return gotils.C(ctx).Errorf("bad date %q: %v", m.Date, err)
	}
	asOf, err := civil.ParseDate(priceAsOf(m))
	if err != nil {
		return gotils.C(ctx).Errorf("bad price date %q: %v", m.PriceAsOf, err)
	}
	sql := fmt.Sprintf(`UPDATE %s SET usd_volume = @usd, price_source = @source, price_as_of = @as_of,
  updated_at = CURRENT_TIMESTAMP()
WHERE date = @date AND project_id = @project AND currency_symbol = @currency`, bq.tableRef())
	err = bq.exec(ctx, sql,
		bigquery.QueryParameter{Name: "usd", Value: m.USDVolume.Round(6).InexactFloat64()},
		bigquery.QueryParameter{Name: "source", Value: string(m.PriceSource)},
		bigquery.QueryParameter{Name: "as_of", Value: asOf},
		bigquery.QueryParameter{Name: "date", Value: d},
		bigquery.QueryParameter{Name: "project", Value: m.ProjectID},
		bigquery.QueryParameter{Name: "currency", Value: m.CurrencySymbol},
	)
	if err != nil {
		return gotils.C(ctx).Errorf("error updating %v: %v", m, err)
	}
	return nil
}

// read runs a query and calls next for every row until the iterator is done
func (bq *BigQuery) read(ctx context.Context, sql string, params []bigquery.QueryParameter, next func(it *bigquery.RowIterator) error) error {
	q := bq.c.Query(sql)
	q.Parameters = params
	var it *bigquery.RowIterator
	err := utils.Retry(ctx, 5, 2*time.Second, func() (err error) {
		it, err = q.Read(ctx)
		return err
	})
	if err != nil {
		return gotils.C(ctx).Errorf("error running query: %v", err)
	}
	for {
		err := next(it)
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return gotils.C(ctx).Errorf("error getting data: %v", err)
		}
	}
}

type dailyVolumeRow struct {
	Date           string  `bigquery:"date"`
	CurrencySymbol string  `bigquery:"currency_symbol"`
	Transactions   int64   `bigquery:"transactions"`
	TotalUSDVolume float64 `bigquery:"total_usd_volume"`
}

func (bq *BigQuery) GetDailyVolumes(ctx context.Context) ([]*models.DailyVolume, error) {
	sql := fmt.Sprintf(`SELECT CAST(date AS STRING) AS date, currency_symbol,
  SUM(num_transactions) AS transactions,
  ROUND(COALESCE(SUM(usd_volume), 0), 2) AS total_usd_volume
FROM %s
GROUP BY date, currency_symbol
ORDER BY date, currency_symbol`, bq.tableRef())

	var ret []*models.DailyVolume
	err := bq.read(ctx, sql, nil, func(it *bigquery.RowIterator) error {
		var r dailyVolumeRow
		if err := it.Next(&r); err != nil {
			return err
		}
		ret = append(ret, &models.DailyVolume{
			Date:           r.Date,
			CurrencySymbol: r.CurrencySymbol,
			Transactions:   r.Transactions,
			TotalUSDVolume: decimal.NewFromFloat(r.TotalUSDVolume),
		})
		return nil
	})
	return ret, err
}

type projectVolumeRow struct {
	ProjectID          int64   `bigquery:"project_id"`
	CurrencySymbol     string  `bigquery:"currency_symbol"`
	TotalTransactions  int64   `bigquery:"total_transactions"`
	TotalProjectVolume float64 `bigquery:"total_project_volume"`
}

func (bq *BigQuery) GetProjectVolumes(ctx context.Context) ([]*models.ProjectVolume, error) {
	sql := fmt.Sprintf(`SELECT project_id, currency_symbol,
  SUM(num_transactions) AS total_transactions,
  ROUND(COALESCE(SUM(usd_volume), 0), 2) AS total_project_volume
FROM %s
GROUP BY project_id, currency_symbol
ORDER BY project_id, currency_symbol`, bq.tableRef())

	var ret []*models.ProjectVolume
	err := bq.read(ctx, sql, nil, func(it *bigquery.RowIterator) error {
		var r projectVolumeRow
		if err := it.Next(&r); err != nil {
			return err
		}
		ret = append(ret, &models.ProjectVolume{
			ProjectID:          r.ProjectID,
			CurrencySymbol:     r.CurrencySymbol,
			TotalTransactions:  r.TotalTransactions,
			TotalProjectVolume: decimal.NewFromFloat(r.TotalProjectVolume),
		})
		return nil
	})
	return ret, err
}

type metricReadRow struct {
	Date            string               `bigquery:"date"`
	ProjectID       int64                `bigquery:"project_id"`
	CurrencySymbol  string               `bigquery:"currency_symbol"`
	NumTransactions int64                `bigquery:"num_transactions"`
	RawVolume       bigquery.NullString  `bigquery:"raw_volume"`
	USDVolume       bigquery.NullFloat64 `bigquery:"usd_volume"`
	PriceSource     bigquery.NullString  `bigquery:"price_source"`
	PriceAsOf       bigquery.NullString  `bigquery:"price_as_of"`
}

func (r *metricReadRow) metric() *models.DailyMetric {
	m := &models.DailyMetric{
		Date:            r.Date,
		ProjectID:       r.ProjectID,
		CurrencySymbol:  r.CurrencySymbol,
		NumTransactions: r.NumTransactions,
		Priced:          r.USDVolume.Valid,
	}
	if r.RawVolume.Valid {
		// CAST of a BIGNUMERIC is always a plain decimal string
		m.RawVolume, _ = decimal.NewFromString(r.RawVolume.StringVal)
	}
	if r.USDVolume.Valid {
		m.USDVolume = decimal.NewFromFloat(r.USDVolume.Float64)
		m.PriceSource = models.PriceSource(r.PriceSource.StringVal)
		m.PriceAsOf = r.PriceAsOf.StringVal
	}
	return m
}

const metricColumns = `CAST(date AS STRING) AS date, project_id, currency_symbol, num_transactions,
  CAST(raw_volume AS STRING) AS raw_volume, usd_volume,
  price_source, CAST(price_as_of AS STRING) AS price_as_of`

func (bq *BigQuery) queryMetrics(ctx context.Context, where string, params []bigquery.QueryParameter) ([]*models.DailyMetric, error) {
	sql := fmt.Sprintf("SELECT %s\nFROM %s\n", metricColumns, bq.tableRef())
	if where != "" {
		sql += "WHERE " + where + "\n"
	}
	sql += "ORDER BY date, project_id, currency_symbol"

	var ret []*models.DailyMetric
	err := bq.read(ctx, sql, params, func(it *bigquery.RowIterator) error {
		var r metricReadRow
		if err := it.Next(&r); err != nil {
			return err
		}
		ret = append(ret, r.metric())
		return nil
	})
	return ret, err
}

func (bq *BigQuery) GetMetrics(ctx context.Context, from, to string) ([]*models.DailyMetric, error) {
	var conds []string
	var params []bigquery.QueryParameter
	if from != "" {
		d, err := civil.ParseDate(from)
		if err != nil {
			return nil, gotils.C(ctx).Errorf("bad from date %q: %v", from, err)
		}
		conds = append(conds, "date >= @from")
		params = append(params, bigquery.QueryParameter{Name: "from", Value: d})
	}
	if to != "" {
		d, err := civil.ParseDate(to)
		if err != nil {
			return nil, gotils.C(ctx).Errorf("bad to date %q: %v", to, err)
		}
		conds = append(conds, "date <= @to")
		params = append(params, bigquery.QueryParameter{Name: "to", Value: d})
	}
	return bq.queryMetrics(ctx, strings.Join(conds, " AND "), params)
}

// GetUnpricedMetrics returns rows without a USD volume and rows priced from an earlier date
func (bq *BigQuery) GetUnpricedMetrics(ctx context.Context) ([]*models.DailyMetric, error) {
	return bq.queryMetrics(ctx, "usd_volume IS NULL OR price_source = @prior",
		[]bigquery.QueryParameter{{Name: "prior", Value: string(models.SourcePrior)}})
}

type summaryRow struct {
	TotalRows      int64   `bigquery:"total_rows"`
	UniqueDates    int64   `bigquery:"unique_dates"`
	UniqueProjects int64   `bigquery:"unique_projects"`
	NullVolumes    int64   `bigquery:"null_volumes"`
	TotalUSDVolume float64 `bigquery:"total_usd_volume"`
	FirstDate      string  `bigquery:"first_date"`
	LastDate       string  `bigquery:"last_date"`
}

func (bq *BigQuery) GetSummary(ctx context.Context) (*models.TableSummary, error) {
	sql := fmt.Sprintf(`SELECT COUNT(*) AS total_rows,
  COUNT(DISTINCT date) AS unique_dates,
  COUNT(DISTINCT project_id) AS unique_projects,
  COUNTIF(usd_volume IS NULL) AS null_volumes,
  ROUND(COALESCE(SUM(usd_volume), 0), 2) AS total_usd_volume,
  COALESCE(CAST(MIN(date) AS STRING), '') AS first_date,
  COALESCE(CAST(MAX(date) AS STRING), '') AS last_date
FROM %s`, bq.tableRef())

	var s *models.TableSummary
	err := bq.read(ctx, sql, nil, func(it *bigquery.RowIterator) error {
		var r summaryRow
		if err := it.Next(&r); err != nil {
			return err
		}
		s = &models.TableSummary{
			TotalRows:      r.TotalRows,
			UniqueDates:    r.UniqueDates,
			UniqueProjects: r.UniqueProjects,
			NullVolumes:    r.NullVolumes,
			TotalUSDVolume: decimal.NewFromFloat(r.TotalUSDVolume),
			FirstDate:      r.FirstDate,
			LastDate:       r.LastDate,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, gotils.C(ctx).Errorf("empty summary result")
	}
	return s, nil
}

// Ping checks that the table is reachable
func (bq *BigQuery) Ping(ctx context.Context) error {
	_, err := bq.c.Dataset(bq.dataset).Table(bq.table).Metadata(ctx)
	if err != nil {
		return gotils.C(ctx).Errorf("error getting table metadata: %v", err)
	}
	return nil
}
