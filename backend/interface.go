package backend

import (
	"context"

	"github.com/goswap/marketplace-stats/models"
)

// StatsBackend defines methods for reading the daily metrics table
type StatsBackend interface {
	// GetDailyVolumes returns transactions and USD volume per date and currency,
	// ordered by date then currency.
	GetDailyVolumes(ctx context.Context) ([]*models.DailyVolume, error)

	// GetProjectVolumes returns transactions and USD volume per project and currency,
	// ordered by project then currency.
	GetProjectVolumes(ctx context.Context) ([]*models.ProjectVolume, error)

	// GetMetrics returns the raw daily rows between from and to (YYYY-MM-DD, inclusive).
	// Empty bounds are open.
	GetMetrics(ctx context.Context, from, to string) ([]*models.DailyMetric, error)

	// GetSummary returns row counts and totals over the whole table.
	GetSummary(ctx context.Context) (*models.TableSummary, error)
}

// MetricsWriter is the write side used by the collector
type MetricsWriter interface {
	// EnsureTable creates the dataset and table if they don't exist yet.
	EnsureTable(ctx context.Context) error

	// ReplaceMetrics deletes the existing rows with the same (date, project, currency) as metrics,
	// then appends metrics. Other groups on those dates are kept.
	ReplaceMetrics(ctx context.Context, metrics []*models.DailyMetric) error

	// GetUnpricedMetrics returns rows whose usd_volume is NULL or was priced from an earlier date.
	GetUnpricedMetrics(ctx context.Context) ([]*models.DailyMetric, error)

	// SetUSDVolume sets usd_volume and its price source on one (date, project, currency) row.
	SetUSDVolume(ctx context.Context, m *models.DailyMetric) error
}

// Warehouse is a full read/write metrics store
type Warehouse interface {
	StatsBackend
	MetricsWriter
}

// RunStore keeps track of job runs
type RunStore interface {
	// LastRun returns the last run of kind, or gotils.ErrNotFound when it never ran.
	LastRun(ctx context.Context, kind string) (*models.LastRun, error)

	// SaveRun stores the report and marks it as the last run of its kind.
	SaveRun(ctx context.Context, r *models.RunReport) error

	// GetRun returns a saved report, gotils.ErrNotFound if there is none.
	GetRun(ctx context.Context, runID string) (*models.RunReport, error)
}
