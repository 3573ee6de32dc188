package backend

import (
	"context"
	"sort"
	"sync"

	"github.com/goswap/marketplace-stats/models"
	"github.com/shopspring/decimal"
	"github.com/treeder/gotils"
)

// Mock is an in-memory daily metrics table
type Mock struct {
	mu      sync.Mutex
	metrics []*models.DailyMetric
	err     error

	// Updates counts SetUSDVolume calls
	Updates int
}

var _ Warehouse = (*Mock)(nil)

// NewMock returns a mock database, for use in testing.
// Pass []*models.DailyMetric to seed it, or an error to make every call fail.
func NewMock(args ...interface{}) *Mock {
	m := new(Mock)
	for _, arg := range args {
		switch arg := arg.(type) {
		case []*models.DailyMetric:
			m.metrics = copyMetrics(arg)
			sortMetrics(m.metrics)
		case error:
			m.err = arg
		}
	}
	return m
}

func copyMetrics(in []*models.DailyMetric) []*models.DailyMetric {
	out := make([]*models.DailyMetric, len(in))
	for i, m := range in {
		cp := *m
		out[i] = &cp
	}
	return out
}

// sort like the ORDER BY in the queries
func sortMetrics(ms []*models.DailyMetric) {
	sort.SliceStable(ms, func(i, j int) bool {
		a, b := ms[i], ms[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.ProjectID != b.ProjectID {
			return a.ProjectID < b.ProjectID
		}
		return a.CurrencySymbol < b.CurrencySymbol
	})
}

// Rows returns a copy of everything stored
func (m *Mock) Rows() []*models.DailyMetric {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyMetrics(m.metrics)
}

func (m *Mock) EnsureTable(ctx context.Context) error {
	return m.err
}

func (m *Mock) ReplaceMetrics(ctx context.Context, metrics []*models.DailyMetric) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := map[string]bool{}
	for _, x := range metrics {
		keys[x.Key()] = true
	}
	kept := m.metrics[:0]
	for _, x := range m.metrics {
		if !keys[x.Key()] {
			kept = append(kept, x)
		}
	}
	m.metrics = append(kept, copyMetrics(metrics)...)
	sortMetrics(m.metrics)
	return nil
}

func (m *Mock) GetUnpricedMetrics(ctx context.Context) ([]*models.DailyMetric, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var ret []*models.DailyMetric
	for _, x := range m.metrics {
		if x.Stale() {
			cp := *x
			ret = append(ret, &cp)
		}
	}
	return ret, nil
}

func (m *Mock) SetUSDVolume(ctx context.Context, metric *models.DailyMetric) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.metrics {
		if x.Key() == metric.Key() {
			x.USDVolume = metric.USDVolume
			x.PriceSource = metric.PriceSource
			x.PriceAsOf = metric.PriceAsOf
			x.Priced = true
			m.Updates++
			return nil
		}
	}
	return gotils.ErrNotFound
}

func (m *Mock) GetDailyVolumes(ctx context.Context) ([]*models.DailyVolume, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var ret []*models.DailyVolume
	idx := map[string]*models.DailyVolume{}
	for _, x := range m.metrics {
		k := x.Date + "|" + x.CurrencySymbol
		dv := idx[k]
		if dv == nil {
			dv = &models.DailyVolume{Date: x.Date, CurrencySymbol: x.CurrencySymbol}
			idx[k] = dv
			ret = append(ret, dv)
		}
		dv.Transactions += x.NumTransactions
		if x.Priced {
			dv.TotalUSDVolume = dv.TotalUSDVolume.Add(x.USDVolume)
		}
	}
	sort.SliceStable(ret, func(i, j int) bool {
		if ret[i].Date != ret[j].Date {
			return ret[i].Date < ret[j].Date
		}
		return ret[i].CurrencySymbol < ret[j].CurrencySymbol
	})
	for _, dv := range ret {
		dv.TotalUSDVolume = dv.TotalUSDVolume.Round(2)
	}
	return ret, nil
}

func (m *Mock) GetProjectVolumes(ctx context.Context) ([]*models.ProjectVolume, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var ret []*models.ProjectVolume
	idx := map[string]*models.ProjectVolume{}
	for _, x := range m.metrics {
		k := models.MetricKey("", x.ProjectID, x.CurrencySymbol)
		pv := idx[k]
		if pv == nil {
			pv = &models.ProjectVolume{ProjectID: x.ProjectID, CurrencySymbol: x.CurrencySymbol}
			idx[k] = pv
			ret = append(ret, pv)
		}
		pv.TotalTransactions += x.NumTransactions
		if x.Priced {
			pv.TotalProjectVolume = pv.TotalProjectVolume.Add(x.USDVolume)
		}
	}
	sort.SliceStable(ret, func(i, j int) bool {
		if ret[i].ProjectID != ret[j].ProjectID {
			return ret[i].ProjectID < ret[j].ProjectID
		}
		return ret[i].CurrencySymbol < ret[j].CurrencySymbol
	})
	for _, pv := range ret {
		pv.TotalProjectVolume = pv.TotalProjectVolume.Round(2)
	}
	return ret, nil
}

func (m *Mock) GetMetrics(ctx context.Context, from, to string) ([]*models.DailyMetric, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var ret []*models.DailyMetric
	for _, x := range m.metrics {
		// YYYY-MM-DD compares in date order
		if (from != "" && x.Date < from) || (to != "" && x.Date > to) {
			continue
		}
		cp := *x
		ret = append(ret, &cp)
	}
	return ret, nil
}

func (m *Mock) GetSummary(ctx context.Context) (*models.TableSummary, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &models.TableSummary{TotalUSDVolume: decimal.Zero}
	dates := map[string]bool{}
	projects := map[int64]bool{}
	for _, x := range m.metrics {
		s.TotalRows++
		dates[x.Date] = true
		projects[x.ProjectID] = true
		if !x.Priced {
			s.NullVolumes++
			continue
		}
		s.TotalUSDVolume = s.TotalUSDVolume.Add(x.USDVolume)
	}
	s.UniqueDates = int64(len(dates))
	s.UniqueProjects = int64(len(projects))
	s.TotalUSDVolume = s.TotalUSDVolume.Round(2)
	if len(m.metrics) > 0 {
		s.FirstDate = m.metrics[0].Date
		s.LastDate = m.metrics[len(m.metrics)-1].Date
	}
	return s, nil
}
