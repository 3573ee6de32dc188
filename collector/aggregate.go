package collector

import (
	"sort"

	"github.com/goswap/marketplace-stats/models"
)

// Aggregate groups transactions by (date, project, currency) in a single pass,
// counting them and summing their raw values. Output is sorted by date, project, currency.
func Aggregate(txs []*models.Transaction) []*models.DailyMetric {
	groups := map[string]*models.DailyMetric{}
	var metrics []*models.DailyMetric
	for _, tx := range txs {
		k := models.MetricKey(tx.Date, tx.ProjectID, tx.CurrencySymbol)
		m, ok := groups[k]
		if !ok {
			m = &models.DailyMetric{
				Date:           tx.Date,
				ProjectID:      tx.ProjectID,
				CurrencySymbol: tx.CurrencySymbol,
			}
			groups[k] = m
			metrics = append(metrics, m)
		}
		m.NumTransactions++
		m.RawVolume = m.RawVolume.Add(tx.RawValue)
	}
	sort.Slice(metrics, func(i, j int) bool {
		a, b := metrics[i], metrics[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.ProjectID != b.ProjectID {
			return a.ProjectID < b.ProjectID
		}
		return a.CurrencySymbol < b.CurrencySymbol
	})
	return metrics
}
