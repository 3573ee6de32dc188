package backend

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/goswap/marketplace-stats/models"
	"github.com/treeder/gotils"
)

// Every read endpoint gets its own key prefix, the rest of the key is the
// endpoint's arguments. The whole table is small so results are cached as is
// and only expire by ttl. A collect or price update run calls Purge.

type epID uint8

const (
	dailyEP epID = 1 + iota
	projectEP
	metricsEP
	summaryEP
)

func key(endpoint epID, args ...string) string {
	k := string([]byte{byte(endpoint)})
	for _, a := range args {
		k += "|" + a
	}
	return k
}

// Cache is a read-through cache in front of a StatsBackend
type Cache struct {
	cache *ristretto.Cache
	ttl   time.Duration

	db StatsBackend
}

// compiler yelling
var _ StatsBackend = new(Cache)

// NewCacheBackend returns a caching stats backend wrapping the given stats backend
func NewCacheBackend(ctx context.Context, db StatsBackend, ttl time.Duration) (*Cache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,      // number of keys to track frequency of
		MaxCost:     32 << 20, // maximum cost of cache (32MB)
		BufferItems: 64,       // number of keys per Get buffer.
	})
	if err != nil {
		return nil, gotils.C(ctx).Errorf("error on NewCache: %v", err)
	}

	return &Cache{
		cache: c,
		db:    db,
		ttl:   ttl,
	}, nil
}

func (c *Cache) set(k string, v interface{}) {
	c.cache.SetWithTTL(k, v, 0, c.ttl)
	c.cache.Wait()
}

// Purge drops everything, used after the table changed
func (c *Cache) Purge() {
	c.cache.Clear()
}

func (c *Cache) GetDailyVolumes(ctx context.Context) ([]*models.DailyVolume, error) {
	k := key(dailyEP)
	if v, ok := c.cache.Get(k); ok {
		return v.([]*models.DailyVolume), nil
	}

	vols, err := c.db.GetDailyVolumes(ctx)
	if err != nil {
		return nil, err
	}

	c.set(k, vols)
	return vols, nil
}

func (c *Cache) GetProjectVolumes(ctx context.Context) ([]*models.ProjectVolume, error) {
	k := key(projectEP)
	if v, ok := c.cache.Get(k); ok {
		return v.([]*models.ProjectVolume), nil
	}

	vols, err := c.db.GetProjectVolumes(ctx)
	if err != nil {
		return nil, err
	}

	c.set(k, vols)
	return vols, nil
}

func (c *Cache) GetMetrics(ctx context.Context, from, to string) ([]*models.DailyMetric, error) {
	k := key(metricsEP, from, to)
	if v, ok := c.cache.Get(k); ok {
		return v.([]*models.DailyMetric), nil
	}

	metrics, err := c.db.GetMetrics(ctx, from, to)
	if err != nil {
		return nil, err
	}

	c.set(k, metrics)
	return metrics, nil
}

func (c *Cache) GetSummary(ctx context.Context) (*models.TableSummary, error) {
	k := key(summaryEP)
	if v, ok := c.cache.Get(k); ok {
		return v.(*models.TableSummary), nil
	}

	s, err := c.db.GetSummary(ctx)
	if err != nil {
		return nil, err
	}

	c.set(k, s)
	return s, nil
}
