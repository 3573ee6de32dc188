package prices

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoinGeckoHistoricalPrice(t *testing.T) {
	var gotPath, gotDate, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotDate = r.URL.Query().Get("date")
		gotKey = r.Header.Get("x-cg-demo-api-key")
		fmt.Fprint(w, `{"id":"sunflower-land","market_data":{"current_price":{"usd":0.052,"eur":0.048}}}`)
	}))
	defer srv.Close()

	cg := NewCoinGecko(srv.URL+"/", "demo-key", 0, 0)
	price, ok, err := cg.HistoricalPrice(context.Background(), "sunflower-land", "2024-01-02")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, price.Equal(decimal.RequireFromString("0.052")))
	assert.Equal(t, "/coins/sunflower-land/history", gotPath)
	assert.Equal(t, "02-01-2024", gotDate)
	assert.Equal(t, "demo-key", gotKey)
}

func TestCoinGeckoNoMarketData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"sunflower-land"}`)
	}))
	defer srv.Close()

	cg := NewCoinGecko(srv.URL, "", 0, 0)
	_, ok, err := cg.HistoricalPrice(context.Background(), "sunflower-land", "2021-01-02")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCoinGeckoRetriesRateLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"market_data":{"current_price":{"usd":0.85}}}`)
	}))
	defer srv.Close()

	cg := NewCoinGecko(srv.URL, "", 0, 2)
	price, ok, err := cg.HistoricalPrice(context.Background(), "matic-network", "2024-01-02")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, price.Equal(decimal.RequireFromString("0.85")))
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestCoinGeckoClientErrorIsPermanent(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "coin not found", http.StatusNotFound)
	}))
	defer srv.Close()

	cg := NewCoinGecko(srv.URL, "", 0, 3)
	_, ok, err := cg.HistoricalPrice(context.Background(), "nope", "2024-01-02")
	require.Error(t, err)
	assert.False(t, ok)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestCoinGeckoBadDate(t *testing.T) {
	cg := NewCoinGecko("http://127.0.0.1:1", "", 0, 0)
	_, _, err := cg.HistoricalPrice(context.Background(), "matic-network", "01/02/2024")
	assert.Error(t, err)
}

func TestCoinGeckoRateLimit(t *testing.T) {
	var mu sync.Mutex
	var seen []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, time.Now())
		mu.Unlock()
		fmt.Fprint(w, `{"market_data":{"current_price":{"usd":0.85}}}`)
	}))
	defer srv.Close()

	interval := 100 * time.Millisecond
	cg := NewCoinGecko(srv.URL, "", interval, 0)
	for _, date := range []string{"2024-01-01", "2024-01-02"} {
		_, ok, err := cg.HistoricalPrice(context.Background(), "matic-network", date)
		require.NoError(t, err)
		require.True(t, ok)
	}
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	// small slack for when the first request took longer to arrive than the second
	assert.GreaterOrEqual(t, seen[1].Sub(seen[0]), interval-10*time.Millisecond)
}

func TestCoinGeckoRateLimitCancelled(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, `{"market_data":{"current_price":{"usd":0.85}}}`)
	}))
	defer srv.Close()

	cg := NewCoinGecko(srv.URL, "", time.Hour, 3)
	_, _, err := cg.HistoricalPrice(context.Background(), "matic-network", "2024-01-01")
	require.NoError(t, err)

	// the next slot is an hour away, the wait gives up instead of blocking
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, ok, err := cg.HistoricalPrice(ctx, "matic-network", "2024-01-02")
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	_, _, err = cg.HistoricalPrice(ctx, "matic-network", "2024-01-03")
	assert.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}
