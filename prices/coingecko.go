package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goswap/marketplace-stats/utils"
	"github.com/shopspring/decimal"
	"github.com/treeder/gcputils"
	"github.com/treeder/gotils"
	"golang.org/x/time/rate"
)

// Remote fetches a historical USD price for a coin on a date (YYYY-MM-DD).
// ok is false when the API answered but had no price.
type Remote interface {
	HistoricalPrice(ctx context.Context, coinID, date string) (price decimal.Decimal, ok bool, err error)
}

// CoinGecko is a rate limited client for the /coins/{id}/history endpoint
type CoinGecko struct {
	baseURL    string
	apiKey     string
	maxRetries uint64
	hc         *http.Client
	limiter    *rate.Limiter
}

var _ Remote = (*CoinGecko)(nil)

// NewCoinGecko allows at most one request per interval. interval 0 disables limiting.
func NewCoinGecko(baseURL, apiKey string, interval time.Duration, maxRetries int) *CoinGecko {
	lim := rate.NewLimiter(rate.Inf, 1)
	if interval > 0 {
		lim = rate.NewLimiter(rate.Every(interval), 1)
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &CoinGecko{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		maxRetries: uint64(maxRetries),
		hc:         &http.Client{Timeout: 30 * time.Second},
		limiter:    lim,
	}
}

type historyResponse struct {
	MarketData *struct {
		CurrentPrice map[string]float64 `json:"current_price"`
	} `json:"market_data"`
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

func (cg *CoinGecko) HistoricalPrice(ctx context.Context, coinID, date string) (decimal.Decimal, bool, error) {
	d, err := utils.ParseDate(date)
	if err != nil {
		return decimal.Zero, false, gotils.C(ctx).Errorf("bad date %q: %v", date, err)
	}
	q := url.Values{}
	q.Set("date", d.Format("02-01-2006"))
	q.Set("localization", "false")
	u := fmt.Sprintf("%s/coins/%s/history?%s", cg.baseURL, url.PathEscape(coinID), q.Encode())

	var hr historyResponse
	op := func() error {
		if err := cg.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("accept", "application/json")
		if cg.apiKey != "" {
			req.Header.Set("x-cg-demo-api-key", cg.apiKey)
		}
		resp, err := cg.hc.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			serr := &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(b))}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return serr
			}
			return backoff.Permanent(serr)
		}
		hr = historyResponse{}
		if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil {
			return backoff.Permanent(fmt.Errorf("json.NewDecoder: %w", err))
		}
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), cg.maxRetries), ctx)
	notify := func(err error, wait time.Duration) {
		gcputils.Error().Printf("price request for %v on %v failed, retrying in %v: %v", coinID, date, wait, err)
	}
	if err := backoff.RetryNotify(op, bo, notify); err != nil {
		return decimal.Zero, false, gotils.C(ctx).Errorf("error getting price for %v on %v: %v", coinID, date, err)
	}

	if hr.MarketData == nil {
		return decimal.Zero, false, nil
	}
	usd, ok := hr.MarketData.CurrentPrice["usd"]
	if !ok || usd <= 0 {
		return decimal.Zero, false, nil
	}
	return decimal.NewFromFloat(usd), true, nil
}
