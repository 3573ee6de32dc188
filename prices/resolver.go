package prices

import (
	"context"
	"strings"

	"github.com/dgraph-io/ristretto"
	"github.com/goswap/marketplace-stats/models"
	"github.com/goswap/marketplace-stats/utils"
	"github.com/shopspring/decimal"
	"github.com/treeder/gcputils"
	"github.com/treeder/gotils"
)

// Options controls which currencies are looked up and how they're scaled
type Options struct {
	// CoinIDs maps a currency symbol to the price API's coin id
	CoinIDs map[string]string
	// Stablecoins are always worth 1 USD and kept at face value
	Stablecoins []string
	// Decimals is the on-chain precision for currencies reported in base units (MATIC in wei)
	Decimals map[string]int32
}

// Resolver turns (symbol, date) into a USD price. Lookup order:
// stablecoin, memo, stored blob, remote API, newest stored price before the date.
//
// When the remote has no price for a (symbol, date), the outcome of the last two
// tiers is remembered until ForgetFallbacks so the remote is asked once per run.
type Resolver struct {
	store     *Store
	remote    Remote
	memo      *ristretto.Cache
	fallbacks *ristretto.Cache

	coinIDs  map[string]string
	stable   map[string]bool
	decimals map[string]int32
}

func NewResolver(ctx context.Context, store *Store, remote Remote, opts Options) (*Resolver, error) {
	memo, err := newMemo()
	if err != nil {
		return nil, gotils.C(ctx).Errorf("error on NewCache: %v", err)
	}
	fallbacks, err := newMemo()
	if err != nil {
		return nil, gotils.C(ctx).Errorf("error on NewCache: %v", err)
	}
	r := &Resolver{
		store:     store,
		remote:    remote,
		memo:      memo,
		fallbacks: fallbacks,
		coinIDs:  map[string]string{},
		stable:   map[string]bool{},
		decimals: map[string]int32{},
	}
	for k, v := range opts.CoinIDs {
		r.coinIDs[strings.ToUpper(k)] = v
	}
	for _, s := range opts.Stablecoins {
		r.stable[strings.ToUpper(s)] = true
	}
	for k, v := range opts.Decimals {
		r.decimals[strings.ToUpper(k)] = v
	}
	return r, nil
}

func newMemo() (*ristretto.Cache, error) {
	return ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
}

// fallback is what the resolver settled on when the remote had no price
type fallback struct {
	found bool
	usd   decimal.Decimal
	asOf  string
}

func memoKey(symbol, date string) string {
	return symbol + "|" + date
}

// IsStable reports whether symbol is a 1:1 USD stablecoin
func (r *Resolver) IsStable(symbol string) bool {
	return r.stable[strings.ToUpper(symbol)]
}

// Resolve returns the price for symbol on date (YYYY-MM-DD) or a *models.PriceNotFound error
func (r *Resolver) Resolve(ctx context.Context, symbol, date string) (*models.Price, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	notFound := &models.PriceNotFound{Symbol: symbol, Date: date}
	if symbol == "" {
		return nil, notFound
	}
	p := &models.Price{Symbol: symbol, Date: date, AsOf: date}

	if r.stable[symbol] {
		p.USD = decimal.NewFromInt(1)
		p.Source = models.SourceStable
		return p, nil
	}

	k := memoKey(symbol, date)
	if v, ok := r.memo.Get(k); ok {
		p.USD = v.(decimal.Decimal)
		p.Source = models.SourceMemo
		return p, nil
	}

	stored, ok, err := r.store.Get(ctx, symbol, date)
	if err != nil {
		gcputils.Error().Printf("error reading stored price for %v on %v: %v", symbol, date, err)
	}
	if ok {
		gcputils.Info().Printf("Using stored price for %v on %v: $%v", symbol, date, stored)
		r.remember(k, stored)
		p.USD = stored
		p.Source = models.SourceStored
		return p, nil
	}

	if v, ok := r.fallbacks.Get(k); ok {
		fb := v.(fallback)
		if !fb.found {
			return nil, notFound
		}
		p.USD = fb.usd
		p.Source = models.SourcePrior
		p.AsOf = fb.asOf
		return p, nil
	}

	if coinID, ok := r.coinIDs[symbol]; ok && r.remote != nil {
		price, found, err := r.remote.HistoricalPrice(ctx, coinID, date)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			gcputils.Error().Printf("Error getting price for %v: %v", symbol, err)
		}
		if found {
			if err := r.store.Put(ctx, symbol, date, price); err != nil {
				gcputils.Error().Printf("error storing price for %v on %v: %v", symbol, date, err)
			}
			gcputils.Info().Printf("Got new price for %v on %v: $%v", symbol, date, price)
			r.remember(k, price)
			p.USD = price
			p.Source = models.SourceRemote
			return p, nil
		}
	}

	prior, asOf, ok, err := r.store.LastBefore(ctx, symbol, date)
	if err != nil {
		gcputils.Error().Printf("error looking up last known price for %v: %v", symbol, err)
	} else {
		r.fallbacks.Set(k, fallback{found: ok, usd: prior, asOf: asOf}, 1)
		r.fallbacks.Wait()
	}
	if ok {
		gcputils.Info().Printf("Using last known price from %v for %v", asOf, symbol)
		p.USD = prior
		p.Source = models.SourcePrior
		p.AsOf = asOf
		return p, nil
	}

	gcputils.Info().Printf("No price available for %v on %v", symbol, date)
	return nil, notFound
}

func (r *Resolver) remember(k string, price decimal.Decimal) {
	r.memo.Set(k, price, 1)
	// make the entry visible to the next Get, lookups are sequential
	r.memo.Wait()
}

// ForgetFallbacks drops the remembered remote misses so the next lookups ask the remote again.
// Call it at the start of every run.
func (r *Resolver) ForgetFallbacks() {
	r.fallbacks.Clear()
}

// ToUSD converts a raw volume with a resolved price. Stablecoins stay at face value,
// currencies with configured decimals are scaled to token units first.
func (r *Resolver) ToUSD(symbol string, raw decimal.Decimal, p *models.Price) decimal.Decimal {
	symbol = strings.ToUpper(symbol)
	if r.stable[symbol] {
		return raw
	}
	amount := utils.ScaleRaw(raw, r.decimals[symbol])
	return amount.Mul(p.USD)
}

// Scaled returns the raw volume in token units
func (r *Resolver) Scaled(symbol string, raw decimal.Decimal) decimal.Decimal {
	return utils.ScaleRaw(raw, r.decimals[strings.ToUpper(symbol)])
}
