package prices

import (
	"context"
	"encoding/json"
	"errors"
	"path"
	"strings"
	"time"

	"github.com/goswap/marketplace-stats/blobs"
	"github.com/goswap/marketplace-stats/utils"
	"github.com/shopspring/decimal"
	"github.com/treeder/gotils"
)

// priceBlob is the stored json, {"price": 0.52}
type priceBlob struct {
	Price float64 `json:"price"`
}

// Store keeps one blob per symbol per day under prefix/SYMBOL/YYYY-MM-DD.json.
// Blobs are never expired and never overwritten.
type Store struct {
	b      blobs.Bucket
	prefix string
}

func NewStore(b blobs.Bucket, prefix string) *Store {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Store{b: b, prefix: prefix}
}

func (s *Store) name(symbol, date string) string {
	return s.prefix + symbol + "/" + date + ".json"
}

// Get returns the stored price, ok is false when there is none or it isn't positive
func (s *Store) Get(ctx context.Context, symbol, date string) (decimal.Decimal, bool, error) {
	b, err := s.b.Get(ctx, s.name(symbol, date))
	if err != nil {
		if errors.Is(err, blobs.ErrNotExist) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, err
	}
	return decode(ctx, b)
}

func decode(ctx context.Context, b []byte) (decimal.Decimal, bool, error) {
	var pb priceBlob
	if err := json.Unmarshal(b, &pb); err != nil {
		return decimal.Zero, false, gotils.C(ctx).Errorf("bad price blob: %v", err)
	}
	if pb.Price <= 0 {
		return decimal.Zero, false, nil
	}
	return decimal.NewFromFloat(pb.Price), true, nil
}

// Put stores a price unless one is already stored for that day
func (s *Store) Put(ctx context.Context, symbol, date string, price decimal.Decimal) error {
	b, err := json.Marshal(priceBlob{Price: price.InexactFloat64()})
	if err != nil {
		return err
	}
	err = s.b.Put(ctx, s.name(symbol, date), b, true)
	if errors.Is(err, blobs.ErrExists) {
		return nil
	}
	return err
}

// LastBefore finds the newest stored price strictly before date.
// asOf is the date of the blob that was used.
func (s *Store) LastBefore(ctx context.Context, symbol, date string) (price decimal.Decimal, asOf string, ok bool, err error) {
	target, err := utils.ParseDate(date)
	if err != nil {
		return decimal.Zero, "", false, gotils.C(ctx).Errorf("bad date %q: %v", date, err)
	}
	names, err := s.b.List(ctx, s.prefix+symbol+"/")
	if err != nil {
		return decimal.Zero, "", false, err
	}

	var lastDate time.Time
	var lastName string
	for _, n := range names {
		d, err := utils.ParseDate(strings.TrimSuffix(path.Base(n), ".json"))
		if err != nil {
			// something else in the folder
			continue
		}
		if d.Before(target) && (lastName == "" || d.After(lastDate)) {
			lastDate = d
			lastName = n
		}
	}
	if lastName == "" {
		return decimal.Zero, "", false, nil
	}

	b, err := s.b.Get(ctx, lastName)
	if err != nil {
		return decimal.Zero, "", false, err
	}
	price, ok, err = decode(ctx, b)
	if err != nil || !ok {
		return decimal.Zero, "", false, err
	}
	return price, utils.DateString(lastDate), true, nil
}
