package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const DateLayout = "2006-01-02"

// ScaleRaw converts a raw on-chain amount to token units, eg: wei to MATIC with 18 decimals.
func ScaleRaw(raw decimal.Decimal, decimals int32) decimal.Decimal {
	if decimals <= 0 {
		return raw
	}
	return raw.Shift(-decimals)
}

var tsLayouts = []string{
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	DateLayout,
}

// ParseTimestamp parses the ts column of the export. Times without a zone are UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, " UTC")
	for _, layout := range tsLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func DateString(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// ParseDate parses a YYYY-MM-DD date
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}
