package utils

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestScaleRaw(t *testing.T) {
	tests := []struct {
		raw      string
		decimals int32
		exp      string
	}{
		{"1000000000000000000", 18, "1"},
		{"2500000000000000000", 18, "2.5"},
		{"12.5", 0, "12.5"},
		{"0", 18, "0"},
	}

	for i, test := range tests {
		got := ScaleRaw(decimal.RequireFromString(test.raw), test.decimals)
		if !got.Equal(decimal.RequireFromString(test.exp)) {
			t.Errorf("test %v | expected %v got %v", i, test.exp, got)
		}
	}
}

func TestParseTimestamp(t *testing.T) {
	exp := time.Date(2024, 4, 15, 2, 15, 7, 0, time.UTC)
	tests := []struct {
		in  string
		exp time.Time
		err bool
	}{
		{"2024-04-15 02:15:07.000", exp, false},
		{"2024-04-15 02:15:07", exp, false},
		{"2024-04-15 02:15:07.000 UTC", exp, false},
		{"2024-04-15T02:15:07Z", exp, false},
		{"2024-04-15T04:15:07+02:00", exp, false},
		{"2024-04-15", time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC), false},
		{"15/04/2024", time.Time{}, true},
		{"", time.Time{}, true},
	}

	for i, test := range tests {
		got, err := ParseTimestamp(test.in)
		if (err != nil) != test.err {
			t.Errorf("test %v | error mismatch, got: %v", i, err)
			continue
		}
		if !got.Equal(test.exp) {
			t.Errorf("test %v | expected %v got %v", i, test.exp, got)
		}
	}

	// late evening west of UTC lands on the next UTC day
	got, err := ParseTimestamp("2024-04-15T22:00:00-05:00")
	if err != nil {
		t.Fatal(err)
	}
	if DateString(got) != "2024-04-16" {
		t.Errorf("expected 2024-04-16 got %v", DateString(got))
	}
}
