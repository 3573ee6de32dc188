package collector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadTransactions(t *testing.T) {
	txs, skipped, err := ReadTransactions(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	assert.Equal(t, 2, skipped)
	require.Len(t, txs, 6)

	first := txs[0]
	assert.Equal(t, "2024-01-01", first.Date)
	assert.Equal(t, int64(1660), first.ProjectID)
	assert.Equal(t, "MATIC", first.CurrencySymbol)
	assert.Equal(t, "0x1", first.TxnHash)
	assert.Equal(t, "1500000000000000000", first.RawValue.String())

	// numeric currencyValueDecimal and lower case symbols
	assert.Equal(t, "USDC.E", txs[2].CurrencySymbol)
	assert.Equal(t, "12.5", txs[2].RawValue.String())

	// empty props and nums default to no currency and zero
	last := txs[5]
	assert.Equal(t, "", last.CurrencySymbol)
	assert.True(t, last.RawValue.IsZero())
}

func TestReadTransactionsColumnsByName(t *testing.T) {
	csv := "\ufeffNUMS,Props,Project_ID,TS\n" +
		`"{""currencyValueDecimal"":""3""}","{""currencySymbol"":""sfl""}",1660.0,2024-01-01T23:30:00Z` + "\n" +
		`"{""currencyValueDecimal"":""3""}","{""currencySymbol"":""sfl""}",16.5,2024-01-01T23:30:00Z` + "\n" +
		`"{""currencyValueDecimal"":""abc""}","{""currencySymbol"":""sfl""}",1,2024-01-01 00:00:00` + "\n" +
		`"{""currencyValueDecimal"":""1""}"` + "\n"
	txs, skipped, err := ReadTransactions(strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, 3, skipped)
	require.Len(t, txs, 1)
	assert.Equal(t, int64(1660), txs[0].ProjectID)
	assert.Equal(t, "SFL", txs[0].CurrencySymbol)
	assert.Equal(t, "2024-01-01", txs[0].Date)
}

func TestReadTransactionsErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"missing column", "ts,project_id,props\n2024-01-01 00:00:00,1,{}\n"},
		{"malformed", "ts,project_id,props,nums\n2024-01-01 00:00:00,1,\"{}\n"},
	}
	for _, test := range tests {
		_, _, err := ReadTransactions(strings.NewReader(test.in))
		assert.Error(t, err, test.name)
	}
}
