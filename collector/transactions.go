package collector

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/goswap/marketplace-stats/models"
	"github.com/goswap/marketplace-stats/utils"
	"github.com/shopspring/decimal"
	"github.com/treeder/gcputils"
)

// required columns of the event export
const (
	colTimestamp = "ts"
	colProjectID = "project_id"
	colProps     = "props"
	colNums      = "nums"
)

// nums is the JSON encoded nums column, the value is a string or a number depending on the exporter
type nums struct {
	CurrencyValueDecimal json.RawMessage `json:"currencyValueDecimal"`
}

// ReadTransactions parses the event export. Columns are found by header name.
// Rows that can't be parsed are logged and counted in skipped.
func ReadTransactions(r io.Reader) (txs []*models.Transaction, skipped int, err error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, 0, fmt.Errorf("empty csv, no header")
	}
	if err != nil {
		return nil, 0, fmt.Errorf("error reading csv header: %v", err)
	}
	cols := map[string]int{}
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, ok := cols[h]; !ok {
			cols[h] = i
		}
	}
	for _, c := range []string{colTimestamp, colProjectID, colProps, colNums} {
		if _, ok := cols[c]; !ok {
			return nil, 0, fmt.Errorf("csv is missing required column %q", c)
		}
	}

	line := 1
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, skipped, fmt.Errorf("error parsing csv: %v", err)
		}
		line++
		tx, err := parseRow(record, cols)
		if err != nil {
			gcputils.With("line", line).Info().Printf("skipping row: %v", err)
			skipped++
			continue
		}
		txs = append(txs, tx)
	}
	return txs, skipped, nil
}

func field(record []string, cols map[string]int, name string) (string, error) {
	i := cols[name]
	if i >= len(record) {
		return "", fmt.Errorf("row has no %v column", name)
	}
	return strings.TrimSpace(record[i]), nil
}

func parseRow(record []string, cols map[string]int) (*models.Transaction, error) {
	ts, err := field(record, cols, colTimestamp)
	if err != nil {
		return nil, err
	}
	t, err := utils.ParseTimestamp(ts)
	if err != nil {
		return nil, err
	}

	pid, err := field(record, cols, colProjectID)
	if err != nil {
		return nil, err
	}
	projectID, err := strconv.ParseInt(pid, 10, 64)
	if err != nil {
		// some exports write integer columns as floats, eg: 1660.0
		f, ferr := strconv.ParseFloat(pid, 64)
		if ferr != nil || f != float64(int64(f)) {
			return nil, fmt.Errorf("bad project_id %q", pid)
		}
		projectID = int64(f)
	}

	propsJSON, err := field(record, cols, colProps)
	if err != nil {
		return nil, err
	}
	var props models.Props
	if propsJSON != "" {
		if err := json.Unmarshal([]byte(propsJSON), &props); err != nil {
			return nil, fmt.Errorf("bad props json: %v", err)
		}
	}

	numsJSON, err := field(record, cols, colNums)
	if err != nil {
		return nil, err
	}
	value := decimal.Zero
	if numsJSON != "" {
		var n nums
		if err := json.Unmarshal([]byte(numsJSON), &n); err != nil {
			return nil, fmt.Errorf("bad nums json: %v", err)
		}
		value, err = parseValue(n.CurrencyValueDecimal)
		if err != nil {
			return nil, err
		}
	}

	return &models.Transaction{
		Time:           t,
		Date:           utils.DateString(t),
		ProjectID:      projectID,
		CurrencySymbol: strings.ToUpper(strings.TrimSpace(props.CurrencySymbol)),
		TxnHash:        props.TransactionHash,
		RawValue:       value,
	}, nil
}

// parseValue accepts "123.4", 123.4 or nothing (zero)
func parseValue(raw json.RawMessage) (decimal.Decimal, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return decimal.Zero, nil
	}
	s := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Zero, err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return decimal.Zero, nil
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.New("bad currencyValueDecimal " + s)
	}
	return d, nil
}
