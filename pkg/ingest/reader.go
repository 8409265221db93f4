package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/stuckorders/stuckorders/pkg/types"
)

// ErrEmptyValue is returned when a required cell is blank.
var ErrEmptyValue = errors.New("empty value")

// ErrInvalidNumber is returned when account_total_orders_during_analysis_period
// is not a whole number.
var ErrInvalidNumber = errors.New("invalid number")

// Error identifies the cell that caused an ingestion to be rejected.
type Error struct {
	Row    int // 1-based data row, header excluded
	Column string
	Value  string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("ingest: row %d column %q value %q: %v", e.Row, e.Column, e.Value, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ReadOptions controls how a table is read.
type ReadOptions struct {
	// Delimiter separates fields. Defaults to ','.
	Delimiter rune
}

// Read parses a delimited table with a header row into a types.Table.
// Any malformed cell rejects the whole table.
func Read(r io.Reader, opts ReadOptions) (*types.Table, error) {
	cr := csv.NewReader(r)
	if opts.Delimiter != 0 {
		cr.Comma = opts.Delimiter
	}
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("ingest: %w: empty input", ErrMissingColumn)
		}
		return nil, fmt.Errorf("ingest: read header: %w", err)
	}
	header = append([]string(nil), header...)
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	schema, err := DetectSchema(header)
	if err != nil {
		return nil, err
	}
	idx := make(map[string]int, len(header))
	for i, c := range header {
		c = strings.TrimSpace(c)
		if _, dup := idx[c]; !dup {
			idx[c] = i
		}
	}

	table := &types.Table{Schema: schema}
	for row := 1; ; row++ {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ingest: row %d: %w", row, err)
		}
		if isBlank(fields) {
			continue
		}
		rec, err := parseRecord(row, fields, idx, schema)
		if err != nil {
			return nil, err
		}
		table.Records = append(table.Records, rec)
	}

	slog.Info("ingest: table loaded",
		"rows", len(table.Records),
		"has_status", schema.HasStatus,
		"has_extended", schema.HasExtended,
	)
	return table, nil
}

// rowReader extracts typed cells from one record, remembering the first error.
type rowReader struct {
	row    int
	fields []string
	idx    map[string]int
	err    error
}

func (rr *rowReader) raw(col string) string {
	i, ok := rr.idx[col]
	if !ok || i >= len(rr.fields) {
		return ""
	}
	return strings.TrimSpace(rr.fields[i])
}

func (rr *rowReader) fail(col, value string, err error) {
	if rr.err == nil {
		rr.err = &Error{Row: rr.row, Column: col, Value: value, Err: err}
	}
}

func (rr *rowReader) str(col string) string {
	v := rr.raw(col)
	if v == "" {
		rr.fail(col, v, ErrEmptyValue)
	}
	return v
}

func (rr *rowReader) ts(col string) time.Time {
	v := rr.raw(col)
	if v == "" {
		rr.fail(col, v, ErrEmptyValue)
		return time.Time{}
	}
	t, err := ParseTimestamp(v)
	if err != nil {
		rr.fail(col, v, err)
	}
	return t
}

func (rr *rowReader) count(col string) int {
	v := rr.raw(col)
	if v == "" {
		rr.fail(col, v, ErrEmptyValue)
		return 0
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	// Exports from dataframes often render integer columns as floats ("12.0").
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f != float64(int(f)) {
		rr.fail(col, v, ErrInvalidNumber)
		return 0
	}
	return int(f)
}

func parseRecord(row int, fields []string, idx map[string]int, schema types.Schema) (types.OrderRecord, error) {
	rr := &rowReader{row: row, fields: fields, idx: idx}
	rec := types.OrderRecord{
		OrderID:      rr.str(types.ColOrderID),
		AccountID:    rr.str(types.ColAccountID),
		OrderType:    rr.str(types.ColOrderType),
		OrderCreated: rr.ts(types.ColOrderCreated),
		TravelStart:  rr.ts(types.ColTravelStart),
		TravelEnd:    rr.ts(types.ColTravelEnd),
	}
	if schema.HasStatus {
		rec.OrderStatus = rr.raw(types.ColOrderStatus)
	}
	if schema.HasExtended {
		rec.AccountFirstOrder = rr.ts(types.ColAccountFirstOrder)
		rec.AccountLastOrder = rr.ts(types.ColAccountLastOrder)
		rec.AccountTotalOrders = rr.count(types.ColAccountTotalOrders)
	}
	if rr.err != nil {
		return types.OrderRecord{}, rr.err
	}
	return rec, nil
}

func isBlank(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
