package chart

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ColumnKind is the inferred role of a result column.
type ColumnKind string

// Column kinds.
const (
	KindTemporal    ColumnKind = "temporal"
	KindNumeric     ColumnKind = "numeric"
	KindCategorical ColumnKind = "categorical"
)

// dateLayouts are the string forms recognized as dates, most specific first.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	time.DateOnly,
	"2006/01/02",
	"01/02/2006",
	"2006-01",
	"Jan 2006",
	"January 2006",
	"2 Jan 2006",
}

// ClassifyColumn infers the kind of column col by looking at up to
// sampleSize non-null values. A column with no non-null values is
// categorical.
func ClassifyColumn(rows [][]any, col, sampleSize int) ColumnKind {
	temporal, numeric := true, true
	seen := 0
	for _, row := range rows {
		if seen >= sampleSize {
			break
		}
		v := cell(row, col)
		if v == nil {
			continue
		}
		seen++
		if temporal && !isTemporal(v) {
			temporal = false
		}
		if numeric && !isNumeric(v) {
			numeric = false
		}
		if !temporal && !numeric {
			return KindCategorical
		}
	}

	switch {
	case seen == 0:
		return KindCategorical
	case temporal:
		return KindTemporal
	case numeric:
		return KindNumeric
	default:
		return KindCategorical
	}
}

func cell(row []any, col int) any {
	if col >= len(row) {
		return nil
	}
	return row[col]
}

func isTemporal(v any) bool {
	switch t := v.(type) {
	case time.Time:
		return true
	case *time.Time:
		return t != nil
	case string:
		return parseDate(t)
	case []byte:
		return parseDate(string(t))
	default:
		return false
	}
}

func parseDate(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

func isNumeric(v any) bool {
	switch t := v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	case json.Number:
		return parseNumber(string(t))
	case string:
		return parseNumber(t)
	case []byte:
		return parseNumber(string(t))
	case fmt.Stringer:
		// Decimal and big number types render as plain numbers.
		return parseNumber(t.String())
	default:
		return false
	}
}

// parseNumber accepts finite decimal numbers. Hex floats, NaN and
// infinities parse as floats but read as words in a CSV column.
func parseNumber(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	digits := strings.TrimLeft(s, "+-")
	if len(digits) > 1 && digits[0] == '0' && strings.ContainsRune("xXbBoO", rune(digits[1])) {
		return false
	}
	f, err := strconv.ParseFloat(s, 64)
	return err == nil && !math.IsInf(f, 0) && !math.IsNaN(f)
}

// distinctCount returns the number of distinct non-null values in col.
func distinctCount(rows [][]any, col int) int {
	seen := make(map[string]struct{})
	for _, row := range rows {
		v := cell(row, col)
		if v == nil {
			continue
		}
		seen[fmt.Sprintf("%T:%v", v, v)] = struct{}{}
	}
	return len(seen)
}
