// ingest/coerce.go
package ingest

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/gewnthar/playsync/models"
)

// dateLayouts are tried in order before the permissive parser.
var dateLayouts = []string{
	"2006-01-02",
	"20060102",
	"01/02/2006",
	"02-01-2006",
	"2006/01/02",
}

var truthy = map[string]bool{"true": true, "1": true, "yes": true, "y": true, "t": true}

var (
	errEmptyNumber = errors.New("no digits")
	errNonFinite   = errors.New("not a finite number")
	errIntRange    = errors.New("out of integer range")
)

// Coerce converts raw to the Go value stored for field. Empty input yields the
// field's zero value when it is not nullable and nil otherwise. On error the
// same substitute is returned together with a *RowCoercionError.
func Coerce(field models.Field, raw string) (any, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return emptyValue(field), nil
	}

	var (
		v   any
		err error
	)
	switch field.Type {
	case models.FieldInt:
		v, err = parseInt(s)
	case models.FieldDecimal:
		v, err = parseDecimal(s)
	case models.FieldDate:
		var t time.Time
		t, err = ParseDate(s)
		v = t.Truncate(24 * time.Hour)
	case models.FieldDateTime:
		v, err = ParseDate(s)
	case models.FieldBool:
		v = truthy[strings.ToLower(s)]
	default:
		v = s
	}
	if err != nil {
		return emptyValue(field), &RowCoercionError{Column: field.Name, Value: raw, Type: field.Type.String(), Err: err}
	}
	return v, nil
}

func emptyValue(field models.Field) any {
	if field.Nullable {
		return nil
	}
	return field.Zero()
}

func cleanNumber(s string) string {
	s = strings.ReplaceAll(s, ",", "")
	return strings.TrimSuffix(s, "%")
}

func parseInt(s string) (int64, error) {
	s = cleanNumber(s)
	if s == "" {
		return 0, errEmptyNumber
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := parseFinite(s)
	if err != nil {
		return 0, err
	}
	if f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, errIntRange
	}
	return int64(f), nil
}

func parseDecimal(s string) (float64, error) {
	s = cleanNumber(s)
	if s == "" {
		return 0, errEmptyNumber
	}
	return parseFinite(s)
}

// parseFinite rejects the NaN and Inf spellings ParseFloat accepts.
func parseFinite(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errNonFinite
	}
	return f, nil
}

// ParseDate accepts the fixed layouts first, then anything dateparse knows.
func ParseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
