// Package agmarknet fetches daily mandi prices from external sources: the
// data.gov.in Agmarknet resource API, the Agmarknet HTML report, and an
// opt-in deterministic synthetic generator.
package agmarknet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"agriassist-prices/internal/models"
)

// Source produces price records for a date and optional state.
type Source interface {
	Name() string
	Fetch(ctx context.Context, req models.FetchRequest) ([]models.PriceRecord, error)
}

// ErrNoData is returned by a source that answered but had nothing for the request.
var ErrNoData = errors.New("agmarknet: no records")

// SourceError ties a failure to the source that produced it.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string { return e.Source + ": " + e.Err.Error() }

func (e *SourceError) Unwrap() error { return e.Err }

// arrivalLayout is the DD/MM/YYYY format Agmarknet uses for arrival dates.
const arrivalLayout = "02/01/2006"

// flexNumber decodes a JSON number that may arrive quoted, empty or "NR".
type flexNumber struct {
	Value float64
	Valid bool
}

func (n *flexNumber) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*n = flexNumber{}
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		s = str
	}
	v, ok := parseNumber(s)
	*n = flexNumber{Value: v, Valid: ok}
	return nil
}

// parseNumber accepts "1,234.50" style values; anything else is invalid.
func parseNumber(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseArrivalDate converts DD/MM/YYYY (or already ISO) dates to DateLayout.
func parseArrivalDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{arrivalLayout, models.DateLayout, "02-01-2006", "02 Jan 2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(models.DateLayout), nil
		}
	}
	return "", fmt.Errorf("unrecognized arrival date %q", s)
}

func optional(n flexNumber) *float64 {
	if !n.Valid {
		return nil
	}
	return models.Float(n.Value)
}
