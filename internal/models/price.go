package models

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the partition and record date format.
const DateLayout = "2006-01-02"

// DefaultUnit is applied to records that arrive without a unit.
const DefaultUnit = "Quintal"

// Source identifies where a price record came from.
type Source string

const (
	SourceExternalAPI       Source = "external-api"
	SourceScraped           Source = "scraped"
	SourceSyntheticFallback Source = "synthetic-fallback"
)

// FetchStatus describes how a partition was produced.
type FetchStatus string

const (
	FetchSuccess FetchStatus = "success"
	FetchPartial FetchStatus = "partial"
	FetchFailed  FetchStatus = "failed"
)

// PriceRecord is one commodity price quote from a market on a given day.
type PriceRecord struct {
	State       string   `json:"state"`
	District    string   `json:"district"`
	Market      string   `json:"market"`
	Commodity   string   `json:"commodity"`
	Variety     string   `json:"variety,omitempty"`
	Unit        string   `json:"unit"`
	MinPrice    *float64 `json:"min_price,omitempty"`
	MaxPrice    *float64 `json:"max_price,omitempty"`
	ModalPrice  float64  `json:"modal_price"`
	Date        string   `json:"date"`
	Source      Source   `json:"source"`
	ArrivalBags *int     `json:"arrival_bags,omitempty"`
	Grade       string   `json:"grade,omitempty"`
}

// Normalize trims text fields and fills in the default unit.
func (r *PriceRecord) Normalize() {
	r.State = strings.TrimSpace(r.State)
	r.District = strings.TrimSpace(r.District)
	r.Market = strings.TrimSpace(r.Market)
	r.Commodity = strings.TrimSpace(r.Commodity)
	r.Variety = strings.TrimSpace(r.Variety)
	r.Grade = strings.TrimSpace(r.Grade)
	r.Unit = strings.TrimSpace(r.Unit)
	if r.Unit == "" {
		r.Unit = DefaultUnit
	}
}

// Validate rejects records with missing identity fields or an unparseable
// date, and enforces min <= modal <= max for whichever bounds are set.
func (r *PriceRecord) Validate() error {
	if r.State == "" || r.Market == "" || r.Commodity == "" {
		return fmt.Errorf("record missing state/market/commodity")
	}
	if _, err := time.Parse(DateLayout, r.Date); err != nil {
		return fmt.Errorf("record date %q: %w", r.Date, err)
	}
	if r.ModalPrice < 0 {
		return fmt.Errorf("negative modal price %.2f", r.ModalPrice)
	}
	if r.MinPrice != nil && *r.MinPrice > r.ModalPrice {
		return fmt.Errorf("min price %.2f above modal %.2f", *r.MinPrice, r.ModalPrice)
	}
	if r.MaxPrice != nil && *r.MaxPrice < r.ModalPrice {
		return fmt.Errorf("max price %.2f below modal %.2f", *r.MaxPrice, r.ModalPrice)
	}
	return nil
}

// NaturalKey identifies a quote across refreshes.
func (r *PriceRecord) NaturalKey() string {
	return strings.Join([]string{r.State, r.District, r.Market, r.Commodity, r.Variety, r.Date}, "|")
}

// Partition holds every record for one (date, state) pair.
type Partition struct {
	Date         string        `json:"date"`
	State        string        `json:"state"`
	Records      []PriceRecord `json:"records"`
	TotalRecords int           `json:"total_records"`
	LastUpdated  time.Time     `json:"last_updated"`
	FetchStatus  FetchStatus   `json:"fetch_status"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// FetchRequest narrows a fetch against an external price source.
// An empty State means all states.
type FetchRequest struct {
	Date  time.Time
	State string
}

// Float returns a pointer to v, for the optional price fields.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }
