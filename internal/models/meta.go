package models

import "time"

// RefreshStatus is the state of the most recent refresh attempt.
type RefreshStatus string

const (
	RefreshIdle    RefreshStatus = "idle"
	RefreshRunning RefreshStatus = "running"
	RefreshError   RefreshStatus = "error"
)

// FetchState records the reconciliation history against the external source.
// LastSuccessAt is nil until the first successful fetch.
type FetchState struct {
	LastSuccessAt    *time.Time `json:"last_success_at"`
	LastAttemptAt    *time.Time `json:"last_attempt_at,omitempty"`
	LastFetchSuccess bool       `json:"last_fetch_success"`
	LastFetchError   string     `json:"last_fetch_error,omitempty"`
	FetchAttempts    int        `json:"fetch_attempts"`
	LastRunID        string     `json:"last_run_id,omitempty"`
}

// MetaIndex summarizes what is currently on disk.
type MetaIndex struct {
	LastUpdated      time.Time     `json:"last_updated"`
	TotalRecords     int           `json:"total_records"`
	TotalStates      int           `json:"total_states"`
	TotalCommodities int           `json:"total_commodities"`
	TotalDistricts   int           `json:"total_districts"`
	TotalMarkets     int           `json:"total_markets"`
	AvailableDates   []string      `json:"available_dates"`
	RefreshStatus    RefreshStatus `json:"refresh_status"`
	RefreshError     string        `json:"refresh_error,omitempty"`
	Fetch            FetchState    `json:"fetch"`
}

// PopularCommodity is one row of a state's popular ranking.
type PopularCommodity struct {
	Commodity     string  `json:"commodity"`
	Count         int     `json:"count"`
	AvgModalPrice float64 `json:"avg_modal_price"`
}

// PopularCommodities is the precomputed top-commodity ranking for a state.
type PopularCommodities struct {
	State      string             `json:"state"`
	ComputedOn time.Time          `json:"computed_on"`
	Items      []PopularCommodity `json:"items"`
}
