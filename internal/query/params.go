package query

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"agriassist-prices/internal/models"
	"agriassist-prices/internal/storage"
)

const (
	DefaultLimit = 50
	MaxLimit     = 1000
	ExportCap    = 10000
)

// sortable fields
const (
	SortModalPrice = "modal_price"
	SortDate       = "date"
	SortCommodity  = "commodity"
	SortMarket     = "market"
	SortState      = "state"
)

var sortFields = map[string]bool{
	SortModalPrice: true,
	SortDate:       true,
	SortCommodity:  true,
	SortMarket:     true,
	SortState:      true,
}

// ValidationError rejects a malformed query parameter.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Params selects, orders and pages price records. Zero values take defaults.
type Params struct {
	Date      string `json:"date"`
	State     string `json:"state,omitempty"`
	District  string `json:"district,omitempty"`
	Market    string `json:"market,omitempty"`
	Commodity string `json:"commodity,omitempty"`
	Variety   string `json:"variety,omitempty"`
	Q         string `json:"q,omitempty"`
	Limit     int    `json:"limit"`
	Offset    int    `json:"offset"`
	SortBy    string `json:"sortBy"`
	SortDir   string `json:"sortDir"`
}

// ParseParams reads Params from URL query values. Unparseable numbers are
// validation errors.
func ParseParams(v url.Values) (Params, error) {
	p := Params{
		Date:      v.Get("date"),
		State:     v.Get("state"),
		District:  v.Get("district"),
		Market:    v.Get("market"),
		Commodity: v.Get("commodity"),
		Variety:   v.Get("variety"),
		Q:         v.Get("q"),
		SortBy:    v.Get("sortBy"),
		SortDir:   v.Get("sortDir"),
	}
	var err error
	if p.Limit, err = intParam(v, "limit"); err != nil {
		return p, err
	}
	if p.Offset, err = intParam(v, "offset"); err != nil {
		return p, err
	}
	return p, nil
}

func intParam(v url.Values, key string) (int, error) {
	s := strings.TrimSpace(v.Get(key))
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, &ValidationError{Field: key, Message: fmt.Sprintf("%q is not an integer", s)}
	}
	return n, nil
}

// normalize trims inputs and applies defaults. today is used for an empty date.
func (p *Params) normalize(today string) {
	for _, s := range []*string{&p.Date, &p.State, &p.District, &p.Market, &p.Commodity, &p.Variety, &p.Q} {
		*s = strings.TrimSpace(*s)
	}
	if p.Date == "" {
		p.Date = today
	}
	if p.Limit == 0 {
		p.Limit = DefaultLimit
	}
	p.SortBy = strings.ToLower(strings.TrimSpace(p.SortBy))
	if p.SortBy == "" {
		p.SortBy = SortModalPrice
	}
	p.SortDir = strings.ToLower(strings.TrimSpace(p.SortDir))
	if p.SortDir == "" {
		p.SortDir = "desc"
	}
}

func (p *Params) validate() error {
	if _, err := time.Parse(models.DateLayout, p.Date); err != nil {
		return &ValidationError{Field: "date", Message: fmt.Sprintf("%q is not a YYYY-MM-DD date", p.Date)}
	}
	if p.Limit < 0 || p.Limit > MaxLimit {
		return &ValidationError{Field: "limit", Message: fmt.Sprintf("must be between 1 and %d, got %d", MaxLimit, p.Limit)}
	}
	if p.Offset < 0 {
		return &ValidationError{Field: "offset", Message: fmt.Sprintf("must not be negative, got %d", p.Offset)}
	}
	if !sortFields[p.SortBy] {
		return &ValidationError{Field: "sortBy", Message: fmt.Sprintf("unsupported sort field %q", p.SortBy)}
	}
	if p.SortDir != "asc" && p.SortDir != "desc" {
		return &ValidationError{Field: "sortDir", Message: fmt.Sprintf("must be asc or desc, got %q", p.SortDir)}
	}
	return nil
}

// applied lists the filters in effect, for echoing back to the caller.
func (p *Params) applied() map[string]string {
	out := map[string]string{"date": p.Date}
	for k, v := range map[string]string{
		"state":     p.State,
		"district":  p.District,
		"market":    p.Market,
		"commodity": p.Commodity,
		"variety":   p.Variety,
		"q":         p.Q,
	} {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// cacheKey identifies the filtered, sorted set; paging is not part of it.
func (p *Params) cacheKey() string {
	return strings.ToLower(strings.Join([]string{
		"q", p.Date, storage.Slug(p.State), p.District, p.Market, p.Commodity, p.Variety, p.Q, p.SortBy, p.SortDir,
	}, "|"))
}

func (p *Params) matches(r *models.PriceRecord) bool {
	// state is matched the way its partition was found, by slug
	if p.State != "" && storage.Slug(p.State) != storage.Slug(r.State) {
		return false
	}
	if !eq(p.District, r.District) || !eq(p.Market, r.Market) ||
		!eq(p.Commodity, r.Commodity) || !eq(p.Variety, r.Variety) {
		return false
	}
	if p.Q == "" {
		return true
	}
	q := strings.ToLower(p.Q)
	return strings.Contains(strings.ToLower(r.Commodity), q) ||
		strings.Contains(strings.ToLower(r.Market), q) ||
		strings.Contains(strings.ToLower(r.Variety), q)
}

// eq is a case-insensitive equality where an empty filter matches anything.
func eq(filter, value string) bool {
	return filter == "" || strings.EqualFold(filter, strings.TrimSpace(value))
}
