package query

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"agriassist-prices/internal/models"
)

// FilterContext is the partial selection the caller has made so far.
type FilterContext struct {
	Date      string `json:"date"`
	State     string `json:"state,omitempty"`
	District  string `json:"district,omitempty"`
	Commodity string `json:"commodity,omitempty"`
}

// FilterContextFromValues reads a FilterContext from URL query values.
func FilterContextFromValues(v url.Values) FilterContext {
	return FilterContext{
		Date:      strings.TrimSpace(v.Get("date")),
		State:     strings.TrimSpace(v.Get("state")),
		District:  strings.TrimSpace(v.Get("district")),
		Commodity: strings.TrimSpace(v.Get("commodity")),
	}
}

// FilterOptions holds the valid values for the next selection step. Only
// the lists relevant to that step are filled.
type FilterOptions struct {
	States      []string `json:"states"`
	Districts   []string `json:"districts"`
	Markets     []string `json:"markets"`
	Commodities []string `json:"commodities"`
	Varieties   []string `json:"varieties"`
}

// FilterOptions computes cascading options by scanning the relevant
// partitions:
//
//	no state  -> states
//	state     -> districts, commodities
//	district  -> markets, commodities
//	commodity -> varieties within the current scope
func (e *Engine) FilterOptions(ctx context.Context, fc FilterContext) (*FilterOptions, error) {
	if fc.Date == "" {
		fc.Date = e.Today()
	}
	if _, err := time.Parse(models.DateLayout, fc.Date); err != nil {
		return nil, &ValidationError{Field: "date", Message: fmt.Sprintf("%q is not a YYYY-MM-DD date", fc.Date)}
	}
	if fc.District != "" && fc.State == "" {
		return nil, &ValidationError{Field: "district", Message: "requires state"}
	}

	key := strings.ToLower(strings.Join([]string{"opt", fc.Date, fc.State, fc.District, fc.Commodity}, "|"))
	if hit, ok := e.options.Get(key); ok {
		return hit.clone(), nil
	}

	opts := &FilterOptions{
		States:      []string{},
		Districts:   []string{},
		Markets:     []string{},
		Commodities: []string{},
		Varieties:   []string{},
	}

	if fc.State == "" {
		states, err := e.parts.ListStates(fc.Date)
		if err != nil {
			return nil, err
		}
		opts.States = append(opts.States, states...)
	}

	if fc.State != "" || fc.Commodity != "" {
		records, err := e.load(ctx, fc.Date, fc.State)
		if err != nil {
			return nil, err
		}

		districts := newValueSet()
		markets := newValueSet()
		commodities := newValueSet()
		varieties := newValueSet()
		for i := range records {
			r := &records[i]
			if !eq(fc.District, r.District) {
				continue
			}
			districts.add(r.District)
			markets.add(r.Market)
			commodities.add(r.Commodity)
			if fc.Commodity != "" && eq(fc.Commodity, r.Commodity) {
				varieties.add(r.Variety)
			}
		}

		switch {
		case fc.District != "":
			opts.Markets = markets.sorted()
			opts.Commodities = commodities.sorted()
		case fc.State != "":
			opts.Districts = districts.sorted()
			opts.Commodities = commodities.sorted()
		}
		if fc.Commodity != "" {
			opts.Varieties = varieties.sorted()
		}
	}

	e.options.Set(key, opts, 0)
	return opts.clone(), nil
}

// clone copies the slices so callers cannot modify a cached set.
func (o *FilterOptions) clone() *FilterOptions {
	return &FilterOptions{
		States:      append([]string{}, o.States...),
		Districts:   append([]string{}, o.Districts...),
		Markets:     append([]string{}, o.Markets...),
		Commodities: append([]string{}, o.Commodities...),
		Varieties:   append([]string{}, o.Varieties...),
	}
}

// valueSet deduplicates case-insensitively, keeping the first spelling seen.
type valueSet map[string]string

func newValueSet() valueSet { return valueSet{} }

func (s valueSet) add(v string) {
	v = strings.TrimSpace(v)
	if v == "" {
		return
	}
	k := strings.ToLower(v)
	if _, ok := s[k]; !ok {
		s[k] = v
	}
}

func (s valueSet) sorted() []string {
	out := make([]string, 0, len(s))
	for _, v := range s {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i]) < strings.ToLower(out[j]) })
	return out
}
