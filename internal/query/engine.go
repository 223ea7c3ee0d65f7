// Package query answers filtered, sorted and paginated price lookups over the
// partition store, plus the cascading filter options that drive the browser.
package query

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"agriassist-prices/internal/cache"
	"agriassist-prices/internal/models"
	"agriassist-prices/internal/storage"
)

// Result is one page of a query.
type Result struct {
	Items          []models.PriceRecord `json:"items"`
	Total          int                  `json:"total"`
	Page           int                  `json:"page"`
	Limit          int                  `json:"limit"`
	Offset         int                  `json:"offset"`
	HasMore        bool                 `json:"has_more"`
	FiltersApplied map[string]string    `json:"filters_applied"`
}

type Engine struct {
	parts   *storage.PartitionStore
	results *cache.Cache[[]models.PriceRecord]
	options *cache.Cache[*FilterOptions]
	loc     *time.Location
	now     func() time.Time
}

// NewEngine reads from parts and memoizes into the given caches. A nil loc
// means UTC for the default date.
func NewEngine(parts *storage.PartitionStore, results *cache.Cache[[]models.PriceRecord], options *cache.Cache[*FilterOptions], loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{
		parts:   parts,
		results: results,
		options: options,
		loc:     loc,
		now:     time.Now,
	}
}

// Today returns the default query date.
func (e *Engine) Today() string {
	return e.now().In(e.loc).Format(models.DateLayout)
}

// Query returns the page of records selected by p.
func (e *Engine) Query(ctx context.Context, p Params) (*Result, error) {
	p.normalize(e.Today())
	if err := p.validate(); err != nil {
		return nil, err
	}

	all, err := e.filtered(ctx, &p)
	if err != nil {
		return nil, err
	}

	total := len(all)
	start := min(p.Offset, total)
	end := start + min(p.Limit, total-start)
	items := make([]models.PriceRecord, end-start)
	copy(items, all[start:end])

	return &Result{
		Items:          items,
		Total:          total,
		Page:           p.Offset/p.Limit + 1,
		Limit:          p.Limit,
		Offset:         p.Offset,
		HasMore:        end < total,
		FiltersApplied: p.applied(),
	}, nil
}

// Resolve returns the whole filtered, sorted set for export, truncated to
// limit (ExportCap when non-positive). Paging fields of p are ignored.
func (e *Engine) Resolve(ctx context.Context, p Params, limit int) ([]models.PriceRecord, error) {
	if limit <= 0 || limit > ExportCap {
		limit = ExportCap
	}
	p.Limit, p.Offset = 0, 0
	p.normalize(e.Today())
	if err := p.validate(); err != nil {
		return nil, err
	}

	all, err := e.filtered(ctx, &p)
	if err != nil {
		return nil, err
	}
	if len(all) > limit {
		all = all[:limit]
	}
	out := make([]models.PriceRecord, len(all))
	copy(out, all)
	return out, nil
}

// Invalidate drops every memoized result and option set.
func (e *Engine) Invalidate() {
	e.results.Clear()
	e.options.Clear()
}

// filtered returns the memoized filtered and sorted set for p. Callers must
// not modify it.
func (e *Engine) filtered(ctx context.Context, p *Params) ([]models.PriceRecord, error) {
	key := p.cacheKey()
	if hit, ok := e.results.Get(key); ok {
		return hit, nil
	}

	records, err := e.load(ctx, p.Date, p.State)
	if err != nil {
		return nil, err
	}

	out := make([]models.PriceRecord, 0, len(records))
	for i := range records {
		if p.matches(&records[i]) {
			out = append(out, records[i])
		}
	}
	sortRecords(out, p.SortBy, p.SortDir == "desc")

	e.results.Set(key, out, 0)
	return out, nil
}

// load reads one partition when state is known, else the whole day. A
// missing partition is an empty result.
func (e *Engine) load(ctx context.Context, date, state string) ([]models.PriceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if state != "" {
		p, err := e.parts.Read(date, state)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return p.Records, nil
	}

	parts, err := e.parts.ReadDate(date)
	if err != nil {
		return nil, err
	}
	var out []models.PriceRecord
	for _, p := range parts {
		out = append(out, p.Records...)
	}
	return out, nil
}

func sortRecords(records []models.PriceRecord, by string, desc bool) {
	compare := func(a, b *models.PriceRecord) int {
		switch by {
		case SortDate:
			return strings.Compare(a.Date, b.Date)
		case SortCommodity:
			return compareFold(a.Commodity, b.Commodity)
		case SortMarket:
			return compareFold(a.Market, b.Market)
		case SortState:
			return compareFold(a.State, b.State)
		default:
			switch {
			case a.ModalPrice < b.ModalPrice:
				return -1
			case a.ModalPrice > b.ModalPrice:
				return 1
			}
			return 0
		}
	}
	sort.SliceStable(records, func(i, j int) bool {
		c := compare(&records[i], &records[j])
		if desc {
			return c > 0
		}
		return c < 0
	})
}

func compareFold(a, b string) int {
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}
