package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"agriassist-prices/internal/models"
)

// PopularStore derives and persists per-state commodity rankings. Rankings
// may lag the partitions by up to one refresh cycle.
type PopularStore struct {
	dir      string
	parts    *PartitionStore
	topN     int
	lookback int
	now      func() time.Time
}

// NewPopularStore ranks the topN commodities over the last lookback dates.
func NewPopularStore(parts *PartitionStore, topN, lookback int) *PopularStore {
	if topN <= 0 {
		topN = 10
	}
	if lookback <= 0 {
		lookback = 7
	}
	return &PopularStore{
		dir:      filepath.Join(parts.Root(), "meta", "popular"),
		parts:    parts,
		topN:     topN,
		lookback: lookback,
		now:      time.Now,
	}
}

// Compute ranks the state's commodities by how many quotes they have across
// recent dates, with the average modal price alongside.
func (p *PopularStore) Compute(state string) (*models.PopularCommodities, error) {
	dates, err := p.parts.ListDates()
	if err != nil {
		return nil, err
	}
	if len(dates) > p.lookback {
		dates = dates[:p.lookback]
	}

	type agg struct {
		count int
		sum   float64
	}
	byCommodity := map[string]*agg{}
	canonical := state
	for _, date := range dates {
		part, err := p.parts.Read(date, state)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if part.State != "" {
			canonical = part.State
		}
		for _, r := range part.Records {
			a, ok := byCommodity[r.Commodity]
			if !ok {
				a = &agg{}
				byCommodity[r.Commodity] = a
			}
			a.count++
			a.sum += r.ModalPrice
		}
	}

	items := make([]models.PopularCommodity, 0, len(byCommodity))
	for name, a := range byCommodity {
		items = append(items, models.PopularCommodity{
			Commodity:     name,
			Count:         a.count,
			AvgModalPrice: math.Round(a.sum/float64(a.count)*100) / 100,
		})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Count != items[j].Count {
			return items[i].Count > items[j].Count
		}
		return items[i].Commodity < items[j].Commodity
	})
	if len(items) > p.topN {
		items = items[:p.topN]
	}

	return &models.PopularCommodities{
		State:      canonical,
		ComputedOn: p.now(),
		Items:      items,
	}, nil
}

// Refresh recomputes and persists the ranking for state.
func (p *PopularStore) Refresh(state string) (*models.PopularCommodities, error) {
	pc, err := p.Compute(state)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(pc, "", "  ")
	if err != nil {
		return nil, &WriteError{Op: "encode", Path: p.path(state), Err: err}
	}
	if err := AtomicWriteFile(p.path(state), data); err != nil {
		return nil, err
	}
	return pc, nil
}

// Get returns the stored ranking, recomputing it when missing or older than
// maxAge. A zero maxAge never recomputes an existing ranking.
func (p *PopularStore) Get(state string, maxAge time.Duration) (*models.PopularCommodities, error) {
	pc, err := p.read(state)
	if errors.Is(err, ErrNotFound) {
		return p.Refresh(state)
	}
	if err != nil {
		return nil, err
	}
	if maxAge > 0 && p.now().Sub(pc.ComputedOn) > maxAge {
		return p.Refresh(state)
	}
	return pc, nil
}

func (p *PopularStore) read(state string) (*models.PopularCommodities, error) {
	data, err := os.ReadFile(p.path(state))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read popular %s: %w", state, err)
	}
	var pc models.PopularCommodities
	if err := json.Unmarshal(data, &pc); err != nil {
		return nil, fmt.Errorf("decode popular %s: %w", state, err)
	}
	return &pc, nil
}

func (p *PopularStore) path(state string) string {
	return filepath.Join(p.dir, Slug(state)+".json")
}
