package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"agriassist-prices/internal/metrics"
	"agriassist-prices/internal/models"
)

// MetaStore owns meta/index.json.
type MetaStore struct {
	path string
	mu   sync.Mutex
}

// NewMetaStore returns the meta store under the data root.
func NewMetaStore(root string) *MetaStore {
	return &MetaStore{path: filepath.Join(root, "meta", "index.json")}
}

// Path returns the location of the index file.
func (m *MetaStore) Path() string { return m.path }

// Read returns the stored index. A missing file yields an empty index.
func (m *MetaStore) Read() (*models.MetaIndex, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read()
}

// Write replaces the index atomically.
func (m *MetaStore) Write(idx *models.MetaIndex) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.write(idx)
}

// Update applies fn to the current index and writes the result.
func (m *MetaStore) Update(fn func(*models.MetaIndex)) (*models.MetaIndex, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, err := m.read()
	if err != nil {
		return nil, err
	}
	fn(idx)
	if err := m.write(idx); err != nil {
		return nil, err
	}
	return idx, nil
}

// Rebuild rescans every partition, recomputes the summary counts and dates,
// applies mutate (may be nil) and writes the index. Refresh and fetch state
// carry over from the stored index.
func (m *MetaStore) Rebuild(parts *PartitionStore, now time.Time, mutate func(*models.MetaIndex)) (*models.MetaIndex, error) {
	all, err := parts.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("rebuild meta: %w", err)
	}

	return m.Update(func(idx *models.MetaIndex) {
		Summarize(idx, all)
		idx.LastUpdated = now
		if mutate != nil {
			mutate(idx)
		}
		metrics.StoredRecords.Set(float64(idx.TotalRecords))
	})
}

// Summarize overwrites the count and date fields of idx from parts.
func Summarize(idx *models.MetaIndex, parts []*models.Partition) {
	states := map[string]struct{}{}
	commodities := map[string]struct{}{}
	districts := map[string]struct{}{}
	markets := map[string]struct{}{}
	dates := map[string]struct{}{}
	total := 0

	for _, p := range parts {
		if len(p.Records) == 0 {
			continue
		}
		dates[p.Date] = struct{}{}
		for _, r := range p.Records {
			total++
			states[r.State] = struct{}{}
			commodities[r.Commodity] = struct{}{}
			districts[r.State+"|"+r.District] = struct{}{}
			markets[r.State+"|"+r.District+"|"+r.Market] = struct{}{}
		}
	}

	idx.TotalRecords = total
	idx.TotalStates = len(states)
	idx.TotalCommodities = len(commodities)
	idx.TotalDistricts = len(districts)
	idx.TotalMarkets = len(markets)
	idx.AvailableDates = make([]string, 0, len(dates))
	for d := range dates {
		idx.AvailableDates = append(idx.AvailableDates, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(idx.AvailableDates)))
}

func (m *MetaStore) read() (*models.MetaIndex, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return emptyMeta(), nil
		}
		return nil, fmt.Errorf("read meta index: %w", err)
	}
	idx := emptyMeta()
	if err := json.Unmarshal(data, idx); err != nil {
		return nil, fmt.Errorf("decode meta index: %w", err)
	}
	if idx.AvailableDates == nil {
		idx.AvailableDates = []string{}
	}
	return idx, nil
}

func (m *MetaStore) write(idx *models.MetaIndex) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return &WriteError{Op: "encode", Path: m.path, Err: err}
	}
	return AtomicWriteFile(m.path, data)
}

func emptyMeta() *models.MetaIndex {
	return &models.MetaIndex{
		AvailableDates: []string{},
		RefreshStatus:  models.RefreshIdle,
	}
}
