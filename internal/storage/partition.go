// Package storage is the on-disk system of record for mandi prices.
//
// Layout under the data root:
//
//	prices/<YYYY-MM-DD>/<state-slug>.json   one partition per (date, state)
//	meta/index.json                          meta index
//	meta/popular/<state-slug>.json           popular commodities per state
//
// Every file is replaced with temp-file + rename, so readers see either the
// old or the new version and never a partial one.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"agriassist-prices/internal/metrics"
	"agriassist-prices/internal/models"
)

// PartitionStore reads and writes partition files.
type PartitionStore struct {
	root    string
	writeMu sync.Mutex
}

// Usage is the size accounting for the partition tree.
type Usage struct {
	Dates      int   `json:"dates"`
	Partitions int   `json:"partitions"`
	Bytes      int64 `json:"bytes"`
}

// NewPartitionStore returns a store rooted at root. Call Init once at startup.
func NewPartitionStore(root string) *PartitionStore {
	return &PartitionStore{root: root}
}

// Init creates the directory tree. Safe to call more than once.
func (s *PartitionStore) Init() error {
	for _, dir := range []string{s.pricesDir(), filepath.Join(s.root, "meta", "popular")} {
		if err := os.MkdirAll(dir, DirPerm); err != nil {
			return fmt.Errorf("init %s: %w", dir, err)
		}
	}
	return nil
}

// Root returns the data root directory.
func (s *PartitionStore) Root() string { return s.root }

func (s *PartitionStore) pricesDir() string {
	return filepath.Join(s.root, "prices")
}

// Path returns the partition file path for (date, state).
func (s *PartitionStore) Path(date, state string) string {
	return filepath.Join(s.pricesDir(), date, Slug(state)+".json")
}

// Write replaces the partition for (date, state).
func (s *PartitionStore) Write(date, state string, p *models.Partition) error {
	if err := validDate(date); err != nil {
		return err
	}
	if Slug(state) == "" {
		return fmt.Errorf("invalid state %q", state)
	}
	if p == nil {
		return errors.New("nil partition")
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		metrics.PartitionWrites.WithLabelValues("error").Inc()
		return &WriteError{Op: "encode", Path: s.Path(date, state), Err: err}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := AtomicWriteFile(s.Path(date, state), data); err != nil {
		metrics.PartitionWrites.WithLabelValues("error").Inc()
		return err
	}
	metrics.PartitionWrites.WithLabelValues("ok").Inc()
	return nil
}

// Read returns the partition for (date, state), or ErrNotFound.
func (s *PartitionStore) Read(date, state string) (*models.Partition, error) {
	if err := validDate(date); err != nil {
		return nil, err
	}
	return readPartition(s.Path(date, state))
}

// ReadDate returns every partition stored for date.
func (s *PartitionStore) ReadDate(date string) ([]*models.Partition, error) {
	if err := validDate(date); err != nil {
		return nil, err
	}
	dir := filepath.Join(s.pricesDir(), date)
	files, err := listJSONFiles(dir)
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	parts := make([]*models.Partition, 0, len(files))
	for _, name := range files {
		p, err := readPartition(filepath.Join(dir, name))
		if errors.Is(err, ErrNotFound) {
			// removed by cleanup between listing and reading
			continue
		}
		if err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return parts, nil
}

// ReadAll returns every partition on disk, most recent date first.
func (s *PartitionStore) ReadAll() ([]*models.Partition, error) {
	dates, err := s.ListDates()
	if err != nil {
		return nil, err
	}
	var all []*models.Partition
	for _, d := range dates {
		parts, err := s.ReadDate(d)
		if err != nil {
			return nil, err
		}
		all = append(all, parts...)
	}
	return all, nil
}

// ListDates returns partition-bearing dates, newest first.
func (s *PartitionStore) ListDates() ([]string, error) {
	dirs, err := listSubdirs(s.pricesDir())
	if err != nil {
		return nil, err
	}
	dates := make([]string, 0, len(dirs))
	for _, d := range dirs {
		if validDate(d) == nil {
			dates = append(dates, d)
		}
	}
	// ISO dates sort lexically
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	return dates, nil
}

// ListStates returns display names of the states with a partition on date.
func (s *PartitionStore) ListStates(date string) ([]string, error) {
	if err := validDate(date); err != nil {
		return nil, err
	}
	files, err := listJSONFiles(filepath.Join(s.pricesDir(), date))
	if err != nil {
		return nil, err
	}
	states := make([]string, 0, len(files))
	for _, name := range files {
		states = append(states, DisplayName(strings.TrimSuffix(name, ".json")))
	}
	sort.Strings(states)
	return states, nil
}

// Cleanup deletes date directories older than retentionDays before now and
// returns how many were removed. A write racing a deletion at the cutoff may
// survive or vanish; retention is advisory.
func (s *PartitionStore) Cleanup(retentionDays int, now time.Time) (int, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retention must be positive, got %d", retentionDays)
	}
	y, m, d := now.Date()
	cutoff := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -retentionDays)

	dates, err := s.ListDates()
	if err != nil {
		return 0, err
	}
	removed := 0
	var firstErr error
	for _, date := range dates {
		t, _ := time.Parse(models.DateLayout, date)
		if !t.Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.pricesDir(), date)); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove %s: %w", date, err)
			}
			continue
		}
		removed++
	}
	metrics.PartitionsRemoved.Add(float64(removed))
	return removed, firstErr
}

// Usage walks the partition tree and totals file sizes.
func (s *PartitionStore) Usage() (Usage, error) {
	var u Usage
	dates, err := s.ListDates()
	if err != nil {
		return u, err
	}
	u.Dates = len(dates)
	for _, date := range dates {
		err := filepath.WalkDir(filepath.Join(s.pricesDir(), date), func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			if d.IsDir() || filepath.Ext(path) != ".json" {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			u.Partitions++
			u.Bytes += info.Size()
			return nil
		})
		if err != nil {
			return u, fmt.Errorf("usage %s: %w", date, err)
		}
	}
	return u, nil
}

func readPartition(path string) (*models.Partition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read partition %s: %w", path, err)
	}
	var p models.Partition
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode partition %s: %w", path, err)
	}
	return &p, nil
}

func validDate(date string) error {
	if _, err := time.Parse(models.DateLayout, date); err != nil {
		return fmt.Errorf("invalid date %q: want YYYY-MM-DD", date)
	}
	return nil
}
