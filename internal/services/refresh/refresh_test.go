package refresh

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agriassist-prices/internal/models"
	"agriassist-prices/internal/storage"
)

// 2024-01-14 is a Sunday.
func at(day, hour, min int) time.Time {
	return time.Date(2024, 1, day, hour, min, 0, 0, time.UTC)
}

func TestPolicy_WeekBucket(t *testing.T) {
	p := NewPolicy(time.Sunday, time.UTC)
	assert.Equal(t, at(14, 0, 0), p.WeekBucket(at(17, 15, 30)))
	assert.Equal(t, at(14, 0, 0), p.WeekBucket(at(14, 0, 0)))
	assert.Equal(t, at(7, 0, 0), p.WeekBucket(at(13, 23, 59)))

	mon := NewPolicy(time.Monday, time.UTC)
	assert.Equal(t, at(14, 0, 0), mon.WeekBucket(at(17, 12, 0)))
	assert.Equal(t, at(14, 0, 0), mon.WeekBucket(at(15, 0, 0)))
}

func TestPolicy_NonSundayAnchorKeepsSundayWeeks(t *testing.T) {
	p := NewPolicy(time.Monday, time.UTC)
	ptr := func(t time.Time) *time.Time { return &t }

	// forced on Sunday the 14th, then the Monday check falls in the same week
	assert.False(t, p.Due(ptr(at(14, 9, 0)), at(15, 10, 0)))
	// Saturday the 13th belongs to the week of the 7th
	assert.True(t, p.Due(ptr(at(13, 9, 0)), at(15, 10, 0)))
	assert.False(t, p.Due(ptr(at(13, 9, 0)), at(16, 10, 0)))
}

func TestPolicy_Due(t *testing.T) {
	p := NewPolicy(time.Sunday, time.UTC)
	ptr := func(t time.Time) *time.Time { return &t }

	tests := []struct {
		name string
		last *time.Time
		now  time.Time
		want bool
	}{
		{"never fetched", nil, at(16, 9, 0), true},
		{"previous sunday late night", ptr(at(7, 23, 59)), at(14, 0, 1), true},
		{"saturday just before the boundary", ptr(at(13, 23, 59)), at(14, 0, 1), true},
		{"monday six days earlier", ptr(at(8, 10, 0)), at(14, 10, 0), true},
		{"already fetched this sunday", ptr(at(14, 0, 5)), at(14, 10, 0), false},
		{"missed anchor is not caught up midweek", ptr(at(7, 10, 0)), at(15, 10, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Due(tt.last, tt.now))
		})
	}
}

func TestPolicy_DueUsesLocation(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	p := NewPolicy(time.Sunday, ist)

	// Saturday 20:00 UTC is already Sunday 01:30 in IST.
	last := time.Date(2024, 1, 7, 12, 0, 0, 0, ist)
	assert.True(t, p.Due(&last, at(13, 20, 0)))
}

type stubSource struct {
	mu      sync.Mutex
	calls   int
	records map[string][]models.PriceRecord // keyed by requested state
	errs    map[string]error
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) Fetch(_ context.Context, req models.FetchRequest) ([]models.PriceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err := s.errs[req.State]; err != nil {
		return nil, err
	}
	return s.records[req.State], nil
}

type recordingArchive struct {
	rows []models.PriceRecord
	err  error
}

func (a *recordingArchive) UpsertPrices(_ context.Context, records []models.PriceRecord) (int64, error) {
	a.rows = append(a.rows, records...)
	return int64(len(records)), a.err
}

type countingCache struct{ n int }

func (c *countingCache) Invalidate() { c.n++ }

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *recordingNotifier) Notify(ev Event) {
	n.mu.Lock()
	n.events = append(n.events, ev)
	n.mu.Unlock()
}

func (n *recordingNotifier) types() []string {
	var out []string
	for _, ev := range n.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	rec     *Reconciler
	src     *stubSource
	parts   *storage.PartitionStore
	meta    *storage.MetaStore
	archive *recordingArchive
	cache   *countingCache
	events  *recordingNotifier
}

func newFixture(t *testing.T, now time.Time, states ...string) *fixture {
	t.Helper()
	root := t.TempDir()
	parts := storage.NewPartitionStore(root)
	require.NoError(t, parts.Init())

	f := &fixture{
		src:     &stubSource{records: map[string][]models.PriceRecord{}, errs: map[string]error{}},
		parts:   parts,
		meta:    storage.NewMetaStore(root),
		archive: &recordingArchive{},
		cache:   &countingCache{},
		events:  &recordingNotifier{},
	}
	f.rec = NewReconciler(Deps{
		Source:     f.src,
		Partitions: parts,
		Meta:       f.meta,
		Popular:    storage.NewPopularStore(parts, 10, 7),
		Archive:    f.archive,
		Cache:      f.cache,
		Notifier:   f.events,
	}, Options{
		Policy:        NewPolicy(time.Sunday, time.UTC),
		FetchTimeout:  time.Second,
		States:        states,
		RetentionDays: 30,
	})
	f.rec.now = func() time.Time { return now }
	return f
}

func price(state, market, commodity, date string, modal float64) models.PriceRecord {
	return models.PriceRecord{
		State:      state,
		District:   market,
		Market:     market,
		Commodity:  commodity,
		MinPrice:   models.Float(modal - 100),
		MaxPrice:   models.Float(modal + 100),
		ModalPrice: modal,
		Date:       date,
		Source:     models.SourceExternalAPI,
	}
}

func seedPartition(t *testing.T, parts *storage.PartitionStore, date, state string, n int) {
	t.Helper()
	p := &models.Partition{Date: date, State: state, FetchStatus: models.FetchSuccess}
	for i := 0; i < n; i++ {
		p.Records = append(p.Records, price(state, fmt.Sprintf("M%d", i), "Rice", date, 2000+float64(i)))
	}
	p.TotalRecords = n
	require.NoError(t, parts.Write(date, state, p))
}

func TestRun_FetchFailurePreservesPartitions(t *testing.T) {
	f := newFixture(t, at(14, 9, 0))
	seedPartition(t, f.parts, "2024-01-13", "Maharashtra", 10)
	f.src.errs[""] = errors.New("connection refused")

	res, err := f.rec.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDegraded, res.Outcome)
	assert.True(t, res.Degraded())

	var upstream *UpstreamFetchError
	require.ErrorAs(t, res.Err, &upstream)
	assert.Contains(t, res.Error, "connection refused")

	p, err := f.parts.Read("2024-01-13", "Maharashtra")
	require.NoError(t, err)
	assert.Len(t, p.Records, 10)

	idx, err := f.meta.Read()
	require.NoError(t, err)
	assert.False(t, idx.Fetch.LastFetchSuccess)
	assert.Equal(t, 1, idx.Fetch.FetchAttempts)
	assert.Contains(t, idx.Fetch.LastFetchError, "connection refused")
	assert.Nil(t, idx.Fetch.LastSuccessAt)
	assert.Equal(t, models.RefreshError, idx.RefreshStatus)

	assert.Equal(t, 0, f.cache.n)
	assert.Empty(t, f.archive.rows)
	assert.Equal(t, []string{EventStarted, EventFailed}, f.events.types())

	// a second failure keeps counting
	_, err = f.rec.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	idx, _ = f.meta.Read()
	assert.Equal(t, 2, idx.Fetch.FetchAttempts)
}

func TestRun_AllInvalidRecordsDegrade(t *testing.T) {
	f := newFixture(t, at(14, 10, 0))
	seedPartition(t, f.parts, "2024-01-13", "Punjab", 10)
	f.src.records[""] = []models.PriceRecord{
		price("Punjab", "Khanna", "Wheat", "not-a-date", 2300),
		price("Punjab", "Khanna", "Rice", "not-a-date", 2600),
	}

	res, err := f.rec.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDegraded, res.Outcome)
	assert.Equal(t, 0, res.Partitions)
	assert.Equal(t, 2, res.Dropped)
	assert.Contains(t, res.Error, "all 2 fetched records invalid")

	p, err := f.parts.Read("2024-01-13", "Punjab")
	require.NoError(t, err)
	assert.Len(t, p.Records, 10)

	idx, err := f.meta.Read()
	require.NoError(t, err)
	assert.False(t, idx.Fetch.LastFetchSuccess)
	assert.Nil(t, idx.Fetch.LastSuccessAt)
	assert.Equal(t, 1, idx.Fetch.FetchAttempts)
	assert.Equal(t, models.RefreshError, idx.RefreshStatus)
	assert.Empty(t, f.archive.rows)
	assert.Equal(t, []string{EventStarted, EventFailed}, f.events.types())
}

func TestRun_SkipsWhenNotDue(t *testing.T) {
	now := at(14, 10, 0)
	f := newFixture(t, now)
	last := at(14, 1, 0)
	require.NoError(t, f.meta.Write(&models.MetaIndex{
		RefreshStatus: models.RefreshIdle,
		Fetch:         models.FetchState{LastSuccessAt: &last, LastFetchSuccess: true},
	}))

	res, err := f.rec.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, 0, f.src.calls)
	assert.Empty(t, f.events.events)
}

func TestRun_ForcedRunIgnoresPolicy(t *testing.T) {
	now := at(16, 10, 0)
	f := newFixture(t, now)
	last := at(14, 1, 0)
	require.NoError(t, f.meta.Write(&models.MetaIndex{Fetch: models.FetchState{LastSuccessAt: &last}}))
	f.src.records[""] = []models.PriceRecord{price("Punjab", "Khanna", "Wheat", "2024-01-16", 2300)}

	res, err := f.rec.Run(context.Background(), RunOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRefreshed, res.Outcome)
	assert.Equal(t, 1, f.src.calls)
	assert.Equal(t, "2024-01-16", res.Date)
}

func TestRun_WritesPartitionsAndIndexes(t *testing.T) {
	now := at(14, 9, 0)
	f := newFixture(t, now)

	invalid := price("Maharashtra", "Pune", "Onion", "2024-01-14", 1800)
	invalid.MaxPrice = models.Float(1000)
	f.src.records[""] = []models.PriceRecord{
		price("Maharashtra", "Pune", "Rice", "2024-01-14", 2200),
		price("maharashtra ", "Nashik", "Onion", "2024-01-14", 1700),
		invalid,
		price("Punjab", "Khanna", "Wheat", "2024-01-14", 2300),
	}

	res, err := f.rec.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRefreshed, res.Outcome)
	assert.Equal(t, 3, res.Records)
	assert.Equal(t, 1, res.Dropped)
	assert.Equal(t, 2, res.Partitions)
	assert.NotEmpty(t, res.RunID)

	mh, err := f.parts.Read("2024-01-14", "Maharashtra")
	require.NoError(t, err)
	assert.Len(t, mh.Records, 2)
	assert.Equal(t, models.FetchPartial, mh.FetchStatus)
	assert.Contains(t, mh.ErrorMessage, "1 invalid records dropped")
	assert.Equal(t, models.DefaultUnit, mh.Records[0].Unit)

	pb, err := f.parts.Read("2024-01-14", "Punjab")
	require.NoError(t, err)
	assert.Equal(t, models.FetchSuccess, pb.FetchStatus)

	idx, err := f.meta.Read()
	require.NoError(t, err)
	assert.Equal(t, 3, idx.TotalRecords)
	assert.Equal(t, 2, idx.TotalStates)
	assert.Equal(t, []string{"2024-01-14"}, idx.AvailableDates)
	assert.Equal(t, models.RefreshIdle, idx.RefreshStatus)
	assert.True(t, idx.Fetch.LastFetchSuccess)
	assert.Equal(t, 0, idx.Fetch.FetchAttempts)
	require.NotNil(t, idx.Fetch.LastSuccessAt)
	assert.True(t, idx.Fetch.LastSuccessAt.Equal(now))
	assert.Equal(t, res.RunID, idx.Fetch.LastRunID)

	_, err = os.Stat(filepath.Join(f.parts.Root(), "meta", "popular", "punjab.json"))
	assert.NoError(t, err)

	assert.Len(t, f.archive.rows, 3)
	assert.Equal(t, 1, f.cache.n)
	assert.Equal(t, []string{EventStarted, EventCompleted}, f.events.types())

	// the same week is now up to date
	res, err = f.rec.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
}

func TestRun_PartialStateFailure(t *testing.T) {
	f := newFixture(t, at(14, 9, 0), "Maharashtra", "Punjab")
	seedPartition(t, f.parts, "2024-01-14", "Punjab", 4)
	f.src.records["Maharashtra"] = []models.PriceRecord{price("Maharashtra", "Pune", "Rice", "2024-01-14", 2200)}
	f.src.errs["Punjab"] = errors.New("timeout")

	res, err := f.rec.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDegraded, res.Outcome)
	assert.Equal(t, 2, f.src.calls)
	assert.Contains(t, res.Error, "Punjab: timeout")

	_, err = f.parts.Read("2024-01-14", "Maharashtra")
	assert.NoError(t, err)
	pb, err := f.parts.Read("2024-01-14", "Punjab")
	require.NoError(t, err)
	assert.Len(t, pb.Records, 4, "failed state keeps its stored partition")

	idx, err := f.meta.Read()
	require.NoError(t, err)
	assert.Equal(t, 5, idx.TotalRecords)
	assert.False(t, idx.Fetch.LastFetchSuccess)
	assert.Nil(t, idx.Fetch.LastSuccessAt)
	assert.Equal(t, 1, f.cache.n)
}

func TestRun_SyntheticRecordsMarkPartial(t *testing.T) {
	f := newFixture(t, at(14, 9, 0))
	r := price("Gujarat", "Rajkot", "Cotton", "2024-01-14", 6800)
	r.Source = models.SourceSyntheticFallback
	f.src.records[""] = []models.PriceRecord{r}

	_, err := f.rec.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	p, err := f.parts.Read("2024-01-14", "Gujarat")
	require.NoError(t, err)
	assert.Equal(t, models.FetchPartial, p.FetchStatus)
	assert.Contains(t, p.ErrorMessage, "synthetic")
}

func TestRun_StorageFailureIsReturned(t *testing.T) {
	f := newFixture(t, at(14, 9, 0))
	f.src.records[""] = []models.PriceRecord{price("Punjab", "Khanna", "Wheat", "2024-01-14", 2300)}

	// a regular file where the date directory should go
	blocker := filepath.Join(f.parts.Root(), "prices", "2024-01-14")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	res, err := f.rec.Run(context.Background(), RunOptions{})
	require.Error(t, err)
	assert.Nil(t, res)

	var we *storage.WriteError
	assert.ErrorAs(t, err, &we)

	idx, err := f.meta.Read()
	require.NoError(t, err)
	assert.Equal(t, models.RefreshError, idx.RefreshStatus)
	assert.NotEmpty(t, idx.RefreshError)
	assert.False(t, f.rec.Running())
}

func TestRun_RejectsConcurrentRun(t *testing.T) {
	f := newFixture(t, at(14, 9, 0))
	f.rec.running.Store(true)

	_, err := f.rec.Run(context.Background(), RunOptions{Force: true})
	assert.ErrorIs(t, err, ErrRefreshInProgress)
	assert.Equal(t, 0, f.src.calls)
}

func TestRun_ArchiveFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, at(14, 9, 0))
	f.archive.err = errors.New("mysql gone")
	f.src.records[""] = []models.PriceRecord{price("Punjab", "Khanna", "Wheat", "2024-01-14", 2300)}

	res, err := f.rec.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRefreshed, res.Outcome)
}

func TestCleanup_RemovesExpiredDates(t *testing.T) {
	f := newFixture(t, time.Date(2024, 2, 15, 9, 0, 0, 0, time.UTC))
	seedPartition(t, f.parts, "2024-01-01", "Punjab", 1)
	seedPartition(t, f.parts, "2024-02-10", "Punjab", 2)

	removed, err := f.rec.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	idx, err := f.meta.Read()
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-02-10"}, idx.AvailableDates)
	assert.Equal(t, 2, idx.TotalRecords)
	assert.Equal(t, 1, f.cache.n)
}

func TestScheduler_TickRunsAndCleansUp(t *testing.T) {
	f := newFixture(t, at(14, 9, 0))
	seedPartition(t, f.parts, "2023-11-01", "Punjab", 1)
	f.src.records[""] = []models.PriceRecord{price("Punjab", "Khanna", "Wheat", "2024-01-14", 2300)}

	NewScheduler(f.rec, time.Hour).Tick(context.Background())

	dates, err := f.parts.ListDates()
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-14"}, dates)
	assert.Equal(t, 1, f.src.calls)
}
