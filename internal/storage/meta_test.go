package storage

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agriassist-prices/internal/models"
)

func TestMetaStore_ReadMissingIsEmpty(t *testing.T) {
	m := NewMetaStore(t.TempDir())

	idx, err := m.Read()
	require.NoError(t, err)
	assert.Equal(t, models.RefreshIdle, idx.RefreshStatus)
	assert.Empty(t, idx.AvailableDates)
	assert.Nil(t, idx.Fetch.LastSuccessAt)
}

func TestMetaStore_WriteRead(t *testing.T) {
	m := NewMetaStore(t.TempDir())
	at := time.Date(2024, 1, 14, 0, 5, 0, 0, time.UTC)
	want := &models.MetaIndex{
		LastUpdated:    at,
		TotalRecords:   3,
		AvailableDates: []string{"2024-01-14"},
		RefreshStatus:  models.RefreshError,
		RefreshError:   "upstream timeout",
		Fetch: models.FetchState{
			LastSuccessAt:  &at,
			LastFetchError: "upstream timeout",
			FetchAttempts:  2,
		},
	}
	require.NoError(t, m.Write(want))

	got, err := m.Read()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestMetaStore_Rebuild(t *testing.T) {
	s := newTestStore(t)
	m := NewMetaStore(s.Root())

	require.NoError(t, s.Write("2024-01-15", "Maharashtra", samplePartition("2024-01-15", "Maharashtra",
		rec("Maharashtra", "Nashik", "Lasalgaon", "Onion", 2000),
		rec("Maharashtra", "Nashik", "Pimpalgaon", "Onion", 1950),
		rec("Maharashtra", "Pune", "Pune", "Potato", 1800),
	)))
	require.NoError(t, s.Write("2024-01-14", "Karnataka", samplePartition("2024-01-14", "Karnataka",
		rec("Karnataka", "Kolar", "Kolar", "Tomato", 900),
	)))
	// an empty partition contributes no date
	require.NoError(t, s.Write("2024-01-13", "Karnataka", samplePartition("2024-01-13", "Karnataka")))

	// a fetch failure recorded earlier must survive the rebuild
	_, err := m.Update(func(idx *models.MetaIndex) {
		idx.Fetch.FetchAttempts = 2
		idx.Fetch.LastFetchError = "timeout"
	})
	require.NoError(t, err)

	now := time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)
	idx, err := m.Rebuild(s, now, func(idx *models.MetaIndex) {
		idx.RefreshStatus = models.RefreshIdle
	})
	require.NoError(t, err)

	assert.Equal(t, 4, idx.TotalRecords)
	assert.Equal(t, 2, idx.TotalStates)
	assert.Equal(t, 3, idx.TotalCommodities)
	assert.Equal(t, 3, idx.TotalDistricts)
	assert.Equal(t, 4, idx.TotalMarkets)
	assert.Equal(t, []string{"2024-01-15", "2024-01-14"}, idx.AvailableDates)
	assert.Equal(t, now, idx.LastUpdated)
	assert.Equal(t, 2, idx.Fetch.FetchAttempts)

	onDisk, err := m.Read()
	require.NoError(t, err)
	assert.Equal(t, idx, onDisk)
}

func TestMetaStore_CorruptIndexIsAnError(t *testing.T) {
	root := t.TempDir()
	m := NewMetaStore(root)
	require.NoError(t, os.MkdirAll(root+"/meta", DirPerm))
	require.NoError(t, os.WriteFile(m.Path(), []byte("{not json"), FilePerm))

	_, err := m.Read()
	assert.Error(t, err)
}

func TestPopularStore_Compute(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write("2024-01-15", "Maharashtra", samplePartition("2024-01-15", "Maharashtra",
		rec("Maharashtra", "Nashik", "Lasalgaon", "Onion", 2000),
		rec("Maharashtra", "Nashik", "Pimpalgaon", "Onion", 1900),
		rec("Maharashtra", "Pune", "Pune", "Potato", 1800),
	)))
	require.NoError(t, s.Write("2024-01-14", "Maharashtra", samplePartition("2024-01-14", "Maharashtra",
		rec("Maharashtra", "Nashik", "Lasalgaon", "Onion", 2100),
		rec("Maharashtra", "Pune", "Pune", "Tomato", 700),
	)))
	require.NoError(t, s.Write("2024-01-10", "Maharashtra", samplePartition("2024-01-10", "Maharashtra",
		rec("Maharashtra", "Pune", "Pune", "Tomato", 650),
	)))

	p := NewPopularStore(s, 2, 2)
	pc, err := p.Compute("Maharashtra")
	require.NoError(t, err)

	assert.Equal(t, "Maharashtra", pc.State)
	require.Len(t, pc.Items, 2)
	assert.Equal(t, models.PopularCommodity{Commodity: "Onion", Count: 3, AvgModalPrice: 2000}, pc.Items[0])
	// Potato and Tomato tie on count; name order breaks the tie and the
	// 2024-01-10 quote is outside the lookback
	assert.Equal(t, models.PopularCommodity{Commodity: "Potato", Count: 1, AvgModalPrice: 1800}, pc.Items[1])
}

func TestPopularStore_GetRecomputesWhenStale(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write("2024-01-15", "Punjab", samplePartition("2024-01-15", "Punjab",
		rec("Punjab", "Ludhiana", "Khanna", "Wheat", 2275),
	)))

	p := NewPopularStore(s, 10, 7)
	clock := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return clock }

	first, err := p.Get("Punjab", time.Hour)
	require.NoError(t, err)
	require.Len(t, first.Items, 1)

	require.NoError(t, s.Write("2024-01-16", "Punjab", samplePartition("2024-01-16", "Punjab",
		rec("Punjab", "Ludhiana", "Khanna", "Maize", 1900),
		rec("Punjab", "Ludhiana", "Jagraon", "Maize", 1950),
	)))

	clock = clock.Add(30 * time.Minute)
	cached, err := p.Get("Punjab", time.Hour)
	require.NoError(t, err)
	assert.Len(t, cached.Items, 1, "fresh ranking is served as stored")

	clock = clock.Add(2 * time.Hour)
	recomputed, err := p.Get("Punjab", time.Hour)
	require.NoError(t, err)
	require.Len(t, recomputed.Items, 2)
	assert.Equal(t, "Maize", recomputed.Items[0].Commodity)
}
