package page

import (
	"context"
	"testing"
	"time"

	"github.com/fsxcore/tieredfs/backend"
	"github.com/fsxcore/tieredfs/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore() (*Store, *backend.Memory) {
	hot := backend.NewMemory()
	backends := backend.NewComposite(map[backend.Tier]backend.Backend{backend.TierHot: hot})
	idx := NewIndex()
	// extent size = 2 pages per extent
	s := NewStore(idx, backends, 64, 128, codec.None, codec.Options{})
	return s, hot
}

func TestStoreWriteReadPages(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()
	now := time.Unix(1000, 0)

	pages := [][]byte{makePage(64, 1), makePage(64, 2), makePage(30, 3)}
	require.NoError(t, s.WritePages(ctx, "blob-abc", 0, pages, backend.TierHot, now))

	got, err := s.ReadPages(ctx, "blob-abc", 0, 3, now.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, pages[0], got[0])
	assert.Equal(t, pages[1], got[1])
	assert.Equal(t, pages[2], got[2])

	m, ok := s.Index.Get(Key("blob-abc", 2))
	require.True(t, ok)
	assert.True(t, m.LastAccessAt.After(now))
}

func TestStoreReadRangeAcrossPages(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()
	now := time.Unix(2000, 0)

	p0 := makePage(64, 0xAA)
	p1 := makePage(64, 0xBB)
	require.NoError(t, s.WritePages(ctx, "blob-range", 0, [][]byte{p0, p1}, backend.TierHot, now))

	out, err := s.ReadRange(ctx, "blob-range", 60, 20, now)
	require.NoError(t, err)
	require.Len(t, out, 20)
	assert.Equal(t, p0[60:64], out[:4])
	assert.Equal(t, p1[0:16], out[4:])
}

func TestStoreReadMissingPageIsNotFound(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()
	_, err := s.ReadPages(ctx, "blob-missing", 0, 1, time.Unix(0, 0))
	assert.Error(t, err)
}

func TestStoreWritePagesOneBackendObjectPerPage(t *testing.T) {
	ctx := context.Background()
	s, hot := newTestStore()
	now := time.Unix(3000, 0)

	pages := make([][]byte, 5)
	for i := range pages {
		pages[i] = makePage(64, byte(i))
	}
	require.NoError(t, s.WritePages(ctx, "blob-multi", 0, pages, backend.TierHot, now))
	assert.Equal(t, 5, hot.Len(), "WritePages stores one backend object per page, not packed extents")

	got, err := s.ReadPages(ctx, "blob-multi", 0, 5, now)
	require.NoError(t, err)
	for i, p := range got {
		assert.Equal(t, pages[i], p)
	}
}

func TestStoreDeletePagesRemovesBackendBytes(t *testing.T) {
	ctx := context.Background()
	s, hot := newTestStore()
	now := time.Unix(3500, 0)

	pages := [][]byte{makePage(64, 1), makePage(64, 2)}
	require.NoError(t, s.WritePages(ctx, "blob-del", 0, pages, backend.TierHot, now))
	require.Equal(t, 2, hot.Len())

	s.DeletePages(ctx, "blob-del", 0, 2)
	assert.Equal(t, 0, hot.Len())

	_, ok := s.Index.Get(Key("blob-del", 0))
	assert.False(t, ok)
}

func TestStoreWriteExtentAndReadExtentRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, hot := newTestStore()

	pages := make([][]byte, 3)
	for i := range pages {
		pages[i] = makePage(64, byte(10+i))
	}
	key, err := s.WriteExtent(ctx, "blob-bulk", 0, pages, backend.TierHot)
	require.NoError(t, err)
	assert.Equal(t, 1, hot.Len(), "WriteExtent packs all pages into one backend object")

	for i, want := range pages {
		got, err := s.ReadExtent(ctx, key, backend.TierHot, i)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}
