package blob

import (
	"context"
	"testing"
	"time"

	"github.com/fsxcore/tieredfs/backend"
	"github.com/fsxcore/tieredfs/codec"
	"github.com/fsxcore/tieredfs/hashid"
	"github.com/fsxcore/tieredfs/page"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBlobStore() (*Store, *backend.Memory) {
	hot := backend.NewMemory()
	backends := backend.NewComposite(map[backend.Tier]backend.Backend{backend.TierHot: hot})
	idx := page.NewIndex()
	ps := page.NewStore(idx, backends, 16, 32, codec.None, codec.Options{})
	return NewStore(ps, 16), hot
}

func TestBlobWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(100, 0)
	s, _ := newTestBlobStore()

	content := []byte("hello, tiered filesystem world!")
	id, err := s.Write(ctx, content, backend.TierHot, now)
	require.NoError(t, err)
	assert.Equal(t, hashid.BlobID(content), id)

	got, err := s.Read(ctx, id, now)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	meta, ok := s.Meta(id)
	require.True(t, ok)
	assert.Equal(t, int64(len(content)), meta.Size)
	assert.Equal(t, 1, meta.RefCount)
}

func TestBlobDedupLaw(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(200, 0)
	s, hot := newTestBlobStore()

	a := []byte("identical payload")
	b := []byte("identical payload")

	idA, err := s.Write(ctx, a, backend.TierHot, now)
	require.NoError(t, err)
	idB, err := s.Write(ctx, b, backend.TierHot, now)
	require.NoError(t, err)

	assert.Equal(t, idA, idB)
	meta, ok := s.Meta(idA)
	require.True(t, ok)
	assert.Equal(t, 2, meta.RefCount)

	objectCountAfterFirst := hot.Len()
	_, err = s.Write(ctx, []byte("identical payload"), backend.TierHot, now)
	require.NoError(t, err)
	assert.Equal(t, objectCountAfterFirst, hot.Len(), "dedup must not write new page objects")
}

func TestBlobDeleteGCsAtZeroRefcount(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(300, 0)
	s, _ := newTestBlobStore()

	content := []byte("going away")
	id, err := s.Write(ctx, content, backend.TierHot, now)
	require.NoError(t, err)
	require.NoError(t, s.IncRef(id))

	gced, err := s.Delete(ctx, id)
	require.NoError(t, err)
	assert.False(t, gced, "refcount 1 remains after one decrement from 2")

	gced, err = s.Delete(ctx, id)
	require.NoError(t, err)
	assert.True(t, gced)

	_, ok := s.Meta(id)
	assert.False(t, ok)

	_, err = s.Read(ctx, id, now)
	assert.Error(t, err)
}

func TestBlobSizeEqualsSumOfPageSizes(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(400, 0)
	s, _ := newTestBlobStore()

	content := make([]byte, 40) // 16,16,8 across 3 pages at page size 16
	for i := range content {
		content[i] = byte(i)
	}
	id, err := s.Write(ctx, content, backend.TierHot, now)
	require.NoError(t, err)

	meta, ok := s.Meta(id)
	require.True(t, ok)
	assert.Equal(t, 3, meta.PageCount)
	assert.Equal(t, int64(40), meta.Size)

	got, err := s.Read(ctx, id, now)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}
