package tfs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fsxcore/tieredfs/backend"
	"github.com/fsxcore/tieredfs/codec"
	"github.com/fsxcore/tieredfs/errkind"
	"github.com/fsxcore/tieredfs/lockmgr"
	"github.com/fsxcore/tieredfs/page"
	"github.com/fsxcore/tieredfs/tier"
	"github.com/fsxcore/tieredfs/txn"
)

func newTestFS(t *testing.T, opts Options) (*FileSystem, *backend.Memory, *backend.Memory) {
	t.Helper()
	idx := page.NewIndex()
	hot := backend.NewMemory()
	cold := backend.NewMemory()
	backends := backend.NewComposite(map[backend.Tier]backend.Backend{
		backend.TierHot:  hot,
		backend.TierCold: cold,
	})
	pages := page.NewStore(idx, backends, 64, 256, codec.None, codec.Options{})
	tiers := tier.NewManager(idx, hot, cold, tier.DefaultConfig(100), codec.None, codec.Options{})
	locks := lockmgr.NewManager(lockmgr.NewMemFileIO(), lockmgr.DefaultSuffix)
	if opts.Mode == 0 {
		opts.Mode = 0o644
	}
	return New(pages, tiers, locks, opts), hot, cold
}

func TestWriteReadRoundTrip(t *testing.T) {
	fs, _, _ := newTestFS(t, Options{})
	ctx := context.Background()

	n, err := fs.Write(ctx, "/hello.txt", []byte("hello world"), txn.WriteOptions{Flag: txn.FlagWrite})
	require.NoError(t, err)
	assert.Equal(t, len("hello world"), n)

	data, err := fs.Read(ctx, "/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), data)

	stat, err := fs.Stat(ctx, "/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(len("hello world")), stat.Size)
}

func TestReadRangeTrimsToRequestedWindow(t *testing.T) {
	fs, _, _ := newTestFS(t, Options{})
	ctx := context.Background()
	_, err := fs.Write(ctx, "/range.bin", []byte("0123456789abcdef"), txn.WriteOptions{Flag: txn.FlagWrite})
	require.NoError(t, err)

	got, err := fs.ReadRange(ctx, "/range.bin", 4, 6)
	require.NoError(t, err)
	assert.Equal(t, []byte("456789"), got)
}

func TestReadRangeRejectsNegativeAndOverflow(t *testing.T) {
	fs, _, _ := newTestFS(t, Options{})
	ctx := context.Background()
	_, err := fs.Write(ctx, "/short.bin", []byte("abc"), txn.WriteOptions{Flag: txn.FlagWrite})
	require.NoError(t, err)

	_, err = fs.ReadRange(ctx, "/short.bin", -1, 1)
	assert.True(t, errkind.Is(err, errkind.Invalid))

	_, err = fs.ReadRange(ctx, "/short.bin", 0, 100)
	assert.True(t, errkind.Is(err, errkind.Invalid))
}

func TestWriteExclFailsWhenTargetExists(t *testing.T) {
	fs, _, _ := newTestFS(t, Options{})
	ctx := context.Background()
	_, err := fs.Write(ctx, "/once.txt", []byte("a"), txn.WriteOptions{Flag: txn.FlagWrite})
	require.NoError(t, err)

	_, err = fs.Write(ctx, "/once.txt", []byte("b"), txn.WriteOptions{Flag: txn.FlagWriteExcl})
	assert.True(t, errkind.Is(err, errkind.Exists))
}

func TestMkdirThenReaddir(t *testing.T) {
	fs, _, _ := newTestFS(t, Options{})
	ctx := context.Background()
	require.NoError(t, fs.Mkdir(ctx, "/a/b", txn.MkdirOptions{Recursive: true}))
	_, err := fs.Write(ctx, "/a/b/f.txt", []byte("x"), txn.WriteOptions{Flag: txn.FlagWrite})
	require.NoError(t, err)

	entries, err := fs.Readdir(ctx, "/a/b", ReaddirOptions{WithTypes: true})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "f.txt", entries[0].Name)
}

func TestRmdirNonEmptyRequiresRecursive(t *testing.T) {
	fs, _, _ := newTestFS(t, Options{})
	ctx := context.Background()
	require.NoError(t, fs.Mkdir(ctx, "/dir", txn.MkdirOptions{}))
	_, err := fs.Write(ctx, "/dir/f.txt", []byte("x"), txn.WriteOptions{Flag: txn.FlagWrite})
	require.NoError(t, err)

	err = fs.Rmdir(ctx, "/dir", txn.RmdirOptions{})
	assert.True(t, errkind.Is(err, errkind.NotEmpty))

	require.NoError(t, fs.Rmdir(ctx, "/dir", txn.RmdirOptions{Recursive: true}))
	_, err = fs.Stat(ctx, "/dir")
	assert.True(t, errkind.Is(err, errkind.NotFound))
}

func TestUnlinkGCsBlobWhenLastReferenceRemoved(t *testing.T) {
	fs, hot, _ := newTestFS(t, Options{})
	ctx := context.Background()
	_, err := fs.Write(ctx, "/gc.txt", []byte("payload"), txn.WriteOptions{Flag: txn.FlagWrite})
	require.NoError(t, err)
	require.NotZero(t, hot.Len())

	entry, err := fs.ns.Get("/gc.txt")
	require.NoError(t, err)
	blobID := entry.BlobID

	require.NoError(t, fs.Unlink(ctx, "/gc.txt"))
	_, stillReferenced := fs.blobs.Meta(blobID)
	assert.False(t, stillReferenced, "blob metadata should be GC'd once refcount reaches zero")
}

func TestRenamePreservesBlobAcrossDirectories(t *testing.T) {
	fs, _, _ := newTestFS(t, Options{})
	ctx := context.Background()
	_, err := fs.Write(ctx, "/src.txt", []byte("payload"), txn.WriteOptions{Flag: txn.FlagWrite})
	require.NoError(t, err)

	require.NoError(t, fs.Rename(ctx, "/src.txt", "/new/dir/dst.txt", txn.RenameOptions{Mkdirp: true}))

	_, err = fs.Stat(ctx, "/src.txt")
	assert.True(t, errkind.Is(err, errkind.NotFound))

	data, err := fs.Read(ctx, "/new/dir/dst.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
}

func TestRenameOverwriteGCsDisplacedDestinationBlob(t *testing.T) {
	fs, _, _ := newTestFS(t, Options{})
	ctx := context.Background()
	_, err := fs.Write(ctx, "/src.txt", []byte("new content"), txn.WriteOptions{Flag: txn.FlagWrite})
	require.NoError(t, err)
	_, err = fs.Write(ctx, "/dst.txt", []byte("stale content"), txn.WriteOptions{Flag: txn.FlagWrite})
	require.NoError(t, err)

	dstEntry, err := fs.ns.Get("/dst.txt")
	require.NoError(t, err)
	displacedBlobID := dstEntry.BlobID

	require.NoError(t, fs.Rename(ctx, "/src.txt", "/dst.txt", txn.RenameOptions{Overwrite: true}))

	data, err := fs.Read(ctx, "/dst.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("new content"), data)

	_, stillReferenced := fs.blobs.Meta(displacedBlobID)
	assert.False(t, stillReferenced, "the overwritten destination's blob should be GC'd once its refcount reaches zero")
}

func TestReadOnlyRejectsMutation(t *testing.T) {
	fs, _, _ := newTestFS(t, Options{ReadOnly: true})
	ctx := context.Background()
	_, err := fs.Write(ctx, "/ro.txt", []byte("x"), txn.WriteOptions{Flag: txn.FlagWrite})
	assert.True(t, errkind.Is(err, errkind.ReadOnly))
}

func TestWriteTriggersSynchronousEviction(t *testing.T) {
	idx := page.NewIndex()
	hot := backend.NewMemory()
	cold := backend.NewMemory()
	backends := backend.NewComposite(map[backend.Tier]backend.Backend{
		backend.TierHot:  hot,
		backend.TierCold: cold,
	})
	pages := page.NewStore(idx, backends, 8, 32, codec.None, codec.Options{})
	tiers := tier.NewManager(idx, hot, cold, tier.Config{MaxHotPages: 4, EvictionThreshold: 0.5, EvictionTarget: 0.25}, codec.None, codec.Options{})
	locks := lockmgr.NewManager(lockmgr.NewMemFileIO(), lockmgr.DefaultSuffix)
	clock := time.Unix(1000, 0)
	fs := New(pages, tiers, locks, Options{Mode: 0o644, Clock: func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}})
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, err := fs.Write(ctx, "/f"+string(rune('a'+i))+".bin", []byte("0123456789"), txn.WriteOptions{Flag: txn.FlagWrite})
		require.NoError(t, err)
	}

	assert.True(t, cold.Len() > 0, "expected synchronous eviction to have moved at least one page to cold")
}
