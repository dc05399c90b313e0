package namespace

import (
	"testing"
	"time"

	"github.com/fsxcore/tieredfs/errkind"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootExistsAsDirectory(t *testing.T) {
	tree := New()
	e, err := tree.Get("/")
	require.NoError(t, err)
	assert.Equal(t, TypeDir, e.Type)
}

func TestPutFileRequiresNoDirCollision(t *testing.T) {
	tree := New()
	now := time.Now()
	require.NoError(t, tree.PutFile("/a.txt", "blob-x", 3, 0o644, now))

	_, err := tree.Mkdir("/a.txt", false, 0o755, now)
	assert.True(t, errkind.Is(err, errkind.Exists))

	require.NoError(t, tree.PutFile("/a.txt", "blob-y", 5, 0o644, now))
	e, err := tree.Get("/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "blob-y", e.BlobID)
}

func TestMkdirNonRecursiveRequiresParent(t *testing.T) {
	tree := New()
	now := time.Now()
	_, err := tree.Mkdir("/a/b", false, 0o755, now)
	assert.True(t, errkind.Is(err, errkind.NotFound))

	_, err = tree.Mkdir("/a", false, 0o755, now)
	require.NoError(t, err)
	_, err = tree.Mkdir("/a/b", false, 0o755, now)
	require.NoError(t, err)
}

func TestMkdirRecursiveCreatesMissingAncestors(t *testing.T) {
	tree := New()
	now := time.Now()
	created, err := tree.Mkdir("/x/y/z", true, 0o755, now)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"/x", "/x/y", "/x/y/z"}, created)

	created, err = tree.Mkdir("/x/y/z", true, 0o755, now)
	require.NoError(t, err)
	assert.Nil(t, created)
}

func TestChildrenListsDirectDescendantsOnly(t *testing.T) {
	tree := New()
	now := time.Now()
	require.NoError(t, tree.PutFile("/dir/a.txt", "blob-a", 1, 0o644, now))
	require.NoError(t, tree.PutFile("/dir/sub/b.txt", "blob-b", 1, 0o644, now))
	_, err := tree.Mkdir("/dir/sub", true, 0o755, now)
	require.NoError(t, err)

	children, err := tree.Children("/dir")
	require.NoError(t, err)
	var names []string
	for _, c := range children {
		names = append(names, c.Path)
	}
	assert.ElementsMatch(t, []string{"/dir/a.txt", "/dir/sub"}, names)
}

func TestHasChildrenForRmdirEmptyCheck(t *testing.T) {
	tree := New()
	now := time.Now()
	_, err := tree.Mkdir("/empty", false, 0o755, now)
	require.NoError(t, err)
	assert.False(t, tree.HasChildren("/empty"))

	require.NoError(t, tree.PutFile("/empty/f", "blob-f", 1, 0o644, now))
	assert.True(t, tree.HasChildren("/empty"))
}

func TestRemoveTreeDeletesWholeSubtree(t *testing.T) {
	tree := New()
	now := time.Now()
	_, err := tree.Mkdir("/p/q", true, 0o755, now)
	require.NoError(t, err)
	require.NoError(t, tree.PutFile("/p/q/f", "blob-f", 1, 0o644, now))

	removed := tree.RemoveTree("/p")
	assert.ElementsMatch(t, []string{"/p", "/p/q", "/p/q/f"}, removed)
	assert.False(t, tree.Exists("/p"))
	assert.False(t, tree.Exists("/p/q/f"))
}

func TestMoveFilePreservesBlobID(t *testing.T) {
	tree := New()
	now := time.Now()
	require.NoError(t, tree.PutFile("/src", "blob-z", 7, 0o644, now))

	_, err := tree.Move("/src", "/dst")
	require.NoError(t, err)
	assert.False(t, tree.Exists("/src"))
	e, err := tree.Get("/dst")
	require.NoError(t, err)
	assert.Equal(t, "blob-z", e.BlobID)
	assert.Equal(t, int64(7), e.Size)
}

func TestMoveDirectoryMovesDescendants(t *testing.T) {
	tree := New()
	now := time.Now()
	_, err := tree.Mkdir("/a/b", true, 0o755, now)
	require.NoError(t, err)
	require.NoError(t, tree.PutFile("/a/b/f", "blob-q", 2, 0o644, now))

	_, err = tree.Move("/a", "/z")
	require.NoError(t, err)
	assert.False(t, tree.Exists("/a"))
	assert.True(t, tree.Exists("/z/b"))
	e, err := tree.Get("/z/b/f")
	require.NoError(t, err)
	assert.Equal(t, "blob-q", e.BlobID)
}

func TestMoveMissingSourceFails(t *testing.T) {
	tree := New()
	_, err := tree.Move("/nope", "/dst")
	assert.True(t, errkind.Is(err, errkind.NotFound))
}

func TestMoveOverwriteDisplacesDestinationBlob(t *testing.T) {
	tree := New()
	now := time.Now()
	require.NoError(t, tree.PutFile("/src", "blob-new", 3, 0o644, now))
	require.NoError(t, tree.PutFile("/dst", "blob-old", 5, 0o644, now))

	displaced, err := tree.Move("/src", "/dst")
	require.NoError(t, err)
	assert.Equal(t, []string{"blob-old"}, displaced)
	e, err := tree.Get("/dst")
	require.NoError(t, err)
	assert.Equal(t, "blob-new", e.BlobID)
}
