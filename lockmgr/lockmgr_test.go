package lockmgr

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fsxcore/tieredfs/errkind"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	ctx := context.Background()
	files := NewMemFileIO()
	m := NewManager(files, "")
	now := time.Unix(100, 0)

	lock, err := m.Acquire(ctx, "/a/config.json", "holder-1", AcquireOptions{}, now)
	require.NoError(t, err)
	assert.True(t, m.IsLocked("/a/config.json"))

	require.NoError(t, lock.Release(ctx))
	assert.False(t, m.IsLocked("/a/config.json"))
}

func TestAcquireTimeoutZeroIsWouldBlock(t *testing.T) {
	ctx := context.Background()
	files := NewMemFileIO()
	m := NewManager(files, "")
	now := time.Unix(100, 0)

	_, err := m.Acquire(ctx, "/x", "holder-1", AcquireOptions{}, now)
	require.NoError(t, err)

	_, err = m.Acquire(ctx, "/x", "holder-2", AcquireOptions{TimeoutMs: 0}, now)
	assert.True(t, errkind.Is(err, errkind.WouldBlock))
}

func TestAcquireTimesOutUnderContention(t *testing.T) {
	ctx := context.Background()
	files := NewMemFileIO()
	m := NewManager(files, "")
	now := time.Unix(100, 0)

	_, err := m.Acquire(ctx, "/y", "holder-1", AcquireOptions{}, now)
	require.NoError(t, err)

	_, err = m.Acquire(ctx, "/y", "holder-2", AcquireOptions{TimeoutMs: 60, RetryIntervalMs: 10}, now)
	assert.True(t, errkind.Is(err, errkind.TimedOut))
}

func TestAcquireBreaksStaleLock(t *testing.T) {
	ctx := context.Background()
	files := NewMemFileIO()
	m := NewManager(files, "")
	earlier := time.Unix(100, 0)

	_, err := m.Acquire(ctx, "/z", "holder-1", AcquireOptions{}, earlier)
	require.NoError(t, err)

	later := earlier.Add(10 * time.Second)
	lock2, err := m.Acquire(ctx, "/z", "holder-2", AcquireOptions{StaleThresholdMs: 5000}, later)
	require.NoError(t, err)
	info, ok := m.GetLockInfo("/z")
	require.True(t, ok)
	assert.Equal(t, "holder-2", info.HolderID)
	assert.Equal(t, "holder-2", lock2.holderID)
}

func TestExactlyOneOfConcurrentAcquiresSucceeds(t *testing.T) {
	ctx := context.Background()
	files := NewMemFileIO()
	m := NewManager(files, "")
	now := time.Unix(100, 0)

	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.Acquire(ctx, "/contested", "holder", AcquireOptions{TimeoutMs: 0}, now)
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, successes)
}

func TestRefreshDefeatsStaleness(t *testing.T) {
	ctx := context.Background()
	files := NewMemFileIO()
	m := NewManager(files, "")
	start := time.Unix(100, 0)

	lock, err := m.Acquire(ctx, "/refresh-me", "holder-1", AcquireOptions{}, start)
	require.NoError(t, err)

	require.NoError(t, lock.Refresh(start.Add(4*time.Second)))

	// Without the refresh, age at start+8s would be 8s >= the 5s stale
	// threshold; the refresh at +4s resets age to 4s, which is not stale.
	_, err = m.Acquire(ctx, "/refresh-me", "holder-2", AcquireOptions{StaleThresholdMs: 5000, TimeoutMs: 0}, start.Add(8*time.Second))
	assert.True(t, errkind.Is(err, errkind.WouldBlock))
}

func TestCommitPublishesAndReleases(t *testing.T) {
	ctx := context.Background()
	files := NewMemFileIO()
	m := NewManager(files, "")
	now := time.Unix(100, 0)

	lock, err := m.Acquire(ctx, "/dest/config.json", "holder-1", AcquireOptions{}, now)
	require.NoError(t, err)

	require.NoError(t, lock.Commit(ctx, []byte(`{"v":2}`)))
	assert.False(t, m.IsLocked("/dest/config.json"))

	data, ok := files.Read("/dest/config.json")
	require.True(t, ok)
	assert.Equal(t, `{"v":2}`, string(data))

	_, lockFileStillExists := files.Read("/dest/config.json.lock")
	assert.False(t, lockFileStillExists)
}

func TestDetectStaleReportsWithoutBreaking(t *testing.T) {
	ctx := context.Background()
	files := NewMemFileIO()
	m := NewManager(files, "")
	start := time.Unix(100, 0)

	_, err := m.Acquire(ctx, "/stale", "holder-1", AcquireOptions{}, start)
	require.NoError(t, err)

	assert.NoError(t, m.DetectStale("/stale", 5*time.Second, start.Add(time.Second)))

	err = m.DetectStale("/stale", 5*time.Second, start.Add(10*time.Second))
	assert.True(t, errkind.Is(err, errkind.Stale))
	// Detection must not break the lock.
	assert.True(t, m.IsLocked("/stale"))

	assert.NoError(t, m.DetectStale("/never-locked", 5*time.Second, start))
}

func TestCleanupStaleLocksReturnsReclaimedPaths(t *testing.T) {
	ctx := context.Background()
	files := NewMemFileIO()
	m := NewManager(files, "")
	start := time.Unix(100, 0)

	_, err := m.Acquire(ctx, "/old", "holder-1", AcquireOptions{}, start)
	require.NoError(t, err)
	_, err = m.Acquire(ctx, "/fresh", "holder-2", AcquireOptions{}, start.Add(9*time.Second))
	require.NoError(t, err)

	reclaimed := m.CleanupStaleLocks(ctx, 5*time.Second, start.Add(10*time.Second))
	assert.Equal(t, []string{"/old"}, reclaimed)
	assert.False(t, m.IsLocked("/old"))
	assert.True(t, m.IsLocked("/fresh"))
}

func TestBreakLockForciblyRemoves(t *testing.T) {
	ctx := context.Background()
	files := NewMemFileIO()
	m := NewManager(files, "")
	now := time.Unix(100, 0)

	_, err := m.Acquire(ctx, "/forced", "holder-1", AcquireOptions{}, now)
	require.NoError(t, err)

	require.NoError(t, m.BreakLock(ctx, "/forced"))
	assert.False(t, m.IsLocked("/forced"))
}
