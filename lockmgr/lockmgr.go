// Package lockmgr implements the advisory, process-wide path lock
// manager: named locks backed by an exclusive-create sidecar file,
// exponential backoff on contention, staleness detection, and atomic
// rename-to-publish commits.
package lockmgr

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fsxcore/tieredfs/errkind"
)

// DefaultSuffix is appended to a target path to name its lock file.
const DefaultSuffix = ".lock"

// FileIO is the minimal file surface the lock manager needs: exclusive
// creation, overwrite, atomic rename, and removal. It is intentionally
// narrower than the Storage port consumed by the transaction engine —
// lock files never need directory operations.
type FileIO interface {
	CreateExclusive(ctx context.Context, path string, data []byte) error
	Write(ctx context.Context, path string, data []byte) error
	Rename(ctx context.Context, oldPath, newPath string) error
	Remove(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
}

// AcquireOptions configures Acquire's contention handling.
type AcquireOptions struct {
	TimeoutMs           int64 // 0 = try once
	RetryIntervalMs     int64 // initial poll interval; default 20ms
	BackoffMultiplier   float64
	MaxRetryIntervalMs  int64
	StaleThresholdMs    int64 // 0 disables staleness detection
}

func (o AcquireOptions) withDefaults() AcquireOptions {
	if o.RetryIntervalMs <= 0 {
		o.RetryIntervalMs = 20
	}
	if o.BackoffMultiplier <= 1 {
		o.BackoffMultiplier = 2
	}
	if o.MaxRetryIntervalMs <= 0 {
		o.MaxRetryIntervalMs = 1000
	}
	return o
}

// HolderInfo is the registry's public view of a held lock.
type HolderInfo struct {
	Path        string
	HolderID    string
	AcquiredAt  time.Time
	RefreshedAt time.Time
}

func (h HolderInfo) ageMs(now time.Time) int64 {
	last := h.RefreshedAt
	if last.IsZero() {
		last = h.AcquiredAt
	}
	return now.Sub(last).Milliseconds()
}

// Manager holds the process-wide lock registry. All mutations to it are
// serialized per path.
type Manager struct {
	mu       sync.Mutex
	registry map[string]*HolderInfo

	Files  FileIO
	Suffix string
}

// NewManager wires a lock manager over files, using suffix (default
// DefaultSuffix when empty) to name lock sidecars.
func NewManager(files FileIO, suffix string) *Manager {
	if suffix == "" {
		suffix = DefaultSuffix
	}
	return &Manager{registry: make(map[string]*HolderInfo), Files: files, Suffix: suffix}
}

func (m *Manager) lockPath(path string) string {
	return path + m.Suffix
}

// Lock represents an acquired lock, scoped to the holder that acquired it.
type Lock struct {
	mgr      *Manager
	path     string
	holderID string
}

// Path returns the target path the lock protects (not the `.lock`
// sidecar).
func (l *Lock) Path() string { return l.path }

// Acquire creates path's lock file exclusively, retrying with exponential
// backoff on contention per opts, and registers the holder. now stamps
// the registry entry's acquired_at on success; the retry loop itself is
// timed against the real wall clock, since timeout_ms is a real-time
// bound independent of any caller-supplied logical clock.
func (m *Manager) Acquire(ctx context.Context, path, holderID string, opts AcquireOptions, now time.Time) (*Lock, error) {
	opts = opts.withDefaults()
	lockFile := m.lockPath(path)
	interval := time.Duration(opts.RetryIntervalMs) * time.Millisecond
	maxInterval := time.Duration(opts.MaxRetryIntervalMs) * time.Millisecond
	deadline := time.Now().Add(time.Duration(opts.TimeoutMs) * time.Millisecond)

	for attempt := 0; ; attempt++ {
		if ok, err := m.tryAcquire(ctx, path, lockFile, holderID, opts, now); err != nil {
			return nil, err
		} else if ok {
			return &Lock{mgr: m, path: path, holderID: holderID}, nil
		}

		if opts.TimeoutMs <= 0 {
			return nil, errkind.New(errkind.WouldBlock, "acquire", path, fmt.Errorf("lock held by another holder"))
		}
		if time.Now().After(deadline) {
			return nil, errkind.New(errkind.TimedOut, "acquire", path, fmt.Errorf("timed out after %dms", opts.TimeoutMs))
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
		interval = time.Duration(float64(interval) * opts.BackoffMultiplier)
		if interval > maxInterval {
			interval = maxInterval
		}
	}
}

// tryAcquire attempts one exclusive-create, breaking a stale lock first if
// detected. It returns (true, nil) on success and (false, nil) on
// contention that the caller should retry or fail on, per opts.TimeoutMs.
func (m *Manager) tryAcquire(ctx context.Context, path, lockFile, holderID string, opts AcquireOptions, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.registry[path]; ok {
		if opts.StaleThresholdMs > 0 && existing.ageMs(now) >= opts.StaleThresholdMs {
			delete(m.registry, path)
			_ = m.Files.Remove(ctx, lockFile)
		} else {
			return false, nil
		}
	}

	data := []byte(fmt.Sprintf(`{"holder_id":%q,"acquired_at":%q}`, holderID, now.Format(time.RFC3339Nano)))
	if err := m.Files.CreateExclusive(ctx, lockFile, data); err != nil {
		if errkind.Is(err, errkind.Exists) {
			return false, nil
		}
		return false, err
	}

	m.registry[path] = &HolderInfo{Path: path, HolderID: holderID, AcquiredAt: now, RefreshedAt: now}
	return true, nil
}

// Release deletes the lock file; fails with EPERM if l is not the
// registered holder.
func (l *Lock) Release(ctx context.Context) error {
	m := l.mgr
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.registry[l.path]
	if !ok || existing.HolderID != l.holderID {
		return errkind.New(errkind.NotPermitted, "release", l.path, fmt.Errorf("not held by this holder"))
	}
	if err := m.Files.Remove(ctx, m.lockPath(l.path)); err != nil {
		return err
	}
	delete(m.registry, l.path)
	return nil
}

// Refresh updates the holder's refreshed_at, defeating the staleness
// heuristic during long operations.
func (l *Lock) Refresh(now time.Time) error {
	m := l.mgr
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.registry[l.path]
	if !ok || existing.HolderID != l.holderID {
		return errkind.New(errkind.NotPermitted, "refresh", l.path, fmt.Errorf("not held by this holder"))
	}
	existing.RefreshedAt = now
	return nil
}

// Write stages bytes into the lock file, overwriting any prior staged
// content.
func (l *Lock) Write(ctx context.Context, data []byte) error {
	return l.mgr.Files.Write(ctx, l.mgr.lockPath(l.path), data)
}

// Commit writes bytes then renames the lock file onto the target,
// atomically publishing and releasing in one step.
func (l *Lock) Commit(ctx context.Context, data []byte) error {
	m := l.mgr
	if err := m.Files.Write(ctx, m.lockPath(l.path), data); err != nil {
		return err
	}
	if err := m.Files.Rename(ctx, m.lockPath(l.path), l.path); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.registry, l.path)
	m.mu.Unlock()
	return nil
}

// IsLocked reports whether path currently has a registered holder.
func (m *Manager) IsLocked(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.registry[path]
	return ok
}

// GetLockInfo returns the registered holder info for path, if any.
func (m *Manager) GetLockInfo(path string) (HolderInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.registry[path]
	if !ok {
		return HolderInfo{}, false
	}
	return *h, true
}

// GetAllLocks returns every registered holder, ordered by path for
// deterministic output.
func (m *Manager) GetAllLocks() []HolderInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]HolderInfo, 0, len(m.registry))
	for _, h := range m.registry {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// DetectStale reports whether path's registered lock has gone stale
// without breaking it: an ESTALE error when the holder's last refresh is
// older than threshold, nil when the lock is fresh or absent. Breaking a
// detected stale lock is Acquire's job (via StaleThresholdMs) or
// BreakLock's, not this query's.
func (m *Manager) DetectStale(path string, threshold time.Duration, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.registry[path]
	if !ok {
		return nil
	}
	if age := h.ageMs(now); age >= threshold.Milliseconds() {
		return errkind.New(errkind.Stale, "detect_stale", path,
			fmt.Errorf("held by %s, idle %dms", h.HolderID, age))
	}
	return nil
}

// CleanupStaleLocks reclaims every registered lock older than threshold,
// snapshotting the registry, computing the victim set, then releasing
// each entry individually so a long cleanup never blocks other lock
// traffic for its full duration.
func (m *Manager) CleanupStaleLocks(ctx context.Context, threshold time.Duration, now time.Time) []string {
	m.mu.Lock()
	var victims []string
	for path, h := range m.registry {
		if h.ageMs(now) >= threshold.Milliseconds() {
			victims = append(victims, path)
		}
	}
	m.mu.Unlock()

	var reclaimed []string
	for _, path := range victims {
		m.mu.Lock()
		_, stillPresent := m.registry[path]
		if stillPresent {
			delete(m.registry, path)
		}
		m.mu.Unlock()
		if stillPresent {
			_ = m.Files.Remove(ctx, m.lockPath(path))
			reclaimed = append(reclaimed, path)
		}
	}
	sort.Strings(reclaimed)
	return reclaimed
}

// BreakLock forcibly removes path's registry entry and lock file,
// regardless of holder.
func (m *Manager) BreakLock(ctx context.Context, path string) error {
	m.mu.Lock()
	delete(m.registry, path)
	m.mu.Unlock()
	return m.Files.Remove(ctx, m.lockPath(path))
}
