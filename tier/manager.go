// Package tier implements the hot/cold LRU eviction policy: it keeps the
// hot tier's page count under a configured cap by demoting
// least-recently-used pages to the cold backend without ever losing a
// page's bytes mid-migration.
package tier

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/fsxcore/tieredfs/backend"
	"github.com/fsxcore/tieredfs/codec"
	"github.com/fsxcore/tieredfs/errkind"
	"github.com/fsxcore/tieredfs/logger"
	"github.com/fsxcore/tieredfs/page"
)

// Config holds the LRU eviction thresholds.
type Config struct {
	MaxHotPages       int
	EvictionThreshold float64 // fraction of MaxHotPages; default 0.9
	EvictionTarget    float64 // fraction of MaxHotPages; default 0.7
}

// DefaultConfig returns the standard thresholds for the given cap.
func DefaultConfig(maxHotPages int) Config {
	return Config{MaxHotPages: maxHotPages, EvictionThreshold: 0.9, EvictionTarget: 0.7}
}

func (c Config) thresholdCount() int {
	return int(math.Floor(float64(c.MaxHotPages) * c.EvictionThreshold))
}

func (c Config) targetCount() int {
	return int(math.Floor(float64(c.MaxHotPages) * c.EvictionTarget))
}

// Result reports what a RunEviction call accomplished.
type Result struct {
	EvictedCount   int
	EvictedPageIDs []string
	Errors         []string
	DurationMs     int64
}

// Manager demotes pages from the hot backend to the cold backend by LRU
// order. A mutex serializes eviction runs, so concurrent RunEviction
// calls cannot race each other's metadata updates. ShouldEvict and the
// candidate set key off Tier == backend.TierHot; TierWarm exists in the
// enum so a caller can wire a genuine three-tier Composite later without
// an enum change, but nothing here assigns it.
type Manager struct {
	mu sync.Mutex

	Index     *page.Index
	Hot, Cold backend.Backend
	Config    Config
	Codec     codec.Codec
	CodecOpts codec.Options
}

// NewManager wires an eviction policy over idx, demoting from hot to cold.
func NewManager(idx *page.Index, hot, cold backend.Backend, cfg Config, c codec.Codec, copts codec.Options) *Manager {
	return &Manager{Index: idx, Hot: hot, Cold: cold, Config: cfg, Codec: c, CodecOpts: copts}
}

func (m *Manager) hotPages() []page.Meta {
	var hot []page.Meta
	for _, p := range m.Index.All() {
		if p.Tier == backend.TierHot {
			hot = append(hot, p)
		}
	}
	return hot
}

// ShouldEvict reports whether the hot tier is at or above its eviction
// threshold.
func (m *Manager) ShouldEvict() bool {
	return len(m.hotPages()) >= m.Config.thresholdCount()
}

// RunEviction demotes hot_count - target pages to cold, oldest
// last_access_at first, ties broken by insertion order.
func (m *Manager) RunEviction(ctx context.Context, now time.Time) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := now
	hot := m.hotPages()
	target := m.Config.targetCount()
	toEvict := len(hot) - target
	if toEvict <= 0 {
		return Result{DurationMs: 0}, nil
	}

	sort.SliceStable(hot, func(i, j int) bool {
		if !hot[i].LastAccessAt.Equal(hot[j].LastAccessAt) {
			return hot[i].LastAccessAt.Before(hot[j].LastAccessAt)
		}
		return m.Index.Seq(hot[i].PageID) < m.Index.Seq(hot[j].PageID)
	})

	res := Result{}
	for i := 0; i < toEvict && i < len(hot); i++ {
		pageID := hot[i].PageID
		if err := m.evictPage(ctx, pageID); err != nil {
			logger.WithOp("evict_page", pageID).Errorf("eviction failed: %v", err)
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %s", pageID, err.Error()))
			continue
		}
		res.EvictedCount++
		res.EvictedPageIDs = append(res.EvictedPageIDs, pageID)
	}
	res.DurationMs = time.Since(start).Milliseconds()
	return res, nil
}

// evictPage runs the no-data-loss per-page algorithm:
// 1. idempotent if already cold.
// 2. read hot bytes.
// 3. write to cold — must succeed before metadata or hot bytes change.
// 4. flip metadata tier to cold.
// 5. delete hot bytes; a failure here just duplicates data, never loses it.
func (m *Manager) evictPage(ctx context.Context, pageID string) error {
	meta, ok := m.Index.Get(pageID)
	if !ok {
		return errkind.New(errkind.NotFound, "evict_page", pageID, fmt.Errorf("no such page"))
	}
	if meta.Tier == backend.TierCold {
		return nil
	}

	obj, err := m.Hot.Get(ctx, page.Key(meta.BlobID, meta.PageIndex))
	if err != nil {
		return err
	}

	body := obj.Bytes
	var cm codec.Meta
	if m.Codec != codec.None {
		compressed, cmeta, cerr := codec.Compress(obj.Bytes, m.Codec, m.CodecOpts)
		if cerr != nil {
			return cerr
		}
		body = compressed
		cm = cmeta
	}

	customMeta := map[string]string{
		"page_id":    pageID,
		"blob_id":    meta.BlobID,
		"page_index": fmt.Sprintf("%d", meta.PageIndex),
	}
	if cm.Codec != "" {
		customMeta["codec"] = string(cm.Codec)
		customMeta["original_size"] = fmt.Sprintf("%d", cm.OriginalSize)
	}
	if err := m.Cold.Put(ctx, page.Key(meta.BlobID, meta.PageIndex), body, backend.PutOptions{
		ContentType:    obj.ContentType,
		CustomMetadata: customMeta,
	}); err != nil {
		// Step 3 failed: metadata and hot bytes are untouched.
		return err
	}

	// Record the codec the cold copy is framed with in the page index
	// itself, not just the backend's opaque custom metadata, so a later
	// ReadPages knows to decompress before trimming to meta.Size.
	// cm.Codec is "none"/zero when compression was skipped or disabled,
	// which Decompress already treats as a pass-through.
	m.Index.SetCompression(pageID, cm.Codec, cm.CompressedSize)
	m.Index.SetTier(pageID, backend.TierCold)

	if err := m.Hot.Delete(ctx, page.Key(meta.BlobID, meta.PageIndex)); err != nil {
		// Step 5 failed: data is duplicated, not lost. RunEviction will not
		// pick this page again (its tier is now cold); RetryStaleHotCopies
		// finds it and retries only this delete.
		return err
	}
	return nil
}

// RetryStaleHotCopies deletes hot-backend bytes for any page whose
// metadata already reads tier=cold, recovering from a step-5 failure left
// over from a previous eviction run.
func (m *Manager) RetryStaleHotCopies(ctx context.Context) []error {
	var errs []error
	for _, p := range m.Index.All() {
		if p.Tier != backend.TierCold {
			continue
		}
		key := page.Key(p.BlobID, p.PageIndex)
		exists, err := m.Hot.Exists(ctx, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !exists {
			continue
		}
		if err := m.Hot.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
