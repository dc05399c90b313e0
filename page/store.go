package page

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsxcore/tieredfs/backend"
	"github.com/fsxcore/tieredfs/codec"
	"github.com/fsxcore/tieredfs/errkind"
)

// Meta is a page's metadata entry: which blob it belongs to, its
// index within that blob, its tier, and the timestamps the tier manager's
// LRU eviction keys off of.
type Meta struct {
	PageID       string
	BlobID       string
	PageIndex    int
	Size         int
	Tier         backend.Tier
	LastAccessAt time.Time
	CreatedAt    time.Time
	// Codec and CompressedSize record how the bytes currently sitting in
	// the page's backing store are framed, when they differ from the raw
	// Size bytes. Codec == "" (or codec.None) means the stored bytes are
	// exactly Size bytes, uncompressed (the case for every hot page and
	// any cold page the tier manager demoted without compression).
	Codec          codec.Codec
	CompressedSize int
	// seq breaks eviction ties between equal LastAccessAt values by
	// insertion order.
	seq uint64
}

// Key returns the canonical "page/<blob_id>/<index>" backend key.
func Key(blobID string, index int) string {
	return fmt.Sprintf("page/%s/%d", blobID, index)
}

// Index is the in-memory metadata catalog for all known pages. It does not
// hold page bytes; Store does, routed by tier through a backend.Composite.
type Index struct {
	mu      sync.RWMutex
	pages   map[string]*Meta // keyed by PageID
	nextSeq uint64
}

// NewIndex returns an empty metadata index.
func NewIndex() *Index {
	return &Index{pages: make(map[string]*Meta)}
}

func (ix *Index) Put(m Meta) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	cp := m
	if existing, ok := ix.pages[m.PageID]; ok {
		cp.seq = existing.seq
	} else {
		cp.seq = ix.nextSeq
		ix.nextSeq++
	}
	ix.pages[m.PageID] = &cp
}

// Seq reports the insertion order of pageID relative to other pages in the
// index, used to break eviction ties on equal LastAccessAt.
func (ix *Index) Seq(pageID string) uint64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if m, ok := ix.pages[pageID]; ok {
		return m.seq
	}
	return 0
}

func (ix *Index) Get(pageID string) (Meta, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	m, ok := ix.pages[pageID]
	if !ok {
		return Meta{}, false
	}
	return *m, true
}

func (ix *Index) Delete(pageID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.pages, pageID)
}

// Touch updates LastAccessAt, the signal the tier manager's LRU eviction
// orders by.
func (ix *Index) Touch(pageID string, at time.Time) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if m, ok := ix.pages[pageID]; ok {
		m.LastAccessAt = at
	}
}

// SetTier updates a page's tier in place, preserving its insertion
// sequence and timestamps: during demotion only the data moves, the
// metadata entry stays in this index.
func (ix *Index) SetTier(pageID string, tier backend.Tier) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if m, ok := ix.pages[pageID]; ok {
		m.Tier = tier
	}
}

// SetCompression records how the bytes now sitting in the page's backing
// store are framed, so a later read knows to run them back through
// codec.Decompress before trimming to the page's logical Size.
func (ix *Index) SetCompression(pageID string, c codec.Codec, compressedSize int) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if m, ok := ix.pages[pageID]; ok {
		m.Codec = c
		m.CompressedSize = compressedSize
	}
}

// ForBlob returns every known page of blobID, ordered by PageIndex.
func (ix *Index) ForBlob(blobID string) []Meta {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	var out []Meta
	for _, m := range ix.pages {
		if m.BlobID == blobID {
			out = append(out, *m)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].PageIndex < out[j-1].PageIndex; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// All returns every known page, for the tier manager's eviction scan.
func (ix *Index) All() []Meta {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]Meta, 0, len(ix.pages))
	for _, m := range ix.pages {
		out = append(out, *m)
	}
	return out
}

// Store reads and writes individual pages, routing backend I/O by tier:
// keyed put/get/delete of raw page bytes. The packed Extent wire format
// is a separate, optional bulk path, exposed below as
// WriteExtent/ReadExtent for callers that want to move many pages of
// one blob in a single backend object instead of one Put per page; the
// Tier manager's per-page eviction algorithm does not use it, since
// that algorithm works at single-page granularity.
type Store struct {
	Index      *Index
	Backends   *backend.Composite
	PageSize   uint32
	ExtentSize uint32
	Codec      codec.Codec
	CodecOpts  codec.Options
}

// NewStore wires a page store over the given tier-routed backends.
func NewStore(idx *Index, backends *backend.Composite, pageSize, extentSize uint32, c codec.Codec, copts codec.Options) *Store {
	return &Store{Index: idx, Backends: backends, PageSize: pageSize, ExtentSize: extentSize, Codec: c, CodecOpts: copts}
}

func (s *Store) extentKey(blobID string, extentIdx int) string {
	return fmt.Sprintf("extent/%s/%d", blobID, extentIdx)
}

func (s *Store) pagesPerExtent() int {
	return PagesPerExtent(s.ExtentSize, s.PageSize)
}

// WritePages writes each of pages (consecutive, starting at firstIndex) to
// the backend registered for tier under its stable "page/<blob_id>/<index>"
// key, updating the metadata index for each page written.
func (s *Store) WritePages(ctx context.Context, blobID string, firstIndex int, pages [][]byte, tier backend.Tier, now time.Time) error {
	b := s.Backends.For(tier)
	if b == nil {
		return errkind.New(errkind.Invalid, "write_pages", "", fmt.Errorf("no backend registered for tier %q", tier))
	}

	for i, p := range pages {
		idx := firstIndex + i
		pageID := Key(blobID, idx)
		if err := b.Put(ctx, pageID, p, backend.PutOptions{ContentType: "application/octet-stream"}); err != nil {
			return fmt.Errorf("write_pages: %s: %w", pageID, err)
		}
		s.Index.Put(Meta{
			PageID:       pageID,
			BlobID:       blobID,
			PageIndex:    idx,
			Size:         len(p),
			Tier:         tier,
			LastAccessAt: now,
			CreatedAt:    now,
		})
	}
	return nil
}

// ReadPages reads pages [firstIndex, firstIndex+count) of blobID, touching
// each read page's LastAccessAt so recently-read pages sort later in the
// eviction order.
func (s *Store) ReadPages(ctx context.Context, blobID string, firstIndex, count int, now time.Time) ([][]byte, error) {
	out := make([][]byte, count)
	for i := 0; i < count; i++ {
		idx := firstIndex + i
		pageID := Key(blobID, idx)
		meta, ok := s.Index.Get(pageID)
		if !ok {
			return nil, errkind.New(errkind.NotFound, "read_pages", pageID, fmt.Errorf("no such page"))
		}
		b := s.Backends.For(meta.Tier)
		if b == nil {
			return nil, errkind.New(errkind.Invalid, "read_pages", pageID, fmt.Errorf("no backend registered for tier %q", meta.Tier))
		}
		obj, err := b.Get(ctx, pageID)
		if err != nil {
			return nil, err
		}
		raw := obj.Bytes
		if meta.Codec != "" && meta.Codec != codec.None {
			raw, err = codec.Decompress(raw, codec.Meta{
				Codec:          meta.Codec,
				OriginalSize:   meta.Size,
				CompressedSize: meta.CompressedSize,
			})
			if err != nil {
				return nil, errkind.New(errkind.Invalid, "read_pages", pageID, err)
			}
		}
		out[i] = raw[:meta.Size]
		s.Index.Touch(pageID, now)
	}
	return out, nil
}

// ReadRange reads the byte range [offset, offset+length) of blobID,
// translating it into the covering pages and slicing the result.
func (s *Store) ReadRange(ctx context.Context, blobID string, offset, length int64, now time.Time) ([]byte, error) {
	if length <= 0 {
		return nil, nil
	}
	pageSize := int64(s.PageSize)
	firstIndex := int(offset / pageSize)
	lastIndex := int((offset + length - 1) / pageSize)
	pages, err := s.ReadPages(ctx, blobID, firstIndex, lastIndex-firstIndex+1, now)
	if err != nil {
		return nil, err
	}
	var buf []byte
	for _, p := range pages {
		buf = append(buf, p...)
	}
	start := offset % pageSize
	if start > int64(len(buf)) {
		return nil, nil
	}
	end := start + length
	if end > int64(len(buf)) {
		end = int64(len(buf))
	}
	return buf[start:end], nil
}

// DeletePages removes both the metadata entries and the backend objects
// for [firstIndex, firstIndex+count) of blobID, across whichever tier each
// page currently lives in.
func (s *Store) DeletePages(ctx context.Context, blobID string, firstIndex, count int) {
	for i := 0; i < count; i++ {
		pageID := Key(blobID, firstIndex+i)
		if meta, ok := s.Index.Get(pageID); ok {
			if b := s.Backends.For(meta.Tier); b != nil {
				_ = b.Delete(ctx, pageID)
			}
		}
		s.Index.Delete(pageID)
	}
}

// WriteExtent packs pages[0:] (consecutive, starting at firstIndex) of
// blobID into one backend object using the extent wire format
// and writes it to the backend registered for tier. Unlike WritePages, no
// per-page metadata index entries are created here: a caller that later
// wants to address an individual page from within the extent must track
// (blobID, firstIndex+i) -> slot i itself, which is exactly what bulk
// migration (moving a whole run of a blob's pages to cold in one write)
// needs and per-request reads do not.
func (s *Store) WriteExtent(ctx context.Context, blobID string, firstIndex int, pages [][]byte, tier backend.Tier) (string, error) {
	b := s.Backends.For(tier)
	if b == nil {
		return "", errkind.New(errkind.Invalid, "write_extent", "", fmt.Errorf("no backend registered for tier %q", tier))
	}
	slots := make([][]byte, len(pages))
	for i, p := range pages {
		padded := make([]byte, s.PageSize)
		copy(padded, p)
		slots[i] = padded
	}
	blob, err := Build(slots, s.PageSize, s.Codec, s.CodecOpts)
	if err != nil {
		return "", err
	}
	extentIdx := firstIndex / s.pagesPerExtentOrOne()
	key := s.extentKey(blobID, extentIdx)
	if err := b.Put(ctx, key, blob, backend.PutOptions{ContentType: "application/octet-stream"}); err != nil {
		return "", fmt.Errorf("write_extent: %s: %w", key, err)
	}
	return key, nil
}

// ReadExtent fetches the backend object at key from tier, parses it as an
// extent, and extracts slot.
func (s *Store) ReadExtent(ctx context.Context, key string, tier backend.Tier, slot int) ([]byte, error) {
	b := s.Backends.For(tier)
	if b == nil {
		return nil, errkind.New(errkind.Invalid, "read_extent", key, fmt.Errorf("no backend registered for tier %q", tier))
	}
	obj, err := b.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	ext, err := Parse(obj.Bytes)
	if err != nil {
		return nil, err
	}
	return ext.ExtractPage(slot)
}

func (s *Store) pagesPerExtentOrOne() int {
	n := s.pagesPerExtent()
	if n <= 0 {
		return 1
	}
	return n
}
