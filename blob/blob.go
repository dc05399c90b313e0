// Package blob implements the content-addressable blob store:
// chunking a byte stream into fixed-size pages, deduplicating identical
// content under one blob id, and reference-counting blobs so they are
// garbage collected only once nothing references them.
package blob

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsxcore/tieredfs/backend"
	"github.com/fsxcore/tieredfs/errkind"
	"github.com/fsxcore/tieredfs/hashid"
	"github.com/fsxcore/tieredfs/page"
)

// Meta describes a stored blob: its size and how many file entries
// currently reference it.
type Meta struct {
	BlobID    string
	Size      int64
	PageCount int
	RefCount  int
	CreatedAt time.Time
}

// Store chunks, dedups, and reference-counts blobs on top of a page.Store.
type Store struct {
	mu    sync.Mutex
	blobs map[string]*Meta

	Pages    *page.Store
	PageSize uint32
}

// NewStore wires a blob store over pages, splitting content into
// pageSize-sized pages.
func NewStore(pages *page.Store, pageSize uint32) *Store {
	return &Store{blobs: make(map[string]*Meta), Pages: pages, PageSize: pageSize}
}

// Write dedups content by its blob id: identical bytes always land under
// the same id. If the blob already exists its refcount is incremented and
// no new pages are written; otherwise content is chunked into pages and
// written to tier.
func (s *Store) Write(ctx context.Context, content []byte, tier backend.Tier, now time.Time) (string, error) {
	id := hashid.BlobID(content)

	s.mu.Lock()
	if m, ok := s.blobs[id]; ok {
		m.RefCount++
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	pages := chunk(content, int(s.PageSize))
	if err := s.Pages.WritePages(ctx, id, 0, pages, tier, now); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.blobs[id]; ok {
		// Lost the race with a concurrent Write of identical content;
		// keep the already-registered metadata and just bump refcount.
		m.RefCount++
		return id, nil
	}
	s.blobs[id] = &Meta{BlobID: id, Size: int64(len(content)), PageCount: len(pages), RefCount: 1, CreatedAt: now}
	return id, nil
}

func chunk(content []byte, pageSize int) [][]byte {
	if pageSize <= 0 {
		return nil
	}
	if len(content) == 0 {
		return [][]byte{{}}
	}
	n := (len(content) + pageSize - 1) / pageSize
	pages := make([][]byte, n)
	for i := 0; i < n; i++ {
		start := i * pageSize
		end := start + pageSize
		if end > len(content) {
			end = len(content)
		}
		pages[i] = content[start:end]
	}
	return pages
}

// Read returns the full byte content of blobID.
func (s *Store) Read(ctx context.Context, blobID string, now time.Time) ([]byte, error) {
	meta, ok := s.Meta(blobID)
	if !ok {
		return nil, errkind.New(errkind.NotFound, "read", blobID, fmt.Errorf("no such blob"))
	}
	pages, err := s.Pages.ReadPages(ctx, blobID, 0, meta.PageCount, now)
	if err != nil {
		return nil, err
	}
	var out []byte
	for _, p := range pages {
		out = append(out, p...)
	}
	return out, nil
}

// ReadRange returns content[offset : offset+length).
func (s *Store) ReadRange(ctx context.Context, blobID string, offset, length int64, now time.Time) ([]byte, error) {
	if _, ok := s.Meta(blobID); !ok {
		return nil, errkind.New(errkind.NotFound, "read_range", blobID, fmt.Errorf("no such blob"))
	}
	return s.Pages.ReadRange(ctx, blobID, offset, length, now)
}

// Meta returns the registered metadata for blobID.
func (s *Store) Meta(blobID string) (Meta, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.blobs[blobID]
	if !ok {
		return Meta{}, false
	}
	return *m, true
}

// IncRef registers an additional file-entry reference to blobID, e.g. when
// a rename carries a blob reference to a new path.
func (s *Store) IncRef(blobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.blobs[blobID]
	if !ok {
		return errkind.New(errkind.NotFound, "incref", blobID, fmt.Errorf("no such blob"))
	}
	m.RefCount++
	return nil
}

// Delete decrements blobID's reference count and, if it reaches zero,
// deletes its pages.
func (s *Store) Delete(ctx context.Context, blobID string) (gced bool, err error) {
	s.mu.Lock()
	m, ok := s.blobs[blobID]
	if !ok {
		s.mu.Unlock()
		return false, errkind.New(errkind.NotFound, "unlink", blobID, fmt.Errorf("no such blob"))
	}
	m.RefCount--
	if m.RefCount > 0 {
		s.mu.Unlock()
		return false, nil
	}
	pageCount := m.PageCount
	delete(s.blobs, blobID)
	s.mu.Unlock()

	s.Pages.DeletePages(ctx, blobID, 0, pageCount)
	return true, nil
}
