// Package namespace tracks the directory tree the tiered filesystem facade
// exposes: which paths exist, whether each is a file or a directory, and
// for files, which blob backs its content.
package namespace

import (
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsxcore/tieredfs/errkind"
)

// Type distinguishes a file entry from a directory entry.
type Type int

const (
	TypeFile Type = iota
	TypeDir
)

func (t Type) String() string {
	if t == TypeDir {
		return "dir"
	}
	return "file"
}

// Entry is one path's metadata.
type Entry struct {
	Path    string
	Type    Type
	BlobID  string // only meaningful for TypeFile
	Size    int64
	Mode    uint32
	ModTime time.Time
}

// Tree is the mutex-guarded path -> Entry registry backing the facade.
// The root "/" always exists and cannot be removed.
type Tree struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// New returns a Tree with only the root directory present.
func New() *Tree {
	return &Tree{entries: map[string]*Entry{
		"/": {Path: "/", Type: TypeDir, Mode: 0o777},
	}}
}

func clean(p string) string {
	if p == "" {
		return "/"
	}
	c := path.Clean(p)
	if !strings.HasPrefix(c, "/") {
		c = "/" + c
	}
	return c
}

// Get returns the entry at p, or ENOENT.
func (t *Tree) Get(p string) (Entry, error) {
	p = clean(p)
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[p]
	if !ok {
		return Entry{}, errkind.New(errkind.NotFound, "stat", p, nil)
	}
	return *e, nil
}

// Exists reports whether p is registered, without distinguishing kind.
func (t *Tree) Exists(p string) bool {
	p = clean(p)
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.entries[p]
	return ok
}

// parentOk returns nil when p's parent directory is registered as a
// directory, and ENOENT or ENOTDIR otherwise. "/" has no parent and is always considered satisfied.
func (t *Tree) parentOk(p string) error {
	parent := path.Dir(p)
	e, ok := t.entries[parent]
	if !ok {
		return errkind.New(errkind.NotFound, "mkdir", p, nil)
	}
	if e.Type != TypeDir {
		return errkind.New(errkind.NotDir, "mkdir", p, nil)
	}
	return nil
}

// PutFile registers (or overwrites) p as a file entry pointing at blobID.
func (t *Tree) PutFile(p, blobID string, size int64, mode uint32, now time.Time) error {
	p = clean(p)
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.entries[p]; ok && existing.Type == TypeDir {
		return errkind.New(errkind.IsDir, "write", p, nil)
	}
	t.entries[p] = &Entry{Path: p, Type: TypeFile, BlobID: blobID, Size: size, Mode: mode, ModTime: now}
	return nil
}

// Mkdir registers p as a directory. Non-recursive calls require the parent
// to already exist; recursive calls create missing ancestors along the way
// and return their paths (for a caller mirroring this into a Storage mkdir
// step).
func (t *Tree) Mkdir(p string, recursive bool, mode uint32, now time.Time) (created []string, err error) {
	p = clean(p)
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entries[p]; ok {
		if !recursive {
			return nil, errkind.New(errkind.Exists, "mkdir", p, nil)
		}
		if e.Type != TypeDir {
			return nil, errkind.New(errkind.NotDir, "mkdir", p, nil)
		}
		return nil, nil
	}

	if !recursive {
		if err := t.parentOkLocked(p); err != nil {
			return nil, err
		}
		t.entries[p] = &Entry{Path: p, Type: TypeDir, Mode: mode, ModTime: now}
		return []string{p}, nil
	}

	var missing []string
	for d := p; d != "/"; d = path.Dir(d) {
		if e, ok := t.entries[d]; ok {
			if e.Type != TypeDir {
				return nil, errkind.New(errkind.NotDir, "mkdir", p, nil)
			}
			break
		}
		missing = append(missing, d)
	}
	for i := len(missing) - 1; i >= 0; i-- {
		t.entries[missing[i]] = &Entry{Path: missing[i], Type: TypeDir, Mode: mode, ModTime: now}
	}
	return missing, nil
}

func (t *Tree) parentOkLocked(p string) error {
	parent := path.Dir(p)
	e, ok := t.entries[parent]
	if !ok {
		return errkind.New(errkind.NotFound, "mkdir", p, nil)
	}
	if e.Type != TypeDir {
		return errkind.New(errkind.NotDir, "mkdir", p, nil)
	}
	return nil
}

// Children lists the direct children of dir, sorted by name.
func (t *Tree) Children(dir string) ([]Entry, error) {
	dir = clean(dir)
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[dir]
	if !ok {
		return nil, errkind.New(errkind.NotFound, "readdir", dir, nil)
	}
	if e.Type != TypeDir {
		return nil, errkind.New(errkind.NotDir, "readdir", dir, nil)
	}

	prefix := dir
	if prefix != "/" {
		prefix += "/"
	}
	var out []Entry
	for p, entry := range t.entries {
		if p == dir || !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := p[len(prefix):]
		if strings.Contains(rest, "/") {
			continue // grandchild, not direct
		}
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// HasChildren reports whether dir contains any entries (for rmdir's
// non-recursive ENOTEMPTY check).
func (t *Tree) HasChildren(dir string) bool {
	children, err := t.Children(dir)
	return err == nil && len(children) > 0
}

// Remove deletes p (file or empty directory) from the registry.
func (t *Tree) Remove(p string) error {
	p = clean(p)
	if p == "/" {
		return errkind.New(errkind.NotPermitted, "remove", p, nil)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[p]; !ok {
		return errkind.New(errkind.NotFound, "remove", p, nil)
	}
	delete(t.entries, p)
	return nil
}

// RemoveTree deletes p and everything registered under it. For p == "/"
// every entry except the root itself is deleted.
func (t *Tree) RemoveTree(p string) []string {
	p = clean(p)
	t.mu.Lock()
	defer t.mu.Unlock()
	prefix := p + "/"
	if p == "/" {
		prefix = "/"
	}
	var removed []string
	for k := range t.entries {
		if k == "/" {
			continue
		}
		if k == p || strings.HasPrefix(k, prefix) {
			removed = append(removed, k)
		}
	}
	for _, k := range removed {
		delete(t.entries, k)
	}
	return removed
}

// Move relocates the entry (and, for a directory, every descendant) from
// oldPath to newPath, preserving each entry's BlobID. It returns the
// BlobIDs of any file entries that previously lived under newPath and are
// displaced by the move, so the caller can drop their reference the same
// way PutFile's overwrite path does.
func (t *Tree) Move(oldPath, newPath string) ([]string, error) {
	oldPath, newPath = clean(oldPath), clean(newPath)
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[oldPath]
	if !ok {
		return nil, errkind.New(errkind.NotFound, "rename", oldPath, nil)
	}

	displaced := t.displacedBlobsLocked(newPath)

	if e.Type != TypeDir {
		moved := *e
		moved.Path = newPath
		delete(t.entries, oldPath)
		t.entries[newPath] = &moved
		return displaced, nil
	}

	prefix := oldPath + "/"
	renames := map[string]*Entry{}
	for k, v := range t.entries {
		if k == oldPath {
			renames[newPath] = v
		} else if strings.HasPrefix(k, prefix) {
			renames[newPath+"/"+k[len(prefix):]] = v
		}
	}
	for oldKey := range t.entries {
		if oldKey == oldPath || strings.HasPrefix(oldKey, prefix) {
			delete(t.entries, oldKey)
		}
	}
	for newKey, v := range renames {
		moved := *v
		moved.Path = newKey
		t.entries[newKey] = &moved
	}
	return displaced, nil
}

// displacedBlobsLocked collects the BlobIDs of newPath itself (if it is a
// file) plus every file entry nested under it (if it is a directory being
// overwritten), before the move below deletes those registry entries out
// from under them. Caller holds t.mu.
func (t *Tree) displacedBlobsLocked(newPath string) []string {
	var blobs []string
	if e, ok := t.entries[newPath]; ok {
		if e.Type == TypeFile {
			blobs = append(blobs, e.BlobID)
		} else {
			prefix := newPath + "/"
			for k, v := range t.entries {
				if strings.HasPrefix(k, prefix) && v.Type == TypeFile {
					blobs = append(blobs, v.BlobID)
				}
			}
		}
	}
	return blobs
}
