package lockmgr

import (
	"context"
	"fmt"
	"sync"

	"github.com/fsxcore/tieredfs/errkind"
)

// MemFileIO is an in-process FileIO, used in tests and by callers that
// don't need lock files to survive a restart.
type MemFileIO struct {
	mu    sync.Mutex
	files map[string][]byte
}

// NewMemFileIO returns an empty in-memory FileIO.
func NewMemFileIO() *MemFileIO {
	return &MemFileIO{files: make(map[string][]byte)}
}

func (f *MemFileIO) CreateExclusive(_ context.Context, path string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.files[path]; ok {
		return errkind.New(errkind.Exists, "create_exclusive", path, fmt.Errorf("already exists"))
	}
	f.files[path] = append([]byte(nil), data...)
	return nil
}

func (f *MemFileIO) Write(_ context.Context, path string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = append([]byte(nil), data...)
	return nil
}

func (f *MemFileIO) Rename(_ context.Context, oldPath, newPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[oldPath]
	if !ok {
		return errkind.New(errkind.NotFound, "rename", oldPath, fmt.Errorf("no such file"))
	}
	f.files[newPath] = data
	delete(f.files, oldPath)
	return nil
}

func (f *MemFileIO) Remove(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, path)
	return nil
}

func (f *MemFileIO) Exists(_ context.Context, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.files[path]
	return ok, nil
}

// Read returns the current bytes stored at path, for tests asserting
// commit/write content.
func (f *MemFileIO) Read(path string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[path]
	return data, ok
}
