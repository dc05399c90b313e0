package backend

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process Backend, used for the hot tier and in tests
// standing in for warm/cold tiers. Safe for concurrent use.
type Memory struct {
	mu    sync.RWMutex
	store map[string]*Object
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{store: make(map[string]*Object)}
}

func (m *Memory) Put(_ context.Context, key string, data []byte, opts PutOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	meta := make(map[string]string, len(opts.CustomMetadata))
	for k, v := range opts.CustomMetadata {
		meta[k] = v
	}
	m.store[key] = &Object{Bytes: cp, ContentType: opts.ContentType, CustomMetadata: meta}
	return nil
}

func (m *Memory) Get(_ context.Context, key string) (*Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.store[key]
	if !ok {
		return nil, errNotFound("get", key)
	}
	cp := make([]byte, len(obj.Bytes))
	copy(cp, obj.Bytes)
	return &Object{Bytes: cp, ContentType: obj.ContentType, CustomMetadata: obj.CustomMetadata}, nil
}

func (m *Memory) GetStream(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := m.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(obj.Bytes)), nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, key)
	return nil
}

func (m *Memory) DeleteMany(ctx context.Context, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.store, k)
	}
	return nil
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.store[key]
	return ok, nil
}

func (m *Memory) Head(_ context.Context, key string) (*ObjectMeta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.store[key]
	if !ok {
		return nil, errNotFound("head", key)
	}
	return &ObjectMeta{Size: int64(len(obj.Bytes)), ContentType: obj.ContentType, CustomMetadata: obj.CustomMetadata}, nil
}

func (m *Memory) List(_ context.Context, opts ListOptions) (ListResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.store {
		if opts.Prefix == "" || strings.HasPrefix(k, opts.Prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	truncated := false
	if opts.Limit > 0 && len(keys) > opts.Limit {
		keys = keys[:opts.Limit]
		truncated = true
	}
	return ListResult{Objects: keys, Truncated: truncated}, nil
}

func (m *Memory) Copy(_ context.Context, src, dst string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.store[src]
	if !ok {
		return errNotFound("copy", src)
	}
	cp := make([]byte, len(obj.Bytes))
	copy(cp, obj.Bytes)
	m.store[dst] = &Object{Bytes: cp, ContentType: obj.ContentType, CustomMetadata: obj.CustomMetadata}
	return nil
}

// Len reports the number of stored keys; used by tests asserting tier counts.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.store)
}
