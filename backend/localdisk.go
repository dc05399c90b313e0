package backend

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LocalDisk is a Backend that stores each key as a file under root, with a
// sidecar ".meta" file holding content type and custom metadata. Suited to
// a warm tier that needs to survive process restarts without a real object
// store.
type LocalDisk struct {
	root string
}

// NewLocalDisk creates (if needed) root and returns a Backend rooted there.
func NewLocalDisk(root string) (*LocalDisk, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, err
	}
	return &LocalDisk{root: root}, nil
}

type diskMeta struct {
	ContentType    string            `json:"content_type"`
	CustomMetadata map[string]string `json:"custom_metadata"`
}

func (d *LocalDisk) path(key string) string {
	return filepath.Join(d.root, url(key))
}

// url makes a key filesystem-safe without losing information, so keys with
// slashes (e.g. "page/blob-.../0") nest into directories.
func url(key string) string {
	return filepath.FromSlash(key)
}

func (d *LocalDisk) metaPath(key string) string {
	return d.path(key) + ".meta"
}

func (d *LocalDisk) Put(_ context.Context, key string, data []byte, opts PutOptions) error {
	p := d.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(p, data, 0644); err != nil {
		return err
	}
	meta := diskMeta{ContentType: opts.ContentType, CustomMetadata: opts.CustomMetadata}
	blob, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return os.WriteFile(d.metaPath(key), blob, 0644)
}

func (d *LocalDisk) Get(_ context.Context, key string) (*Object, error) {
	data, err := os.ReadFile(d.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errNotFound("get", key)
		}
		return nil, err
	}
	meta, _ := d.readMeta(key)
	return &Object{Bytes: data, ContentType: meta.ContentType, CustomMetadata: meta.CustomMetadata}, nil
}

func (d *LocalDisk) readMeta(key string) (diskMeta, error) {
	var meta diskMeta
	blob, err := os.ReadFile(d.metaPath(key))
	if err != nil {
		return meta, err
	}
	err = json.Unmarshal(blob, &meta)
	return meta, err
}

func (d *LocalDisk) GetStream(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(d.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errNotFound("get_stream", key)
		}
		return nil, err
	}
	return f, nil
}

func (d *LocalDisk) Delete(_ context.Context, key string) error {
	if err := os.Remove(d.path(key)); err != nil && !os.IsNotExist(err) {
		return err
	}
	_ = os.Remove(d.metaPath(key))
	return nil
}

func (d *LocalDisk) DeleteMany(ctx context.Context, keys []string) error {
	for _, k := range keys {
		if err := d.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

func (d *LocalDisk) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(d.path(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (d *LocalDisk) Head(_ context.Context, key string) (*ObjectMeta, error) {
	fi, err := os.Stat(d.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errNotFound("head", key)
		}
		return nil, err
	}
	meta, _ := d.readMeta(key)
	return &ObjectMeta{Size: fi.Size(), ContentType: meta.ContentType, CustomMetadata: meta.CustomMetadata}, nil
}

func (d *LocalDisk) List(_ context.Context, opts ListOptions) (ListResult, error) {
	var keys []string
	err := filepath.Walk(d.root, func(p string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || strings.HasSuffix(p, ".meta") {
			return nil
		}
		rel, err := filepath.Rel(d.root, p)
		if err != nil {
			return nil
		}
		key := filepath.ToSlash(rel)
		if opts.Prefix == "" || strings.HasPrefix(key, opts.Prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return ListResult{}, err
	}
	sort.Strings(keys)
	truncated := false
	if opts.Limit > 0 && len(keys) > opts.Limit {
		keys = keys[:opts.Limit]
		truncated = true
	}
	return ListResult{Objects: keys, Truncated: truncated}, nil
}

func (d *LocalDisk) Copy(ctx context.Context, src, dst string) error {
	obj, err := d.Get(ctx, src)
	if err != nil {
		return err
	}
	return d.Put(ctx, dst, obj.Bytes, PutOptions{ContentType: obj.ContentType, CustomMetadata: obj.CustomMetadata})
}
