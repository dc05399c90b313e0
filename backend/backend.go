// Package backend defines the Backend port: the key-value object
// interface consumed by the page store and tier manager. The concrete
// backends here stand in for a host runtime's durable-object/KV/object
// store SDKs, which stay behind this interface.
package backend

import (
	"context"
	"io"
	"time"

	"github.com/fsxcore/tieredfs/errkind"
)

// Object is a backend value plus the metadata stored alongside it.
type Object struct {
	Bytes          []byte
	ContentType    string
	CustomMetadata map[string]string
}

// ObjectMeta is what Head returns: metadata without the payload.
type ObjectMeta struct {
	Size           int64
	ContentType    string
	CustomMetadata map[string]string
}

// PutOptions configures a Put call.
type PutOptions struct {
	TTL            time.Duration
	ContentType    string
	CustomMetadata map[string]string
}

// ListOptions configures a List call.
type ListOptions struct {
	Prefix string
	Limit  int
}

// ListResult is the (possibly partial) result of a List call. Backends
// that cannot enumerate their keyspace return an empty, non-truncated
// result.
type ListResult struct {
	Objects   []string
	Truncated bool
}

// Backend is the key-value object interface consumed by the page store and
// tier manager. Every method here is mandatory on a concrete backend;
// capabilities that a given backend cannot support (e.g. List on a backend
// with no enumeration API) degrade gracefully rather than failing the call.
type Backend interface {
	Put(ctx context.Context, key string, data []byte, opts PutOptions) error
	Get(ctx context.Context, key string) (*Object, error)
	GetStream(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	DeleteMany(ctx context.Context, keys []string) error
	Exists(ctx context.Context, key string) (bool, error)
	Head(ctx context.Context, key string) (*ObjectMeta, error)
	List(ctx context.Context, opts ListOptions) (ListResult, error)
	Copy(ctx context.Context, src, dst string) error
}

// errNotFound builds the ENOENT error Get/GetStream/Head/Copy return for
// a missing key.
func errNotFound(op, key string) error {
	return errkind.New(errkind.NotFound, op, key, nil)
}
