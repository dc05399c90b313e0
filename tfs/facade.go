// Package tfs is the Tiered File System Facade: a POSIX-shaped
// read/write/mkdir/rename/stat/readdir surface wired over the Transaction
// engine, the content-addressable blob store, the Tier manager, and the
// path namespace.
package tfs

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/fsxcore/tieredfs/blob"
	"github.com/fsxcore/tieredfs/errkind"
	"github.com/fsxcore/tieredfs/lockmgr"
	"github.com/fsxcore/tieredfs/logger"
	"github.com/fsxcore/tieredfs/namespace"
	"github.com/fsxcore/tieredfs/page"
	"github.com/fsxcore/tieredfs/tier"
	"github.com/fsxcore/tieredfs/txn"
)

// Options configures a FileSystem at construction.
type Options struct {
	ReadOnly bool
	Mode     uint32 // default file mode for new writes; 0 -> 0o666
	// AsyncEviction runs Tier eviction in a background goroutine instead of
	// synchronously before acknowledging the write that tripped the
	// threshold. Lower write latency, but the hot tier may transiently
	// overshoot its target.
	AsyncEviction bool
	// Clock overrides time.Now for tests; defaults to time.Now.
	Clock func() time.Time
}

// StatResult is what Stat returns.
type StatResult struct {
	Size    int64
	Mode    uint32
	ModTime time.Time
	Type    namespace.Type
}

// DirEntry is one entry returned by Readdir.
type DirEntry struct {
	Name string
	Type namespace.Type
}

// ReaddirOptions configures Readdir.
type ReaddirOptions struct {
	WithTypes bool
}

// FileSystem exposes the POSIX-shaped operations over a namespace tree,
// a blob store, a tier manager, and a lock manager.
type FileSystem struct {
	ns      *namespace.Tree
	blobs   *blob.Store
	tiers   *tier.Manager
	locks   *lockmgr.Manager
	opts    Options
	adapter *storageAdapter
}

// New wires a FileSystem over an already-constructed page store, tier
// manager, and lock manager. The namespace starts with only "/" present.
func New(pages *page.Store, tiers *tier.Manager, locks *lockmgr.Manager, opts Options) *FileSystem {
	if opts.Mode == 0 {
		opts.Mode = 0o666
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	ns := namespace.New()
	blobs := blob.NewStore(pages, pages.PageSize)
	fs := &FileSystem{
		ns:    ns,
		blobs: blobs,
		tiers: tiers,
		locks: locks,
		opts:  opts,
	}
	fs.adapter = &storageAdapter{ns: ns, blobs: blobs, mode: opts.Mode, clock: opts.Clock}
	return fs
}

func (fs *FileSystem) now() time.Time { return fs.opts.Clock() }

// txnID mints a correlation token for a Transaction and its lock
// holders. A random UUID avoids the coordination a monotonic counter
// would need across FileSystem instances sharing a Storage backend.
func (fs *FileSystem) txnID() string {
	return "tfs-" + uuid.NewString()
}

func (fs *FileSystem) requireWritable(op string) error {
	if fs.opts.ReadOnly {
		return errkind.New(errkind.ReadOnly, op, "", nil)
	}
	return nil
}

// Read returns the full content of path.
func (fs *FileSystem) Read(ctx context.Context, path string) ([]byte, error) {
	return fs.adapter.ReadFile(ctx, path)
}

// ReadRange returns content[offset : offset+length) for path.
func (fs *FileSystem) ReadRange(ctx context.Context, path string, offset, length int64) ([]byte, error) {
	if offset < 0 || length < 0 {
		return nil, errkind.New(errkind.Invalid, "read_range", path, nil)
	}
	e, err := fs.ns.Get(path)
	if err != nil {
		return nil, err
	}
	if e.Type == namespace.TypeDir {
		return nil, errkind.New(errkind.IsDir, "read_range", path, nil)
	}
	if offset > e.Size || offset+length > e.Size {
		return nil, errkind.New(errkind.Invalid, "read_range", path, nil)
	}
	return fs.blobs.ReadRange(ctx, e.BlobID, offset, length, fs.now())
}

// Write creates or overwrites path with data.
func (fs *FileSystem) Write(ctx context.Context, path string, data []byte, opts txn.WriteOptions) (int, error) {
	if err := fs.requireWritable("write"); err != nil {
		return 0, err
	}

	if opts.Flag == txn.FlagWriteExcl && fs.locks != nil {
		lock, err := fs.locks.Acquire(ctx, path, fs.txnID(), lockmgr.AcquireOptions{}, fs.now())
		if err != nil {
			return 0, err
		}
		defer func() { _ = lock.Release(ctx) }()
	}

	tx := txn.New(fs.txnID())
	if err := tx.Write(path, data, opts); err != nil {
		return 0, err
	}
	if err := txn.Execute(ctx, tx, fs.adapter, txn.ExecOptions{CaptureContent: true}); err != nil {
		return 0, err
	}

	fs.maybeEvict(ctx)
	return len(data), nil
}

// Unlink removes a file and GCs its blob if this was the last reference.
func (fs *FileSystem) Unlink(ctx context.Context, path string) error {
	if err := fs.requireWritable("unlink"); err != nil {
		return err
	}
	tx := txn.New(fs.txnID())
	if err := tx.Unlink(path); err != nil {
		return err
	}
	return txn.Execute(ctx, tx, fs.adapter, txn.ExecOptions{CaptureContent: true})
}

// Mkdir creates a directory.
func (fs *FileSystem) Mkdir(ctx context.Context, path string, opts txn.MkdirOptions) error {
	if err := fs.requireWritable("mkdir"); err != nil {
		return err
	}
	tx := txn.New(fs.txnID())
	if err := tx.Mkdir(path, opts); err != nil {
		return err
	}
	return txn.Execute(ctx, tx, fs.adapter, txn.ExecOptions{CaptureContent: true})
}

// Rmdir removes a directory, recursively if opts.Recursive.
func (fs *FileSystem) Rmdir(ctx context.Context, path string, opts txn.RmdirOptions) error {
	if err := fs.requireWritable("rmdir"); err != nil {
		return err
	}
	tx := txn.New(fs.txnID())
	if err := tx.Rmdir(path, opts); err != nil {
		return err
	}
	return txn.Execute(ctx, tx, fs.adapter, txn.ExecOptions{CaptureContent: true})
}

// Rm removes a file or, with opts.Recursive, a directory tree.
func (fs *FileSystem) Rm(ctx context.Context, path string, opts txn.RmOptions) error {
	if err := fs.requireWritable("rm"); err != nil {
		return err
	}
	tx := txn.New(fs.txnID())
	if err := tx.Rm(path, opts); err != nil {
		return err
	}
	return txn.Execute(ctx, tx, fs.adapter, txn.ExecOptions{CaptureContent: true})
}

// Rename moves oldPath to newPath, creating missing ancestor directories
// when opts.Mkdirp is set.
func (fs *FileSystem) Rename(ctx context.Context, oldPath, newPath string, opts txn.RenameOptions) error {
	if err := fs.requireWritable("rename"); err != nil {
		return err
	}
	tx := txn.New(fs.txnID())
	if err := tx.Rename(oldPath, newPath, opts); err != nil {
		return err
	}
	return txn.Execute(ctx, tx, fs.adapter, txn.ExecOptions{CaptureContent: true})
}

// Stat returns path's metadata.
func (fs *FileSystem) Stat(_ context.Context, path string) (StatResult, error) {
	e, err := fs.ns.Get(path)
	if err != nil {
		return StatResult{}, err
	}
	return StatResult{Size: e.Size, Mode: e.Mode, ModTime: e.ModTime, Type: e.Type}, nil
}

// Readdir lists dir's direct children.
func (fs *FileSystem) Readdir(_ context.Context, dir string, opts ReaddirOptions) ([]DirEntry, error) {
	children, err := fs.ns.Children(dir)
	if err != nil {
		return nil, err
	}
	out := make([]DirEntry, len(children))
	for i, c := range children {
		name := c.Path
		if idx := lastSlash(name); idx >= 0 {
			name = name[idx+1:]
		}
		entry := DirEntry{Name: name}
		if opts.WithTypes {
			entry.Type = c.Type
		}
		out[i] = entry
	}
	return out, nil
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}

// maybeEvict runs (or schedules) Tier eviction when the hot tier is over
// threshold, applying backpressure to the write that caused the overflow.
func (fs *FileSystem) maybeEvict(ctx context.Context) {
	if fs.tiers == nil || !fs.tiers.ShouldEvict() {
		return
	}
	if fs.opts.AsyncEviction {
		go func() {
			if _, err := fs.tiers.RunEviction(context.Background(), time.Now()); err != nil {
				logger.Errorf("async eviction failed: %v", err)
			}
		}()
		return
	}
	if _, err := fs.tiers.RunEviction(ctx, fs.now()); err != nil {
		logger.Errorf("eviction failed: %v", err)
	}
}
