package tfs

import (
	"context"
	"fmt"
	"time"

	"github.com/fsxcore/tieredfs/backend"
	"github.com/fsxcore/tieredfs/blob"
	"github.com/fsxcore/tieredfs/errkind"
	"github.com/fsxcore/tieredfs/namespace"
	"github.com/fsxcore/tieredfs/txn"
)

// storageAdapter implements txn.Storage (and its optional FileReader,
// Exister, Unlinker, Remover, RmdirCapable, Renamer and MkdirCapable
// capabilities; not LegacyFileDeleter or Transactional) over a
// namespace.Tree + blob.Store pair, so the
// Transaction engine can run its ordered, undo-capturing plan directly
// against the tiered filesystem's own state.
type storageAdapter struct {
	ns    *namespace.Tree
	blobs *blob.Store
	mode  uint32
	clock func() time.Time
}

func (a *storageAdapter) now() time.Time { return a.clock() }

func (a *storageAdapter) WriteFile(ctx context.Context, path string, data []byte, opts txn.WriteOptions) error {
	existing, existErr := a.ns.Get(path)
	existed := existErr == nil
	if existed && existing.Type == namespace.TypeDir {
		return errkind.New(errkind.IsDir, "write", path, nil)
	}

	blobID, err := a.blobs.Write(ctx, data, backend.TierHot, a.now())
	if err != nil {
		return err
	}

	mode := a.mode
	if opts.Mode != 0 {
		mode = opts.Mode
	} else if existed {
		mode = existing.Mode
	}
	if err := a.ns.PutFile(path, blobID, int64(len(data)), mode, a.now()); err != nil {
		return err
	}

	if existed && existing.Type == namespace.TypeFile && existing.BlobID != blobID {
		_, _ = a.blobs.Delete(ctx, existing.BlobID)
	}
	return nil
}

func (a *storageAdapter) ReadFile(ctx context.Context, path string) ([]byte, error) {
	e, err := a.ns.Get(path)
	if err != nil {
		return nil, err
	}
	if e.Type == namespace.TypeDir {
		return nil, errkind.New(errkind.IsDir, "read", path, nil)
	}
	return a.blobs.Read(ctx, e.BlobID, a.now())
}

func (a *storageAdapter) Exists(_ context.Context, path string) (bool, error) {
	return a.ns.Exists(path), nil
}

func (a *storageAdapter) Unlink(ctx context.Context, path string) error {
	e, err := a.ns.Get(path)
	if err != nil {
		return err
	}
	if e.Type == namespace.TypeDir {
		return errkind.New(errkind.IsDir, "unlink", path, nil)
	}
	if _, err := a.blobs.Delete(ctx, e.BlobID); err != nil {
		return err
	}
	return a.ns.Remove(path)
}

func (a *storageAdapter) Rm(ctx context.Context, path string, opts txn.RmOptions) error {
	e, err := a.ns.Get(path)
	if err != nil {
		if opts.Force {
			return nil
		}
		return err
	}
	if e.Type == namespace.TypeDir {
		if !opts.Recursive {
			return errkind.New(errkind.IsDir, "rm", path, fmt.Errorf("use recursive to remove a directory"))
		}
		return a.removeSubtree(ctx, path)
	}
	if _, err := a.blobs.Delete(ctx, e.BlobID); err != nil {
		return err
	}
	return a.ns.Remove(path)
}

func (a *storageAdapter) Rmdir(ctx context.Context, path string, opts txn.RmdirOptions) error {
	e, err := a.ns.Get(path)
	if err != nil {
		return err
	}
	if e.Type != namespace.TypeDir {
		return errkind.New(errkind.NotDir, "rmdir", path, nil)
	}
	if !opts.Recursive && a.ns.HasChildren(path) {
		return errkind.New(errkind.NotEmpty, "rmdir", path, nil)
	}
	return a.removeSubtree(ctx, path)
}

// removeSubtree releases every blob referenced under path, then drops the
// whole registry subtree in one pass.
func (a *storageAdapter) removeSubtree(ctx context.Context, path string) error {
	children, _ := a.ns.Children(path)
	for _, c := range children {
		if c.Type == namespace.TypeDir {
			if err := a.removeSubtree(ctx, c.Path); err != nil {
				return err
			}
			continue
		}
		if _, err := a.blobs.Delete(ctx, c.BlobID); err != nil {
			return err
		}
	}
	if e, err := a.ns.Get(path); err == nil && e.Type == namespace.TypeFile {
		if _, err := a.blobs.Delete(ctx, e.BlobID); err != nil {
			return err
		}
	}
	a.ns.RemoveTree(path)
	return nil
}

func (a *storageAdapter) Rename(ctx context.Context, oldPath, newPath string) error {
	displaced, err := a.ns.Move(oldPath, newPath)
	if err != nil {
		return err
	}
	// Mirror WriteFile's overwrite handling: a rename that replaces an
	// existing destination drops that destination's blob reference the
	// same way an overwriting write does.
	for _, blobID := range displaced {
		if blobID == "" {
			continue
		}
		if _, err := a.blobs.Delete(ctx, blobID); err != nil {
			return err
		}
	}
	return nil
}

func (a *storageAdapter) Mkdir(_ context.Context, path string, opts txn.MkdirOptions) error {
	_, err := a.ns.Mkdir(path, opts.Recursive, opts.Mode, a.now())
	return err
}
