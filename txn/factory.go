package txn

import "sort"

// Factory plans build a pre-populated Transaction for common atomic
// publication patterns.

// AtomicSwap builds write(tmp) -> rename(tmp, target, overwrite=true): the
// new content lands at tmp, then atomically replaces target in one
// rename. The priority table sorts rename(2) ahead of rm(3)
// regardless of insertion order, so a literal third rm(target, force)
// step would always run *after* the rename and delete the file this plan
// just published — the opposite of "atomic swap". We omit that step;
// overwrite=true on the rename already gives the intended replace-in-place
// semantics (see DESIGN.md).
func AtomicSwap(id, tmpPath, targetPath string, data []byte, opts WriteOptions) (*Transaction, error) {
	tx := New(id)
	if err := tx.Write(tmpPath, data, opts); err != nil {
		return nil, err
	}
	if err := tx.Rename(tmpPath, targetPath, RenameOptions{Overwrite: true}); err != nil {
		return nil, err
	}
	return tx, nil
}

// AtomicLockSwap builds write(target.lock, flag=wx) -> rename(target.lock,
// target). The exclusive-create flag guarantees mutual exclusion across
// competing writers publishing to the same target.
func AtomicLockSwap(id, targetPath string, data []byte, lockSuffix string) (*Transaction, error) {
	if lockSuffix == "" {
		lockSuffix = ".lock"
	}
	lockPath := targetPath + lockSuffix
	tx := New(id)
	if err := tx.Write(lockPath, data, WriteOptions{Flag: FlagWriteExcl}); err != nil {
		return nil, err
	}
	if err := tx.Rename(lockPath, targetPath, RenameOptions{Overwrite: true}); err != nil {
		return nil, err
	}
	return tx, nil
}

// WriteAll builds one Write operation per (path, bytes) pair, queued in
// sorted path order so the plan (and any rollback of it) is deterministic
// across runs.
func WriteAll(id string, files map[string][]byte, opts WriteOptions) (*Transaction, error) {
	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	tx := New(id)
	for _, path := range paths {
		if err := tx.Write(path, files[path], opts); err != nil {
			return nil, err
		}
	}
	return tx, nil
}

// DeleteAll builds one Rm operation per path.
func DeleteAll(id string, paths []string, opts RmOptions) (*Transaction, error) {
	tx := New(id)
	for _, p := range paths {
		if err := tx.Rm(p, opts); err != nil {
			return nil, err
		}
	}
	return tx, nil
}
