// Package txn implements the Transaction Engine: an ordered queue
// of file-system mutations executed against a Storage port with
// capture-undo-then-execute rollback, factory plans for atomic
// publication, and cross-directory rename handling.
package txn

import "fmt"

// Kind tags an Operation's variant. The priority table below is keyed by
// Kind; dispatch inside the engine switches on Kind rather than any
// stringly-typed field.
type Kind int

const (
	KindMkdir Kind = iota
	KindWrite
	KindRename
	KindUnlink
	KindRm
	KindRmdir
)

func (k Kind) String() string {
	switch k {
	case KindMkdir:
		return "mkdir"
	case KindWrite:
		return "write"
	case KindRename:
		return "rename"
	case KindUnlink:
		return "unlink"
	case KindRm:
		return "rm"
	case KindRmdir:
		return "rmdir"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// priority implements the fixed execution ordering:
// mkdir(0) < write(1) < rename(2) < {unlink, rm}(3) < rmdir(4).
// Parents exist before children are written, payloads exist before they
// are renamed into place, deletions happen after dependent moves, and
// empty directories are removed last.
var priority = map[Kind]int{
	KindMkdir:  0,
	KindWrite:  1,
	KindRename: 2,
	KindUnlink: 3,
	KindRm:     3,
	KindRmdir:  4,
}

// WriteFlag names how Write should treat an existing target.
type WriteFlag string

const (
	FlagWrite     WriteFlag = "w"  // create or truncate
	FlagWriteExcl WriteFlag = "wx" // exclusive create; EEXIST if present
	FlagAppend    WriteFlag = "a"
)

// WriteOptions configures a Write operation.
type WriteOptions struct {
	Mode         uint32
	Flag         WriteFlag
	EncodingHint string
}

// RenameOptions configures a Rename operation.
type RenameOptions struct {
	Mkdirp    bool
	Overwrite bool
}

// MkdirOptions configures a Mkdir operation.
type MkdirOptions struct {
	Recursive bool
	Mode      uint32
}

// RmOptions configures an Rm operation.
type RmOptions struct {
	Force     bool
	Recursive bool
}

// RmdirOptions configures a Rmdir operation.
type RmdirOptions struct {
	Recursive bool
}

// Operation is the transaction entry tagged variant. Only the fields
// relevant to Kind are meaningful; the rest are zero.
type Operation struct {
	Kind Kind

	// Write, Unlink, Rm, Mkdir, Rmdir.
	Path string

	// Write.
	Bytes     []byte
	WriteOpts WriteOptions

	// Rename.
	OldPath    string
	NewPath    string
	RenameOpts RenameOptions

	// Mkdir.
	MkdirOpts MkdirOptions

	// Rm.
	RmOpts RmOptions

	// Rmdir.
	RmdirOpts RmdirOptions

	// seq preserves original insertion order within a priority class
	// across the stable reorder.
	seq int

	// synthetic marks operations the engine itself inserted (e.g. the
	// recursive mkdir ahead of a cross-directory rename) rather than ones
	// the caller queued, purely for logging/debugging.
	synthetic bool
}

func (op Operation) priority() int { return priority[op.Kind] }

// targetPath returns the path an operation most directly names, for
// logging.
func (op Operation) targetPath() string {
	switch op.Kind {
	case KindRename:
		return op.NewPath
	default:
		return op.Path
	}
}
