package txn

import (
	"fmt"
	"sort"
	"sync"

	"github.com/fsxcore/tieredfs/errkind"
)

// Status is a Transaction's lifecycle state. It only ever moves
// pending -> {committed, rolled_back}.
type Status string

const (
	Pending    Status = "pending"
	Committed  Status = "committed"
	RolledBack Status = "rolled_back"
)

// Transaction accumulates Operations and executes them atomically against
// a Storage port. Safe for concurrent queuing; Execute must be
// called at most once.
type Transaction struct {
	mu      sync.Mutex
	id      string
	ops     []Operation
	status  Status
	nextSeq int

	lastRollbackSummary *RollbackSummary
}

// New starts a pending transaction identified by id (used for
// logs/metrics correlation; see ExecOptions.TransactionID).
func New(id string) *Transaction {
	return &Transaction{id: id, status: Pending}
}

func (t *Transaction) ID() string { return t.id }

func (t *Transaction) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// LastRollbackSummary returns the per-step rollback record of the most
// recent failed execution, or nil if the transaction never rolled back.
func (t *Transaction) LastRollbackSummary() *RollbackSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastRollbackSummary
}

func (t *Transaction) add(op Operation) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != Pending {
		return errkind.New(errkind.Precondition, "enqueue", op.targetPath(),
			fmt.Errorf("transaction %s is %s, not pending", t.id, t.status))
	}
	op.seq = t.nextSeq
	t.nextSeq++
	t.ops = append(t.ops, op)
	return nil
}

// Write queues a Write operation.
func (t *Transaction) Write(path string, data []byte, opts WriteOptions) error {
	return t.add(Operation{Kind: KindWrite, Path: path, Bytes: data, WriteOpts: opts})
}

// Unlink queues an Unlink operation.
func (t *Transaction) Unlink(path string) error {
	return t.add(Operation{Kind: KindUnlink, Path: path})
}

// Rm queues an Rm operation.
func (t *Transaction) Rm(path string, opts RmOptions) error {
	return t.add(Operation{Kind: KindRm, Path: path, RmOpts: opts})
}

// Rmdir queues a Rmdir operation.
func (t *Transaction) Rmdir(path string, opts RmdirOptions) error {
	return t.add(Operation{Kind: KindRmdir, Path: path, RmdirOpts: opts})
}

// Rename queues a Rename operation.
func (t *Transaction) Rename(oldPath, newPath string, opts RenameOptions) error {
	return t.add(Operation{Kind: KindRename, OldPath: oldPath, NewPath: newPath, RenameOpts: opts})
}

// Mkdir queues a Mkdir operation.
func (t *Transaction) Mkdir(path string, opts MkdirOptions) error {
	return t.add(Operation{Kind: KindMkdir, Path: path, MkdirOpts: opts})
}

// Ops returns a copy of the queued operations in insertion order
// (pre-reorder), for inspection/logging.
func (t *Transaction) Ops() []Operation {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Operation, len(t.ops))
	copy(out, t.ops)
	return out
}

// reorderedPlan stably sorts the queued operations by the priority
// table, preserving insertion order within a class.
func (t *Transaction) reorderedPlan() []Operation {
	t.mu.Lock()
	plan := make([]Operation, len(t.ops))
	copy(plan, t.ops)
	t.mu.Unlock()

	sort.SliceStable(plan, func(i, j int) bool {
		pi, pj := plan[i].priority(), plan[j].priority()
		if pi != pj {
			return pi < pj
		}
		return plan[i].seq < plan[j].seq
	})
	return plan
}

func (t *Transaction) setStatus(s Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = s
}

func (t *Transaction) setRollbackSummary(s *RollbackSummary) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastRollbackSummary = s
}
