package txn

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/fsxcore/tieredfs/errkind"
	"github.com/fsxcore/tieredfs/logger"
)

// ExecOptions configures Execute.
type ExecOptions struct {
	DryRun bool
	// TransactionID correlates logs/metrics; Transaction.ID() is used when empty.
	TransactionID string
	TimeoutMs     int64
	// CaptureContent, when false, skips previous-content reads (weaker
	// rollback, caller's choice). Forced false whenever UseDBTransaction
	// succeeds in starting a backend transaction.
	CaptureContent   bool
	UseDBTransaction bool
	OnMetrics        func(Metrics)
}

// Metrics is the payload handed to ExecOptions.OnMetrics.
type Metrics struct {
	TransactionID        string
	Status               Status
	OperationsExecuted   int
	OperationsRolledBack *int
	TotalDurationMs      int64
	OperationDurationMs  []int64
	RollbackDurationMs   *int64
	UsedDBTransaction    bool
	ErrorMessage         string
}

// Execute reorders tx's queued operations by the fixed priority table and
// runs them against storage, capturing undo information before each step.
// On failure it rolls back everything already completed, in reverse
// order, and returns either the original error (if rollback fully
// succeeded) or an Aggregate wrapping it with each rollback error.
func Execute(ctx context.Context, tx *Transaction, storage Storage, opts ExecOptions) error {
	tx.mu.Lock()
	if tx.status != Pending {
		status := tx.status
		tx.mu.Unlock()
		return errkind.New(errkind.Precondition, "execute", "",
			fmt.Errorf("transaction %s already %s", tx.id, status))
	}
	tx.mu.Unlock()

	txID := opts.TransactionID
	if txID == "" {
		txID = tx.id
	}
	captureContent := opts.CaptureContent

	plan := tx.reorderedPlan()
	start := time.Now()

	if opts.DryRun {
		for _, op := range plan {
			logger.WithTxn(txID).Infof("dry_run %s %s", op.Kind, op.targetPath())
		}
		emitMetrics(opts, Metrics{
			TransactionID:       txID,
			Status:              Pending,
			OperationsExecuted:  0,
			TotalDurationMs:     time.Since(start).Milliseconds(),
			OperationDurationMs: nil,
		})
		return nil
	}

	var dbTxn DBTransaction
	usedDBTransaction := false
	if opts.UseDBTransaction {
		if t, ok := storage.(Transactional); ok {
			started, err := t.BeginTransaction(ctx, txID)
			if err != nil {
				return fmt.Errorf("begin_transaction: %w", err)
			}
			dbTxn = started
			usedDBTransaction = true
			captureContent = false
		}
	}

	var deadline time.Time
	if opts.TimeoutMs > 0 {
		deadline = start.Add(time.Duration(opts.TimeoutMs) * time.Millisecond)
	}

	var completed []CompletedOperation
	var opDurations []int64
	var execErr error

	for _, op := range plan {
		if !deadline.IsZero() && time.Now().After(deadline) {
			execErr = errkind.New(errkind.TimedOut, "execute", op.targetPath(),
				fmt.Errorf("transaction %s exceeded %dms", txID, opts.TimeoutMs))
			break
		}

		opStart := time.Now()
		done, err := executeOne(ctx, storage, op, captureContent)
		opDurations = append(opDurations, time.Since(opStart).Milliseconds())
		if err != nil {
			execErr = err
			break
		}
		completed = append(completed, done...)
	}

	if execErr == nil {
		if usedDBTransaction {
			if err := dbTxn.Commit(ctx); err != nil {
				execErr = err
			}
		}
	}

	if execErr == nil {
		tx.setStatus(Committed)
		emitMetrics(opts, Metrics{
			TransactionID:       txID,
			Status:              Committed,
			OperationsExecuted:  len(completed),
			TotalDurationMs:     time.Since(start).Milliseconds(),
			OperationDurationMs: opDurations,
			UsedDBTransaction:   usedDBTransaction,
		})
		return nil
	}

	// Roll back.
	if usedDBTransaction {
		_ = dbTxn.Rollback(ctx)
		tx.setStatus(RolledBack)
		n := 0
		emitMetrics(opts, Metrics{
			TransactionID:        txID,
			Status:               RolledBack,
			OperationsExecuted:   len(completed),
			OperationsRolledBack: &n,
			TotalDurationMs:      time.Since(start).Milliseconds(),
			OperationDurationMs:  opDurations,
			UsedDBTransaction:    true,
			ErrorMessage:         execErr.Error(),
		})
		return execErr
	}

	rollbackStart := time.Now()
	summary := rollback(ctx, storage, completed)
	tx.setRollbackSummary(summary)
	tx.setStatus(RolledBack)
	rollbackMs := time.Since(rollbackStart).Milliseconds()

	rolledBackCount := len(summary.Steps)
	emitMetrics(opts, Metrics{
		TransactionID:        txID,
		Status:               RolledBack,
		OperationsExecuted:   len(completed),
		OperationsRolledBack: &rolledBackCount,
		TotalDurationMs:      time.Since(start).Milliseconds(),
		OperationDurationMs:  opDurations,
		RollbackDurationMs:   &rollbackMs,
		UsedDBTransaction:    false,
		ErrorMessage:         execErr.Error(),
	})

	return errkind.NewAggregate(execErr, summary.Errors())
}

func emitMetrics(opts ExecOptions, m Metrics) {
	if opts.OnMetrics != nil {
		opts.OnMetrics(m)
	}
}

// executeOne captures undo information for op, applies it to storage, and
// returns the resulting CompletedOperation(s) — normally one, but two for
// a cross-directory rename with mkdirp (the synthetic mkdir, then the
// rename itself).
func executeOne(ctx context.Context, storage Storage, op Operation, captureContent bool) ([]CompletedOperation, error) {
	switch op.Kind {
	case KindMkdir:
		return executeMkdir(ctx, storage, op)
	case KindWrite:
		return executeWrite(ctx, storage, op, captureContent)
	case KindRename:
		return executeRename(ctx, storage, op, captureContent)
	case KindUnlink:
		return executeDelete(ctx, storage, op, captureContent)
	case KindRm:
		return executeDelete(ctx, storage, op, captureContent)
	case KindRmdir:
		return executeRmdir(ctx, storage, op)
	default:
		return nil, errkind.New(errkind.Invalid, "execute", op.targetPath(), fmt.Errorf("unknown operation kind"))
	}
}

func executeMkdir(ctx context.Context, storage Storage, op Operation) ([]CompletedOperation, error) {
	m, ok := storage.(MkdirCapable)
	if !ok {
		return nil, nil // backend has no directory concept; the step is a no-op
	}
	if err := m.Mkdir(ctx, op.Path, op.MkdirOpts); err != nil {
		return nil, err
	}
	return []CompletedOperation{{Op: op, CompletedAt: time.Now(), Restorable: true}}, nil
}

func executeWrite(ctx context.Context, storage Storage, op Operation, captureContent bool) ([]CompletedOperation, error) {
	existed := false
	var previous []byte
	captured := false

	if e, ok := storage.(Exister); ok {
		if ex, err := e.Exists(ctx, op.Path); err == nil {
			existed = ex
		}
	}
	if existed && captureContent {
		if r, ok := storage.(FileReader); ok {
			if data, err := r.ReadFile(ctx, op.Path); err == nil {
				previous = data
				captured = true
			}
		}
	}
	if op.WriteOpts.Flag == FlagWriteExcl && existed {
		return nil, errkind.New(errkind.Exists, "write", op.Path, fmt.Errorf("target exists and flag=wx"))
	}

	if err := storage.WriteFile(ctx, op.Path, op.Bytes, op.WriteOpts); err != nil {
		return nil, err
	}
	return []CompletedOperation{{
		Op: op, PreviousContent: previous, ContentCaptured: captured,
		Existed: existed, CompletedAt: time.Now(), Restorable: !existed || captured,
	}}, nil
}

func executeDelete(ctx context.Context, storage Storage, op Operation, captureContent bool) ([]CompletedOperation, error) {
	var previous []byte
	captured := false
	if captureContent {
		if r, ok := storage.(FileReader); ok {
			if data, err := r.ReadFile(ctx, op.Path); err == nil {
				previous = data
				captured = true
			}
		}
	}

	var err error
	if op.Kind == KindRm {
		_, err = deleteBest(ctx, storage, op.Path, op.RmOpts)
	} else {
		_, err = deleteBest(ctx, storage, op.Path, RmOptions{})
	}
	if err != nil {
		return nil, err
	}
	return []CompletedOperation{{
		Op: op, PreviousContent: previous, ContentCaptured: captured,
		CompletedAt: time.Now(), Restorable: captured,
	}}, nil
}

func executeRmdir(ctx context.Context, storage Storage, op Operation) ([]CompletedOperation, error) {
	r, ok := storage.(RmdirCapable)
	if !ok {
		return nil, nil
	}
	if err := r.Rmdir(ctx, op.Path, op.RmdirOpts); err != nil {
		return nil, err
	}
	// No restorable snapshot: rmdir cannot be undone.
	return []CompletedOperation{{Op: op, CompletedAt: time.Now(), Restorable: false}}, nil
}

// topmostMissingAncestor walks up from dir to find the highest directory
// that does not yet exist, i.e. the one whose removal undoes the entire
// chain a recursive mkdir is about to create. If storage cannot report
// existence, dir itself is returned (the prior, narrower behavior).
func topmostMissingAncestor(ctx context.Context, storage Storage, dir string) string {
	e, ok := storage.(Exister)
	if !ok {
		return dir
	}
	highest := dir
	for {
		parent := path.Dir(highest)
		if parent == highest {
			break
		}
		exists, err := e.Exists(ctx, parent)
		if err != nil || exists {
			break
		}
		highest = parent
	}
	return highest
}

func executeRename(ctx context.Context, storage Storage, op Operation, captureContent bool) ([]CompletedOperation, error) {
	renamer, ok := storage.(Renamer)
	if !ok {
		return nil, nil
	}

	var out []CompletedOperation

	if op.RenameOpts.Mkdirp && path.Dir(op.OldPath) != path.Dir(op.NewPath) {
		if m, ok := storage.(MkdirCapable); ok {
			destParent := path.Dir(op.NewPath)
			// The rollback target is the highest ancestor this mkdirp
			// call actually creates: removing just destParent would
			// leave any newly-created grandparents behind.
			createdRoot := topmostMissingAncestor(ctx, storage, destParent)
			if err := m.Mkdir(ctx, destParent, MkdirOptions{Recursive: true}); err != nil {
				return nil, err
			}
			out = append(out, CompletedOperation{
				Op:          Operation{Kind: KindMkdir, Path: createdRoot, synthetic: true},
				CompletedAt: time.Now(),
				Restorable:  true,
			})
		}
	}

	if !op.RenameOpts.Overwrite {
		if e, ok := storage.(Exister); ok {
			if exists, err := e.Exists(ctx, op.NewPath); err == nil && exists {
				return out, errkind.New(errkind.Exists, "rename", op.NewPath, fmt.Errorf("destination exists and overwrite=false"))
			}
		}
	}

	if err := renamer.Rename(ctx, op.OldPath, op.NewPath); err != nil {
		return out, err
	}
	out = append(out, CompletedOperation{Op: op, CompletedAt: time.Now(), Restorable: true})
	return out, nil
}
