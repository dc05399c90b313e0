package txn

import (
	"context"
	"time"

	"github.com/fsxcore/tieredfs/logger"
)

// CompletedOperation is the undo record captured during execution of one
// Operation. It carries everything rollback needs to reverse the
// op; its lifetime is created-on-success, consumed-only-on-rollback of
// the same Transaction.
type CompletedOperation struct {
	Op              Operation
	PreviousContent []byte
	ContentCaptured bool
	Existed         bool
	CompletedAt     time.Time
	// Restorable is false for ops with no undo action at all (rmdir, or a
	// destructive delete whose previous content could not be captured);
	// rollback logs and skips these instead of attempting an inverse.
	Restorable bool
}

// RollbackStep is one entry of a RollbackSummary: the completed op being
// undone, whether its inverse ran, and any error it produced.
type RollbackStep struct {
	Completed  CompletedOperation
	Attempted  bool
	Restorable bool
	Err        error
}

// RollbackSummary is the per-step record of an execution's undo pass
//, populated only when a Transaction rolls back.
type RollbackSummary struct {
	Steps []RollbackStep
}

// Errors returns every rollback step's error, in rollback order, for
// building the Aggregate error.
func (s *RollbackSummary) Errors() []error {
	var out []error
	for _, step := range s.Steps {
		if step.Err != nil {
			out = append(out, step.Err)
		}
	}
	return out
}

// rollback replays completed in reverse order with each op's inverse
// action, best-effort: a step's failure is recorded but
// does not stop the remaining steps.
func rollback(ctx context.Context, storage Storage, completed []CompletedOperation) *RollbackSummary {
	summary := &RollbackSummary{}
	for i := len(completed) - 1; i >= 0; i-- {
		done := completed[i]
		step := RollbackStep{Completed: done, Restorable: done.Restorable}

		if !done.Restorable {
			logger.WithOp(done.Op.Kind.String(), done.Op.targetPath()).Warn("rollback: cannot restore, skipping")
			summary.Steps = append(summary.Steps, step)
			continue
		}

		step.Attempted = true
		step.Err = invert(ctx, storage, done)
		if step.Err != nil {
			logger.WithOp(done.Op.Kind.String(), done.Op.targetPath()).Errorf("rollback step failed: %v", step.Err)
		}
		summary.Steps = append(summary.Steps, step)
	}
	return summary
}

// invert applies the inverse of one completed operation.
func invert(ctx context.Context, storage Storage, done CompletedOperation) error {
	op := done.Op
	switch op.Kind {
	case KindWrite:
		if done.Existed && done.ContentCaptured {
			return storage.WriteFile(ctx, op.Path, done.PreviousContent, op.WriteOpts)
		}
		// !Existed: delete the file we created.
		_, err := deleteBest(ctx, storage, op.Path, RmOptions{Force: true})
		return err

	case KindUnlink, KindRm:
		if !done.ContentCaptured {
			return nil // unreachable: Restorable is false in this case
		}
		return storage.WriteFile(ctx, op.Path, done.PreviousContent, WriteOptions{})

	case KindRename:
		if op.synthetic {
			return nil
		}
		if r, ok := storage.(Renamer); ok {
			return r.Rename(ctx, op.NewPath, op.OldPath)
		}
		return nil

	case KindMkdir:
		target := op.Path
		if r, ok := storage.(RmdirCapable); ok {
			if err := r.Rmdir(ctx, target, RmdirOptions{Recursive: true}); err == nil {
				return nil
			}
		}
		_, err := deleteBest(ctx, storage, target, RmOptions{Force: true, Recursive: true})
		return err

	default:
		return nil
	}
}
