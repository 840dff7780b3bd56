package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"taskgate/internal/repo"
)

// ActiveCount counts the employee's work items in the active status set.
func (e Engine) ActiveCount(ctx context.Context, employeeID string) (int, error) {
	return e.Repo.CountActiveItems(ctx, employeeID)
}

// CanAssign reports whether the employee is below the active-item cap.
func (e Engine) CanAssign(ctx context.Context, employeeID string) (bool, error) {
	count, err := e.Repo.CountActiveItems(ctx, employeeID)
	if err != nil {
		return false, err
	}
	return count < e.capacity().MaxActiveItems, nil
}

// Recompute refreshes the cached workload percentage from the active item
// count in its own transaction.
func (e Engine) Recompute(ctx context.Context, employeeID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.recomputeWorkloadTx(ctx, tx, employeeID); err != nil {
		return err
	}
	return tx.Commit()
}

// recomputeWorkloadTx derives workload as activeCount/cap*100. Counts cannot
// exceed the cap once admission control holds, but the clamp guards against
// data drift. A missing profile is a logged no-op.
func (e Engine) recomputeWorkloadTx(ctx context.Context, tx *sql.Tx, employeeID string) error {
	profile, err := e.Repo.GetScoreProfileTx(ctx, tx, employeeID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			e.logger().Printf("capacity: no score profile for employee %s; recompute skipped", employeeID)
			return nil
		}
		return err
	}
	count, err := e.Repo.CountActiveItemsTx(ctx, tx, employeeID)
	if err != nil {
		return err
	}
	max := e.capacity().MaxActiveItems
	workload := float64(count) / float64(max) * 100
	if workload > 100 {
		workload = 100
	}
	profile.Workload = workload
	profile.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	return e.Repo.UpdateScoreProfileTx(ctx, tx, profile)
}
