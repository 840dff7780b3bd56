package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"taskgate/internal/events"
	"taskgate/internal/repo"
)

// RecordOutcome adjusts an employee's performance score for one work item
// outcome in its own transaction. The state machine uses the transactional
// variant below so the adjustment commits together with the status write.
func (e Engine) RecordOutcome(ctx context.Context, employeeID string, accepted bool, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.recordOutcomeTx(ctx, tx, employeeID, accepted); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "performance.outcome", "", "employee", employeeID, actorID, events.EventPayload{
		"accepted": accepted,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// recordOutcomeTx applies the reward/penalty accounting. A rejection resets
// the streak and deducts the penalty; an acceptance advances the streak and
// pays the reward only when the streak wraps. Performance never leaves
// [0,100]. A missing profile is a logged no-op, not an error.
func (e Engine) recordOutcomeTx(ctx context.Context, tx *sql.Tx, employeeID string, accepted bool) error {
	if employeeID == "" {
		e.logger().Printf("performance: outcome for empty employee id ignored")
		return nil
	}
	profile, err := e.Repo.GetScoreProfileTx(ctx, tx, employeeID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			e.logger().Printf("performance: no score profile for employee %s; outcome ignored", employeeID)
			return nil
		}
		return err
	}
	scoring := e.scoring()
	if accepted {
		profile.Streak++
		if profile.Streak >= scoring.RewardStreak {
			profile.Streak = 0
			profile.Performance = clampScore(profile.Performance + scoring.RewardPoints)
		}
	} else {
		profile.Streak = 0
		profile.Performance = clampScore(profile.Performance - scoring.PenaltyPoints)
	}
	profile.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	return e.Repo.UpdateScoreProfileTx(ctx, tx, profile)
}

// IsEligibleForAssignment reports whether the employee's performance meets
// the assignment threshold. No profile means not eligible, not an error.
func (e Engine) IsEligibleForAssignment(ctx context.Context, employeeID string) (bool, error) {
	profile, err := e.Repo.GetScoreProfile(ctx, employeeID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return profile.Performance >= e.scoring().MinPerformance, nil
}

// ScoreOf returns the current performance score, or 0 without a profile.
func (e Engine) ScoreOf(ctx context.Context, employeeID string) (float64, error) {
	profile, err := e.Repo.GetScoreProfile(ctx, employeeID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return profile.Performance, nil
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
