package engine

import (
	"context"
	"fmt"
	"time"

	"taskgate/internal/domain"
	"taskgate/internal/engine/auth"
	"taskgate/internal/events"
)

// Work item statuses. canceled is recognized in data but has no inbound or
// outbound transitions here; it is reachable only by migration.
const (
	StatusToDo       = "todo"
	StatusInProgress = "in_progress"
	StatusReview     = "review"
	StatusDone       = "done"
	StatusRejected   = "rejected"
	StatusCanceled   = "canceled"
)

// InvalidTransitionError indicates a status pair outside the transition table.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %s to %s", e.From, e.To)
}

func ensureItemTransition(oldStatus, newStatus string) error {
	switch oldStatus {
	case StatusToDo:
		if newStatus == StatusInProgress {
			return nil
		}
	case StatusInProgress:
		if newStatus == StatusReview {
			return nil
		}
	case StatusReview:
		if newStatus == StatusDone || newStatus == StatusInProgress {
			return nil
		}
	case StatusRejected:
		if newStatus == StatusInProgress {
			return nil
		}
	}
	return InvalidTransitionError{From: oldStatus, To: newStatus}
}

// isActive reports whether a status counts toward an employee's workload.
func isActive(status string) bool {
	switch status {
	case StatusToDo, StatusInProgress, StatusReview:
		return true
	}
	return false
}

// TransitionOptions carries the caller identity explicitly; the engine never
// consults ambient session state for authorization.
type TransitionOptions struct {
	WorkItemID     string
	NewStatus      string
	ActorID        string
	ActorIsManager bool
	Comments       *string
}

// RequestTransition validates and applies one status transition, then
// settles the assignee's scores inside the same transaction. Checks run in a
// fixed order: existence, authentication, transition legality, then
// role/identity authorization.
func (e Engine) RequestTransition(ctx context.Context, opts TransitionOptions) (domain.WorkItem, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkItem{}, err
	}
	defer tx.Rollback()

	item, err := e.Repo.GetWorkItemTx(ctx, tx, opts.WorkItemID)
	if err != nil {
		return item, err
	}
	if opts.ActorID == "" {
		return item, auth.UnauthenticatedError{}
	}
	isAssignee := item.AssigneeID == opts.ActorID
	if err := ensureItemTransition(item.Status, opts.NewStatus); err != nil {
		return item, err
	}
	if opts.NewStatus == StatusDone && !opts.ActorIsManager {
		return item, auth.ForbiddenError{Reason: "only a manager may mark an item done"}
	}
	if opts.NewStatus == StatusInProgress && !isAssignee {
		return item, auth.ForbiddenError{Reason: "only the assignee may start or resume work"}
	}
	if opts.NewStatus == StatusReview && !isAssignee {
		return item, auth.ForbiddenError{Reason: "only the assignee may submit for review"}
	}

	oldStatus := item.Status
	item.Status = opts.NewStatus
	if opts.Comments != nil {
		item.Comments = *opts.Comments
	}
	item.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateWorkItemTx(ctx, tx, item); err != nil {
		return item, err
	}
	item.Version++

	if outcome, isOutcome := outcomeFor(oldStatus, opts.NewStatus); isOutcome {
		if err := e.recordOutcomeTx(ctx, tx, item.AssigneeID, outcome); err != nil {
			return item, err
		}
	}
	if isActive(oldStatus) != isActive(opts.NewStatus) {
		if err := e.recomputeWorkloadTx(ctx, tx, item.AssigneeID); err != nil {
			return item, err
		}
	}
	if err := e.Events.Append(ctx, tx, "work_item.transitioned", item.ProjectID, "work_item", item.ID, opts.ActorID, events.EventPayload{
		"from_status": oldStatus,
		"to_status":   item.Status,
	}); err != nil {
		return item, err
	}
	if err := tx.Commit(); err != nil {
		return item, err
	}
	return item, nil
}

// outcomeFor maps a transition to a performance outcome. Done counts as an
// acceptance; rejection, or a manager sending a reviewed item back to
// in_progress, counts as a rejection-equivalent outcome.
func outcomeFor(oldStatus, newStatus string) (accepted bool, isOutcome bool) {
	switch {
	case newStatus == StatusDone:
		return true, true
	case newStatus == StatusRejected:
		return false, true
	case newStatus == StatusInProgress && oldStatus == StatusReview:
		return false, true
	}
	return false, false
}
