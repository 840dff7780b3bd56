package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskgate/internal/domain"
	"taskgate/internal/events"
	"taskgate/internal/repo"
)

// NotEligibleError indicates the assignment target is not an employee.
type NotEligibleError struct {
	Role string
}

func (e NotEligibleError) Error() string {
	return fmt.Sprintf("role %s is not eligible for assignment", e.Role)
}

// CapacityError indicates the employee is at the active-item cap.
type CapacityError struct {
	Active int
	Limit  int
}

func (e CapacityError) Error() string {
	return fmt.Sprintf("employee at capacity: %d active items (limit %d)", e.Active, e.Limit)
}

// PerformanceError indicates the employee's score is below the threshold.
type PerformanceError struct {
	Score     float64
	Threshold float64
}

func (e PerformanceError) Error() string {
	return fmt.Sprintf("performance %.1f below assignment threshold %.1f", e.Score, e.Threshold)
}

// AuthorizeAssignment runs the admission checks without creating anything.
// Capacity is reported before performance so a double failure is stable.
func (e Engine) AuthorizeAssignment(ctx context.Context, employeeID string) error {
	emp, err := e.Repo.GetEmployee(ctx, employeeID)
	if err != nil {
		return err
	}
	if emp.Role != "employee" {
		return NotEligibleError{Role: emp.Role}
	}
	count, err := e.Repo.CountActiveItems(ctx, employeeID)
	if err != nil {
		return err
	}
	if max := e.capacity().MaxActiveItems; count >= max {
		return CapacityError{Active: count, Limit: max}
	}
	profile, err := e.Repo.GetScoreProfile(ctx, employeeID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return PerformanceError{Score: 0, Threshold: e.scoring().MinPerformance}
		}
		return err
	}
	if min := e.scoring().MinPerformance; profile.Performance < min {
		return PerformanceError{Score: profile.Performance, Threshold: min}
	}
	return nil
}

// AssignmentOptions are parameters for creating a work item.
type AssignmentOptions struct {
	ID          string
	ProjectID   string
	EmployeeID  string
	Title       string
	Description string
	Priority    string
	Deadline    string
	CreatedBy   string
}

// CreateAssignment admits and creates a work item as one unit of work: the
// capacity and performance checks, the insert and the workload recompute
// commit together or not at all.
func (e Engine) CreateAssignment(ctx context.Context, opts AssignmentOptions) (domain.WorkItem, error) {
	if opts.Title == "" {
		return domain.WorkItem{}, errors.New("title is required")
	}
	if opts.ProjectID == "" {
		return domain.WorkItem{}, errors.New("project is required")
	}
	if opts.EmployeeID == "" {
		return domain.WorkItem{}, errors.New("employee is required")
	}
	if opts.CreatedBy == "" {
		return domain.WorkItem{}, errors.New("creator is required")
	}
	if opts.Priority == "" {
		opts.Priority = "medium"
	}
	if err := validPriority(opts.Priority); err != nil {
		return domain.WorkItem{}, err
	}
	project, err := e.Repo.GetProject(ctx, opts.ProjectID)
	if err != nil {
		return domain.WorkItem{}, err
	}
	if project.Status != "active" {
		return domain.WorkItem{}, fmt.Errorf("project %s is not active", project.ID)
	}
	emp, err := e.Repo.GetEmployee(ctx, opts.EmployeeID)
	if err != nil {
		return domain.WorkItem{}, err
	}
	if emp.Role != "employee" {
		return domain.WorkItem{}, NotEligibleError{Role: emp.Role}
	}

	id := opts.ID
	now := e.now().UTC().Format(time.RFC3339)
	if id == "" {
		id = uuid.NewString()
	}
	item := domain.WorkItem{
		ID:          id,
		ProjectID:   opts.ProjectID,
		Title:       opts.Title,
		Description: opts.Description,
		Status:      StatusToDo,
		AssigneeID:  opts.EmployeeID,
		CreatedBy:   opts.CreatedBy,
		Priority:    opts.Priority,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if opts.Deadline != "" {
		if _, err := time.Parse(time.RFC3339, opts.Deadline); err != nil {
			return domain.WorkItem{}, fmt.Errorf("invalid deadline: %w", err)
		}
		item.Deadline = &opts.Deadline
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkItem{}, err
	}
	defer tx.Rollback()

	if err := e.authorizeTx(ctx, tx, opts.EmployeeID); err != nil {
		return domain.WorkItem{}, err
	}
	if err := e.Repo.InsertWorkItemTx(ctx, tx, item); err != nil {
		return domain.WorkItem{}, err
	}
	if err := e.recomputeWorkloadTx(ctx, tx, opts.EmployeeID); err != nil {
		return domain.WorkItem{}, err
	}
	if err := e.Events.Append(ctx, tx, "work_item.created", item.ProjectID, "work_item", item.ID, opts.CreatedBy, events.EventPayload{
		"title":       item.Title,
		"status":      item.Status,
		"assignee_id": item.AssigneeID,
	}); err != nil {
		return domain.WorkItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkItem{}, err
	}
	item.Version = 1
	return item, nil
}

// authorizeTx is the in-transaction variant of AuthorizeAssignment, so the
// admission check cannot race the insert it guards.
func (e Engine) authorizeTx(ctx context.Context, tx *sql.Tx, employeeID string) error {
	count, err := e.Repo.CountActiveItemsTx(ctx, tx, employeeID)
	if err != nil {
		return err
	}
	if max := e.capacity().MaxActiveItems; count >= max {
		return CapacityError{Active: count, Limit: max}
	}
	profile, err := e.Repo.GetScoreProfileTx(ctx, tx, employeeID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return PerformanceError{Score: 0, Threshold: e.scoring().MinPerformance}
		}
		return err
	}
	if min := e.scoring().MinPerformance; profile.Performance < min {
		return PerformanceError{Score: profile.Performance, Threshold: min}
	}
	return nil
}

func validPriority(p string) error {
	switch p {
	case "critical", "major", "medium", "minor", "low":
		return nil
	}
	return fmt.Errorf("invalid priority %s", p)
}
