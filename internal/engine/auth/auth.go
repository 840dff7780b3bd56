package auth

import (
	"context"
	"database/sql"
)

// UnauthenticatedError indicates the caller supplied no identity.
type UnauthenticatedError struct{}

func (e UnauthenticatedError) Error() string {
	return "caller identity required"
}

// ForbiddenError indicates a role or identity rule blocked the operation.
type ForbiddenError struct {
	Reason string
}

func (e ForbiddenError) Error() string {
	return e.Reason
}

// Service answers role questions against the employees table.
type Service struct {
	DB *sql.DB
}

// ActorIsManager reports whether the actor is a registered manager.
// Unknown actors are simply not managers.
func (s Service) ActorIsManager(ctx context.Context, actorID string) (bool, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT role FROM employees WHERE id=?`, actorID)
	var role string
	err := row.Scan(&role)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return role == "manager", nil
}

// ActorRole returns the actor's role, or empty when unknown.
func (s Service) ActorRole(ctx context.Context, actorID string) (string, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT role FROM employees WHERE id=?`, actorID)
	var role string
	err := row.Scan(&role)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return role, err
}
