package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"taskgate/internal/config"
	"taskgate/internal/domain"
	"taskgate/internal/engine/auth"
	"taskgate/internal/events"
	"taskgate/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Auth   auth.Service
	Config *config.Config
	Now    func() time.Time
	Log    *log.Logger
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Auth:   auth.Service{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *log.Logger {
	if e.Log != nil {
		return e.Log
	}
	return log.Default()
}

func (e Engine) scoring() config.Scoring {
	if e.Config != nil {
		return e.Config.Scoring
	}
	return config.Default("").Scoring
}

func (e Engine) capacity() config.Capacity {
	if e.Config != nil {
		return e.Config.Capacity
	}
	return config.Default("").Capacity
}

// InitProject creates a project with its default config seeded.
func (e Engine) InitProject(ctx context.Context, projectID, description, actorID string) (domain.Project, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p := domain.Project{
		ID:          projectID,
		Status:      "active",
		Description: description,
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO projects(id,status,description,created_at) VALUES (?,?,?,?)`,
		p.ID, p.Status, nullable(p.Description), p.CreatedAt); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Repo.UpsertProjectConfigTx(ctx, tx, p.ID, config.Default(p.ID)); err != nil {
		return domain.Project{}, fmt.Errorf("insert project config: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "project.init", p.ID, "project", p.ID, actorID, events.EventPayload{"status": p.Status}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// EmployeeCreateOptions are parameters for registering an employee or manager.
type EmployeeCreateOptions struct {
	ID      string
	Name    string
	Role    string
	ActorID string
}

// CreateEmployee registers an employee and, for role employee, the score
// profile it owns: performance starts at 100, workload at 0, streak at 0.
func (e Engine) CreateEmployee(ctx context.Context, opts EmployeeCreateOptions) (domain.Employee, error) {
	if opts.Name == "" {
		return domain.Employee{}, errors.New("name is required")
	}
	if opts.Role == "" {
		opts.Role = "employee"
	}
	if opts.Role != "employee" && opts.Role != "manager" {
		return domain.Employee{}, fmt.Errorf("invalid role %s", opts.Role)
	}
	id := opts.ID
	now := e.now().UTC().Format(time.RFC3339)
	if id == "" {
		id = uuid.NewString()
	}
	emp := domain.Employee{
		ID:        id,
		Name:      opts.Name,
		Role:      opts.Role,
		CreatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Employee{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertEmployeeTx(ctx, tx, emp); err != nil {
		return domain.Employee{}, err
	}
	if emp.Role == "employee" {
		profile := domain.ScoreProfile{
			EmployeeID:  emp.ID,
			Performance: 100,
			Workload:    0,
			Streak:      0,
			UpdatedAt:   now,
		}
		if err := e.Repo.InsertScoreProfileTx(ctx, tx, profile); err != nil {
			return domain.Employee{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "employee.created", "", "employee", emp.ID, opts.ActorID, events.EventPayload{"role": emp.Role}); err != nil {
		return domain.Employee{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Employee{}, err
	}
	return emp, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
