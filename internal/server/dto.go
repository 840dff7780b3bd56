package server

import (
	"taskgate/internal/domain"
)

// Request payloads

type CreateProjectRequest struct {
	ID          string  `json:"id"`
	Description *string `json:"description,omitempty"`
}

type CreateEmployeeRequest struct {
	ID   *string `json:"id,omitempty"`
	Name string  `json:"name"`
	Role string  `json:"role,omitempty" enum:"employee,manager"`
}

type CreateWorkItemRequest struct {
	ID          *string `json:"id,omitempty"`
	EmployeeID  string  `json:"employee_id"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Priority    *string `json:"priority,omitempty" enum:"critical,major,medium,minor,low"`
	Deadline    *string `json:"deadline,omitempty" format:"date-time"`
}

type TransitionRequest struct {
	Status   string  `json:"status" enum:"todo,in_progress,review,done,rejected"`
	Comments *string `json:"comments,omitempty"`
}

// Response payloads

type ProjectResponse struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type EmployeeResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Role      string `json:"role" enum:"employee,manager"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type ScoreResponse struct {
	EmployeeID  string  `json:"employee_id"`
	Performance float64 `json:"performance"`
	Workload    float64 `json:"workload"`
	ActiveItems int     `json:"active_items"`
	CanAssign   bool    `json:"can_assign"`
	Eligible    bool    `json:"eligible"`
	UpdatedAt   string  `json:"updated_at,omitempty" format:"date-time"`
}

type WorkItemResponse struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Status      string  `json:"status" enum:"todo,in_progress,review,done,rejected,canceled"`
	AssigneeID  string  `json:"assignee_id"`
	CreatedBy   string  `json:"created_by"`
	Priority    string  `json:"priority" enum:"critical,major,medium,minor,low"`
	Deadline    *string `json:"deadline,omitempty" format:"date-time"`
	Comments    string  `json:"comments,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type paginatedWorkItems struct {
	Items      []WorkItemResponse `json:"items"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:          p.ID,
		Status:      p.Status,
		Description: p.Description,
		CreatedAt:   p.CreatedAt,
	}
}

func mapProjects(in []domain.Project) []ProjectResponse {
	out := make([]ProjectResponse, 0, len(in))
	for _, p := range in {
		out = append(out, projectResponse(p))
	}
	return out
}

func employeeResponse(e domain.Employee) EmployeeResponse {
	return EmployeeResponse{
		ID:        e.ID,
		Name:      e.Name,
		Role:      e.Role,
		CreatedAt: e.CreatedAt,
	}
}

func mapEmployees(in []domain.Employee) []EmployeeResponse {
	out := make([]EmployeeResponse, 0, len(in))
	for _, e := range in {
		out = append(out, employeeResponse(e))
	}
	return out
}

func workItemResponse(w domain.WorkItem) WorkItemResponse {
	return WorkItemResponse{
		ID:          w.ID,
		ProjectID:   w.ProjectID,
		Title:       w.Title,
		Description: w.Description,
		Status:      w.Status,
		AssigneeID:  w.AssigneeID,
		CreatedBy:   w.CreatedBy,
		Priority:    w.Priority,
		Deadline:    w.Deadline,
		Comments:    w.Comments,
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.UpdatedAt,
	}
}

func mapWorkItems(in []domain.WorkItem) []WorkItemResponse {
	out := make([]WorkItemResponse, 0, len(in))
	for _, w := range in {
		out = append(out, workItemResponse(w))
	}
	return out
}

func mapEvents(in []domain.Event) []EventResponse {
	out := make([]EventResponse, 0, len(in))
	for _, e := range in {
		out = append(out, EventResponse{
			ID:         e.ID,
			TS:         e.TS,
			Type:       e.Type,
			ProjectID:  e.ProjectID,
			EntityKind: e.EntityKind,
			EntityID:   e.EntityID,
			ActorID:    e.ActorID,
			Payload:    e.Payload,
		})
	}
	return out
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
