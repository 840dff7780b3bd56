package domain

type Project struct {
	ID          string `json:"id"`
	Status      string `json:"status" enum:"active,paused,archived"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Employee struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Role      string `json:"role" enum:"employee,manager"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// ScoreProfile holds the two governance scores for one employee.
// Performance and Workload stay in [0,100]; Streak wraps at the configured
// reward streak length. Version backs optimistic locking.
type ScoreProfile struct {
	EmployeeID  string  `json:"employee_id"`
	Performance float64 `json:"performance"`
	Workload    float64 `json:"workload"`
	Streak      int     `json:"streak"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
	Version     int64   `json:"-"`
}

type WorkItem struct {
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
	Version     int64   `json:"-"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
