package domain

import "time"

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

// Valid reports whether s is one of the known task statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskInProgress, TaskCompleted:
		return true
	}
	return false
}

// Goal is a user objective that tasks are generated for.
type Goal struct {
	ID                   string    `json:"id"`
	UserID               string    `json:"user_id"`
	Title                string    `json:"title"`
	Description          string    `json:"description"`
	Icon                 string    `json:"icon,omitempty"`
	TargetOutcome        string    `json:"target_outcome"`
	ExistingCapabilities string    `json:"existing_capabilities"`
	DurationDays         int       `json:"duration_days"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
	Feasible             bool      `json:"feasible"`
	FeasibilityReason    string    `json:"feasibility_reason"`
}

// Task is one sequential step toward a goal.
type Task struct {
	ID          string     `json:"id"`
	GoalID      string     `json:"goal_id"`
	UserID      string     `json:"user_id"`
	Step        int        `json:"step"`
	TaskText    string     `json:"task_text"`
	Reason      string     `json:"reason"`
	Description string     `json:"description"`
	Status      TaskStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	Deadline    *time.Time `json:"deadline,omitempty"`
}
