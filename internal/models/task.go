package models

import (
	"time"

	"github.com/google/uuid"
)

type TaskStatus string

const (
	StatusPending    TaskStatus = "PENDING"
	StatusInProgress TaskStatus = "IN_PROGRESS"
	StatusCompleted  TaskStatus = "COMPLETED"
	StatusOverdue    TaskStatus = "OVERDUE"
	StatusCancelled  TaskStatus = "CANCELLED"
)

// Terminal reports whether no further status transition is accepted.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Valid reports whether s is one of the five known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusOverdue, StatusCancelled:
		return true
	}
	return false
}

type TaskPriority string

const (
	PriorityLow      TaskPriority = "Low"
	PriorityMedium   TaskPriority = "Medium"
	PriorityHigh     TaskPriority = "High"
	PriorityCritical TaskPriority = "Critical"
)

func (p TaskPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Task is a unit of assigned work.
//
// Status is what is stored. EffectiveStatus is filled on every read and is
// the only place OVERDUE appears: it is derived from DueDate and never
// written back. CompletedAt is non-nil exactly when Status is COMPLETED.
type Task struct {
	ID              uuid.UUID    `json:"id"`
	Title           string       `json:"title"`
	Description     string       `json:"description"`
	Status          TaskStatus   `json:"status"`
	EffectiveStatus TaskStatus   `json:"effective_status"`
	Priority        TaskPriority `json:"priority"`
	AssignedTo      *uuid.UUID   `json:"assigned_to"`
	AssignedBy      *uuid.UUID   `json:"assigned_by"`
	CreatedBy       uuid.UUID    `json:"created_by"`
	DueDate         *time.Time   `json:"due_date"`
	CompletedAt     *time.Time   `json:"completed_at"`
	Watchers        []uuid.UUID  `json:"watchers"`
	Comments        []Comment    `json:"comments"`
	TimeLogs        []TimeLog    `json:"time_logs"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// ComputeEffectiveStatus returns OVERDUE when the due date has passed and the
// stored status is not terminal, otherwise the stored status.
func (t *Task) ComputeEffectiveStatus(now time.Time) TaskStatus {
	if t.DueDate != nil && t.DueDate.Before(now) && !t.Status.Terminal() {
		return StatusOverdue
	}
	return t.Status
}

// IsAssignee reports whether userID is the current assignee.
func (t *Task) IsAssignee(userID uuid.UUID) bool {
	return t.AssignedTo != nil && *t.AssignedTo == userID
}

func (t *Task) IsWatcher(userID uuid.UUID) bool {
	for _, w := range t.Watchers {
		if w == userID {
			return true
		}
	}
	return false
}

// Comment is append-only.
type Comment struct {
	ID        uuid.UUID `json:"id"`
	TaskID    uuid.UUID `json:"task_id"`
	AuthorID  uuid.UUID `json:"author_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// TimeLog is append-only and owned by exactly one user.
type TimeLog struct {
	ID       uuid.UUID `json:"id"`
	TaskID   uuid.UUID `json:"task_id"`
	UserID   uuid.UUID `json:"user_id"`
	Seconds  int       `json:"seconds"`
	LoggedAt time.Time `json:"logged_at"`
}
