package tasks

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pushkarjay/safecom/internal/apperr"
	"github.com/pushkarjay/safecom/internal/models"
)

const (
	maxTitleLen       = 200
	maxDescriptionLen = 2000
	maxCommentLen     = 2000
)

type CreateInput struct {
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Priority    models.TaskPriority `json:"priority"`
	AssignedTo  *uuid.UUID          `json:"assigned_to"`
	DueDate     *time.Time          `json:"due_date"`
	Watchers    []uuid.UUID         `json:"watchers"`
}

func (in *CreateInput) validate() error {
	var v apperr.Validation
	in.Title = strings.TrimSpace(in.Title)
	checkTitle(&v, in.Title)
	checkDescription(&v, in.Description)
	if in.Priority == "" {
		in.Priority = models.PriorityMedium
	}
	if !in.Priority.Valid() {
		v.Add("priority", "must be one of Low, Medium, High, Critical")
	}
	return v.Err()
}

// Patch is a partial update. Absent fields are left alone; AssignedTo and
// DueDate distinguish "absent" from an explicit null that clears them.
type Patch struct {
	Title       *string                    `json:"title"`
	Description *string                    `json:"description"`
	Priority    *models.TaskPriority       `json:"priority"`
	Status      *models.TaskStatus         `json:"status"`
	AssignedTo  models.Nullable[uuid.UUID] `json:"assigned_to"`
	DueDate     models.Nullable[time.Time] `json:"due_date"`
	Watchers    *[]uuid.UUID               `json:"watchers"`
}

func (p *Patch) validate() error {
	var v apperr.Validation
	if p.Title != nil {
		t := strings.TrimSpace(*p.Title)
		p.Title = &t
		checkTitle(&v, t)
	}
	if p.Description != nil {
		checkDescription(&v, *p.Description)
	}
	if p.Priority != nil && !p.Priority.Valid() {
		v.Add("priority", "must be one of Low, Medium, High, Critical")
	}
	if p.Status != nil {
		switch {
		case *p.Status == models.StatusOverdue:
			v.Add("status", "OVERDUE is derived from the due date and cannot be set")
		case !p.Status.Valid():
			v.Add("status", "unknown status")
		}
	}
	return v.Err()
}

func checkTitle(v *apperr.Validation, title string) {
	switch {
	case title == "":
		v.Add("title", "is required")
	case utf8.RuneCountInString(title) > maxTitleLen:
		v.Add("title", "must be at most 200 characters")
	}
}

func checkDescription(v *apperr.Validation, desc string) {
	if utf8.RuneCountInString(desc) > maxDescriptionLen {
		v.Add("description", "must be at most 2000 characters")
	}
}

// ListFilter is what a caller may filter on. Visibility is added by the
// manager from the caller's capabilities.
type ListFilter struct {
	Status     models.TaskStatus
	Priority   models.TaskPriority
	AssignedTo *uuid.UUID
	Query      string
	Limit      int
	Offset     int
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
