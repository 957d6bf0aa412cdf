package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pushkarjay/safecom/internal/models"
	"github.com/pushkarjay/safecom/internal/repository"
)

type TaskStore struct {
	db *DB
}

func NewTaskStore(db *DB) *TaskStore {
	return &TaskStore{db: db}
}

func (s *TaskStore) Create(ctx context.Context, t *models.Task, idempotencyKey string) (*models.Task, bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	key := idemKey{owner: t.CreatedBy, key: idempotencyKey}
	if idempotencyKey != "" {
		if id, ok := s.db.taskKeys[key]; ok {
			if existing, ok := s.db.tasks[id]; ok {
				return copyTask(existing), false, nil
			}
		}
	}

	c := copyTask(t)
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = c.CreatedAt
	s.db.tasks[c.ID] = c
	if idempotencyKey != "" {
		s.db.taskKeys[key] = c.ID
	}
	return copyTask(c), true, nil
}

func (s *TaskStore) GetByID(ctx context.Context, taskID uuid.UUID) (*models.Task, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	t, ok := s.db.tasks[taskID]
	if !ok {
		return nil, nil
	}
	return copyTask(t), nil
}

func (s *TaskStore) Update(ctx context.Context, taskID uuid.UUID, ch repository.TaskChanges) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	t, ok := s.db.tasks[taskID]
	if !ok {
		return false, nil
	}
	if ch.Title != nil {
		t.Title = *ch.Title
	}
	if ch.Description != nil {
		t.Description = *ch.Description
	}
	if ch.Priority != nil {
		t.Priority = *ch.Priority
	}
	if ch.Status != nil {
		t.Status = *ch.Status
		t.CompletedAt = ch.CompletedAt
	}
	if ch.Assignment {
		t.AssignedTo = ch.AssignedTo
		t.AssignedBy = ch.AssignedBy
	}
	if ch.DueDateSet {
		t.DueDate = ch.DueDate
	}
	if ch.WatchersSet {
		t.Watchers = slices.Clone(ch.Watchers)
	}
	t.UpdatedAt = ch.UpdatedAt
	return true, nil
}

func (s *TaskStore) Delete(ctx context.Context, taskID uuid.UUID) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, ok := s.db.tasks[taskID]; !ok {
		return false, nil
	}
	delete(s.db.tasks, taskID)
	for k, id := range s.db.taskKeys {
		if id == taskID {
			delete(s.db.taskKeys, k)
		}
	}
	return true, nil
}

func (s *TaskStore) List(ctx context.Context, f repository.TaskFilter) ([]models.Task, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	out := make([]models.Task, 0)
	for _, t := range s.db.tasks {
		if !matchTask(t, f) {
			continue
		}
		c := copyTask(t)
		c.Comments = []models.Comment{}
		c.TimeLogs = []models.TimeLog{}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []models.Task{}, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matchTask(t *models.Task, f repository.TaskFilter) bool {
	if f.VisibleTo != nil {
		u := *f.VisibleTo
		if t.CreatedBy != u && !t.IsAssignee(u) && !t.IsWatcher(u) {
			return false
		}
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Priority != "" && t.Priority != f.Priority {
		return false
	}
	if f.AssignedTo != nil && !t.IsAssignee(*f.AssignedTo) {
		return false
	}
	if f.CreatedBy != nil && t.CreatedBy != *f.CreatedBy {
		return false
	}
	if f.Query != "" {
		return matchWords(t.Title+" "+t.Description, f.Query)
	}
	return true
}

// matchWords approximates full-text search: every query word must appear.
func matchWords(text, query string) bool {
	text = strings.ToLower(text)
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if !strings.Contains(text, w) {
			return false
		}
	}
	return true
}

func (s *TaskStore) AddComment(ctx context.Context, c *models.Comment) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	t, ok := s.db.tasks[c.TaskID]
	if !ok {
		return nil
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	t.Comments = append(t.Comments, *c)
	return nil
}

func (s *TaskStore) AddTimeLog(ctx context.Context, l *models.TimeLog) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	t, ok := s.db.tasks[l.TaskID]
	if !ok {
		return nil
	}
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	t.TimeLogs = append(t.TimeLogs, *l)
	return nil
}

func (s *TaskStore) AddWatcher(ctx context.Context, taskID, userID uuid.UUID) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if t, ok := s.db.tasks[taskID]; ok && !t.IsWatcher(userID) {
		t.Watchers = append(t.Watchers, userID)
	}
	return nil
}

func (s *TaskStore) RemoveWatcher(ctx context.Context, taskID, userID uuid.UUID) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if t, ok := s.db.tasks[taskID]; ok {
		t.Watchers = slices.DeleteFunc(t.Watchers, func(w uuid.UUID) bool { return w == userID })
	}
	return nil
}
