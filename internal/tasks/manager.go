// Package tasks enforces the task state machine and decides who hears about
// each change.
package tasks

import (
	"context"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pushkarjay/safecom/internal/apperr"
	"github.com/pushkarjay/safecom/internal/auth"
	"github.com/pushkarjay/safecom/internal/models"
	"github.com/pushkarjay/safecom/internal/notify"
	"github.com/pushkarjay/safecom/internal/realtime"
	"github.com/pushkarjay/safecom/internal/repository"
	"go.uber.org/zap"
)

// Notifier sends push notifications without making the caller wait.
type Notifier interface {
	Go(ctx context.Context, userIDs []uuid.UUID, ev notify.Event)
}

// Broadcaster publishes to connected clients.
type Broadcaster interface {
	Publish(ctx context.Context, topic string, ev realtime.Event)
}

type Manager struct {
	tasks       repository.TaskRepository
	users       repository.UserRepository
	notifier    Notifier
	broadcaster Broadcaster
	logger      *zap.Logger
	now         func() time.Time
}

func NewManager(
	tasks repository.TaskRepository,
	users repository.UserRepository,
	notifier Notifier,
	broadcaster Broadcaster,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		tasks:       tasks,
		users:       users,
		notifier:    notifier,
		broadcaster: broadcaster,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// present fills the read-time derived fields.
func (m *Manager) present(t *models.Task) *models.Task {
	t.EffectiveStatus = t.ComputeEffectiveStatus(m.now())
	return t
}

func (m *Manager) load(ctx context.Context, taskID uuid.UUID) (*models.Task, error) {
	t, err := m.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, apperr.Transient("load task", err)
	}
	if t == nil {
		return nil, apperr.NotFound("task %s not found", taskID)
	}
	return t, nil
}

func canView(t *models.Task, actor auth.Principal) bool {
	return t.CreatedBy == actor.UserID ||
		t.IsAssignee(actor.UserID) ||
		t.IsWatcher(actor.UserID) ||
		actor.Can(auth.CapViewAllTasks)
}

// checkAssignee verifies that assignee exists and is active.
func (m *Manager) checkAssignee(ctx context.Context, assignee uuid.UUID) error {
	u, err := m.users.GetByID(ctx, assignee)
	if err != nil {
		return apperr.Transient("load assignee", err)
	}
	if u == nil || !u.IsActive {
		return apperr.NotFound("user %s not found", assignee)
	}
	return nil
}

// audience is everyone with a stake in t except the actor: creator,
// assignee and watchers, each once.
func audience(t *models.Task, actor uuid.UUID) []uuid.UUID {
	ids := []uuid.UUID{t.CreatedBy}
	if t.AssignedTo != nil {
		ids = append(ids, *t.AssignedTo)
	}
	ids = append(ids, t.Watchers...)
	return slices.DeleteFunc(dedupe(ids), func(id uuid.UUID) bool { return id == actor })
}

// publish tells every stakeholder's open sessions, the actor's included,
// that the task changed.
func (m *Manager) publish(ctx context.Context, kind string, t *models.Task) {
	for _, id := range audience(t, uuid.Nil) {
		m.broadcaster.Publish(ctx, realtime.UserTopic(id), realtime.Event{Type: kind, Data: t})
	}
}

// CreateTask persists a PENDING task owned by actor. When idempotencyKey
// repeats an earlier call by the same actor, the earlier task is returned
// and nothing is notified again.
func (m *Manager) CreateTask(ctx context.Context, in CreateInput, actor auth.Principal, idempotencyKey string) (*models.Task, error) {
	if !actor.Can(auth.CapCreateTask) {
		return nil, apperr.Forbidden("role %s cannot create tasks", actor.Role)
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	if in.AssignedTo != nil {
		if err := m.checkAssignee(ctx, *in.AssignedTo); err != nil {
			return nil, err
		}
	}

	now := m.now()
	t := &models.Task{
		Title:       in.Title,
		Description: in.Description,
		Status:      models.StatusPending,
		Priority:    in.Priority,
		AssignedTo:  in.AssignedTo,
		CreatedBy:   actor.UserID,
		DueDate:     in.DueDate,
		Watchers:    dedupe(in.Watchers),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.AssignedTo != nil {
		t.AssignedBy = &actor.UserID
	}

	created, isNew, err := m.tasks.Create(ctx, t, idempotencyKey)
	if err != nil {
		return nil, apperr.Transient("create task", err)
	}
	if !isNew {
		m.logger.Info("task create replayed",
			zap.String("task_id", created.ID.String()),
			zap.String("idempotency_key", idempotencyKey),
		)
		return m.present(created), nil
	}

	m.logger.Info("task created",
		zap.String("task_id", created.ID.String()),
		zap.String("created_by", actor.UserID.String()),
	)
	if created.AssignedTo != nil && *created.AssignedTo != actor.UserID {
		m.notifier.Go(ctx, []uuid.UUID{*created.AssignedTo}, notify.TaskAssigned(created))
	}
	m.publish(ctx, realtime.EventTaskUpdated, created)
	return m.present(created), nil
}

// UpdateTask applies p on behalf of the creator or the current assignee.
// Notifications follow from the difference between the task as this call
// read it and the patch, so two racing updates may both notify.
func (m *Manager) UpdateTask(ctx context.Context, taskID uuid.UUID, p Patch, actor auth.Principal) (*models.Task, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	t, err := m.load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.CreatedBy != actor.UserID && !t.IsAssignee(actor.UserID) {
		return nil, apperr.Forbidden("only the creator or assignee can update this task")
	}

	now := m.now()
	ch := repository.TaskChanges{
		Title:       p.Title,
		Description: p.Description,
		Priority:    p.Priority,
		UpdatedAt:   now,
	}

	oldStatus := storedState(t.Status)
	statusChanged := p.Status != nil && *p.Status != oldStatus
	if statusChanged {
		if err := checkTransition(t.Status, *p.Status); err != nil {
			return nil, err
		}
		ch.Status = p.Status
		if *p.Status == models.StatusCompleted {
			ch.CompletedAt = &now
		}
	}

	var newAssignee *uuid.UUID
	if p.AssignedTo.Set && !sameAssignee(t.AssignedTo, p.AssignedTo.Value) {
		newAssignee = p.AssignedTo.Value
		if newAssignee != nil {
			if err := m.checkAssignee(ctx, *newAssignee); err != nil {
				return nil, err
			}
			ch.AssignedBy = &actor.UserID
		}
		ch.Assignment = true
		ch.AssignedTo = newAssignee
	}
	if p.DueDate.Set {
		ch.DueDateSet = true
		ch.DueDate = p.DueDate.Value
	}
	if p.Watchers != nil {
		ch.WatchersSet = true
		ch.Watchers = dedupe(*p.Watchers)
	}

	ok, err := m.tasks.Update(ctx, taskID, ch)
	if err != nil {
		return nil, apperr.Transient("update task", err)
	}
	if !ok {
		return nil, apperr.NotFound("task %s not found", taskID)
	}
	updated, err := m.load(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if statusChanged {
		m.logger.Info("task status changed",
			zap.String("task_id", taskID.String()),
			zap.String("from", string(oldStatus)),
			zap.String("to", string(*p.Status)),
		)
		m.notifier.Go(ctx, audience(updated, actor.UserID), notify.TaskStatusChanged(updated, oldStatus, *p.Status))
	}
	if newAssignee != nil {
		m.notifier.Go(ctx, []uuid.UUID{*newAssignee}, notify.TaskAssigned(updated))
	}
	m.publish(ctx, realtime.EventTaskUpdated, updated)
	return m.present(updated), nil
}

func sameAssignee(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// DeleteTask physically removes the task. Only its creator may do that.
func (m *Manager) DeleteTask(ctx context.Context, taskID uuid.UUID, actor auth.Principal) error {
	t, err := m.load(ctx, taskID)
	if err != nil {
		return err
	}
	if t.CreatedBy != actor.UserID {
		return apperr.Forbidden("only the creator can delete this task")
	}
	ok, err := m.tasks.Delete(ctx, taskID)
	if err != nil {
		return apperr.Transient("delete task", err)
	}
	if !ok {
		return apperr.NotFound("task %s not found", taskID)
	}

	m.logger.Info("task deleted", zap.String("task_id", taskID.String()))
	m.publish(ctx, realtime.EventTaskDeleted, t)
	return nil
}

func (m *Manager) GetTask(ctx context.Context, taskID uuid.UUID, actor auth.Principal) (*models.Task, error) {
	t, err := m.load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !canView(t, actor) {
		return nil, apperr.Forbidden("you cannot view this task")
	}
	return m.present(t), nil
}

// ListTasks returns tasks newest first. Without ViewAllTasks the caller
// only sees tasks they created, are assigned, or watch.
func (m *Manager) ListTasks(ctx context.Context, f ListFilter, actor auth.Principal) ([]models.Task, error) {
	var v apperr.Validation
	if f.Status != "" && !f.Status.Valid() {
		v.Add("status", "unknown status")
	}
	if f.Priority != "" && !f.Priority.Valid() {
		v.Add("priority", "unknown priority")
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	filter := repository.TaskFilter{
		Priority:   f.Priority,
		AssignedTo: f.AssignedTo,
		Query:      strings.TrimSpace(f.Query),
		Limit:      f.Limit,
		Offset:     f.Offset,
	}
	if !actor.Can(auth.CapViewAllTasks) {
		filter.VisibleTo = &actor.UserID
	}
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 50
	}
	// OVERDUE is not stored, so filtering on it means fetching the
	// non-terminal tasks and checking the due date here.
	overdue := f.Status == models.StatusOverdue
	if !overdue {
		filter.Status = f.Status
	}

	list, err := m.tasks.List(ctx, filter)
	if err != nil {
		return nil, apperr.Transient("list tasks", err)
	}
	out := make([]models.Task, 0, len(list))
	for i := range list {
		t := m.present(&list[i])
		if overdue && t.EffectiveStatus != models.StatusOverdue {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

// AddComment appends a comment and notifies the task's stakeholders.
func (m *Manager) AddComment(ctx context.Context, taskID uuid.UUID, content string, actor auth.Principal) (*models.Comment, error) {
	content = strings.TrimSpace(content)
	var v apperr.Validation
	switch {
	case content == "":
		v.Add("content", "is required")
	case utf8.RuneCountInString(content) > maxCommentLen:
		v.Add("content", "must be at most 2000 characters")
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	t, err := m.load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !canView(t, actor) {
		return nil, apperr.Forbidden("you cannot comment on this task")
	}

	c := &models.Comment{TaskID: taskID, AuthorID: actor.UserID, Content: content, CreatedAt: m.now()}
	if err := m.tasks.AddComment(ctx, c); err != nil {
		return nil, apperr.Transient("add comment", err)
	}

	m.notifier.Go(ctx, audience(t, actor.UserID), notify.TaskCommented(t, m.displayName(ctx, actor.UserID)))
	m.publish(ctx, realtime.EventTaskUpdated, t)
	return c, nil
}

func (m *Manager) displayName(ctx context.Context, userID uuid.UUID) string {
	u, err := m.users.GetByID(ctx, userID)
	if err != nil || u == nil || u.Name == "" {
		return "Someone"
	}
	return u.Name
}

// LogTime records seconds of work by the current assignee.
func (m *Manager) LogTime(ctx context.Context, taskID uuid.UUID, seconds int, actor auth.Principal) (*models.TimeLog, error) {
	if seconds < 1 {
		var v apperr.Validation
		v.Add("seconds", "must be at least 1")
		return nil, v.Err()
	}
	t, err := m.load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !t.IsAssignee(actor.UserID) {
		return nil, apperr.Forbidden("only the assignee can log time on this task")
	}

	l := &models.TimeLog{TaskID: taskID, UserID: actor.UserID, Seconds: seconds, LoggedAt: m.now()}
	if err := m.tasks.AddTimeLog(ctx, l); err != nil {
		return nil, apperr.Transient("log time", err)
	}
	return l, nil
}

// AddWatcher subscribes userID to the task's notifications. The creator
// and assignee may add anyone; anyone who can see the task may add
// themselves.
func (m *Manager) AddWatcher(ctx context.Context, taskID, userID uuid.UUID, actor auth.Principal) (*models.Task, error) {
	t, err := m.checkWatcherChange(ctx, taskID, userID, actor)
	if err != nil {
		return nil, err
	}
	u, err := m.users.GetByID(ctx, userID)
	if err != nil {
		return nil, apperr.Transient("load watcher", err)
	}
	if u == nil {
		return nil, apperr.NotFound("user %s not found", userID)
	}
	if t.IsWatcher(userID) {
		return m.present(t), nil
	}
	if err := m.tasks.AddWatcher(ctx, taskID, userID); err != nil {
		return nil, apperr.Transient("add watcher", err)
	}
	return m.reload(ctx, taskID)
}

func (m *Manager) RemoveWatcher(ctx context.Context, taskID, userID uuid.UUID, actor auth.Principal) (*models.Task, error) {
	t, err := m.checkWatcherChange(ctx, taskID, userID, actor)
	if err != nil {
		return nil, err
	}
	if !t.IsWatcher(userID) {
		return m.present(t), nil
	}
	if err := m.tasks.RemoveWatcher(ctx, taskID, userID); err != nil {
		return nil, apperr.Transient("remove watcher", err)
	}
	return m.reload(ctx, taskID)
}

func (m *Manager) checkWatcherChange(ctx context.Context, taskID, userID uuid.UUID, actor auth.Principal) (*models.Task, error) {
	t, err := m.load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	owner := t.CreatedBy == actor.UserID || t.IsAssignee(actor.UserID)
	self := userID == actor.UserID && canView(t, actor)
	if !owner && !self {
		return nil, apperr.Forbidden("you cannot change watchers of this task")
	}
	return t, nil
}

func (m *Manager) reload(ctx context.Context, taskID uuid.UUID) (*models.Task, error) {
	t, err := m.load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return m.present(t), nil
}
