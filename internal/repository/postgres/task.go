package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pushkarjay/safecom/internal/models"
	"github.com/pushkarjay/safecom/internal/repository"
)

type TaskStore struct {
	pool *pgxpool.Pool
}

func NewTaskStore(pool *pgxpool.Pool) *TaskStore {
	return &TaskStore{pool: pool}
}

const taskColumns = `id, title, description, status, priority, assigned_to, assigned_by,
	created_by, due_date, completed_at, watchers, created_at, updated_at`

func scanTask(row pgx.Row) (*models.Task, error) {
	var t models.Task
	err := row.Scan(
		&t.ID,
		&t.Title,
		&t.Description,
		&t.Status,
		&t.Priority,
		&t.AssignedTo,
		&t.AssignedBy,
		&t.CreatedBy,
		&t.DueDate,
		&t.CompletedAt,
		&t.Watchers,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if t.Watchers == nil {
		t.Watchers = []uuid.UUID{}
	}
	t.Comments = []models.Comment{}
	t.TimeLogs = []models.TimeLog{}
	return &t, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *TaskStore) Create(ctx context.Context, t *models.Task, idempotencyKey string) (*models.Task, bool, error) {
	watchers := t.Watchers
	if watchers == nil {
		watchers = []uuid.UUID{}
	}

	// ON CONFLICT DO NOTHING returns no row when the key was used before.
	// That case falls through to the lookup below.
	query := `
		INSERT INTO tasks (title, description, status, priority, assigned_to, assigned_by,
			created_by, due_date, completed_at, watchers, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		ON CONFLICT ON CONSTRAINT tasks_idempotency DO NOTHING
		RETURNING ` + taskColumns

	created, err := scanTask(s.pool.QueryRow(ctx, query,
		t.Title, t.Description, t.Status, t.Priority, t.AssignedTo, t.AssignedBy,
		t.CreatedBy, t.DueDate, t.CompletedAt, watchers, nullIfEmpty(idempotencyKey), t.CreatedAt))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("insert task: %w", err)
	}

	existing, err := scanTask(s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE created_by = $1 AND idempotency_key = $2`,
		t.CreatedBy, idempotencyKey))
	if err != nil {
		return nil, false, fmt.Errorf("get task by idempotency key: %w", err)
	}
	return existing, false, nil
}

func (s *TaskStore) GetByID(ctx context.Context, taskID uuid.UUID) (*models.Task, error) {
	t, err := scanTask(s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, taskID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get task: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, task_id, author_id, content, created_at
		FROM task_comments WHERE task_id = $1 ORDER BY created_at, id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	t.Comments, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Comment, error) {
		var c models.Comment
		err := row.Scan(&c.ID, &c.TaskID, &c.AuthorID, &c.Content, &c.CreatedAt)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan comments: %w", err)
	}

	rows, err = s.pool.Query(ctx, `
		SELECT id, task_id, user_id, seconds, logged_at
		FROM task_time_logs WHERE task_id = $1 ORDER BY logged_at, id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list time logs: %w", err)
	}
	t.TimeLogs, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.TimeLog, error) {
		var l models.TimeLog
		err := row.Scan(&l.ID, &l.TaskID, &l.UserID, &l.Seconds, &l.LoggedAt)
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan time logs: %w", err)
	}
	return t, nil
}

// Update writes only the columns present in changes, in a single statement.
func (s *TaskStore) Update(ctx context.Context, taskID uuid.UUID, ch repository.TaskChanges) (bool, error) {
	sets := []string{"updated_at = $2"}
	args := []any{taskID, ch.UpdatedAt}
	set := func(column string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if ch.Title != nil {
		set("title", *ch.Title)
	}
	if ch.Description != nil {
		set("description", *ch.Description)
	}
	if ch.Priority != nil {
		set("priority", *ch.Priority)
	}
	if ch.Status != nil {
		set("status", *ch.Status)
		set("completed_at", ch.CompletedAt)
	}
	if ch.Assignment {
		set("assigned_to", ch.AssignedTo)
		set("assigned_by", ch.AssignedBy)
	}
	if ch.DueDateSet {
		set("due_date", ch.DueDate)
	}
	if ch.WatchersSet {
		watchers := ch.Watchers
		if watchers == nil {
			watchers = []uuid.UUID{}
		}
		set("watchers", watchers)
	}

	query := `UPDATE tasks SET ` + strings.Join(sets, ", ") + ` WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update task: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Delete removes the task. Comments and time logs go with it via ON DELETE CASCADE.
func (s *TaskStore) Delete(ctx context.Context, taskID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, taskID)
	if err != nil {
		return false, fmt.Errorf("delete task: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *TaskStore) List(ctx context.Context, f repository.TaskFilter) ([]models.Task, error) {
	var where []string
	var args []any
	cond := func(format string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(format, len(args)))
	}

	if f.VisibleTo != nil {
		args = append(args, *f.VisibleTo)
		n := len(args)
		where = append(where, fmt.Sprintf("(created_by = $%d OR assigned_to = $%d OR $%d = ANY(watchers))", n, n, n))
	}
	if f.Status != "" {
		cond("status = $%d", f.Status)
	}
	if f.Priority != "" {
		cond("priority = $%d", f.Priority)
	}
	if f.AssignedTo != nil {
		cond("assigned_to = $%d", *f.AssignedTo)
	}
	if f.CreatedBy != nil {
		cond("created_by = $%d", *f.CreatedBy)
	}
	if f.Query != "" {
		cond("to_tsvector('simple', title || ' ' || description) @@ plainto_tsquery('simple', $%d)", f.Query)
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]models.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

func (s *TaskStore) AddComment(ctx context.Context, c *models.Comment) error {
	query := `
		INSERT INTO task_comments (task_id, author_id, content, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	if err := s.pool.QueryRow(ctx, query, c.TaskID, c.AuthorID, c.Content, c.CreatedAt).Scan(&c.ID); err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *TaskStore) AddTimeLog(ctx context.Context, l *models.TimeLog) error {
	query := `
		INSERT INTO task_time_logs (task_id, user_id, seconds, logged_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	if err := s.pool.QueryRow(ctx, query, l.TaskID, l.UserID, l.Seconds, l.LoggedAt).Scan(&l.ID); err != nil {
		return fmt.Errorf("insert time log: %w", err)
	}
	return nil
}

func (s *TaskStore) AddWatcher(ctx context.Context, taskID, userID uuid.UUID) error {
	query := `
		UPDATE tasks SET watchers = array_append(watchers, $2)
		WHERE id = $1 AND NOT ($2 = ANY(watchers))`

	if _, err := s.pool.Exec(ctx, query, taskID, userID); err != nil {
		return fmt.Errorf("add watcher: %w", err)
	}
	return nil
}

func (s *TaskStore) RemoveWatcher(ctx context.Context, taskID, userID uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `UPDATE tasks SET watchers = array_remove(watchers, $2) WHERE id = $1`, taskID, userID); err != nil {
		return fmt.Errorf("remove watcher: %w", err)
	}
	return nil
}
