package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pushkarjay/safecom/internal/models"
)

// Every method takes ctx first: all of these touch the network in the
// Postgres implementation, and the request's deadline must reach the query.
//
// Lookups by id return (nil, nil) when the row does not exist. The service
// layer decides whether that is a NotFound for the caller.

// UserRepository handles users and their push device tokens.
type UserRepository interface {
	Create(ctx context.Context, u *models.User) (*models.User, error)

	GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error)

	// GetByEmail is case-insensitive. Used for login.
	GetByEmail(ctx context.Context, email string) (*models.User, error)

	// AddDeviceToken adds token to the user's set. Adding a token that is
	// already present is a no-op, so concurrent logins need no coordination.
	AddDeviceToken(ctx context.Context, userID uuid.UUID, token string) error

	// RemoveDeviceToken filters token out of the set. No-op if absent.
	RemoveDeviceToken(ctx context.Context, userID uuid.UUID, token string) error

	SetActive(ctx context.Context, userID uuid.UUID, active bool) error

	TouchLogin(ctx context.Context, userID uuid.UUID, at time.Time) error
}

// TaskFilter narrows List. Zero values mean "no constraint".
type TaskFilter struct {
	// VisibleTo restricts to tasks the user created, is assigned, or watches.
	VisibleTo  *uuid.UUID
	Status     models.TaskStatus
	Priority   models.TaskPriority
	AssignedTo *uuid.UUID
	CreatedBy  *uuid.UUID
	// Query is a full-text search over title and description.
	Query  string
	Limit  int
	Offset int
}

// TaskChanges is the set of fields one update writes. Nil pointers leave
// the column untouched, which makes concurrent updates last-write-wins per
// field rather than per document.
type TaskChanges struct {
	Title       *string
	Description *string
	Priority    *models.TaskPriority
	Status      *models.TaskStatus
	// CompletedAt is written whenever Status is written.
	CompletedAt *time.Time

	Assignment  bool
	AssignedTo  *uuid.UUID
	AssignedBy  *uuid.UUID
	DueDateSet  bool
	DueDate     *time.Time
	WatchersSet bool
	Watchers    []uuid.UUID

	UpdatedAt time.Time
}

// TaskRepository handles task documents and their append-only children.
type TaskRepository interface {
	// Create inserts a task. When idempotencyKey is non-empty and the same
	// creator already used it, the existing task is returned with
	// created=false and nothing is written.
	Create(ctx context.Context, t *models.Task, idempotencyKey string) (task *models.Task, created bool, err error)

	// GetByID returns the task with comments, time logs and watchers.
	GetByID(ctx context.Context, taskID uuid.UUID) (*models.Task, error)

	// Update atomically applies changes to one task. Returns false if the
	// task no longer exists.
	Update(ctx context.Context, taskID uuid.UUID, changes TaskChanges) (bool, error)

	// Delete physically removes the task and its comments and time logs.
	Delete(ctx context.Context, taskID uuid.UUID) (bool, error)

	// List returns tasks newest first. Comments and time logs are not loaded.
	List(ctx context.Context, filter TaskFilter) ([]models.Task, error)

	AddComment(ctx context.Context, c *models.Comment) error

	AddTimeLog(ctx context.Context, l *models.TimeLog) error

	// AddWatcher and RemoveWatcher have set semantics.
	AddWatcher(ctx context.Context, taskID, userID uuid.UUID) error
	RemoveWatcher(ctx context.Context, taskID, userID uuid.UUID) error
}

// ConversationRepository handles conversations and per-participant state.
type ConversationRepository interface {
	Create(ctx context.Context, c *models.Conversation) (*models.Conversation, error)

	GetByID(ctx context.Context, conversationID uuid.UUID) (*models.Conversation, error)

	// FindDirect returns the DIRECT conversation between a and b, if any.
	FindDirect(ctx context.Context, a, b uuid.UUID) (*models.Conversation, error)

	IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)

	// ListForUser returns the user's conversations ordered by last activity.
	ListForUser(ctx context.Context, userID uuid.UUID, includeArchived bool, limit, offset int) ([]models.ConversationView, error)

	SetArchived(ctx context.Context, conversationID, userID uuid.UUID, archived bool) error
	SetMuted(ctx context.Context, conversationID, userID uuid.UUID, muted bool) error
}

// MessageRepository handles message documents, receipts and reactions.
//
// The methods that change what a conversation's summary shows (Create,
// Edit, SoftDelete, MarkRead) update the conversation's denormalized fields
// in the same transaction, so the summary never disagrees with the messages.
type MessageRepository interface {
	// Create appends a message and refreshes the conversation summary: last
	// message fields, and +1 unread for every participant except the sender.
	// Idempotency works as in TaskRepository.Create, keyed per sender.
	Create(ctx context.Context, m *models.Message, idempotencyKey string) (msg *models.Message, created bool, err error)

	// GetByID returns the message with receipts and reactions, deleted or not.
	GetByID(ctx context.Context, messageID int64) (*models.Message, error)

	// ListByConversation returns non-deleted messages, newest first, with
	// cursor pagination: before=0 starts from the latest message.
	ListByConversation(ctx context.Context, conversationID uuid.UUID, before int64, limit int) ([]models.Message, error)

	// MarkDelivered adds (userID, at) to DeliveredTo of every non-deleted
	// message in the conversation not sent by userID and not already
	// delivered to them. Returns how many messages changed.
	MarkDelivered(ctx context.Context, conversationID, userID uuid.UUID, at time.Time) (int64, error)

	// MarkRead is MarkDelivered for ReadBy, and also fills DeliveredTo for
	// any message it marks read. Resets the user's unread count to zero.
	MarkRead(ctx context.Context, conversationID, userID uuid.UUID, at time.Time) (int64, error)

	// Edit replaces content. OriginalContent is only set if it is still
	// empty, so it always holds the content from before the first edit.
	Edit(ctx context.Context, messageID int64, content string, at time.Time) (*models.Message, error)

	// SoftDelete hides the message from reads and recomputes the
	// conversation summary.
	SoftDelete(ctx context.Context, messageID int64, by uuid.UUID, at time.Time) error

	// SetReaction stores userID's reaction, replacing any previous one.
	SetReaction(ctx context.Context, messageID int64, userID uuid.UUID, emoji string, at time.Time) error

	RemoveReaction(ctx context.Context, messageID int64, userID uuid.UUID) error

	// Search runs a full-text query over messages in the user's conversations.
	Search(ctx context.Context, userID uuid.UUID, query string, limit int) ([]models.Message, error)

	// CountUnread counts non-deleted messages not sent by and not read by
	// userID, optionally restricted to one conversation.
	CountUnread(ctx context.Context, userID uuid.UUID, conversationID *uuid.UUID) (int, error)
}
