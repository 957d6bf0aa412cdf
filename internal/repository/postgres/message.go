package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pushkarjay/safecom/internal/models"
)

type MessageStore struct {
	pool *pgxpool.Pool
}

func NewMessageStore(pool *pgxpool.Pool) *MessageStore {
	return &MessageStore{pool: pool}
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const messageColumns = `m.id, m.conversation_id, c.type, m.sender_id, m.recipient_id, m.content,
	m.message_type, m.priority, m.reply_to, m.related_task, m.attachments,
	m.is_edited, m.edited_at, m.original_content, m.is_deleted, m.deleted_at, m.deleted_by, m.created_at`

const messageFrom = ` FROM messages m JOIN conversations c ON c.id = m.conversation_id`

func scanMessage(row pgx.Row) (*models.Message, error) {
	var m models.Message
	var attachments []byte
	err := row.Scan(
		&m.ID,
		&m.ConversationID,
		&m.ConversationType,
		&m.SenderID,
		&m.RecipientID,
		&m.Content,
		&m.MessageType,
		&m.Priority,
		&m.ReplyTo,
		&m.RelatedTask,
		&attachments,
		&m.IsEdited,
		&m.EditedAt,
		&m.OriginalContent,
		&m.IsDeleted,
		&m.DeletedAt,
		&m.DeletedBy,
		&m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(attachments, &m.Attachments); err != nil {
		return nil, fmt.Errorf("decode attachments: %w", err)
	}
	if m.Attachments == nil {
		m.Attachments = []models.Attachment{}
	}
	m.ReadBy = []models.Receipt{}
	m.DeliveredTo = []models.Receipt{}
	m.Reactions = []models.Reaction{}
	return &m, nil
}

// queryMessages runs a message query and loads receipts and reactions for
// the whole page in two extra round trips.
func queryMessages(ctx context.Context, q querier, query string, args ...any) ([]models.Message, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	msgs := make([]models.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	if len(msgs) == 0 {
		return msgs, nil
	}

	index := make(map[int64]*models.Message, len(msgs))
	ids := make([]int64, len(msgs))
	for i := range msgs {
		ids[i] = msgs[i].ID
		index[msgs[i].ID] = &msgs[i]
	}

	rrows, err := q.Query(ctx, `
		SELECT message_id, user_id, kind, at FROM message_receipts
		WHERE message_id = ANY($1) ORDER BY at, user_id`, ids)
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}
	defer rrows.Close()
	for rrows.Next() {
		var id int64
		var kind string
		var r models.Receipt
		if err := rrows.Scan(&id, &r.UserID, &kind, &r.At); err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		m := index[id]
		if kind == "read" {
			m.ReadBy = append(m.ReadBy, r)
		} else {
			m.DeliveredTo = append(m.DeliveredTo, r)
		}
	}
	if err := rrows.Err(); err != nil {
		return nil, fmt.Errorf("iterate receipts: %w", err)
	}

	xrows, err := q.Query(ctx, `
		SELECT message_id, user_id, emoji, reacted_at FROM message_reactions
		WHERE message_id = ANY($1) ORDER BY reacted_at, user_id`, ids)
	if err != nil {
		return nil, fmt.Errorf("query reactions: %w", err)
	}
	defer xrows.Close()
	for xrows.Next() {
		var id int64
		var r models.Reaction
		if err := xrows.Scan(&id, &r.UserID, &r.Emoji, &r.ReactedAt); err != nil {
			return nil, fmt.Errorf("scan reaction: %w", err)
		}
		index[id].Reactions = append(index[id].Reactions, r)
	}
	if err := xrows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reactions: %w", err)
	}
	return msgs, nil
}

func getMessage(ctx context.Context, q querier, messageID int64) (*models.Message, error) {
	msgs, err := queryMessages(ctx, q, `SELECT `+messageColumns+messageFrom+` WHERE m.id = $1`, messageID)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[0], nil
}

func (s *MessageStore) Create(ctx context.Context, m *models.Message, idempotencyKey string) (*models.Message, bool, error) {
	attachments := m.Attachments
	if attachments == nil {
		attachments = []models.Attachment{}
	}
	encoded, err := json.Marshal(attachments)
	if err != nil {
		return nil, false, fmt.Errorf("encode attachments: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// bigserial assigns the id, so ids within a conversation follow commit
	// order of the inserts.
	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO messages (conversation_id, sender_id, recipient_id, content, message_type,
			priority, reply_to, related_task, attachments, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT ON CONSTRAINT messages_idempotency DO NOTHING
		RETURNING id`,
		m.ConversationID, m.SenderID, m.RecipientID, m.Content, m.MessageType,
		m.Priority, m.ReplyTo, m.RelatedTask, encoded, nullIfEmpty(idempotencyKey), m.CreatedAt,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		tx.Rollback(ctx)
		var existing int64
		err := s.pool.QueryRow(ctx,
			`SELECT id FROM messages WHERE sender_id = $1 AND idempotency_key = $2`,
			m.SenderID, idempotencyKey).Scan(&existing)
		if err != nil {
			return nil, false, fmt.Errorf("get message by idempotency key: %w", err)
		}
		msg, err := getMessage(ctx, s.pool, existing)
		return msg, false, err
	}
	if err != nil {
		return nil, false, fmt.Errorf("insert message: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE conversations
		SET last_message_id = $2, last_message = $3, last_message_at = $4, last_sender_id = $5
		WHERE id = $1`,
		m.ConversationID, id, m.Content, m.CreatedAt, m.SenderID)
	if err != nil {
		return nil, false, fmt.Errorf("update conversation summary: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE conversation_participants
		SET unread_count = unread_count + 1, archived = false
		WHERE conversation_id = $1 AND user_id <> $2`,
		m.ConversationID, m.SenderID)
	if err != nil {
		return nil, false, fmt.Errorf("bump unread counts: %w", err)
	}

	msg, err := getMessage(ctx, tx, id)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit message: %w", err)
	}
	return msg, true, nil
}

// refreshSummary recomputes the conversation's last-message fields and every
// participant's unread count from the messages table.
func refreshSummary(ctx context.Context, q querier, conversationID uuid.UUID) error {
	_, err := q.Exec(ctx, `
		UPDATE conversations c
		SET last_message_id = l.id,
		    last_message = COALESCE(l.content, ''),
		    last_message_at = l.created_at,
		    last_sender_id = l.sender_id
		FROM (SELECT $1::uuid AS cid) k
		LEFT JOIN LATERAL (
			SELECT id, content, created_at, sender_id FROM messages
			WHERE conversation_id = k.cid AND NOT is_deleted
			ORDER BY id DESC LIMIT 1
		) l ON true
		WHERE c.id = k.cid`, conversationID)
	if err != nil {
		return fmt.Errorf("refresh conversation summary: %w", err)
	}

	_, err = q.Exec(ctx, `
		UPDATE conversation_participants p
		SET unread_count = (
			SELECT count(*) FROM messages m
			WHERE m.conversation_id = p.conversation_id
			  AND NOT m.is_deleted
			  AND m.sender_id <> p.user_id
			  AND NOT EXISTS (
				SELECT 1 FROM message_receipts r
				WHERE r.message_id = m.id AND r.user_id = p.user_id AND r.kind = 'read'
			  )
		)
		WHERE p.conversation_id = $1`, conversationID)
	if err != nil {
		return fmt.Errorf("refresh unread counts: %w", err)
	}
	return nil
}

func (s *MessageStore) GetByID(ctx context.Context, messageID int64) (*models.Message, error) {
	return getMessage(ctx, s.pool, messageID)
}

func (s *MessageStore) ListByConversation(ctx context.Context, conversationID uuid.UUID, before int64, limit int) ([]models.Message, error) {
	// before=0 is the first page. id is the cursor because it is the
	// conversation's total order.
	query := `SELECT ` + messageColumns + messageFrom + `
		WHERE m.conversation_id = $1 AND NOT m.is_deleted AND ($2 = 0 OR m.id < $2)
		ORDER BY m.id DESC
		LIMIT $3`

	if limit <= 0 {
		limit = 50
	}
	return queryMessages(ctx, s.pool, query, conversationID, before, limit)
}

const insertReceipts = `
	INSERT INTO message_receipts (message_id, user_id, kind, at)
	SELECT m.id, $2, $4, $3 FROM messages m
	WHERE m.conversation_id = $1 AND NOT m.is_deleted AND m.sender_id <> $2
	ON CONFLICT DO NOTHING`

func (s *MessageStore) MarkDelivered(ctx context.Context, conversationID, userID uuid.UUID, at time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, insertReceipts, conversationID, userID, at, "delivered")
	if err != nil {
		return 0, fmt.Errorf("mark delivered: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *MessageStore) MarkRead(ctx context.Context, conversationID, userID uuid.UUID, at time.Time) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Delivered first, in the same transaction, so a read receipt never
	// exists without its delivered receipt.
	if _, err := tx.Exec(ctx, insertReceipts, conversationID, userID, at, "delivered"); err != nil {
		return 0, fmt.Errorf("mark delivered: %w", err)
	}
	tag, err := tx.Exec(ctx, insertReceipts, conversationID, userID, at, "read")
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE conversation_participants SET unread_count = 0
		WHERE conversation_id = $1 AND user_id = $2`, conversationID, userID)
	if err != nil {
		return 0, fmt.Errorf("reset unread count: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit read: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *MessageStore) Edit(ctx context.Context, messageID int64, content string, at time.Time) (*models.Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var conversationID uuid.UUID
	err = tx.QueryRow(ctx, `
		UPDATE messages
		SET original_content = COALESCE(original_content, content),
		    content = $2, is_edited = true, edited_at = $3
		WHERE id = $1
		RETURNING conversation_id`, messageID, content, at).Scan(&conversationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("edit message: %w", err)
	}
	if err := refreshSummary(ctx, tx, conversationID); err != nil {
		return nil, err
	}

	msg, err := getMessage(ctx, tx, messageID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit edit: %w", err)
	}
	return msg, nil
}

func (s *MessageStore) SoftDelete(ctx context.Context, messageID int64, by uuid.UUID, at time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var conversationID uuid.UUID
	err = tx.QueryRow(ctx, `
		UPDATE messages SET is_deleted = true, deleted_at = $2, deleted_by = $3
		WHERE id = $1 AND NOT is_deleted
		RETURNING conversation_id`, messageID, at, by).Scan(&conversationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("delete message: %w", err)
	}
	if err := refreshSummary(ctx, tx, conversationID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

func (s *MessageStore) SetReaction(ctx context.Context, messageID int64, userID uuid.UUID, emoji string, at time.Time) error {
	query := `
		INSERT INTO message_reactions (message_id, user_id, emoji, reacted_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (message_id, user_id) DO UPDATE
		SET emoji = EXCLUDED.emoji, reacted_at = EXCLUDED.reacted_at`

	if _, err := s.pool.Exec(ctx, query, messageID, userID, emoji, at); err != nil {
		return fmt.Errorf("set reaction: %w", err)
	}
	return nil
}

func (s *MessageStore) RemoveReaction(ctx context.Context, messageID int64, userID uuid.UUID) error {
	query := `DELETE FROM message_reactions WHERE message_id = $1 AND user_id = $2`
	if _, err := s.pool.Exec(ctx, query, messageID, userID); err != nil {
		return fmt.Errorf("remove reaction: %w", err)
	}
	return nil
}

func (s *MessageStore) Search(ctx context.Context, userID uuid.UUID, query string, limit int) ([]models.Message, error) {
	sql := `SELECT ` + messageColumns + messageFrom + `
		JOIN conversation_participants p ON p.conversation_id = m.conversation_id AND p.user_id = $1
		WHERE NOT m.is_deleted
		  AND to_tsvector('simple', m.content) @@ plainto_tsquery('simple', $2)
		ORDER BY m.id DESC
		LIMIT $3`

	if limit <= 0 {
		limit = 50
	}
	return queryMessages(ctx, s.pool, sql, userID, query, limit)
}

func (s *MessageStore) CountUnread(ctx context.Context, userID uuid.UUID, conversationID *uuid.UUID) (int, error) {
	query := `
		SELECT count(*) FROM messages m
		JOIN conversation_participants p ON p.conversation_id = m.conversation_id AND p.user_id = $1
		WHERE NOT m.is_deleted
		  AND m.sender_id <> $1
		  AND ($2::uuid IS NULL OR m.conversation_id = $2)
		  AND NOT EXISTS (
			SELECT 1 FROM message_receipts r
			WHERE r.message_id = m.id AND r.user_id = $1 AND r.kind = 'read'
		  )`

	var n int
	if err := s.pool.QueryRow(ctx, query, userID, conversationID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}
