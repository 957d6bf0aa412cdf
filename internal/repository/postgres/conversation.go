package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pushkarjay/safecom/internal/models"
)

type ConversationStore struct {
	pool *pgxpool.Pool
}

func NewConversationStore(pool *pgxpool.Pool) *ConversationStore {
	return &ConversationStore{pool: pool}
}

// conversationColumns selects a conversation with its participants in join
// order. The alias c must refer to the conversations table.
const conversationColumns = `c.id, c.type, c.title, c.related_task, c.created_by,
	c.last_message_id, c.last_message, c.last_message_at, c.last_sender_id, c.created_at,
	ARRAY(SELECT p.user_id FROM conversation_participants p
	      WHERE p.conversation_id = c.id ORDER BY p.position)`

func scanConversation(row pgx.Row, extra ...any) (*models.Conversation, error) {
	var c models.Conversation
	dest := []any{
		&c.ID,
		&c.Type,
		&c.Title,
		&c.RelatedTask,
		&c.CreatedBy,
		&c.LastMessageID,
		&c.LastMessage,
		&c.LastMessageAt,
		&c.LastSenderID,
		&c.CreatedAt,
		&c.Participants,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	c.IsGroup = c.Type != models.ConversationDirect
	if c.Participants == nil {
		c.Participants = []uuid.UUID{}
	}
	return &c, nil
}

// directKey orders the pair so (a, b) and (b, a) map to the same row.
func directKey(a, b uuid.UUID) string {
	x, y := a.String(), b.String()
	if y < x {
		x, y = y, x
	}
	return x + ":" + y
}

func (s *ConversationStore) Create(ctx context.Context, c *models.Conversation) (*models.Conversation, error) {
	var key *string
	if c.Type == models.ConversationDirect && len(c.Participants) == 2 {
		k := directKey(c.Participants[0], c.Participants[1])
		key = &k
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Two users opening a direct chat at the same time both reach this
	// insert. The loser gets no row back and returns the winner's row.
	var id uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO conversations (type, title, related_task, created_by, direct_key, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (direct_key) DO NOTHING
		RETURNING id`,
		c.Type, c.Title, c.RelatedTask, c.CreatedBy, key).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) && key != nil {
		tx.Rollback(ctx)
		return s.FindDirect(ctx, c.Participants[0], c.Participants[1])
	}
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}

	for i, userID := range c.Participants {
		_, err := tx.Exec(ctx, `
			INSERT INTO conversation_participants (conversation_id, user_id, position)
			VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING`, id, userID, i)
		if err != nil {
			return nil, fmt.Errorf("insert participant: %w", err)
		}
	}

	created, err := scanConversation(tx.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations c WHERE c.id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("reload conversation: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit conversation: %w", err)
	}
	return created, nil
}

func (s *ConversationStore) GetByID(ctx context.Context, conversationID uuid.UUID) (*models.Conversation, error) {
	c, err := scanConversation(s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations c WHERE c.id = $1`, conversationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

func (s *ConversationStore) FindDirect(ctx context.Context, a, b uuid.UUID) (*models.Conversation, error) {
	c, err := scanConversation(s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations c WHERE c.direct_key = $1`, directKey(a, b)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find direct conversation: %w", err)
	}
	return c, nil
}

func (s *ConversationStore) IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM conversation_participants
			WHERE conversation_id = $1 AND user_id = $2
		)`

	var exists bool
	if err := s.pool.QueryRow(ctx, query, conversationID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check participant: %w", err)
	}
	return exists, nil
}

func (s *ConversationStore) ListForUser(ctx context.Context, userID uuid.UUID, includeArchived bool, limit, offset int) ([]models.ConversationView, error) {
	query := `
		SELECT ` + conversationColumns + `, me.unread_count, me.archived, me.muted
		FROM conversations c
		JOIN conversation_participants me ON me.conversation_id = c.id AND me.user_id = $1
		WHERE ($2 OR NOT me.archived)
		ORDER BY COALESCE(c.last_message_at, c.created_at) DESC, c.id
		LIMIT $3 OFFSET $4`

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, query, userID, includeArchived, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	views := make([]models.ConversationView, 0)
	for rows.Next() {
		var v models.ConversationView
		c, err := scanConversation(rows, &v.UnreadCount, &v.Archived, &v.Muted)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		v.Conversation = *c
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return views, nil
}

func (s *ConversationStore) SetArchived(ctx context.Context, conversationID, userID uuid.UUID, archived bool) error {
	query := `UPDATE conversation_participants SET archived = $3 WHERE conversation_id = $1 AND user_id = $2`
	if _, err := s.pool.Exec(ctx, query, conversationID, userID, archived); err != nil {
		return fmt.Errorf("set archived: %w", err)
	}
	return nil
}

func (s *ConversationStore) SetMuted(ctx context.Context, conversationID, userID uuid.UUID, muted bool) error {
	query := `UPDATE conversation_participants SET muted = $3 WHERE conversation_id = $1 AND user_id = $2`
	if _, err := s.pool.Exec(ctx, query, conversationID, userID, muted); err != nil {
		return fmt.Errorf("set muted: %w", err)
	}
	return nil
}
