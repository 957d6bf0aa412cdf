package memory

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/pushkarjay/safecom/internal/models"
)

type MessageStore struct {
	db *DB
}

func NewMessageStore(db *DB) *MessageStore {
	return &MessageStore{db: db}
}

func (s *MessageStore) Create(ctx context.Context, m *models.Message, idempotencyKey string) (*models.Message, bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	key := idemKey{owner: m.SenderID, key: idempotencyKey}
	if idempotencyKey != "" {
		if id, ok := s.db.messageKeys[key]; ok {
			return copyMessage(s.db.messages[id]), false, nil
		}
	}

	s.db.nextMessageID++
	c := copyMessage(m)
	c.ID = s.db.nextMessageID
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	s.db.messages[c.ID] = c
	s.db.messageOrder[c.ConversationID] = append(s.db.messageOrder[c.ConversationID], c.ID)
	if idempotencyKey != "" {
		s.db.messageKeys[key] = c.ID
	}

	if conv, ok := s.db.conversations[c.ConversationID]; ok {
		setSummary(conv, c)
	}
	for userID, p := range s.db.participants[c.ConversationID] {
		if userID != c.SenderID {
			p.unread++
			p.archived = false
		}
	}
	return copyMessage(c), true, nil
}

func setSummary(conv *models.Conversation, m *models.Message) {
	if m == nil {
		conv.LastMessageID = nil
		conv.LastMessage = ""
		conv.LastMessageAt = nil
		conv.LastSenderID = nil
		return
	}
	id, at, sender := m.ID, m.CreatedAt, m.SenderID
	conv.LastMessageID = &id
	conv.LastMessage = m.Content
	conv.LastMessageAt = &at
	conv.LastSenderID = &sender
}

// refreshSummary recomputes a conversation's denormalized fields from its
// messages. Caller holds the lock.
func (s *MessageStore) refreshSummary(conversationID uuid.UUID) {
	conv, ok := s.db.conversations[conversationID]
	if !ok {
		return
	}
	var last *models.Message
	ids := s.db.messageOrder[conversationID]
	for i := len(ids) - 1; i >= 0; i-- {
		if m := s.db.messages[ids[i]]; !m.IsDeleted {
			last = m
			break
		}
	}
	setSummary(conv, last)

	for userID, p := range s.db.participants[conversationID] {
		p.unread = s.countUnread(userID, conversationID)
	}
}

func (s *MessageStore) countUnread(userID, conversationID uuid.UUID) int {
	n := 0
	for _, id := range s.db.messageOrder[conversationID] {
		m := s.db.messages[id]
		if !m.IsDeleted && m.SenderID != userID && !m.ReadByUser(userID) {
			n++
		}
	}
	return n
}

func (s *MessageStore) GetByID(ctx context.Context, messageID int64) (*models.Message, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	m, ok := s.db.messages[messageID]
	if !ok {
		return nil, nil
	}
	return copyMessage(m), nil
}

func (s *MessageStore) ListByConversation(ctx context.Context, conversationID uuid.UUID, before int64, limit int) ([]models.Message, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	out := make([]models.Message, 0)
	ids := s.db.messageOrder[conversationID]
	for i := len(ids) - 1; i >= 0; i-- {
		m := s.db.messages[ids[i]]
		if m.IsDeleted || (before > 0 && m.ID >= before) {
			continue
		}
		out = append(out, *copyMessage(m))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// eligible reports whether a receipt for userID may be added to m.
func eligible(m *models.Message, userID uuid.UUID) bool {
	return !m.IsDeleted && m.SenderID != userID
}

func (s *MessageStore) MarkDelivered(ctx context.Context, conversationID, userID uuid.UUID, at time.Time) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var n int64
	for _, id := range s.db.messageOrder[conversationID] {
		m := s.db.messages[id]
		if eligible(m, userID) && !m.DeliveredToUser(userID) {
			m.DeliveredTo = append(m.DeliveredTo, models.Receipt{UserID: userID, At: at})
			n++
		}
	}
	return n, nil
}

func (s *MessageStore) MarkRead(ctx context.Context, conversationID, userID uuid.UUID, at time.Time) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var n int64
	for _, id := range s.db.messageOrder[conversationID] {
		m := s.db.messages[id]
		if !eligible(m, userID) || m.ReadByUser(userID) {
			continue
		}
		if !m.DeliveredToUser(userID) {
			m.DeliveredTo = append(m.DeliveredTo, models.Receipt{UserID: userID, At: at})
		}
		m.ReadBy = append(m.ReadBy, models.Receipt{UserID: userID, At: at})
		n++
	}
	if p, ok := s.db.participants[conversationID][userID]; ok {
		p.unread = 0
	}
	return n, nil
}

func (s *MessageStore) Edit(ctx context.Context, messageID int64, content string, at time.Time) (*models.Message, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	m, ok := s.db.messages[messageID]
	if !ok {
		return nil, nil
	}
	if m.OriginalContent == nil {
		original := m.Content
		m.OriginalContent = &original
	}
	m.Content = content
	m.IsEdited = true
	m.EditedAt = &at
	s.refreshSummary(m.ConversationID)
	return copyMessage(m), nil
}

func (s *MessageStore) SoftDelete(ctx context.Context, messageID int64, by uuid.UUID, at time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	m, ok := s.db.messages[messageID]
	if !ok || m.IsDeleted {
		return nil
	}
	m.IsDeleted = true
	m.DeletedAt = &at
	m.DeletedBy = &by
	s.refreshSummary(m.ConversationID)
	return nil
}

func (s *MessageStore) SetReaction(ctx context.Context, messageID int64, userID uuid.UUID, emoji string, at time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	m, ok := s.db.messages[messageID]
	if !ok {
		return nil
	}
	m.Reactions = slices.DeleteFunc(m.Reactions, func(r models.Reaction) bool { return r.UserID == userID })
	m.Reactions = append(m.Reactions, models.Reaction{UserID: userID, Emoji: emoji, ReactedAt: at})
	return nil
}

func (s *MessageStore) RemoveReaction(ctx context.Context, messageID int64, userID uuid.UUID) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if m, ok := s.db.messages[messageID]; ok {
		m.Reactions = slices.DeleteFunc(m.Reactions, func(r models.Reaction) bool { return r.UserID == userID })
	}
	return nil
}

func (s *MessageStore) Search(ctx context.Context, userID uuid.UUID, query string, limit int) ([]models.Message, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	out := make([]models.Message, 0)
	for convID, parts := range s.db.participants {
		if _, ok := parts[userID]; !ok {
			continue
		}
		for _, id := range s.db.messageOrder[convID] {
			m := s.db.messages[id]
			if !m.IsDeleted && matchWords(m.Content, query) {
				out = append(out, *copyMessage(m))
			}
		}
	}
	slices.SortFunc(out, func(a, b models.Message) int {
		switch {
		case a.ID > b.ID:
			return -1
		case a.ID < b.ID:
			return 1
		}
		return 0
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MessageStore) CountUnread(ctx context.Context, userID uuid.UUID, conversationID *uuid.UUID) (int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if conversationID != nil {
		return s.countUnread(userID, *conversationID), nil
	}
	total := 0
	for convID, parts := range s.db.participants {
		if _, ok := parts[userID]; ok {
			total += s.countUnread(userID, convID)
		}
	}
	return total, nil
}
