package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pushkarjay/safecom/internal/models"
)

type ConversationStore struct {
	db *DB
}

func NewConversationStore(db *DB) *ConversationStore {
	return &ConversationStore{db: db}
}

func (s *ConversationStore) Create(ctx context.Context, c *models.Conversation) (*models.Conversation, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	out := copyConversation(c)
	if out.ID == uuid.Nil {
		out.ID = uuid.New()
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}
	s.db.conversations[out.ID] = out
	parts := make(map[uuid.UUID]*participant, len(out.Participants))
	for _, p := range out.Participants {
		parts[p] = &participant{}
	}
	s.db.participants[out.ID] = parts
	return copyConversation(out), nil
}

func (s *ConversationStore) GetByID(ctx context.Context, conversationID uuid.UUID) (*models.Conversation, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	c, ok := s.db.conversations[conversationID]
	if !ok {
		return nil, nil
	}
	return copyConversation(c), nil
}

func (s *ConversationStore) FindDirect(ctx context.Context, a, b uuid.UUID) (*models.Conversation, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	for _, c := range s.db.conversations {
		if c.Type != models.ConversationDirect {
			continue
		}
		if c.HasParticipant(a) && c.HasParticipant(b) && len(c.Participants) == 2 {
			return copyConversation(c), nil
		}
	}
	return nil, nil
}

func (s *ConversationStore) IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	_, ok := s.db.participants[conversationID][userID]
	return ok, nil
}

func (s *ConversationStore) ListForUser(ctx context.Context, userID uuid.UUID, includeArchived bool, limit, offset int) ([]models.ConversationView, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	views := make([]models.ConversationView, 0)
	for id, parts := range s.db.participants {
		p, ok := parts[userID]
		if !ok || (p.archived && !includeArchived) {
			continue
		}
		views = append(views, models.ConversationView{
			Conversation: *copyConversation(s.db.conversations[id]),
			UnreadCount:  p.unread,
			Archived:     p.archived,
			Muted:        p.muted,
		})
	}
	sort.Slice(views, func(i, j int) bool {
		return activity(&views[i].Conversation).After(activity(&views[j].Conversation))
	})

	if offset > 0 {
		if offset >= len(views) {
			return []models.ConversationView{}, nil
		}
		views = views[offset:]
	}
	if limit > 0 && len(views) > limit {
		views = views[:limit]
	}
	return views, nil
}

func activity(c *models.Conversation) time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}

func (s *ConversationStore) SetArchived(ctx context.Context, conversationID, userID uuid.UUID, archived bool) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if p, ok := s.db.participants[conversationID][userID]; ok {
		p.archived = archived
	}
	return nil
}

func (s *ConversationStore) SetMuted(ctx context.Context, conversationID, userID uuid.UUID, muted bool) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if p, ok := s.db.participants[conversationID][userID]; ok {
		p.muted = muted
	}
	return nil
}
