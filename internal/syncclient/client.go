package syncclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pushkarjay/safecom/internal/models"
	"go.uber.org/zap"
)

const (
	tasksCollection         = "tasks"
	conversationsCollection = "conversations"
	messagesCollection      = "messages"
)

// Client bundles the synced collections for one signed-in user.
type Client struct {
	Tasks         *Repository[models.Task]
	Conversations *Repository[models.ConversationView]
	Messages      *MessageSync

	remote Remote
	logger *zap.Logger
}

func NewClient(remote Remote, cache *Cache, logger *zap.Logger) *Client {
	return &Client{
		Tasks: NewRepository(remote, cache, Collection[models.Task]{
			Name:    tasksCollection,
			Path:    "/v1/tasks",
			ListKey: "tasks",
			ID:      func(t models.Task) string { return t.ID.String() },
			Offline: filterTasks,
		}, logger),
		Conversations: NewRepository(remote, cache, Collection[models.ConversationView]{
			Name:    conversationsCollection,
			Path:    "/v1/conversations",
			ListKey: "conversations",
			ID:      func(c models.ConversationView) string { return c.ID.String() },
			Offline: filterConversations,
		}, logger),
		Messages: &MessageSync{remote: remote, cache: cache, logger: logger.With(zap.String("collection", messagesCollection))},
		remote:   remote,
		logger:   logger,
	}
}

// filterTasks mirrors the server's task list filters over cached tasks.
// Effective status is recomputed, so a task that fell due while offline
// reads as OVERDUE.
func filterTasks(items []models.Task, query url.Values, now time.Time) []models.Task {
	status := models.TaskStatus(query.Get("status"))
	priority := models.TaskPriority(query.Get("priority"))
	assignee, _ := uuid.Parse(query.Get("assigned_to"))
	words := strings.Fields(strings.ToLower(query.Get("q")))

	out := make([]models.Task, 0, len(items))
	for _, t := range items {
		t.EffectiveStatus = t.ComputeEffectiveStatus(now)
		switch {
		case status == models.StatusOverdue && t.EffectiveStatus != models.StatusOverdue:
			continue
		case status != "" && status != models.StatusOverdue && t.Status != status:
			continue
		case priority != "" && t.Priority != priority:
			continue
		case assignee != uuid.Nil && !t.IsAssignee(assignee):
			continue
		case !containsWords(t.Title+" "+t.Description, words):
			continue
		}
		out = append(out, t)
	}
	return out
}

func containsWords(text string, words []string) bool {
	text = strings.ToLower(text)
	for _, w := range words {
		if !strings.Contains(text, w) {
			return false
		}
	}
	return true
}

func filterConversations(items []models.ConversationView, query url.Values, now time.Time) []models.ConversationView {
	if query.Get("archived") == "true" {
		return items
	}
	out := items[:0]
	for _, c := range items {
		if !c.Archived {
			out = append(out, c)
		}
	}
	return out
}

// LogTime records seconds of work on a task. Only the assignee may do this.
func (c *Client) LogTime(ctx context.Context, taskID uuid.UUID, seconds int) error {
	return c.remote.Do(ctx, http.MethodPost, "/v1/tasks/"+taskID.String()+"/time",
		map[string]int{"seconds": seconds}, nil, nil)
}

// NewWorkTimer returns an idle timer whose Stop logs time on taskID.
func (c *Client) NewWorkTimer(taskID uuid.UUID) *WorkTimer {
	return NewWorkTimer(taskID, c)
}

// MessageSync caches messages per conversation.
type MessageSync struct {
	remote Remote
	cache  *Cache
	logger *zap.Logger
}

// FetchConversation reads the latest page of a conversation. The server
// records delivery for the caller as part of the read. On failure the
// cached page is returned.
func (s *MessageSync) FetchConversation(ctx context.Context, conversationID uuid.UUID, limit int) []models.Message {
	scope := conversationID.String()
	path := "/v1/conversations/" + scope + "/messages"
	if limit > 0 {
		path += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}

	var page struct {
		Messages []models.Message `json:"messages"`
	}
	if err := s.remote.Do(ctx, http.MethodGet, path, nil, &page, nil); err != nil {
		s.logger.Warn("fetch failed, serving cache", zap.String("conversation_id", scope), zap.Error(err))
		entries, err := s.cache.List(ctx, messagesCollection, scope)
		if err != nil {
			s.logger.Warn("read cache", zap.Error(err))
			return nil
		}
		return decodeEntries[models.Message](s.logger, entries)
	}

	if err := s.store(ctx, scope, page.Messages...); err != nil {
		s.logger.Warn("cache refresh failed", zap.Error(err))
	}
	return page.Messages
}

func (s *MessageSync) store(ctx context.Context, scope string, msgs ...models.Message) error {
	entries := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		body, err := json.Marshal(m)
		if err != nil {
			return err
		}
		entries = append(entries, Entry{ID: strconv.FormatInt(m.ID, 10), Body: body})
	}
	return s.cache.PutAll(ctx, messagesCollection, scope, entries)
}

// Send posts a message under a fresh idempotency key and caches it.
func (s *MessageSync) Send(ctx context.Context, in SendRequest) Result[models.Message] {
	var m models.Message
	headers := map[string]string{"Idempotency-Key": uuid.NewString()}
	if err := s.remote.Do(ctx, http.MethodPost, "/v1/messages", in, &m, headers); err != nil {
		return Result[models.Message]{Err: err}
	}
	if err := s.store(ctx, m.ConversationID.String(), m); err != nil {
		s.logger.Warn("cache refresh failed", zap.Error(err))
	}
	return Result[models.Message]{Value: m}
}

// MarkRead tells the server the user has seen the whole conversation.
func (s *MessageSync) MarkRead(ctx context.Context, conversationID uuid.UUID) error {
	return s.remote.Do(ctx, http.MethodPatch, "/v1/conversations/"+conversationID.String()+"/read", nil, nil, nil)
}

// SendRequest is the body of POST /v1/messages.
type SendRequest struct {
	ConversationID *uuid.UUID         `json:"conversation_id,omitempty"`
	RecipientID    *uuid.UUID         `json:"recipient_id,omitempty"`
	Content        string             `json:"content"`
	MessageType    models.MessageType `json:"message_type,omitempty"`
}
