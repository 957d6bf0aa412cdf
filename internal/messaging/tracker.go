// Package messaging appends messages, tracks who has received and read
// them, and keeps each conversation's summary in step with its messages.
package messaging

import (
	"context"
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

type Notifier interface {
	Go(ctx context.Context, userIDs []uuid.UUID, ev notify.Event)
}

type Broadcaster interface {
	Publish(ctx context.Context, topic string, ev realtime.Event)
}

type Tracker struct {
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	users         repository.UserRepository
	notifier      Notifier
	broadcaster   Broadcaster
	editWindow    time.Duration
	logger        *zap.Logger
	now           func() time.Time
}

func NewTracker(
	conversations repository.ConversationRepository,
	messages repository.MessageRepository,
	users repository.UserRepository,
	notifier Notifier,
	broadcaster Broadcaster,
	editWindow time.Duration,
	logger *zap.Logger,
) *Tracker {
	return &Tracker{
		conversations: conversations,
		messages:      messages,
		users:         users,
		notifier:      notifier,
		broadcaster:   broadcaster,
		editWindow:    editWindow,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// conversation loads a conversation the user takes part in.
func (t *Tracker) conversation(ctx context.Context, conversationID, userID uuid.UUID) (*models.Conversation, error) {
	c, err := t.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, apperr.Transient("load conversation", err)
	}
	if c == nil {
		return nil, apperr.NotFound("conversation %s not found", conversationID)
	}
	if !c.HasParticipant(userID) {
		return nil, apperr.Forbidden("you are not a participant of this conversation")
	}
	return c, nil
}

// message loads a live message in a conversation the user takes part in.
func (t *Tracker) message(ctx context.Context, messageID int64, userID uuid.UUID) (*models.Message, error) {
	m, err := t.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, apperr.Transient("load message", err)
	}
	if m == nil || m.IsDeleted {
		return nil, apperr.NotFound("message %d not found", messageID)
	}
	ok, err := t.conversations.IsParticipant(ctx, m.ConversationID, userID)
	if err != nil {
		return nil, apperr.Transient("check participant", err)
	}
	if !ok {
		return nil, apperr.Forbidden("you are not a participant of this conversation")
	}
	return m, nil
}

func (t *Tracker) activeUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	u, err := t.users.GetByID(ctx, userID)
	if err != nil {
		return nil, apperr.Transient("load user", err)
	}
	if u == nil || !u.IsActive {
		return nil, apperr.NotFound("user %s not found", userID)
	}
	return u, nil
}

// direct returns the DIRECT conversation between a and b, creating it on
// first contact.
func (t *Tracker) direct(ctx context.Context, a, b uuid.UUID) (*models.Conversation, bool, error) {
	c, err := t.conversations.FindDirect(ctx, a, b)
	if err != nil {
		return nil, false, apperr.Transient("find conversation", err)
	}
	if c != nil {
		return c, false, nil
	}
	c, err = t.conversations.Create(ctx, &models.Conversation{
		Type:         models.ConversationDirect,
		Participants: []uuid.UUID{a, b},
		CreatedBy:    a,
		CreatedAt:    t.now(),
	})
	if err != nil {
		return nil, false, apperr.Transient("create conversation", err)
	}
	return c, true, nil
}

// SendMessage persists a message and then fans it out: a broadcast to the
// conversation topic for connected clients, and for DIRECT conversations a
// push to the recipient whether or not they are connected.
func (t *Tracker) SendMessage(ctx context.Context, in SendInput, sender auth.Principal, idempotencyKey string) (*models.Message, error) {
	if !sender.Can(auth.CapMessage) {
		return nil, apperr.Forbidden("role %s cannot send messages", sender.Role)
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	var conv *models.Conversation
	var fresh bool
	var err error
	if in.ConversationID != nil {
		if conv, err = t.conversation(ctx, *in.ConversationID, sender.UserID); err != nil {
			return nil, err
		}
	} else {
		if *in.RecipientID == sender.UserID {
			var v apperr.Validation
			v.Add("recipient_id", "cannot message yourself")
			return nil, v.Err()
		}
		if _, err := t.activeUser(ctx, *in.RecipientID); err != nil {
			return nil, err
		}
		if conv, fresh, err = t.direct(ctx, sender.UserID, *in.RecipientID); err != nil {
			return nil, err
		}
	}

	var recipient *uuid.UUID
	if conv.Type == models.ConversationDirect {
		peer, ok := conv.OtherParticipant(sender.UserID)
		if !ok {
			return nil, apperr.NotFound("conversation %s has no recipient", conv.ID)
		}
		if _, err := t.activeUser(ctx, peer); err != nil {
			return nil, err
		}
		recipient = &peer
	}

	if in.ReplyTo != nil {
		parent, err := t.messages.GetByID(ctx, *in.ReplyTo)
		if err != nil {
			return nil, apperr.Transient("load reply target", err)
		}
		if parent == nil || parent.ConversationID != conv.ID {
			var v apperr.Validation
			v.Add("reply_to", "must reference a message in the same conversation")
			return nil, v.Err()
		}
	}

	msg, created, err := t.messages.Create(ctx, &models.Message{
		ConversationID:   conv.ID,
		ConversationType: conv.Type,
		SenderID:         sender.UserID,
		RecipientID:      recipient,
		Content:          in.Content,
		MessageType:      in.MessageType,
		Priority:         in.Priority,
		ReplyTo:          in.ReplyTo,
		RelatedTask:      in.RelatedTask,
		Attachments:      in.Attachments,
		CreatedAt:        t.now(),
	}, idempotencyKey)
	if err != nil {
		return nil, apperr.Transient("send message", err)
	}
	if !created {
		t.logger.Info("message send replayed",
			zap.Int64("message_id", msg.ID),
			zap.String("idempotency_key", idempotencyKey),
		)
		return msg, nil
	}

	ev := realtime.Event{Type: realtime.EventNewMessage, Data: msg}
	t.broadcaster.Publish(ctx, realtime.ConversationTopic(conv.ID), ev)
	if fresh {
		// Nobody is subscribed to a conversation that did not exist a
		// moment ago, so the recipient hears about it on their own topic.
		t.broadcaster.Publish(ctx, realtime.UserTopic(*recipient), ev)
	}
	if recipient != nil {
		t.notifier.Go(ctx, []uuid.UUID{*recipient}, notify.NewMessage(t.displayName(ctx, sender.UserID), msg))
	}
	return msg, nil
}

func (t *Tracker) displayName(ctx context.Context, userID uuid.UUID) string {
	u, err := t.users.GetByID(ctx, userID)
	if err != nil || u == nil || u.Name == "" {
		return "Someone"
	}
	return u.Name
}

type receiptEvent struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         uuid.UUID `json:"user_id"`
	Count          int64     `json:"count"`
	At             time.Time `json:"at"`
}

// MarkDelivered records that userID's device has every message in the
// conversation. Calling it again changes nothing.
func (t *Tracker) MarkDelivered(ctx context.Context, conversationID uuid.UUID, user auth.Principal) (int64, error) {
	if _, err := t.conversation(ctx, conversationID, user.UserID); err != nil {
		return 0, err
	}
	return t.markDelivered(ctx, conversationID, user.UserID)
}

func (t *Tracker) markDelivered(ctx context.Context, conversationID, userID uuid.UUID) (int64, error) {
	now := t.now()
	n, err := t.messages.MarkDelivered(ctx, conversationID, userID, now)
	if err != nil {
		return 0, apperr.Transient("mark delivered", err)
	}
	if n > 0 {
		t.broadcaster.Publish(ctx, realtime.ConversationTopic(conversationID), realtime.Event{
			Type: realtime.EventMessagesDelivered,
			Data: receiptEvent{ConversationID: conversationID, UserID: userID, Count: n, At: now},
		})
	}
	return n, nil
}

// MarkRead records that userID has seen every message in the conversation,
// which also counts as delivery, and clears their unread count.
func (t *Tracker) MarkRead(ctx context.Context, conversationID uuid.UUID, user auth.Principal) (int64, error) {
	if _, err := t.conversation(ctx, conversationID, user.UserID); err != nil {
		return 0, err
	}
	now := t.now()
	n, err := t.messages.MarkRead(ctx, conversationID, user.UserID, now)
	if err != nil {
		return 0, apperr.Transient("mark read", err)
	}
	t.broadcaster.Publish(ctx, realtime.ConversationTopic(conversationID), realtime.Event{
		Type: realtime.EventMessagesRead,
		Data: receiptEvent{ConversationID: conversationID, UserID: user.UserID, Count: n, At: now},
	})
	return n, nil
}

// EditMessage replaces the content of the actor's own message within the
// edit window. The content from before the first edit is kept.
func (t *Tracker) EditMessage(ctx context.Context, messageID int64, content string, actor auth.Principal) (*models.Message, error) {
	var v apperr.Validation
	checkContent(&v, content)
	if err := v.Err(); err != nil {
		return nil, err
	}
	m, err := t.message(ctx, messageID, actor.UserID)
	if err != nil {
		return nil, err
	}
	if m.SenderID != actor.UserID {
		return nil, apperr.Forbidden("only the sender can edit this message")
	}
	if t.now().Sub(m.CreatedAt) > t.editWindow {
		return nil, apperr.TooOld("messages can only be edited within %s of sending", t.editWindow)
	}

	edited, err := t.messages.Edit(ctx, messageID, content, t.now())
	if err != nil {
		return nil, apperr.Transient("edit message", err)
	}
	if edited == nil {
		return nil, apperr.NotFound("message %d not found", messageID)
	}
	t.broadcaster.Publish(ctx, realtime.ConversationTopic(edited.ConversationID), realtime.Event{
		Type: realtime.EventMessageEdited,
		Data: edited,
	})
	return edited, nil
}

// DeleteMessage hides the actor's own message from every read.
func (t *Tracker) DeleteMessage(ctx context.Context, messageID int64, actor auth.Principal) error {
	m, err := t.message(ctx, messageID, actor.UserID)
	if err != nil {
		return err
	}
	if m.SenderID != actor.UserID {
		return apperr.Forbidden("only the sender can delete this message")
	}
	if err := t.messages.SoftDelete(ctx, messageID, actor.UserID, t.now()); err != nil {
		return apperr.Transient("delete message", err)
	}
	t.broadcaster.Publish(ctx, realtime.ConversationTopic(m.ConversationID), realtime.Event{
		Type: realtime.EventMessageDeleted,
		Data: map[string]any{"id": messageID, "conversation_id": m.ConversationID},
	})
	return nil
}

// AddReaction sets the actor's reaction, replacing any earlier one.
func (t *Tracker) AddReaction(ctx context.Context, messageID int64, emoji string, actor auth.Principal) (*models.Message, error) {
	emoji = strings.TrimSpace(emoji)
	if n := utf8.RuneCountInString(emoji); n == 0 || n > maxEmojiLen {
		var v apperr.Validation
		v.Add("emoji", "must be 1 to 10 characters")
		return nil, v.Err()
	}
	m, err := t.message(ctx, messageID, actor.UserID)
	if err != nil {
		return nil, err
	}
	if err := t.messages.SetReaction(ctx, messageID, actor.UserID, emoji, t.now()); err != nil {
		return nil, apperr.Transient("add reaction", err)
	}
	return t.reactionChanged(ctx, m, realtime.EventReactionAdded)
}

func (t *Tracker) RemoveReaction(ctx context.Context, messageID int64, actor auth.Principal) (*models.Message, error) {
	m, err := t.message(ctx, messageID, actor.UserID)
	if err != nil {
		return nil, err
	}
	if err := t.messages.RemoveReaction(ctx, messageID, actor.UserID); err != nil {
		return nil, apperr.Transient("remove reaction", err)
	}
	return t.reactionChanged(ctx, m, realtime.EventReactionRemoved)
}

func (t *Tracker) reactionChanged(ctx context.Context, m *models.Message, kind string) (*models.Message, error) {
	updated, err := t.messages.GetByID(ctx, m.ID)
	if err != nil {
		return nil, apperr.Transient("reload message", err)
	}
	if updated == nil {
		return nil, apperr.NotFound("message %d not found", m.ID)
	}
	t.broadcaster.Publish(ctx, realtime.ConversationTopic(m.ConversationID), realtime.Event{
		Type: kind,
		Data: map[string]any{"id": m.ID, "conversation_id": m.ConversationID, "reactions": updated.Reactions},
	})
	return updated, nil
}

// ListMessages returns a page of messages, newest first. Fetching counts as
// delivery, so the reader's receipts are recorded before the page is read.
func (t *Tracker) ListMessages(ctx context.Context, conversationID uuid.UUID, user auth.Principal, before int64, limit int) ([]models.Message, error) {
	if _, err := t.conversation(ctx, conversationID, user.UserID); err != nil {
		return nil, err
	}
	if _, err := t.markDelivered(ctx, conversationID, user.UserID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	msgs, err := t.messages.ListByConversation(ctx, conversationID, before, limit)
	if err != nil {
		return nil, apperr.Transient("list messages", err)
	}
	return msgs, nil
}

// CreateConversation opens a DIRECT or GROUP conversation that includes the
// creator. A DIRECT conversation that already exists is returned as is.
func (t *Tracker) CreateConversation(ctx context.Context, in ConversationInput, creator auth.Principal) (*models.Conversation, error) {
	if !creator.Can(auth.CapMessage) {
		return nil, apperr.Forbidden("role %s cannot start conversations", creator.Role)
	}
	participants := dedupe(append([]uuid.UUID{creator.UserID}, in.Participants...))
	title := strings.TrimSpace(in.Title)

	var v apperr.Validation
	switch {
	case !in.IsGroup && len(participants) != 2:
		v.Add("participants", "a direct conversation has exactly one other participant")
	case in.IsGroup && len(participants) < 2:
		v.Add("participants", "a group needs at least one other participant")
	}
	if utf8.RuneCountInString(title) > maxTitleLen {
		v.Add("title", "must be at most 100 characters")
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	for _, id := range participants[1:] {
		if _, err := t.activeUser(ctx, id); err != nil {
			return nil, err
		}
	}

	if !in.IsGroup {
		c, _, err := t.direct(ctx, participants[0], participants[1])
		return c, err
	}

	kind := models.ConversationGroup
	if in.RelatedTask != nil {
		kind = models.ConversationTaskChat
	}
	c, err := t.conversations.Create(ctx, &models.Conversation{
		Type:         kind,
		IsGroup:      true,
		Title:        title,
		Participants: participants,
		RelatedTask:  in.RelatedTask,
		CreatedBy:    creator.UserID,
		CreatedAt:    t.now(),
	})
	if err != nil {
		return nil, apperr.Transient("create conversation", err)
	}
	for _, id := range participants[1:] {
		t.broadcaster.Publish(ctx, realtime.UserTopic(id), realtime.Event{Type: realtime.EventConversationNew, Data: c})
	}
	return c, nil
}

func (t *Tracker) ListConversations(ctx context.Context, user auth.Principal, includeArchived bool, limit, offset int) ([]models.ConversationView, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	views, err := t.conversations.ListForUser(ctx, user.UserID, includeArchived, limit, max(offset, 0))
	if err != nil {
		return nil, apperr.Transient("list conversations", err)
	}
	return views, nil
}

// SetArchived hides or shows a conversation for one participant. A new
// message un-archives it again.
func (t *Tracker) SetArchived(ctx context.Context, conversationID uuid.UUID, user auth.Principal, archived bool) error {
	if _, err := t.conversation(ctx, conversationID, user.UserID); err != nil {
		return err
	}
	if err := t.conversations.SetArchived(ctx, conversationID, user.UserID, archived); err != nil {
		return apperr.Transient("archive conversation", err)
	}
	return nil
}

// SetMuted is a display flag for the client. Pushes are still sent.
func (t *Tracker) SetMuted(ctx context.Context, conversationID uuid.UUID, user auth.Principal, muted bool) error {
	if _, err := t.conversation(ctx, conversationID, user.UserID); err != nil {
		return err
	}
	if err := t.conversations.SetMuted(ctx, conversationID, user.UserID, muted); err != nil {
		return apperr.Transient("mute conversation", err)
	}
	return nil
}

func (t *Tracker) UnreadCount(ctx context.Context, user auth.Principal, conversationID *uuid.UUID) (int, error) {
	if conversationID != nil {
		if _, err := t.conversation(ctx, *conversationID, user.UserID); err != nil {
			return 0, err
		}
	}
	n, err := t.messages.CountUnread(ctx, user.UserID, conversationID)
	if err != nil {
		return 0, apperr.Transient("count unread", err)
	}
	return n, nil
}

func (t *Tracker) Search(ctx context.Context, user auth.Principal, query string, limit int) ([]models.Message, error) {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < minQueryLen {
		var v apperr.Validation
		v.Add("q", "must be at least 2 characters")
		return nil, v.Err()
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	msgs, err := t.messages.Search(ctx, user.UserID, query, limit)
	if err != nil {
		return nil, apperr.Transient("search messages", err)
	}
	return msgs, nil
}

// CanJoin lets a user follow their own user topic and the topics of
// conversations they take part in.
func (t *Tracker) CanJoin(ctx context.Context, userID uuid.UUID, topic string) bool {
	kind, rawID, ok := strings.Cut(topic, ":")
	if !ok {
		return false
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return false
	}
	switch kind {
	case "user":
		return id == userID
	case "conversation":
		ok, err := t.conversations.IsParticipant(ctx, id, userID)
		if err != nil {
			t.logger.Warn("check topic access", zap.String("topic", topic), zap.Error(err))
			return false
		}
		return ok
	}
	return false
}
