package models

import (
	"time"

	"github.com/google/uuid"
)

type ConversationType string

const (
	ConversationDirect   ConversationType = "DIRECT"
	ConversationGroup    ConversationType = "GROUP"
	ConversationTaskChat ConversationType = "TASK_CHAT"
)

func (c ConversationType) Valid() bool {
	switch c {
	case ConversationDirect, ConversationGroup, ConversationTaskChat:
		return true
	}
	return false
}

type MessageType string

const (
	MessageText       MessageType = "TEXT"
	MessageImage      MessageType = "IMAGE"
	MessageFile       MessageType = "FILE"
	MessageAudio      MessageType = "AUDIO"
	MessageSystem     MessageType = "SYSTEM"
	MessageTaskUpdate MessageType = "TASK_UPDATE"
)

func (m MessageType) Valid() bool {
	switch m {
	case MessageText, MessageImage, MessageFile, MessageAudio, MessageSystem, MessageTaskUpdate:
		return true
	}
	return false
}

type MessagePriority string

const (
	MessagePriorityNormal MessagePriority = "normal"
	MessagePriorityHigh   MessagePriority = "high"
	MessagePriorityUrgent MessagePriority = "urgent"
)

func (p MessagePriority) Valid() bool {
	switch p {
	case MessagePriorityNormal, MessagePriorityHigh, MessagePriorityUrgent:
		return true
	}
	return false
}

// Conversation carries only the participant list and denormalized summary
// fields. The summary is written exclusively by the message tracker, in the
// same transaction as the message that changed it.
type Conversation struct {
	ID            uuid.UUID        `json:"id"`
	Type          ConversationType `json:"type"`
	IsGroup       bool             `json:"is_group"`
	Title         string           `json:"title,omitempty"`
	Participants  []uuid.UUID      `json:"participants"`
	RelatedTask   *uuid.UUID       `json:"related_task,omitempty"`
	CreatedBy     uuid.UUID        `json:"created_by"`
	LastMessageID *int64           `json:"last_message_id"`
	LastMessage   string           `json:"last_message"`
	LastMessageAt *time.Time       `json:"last_message_time"`
	LastSenderID  *uuid.UUID       `json:"last_sender_id"`
	CreatedAt     time.Time        `json:"created_at"`
}

func (c *Conversation) HasParticipant(userID uuid.UUID) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// OtherParticipant returns the peer in a two-party conversation.
func (c *Conversation) OtherParticipant(userID uuid.UUID) (uuid.UUID, bool) {
	if len(c.Participants) != 2 {
		return uuid.Nil, false
	}
	if c.Participants[0] == userID {
		return c.Participants[1], true
	}
	if c.Participants[1] == userID {
		return c.Participants[0], true
	}
	return uuid.Nil, false
}

// ConversationView is a conversation as one participant sees it.
type ConversationView struct {
	Conversation
	UnreadCount int  `json:"unread_count"`
	Archived    bool `json:"archived"`
	Muted       bool `json:"muted"`
}

type Attachment struct {
	Filename     string `json:"filename"`
	OriginalName string `json:"original_name"`
	URL          string `json:"url"`
	MimeType     string `json:"mime_type"`
	Size         int64  `json:"size"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// Receipt records when a user received or read a message.
type Receipt struct {
	UserID uuid.UUID `json:"user_id"`
	At     time.Time `json:"at"`
}

type Reaction struct {
	UserID    uuid.UUID `json:"user_id"`
	Emoji     string    `json:"emoji"`
	ReactedAt time.Time `json:"reacted_at"`
}

// Message IDs come from a server-side sequence, so within a conversation
// they give the total order by server receipt.
//
// ReadBy and DeliveredTo hold at most one entry per user, never the sender,
// and every ReadBy user is also in DeliveredTo.
type Message struct {
	ID               int64            `json:"id"`
	ConversationID   uuid.UUID        `json:"conversation_id"`
	ConversationType ConversationType `json:"conversation_type"`
	SenderID         uuid.UUID        `json:"sender_id"`
	RecipientID      *uuid.UUID       `json:"recipient_id,omitempty"`
	Content          string           `json:"content"`
	MessageType      MessageType      `json:"message_type"`
	Priority         MessagePriority  `json:"priority"`
	ReplyTo          *int64           `json:"reply_to,omitempty"`
	RelatedTask      *uuid.UUID       `json:"related_task,omitempty"`
	Attachments      []Attachment     `json:"attachments"`
	ReadBy           []Receipt        `json:"read_by"`
	DeliveredTo      []Receipt        `json:"delivered_to"`
	Reactions        []Reaction       `json:"reactions"`
	IsEdited         bool             `json:"is_edited"`
	EditedAt         *time.Time       `json:"edited_at,omitempty"`
	OriginalContent  *string          `json:"original_content,omitempty"`
	IsDeleted        bool             `json:"is_deleted"`
	DeletedAt        *time.Time       `json:"deleted_at,omitempty"`
	DeletedBy        *uuid.UUID       `json:"deleted_by,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

func (m *Message) ReadByUser(userID uuid.UUID) bool {
	return hasReceipt(m.ReadBy, userID)
}

func (m *Message) DeliveredToUser(userID uuid.UUID) bool {
	return hasReceipt(m.DeliveredTo, userID)
}

func hasReceipt(rs []Receipt, userID uuid.UUID) bool {
	for _, r := range rs {
		if r.UserID == userID {
			return true
		}
	}
	return false
}
