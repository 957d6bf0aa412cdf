package messaging

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pushkarjay/safecom/internal/apperr"
	"github.com/pushkarjay/safecom/internal/models"
)

const (
	maxContentLen = 2000
	maxEmojiLen   = 10
	maxTitleLen   = 100
	minQueryLen   = 2
)

type SendInput struct {
	ConversationID *uuid.UUID             `json:"conversation_id"`
	RecipientID    *uuid.UUID             `json:"recipient_id"`
	Content        string                 `json:"content"`
	MessageType    models.MessageType     `json:"message_type"`
	Priority       models.MessagePriority `json:"priority"`
	ReplyTo        *int64                 `json:"reply_to"`
	RelatedTask    *uuid.UUID             `json:"related_task"`
	Attachments    []models.Attachment    `json:"attachments"`
}

func (in *SendInput) validate() error {
	var v apperr.Validation
	checkContent(&v, in.Content)
	if in.MessageType == "" {
		in.MessageType = models.MessageText
	}
	if !in.MessageType.Valid() {
		v.Add("message_type", "unknown message type")
	}
	if in.Priority == "" {
		in.Priority = models.MessagePriorityNormal
	}
	if !in.Priority.Valid() {
		v.Add("priority", "must be one of normal, high, urgent")
	}
	if in.ConversationID == nil && in.RecipientID == nil {
		v.Add("recipient_id", "is required when conversation_id is empty")
	}
	return v.Err()
}

func checkContent(v *apperr.Validation, content string) {
	switch {
	case strings.TrimSpace(content) == "":
		v.Add("content", "is required")
	case utf8.RuneCountInString(content) > maxContentLen:
		v.Add("content", "must be at most 2000 characters")
	}
}

type ConversationInput struct {
	Participants []uuid.UUID `json:"participants"`
	IsGroup      bool        `json:"is_group"`
	Title        string      `json:"title"`
	RelatedTask  *uuid.UUID  `json:"related_task"`
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
