package notify

import (
	"fmt"
	"strings"

	"github.com/pushkarjay/safecom/internal/models"
)

type Kind string

const (
	KindTaskAssigned      Kind = "TASK_ASSIGNED"
	KindTaskStatusChanged Kind = "TASK_STATUS_CHANGED"
	KindTaskComment       Kind = "TASK_COMMENT"
	KindNewMessage        Kind = "NEW_MESSAGE"
)

// Event is what happened, independent of who it is pushed to.
type Event struct {
	Kind  Kind
	Title string
	Body  string
	Data  map[string]string
}

// Notification is the payload handed to a push gateway. Data always carries
// the event kind under "type" so clients can route the tap.
type Notification struct {
	Title string
	Body  string
	Data  map[string]string
}

func (e Event) Notification() Notification {
	data := make(map[string]string, len(e.Data)+1)
	for k, v := range e.Data {
		data[k] = v
	}
	data["type"] = string(e.Kind)
	return Notification{Title: e.Title, Body: e.Body, Data: data}
}

func TaskAssigned(t *models.Task) Event {
	return Event{
		Kind:  KindTaskAssigned,
		Title: "New Task Assigned",
		Body:  "You have been assigned: " + t.Title,
		Data:  map[string]string{"taskId": t.ID.String()},
	}
}

func TaskStatusChanged(t *models.Task, from, to models.TaskStatus) Event {
	return Event{
		Kind:  KindTaskStatusChanged,
		Title: "Task Status Updated",
		Body:  fmt.Sprintf("Task %q status changed from %s to %s", t.Title, from, to),
		Data: map[string]string{
			"taskId":    t.ID.String(),
			"oldStatus": string(from),
			"newStatus": string(to),
		},
	}
}

func TaskCommented(t *models.Task, authorName string) Event {
	return Event{
		Kind:  KindTaskComment,
		Title: "New Comment",
		Body:  fmt.Sprintf("%s commented on: %s", authorName, t.Title),
		Data:  map[string]string{"taskId": t.ID.String()},
	}
}

// NewMessage builds the push for a direct message. Non-text messages show
// their type instead of the content.
func NewMessage(senderName string, m *models.Message) Event {
	body := m.Content
	if m.MessageType != models.MessageText {
		body = "Sent " + strings.ToLower(string(m.MessageType))
	}
	return Event{
		Kind:  KindNewMessage,
		Title: "Message from " + senderName,
		Body:  body,
		Data: map[string]string{
			"conversationId": m.ConversationID.String(),
			"senderId":       m.SenderID.String(),
			"messageId":      fmt.Sprint(m.ID),
		},
	}
}
