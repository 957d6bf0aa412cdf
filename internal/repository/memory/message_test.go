package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pushkarjay/safecom/internal/models"
)

func seedConversation(t *testing.T, db *DB, users ...uuid.UUID) *models.Conversation {
	t.Helper()
	conv, err := NewConversationStore(db).Create(context.Background(), &models.Conversation{
		Type:         models.ConversationGroup,
		IsGroup:      true,
		Participants: users,
		CreatedBy:    users[0],
	})
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	return conv
}

func TestMarkReadImpliesDelivered(t *testing.T) {
	ctx := context.Background()
	db := NewDB()
	store := NewMessageStore(db)
	a, b := uuid.New(), uuid.New()
	conv := seedConversation(t, db, a, b)

	msg, _, err := store.Create(ctx, &models.Message{ConversationID: conv.ID, SenderID: a, Content: "hi"}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	now := time.Now()
	if n, _ := store.MarkRead(ctx, conv.ID, b, now); n != 1 {
		t.Fatalf("MarkRead changed %d messages, want 1", n)
	}
	if n, _ := store.MarkRead(ctx, conv.ID, b, now.Add(time.Second)); n != 0 {
		t.Fatalf("second MarkRead changed %d messages, want 0", n)
	}
	if n, _ := store.MarkDelivered(ctx, conv.ID, b, now); n != 0 {
		t.Fatalf("MarkDelivered after read changed %d messages, want 0", n)
	}
	// The sender never gets a receipt on their own message.
	if n, _ := store.MarkRead(ctx, conv.ID, a, now); n != 0 {
		t.Fatalf("sender MarkRead changed %d messages", n)
	}

	got, _ := store.GetByID(ctx, msg.ID)
	if len(got.ReadBy) != 1 || len(got.DeliveredTo) != 1 {
		t.Fatalf("read_by=%v delivered_to=%v", got.ReadBy, got.DeliveredTo)
	}
	if !got.ReadByUser(b) || !got.DeliveredToUser(b) || got.DeliveredToUser(a) {
		t.Fatalf("unexpected receipts: %+v", got)
	}
}

func TestSummaryFollowsMessages(t *testing.T) {
	ctx := context.Background()
	db := NewDB()
	store := NewMessageStore(db)
	convs := NewConversationStore(db)
	a, b := uuid.New(), uuid.New()
	conv := seedConversation(t, db, a, b)

	first, _, _ := store.Create(ctx, &models.Message{ConversationID: conv.ID, SenderID: a, Content: "one"}, "")
	second, _, _ := store.Create(ctx, &models.Message{ConversationID: conv.ID, SenderID: a, Content: "two"}, "")

	views, _ := convs.ListForUser(ctx, b, false, 0, 0)
	if len(views) != 1 || views[0].UnreadCount != 2 || views[0].LastMessage != "two" {
		t.Fatalf("views = %+v", views)
	}

	if err := store.SoftDelete(ctx, second.ID, a, time.Now()); err != nil {
		t.Fatal(err)
	}
	views, _ = convs.ListForUser(ctx, b, false, 0, 0)
	if views[0].UnreadCount != 1 || views[0].LastMessage != "one" || *views[0].LastMessageID != first.ID {
		t.Fatalf("after delete views = %+v", views[0])
	}
}

func TestIdempotentCreate(t *testing.T) {
	ctx := context.Background()
	db := NewDB()
	store := NewMessageStore(db)
	a, b := uuid.New(), uuid.New()
	conv := seedConversation(t, db, a, b)

	m1, created, _ := store.Create(ctx, &models.Message{ConversationID: conv.ID, SenderID: a, Content: "x"}, "key-1")
	if !created {
		t.Fatal("first create should insert")
	}
	m2, created, _ := store.Create(ctx, &models.Message{ConversationID: conv.ID, SenderID: a, Content: "x"}, "key-1")
	if created || m2.ID != m1.ID {
		t.Fatalf("replay created=%v id=%d, want existing %d", created, m2.ID, m1.ID)
	}
	n, _ := store.CountUnread(ctx, b, &conv.ID)
	if n != 1 {
		t.Fatalf("unread = %d, want 1", n)
	}
}
