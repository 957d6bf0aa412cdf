package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pushkarjay/safecom/internal/apperr"
	"github.com/pushkarjay/safecom/internal/auth"
	"github.com/pushkarjay/safecom/internal/models"
	"github.com/pushkarjay/safecom/internal/notify"
	"github.com/pushkarjay/safecom/internal/realtime"
	"github.com/pushkarjay/safecom/internal/repository/memory"
	"go.uber.org/zap"
)

type fakeNotifier struct {
	mu     sync.Mutex
	to     []uuid.UUID
	events []notify.Event
}

func (n *fakeNotifier) Go(ctx context.Context, userIDs []uuid.UUID, ev notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.to = append(n.to, userIDs...)
	n.events = append(n.events, ev)
}

type published struct {
	topic string
	ev    realtime.Event
}

type fakeBroadcaster struct {
	mu  sync.Mutex
	log []published
}

func (b *fakeBroadcaster) Publish(ctx context.Context, topic string, ev realtime.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.log = append(b.log, published{topic: topic, ev: ev})
}

func (b *fakeBroadcaster) types() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.log))
	for i, p := range b.log {
		out[i] = p.ev.Type
	}
	return out
}

type fixture struct {
	tracker  *Tracker
	notifier *fakeNotifier
	bus      *fakeBroadcaster
	users    *memory.UserStore
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := memory.NewDB()
	f := &fixture{
		notifier: &fakeNotifier{},
		bus:      &fakeBroadcaster{},
		users:    memory.NewUserStore(db),
		now:      time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.tracker = NewTracker(
		memory.NewConversationStore(db),
		memory.NewMessageStore(db),
		f.users,
		f.notifier,
		f.bus,
		24*time.Hour,
		zap.NewNop(),
	)
	f.tracker.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) user(t *testing.T, name string) auth.Principal {
	t.Helper()
	u, err := f.users.Create(context.Background(), &models.User{
		Email:    uuid.NewString() + "@example.com",
		Name:     name,
		Role:     models.RoleEmployee,
		IsActive: true,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return auth.Principal{UserID: u.ID, Role: u.Role}
}

func (f *fixture) send(t *testing.T, from auth.Principal, to uuid.UUID, content string) *models.Message {
	t.Helper()
	m, err := f.tracker.SendMessage(context.Background(), SendInput{RecipientID: &to, Content: content}, from, "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	return m
}

func (f *fixture) reload(t *testing.T, id int64) *models.Message {
	t.Helper()
	m, err := f.tracker.messages.GetByID(context.Background(), id)
	if err != nil || m == nil {
		t.Fatalf("reload %d: %v", id, err)
	}
	return m
}

func TestDirectMessageToOfflineRecipient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "Ann")
	b := f.user(t, "Ben")

	msg := f.send(t, a, b.UserID, "are you on site?")
	if len(msg.DeliveredTo) != 0 || len(msg.ReadBy) != 0 {
		t.Fatalf("fresh message has receipts: %+v", msg)
	}
	if msg.RecipientID == nil || *msg.RecipientID != b.UserID {
		t.Fatalf("recipient = %v", msg.RecipientID)
	}
	if len(f.notifier.to) != 1 || f.notifier.to[0] != b.UserID {
		t.Fatalf("push recipients = %v", f.notifier.to)
	}
	if f.notifier.events[0].Title != "Message from Ann" {
		t.Fatalf("push title = %q", f.notifier.events[0].Title)
	}

	if _, err := f.tracker.MarkDelivered(ctx, msg.ConversationID, b); err != nil {
		t.Fatal(err)
	}
	got := f.reload(t, msg.ID)
	if len(got.DeliveredTo) != 1 || !got.DeliveredToUser(b.UserID) || len(got.ReadBy) != 0 {
		t.Fatalf("after delivered: %+v", got)
	}

	if _, err := f.tracker.MarkRead(ctx, msg.ConversationID, b); err != nil {
		t.Fatal(err)
	}
	got = f.reload(t, msg.ID)
	if len(got.ReadBy) != 1 || !got.ReadByUser(b.UserID) {
		t.Fatalf("after read: %+v", got)
	}
}

func TestSecondMessageReusesDirectConversation(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "Ann")
	b := f.user(t, "Ben")

	first := f.send(t, a, b.UserID, "one")
	second := f.send(t, b, a.UserID, "two")
	if first.ConversationID != second.ConversationID {
		t.Fatal("reply opened a second direct conversation")
	}
	if second.ID <= first.ID {
		t.Fatalf("ids not increasing: %d then %d", first.ID, second.ID)
	}
}

func TestMarkReadIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "Ann")
	b := f.user(t, "Ben")
	msg := f.send(t, a, b.UserID, "hello")

	if _, err := f.tracker.MarkRead(ctx, msg.ConversationID, b); err != nil {
		t.Fatal(err)
	}
	once := f.reload(t, msg.ID).ReadBy

	f.now = f.now.Add(time.Minute)
	n, err := f.tracker.MarkRead(ctx, msg.ConversationID, b)
	if err != nil {
		t.Fatal(err)
	}
	twice := f.reload(t, msg.ID).ReadBy
	if n != 0 || len(twice) != 1 || !twice[0].At.Equal(once[0].At) {
		t.Fatalf("second MarkRead changed state: n=%d %v -> %v", n, once, twice)
	}
}

func TestReadBroadcastsEvenWhenNothingChanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "Ann")
	b := f.user(t, "Ben")
	msg := f.send(t, a, b.UserID, "hello")

	for range 2 {
		if _, err := f.tracker.MarkRead(ctx, msg.ConversationID, b); err != nil {
			t.Fatal(err)
		}
	}
	reads := 0
	for _, typ := range f.bus.types() {
		if typ == realtime.EventMessagesRead {
			reads++
		}
	}
	if reads != 2 {
		t.Fatalf("messages_read published %d times, want 2", reads)
	}
}

func TestEditKeepsFirstOriginal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "Ann")
	b := f.user(t, "Ben")
	msg := f.send(t, a, b.UserID, "v1")

	for _, content := range []string{"v2", "v3"} {
		got, err := f.tracker.EditMessage(ctx, msg.ID, content, a)
		if err != nil {
			t.Fatalf("edit to %s: %v", content, err)
		}
		if !got.IsEdited || got.OriginalContent == nil || *got.OriginalContent != "v1" || got.Content != content {
			t.Fatalf("after edit to %s: %+v", content, got)
		}
	}
}

func TestEditRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "Ann")
	b := f.user(t, "Ben")
	msg := f.send(t, a, b.UserID, "v1")

	if _, err := f.tracker.EditMessage(ctx, msg.ID, "mine now", b); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("edit by recipient: %v", err)
	}
	if err := f.tracker.DeleteMessage(ctx, msg.ID, b); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("delete by recipient: %v", err)
	}

	f.now = f.now.Add(24*time.Hour + time.Second)
	if _, err := f.tracker.EditMessage(ctx, msg.ID, "late", a); !errors.Is(err, apperr.ErrTooOld) {
		t.Fatalf("late edit: %v", err)
	}
}

func TestDeleteHidesMessageAndRefreshesSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "Ann")
	b := f.user(t, "Ben")
	first := f.send(t, a, b.UserID, "first")
	second := f.send(t, a, b.UserID, "second")

	if err := f.tracker.DeleteMessage(ctx, second.ID, a); err != nil {
		t.Fatal(err)
	}
	list, err := f.tracker.ListMessages(ctx, first.ConversationID, b, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != first.ID {
		t.Fatalf("list after delete = %+v", list)
	}

	views, err := f.tracker.ListConversations(ctx, b, false, 0, 0)
	if err != nil || len(views) != 1 {
		t.Fatalf("conversations: %v %d", err, len(views))
	}
	if views[0].LastMessage != "first" || views[0].UnreadCount != 1 {
		t.Fatalf("summary = %q unread=%d", views[0].LastMessage, views[0].UnreadCount)
	}
	if err := f.tracker.DeleteMessage(ctx, second.ID, a); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
}

func TestListMessagesMarksDelivered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "Ann")
	b := f.user(t, "Ben")
	msg := f.send(t, a, b.UserID, "ping")

	list, err := f.tracker.ListMessages(ctx, msg.ConversationID, b, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || !list[0].DeliveredToUser(b.UserID) {
		t.Fatalf("listed message not delivered: %+v", list)
	}

	// The sender reading their own conversation adds no receipt.
	if _, err := f.tracker.ListMessages(ctx, msg.ConversationID, a, 0, 10); err != nil {
		t.Fatal(err)
	}
	if got := f.reload(t, msg.ID); got.DeliveredToUser(a.UserID) {
		t.Fatal("sender received a delivery receipt")
	}
}

func TestReactionsAreKeyedByUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "Ann")
	b := f.user(t, "Ben")
	msg := f.send(t, a, b.UserID, "lunch?")

	if _, err := f.tracker.AddReaction(ctx, msg.ID, "👍", b); err != nil {
		t.Fatal(err)
	}
	got, err := f.tracker.AddReaction(ctx, msg.ID, "🎉", b)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Reactions) != 1 || got.Reactions[0].Emoji != "🎉" {
		t.Fatalf("reactions = %+v", got.Reactions)
	}
	if got, err = f.tracker.RemoveReaction(ctx, msg.ID, b); err != nil || len(got.Reactions) != 0 {
		t.Fatalf("remove: %v %+v", err, got)
	}
	if _, err := f.tracker.AddReaction(ctx, msg.ID, "", b); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("empty emoji: %v", err)
	}
}

func TestOutsidersAreRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "Ann")
	b := f.user(t, "Ben")
	c := f.user(t, "Cat")
	msg := f.send(t, a, b.UserID, "private")

	if _, err := f.tracker.ListMessages(ctx, msg.ConversationID, c, 0, 0); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("outsider list: %v", err)
	}
	in := SendInput{ConversationID: &msg.ConversationID, Content: "hi"}
	if _, err := f.tracker.SendMessage(ctx, in, c, ""); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("outsider send: %v", err)
	}
	if f.tracker.CanJoin(ctx, c.UserID, realtime.ConversationTopic(msg.ConversationID)) {
		t.Fatal("outsider may join conversation topic")
	}
	if !f.tracker.CanJoin(ctx, b.UserID, realtime.ConversationTopic(msg.ConversationID)) {
		t.Fatal("participant may not join conversation topic")
	}
	if f.tracker.CanJoin(ctx, b.UserID, realtime.UserTopic(a.UserID)) {
		t.Fatal("user may join someone else's topic")
	}
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "Ann")
	b := f.user(t, "Ben")
	c := f.user(t, "Cat")
	ghost := uuid.New()
	other := f.send(t, a, c.UserID, "elsewhere")
	mine := f.send(t, a, b.UserID, "here")

	cases := []struct {
		name string
		in   SendInput
		kind error
	}{
		{"empty content", SendInput{RecipientID: &b.UserID, Content: "  "}, apperr.ErrValidation},
		{"no target", SendInput{Content: "hi"}, apperr.ErrValidation},
		{"unknown recipient", SendInput{RecipientID: &ghost, Content: "hi"}, apperr.ErrNotFound},
		{"reply across conversations", SendInput{ConversationID: &mine.ConversationID, Content: "re", ReplyTo: &other.ID}, apperr.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.tracker.SendMessage(ctx, tc.in, a, ""); !errors.Is(err, tc.kind) {
				t.Fatalf("err = %v, want %v", err, tc.kind)
			}
		})
	}
}

func TestSendReplayHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "Ann")
	b := f.user(t, "Ben")
	in := SendInput{RecipientID: &b.UserID, Content: "once"}

	first, err := f.tracker.SendMessage(ctx, in, a, "k1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.tracker.SendMessage(ctx, in, a, "k1")
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID || len(f.notifier.to) != 1 {
		t.Fatalf("replay: ids %d/%d pushes %d", first.ID, second.ID, len(f.notifier.to))
	}
	n, err := f.tracker.UnreadCount(ctx, b, nil)
	if err != nil || n != 1 {
		t.Fatalf("unread = %d, %v", n, err)
	}
}

func TestGroupConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "Ann")
	b := f.user(t, "Ben")
	c := f.user(t, "Cat")

	conv, err := f.tracker.CreateConversation(ctx, ConversationInput{
		Participants: []uuid.UUID{b.UserID, c.UserID, b.UserID},
		IsGroup:      true,
		Title:        "Night shift",
	}, a)
	if err != nil {
		t.Fatal(err)
	}
	if len(conv.Participants) != 3 || conv.Type != models.ConversationGroup {
		t.Fatalf("conversation = %+v", conv)
	}

	if _, err := f.tracker.SendMessage(ctx, SendInput{ConversationID: &conv.ID, Content: "all clear"}, a, ""); err != nil {
		t.Fatal(err)
	}
	if len(f.notifier.to) != 0 {
		t.Fatalf("group message pushed to %v", f.notifier.to)
	}

	if err := f.tracker.SetArchived(ctx, conv.ID, b, true); err != nil {
		t.Fatal(err)
	}
	if views, _ := f.tracker.ListConversations(ctx, b, false, 0, 0); len(views) != 0 {
		t.Fatalf("archived conversation listed: %+v", views)
	}
	if _, err := f.tracker.SendMessage(ctx, SendInput{ConversationID: &conv.ID, Content: "wake up"}, c, ""); err != nil {
		t.Fatal(err)
	}
	views, _ := f.tracker.ListConversations(ctx, b, false, 0, 0)
	if len(views) != 1 || views[0].UnreadCount != 2 {
		t.Fatalf("after new message: %+v", views)
	}

	found, err := f.tracker.Search(ctx, b, "wake", 10)
	if err != nil || len(found) != 1 {
		t.Fatalf("search: %v %d", err, len(found))
	}
	if _, err := f.tracker.Search(ctx, b, "w", 10); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("short query: %v", err)
	}
}
