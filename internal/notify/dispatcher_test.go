package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pushkarjay/safecom/internal/models"
	"github.com/pushkarjay/safecom/internal/repository/memory"
	"go.uber.org/zap"
)

type sent struct {
	tokens []string
	n      Notification
}

type fakeGateway struct {
	mu    sync.Mutex
	calls []sent
	fail  map[string]error
	panic bool
}

func (g *fakeGateway) Send(ctx context.Context, tokens []string, n Notification) error {
	if g.panic {
		panic("gateway exploded")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, sent{tokens: tokens, n: n})
	for _, tok := range tokens {
		if err := g.fail[tok]; err != nil {
			return err
		}
	}
	return nil
}

func (g *fakeGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func seedUser(t *testing.T, users *memory.UserStore, active bool, tokens ...string) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	u, err := users.Create(ctx, &models.User{Email: uuid.NewString() + "@example.com", Name: "u", IsActive: true})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	for _, tok := range tokens {
		if err := users.AddDeviceToken(ctx, u.ID, tok); err != nil {
			t.Fatalf("add token: %v", err)
		}
	}
	if !active {
		if err := users.SetActive(ctx, u.ID, false); err != nil {
			t.Fatalf("deactivate: %v", err)
		}
	}
	return u.ID
}

func TestNotifySkipsUsersWithoutReach(t *testing.T) {
	users := memory.NewUserStore(memory.NewDB())
	gw := &fakeGateway{}
	d := NewDispatcher(users, gw, 2, zap.NewNop())
	ev := Event{Kind: KindTaskAssigned, Title: "t"}

	d.Notify(context.Background(), seedUser(t, users, true), ev)
	d.Notify(context.Background(), seedUser(t, users, false, "tok-inactive"), ev)
	d.Notify(context.Background(), uuid.New(), ev)

	if gw.count() != 0 {
		t.Fatalf("gateway called %d times, want 0", gw.count())
	}
}

func TestNotifyFansOutToEveryDevice(t *testing.T) {
	users := memory.NewUserStore(memory.NewDB())
	gw := &fakeGateway{}
	d := NewDispatcher(users, gw, 2, zap.NewNop())

	id := seedUser(t, users, true, "phone", "tablet", "phone")
	d.Notify(context.Background(), id, Event{Kind: KindNewMessage, Title: "hi", Data: map[string]string{"k": "v"}})

	if gw.count() != 1 {
		t.Fatalf("gateway called %d times, want 1", gw.count())
	}
	call := gw.calls[0]
	if len(call.tokens) != 2 {
		t.Fatalf("tokens = %v, want two distinct devices", call.tokens)
	}
	if call.n.Data["type"] != string(KindNewMessage) || call.n.Data["k"] != "v" {
		t.Fatalf("data = %v", call.n.Data)
	}
}

func TestNotifyAllIsolatesFailures(t *testing.T) {
	users := memory.NewUserStore(memory.NewDB())
	gw := &fakeGateway{fail: map[string]error{"bad": errors.New("unregistered")}}
	d := NewDispatcher(users, gw, 2, zap.NewNop())

	ids := []uuid.UUID{
		seedUser(t, users, true, "bad"),
		seedUser(t, users, true, "good-1"),
		seedUser(t, users, true, "good-2"),
	}
	d.NotifyAll(context.Background(), ids, Event{Kind: KindTaskComment})

	if gw.count() != 3 {
		t.Fatalf("gateway called %d times, want 3", gw.count())
	}
}

func TestNotifyRecoversGatewayPanic(t *testing.T) {
	users := memory.NewUserStore(memory.NewDB())
	d := NewDispatcher(users, &fakeGateway{panic: true}, 1, zap.NewNop())

	d.Notify(context.Background(), seedUser(t, users, true, "tok"), Event{Kind: KindTaskAssigned})
}

func TestGoOutlivesCallerContext(t *testing.T) {
	users := memory.NewUserStore(memory.NewDB())
	gw := &fakeGateway{}
	d := NewDispatcher(users, gw, 2, zap.NewNop())
	id := seedUser(t, users, true, "tok")

	ctx, cancel := context.WithCancel(context.Background())
	d.Go(ctx, []uuid.UUID{id}, Event{Kind: KindTaskAssigned})
	cancel()

	waitCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := d.Wait(waitCtx); err != nil {
		t.Fatal(err)
	}
	if gw.count() != 1 {
		t.Fatalf("gateway called %d times, want 1", gw.count())
	}
}

func TestNewMessageBody(t *testing.T) {
	m := &models.Message{ID: 7, ConversationID: uuid.New(), SenderID: uuid.New(), Content: "hello", MessageType: models.MessageText}
	if got := NewMessage("Ann", m); got.Body != "hello" || got.Title != "Message from Ann" {
		t.Fatalf("text event = %+v", got)
	}
	m.MessageType = models.MessageImage
	if got := NewMessage("Ann", m); got.Body != "Sent image" {
		t.Fatalf("image body = %q", got.Body)
	}
}
