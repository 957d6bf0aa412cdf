package tasks

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

type pushed struct {
	to []uuid.UUID
	ev notify.Event
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []pushed
}

func (n *fakeNotifier) Go(ctx context.Context, userIDs []uuid.UUID, ev notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, pushed{to: userIDs, ev: ev})
}

func (n *fakeNotifier) kind(k notify.Kind) []pushed {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []pushed
	for _, c := range n.calls {
		if c.ev.Kind == k {
			out = append(out, c)
		}
	}
	return out
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	topics []string
}

func (b *fakeBroadcaster) Publish(ctx context.Context, topic string, ev realtime.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics = append(b.topics, topic)
}

type fixture struct {
	mgr      *Manager
	notifier *fakeNotifier
	users    *memory.UserStore
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := memory.NewDB()
	f := &fixture{
		notifier: &fakeNotifier{},
		users:    memory.NewUserStore(db),
		now:      time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.mgr = NewManager(memory.NewTaskStore(db), f.users, f.notifier, &fakeBroadcaster{}, zap.NewNop())
	f.mgr.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) user(t *testing.T, role models.Role) auth.Principal {
	t.Helper()
	u, err := f.users.Create(context.Background(), &models.User{
		Email:    uuid.NewString() + "@example.com",
		Name:     string(role),
		Role:     role,
		IsActive: true,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return auth.Principal{UserID: u.ID, Role: role}
}

func ptr[T any](v T) *T { return &v }

func TestCreateWithoutAssigneeNotifiesNobody(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, models.RoleManager)

	task, err := f.mgr.CreateTask(context.Background(), CreateInput{Title: "Inspect site"}, a, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.Status != models.StatusPending || task.Priority != models.PriorityMedium {
		t.Fatalf("status=%s priority=%s", task.Status, task.Priority)
	}
	if task.CompletedAt != nil {
		t.Fatal("new task has completed_at")
	}
	if len(f.notifier.calls) != 0 {
		t.Fatalf("notifications sent: %+v", f.notifier.calls)
	}
}

func TestAssignNotifiesOnlyOnChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, models.RoleManager)
	b := f.user(t, models.RoleEmployee)

	task, err := f.mgr.CreateTask(ctx, CreateInput{Title: "Inspect site"}, a, "")
	if err != nil {
		t.Fatal(err)
	}

	patch := Patch{AssignedTo: models.Some(b.UserID)}
	updated, err := f.mgr.UpdateTask(ctx, task.ID, patch, a)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if !updated.IsAssignee(b.UserID) || updated.AssignedBy == nil || *updated.AssignedBy != a.UserID {
		t.Fatalf("assigned_to=%v assigned_by=%v", updated.AssignedTo, updated.AssignedBy)
	}
	got := f.notifier.kind(notify.KindTaskAssigned)
	if len(got) != 1 || len(got[0].to) != 1 || got[0].to[0] != b.UserID {
		t.Fatalf("assigned notifications = %+v", got)
	}

	if _, err := f.mgr.UpdateTask(ctx, task.ID, patch, a); err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if got := f.notifier.kind(notify.KindTaskAssigned); len(got) != 1 {
		t.Fatalf("repeat assignment sent %d notifications, want 1 total", len(got))
	}
}

func TestSelfAssignmentOnCreateIsSilent(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, models.RoleEmployee)

	_, err := f.mgr.CreateTask(context.Background(), CreateInput{Title: "mine", AssignedTo: &a.UserID}, a, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(f.notifier.calls) != 0 {
		t.Fatalf("self assignment notified: %+v", f.notifier.calls)
	}
}

func TestSelfAssignmentOnUpdateNotifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, models.RoleEmployee)

	task, err := f.mgr.CreateTask(ctx, CreateInput{Title: "mine later"}, a, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.mgr.UpdateTask(ctx, task.ID, Patch{AssignedTo: models.Some(a.UserID)}, a); err != nil {
		t.Fatalf("take: %v", err)
	}
	got := f.notifier.kind(notify.KindTaskAssigned)
	if len(got) != 1 || len(got[0].to) != 1 || got[0].to[0] != a.UserID {
		t.Fatalf("assigned notifications = %+v", got)
	}
}

func TestEmployeeAssignsToPeer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, models.RoleEmployee)
	b := f.user(t, models.RoleEmployee)
	c := f.user(t, models.RoleEmployee)

	task, err := f.mgr.CreateTask(ctx, CreateInput{Title: "Check valves", AssignedTo: &b.UserID}, a, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got := f.notifier.kind(notify.KindTaskAssigned)
	if len(got) != 1 || len(got[0].to) != 1 || got[0].to[0] != b.UserID {
		t.Fatalf("assigned notifications after create = %+v", got)
	}

	updated, err := f.mgr.UpdateTask(ctx, task.ID, Patch{AssignedTo: models.Some(c.UserID)}, a)
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if !updated.IsAssignee(c.UserID) {
		t.Fatalf("assigned_to = %v, want %s", updated.AssignedTo, c.UserID)
	}
	got = f.notifier.kind(notify.KindTaskAssigned)
	if len(got) != 2 || got[1].to[0] != c.UserID {
		t.Fatalf("assigned notifications after update = %+v", got)
	}
}

func TestAssignToUnknownUser(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, models.RoleEmployee)
	ghost := uuid.New()

	_, err := f.mgr.CreateTask(context.Background(), CreateInput{Title: "x", AssignedTo: &ghost}, a, "")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want NotFound", err)
	}
}

func TestStatusChangeNotifiesStakeholdersExceptActor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, models.RoleManager)
	b := f.user(t, models.RoleEmployee)
	w := f.user(t, models.RoleEmployee)

	task, err := f.mgr.CreateTask(ctx, CreateInput{
		Title:      "Fix fence",
		AssignedTo: &b.UserID,
		Watchers:   []uuid.UUID{w.UserID, w.UserID, a.UserID},
	}, a, "")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.mgr.UpdateTask(ctx, task.ID, Patch{Status: ptr(models.StatusInProgress)}, b); err != nil {
		t.Fatalf("start: %v", err)
	}
	got := f.notifier.kind(notify.KindTaskStatusChanged)
	if len(got) != 1 {
		t.Fatalf("status notifications = %d, want 1", len(got))
	}
	want := map[uuid.UUID]bool{a.UserID: true, w.UserID: true}
	if len(got[0].to) != len(want) {
		t.Fatalf("recipients = %v", got[0].to)
	}
	for _, id := range got[0].to {
		if !want[id] {
			t.Fatalf("unexpected recipient %s", id)
		}
	}
	if got[0].ev.Data["oldStatus"] != "PENDING" || got[0].ev.Data["newStatus"] != "IN_PROGRESS" {
		t.Fatalf("event data = %v", got[0].ev.Data)
	}

	// Same status again is not a change.
	if _, err := f.mgr.UpdateTask(ctx, task.ID, Patch{Status: ptr(models.StatusInProgress)}, b); err != nil {
		t.Fatal(err)
	}
	if n := len(f.notifier.kind(notify.KindTaskStatusChanged)); n != 1 {
		t.Fatalf("no-op status patch notified, total %d", n)
	}
}

func TestCompletedAtFollowsStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, models.RoleManager)

	task, err := f.mgr.CreateTask(ctx, CreateInput{Title: "t"}, a, "")
	if err != nil {
		t.Fatal(err)
	}

	steps := []struct {
		status    models.TaskStatus
		completed bool
	}{
		{models.StatusInProgress, false},
		{models.StatusPending, false},
		{models.StatusCompleted, true},
	}
	for _, s := range steps {
		got, err := f.mgr.UpdateTask(ctx, task.ID, Patch{Status: ptr(s.status)}, a)
		if err != nil {
			t.Fatalf("-> %s: %v", s.status, err)
		}
		if (got.CompletedAt != nil) != s.completed || (got.Status == models.StatusCompleted) != s.completed {
			t.Fatalf("status=%s completed_at=%v", got.Status, got.CompletedAt)
		}
	}
}

func TestTerminalStatesRejectTransitions(t *testing.T) {
	for _, terminal := range []models.TaskStatus{models.StatusCompleted, models.StatusCancelled} {
		t.Run(string(terminal), func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			a := f.user(t, models.RoleManager)
			task, err := f.mgr.CreateTask(ctx, CreateInput{Title: "t"}, a, "")
			if err != nil {
				t.Fatal(err)
			}
			if _, err := f.mgr.UpdateTask(ctx, task.ID, Patch{Status: ptr(terminal)}, a); err != nil {
				t.Fatal(err)
			}

			_, err = f.mgr.UpdateTask(ctx, task.ID, Patch{Status: ptr(models.StatusInProgress)}, a)
			if !errors.Is(err, apperr.ErrInvalidTransition) {
				t.Fatalf("err = %v, want InvalidTransition", err)
			}

			// Non-status fields are still editable.
			got, err := f.mgr.UpdateTask(ctx, task.ID, Patch{Title: ptr("renamed")}, a)
			if err != nil || got.Title != "renamed" || got.Status != terminal {
				t.Fatalf("title update: %v %+v", err, got)
			}
		})
	}
}

func TestOverdueIsDerived(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, models.RoleManager)
	due := f.now.Add(-time.Millisecond)

	task, err := f.mgr.CreateTask(ctx, CreateInput{Title: "late", DueDate: &due}, a, "")
	if err != nil {
		t.Fatal(err)
	}
	got, err := f.mgr.UpdateTask(ctx, task.ID, Patch{Status: ptr(models.StatusInProgress)}, a)
	if err != nil {
		t.Fatal(err)
	}
	if got.EffectiveStatus != models.StatusOverdue || got.Status != models.StatusInProgress {
		t.Fatalf("in progress: status=%s effective=%s", got.Status, got.EffectiveStatus)
	}

	got, err = f.mgr.UpdateTask(ctx, task.ID, Patch{Status: ptr(models.StatusCompleted)}, a)
	if err != nil {
		t.Fatal(err)
	}
	if got.EffectiveStatus != models.StatusCompleted {
		t.Fatalf("completed task reads as %s", got.EffectiveStatus)
	}

	_, err = f.mgr.UpdateTask(ctx, task.ID, Patch{Status: ptr(models.StatusOverdue)}, a)
	if !errors.Is(err, apperr.ErrValidation) || apperr.FieldsOf(err)["status"] == "" {
		t.Fatalf("setting OVERDUE: %v", err)
	}
}

func TestOnlyCreatorOrAssigneeMutates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, models.RoleManager)
	b := f.user(t, models.RoleEmployee)
	c := f.user(t, models.RoleAdmin)

	task, err := f.mgr.CreateTask(ctx, CreateInput{Title: "t", AssignedTo: &b.UserID}, a, "")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.mgr.UpdateTask(ctx, task.ID, Patch{Title: ptr("x")}, c); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("outsider update: %v", err)
	}
	if err := f.mgr.DeleteTask(ctx, task.ID, b); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("assignee delete: %v", err)
	}
	if err := f.mgr.DeleteTask(ctx, task.ID, a); err != nil {
		t.Fatalf("creator delete: %v", err)
	}
	if _, err := f.mgr.GetTask(ctx, task.ID, a); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("get after delete: %v", err)
	}
}

func TestVisibilityFollowsCapabilities(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, models.RoleEmployee)
	other := f.user(t, models.RoleEmployee)
	mgr := f.user(t, models.RoleManager)

	task, err := f.mgr.CreateTask(ctx, CreateInput{Title: "private"}, a, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.mgr.GetTask(ctx, task.ID, other); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("other employee get: %v", err)
	}
	if _, err := f.mgr.GetTask(ctx, task.ID, mgr); err != nil {
		t.Fatalf("manager get: %v", err)
	}

	list, err := f.mgr.ListTasks(ctx, ListFilter{}, other)
	if err != nil || len(list) != 0 {
		t.Fatalf("other employee list: %v %d", err, len(list))
	}
	list, err = f.mgr.ListTasks(ctx, ListFilter{}, mgr)
	if err != nil || len(list) != 1 {
		t.Fatalf("manager list: %v %d", err, len(list))
	}
}

func TestCreateIsIdempotentPerKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, models.RoleManager)
	b := f.user(t, models.RoleEmployee)
	in := CreateInput{Title: "once", AssignedTo: &b.UserID}

	first, err := f.mgr.CreateTask(ctx, in, a, "key-1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.mgr.CreateTask(ctx, in, a, "key-1")
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Fatalf("replay created a second task: %s vs %s", first.ID, second.ID)
	}
	if n := len(f.notifier.kind(notify.KindTaskAssigned)); n != 1 {
		t.Fatalf("replay notified again: %d", n)
	}
}

func TestCommentAndTimeLog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, models.RoleManager)
	b := f.user(t, models.RoleEmployee)

	task, err := f.mgr.CreateTask(ctx, CreateInput{Title: "t", AssignedTo: &b.UserID}, a, "")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.mgr.AddComment(ctx, task.ID, "on my way", b); err != nil {
		t.Fatalf("comment: %v", err)
	}
	got := f.notifier.kind(notify.KindTaskComment)
	if len(got) != 1 || len(got[0].to) != 1 || got[0].to[0] != a.UserID {
		t.Fatalf("comment notifications = %+v", got)
	}

	if _, err := f.mgr.LogTime(ctx, task.ID, 90, a); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("creator log time: %v", err)
	}
	if _, err := f.mgr.LogTime(ctx, task.ID, 0, b); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("zero seconds: %v", err)
	}
	if _, err := f.mgr.LogTime(ctx, task.ID, 90, b); err != nil {
		t.Fatalf("log time: %v", err)
	}

	full, err := f.mgr.GetTask(ctx, task.ID, a)
	if err != nil {
		t.Fatal(err)
	}
	if len(full.Comments) != 1 || len(full.TimeLogs) != 1 || full.TimeLogs[0].UserID != b.UserID {
		t.Fatalf("comments=%d time_logs=%+v", len(full.Comments), full.TimeLogs)
	}
}

func TestWatchersHaveSetSemantics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, models.RoleManager)
	w := f.user(t, models.RoleEmployee)

	task, err := f.mgr.CreateTask(ctx, CreateInput{Title: "t"}, a, "")
	if err != nil {
		t.Fatal(err)
	}
	for range 2 {
		if task, err = f.mgr.AddWatcher(ctx, task.ID, w.UserID, a); err != nil {
			t.Fatal(err)
		}
	}
	if len(task.Watchers) != 1 {
		t.Fatalf("watchers = %v", task.Watchers)
	}

	if task, err = f.mgr.RemoveWatcher(ctx, task.ID, w.UserID, w); err != nil {
		t.Fatalf("self remove: %v", err)
	}
	if len(task.Watchers) != 0 {
		t.Fatalf("watchers = %v", task.Watchers)
	}
}
