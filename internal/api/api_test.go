package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pushkarjay/safecom/internal/auth"
	"github.com/pushkarjay/safecom/internal/messaging"
	"github.com/pushkarjay/safecom/internal/models"
	"github.com/pushkarjay/safecom/internal/notify"
	"github.com/pushkarjay/safecom/internal/realtime"
	"github.com/pushkarjay/safecom/internal/repository/memory"
	"github.com/pushkarjay/safecom/internal/tasks"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

type server struct {
	router *gin.Engine
	users  *memory.UserStore
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	mem := memory.NewDB()
	users := memory.NewUserStore(mem)
	hub := realtime.NewHub(logger)
	dispatcher := notify.NewDispatcher(users, notify.NewNopGateway(logger), 2, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = dispatcher.Wait(ctx)
	})

	manager := tasks.NewManager(memory.NewTaskStore(mem), users, dispatcher, hub, logger)
	tracker := messaging.NewTracker(memory.NewConversationStore(mem), memory.NewMessageStore(mem),
		users, dispatcher, hub, time.Hour, logger)

	router := NewRouter(Handlers{
		Auth:          NewAuthHandler(users, testSecret, time.Hour, "boss@example.com", logger),
		Users:         NewUserHandler(users, logger),
		Tasks:         NewTaskHandler(manager, logger),
		Conversations: NewConversationHandler(tracker, logger),
		Messages:      NewMessageHandler(tracker, logger),
		WS:            NewWSHandler(hub, tracker, testSecret, logger),
	}, testSecret, logger)

	return &server{router: router, users: users}
}

// seed creates an active user directly in the store and returns a token
// for them.
func (s *server) seed(t *testing.T, email string, role models.Role) (*models.User, string) {
	t.Helper()
	u, err := s.users.Create(context.Background(), &models.User{
		Email: email, Name: email, Role: role, IsActive: true,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	token, err := auth.GenerateToken(u.ID, u.Role, u.Email, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return u, token
}

func (s *server) do(t *testing.T, method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, want, w.Body.String())
	}
}

func TestHealth(t *testing.T) {
	s := newServer(t)
	w := s.do(t, http.MethodGet, "/v1/health", "", nil)
	expectStatus(t, w, http.StatusOK)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newServer(t)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong scheme", "Basic abc"},
		{"bad token", "Bearer nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/tasks", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			s.router.ServeHTTP(w, req)
			expectStatus(t, w, http.StatusUnauthorized)
		})
	}
}

func TestSignupAndLogin(t *testing.T) {
	s := newServer(t)

	w := s.do(t, http.MethodPost, "/v1/auth/signup", "", map[string]string{
		"email": "ann@example.com", "password": "password1", "name": "Ann",
	})
	expectStatus(t, w, http.StatusCreated)
	resp := decode[authResponse](t, w)
	if resp.Token == "" || resp.User.Role != models.RoleEmployee {
		t.Fatalf("signup response = %+v", resp)
	}

	w = s.do(t, http.MethodPost, "/v1/auth/signup", "", map[string]string{
		"email": "ANN@example.com", "password": "password1", "name": "Ann again",
	})
	expectStatus(t, w, http.StatusConflict)

	w = s.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email": "ann@example.com", "password": "wrong-password",
	})
	expectStatus(t, w, http.StatusUnauthorized)

	w = s.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email": "ann@example.com", "password": "password1", "device_token": "dev-1",
	})
	expectStatus(t, w, http.StatusOK)
	login := decode[authResponse](t, w)

	u, _ := s.users.GetByID(context.Background(), login.User.ID)
	if len(u.DeviceTokens) != 1 || u.DeviceTokens[0] != "dev-1" {
		t.Errorf("device tokens = %v", u.DeviceTokens)
	}
	if u.LastLoginAt == nil {
		t.Error("last login not recorded")
	}

	w = s.do(t, http.MethodGet, "/v1/users/me", login.Token, nil)
	expectStatus(t, w, http.StatusOK)
	if me := decode[models.User](t, w); me.Email != "ann@example.com" {
		t.Errorf("me = %+v", me)
	}
}

func TestBootstrapAdminSignup(t *testing.T) {
	s := newServer(t)
	w := s.do(t, http.MethodPost, "/v1/auth/signup", "", map[string]string{
		"email": "Boss@Example.com", "password": "password1", "name": "Boss",
	})
	expectStatus(t, w, http.StatusCreated)
	if resp := decode[authResponse](t, w); resp.User.Role != models.RoleAdmin {
		t.Errorf("role = %s, want Admin", resp.User.Role)
	}
}

func TestDevices(t *testing.T) {
	s := newServer(t)
	u, token := s.seed(t, "dev@example.com", models.RoleEmployee)

	for range 2 {
		w := s.do(t, http.MethodPost, "/v1/users/me/devices", token, map[string]string{"token": "abc"})
		expectStatus(t, w, http.StatusNoContent)
	}
	got, _ := s.users.GetByID(context.Background(), u.ID)
	if len(got.DeviceTokens) != 1 {
		t.Fatalf("tokens = %v, want one", got.DeviceTokens)
	}

	w := s.do(t, http.MethodDelete, "/v1/users/me/devices/abc", token, nil)
	expectStatus(t, w, http.StatusNoContent)
	got, _ = s.users.GetByID(context.Background(), u.ID)
	if len(got.DeviceTokens) != 0 {
		t.Errorf("tokens = %v, want none", got.DeviceTokens)
	}
}

func TestDeactivate(t *testing.T) {
	s := newServer(t)
	_, adminToken := s.seed(t, "admin@example.com", models.RoleAdmin)
	_, mgrToken := s.seed(t, "mgr@example.com", models.RoleManager)
	emp, _ := s.seed(t, "emp@example.com", models.RoleEmployee)

	path := "/v1/users/" + emp.ID.String() + "/deactivate"
	expectStatus(t, s.do(t, http.MethodPatch, path, mgrToken, nil), http.StatusForbidden)
	expectStatus(t, s.do(t, http.MethodPatch, "/v1/users/"+uuid.NewString()+"/deactivate", adminToken, nil), http.StatusNotFound)

	w := s.do(t, http.MethodPatch, path, adminToken, nil)
	expectStatus(t, w, http.StatusOK)
	if u := decode[models.User](t, w); u.IsActive {
		t.Error("user still active")
	}
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	s := newServer(t)
	_, mgrToken := s.seed(t, "mgr@example.com", models.RoleManager)
	emp, empToken := s.seed(t, "emp@example.com", models.RoleEmployee)

	w := s.do(t, http.MethodPost, "/v1/tasks", mgrToken, map[string]any{
		"title": "Fix pump", "priority": "High", "assigned_to": emp.ID,
	}, idempotencyHeader, "req-1")
	expectStatus(t, w, http.StatusCreated)
	task := decode[models.Task](t, w)
	if task.Status != models.StatusPending {
		t.Fatalf("status = %s", task.Status)
	}

	// A retry with the same key returns the same task.
	w = s.do(t, http.MethodPost, "/v1/tasks", mgrToken, map[string]any{
		"title": "Fix pump", "priority": "High", "assigned_to": emp.ID,
	}, idempotencyHeader, "req-1")
	expectStatus(t, w, http.StatusCreated)
	if again := decode[models.Task](t, w); again.ID != task.ID {
		t.Fatalf("retry created a second task %s", again.ID)
	}

	path := "/v1/tasks/" + task.ID.String()
	expectStatus(t, s.do(t, http.MethodPatch, path, empToken, map[string]any{"status": "IN_PROGRESS"}), http.StatusOK)

	w = s.do(t, http.MethodPatch, path, empToken, map[string]any{"status": "COMPLETED"})
	expectStatus(t, w, http.StatusOK)
	if done := decode[models.Task](t, w); done.CompletedAt == nil {
		t.Error("completed_at not set")
	}

	expectStatus(t, s.do(t, http.MethodPatch, path, empToken, map[string]any{"status": "PENDING"}), http.StatusConflict)
	expectStatus(t, s.do(t, http.MethodPatch, path, empToken, map[string]any{"status": "OVERDUE"}), http.StatusBadRequest)

	w = s.do(t, http.MethodPost, path+"/comments", empToken, map[string]string{"content": "done"})
	expectStatus(t, w, http.StatusCreated)

	w = s.do(t, http.MethodGet, "/v1/tasks?status=COMPLETED", empToken, nil)
	expectStatus(t, w, http.StatusOK)
	list := decode[struct {
		Tasks []models.Task `json:"tasks"`
	}](t, w)
	if len(list.Tasks) != 1 || list.Tasks[0].ID != task.ID {
		t.Errorf("list = %+v", list.Tasks)
	}

	expectStatus(t, s.do(t, http.MethodDelete, path, empToken, nil), http.StatusForbidden)
	expectStatus(t, s.do(t, http.MethodDelete, path, mgrToken, nil), http.StatusNoContent)
	expectStatus(t, s.do(t, http.MethodGet, path, mgrToken, nil), http.StatusNotFound)
}

func TestTaskBadRequests(t *testing.T) {
	s := newServer(t)
	_, token := s.seed(t, "emp@example.com", models.RoleEmployee)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"bad id", http.MethodGet, "/v1/tasks/not-a-uuid", nil, http.StatusBadRequest},
		{"empty title", http.MethodPost, "/v1/tasks", map[string]string{"title": " "}, http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/v1/tasks?limit=-1", nil, http.StatusBadRequest},
		{"bad assignee filter", http.MethodGet, "/v1/tasks?assigned_to=x", nil, http.StatusBadRequest},
		{"zero seconds", http.MethodPost, "/v1/tasks/" + uuid.NewString() + "/time", map[string]int{"seconds": 0}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectStatus(t, s.do(t, tt.method, tt.path, token, tt.body), tt.want)
		})
	}
}

func TestValidationErrorCarriesFields(t *testing.T) {
	s := newServer(t)
	_, token := s.seed(t, "emp@example.com", models.RoleEmployee)

	w := s.do(t, http.MethodPost, "/v1/tasks", token, map[string]string{"title": "", "priority": "Urgent"})
	expectStatus(t, w, http.StatusBadRequest)
	body := decode[map[string]any](t, w)
	if _, ok := body["fields"]; !ok {
		t.Errorf("no fields in %v", body)
	}
}

func TestMessagingOverHTTP(t *testing.T) {
	s := newServer(t)
	alice, aliceToken := s.seed(t, "alice@example.com", models.RoleEmployee)
	bob, bobToken := s.seed(t, "bob@example.com", models.RoleEmployee)
	_, eveToken := s.seed(t, "eve@example.com", models.RoleEmployee)

	w := s.do(t, http.MethodPost, "/v1/messages", aliceToken, map[string]any{
		"recipient_id": bob.ID, "content": "hello bob",
	})
	expectStatus(t, w, http.StatusCreated)
	msg := decode[models.Message](t, w)
	if msg.SenderID != alice.ID {
		t.Fatalf("sender = %s", msg.SenderID)
	}
	convPath := "/v1/conversations/" + msg.ConversationID.String()

	w = s.do(t, http.MethodGet, "/v1/messages/unread-count", bobToken, nil)
	expectStatus(t, w, http.StatusOK)
	if n := decode[map[string]int](t, w)["unread"]; n != 1 {
		t.Errorf("unread = %d, want 1", n)
	}

	expectStatus(t, s.do(t, http.MethodGet, convPath+"/messages", eveToken, nil), http.StatusForbidden)

	w = s.do(t, http.MethodGet, convPath+"/messages", bobToken, nil)
	expectStatus(t, w, http.StatusOK)
	page := decode[struct {
		Messages []models.Message `json:"messages"`
	}](t, w)
	if len(page.Messages) != 1 || !page.Messages[0].DeliveredToUser(bob.ID) {
		t.Fatalf("page = %+v", page.Messages)
	}

	expectStatus(t, s.do(t, http.MethodPatch, convPath+"/read", bobToken, nil), http.StatusOK)
	w = s.do(t, http.MethodGet, "/v1/messages/unread-count?conversation_id="+msg.ConversationID.String(), bobToken, nil)
	if n := decode[map[string]int](t, w)["unread"]; n != 0 {
		t.Errorf("unread after read = %d", n)
	}

	msgPath := "/v1/messages/" + jsonInt(msg.ID)
	expectStatus(t, s.do(t, http.MethodPatch, msgPath, bobToken, map[string]string{"content": "hijack"}), http.StatusForbidden)
	w = s.do(t, http.MethodPatch, msgPath, aliceToken, map[string]string{"content": "hello, bob"})
	expectStatus(t, w, http.StatusOK)
	if edited := decode[models.Message](t, w); !edited.IsEdited {
		t.Error("not marked edited")
	}

	w = s.do(t, http.MethodPost, msgPath+"/reactions", bobToken, map[string]string{"emoji": "👍"})
	expectStatus(t, w, http.StatusOK)
	if reacted := decode[models.Message](t, w); len(reacted.Reactions) != 1 {
		t.Errorf("reactions = %+v", reacted.Reactions)
	}

	expectStatus(t, s.do(t, http.MethodGet, "/v1/messages/search?q=h", aliceToken, nil), http.StatusBadRequest)
	w = s.do(t, http.MethodGet, "/v1/messages/search?q=bob", aliceToken, nil)
	expectStatus(t, w, http.StatusOK)

	w = s.do(t, http.MethodGet, "/v1/conversations", bobToken, nil)
	expectStatus(t, w, http.StatusOK)
	convs := decode[struct {
		Conversations []models.ConversationView `json:"conversations"`
	}](t, w)
	if len(convs.Conversations) != 1 {
		t.Fatalf("conversations = %+v", convs.Conversations)
	}

	expectStatus(t, s.do(t, http.MethodPatch, convPath+"/archive", bobToken, nil), http.StatusNoContent)
	w = s.do(t, http.MethodGet, "/v1/conversations", bobToken, nil)
	convs = decode[struct {
		Conversations []models.ConversationView `json:"conversations"`
	}](t, w)
	if len(convs.Conversations) != 0 {
		t.Errorf("archived conversation still listed")
	}

	expectStatus(t, s.do(t, http.MethodDelete, msgPath, aliceToken, nil), http.StatusNoContent)
	expectStatus(t, s.do(t, http.MethodDelete, "/v1/messages/abc", aliceToken, nil), http.StatusBadRequest)
}

func TestWebsocketRejectsBadToken(t *testing.T) {
	s := newServer(t)
	w := s.do(t, http.MethodGet, "/v1/ws?token=bad", "", nil)
	expectStatus(t, w, http.StatusUnauthorized)
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
