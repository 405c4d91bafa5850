package message

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajivgeraev/bookswap-api/internal/conversation"
	"github.com/rajivgeraev/bookswap-api/internal/delivery"
	"github.com/rajivgeraev/bookswap-api/internal/middleware"
	"github.com/rajivgeraev/bookswap-api/internal/models"
	"github.com/rajivgeraev/bookswap-api/internal/ratelimit"
	"github.com/rajivgeraev/bookswap-api/internal/store/memstore"
	"github.com/rajivgeraev/bookswap-api/internal/utils"
)

type fixture struct {
	app    *fiber.App
	users  map[string]uuid.UUID
	tokens map[string]string
}

func newFixture(t *testing.T, burst int) *fixture {
	t.Helper()
	st := memstore.New()
	jwtService := utils.NewJWTService("test-secret")
	limiter := ratelimit.NewMemory(1, burst)
	t.Cleanup(limiter.Close)

	f := &fixture{
		app:    fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler}),
		users:  make(map[string]uuid.UUID),
		tokens: make(map[string]string),
	}
	service := NewMessageService(delivery.New(st, st, st, nil, delivery.Options{}), conversation.NewIndex(st, st))
	service.SetupRoutes(f.app, middleware.AuthMiddleware(jwtService), middleware.RateLimit(limiter))

	for _, name := range []string{"alice", "bob", "carol"} {
		user := &models.User{Username: name}
		require.NoError(t, st.CreateUser(context.Background(), user))
		token, err := jwtService.GenerateToken(user.ID)
		require.NoError(t, err)
		f.users[name] = user.ID
		f.tokens[name] = token
	}
	return f
}

func (f *fixture) do(t *testing.T, method, path, user string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+f.tokens[user])
	}
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func (f *fixture) send(t *testing.T, from, to, text string) models.Message {
	t.Helper()
	status, body := f.do(t, http.MethodPost, "/api/messages", from, SendMessageRequest{
		Receiver: f.users[to].String(),
		Text:     text,
	})
	require.Equal(t, fiber.StatusCreated, status, string(body))

	var msg models.Message
	require.NoError(t, json.Unmarshal(body, &msg))
	return msg
}

func TestSendMessageValidation(t *testing.T) {
	f := newFixture(t, 10)

	status, _ := f.do(t, http.MethodPost, "/api/messages", "alice", SendMessageRequest{Receiver: "bad", Text: "Привет"})
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = f.do(t, http.MethodPost, "/api/messages", "alice", SendMessageRequest{Receiver: f.users["bob"].String(), Text: "   "})
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = f.do(t, http.MethodPost, "/api/messages", "alice", SendMessageRequest{Receiver: uuid.NewString(), Text: "Привет"})
	assert.Equal(t, fiber.StatusNotFound, status)

	status, _ = f.do(t, http.MethodPost, "/api/messages", "alice", SendMessageRequest{
		Receiver:    f.users["bob"].String(),
		Text:        "Привет",
		RelatedItem: uuid.NewString(),
	})
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestConversationFlow(t *testing.T) {
	f := newFixture(t, 10)

	first := f.send(t, "alice", "bob", "Привет! Книга еще у тебя?")
	f.send(t, "alice", "bob", "Могу забрать завтра")
	f.send(t, "carol", "bob", "Добрый день")

	status, body := f.do(t, http.MethodGet, "/api/messages/unread-count", "bob", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.JSONEq(t, `{"count":3}`, string(body))

	status, body = f.do(t, http.MethodGet, "/api/messages/conversations", "bob", nil)
	require.Equal(t, fiber.StatusOK, status)
	var conversations []models.Conversation
	require.NoError(t, json.Unmarshal(body, &conversations))
	require.Len(t, conversations, 2)
	assert.Equal(t, f.users["carol"], conversations[0].Partner.ID)

	status, body = f.do(t, http.MethodGet, "/api/messages/conversation/"+f.users["alice"].String(), "bob", nil)
	require.Equal(t, fiber.StatusOK, status)
	var messages []models.Message
	require.NoError(t, json.Unmarshal(body, &messages))
	require.Len(t, messages, 2)
	assert.Equal(t, first.ID, messages[0].ID)

	status, body = f.do(t, http.MethodGet, "/api/messages/unread-count", "bob", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.JSONEq(t, `{"count":1}`, string(body))
}

func TestMarkAsReadOnlyByReceiver(t *testing.T) {
	f := newFixture(t, 10)
	msg := f.send(t, "alice", "bob", "Привет")
	path := "/api/messages/" + msg.ID.String() + "/read"

	status, _ := f.do(t, http.MethodPut, path, "alice", nil)
	assert.Equal(t, fiber.StatusForbidden, status)

	status, body := f.do(t, http.MethodPut, path, "bob", nil)
	require.Equal(t, fiber.StatusOK, status)
	var read models.Message
	require.NoError(t, json.Unmarshal(body, &read))
	assert.True(t, read.IsRead)

	status, _ = f.do(t, http.MethodPut, "/api/messages/"+uuid.NewString()+"/read", "bob", nil)
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestSendMessageRateLimited(t *testing.T) {
	f := newFixture(t, 2)

	f.send(t, "alice", "bob", "1")
	f.send(t, "alice", "bob", "2")
	status, _ := f.do(t, http.MethodPost, "/api/messages", "alice", SendMessageRequest{Receiver: f.users["bob"].String(), Text: "3"})
	assert.Equal(t, fiber.StatusTooManyRequests, status)

	// чтение не ограничивается
	status, _ = f.do(t, http.MethodGet, "/api/messages/unread-count", "alice", nil)
	assert.Equal(t, fiber.StatusOK, status)
}
