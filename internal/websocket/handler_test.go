package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajivgeraev/bookswap-api/internal/delivery"
	"github.com/rajivgeraev/bookswap-api/internal/models"
	"github.com/rajivgeraev/bookswap-api/internal/notify"
	"github.com/rajivgeraev/bookswap-api/internal/presence"
	"github.com/rajivgeraev/bookswap-api/internal/ratelimit"
	"github.com/rajivgeraev/bookswap-api/internal/store/memstore"
	"github.com/rajivgeraev/bookswap-api/internal/utils"
)

type liveFixture struct {
	server   *httptest.Server
	store    *memstore.Store
	registry *presence.Registry
	jwt      *utils.JWTService
}

func newLiveFixture(t *testing.T, limiter ratelimit.Limiter) *liveFixture {
	t.Helper()
	f := &liveFixture{
		store:    memstore.New(),
		registry: presence.NewRegistry(),
		jwt:      utils.NewJWTService("secret"),
	}
	bridge := notify.NewBridge(f.registry)
	channel := delivery.New(f.store, f.store, f.store, bridge, delivery.Options{})
	handler := NewHandler(f.jwt, f.registry, channel, bridge, Options{Limiter: limiter})
	f.server = httptest.NewServer(handler)
	t.Cleanup(f.server.Close)
	return f
}

func (f *liveFixture) user(t *testing.T, name string) *models.User {
	t.Helper()
	u := &models.User{Username: name}
	require.NoError(t, f.store.CreateUser(context.Background(), u))
	return u
}

func (f *liveFixture) dial(t *testing.T, u *models.User) *websocket.Conn {
	t.Helper()
	token, err := f.jwt.GenerateToken(u.ID)
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (f *liveFixture) connect(t *testing.T, u *models.User) *websocket.Conn {
	t.Helper()
	conn := f.dial(t, u)
	write(t, conn, EventRegister, u.ID.String())
	frame := read(t, conn)
	require.Equal(t, EventRegistered, frame.Event)
	return conn
}

func write(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Frame{Event: event, Data: raw}))
}

func read(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var frame Frame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestHandshakeRequiresToken(t *testing.T) {
	f := newLiveFixture(t, nil)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRegisterOnlyAsSelf(t *testing.T) {
	f := newLiveFixture(t, nil)
	alice := f.user(t, "alice")
	conn := f.dial(t, alice)

	write(t, conn, EventRegister, uuid.New().String())
	frame := read(t, conn)
	assert.Equal(t, EventError, frame.Event)
	assert.False(t, f.registry.Online(alice.ID))

	write(t, conn, EventRegister, alice.ID.String())
	assert.Equal(t, EventRegistered, read(t, conn).Event)
	assert.True(t, f.registry.Online(alice.ID))
}

func TestSendMessageReachesOnlineReceiver(t *testing.T) {
	f := newLiveFixture(t, nil)
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	aliceConn := f.connect(t, alice)
	bobConn := f.connect(t, bob)

	write(t, aliceConn, EventSendMessage, map[string]any{"receiverId": bob.ID, "message": "привет"})

	ack := read(t, aliceConn)
	require.Equal(t, EventMessageSent, ack.Event)
	var sent models.Message
	require.NoError(t, json.Unmarshal(ack.Data, &sent))
	assert.Equal(t, "привет", sent.Text)

	got := read(t, bobConn)
	require.Equal(t, notify.EventReceiveMessage, got.Event)
	var received models.Message
	require.NoError(t, json.Unmarshal(got.Data, &received))
	assert.Equal(t, sent.ID, received.ID)
	assert.Equal(t, alice.ID, received.SenderID)
	require.NotNil(t, received.Sender)
	assert.Equal(t, "alice", received.Sender.Username)

	// объектная форма с clientMessageId
	write(t, bobConn, EventSendMessage, map[string]any{
		"receiverId": alice.ID,
		"message":    map[string]any{"text": "ответ", "clientMessageId": "m-1"},
	})
	assert.Equal(t, EventMessageSent, read(t, bobConn).Event)
	assert.Equal(t, notify.EventReceiveMessage, read(t, aliceConn).Event)
}

func TestSendMessageErrorsComeBackAsEvents(t *testing.T) {
	f := newLiveFixture(t, nil)
	alice := f.user(t, "alice")
	conn := f.connect(t, alice)

	write(t, conn, EventSendMessage, map[string]any{"receiverId": uuid.New(), "message": "hi"})
	frame := read(t, conn)
	require.Equal(t, EventError, frame.Event)
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(frame.Data, &payload))
	assert.Equal(t, "not_found", string(payload.Kind))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, EventError, read(t, conn).Event)
}

func TestTypingIsForwarded(t *testing.T) {
	f := newLiveFixture(t, nil)
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	aliceConn := f.connect(t, alice)
	bobConn := f.connect(t, bob)

	write(t, aliceConn, EventTyping, map[string]any{"receiverId": bob.ID, "isTyping": true})

	frame := read(t, bobConn)
	require.Equal(t, notify.EventUserTyping, frame.Event)
	var payload notify.TypingPayload
	require.NoError(t, json.Unmarshal(frame.Data, &payload))
	assert.Equal(t, notify.TypingPayload{UserID: alice.ID, IsTyping: true}, payload)
}

func TestSendMessageRateLimited(t *testing.T) {
	limiter := ratelimit.NewMemory(1, 1)
	defer limiter.Close()
	f := newLiveFixture(t, limiter)
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	conn := f.connect(t, alice)

	write(t, conn, EventSendMessage, map[string]any{"receiverId": bob.ID, "message": "раз"})
	assert.Equal(t, EventMessageSent, read(t, conn).Event)

	write(t, conn, EventSendMessage, map[string]any{"receiverId": bob.ID, "message": "два"})
	frame := read(t, conn)
	require.Equal(t, EventError, frame.Event)
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(frame.Data, &payload))
	assert.Equal(t, "rate_limited", payload.Code)
}

func TestDisconnectUnregisters(t *testing.T) {
	f := newLiveFixture(t, nil)
	alice := f.user(t, "alice")
	conn := f.connect(t, alice)
	require.True(t, f.registry.Online(alice.ID))

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return !f.registry.Online(alice.ID) }, 5*time.Second, 10*time.Millisecond)
}

func TestLastConnectionWins(t *testing.T) {
	f := newLiveFixture(t, nil)
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	first := f.connect(t, bob)
	second := f.connect(t, bob)
	aliceConn := f.connect(t, alice)

	write(t, aliceConn, EventSendMessage, map[string]any{"receiverId": bob.ID, "message": "где ты?"})
	require.Equal(t, EventMessageSent, read(t, aliceConn).Event)
	assert.Equal(t, notify.EventReceiveMessage, read(t, second).Event)

	// первое соединение живо, но событие не получает
	require.NoError(t, first.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := first.ReadMessage()
	assert.Error(t, err)
}
