// Package websocket живой канал: переводит кадры клиента в вызовы компонентов и обратно.
// Бизнес-логики здесь нет.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rajivgeraev/bookswap-api/internal/apperrors"
	"github.com/rajivgeraev/bookswap-api/internal/delivery"
	"github.com/rajivgeraev/bookswap-api/internal/identity"
	"github.com/rajivgeraev/bookswap-api/internal/logger"
	"github.com/rajivgeraev/bookswap-api/internal/metrics"
	"github.com/rajivgeraev/bookswap-api/internal/presence"
	"github.com/rajivgeraev/bookswap-api/internal/ratelimit"
)

// События клиент -> сервер
const (
	EventRegister    = "register"
	EventSendMessage = "send_message"
	EventTyping      = "typing"
)

// События сервер -> клиент, которые формирует сам канал
const (
	EventRegistered  = "registered"
	EventMessageSent = "message_sent"
	EventError       = "error"
)

// operationTimeout ограничивает обработку одного кадра
const operationTimeout = 10 * time.Second

// Frame кадр живого канала
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SendMessagePayload данные send_message. Поле message может быть строкой или объектом.
type SendMessagePayload struct {
	ReceiverID uuid.UUID       `json:"receiverId"`
	Message    json.RawMessage `json:"message"`
}

// OutgoingMessage объектная форма поля message
type OutgoingMessage struct {
	Text            string     `json:"text"`
	RelatedItem     *uuid.UUID `json:"relatedItem,omitempty"`
	ClientMessageID string     `json:"clientMessageId,omitempty"`
}

// TypingPayload данные typing
type TypingPayload struct {
	ReceiverID uuid.UUID `json:"receiverId"`
	IsTyping   bool      `json:"isTyping"`
}

// ErrorPayload данные error
type ErrorPayload struct {
	Kind    apperrors.Kind `json:"kind"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
}

// TypingNotifier пересылает индикатор набора
type TypingNotifier interface {
	Typing(fromID, toID uuid.UUID, isTyping bool) bool
}

// Handler принимает соединения и разбирает кадры
type Handler struct {
	provider identity.Provider
	registry *presence.Registry
	channel  *delivery.Channel
	typing   TypingNotifier
	limiter  ratelimit.Limiter
	upgrader websocket.Upgrader
}

// Options параметры обработчика
type Options struct {
	// AllowedOrigins пустой список разрешает любой Origin
	AllowedOrigins []string
	Limiter        ratelimit.Limiter
}

// NewHandler создает обработчик живого канала
func NewHandler(provider identity.Provider, registry *presence.Registry, channel *delivery.Channel, typing TypingNotifier, opts Options) *Handler {
	h := &Handler{
		provider: provider,
		registry: registry,
		channel:  channel,
		typing:   typing,
		limiter:  opts.Limiter,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin(opts.AllowedOrigins),
	}
	return h
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if len(allowed) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// ServeHTTP проверяет токен и переводит соединение на WebSocket
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := identity.Resolve(h.provider, r.Header.Get("Authorization"), r.URL.Query().Get("token"))
	if err != nil {
		appErr := apperrors.From(err)
		http.Error(w, appErr.Message, appErr.Status)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug().Err(err).Msg("не удалось установить WebSocket соединение")
		return
	}

	client := NewClient(userID, conn, h)
	logger.Debug().
		Str("client_id", client.ID.String()).
		Str("user_id", userID.String()).
		Msg("WebSocket соединение установлено")
	client.Start()
}

func (h *Handler) disconnect(c *Client) {
	if userID, ok := h.registry.Unregister(c); ok {
		logger.Debug().
			Str("client_id", c.ID.String()).
			Str("user_id", userID.String()).
			Msg("WebSocket соединение снято с регистрации")
	}
}

// dispatch разбирает кадр и вызывает соответствующий компонент
func (h *Handler) dispatch(c *Client, raw []byte) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		h.fail(c, apperrors.Validation("Некорректный формат события"))
		return
	}

	switch frame.Event {
	case EventRegister:
		h.register(c, frame.Data)
	case EventSendMessage:
		h.sendMessage(c, frame.Data)
	case EventTyping:
		h.forwardTyping(c, frame.Data)
	default:
		h.fail(c, apperrors.Validation("Неизвестное событие: "+frame.Event))
	}
}

func (h *Handler) register(c *Client, data json.RawMessage) {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		h.fail(c, apperrors.Validation("Ожидается идентификатор пользователя"))
		return
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		h.fail(c, apperrors.Validation("Некорректный идентификатор пользователя"))
		return
	}
	if userID != c.UserID {
		h.fail(c, apperrors.Forbidden("Можно зарегистрироваться только под своим пользователем"))
		return
	}

	h.registry.Register(userID, c)
	h.reply(c, EventRegistered, map[string]uuid.UUID{"userId": userID})
}

func (h *Handler) sendMessage(c *Client, data json.RawMessage) {
	var payload SendMessagePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		h.fail(c, apperrors.Validation("Некорректные данные сообщения"))
		return
	}
	out, err := parseOutgoing(payload.Message)
	if err != nil {
		h.fail(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	if h.limiter != nil {
		ok, err := h.limiter.Allow(ctx, c.UserID.String())
		if err != nil {
			logger.Warn().Err(err).Msg("⚠️ лимитер недоступен, сообщение пропущено без проверки")
		} else if !ok {
			metrics.RateLimited.WithLabelValues("live").Inc()
			h.fail(c, apperrors.RateLimited())
			return
		}
	}

	msg, err := h.channel.Send(ctx, delivery.SendRequest{
		SenderID:        c.UserID,
		ReceiverID:      payload.ReceiverID,
		Text:            out.Text,
		RelatedItemID:   out.RelatedItem,
		ClientMessageID: out.ClientMessageID,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	h.reply(c, EventMessageSent, msg)
}

func parseOutgoing(raw json.RawMessage) (OutgoingMessage, error) {
	var out OutgoingMessage
	if len(raw) == 0 {
		return out, apperrors.Validation("Текст сообщения обязателен")
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		out.Text = text
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, apperrors.Validation("Некорректные данные сообщения")
	}
	return out, nil
}

func (h *Handler) forwardTyping(c *Client, data json.RawMessage) {
	var payload TypingPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.ReceiverID == uuid.Nil {
		h.fail(c, apperrors.Validation("Некорректные данные typing"))
		return
	}
	h.typing.Typing(c.UserID, payload.ReceiverID, payload.IsTyping)
}

func (h *Handler) reply(c *Client, event string, data any) {
	if err := c.Deliver(presence.Event{Name: event, Data: data}); err != nil {
		h.disconnect(c)
	}
}

func (h *Handler) fail(c *Client, err error) {
	appErr := apperrors.From(err)
	if appErr.Kind == apperrors.KindInternal {
		logger.Error().Err(err).Str("user_id", c.UserID.String()).Msg("❌ ошибка обработки события")
	}
	h.reply(c, EventError, ErrorPayload{Kind: appErr.Kind, Code: appErr.Code, Message: appErr.Message})
}

var _ http.Handler = (*Handler)(nil)
