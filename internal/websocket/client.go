package websocket

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rajivgeraev/bookswap-api/internal/logger"
	"github.com/rajivgeraev/bookswap-api/internal/presence"
)

const (
	// Максимальное время ожидания для pong от клиента
	pongWait = 60 * time.Second

	// Отправлять ping-сообщения клиенту с этим интервалом
	pingPeriod = (pongWait * 9) / 10

	// Время на запись одного кадра
	writeWait = 10 * time.Second

	// Максимальный размер сообщения от клиента
	maxMessageSize = 64 * 1024

	// Размер буфера для отправляемых сообщений
	sendBufferSize = 256
)

var (
	// ErrClosed соединение уже закрыто
	ErrClosed = errors.New("websocket: connection closed")
	// ErrSlowConsumer клиент не успевает читать, буфер исходящих переполнен
	ErrSlowConsumer = errors.New("websocket: send buffer full")
)

// Client представляет собой отдельное WebSocket соединение аутентифицированного пользователя
type Client struct {
	ID     uuid.UUID
	UserID uuid.UUID

	conn    *websocket.Conn
	send    chan []byte // Буферизованный канал исходящих сообщений
	handler *Handler
	done    chan struct{}
	once    sync.Once
}

var _ presence.Conn = (*Client)(nil)

// NewClient создает новый экземпляр Client
func NewClient(userID uuid.UUID, conn *websocket.Conn, handler *Handler) *Client {
	return &Client{
		ID:      uuid.New(),
		UserID:  userID,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		handler: handler,
		done:    make(chan struct{}),
	}
}

// Start запускает клиентские горутины для чтения и записи
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// Deliver ставит событие в очередь на отправку без ожидания.
// Если буфер переполнен, соединение закрывается.
func (c *Client) Deliver(evt presence.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		logger.Warn().
			Str("client_id", c.ID.String()).
			Str("user_id", c.UserID.String()).
			Msg("⚠️ клиент не успевает читать события, соединение закрыто")
		c.Close()
		return ErrSlowConsumer
	}
}

// Close закрывает соединение. Повторный вызов безопасен.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Done закрывается вместе с соединением
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// readPump обрабатывает входящие сообщения от клиента
func (c *Client) readPump() {
	defer func() {
		c.handler.disconnect(c)
		c.Close()
	}()

	// Настраиваем соединение
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Бесконечный цикл чтения сообщений
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug().Err(err).Str("client_id", c.ID.String()).Msg("соединение закрыто неожиданно")
			}
			return
		}

		c.handler.dispatch(c, message)
	}
}

// writePump отправляет сообщения клиенту
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Debug().Err(err).Str("client_id", c.ID.String()).Msg("ошибка записи в соединение")
				return
			}
		case <-ticker.C:
			// Отправляем ping для поддержания соединения
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			// Соединение закрыто
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
