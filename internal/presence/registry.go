// Package presence хранит соответствие пользователя и его живого соединения
package presence

import (
	"sync"

	"github.com/google/uuid"

	"github.com/rajivgeraev/bookswap-api/internal/metrics"
)

// Event структура события для живого соединения
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data"`
}

// Conn дескриптор живого соединения. Deliver не должен блокироваться;
// ошибка означает, что соединение больше не принимает события.
type Conn interface {
	Deliver(evt Event) error
}

// Registry потокобезопасная таблица присутствия.
// Для одного пользователя действует последнее зарегистрированное соединение.
type Registry struct {
	mu     sync.RWMutex
	byUser map[uuid.UUID]Conn
	byConn map[Conn]uuid.UUID
}

// NewRegistry создает пустую таблицу
func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[uuid.UUID]Conn),
		byConn: make(map[Conn]uuid.UUID),
	}
}

// Register связывает пользователя с соединением, вытесняя предыдущее
func (r *Registry) Register(userID uuid.UUID, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Соединение могло быть зарегистрировано под другим пользователем
	if prevUser, ok := r.byConn[conn]; ok && prevUser != userID {
		if r.byUser[prevUser] == conn {
			delete(r.byUser, prevUser)
		}
	}
	if prevConn, ok := r.byUser[userID]; ok && prevConn != conn {
		delete(r.byConn, prevConn)
	}

	r.byUser[userID] = conn
	r.byConn[conn] = userID
	metrics.OnlineUsers.Set(float64(len(r.byUser)))
}

// Unregister удаляет запись по дескриптору соединения.
// Отсутствие записи не ошибка. Возвращает пользователя, если запись была.
func (r *Registry) Unregister(conn Conn) (uuid.UUID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byConn[conn]
	if !ok {
		return uuid.Nil, false
	}
	delete(r.byConn, conn)
	// Пользователь мог уже переподключиться с другого соединения
	if r.byUser[userID] == conn {
		delete(r.byUser, userID)
	}
	metrics.OnlineUsers.Set(float64(len(r.byUser)))
	return userID, true
}

// Lookup возвращает текущее соединение пользователя
func (r *Registry) Lookup(userID uuid.UUID) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.byUser[userID]
	return conn, ok
}

// UserOf возвращает пользователя, зарегистрированного на соединении
func (r *Registry) UserOf(conn Conn) (uuid.UUID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userID, ok := r.byConn[conn]
	return userID, ok
}

// Online сообщает, есть ли у пользователя живое соединение
func (r *Registry) Online(userID uuid.UUID) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// Len количество пользователей онлайн
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
