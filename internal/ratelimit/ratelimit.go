// Package ratelimit ограничивает частоту отправки сообщений одним пользователем
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter решает, можно ли выполнить еще одно действие по ключу
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Memory лимитер в памяти процесса: token bucket на каждый ключ
type Memory struct {
	mu      sync.Mutex
	entries map[string]*entry
	limit   rate.Limit
	burst   int
	idle    time.Duration
	stop    chan struct{}
	once    sync.Once
}

// NewMemory создает лимитер на perMinute действий в минуту с запасом burst.
// Неактивные ключи удаляются фоновой очисткой, остановить ее можно через Close.
func NewMemory(perMinute, burst int) *Memory {
	m := &Memory{
		entries: make(map[string]*entry),
		limit:   rate.Limit(float64(perMinute) / 60.0),
		burst:   burst,
		idle:    3 * time.Minute,
		stop:    make(chan struct{}),
	}
	go m.cleanup()
	return m
}

func (m *Memory) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.evict(time.Now())
		}
	}
}

func (m *Memory) evict(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, e := range m.entries {
		if now.Sub(e.lastSeen) > m.idle {
			delete(m.entries, key)
		}
	}
}

// Allow расходует один токен ключа
func (m *Memory) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(m.limit, m.burst)}
		m.entries[key] = e
	}
	e.lastSeen = time.Now()
	m.mu.Unlock()

	return e.limiter.Allow(), nil
}

// Close останавливает фоновую очистку
func (m *Memory) Close() {
	m.once.Do(func() { close(m.stop) })
}

// Redis лимитер с фиксированным окном в Redis. Общий для всех экземпляров сервиса.
type Redis struct {
	client *redis.Client
	limit  int64
	window time.Duration
	prefix string
}

// NewRedis создает лимитер на limit действий за окно window
func NewRedis(client *redis.Client, limit int, window time.Duration) *Redis {
	return &Redis{
		client: client,
		limit:  int64(limit),
		window: window,
		prefix: "bookswap:rate_limit:",
	}
}

// Allow увеличивает счетчик окна и сравнивает его с лимитом.
// Счетчик без TTL получает его на любом вызове, а не только на первом.
func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := r.prefix + key

	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	if _, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		ttl = pipe.TTL(ctx, redisKey)
		return nil
	}); err != nil {
		return false, fmt.Errorf("redis incr: %w", err)
	}

	if ttl.Val() < 0 {
		if err := r.client.Expire(ctx, redisKey, r.window).Err(); err != nil {
			return false, fmt.Errorf("redis expire: %w", err)
		}
	}
	return incr.Val() <= r.limit, nil
}
