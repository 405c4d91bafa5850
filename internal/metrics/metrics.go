// Package metrics собирает метрики Prometheus для обменов, сообщений и присутствия
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "bookswap"

var (
	// TradeOutcomes считает завершенные операции обмена.
	// Labels: operation (create, approve, reject, cancel), result (ok, error code)
	TradeOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "trades",
		Name:      "operations_total",
		Help:      "Total trade operations by result",
	}, []string{"operation", "result"})

	// TradeRepairs считает исправления, сделанные сверкой состояния.
	// Labels: kind (item_released, item_locked, approval_resumed)
	TradeRepairs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "trades",
		Name:      "repairs_total",
		Help:      "Total inconsistencies repaired by reconciliation",
	}, []string{"kind"})

	// MessagesSent считает сохраненные сообщения.
	// Labels: delivery (live, stored)
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "messages",
		Name:      "sent_total",
		Help:      "Total persisted messages by delivery path",
	}, []string{"delivery"})

	// EventsPushed считает события, отправленные в живые соединения.
	// Labels: event, result (delivered, offline, dropped)
	EventsPushed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "live",
		Name:      "events_total",
		Help:      "Total live events by result",
	}, []string{"event", "result"})

	// OnlineUsers текущее число пользователей с активным соединением
	OnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "presence",
		Name:      "online_users",
		Help:      "Users with a registered live connection",
	})

	// RateLimited считает отклоненные лимитером запросы.
	// Labels: channel (rest, live)
	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "messages",
		Name:      "rate_limited_total",
		Help:      "Total sends rejected by the rate limiter",
	}, []string{"channel"})
)
