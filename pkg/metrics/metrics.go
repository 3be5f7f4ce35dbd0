// Package metrics 提供 Prometheus 监控指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gateway 指标
var (
	// 连接指标
	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connections_active",
		Help: "Number of active peer connections",
	})

	ConnectionCloseReason = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_connection_close_total",
		Help: "Connection close count by reason",
	}, []string{"reason"})

	ConnectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_connection_duration_seconds",
		Help:    "Lifetime of peer connections",
		Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
	})

	// 消息指标
	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_received_total",
		Help: "Total envelopes received from peers",
	}, []string{"type"})

	ProtocolErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_protocol_errors_total",
		Help: "Error envelopes sent to peers by code",
	}, []string{"code"})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_rate_limited_total",
		Help: "Inbound frames rejected by the per-connection rate limit",
	})

	// 房间事件发布
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_room_events_dropped_total",
		Help: "Room lifecycle events dropped because the publish queue was full",
	})
)

// 房间表指标
var (
	Rooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_rooms",
		Help: "Number of live rooms",
	})

	PairedRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_rooms_paired",
		Help: "Number of rooms with two peers",
	})

	RoomsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_rooms_expired_total",
		Help: "Rooms removed by the age sweeper",
	})

	MessagesRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_relayed_total",
		Help: "Envelopes forwarded to a room partner",
	}, []string{"type"})

	RouteFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_route_failures_total",
		Help: "Relay attempts that failed, by error code",
	}, []string{"code"})
)
