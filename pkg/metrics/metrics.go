// Package metrics exposes the relay's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesTotal counts persisted message writes by operation.
	MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_messages_total",
		Help: "Persisted message operations by kind.",
	}, []string{"op"})

	// WSClients tracks currently connected websocket clients.
	WSClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatsync_ws_clients",
		Help: "Connected websocket clients.",
	})

	// EventsTotal counts relayed events by name.
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_events_total",
		Help: "Relayed websocket events by name.",
	}, []string{"event"})

	// DroppedFrames counts frames dropped because a client's send buffer
	// was full.
	DroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_dropped_frames_total",
		Help: "Outbound frames dropped on slow clients.",
	})

	// UploadBytes sums accepted upload payload sizes.
	UploadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_upload_bytes_total",
		Help: "Bytes accepted by the upload endpoint.",
	})

	// RateLimited counts requests rejected by the per-key limiter.
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_rate_limited_total",
		Help: "Requests rejected by rate limiting.",
	})

	// TombstonesPurged counts messages removed by retention runs.
	TombstonesPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_tombstones_purged_total",
		Help: "Soft-deleted messages purged by retention.",
	})
)
