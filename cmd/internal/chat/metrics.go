package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imzo_chat_frames_total",
		Help: "Inbound socket frames handled by the chat session, by kind.",
	}, []string{"kind"})

	metricReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "imzo_chat_reconnects_total",
		Help: "Reconnect attempts scheduled after a lost transport.",
	})

	metricSendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "imzo_chat_send_failures_total",
		Help: "Outbound writes that failed after the turn was recorded.",
	})

	metricNotices = promauto.NewCounter(prometheus.CounterOpts{
		Name: "imzo_chat_notices_total",
		Help: "Transient user-visible notices emitted by the session.",
	})
)
