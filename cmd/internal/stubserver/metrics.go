package stubserver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricWSSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "imzo_stub_ws_sessions_total",
		Help: "WebSocket sessions accepted by the stub gateway.",
	})

	metricRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "imzo_stub_requests_total",
		Help: "Chat requests received over the socket.",
	})

	metricChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "imzo_stub_chunks_total",
		Help: "Response chunks streamed to clients.",
	})
)
