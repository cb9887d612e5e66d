// client/chat/metrics.go

package chatclient

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sendAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_queue_send_attempts_total",
		Help: "Delivery attempts by outcome (sent, retry, failed).",
	}, []string{"outcome"})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_queue_depth",
		Help: "Messages currently held in the send queue.",
	})
)

func recordAttempt(outcome string) {
	sendAttempts.WithLabelValues(outcome).Inc()
}

func setQueueDepth(n int) {
	queueDepth.Set(float64(n))
}
