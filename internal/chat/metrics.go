// internal/chat/metrics.go

package chat

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Messages processed by the append operation",
		},
		[]string{"type", "outcome"},
	)

	chatCreatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_creates_total",
			Help: "Find-or-create chat outcomes",
		},
		[]string{"outcome"},
	)

	firstContactEmailsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_first_contact_emails_total",
			Help: "First-contact notification dispatch results",
		},
		[]string{"status"},
	)

	appendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chat_append_duration_seconds",
			Help:    "Duration of the append-message transaction",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func recordMessage(msgType, outcome string) {
	messagesTotal.WithLabelValues(msgType, outcome).Inc()
}

func recordChatCreate(outcome string) {
	chatCreatesTotal.WithLabelValues(outcome).Inc()
}

func recordFirstContactEmail(status string) {
	firstContactEmailsTotal.WithLabelValues(status).Inc()
}

func observeAppend(d time.Duration) {
	appendDuration.Observe(d.Seconds())
}
