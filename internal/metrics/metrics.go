package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "preauth_decisions_total",
		Help: "Total number of pipeline decisions by terminal stage.",
	}, []string{"stage"})
	LoginAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "preauth_login_attempts_total",
		Help: "Total number of credential verifications by result.",
	}, []string{"result"})
	BlockedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "preauth_blocked_total",
		Help: "Total number of requests rejected because the IP was blocked.",
	})
	SessionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "preauth_sessions_created_total",
		Help: "Total number of sessions created by scope.",
	}, []string{"scope"})
	NoncesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "preauth_nonces_issued_total",
		Help: "Total number of challenge nonces issued.",
	})
	PersistDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "preauth_persist_duration_seconds",
		Help:    "Duration of durable-cache persistence flushes.",
		Buckets: prometheus.DefBuckets,
	})
)
