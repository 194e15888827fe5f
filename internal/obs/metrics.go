package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsTotal            = promauto.NewCounter(prometheus.CounterOpts{Name: "smtpstrip_sessions_total", Help: "Relay sessions started"})
	ActiveSessions           = promauto.NewGauge(prometheus.GaugeOpts{Name: "smtpstrip_active_sessions", Help: "Relay sessions currently running"})
	BytesForwardedTotal      = promauto.NewCounterVec(prometheus.CounterOpts{Name: "smtpstrip_bytes_forwarded_total", Help: "Bytes forwarded by direction"}, []string{"direction"})
	SegmentsTotal            = promauto.NewCounterVec(prometheus.CounterOpts{Name: "smtpstrip_segments_total", Help: "Segments forwarded by direction"}, []string{"direction"})
	StartTLSStrippedTotal    = promauto.NewCounter(prometheus.CounterOpts{Name: "smtpstrip_starttls_stripped_total", Help: "STARTTLS capabilities rewritten"})
	CredentialsCapturedTotal = promauto.NewCounter(prometheus.CounterOpts{Name: "smtpstrip_credentials_captured_total", Help: "AUTH PLAIN payloads decoded"})
	CredentialFailuresTotal  = promauto.NewCounterVec(prometheus.CounterOpts{Name: "smtpstrip_credential_decode_failures_total", Help: "AUTH PLAIN payloads that failed to decode"}, []string{"reason"})
	ErrorsTotal              = promauto.NewCounterVec(prometheus.CounterOpts{Name: "smtpstrip_errors_total", Help: "Session errors by type"}, []string{"type"})
	SessionDurationSeconds   = promauto.NewHistogram(prometheus.HistogramOpts{Name: "smtpstrip_session_duration_seconds", Help: "Session lifetime seconds", Buckets: prometheus.ExponentialBuckets(0.01, 2, 16)})
)
