package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the trust service.
type Metrics struct {
	Logins          *prometheus.CounterVec
	AccountsLocked  prometheus.Counter
	IntegrityChecks *prometheus.CounterVec
	Quarantines     prometheus.Counter
	AuditWritten    prometheus.Counter
	AuditFallbacks  prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		Logins: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "trust_logins_total",
			Help: "Login attempts by outcome (success, invalid, blocked, throttled)",
		}, []string{"outcome"}),
		AccountsLocked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "trust_accounts_locked_total",
			Help: "Accounts locked after repeated failed login attempts",
		}),
		IntegrityChecks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "trust_integrity_checks_total",
			Help: "Clinical record integrity checks by result (valid, invalid, unestablished)",
		}, []string{"result"}),
		Quarantines: promauto.NewCounter(prometheus.CounterOpts{
			Name: "trust_record_quarantines_total",
			Help: "Clinical records newly placed in quarantine",
		}),
		AuditWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "trust_audit_events_written_total",
			Help: "Audit events successfully persisted",
		}),
		AuditFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "trust_audit_fallback_traces_total",
			Help: "Audit events that exhausted retries and were written to the fallback log",
		}),
	}
}
