package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// IdentityMetrics tracks identity-provider traffic, token rejections,
// divergence between the two systems of record, and reconciliation outcomes.
type IdentityMetrics struct {
	idpCalls     *prometheus.HistogramVec
	tokenRejects *prometheus.CounterVec
	divergences  *prometheus.CounterVec
	syncResults  *prometheus.CounterVec
}

// NewIdentityMetrics registers the identity metrics on the provided registerer.
func NewIdentityMetrics(reg prometheus.Registerer) *IdentityMetrics {
	if reg == nil {
		return &IdentityMetrics{}
	}
	idpCalls := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "idp_request_duration_seconds",
		Help:      "Latency of identity provider calls by operation and outcome.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "outcome"})
	tokenRejects := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_rejections_total",
		Help:      "Bearer tokens rejected by reason.",
	}, []string{"reason"})
	divergences := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "identity_divergence_total",
		Help:      "Operations that left the identity provider and local mirror out of sync.",
	}, []string{"operation"})
	syncResults := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "user_sync_principals_total",
		Help:      "Principals processed by reconciliation runs by result.",
	}, []string{"result"})
	reg.MustRegister(idpCalls, tokenRejects, divergences, syncResults)
	return &IdentityMetrics{
		idpCalls:     idpCalls,
		tokenRejects: tokenRejects,
		divergences:  divergences,
		syncResults:  syncResults,
	}
}

// ObserveIdPCall records one identity-provider round trip.
func (m *IdentityMetrics) ObserveIdPCall(operation, outcome string, duration time.Duration) {
	if m == nil || m.idpCalls == nil {
		return
	}
	m.idpCalls.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Observe(duration.Seconds())
}

// IncTokenRejected counts a rejected bearer token.
func (m *IdentityMetrics) IncTokenRejected(reason string) {
	if m == nil || m.tokenRejects == nil {
		return
	}
	m.tokenRejects.WithLabelValues(normalizeLabel(reason)).Inc()
}

// IncDivergence counts an operation that succeeded on one side only.
func (m *IdentityMetrics) IncDivergence(operation string) {
	if m == nil || m.divergences == nil {
		return
	}
	m.divergences.WithLabelValues(normalizeLabel(operation)).Inc()
}

// AddSyncResults adds the per-run reconciliation tallies.
func (m *IdentityMetrics) AddSyncResults(considered, synced, failed int) {
	if m == nil || m.syncResults == nil {
		return
	}
	m.syncResults.WithLabelValues("considered").Add(float64(considered))
	m.syncResults.WithLabelValues("synced").Add(float64(synced))
	m.syncResults.WithLabelValues("failed").Add(float64(failed))
}
