// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics provides Prometheus instrumentation for the control
// plane's registration, token-minting, and verification paths.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hypernome/aidcp/pkg/config"
)

// Metrics holds every counter and histogram the control plane records. A
// nil *Metrics is valid and every Record/Inc/Observe method is a no-op
// against it, so instrumentation call sites never need a feature-flag
// check of their own.
type Metrics struct {
	registry *prometheus.Registry

	registrations       *prometheus.CounterVec
	checksumCollisions  prometheus.Counter
	intentTokensIssued  *prometheus.CounterVec
	intentTokensDenied  *prometheus.CounterVec
	oauthTokensIssued   *prometheus.CounterVec
	oauthTokensDenied   prometheus.Counter
	workflowValidations *prometheus.HistogramVec
	popVerifications    *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New builds a Metrics instance from cfg, or returns nil if metrics are
// disabled.
func New(cfg config.MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return nil
	}

	m := &Metrics{registry: prometheus.NewRegistry()}

	m.registrations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Subsystem: "intent",
		Name:      "registrations_total",
		Help:      "Total number of agent registration attempts.",
	}, []string{"outcome"})

	m.checksumCollisions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Subsystem: "intent",
		Name:      "checksum_collisions_total",
		Help:      "Total number of registrations rejected for checksum collision with a different agent_id.",
	})

	m.intentTokensIssued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Subsystem: "intent",
		Name:      "tokens_issued_total",
		Help:      "Total number of intent tokens minted.",
	}, []string{"agent_id", "workflow_id"})

	m.intentTokensDenied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Subsystem: "intent",
		Name:      "tokens_denied_total",
		Help:      "Total number of intent token requests denied, by reason.",
	}, []string{"reason"})

	m.oauthTokensIssued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Subsystem: "oauth",
		Name:      "tokens_issued_total",
		Help:      "Total number of client_credentials tokens minted.",
	}, []string{"client_id"})

	m.oauthTokensDenied = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Subsystem: "oauth",
		Name:      "tokens_denied_total",
		Help:      "Total number of client_credentials token requests denied.",
	})

	m.workflowValidations = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: cfg.Namespace,
		Subsystem: "workflow",
		Name:      "validation_duration_seconds",
		Help:      "Duration of workflow step validation.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
	}, []string{"outcome"})

	m.popVerifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Subsystem: "resourceauth",
		Name:      "pop_verifications_total",
		Help:      "Total number of Proof-of-Possession verifications, by outcome.",
	}, []string{"outcome"})

	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: cfg.Namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	m.registry.MustRegister(
		m.registrations, m.checksumCollisions,
		m.intentTokensIssued, m.intentTokensDenied,
		m.oauthTokensIssued, m.oauthTokensDenied,
		m.workflowValidations, m.popVerifications,
		m.httpRequests, m.httpDuration,
	)

	return m
}

// RecordRegistration records an agent registration outcome: "ok" on
// success, or the aidcperr kind of the error that rejected it.
func (m *Metrics) RecordRegistration(outcome string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(outcome).Inc()
}

// RecordChecksumCollision records a registration rejected for checksum
// collision.
func (m *Metrics) RecordChecksumCollision() {
	if m == nil {
		return
	}
	m.checksumCollisions.Inc()
}

// RecordIntentTokenIssued records a successfully minted intent token.
// workflowID is "" for simple (non-workflow) grants.
func (m *Metrics) RecordIntentTokenIssued(agentID, workflowID string) {
	if m == nil {
		return
	}
	m.intentTokensIssued.WithLabelValues(agentID, workflowID).Inc()
}

// RecordIntentTokenDenied records a denied intent token request, keyed
// by the aidcperr.Kind string that caused the denial.
func (m *Metrics) RecordIntentTokenDenied(reason string) {
	if m == nil {
		return
	}
	m.intentTokensDenied.WithLabelValues(reason).Inc()
}

// RecordOAuthTokenIssued records a successfully minted client_credentials
// token.
func (m *Metrics) RecordOAuthTokenIssued(clientID string) {
	if m == nil {
		return
	}
	m.oauthTokensIssued.WithLabelValues(clientID).Inc()
}

// RecordOAuthTokenDenied records a denied client_credentials request.
func (m *Metrics) RecordOAuthTokenDenied() {
	if m == nil {
		return
	}
	m.oauthTokensDenied.Inc()
}

// RecordWorkflowValidation records the duration of one workflow.Validate
// call, keyed by "allowed" or "denied".
func (m *Metrics) RecordWorkflowValidation(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.workflowValidations.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordPoPVerification records one Proof-of-Possession verification,
// keyed by "valid", "stale", "signature_mismatch" or "missing".
func (m *Metrics) RecordPoPVerification(outcome string) {
	if m == nil {
		return
	}
	m.popVerifications.WithLabelValues(outcome).Inc()
}

// RecordHTTPRequest records one completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, path, statusClass(statusCode)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// Handler returns the HTTP handler the scrape endpoint serves. A nil
// Metrics returns a handler that reports 503, so wiring the route
// unconditionally is safe even when metrics are disabled.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
