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

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hypernome/aidcp/pkg/config"
	"github.com/hypernome/aidcp/pkg/intent"
	"github.com/hypernome/aidcp/pkg/metrics"
	"github.com/hypernome/aidcp/pkg/ratelimit"
	"github.com/hypernome/aidcp/pkg/telemetry"
)

func newRouter(cfg *config.Config, svc *intent.Service, state *idpState, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(cfg.Server.CORS))
	r.Use(telemetry.Middleware)
	r.Use(m.Middleware)

	r.Get("/health", handleHealth)

	if cfg.Observability.Metrics.Enabled {
		r.Handle(cfg.Observability.Metrics.Endpoint, m.Handler())
	}

	mintLimiter := ratelimit.Middleware(ratelimit.MiddlewareConfig{
		Limiter:        limiterFunc(state),
		IdentifierFunc: mintIdentifierFunc,
	})

	ih := &intentHandlers{svc: svc, metrics: m}
	r.Route("/intent", func(r chi.Router) {
		r.Post("/agents/register", ih.registerAgent)
		r.Post("/agents/register/batch", ih.registerAgentBatch)
		r.Get("/agents", ih.listAgents)
		r.Get("/agents/{agentID}", ih.getAgent)
		r.Post("/workflows", ih.registerWorkflow)
		r.Post("/workflows/batch", ih.registerWorkflowBatch)
		r.Delete("/workflows/{workflowID}", ih.deregisterWorkflow)
		r.With(mintLimiter).Post("/token", ih.mintToken)
	})

	oh := &oauthHandlers{state: state, metrics: m}
	r.Route("/oauth", func(r chi.Router) {
		r.With(mintLimiter).Post("/token", oh.token)
		r.Post("/introspect", oh.introspect)
		r.Get("/.well-known/jwks.json", oh.jwks)
		r.Get("/whoami", oh.whoami)
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// limiterFunc adapts idpState's hot-reloadable limiter into the stable
// RateLimiter value ratelimit.Middleware expects at wiring time: every
// method resolves the current limiter on each call, so a config reload
// takes effect without rebuilding the middleware chain. When no limiter
// is configured it fails open.
func limiterFunc(state *idpState) ratelimit.RateLimiter {
	return &indirectLimiter{state: state}
}

type indirectLimiter struct {
	state *idpState
}

func (l *indirectLimiter) Check(ctx context.Context, scope ratelimit.Scope, identifier string) (*ratelimit.CheckResult, error) {
	limiter := l.state.Limiter()
	if limiter == nil {
		return &ratelimit.CheckResult{Allowed: true}, nil
	}
	return limiter.Check(ctx, scope, identifier)
}

func (l *indirectLimiter) Record(ctx context.Context, scope ratelimit.Scope, identifier string, tokenCount, requestCount int64) error {
	limiter := l.state.Limiter()
	if limiter == nil {
		return nil
	}
	return limiter.Record(ctx, scope, identifier, tokenCount, requestCount)
}

func (l *indirectLimiter) CheckAndRecord(ctx context.Context, scope ratelimit.Scope, identifier string, tokenCount, requestCount int64) (*ratelimit.CheckResult, error) {
	limiter := l.state.Limiter()
	if limiter == nil {
		return &ratelimit.CheckResult{Allowed: true}, nil
	}
	return limiter.CheckAndRecord(ctx, scope, identifier, tokenCount, requestCount)
}

func (l *indirectLimiter) GetUsage(ctx context.Context, scope ratelimit.Scope, identifier string) ([]ratelimit.Usage, error) {
	limiter := l.state.Limiter()
	if limiter == nil {
		return nil, nil
	}
	return limiter.GetUsage(ctx, scope, identifier)
}

func (l *indirectLimiter) Reset(ctx context.Context, scope ratelimit.Scope, identifier string) error {
	limiter := l.state.Limiter()
	if limiter == nil {
		return nil
	}
	return limiter.Reset(ctx, scope, identifier)
}

func (l *indirectLimiter) ResetExpired(ctx context.Context, before time.Time) error {
	limiter := l.state.Limiter()
	if limiter == nil {
		return nil
	}
	return limiter.ResetExpired(ctx, before)
}

func mintIdentifierFunc(r *http.Request) (string, ratelimit.Scope) {
	return ratelimit.DefaultIdentifierFunc(r)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
