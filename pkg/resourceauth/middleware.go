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

package resourceauth

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hypernome/aidcp/pkg/config"
)

// Middleware wraps an HTTP handler chain with phase-one token
// verification (signature, issuer, expiry) and exposes RequireScopes
// for phase-two, per-route audience/scope/PoP checks.
type Middleware struct {
	validator *JWTValidator
	cfg       *config.ResourceAuthConfig
	excluded  map[string]bool
}

// NewMiddleware builds a Middleware from a ResourceAuthConfig. Returns
// nil if authentication is disabled, so callers can skip installing it
// entirely.
func NewMiddleware(cfg *config.ResourceAuthConfig) (*Middleware, error) {
	if cfg == nil || !cfg.IsEnabled() {
		return nil, nil
	}

	validator, err := NewJWTValidator(cfg.JWKSURL, cfg.Issuer, cfg.RefreshInterval)
	if err != nil {
		return nil, err
	}

	excluded := make(map[string]bool, len(cfg.ExcludedPaths))
	for _, p := range cfg.ExcludedPaths {
		excluded[p] = true
	}

	return &Middleware{validator: validator, cfg: cfg, excluded: excluded}, nil
}

// Authenticate is phase one: it extracts the bearer token, validates
// it against the JWKS, and stashes the resulting claims on the request
// context. It does not check audience, scope or PoP — those are
// per-route and handled by RequireScopes.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.excluded[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		token := extractBearerToken(r)
		if token == "" {
			if m.cfg.IsRequireAuth() {
				writeAuthError(w, http.StatusUnauthorized, ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		claims, err := m.validator.ValidateToken(r.Context(), token)
		if err != nil {
			writeAuthError(w, http.StatusUnauthorized, err)
			return
		}

		r = r.WithContext(ContextWithClaims(r.Context(), claims))
		next.ServeHTTP(w, r)
	})
}

// RequireScopes returns middleware enforcing phase two for a specific
// route: the token must carry every scope in scopes, its aud claim
// must contain audience, and — when PoP is required for this
// deployment — the request must carry a valid Proof-of-Possession
// signature bound to the token's cnf.jwk.
func (m *Middleware) RequireScopes(audience string, scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				writeAuthError(w, http.StatusUnauthorized, ErrUnauthorized)
				return
			}

			if audience != "" && !claims.HasAudience(audience) {
				writeAuthError(w, http.StatusForbidden, ErrInvalidAudience)
				return
			}

			if !claims.HasScopes(scopes) {
				writeAuthError(w, http.StatusForbidden, ErrMissingScope)
				return
			}

			if m.cfg.IsPoPRequired() {
				body, err := readAndRestoreBody(r)
				if err != nil {
					writeAuthError(w, http.StatusBadRequest, err)
					return
				}
				skew := time.Duration(m.cfg.ClockSkewSeconds) * time.Second
				err = verifyPoP(
					claims,
					r.Method,
					r.URL.String(),
					body,
					r.Header.Get("PoP"),
					r.Header.Get("X-PoP-Timestamp"),
					time.Now(),
					skew,
				)
				if err != nil {
					status := http.StatusUnauthorized
					writeAuthError(w, status, err)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractBearerToken returns the token carried in the Authorization
// header, or "" if the header is absent or not a bearer token.
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, prefix))
}

// readAndRestoreBody reads r.Body for PoP hashing and replaces it with
// a fresh reader so downstream handlers can still consume it.
func readAndRestoreBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

func writeAuthError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
