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
	"net/http"
	"strings"

	"github.com/hypernome/aidcp/pkg/aidcperr"
	"github.com/hypernome/aidcp/pkg/metrics"
	"github.com/hypernome/aidcp/pkg/oauth"
	"github.com/hypernome/aidcp/pkg/resourceauth"
)

type oauthHandlers struct {
	state   *idpState
	metrics *metrics.Metrics
}

// token implements RFC 6749's client_credentials grant. The request body
// is form-encoded, as the grant itself requires.
func (h *oauthHandlers) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, aidcperr.Wrap(aidcperr.KindBadRequest, err, "invalid form body"))
		return
	}

	req := oauth.TokenRequest{
		GrantType:    r.PostForm.Get("grant_type"),
		ClientID:     r.PostForm.Get("client_id"),
		ClientSecret: r.PostForm.Get("client_secret"),
		Audience:     r.PostForm.Get("audience"),
	}
	if scope := r.PostForm.Get("scope"); scope != "" {
		req.Scopes = strings.Fields(scope)
	}

	resp, err := h.state.Issuer().Token(req)
	if err != nil {
		h.metrics.RecordOAuthTokenDenied()
		writeError(w, err)
		return
	}

	h.metrics.RecordOAuthTokenIssued(req.ClientID)
	writeJSON(w, http.StatusOK, resp)
}

// introspect decodes a token's claims for operator diagnostics. Like
// token, it is form-encoded per RFC 6749's conventions, taking a single
// "token" field.
func (h *oauthHandlers) introspect(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, aidcperr.Wrap(aidcperr.KindBadRequest, err, "invalid form body"))
		return
	}

	claims, err := oauth.Introspect(r.PostForm.Get("token"))
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]bool{"active": false})
		return
	}

	claims["active"] = true
	writeJSON(w, http.StatusOK, claims)
}

func (h *oauthHandlers) jwks(w http.ResponseWriter, r *http.Request) {
	set, err := h.state.Issuer().JWKS()
	if err != nil {
		writeError(w, aidcperr.Wrap(aidcperr.KindBadRequest, err, "failed to build jwks"))
		return
	}
	writeJSON(w, http.StatusOK, set)
}

// whoami is a sample protected endpoint exercising the resource-server
// middleware end-to-end against this IDP's own tokens: useful for
// smoke-testing a deployment without standing up a separate resource
// server.
func (h *oauthHandlers) whoami(w http.ResponseWriter, r *http.Request) {
	mw := h.state.WhoAmI()
	if mw == nil {
		writeError(w, aidcperr.New(aidcperr.KindJWKSUnavailable, "whoami self-verification is not ready yet"))
		return
	}

	final := mw.RequireScopes("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := resourceauth.ClaimsFromContext(r.Context())
		writeJSON(w, http.StatusOK, map[string]any{
			"subject":  claims.Subject,
			"scope":    claims.Scope,
			"audience": claims.Audience,
			"intent":   claims.IsIntentToken(),
		})
	}))
	mw.Authenticate(final).ServeHTTP(w, r)
}
