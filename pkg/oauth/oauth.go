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

// Package oauth implements the IDP's plain client_credentials issuer:
// the machine-to-machine half of the control plane that mints ordinary
// OAuth2 access tokens, as distinct from the intent-bound tokens minted
// by pkg/intent. A client authenticating here gets a token scoped to
// whatever it's allowed to do generally; a workflow step still needs an
// intent token minted against a registered agent identity.
package oauth

import (
	"crypto/rsa"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/hypernome/aidcp/pkg/aidcperr"
	"github.com/hypernome/aidcp/pkg/config"
)

// Client is one registered OAuth client's credentials and allow-lists.
type Client struct {
	ClientID         string
	ClientSecret     string
	AllowedScopes    []string
	AllowedAudiences []string
	Tenant           string
}

// TokenResponse is the RFC 6749 token-endpoint response body.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}

// Issuer mints and publishes signing keys for plain client_credentials
// access tokens.
type Issuer struct {
	issuer     string
	tokenTTL   time.Duration
	signingKey *rsa.PrivateKey
	kid        string
	clients    map[string]Client
}

// NewIssuer builds an Issuer from cfg's client allow-lists, signing
// tokens with signingKey under kid.
func NewIssuer(cfg config.OAuthConfig, signingKey *rsa.PrivateKey, kid string) *Issuer {
	clients := make(map[string]Client, len(cfg.Clients))
	for id, c := range cfg.Clients {
		clients[id] = Client{
			ClientID:         id,
			ClientSecret:     c.ClientSecret,
			AllowedScopes:    c.AllowedScopes,
			AllowedAudiences: c.AllowedAudiences,
			Tenant:           c.Tenant,
		}
	}
	return &Issuer{
		issuer:     cfg.Issuer,
		tokenTTL:   cfg.TokenTTL,
		signingKey: signingKey,
		kid:        kid,
		clients:    clients,
	}
}

// JWKS returns the public half of the issuer's signing key as a JWK
// set, for publication at /.well-known/jwks.json.
func (iss *Issuer) JWKS() (jwk.Set, error) {
	key, err := jwk.FromRaw(&iss.signingKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("oauth: failed to wrap public key: %w", err)
	}
	if err := key.Set(jwk.KeyIDKey, iss.kid); err != nil {
		return nil, fmt.Errorf("oauth: failed to set key id: %w", err)
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.RS256); err != nil {
		return nil, fmt.Errorf("oauth: failed to set algorithm: %w", err)
	}
	if err := key.Set(jwk.KeyUsageKey, "sig"); err != nil {
		return nil, fmt.Errorf("oauth: failed to set key usage: %w", err)
	}

	set := jwk.NewSet()
	if err := set.AddKey(key); err != nil {
		return nil, fmt.Errorf("oauth: failed to build key set: %w", err)
	}
	return set, nil
}

// TokenRequest is a client_credentials grant request.
type TokenRequest struct {
	GrantType    string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Audience     string
}

// Token validates req against the issuer's registered clients and, on
// success, mints an access token. Scope and audience requests are
// checked as a strict subset of the client's allow-list: a request for
// anything outside it is rejected outright, never silently narrowed to
// the allowed subset.
func (iss *Issuer) Token(req TokenRequest) (TokenResponse, error) {
	if req.GrantType != "client_credentials" {
		return TokenResponse{}, aidcperr.New(aidcperr.KindBadRequest, "unsupported grant_type %q", req.GrantType)
	}

	client, ok := iss.clients[req.ClientID]
	if !ok || client.ClientSecret != req.ClientSecret {
		return TokenResponse{}, aidcperr.New(aidcperr.KindBadRequest, "invalid client credentials")
	}

	if !isSubset(req.Scopes, client.AllowedScopes) {
		return TokenResponse{}, aidcperr.New(aidcperr.KindBadRequest,
			"requested scopes exceed client %q's allowed scopes", req.ClientID)
	}
	if req.Audience != "" && !contains(client.AllowedAudiences, req.Audience) {
		return TokenResponse{}, aidcperr.New(aidcperr.KindBadRequest,
			"requested audience %q is not allowed for client %q", req.Audience, req.ClientID)
	}

	now := time.Now()
	scope := strings.Join(req.Scopes, " ")

	token := jwt.New()
	_ = token.Set(jwt.IssuerKey, iss.issuer)
	_ = token.Set(jwt.SubjectKey, "client:"+req.ClientID)
	if req.Audience != "" {
		_ = token.Set(jwt.AudienceKey, []string{req.Audience})
	}
	_ = token.Set(jwt.IssuedAtKey, now)
	_ = token.Set(jwt.ExpirationKey, now.Add(iss.tokenTTL))
	_ = token.Set(jwt.JwtIDKey, uuid.NewString())
	_ = token.Set("scope", scope)
	if client.Tenant != "" {
		_ = token.Set("tenant", client.Tenant)
	}

	signingJWK, err := jwk.FromRaw(iss.signingKey)
	if err != nil {
		return TokenResponse{}, aidcperr.Wrap(aidcperr.KindBadRequest, err, "failed to wrap signing key")
	}
	if err := signingJWK.Set(jwk.KeyIDKey, iss.kid); err != nil {
		return TokenResponse{}, aidcperr.Wrap(aidcperr.KindBadRequest, err, "failed to set key id")
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256, signingJWK))
	if err != nil {
		return TokenResponse{}, aidcperr.Wrap(aidcperr.KindBadRequest, err, "failed to sign token")
	}

	return TokenResponse{
		AccessToken: string(signed),
		TokenType:   "Bearer",
		ExpiresIn:   int64(iss.tokenTTL.Seconds()),
		Scope:       scope,
	}, nil
}

// Introspect decodes tokenString without verifying its signature and
// returns its claims as a generic map. This exists for operator
// diagnostics only — it answers "what does this token claim to be",
// never "is this token valid"; callers that need the latter must go
// through pkg/resourceauth.
func Introspect(tokenString string) (map[string]any, error) {
	token, err := jwt.Parse([]byte(tokenString), jwt.WithVerify(false), jwt.WithValidate(false))
	if err != nil {
		return nil, aidcperr.Wrap(aidcperr.KindBadRequest, err, "failed to decode token")
	}

	claims, err := token.AsMap(nil)
	if err != nil {
		return nil, aidcperr.Wrap(aidcperr.KindBadRequest, err, "failed to decode token claims")
	}
	return claims, nil
}

func isSubset(requested, allowed []string) bool {
	allowedSet := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		allowedSet[a] = true
	}
	for _, r := range requested {
		if !allowedSet[r] {
			return false
		}
	}
	return true
}

func contains(list []string, item string) bool {
	for _, l := range list {
		if l == item {
			return true
		}
	}
	return false
}
