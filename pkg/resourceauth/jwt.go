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
	"context"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// JWTValidator performs phase one of resource-server verification: it
// fetches and caches the IDP's JWKS, then checks a token's signature,
// issuer and expiry. Audience, scope and Proof-of-Possession are
// per-route concerns left to Middleware.
type JWTValidator struct {
	jwksURL string
	cache   *jwk.Cache
	issuer  string
}

// NewJWTValidator builds a validator that auto-fetches JWKS from the
// IDP. The JWKS is cached and refreshed no more often than every
// refreshInterval, so a key rotated on the IDP is picked up without a
// restart of the resource server.
func NewJWTValidator(jwksURL, issuer string, refreshInterval time.Duration) (*JWTValidator, error) {
	ctx := context.Background()

	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(refreshInterval)); err != nil {
		return nil, fmt.Errorf("resourceauth: failed to register JWKS URL: %w", err)
	}
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("resourceauth: failed to fetch JWKS from %s: %w", jwksURL, err)
	}

	return &JWTValidator{
		jwksURL: jwksURL,
		cache:   cache,
		issuer:  issuer,
	}, nil
}

// ValidateToken verifies tokenString's signature, issuer and expiry
// against the cached JWKS and returns its decoded claims. Audience is
// deliberately NOT checked here: a single IDP issues tokens for many
// resource-server audiences, so the audience check belongs to the
// per-route Middleware instead.
func (v *JWTValidator) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	keyset, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get JWKS: %v", ErrInvalidToken, err)
	}

	token, err := jwt.Parse(
		[]byte(tokenString),
		jwt.WithKeySet(keyset),
		jwt.WithValidate(true),
		jwt.WithIssuer(v.issuer),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims := &Claims{
		Subject:  token.Subject(),
		Issuer:   token.Issuer(),
		Audience: token.Audience(),
		JTI:      token.JwtID(),
	}

	if scope, ok := token.Get("scope"); ok {
		if s, ok := scope.(string); ok {
			claims.Scope = s
		}
	}
	if tenant, ok := token.Get("tenant"); ok {
		if t, ok := tenant.(string); ok {
			claims.Tenant = t
		}
	}
	if cnf, ok := token.Get("cnf"); ok {
		decodeInto(cnf, &claims.Cnf)
	}
	if intent, ok := token.Get("intent"); ok {
		decodeInto(intent, &claims.Intent)
	}
	if agentProof, ok := token.Get("agent_proof"); ok {
		decodeInto(agentProof, &claims.AgentProof)
	}

	return claims, nil
}

// decodeInto copies a generic map[string]any claim value (as decoded
// from JSON by jwx) into a typed destination field by key name. jwx
// hands back custom claims as map[string]interface{}, so this avoids a
// second JSON round-trip per claim.
func decodeInto(raw any, dst any) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return
	}
	switch d := dst.(type) {
	case *Cnf:
		if jwkVal, ok := m["jwk"].(map[string]interface{}); ok {
			d.JWK = make(map[string]string, len(jwkVal))
			for k, v := range jwkVal {
				if s, ok := v.(string); ok {
					d.JWK[k] = s
				}
			}
		}
	case *IntentClaim:
		d.WorkflowID, _ = m["workflow_id"].(string)
		d.WorkflowStep, _ = m["workflow_step"].(string)
		d.ExecutedBy, _ = m["executed_by"].(string)
		d.DelegationChain, _ = m["delegation_chain"].(string)
		d.StepSequenceHash, _ = m["step_sequence_hash"].(string)
	case *AgentProofClaim:
		d.AgentChecksum, _ = m["agent_checksum"].(string)
		d.RegistrationID, _ = m["registration_id"].(string)
	}
}
