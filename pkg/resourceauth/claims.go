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
	"strings"
)

type contextKey string

const claimsContextKey contextKey = "resourceauth.claims"

// Cnf carries the confirmation claim binding a token to the holder's
// Proof-of-Possession public key, per RFC 7800.
type Cnf struct {
	JWK map[string]string `json:"jwk,omitempty"`
}

// IntentClaim is the "intent" claim of an intent token: the workflow
// step it was minted for, plus hashes of the delegation chain and the
// completed-step sequence it was minted against.
type IntentClaim struct {
	WorkflowID       string `json:"workflow_id,omitempty"`
	WorkflowStep     string `json:"workflow_step,omitempty"`
	ExecutedBy       string `json:"executed_by,omitempty"`
	DelegationChain  string `json:"delegation_chain,omitempty"`
	StepSequenceHash string `json:"step_sequence_hash,omitempty"`
}

// AgentProofClaim is the "agent_proof" claim: the checksum and
// registration the token's subject was minted against.
type AgentProofClaim struct {
	AgentChecksum  string `json:"agent_checksum,omitempty"`
	RegistrationID string `json:"registration_id,omitempty"`
}

// Claims is the verified, decoded form of a token presented to a
// resource server. It covers both plain OAuth access tokens (Intent
// and AgentProof are zero) and intent tokens.
type Claims struct {
	Subject  string   `json:"sub"`
	Issuer   string   `json:"iss"`
	Audience []string `json:"aud"`
	Scope    string   `json:"scope"`
	Tenant   string   `json:"tenant,omitempty"`
	JTI      string   `json:"jti,omitempty"`

	Cnf        Cnf             `json:"cnf,omitempty"`
	Intent     IntentClaim     `json:"intent,omitempty"`
	AgentProof AgentProofClaim `json:"agent_proof,omitempty"`
}

// Scopes splits the space-delimited scope claim.
func (c *Claims) Scopes() map[string]bool {
	out := make(map[string]bool)
	for _, s := range strings.Fields(c.Scope) {
		out[s] = true
	}
	return out
}

// HasScopes reports whether every scope in required is present in the
// token's scope claim.
func (c *Claims) HasScopes(required []string) bool {
	have := c.Scopes()
	for _, r := range required {
		if !have[r] {
			return false
		}
	}
	return true
}

// HasAudience reports whether aud is present among the token's
// audiences.
func (c *Claims) HasAudience(aud string) bool {
	for _, a := range c.Audience {
		if a == aud {
			return true
		}
	}
	return false
}

// IsIntentToken reports whether this token carries intent claims,
// i.e. was minted by the IDP's intent subsystem rather than the plain
// OAuth client_credentials issuer.
func (c *Claims) IsIntentToken() bool {
	return c.AgentProof.AgentChecksum != ""
}

// ClaimsFromContext returns the claims attached to ctx by the
// authentication middleware, or nil if none are present.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsContextKey).(*Claims)
	return claims
}

// ContextWithClaims returns a copy of ctx carrying claims.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}
