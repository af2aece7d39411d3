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

package config

import (
	"fmt"
	"time"
)

// OAuthConfig configures the IDP's client_credentials OAuth issuer: who its
// registered clients are, how long minted access tokens live, and where its
// signing key comes from.
//
// Example:
//
//	oauth:
//	  issuer: "https://idp.internal"
//	  token_ttl: 30m
//	  clients:
//	    planner:
//	      client_secret: ${PLANNER_CLIENT_SECRET}
//	      allowed_scopes: ["orders:read", "orders:write"]
//	      allowed_audiences: ["https://api.internal/orders"]
//	    # admin:
//	    #   client_secret: ${ADMIN_CLIENT_SECRET}
//	    #   allowed_scopes: ["*"]
//	    #   allowed_audiences: ["*"]
//	    #   # Over-scoped on purpose: documents the subset-enforcement the
//	    #   # token endpoint performs against a client's allow-lists. Never
//	    #   # enable a client shaped like this outside a demo environment.
type OAuthConfig struct {
	// Issuer is the `iss` claim stamped into every minted token.
	Issuer string `yaml:"issuer,omitempty"`

	// TokenTTL is how long an access token is valid for.
	// Default: 30m
	TokenTTL time.Duration `yaml:"token_ttl,omitempty"`

	// KeyFile is a PEM-encoded RSA private key used to sign tokens. When
	// empty, the IDP generates an ephemeral in-memory keypair at startup —
	// fine for development, but every restart rotates the `kid` and
	// invalidates outstanding tokens.
	KeyFile string `yaml:"key_file,omitempty"`

	// Clients are the registered OAuth clients, keyed by client_id.
	Clients map[string]OAuthClientConfig `yaml:"clients,omitempty"`
}

// OAuthClientConfig is one registered OAuth client's allow-lists.
type OAuthClientConfig struct {
	// ClientSecret authenticates the client at /oauth/token.
	ClientSecret string `yaml:"client_secret,omitempty"`

	// AllowedScopes bounds the scopes a client may request. A request for
	// scopes outside this list is rejected, never silently narrowed.
	AllowedScopes []string `yaml:"allowed_scopes,omitempty"`

	// AllowedAudiences bounds the audiences a client may request a token
	// for.
	AllowedAudiences []string `yaml:"allowed_audiences,omitempty"`

	// Tenant is stamped into every token this client is issued, for
	// resource servers that partition data per tenant.
	Tenant string `yaml:"tenant,omitempty"`
}

// SetDefaults applies default values to OAuthConfig.
func (c *OAuthConfig) SetDefaults() {
	if c.Issuer == "" {
		c.Issuer = "https://idp.local"
	}
	if c.TokenTTL == 0 {
		c.TokenTTL = 30 * time.Minute
	}
}

// Validate checks OAuthConfig for errors.
func (c *OAuthConfig) Validate() error {
	if c.TokenTTL <= 0 {
		return fmt.Errorf("oauth.token_ttl must be greater than zero")
	}
	for id, client := range c.Clients {
		if client.ClientSecret == "" {
			return fmt.Errorf("oauth.clients[%s].client_secret is required", id)
		}
	}
	return nil
}
