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

package oauth

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypernome/aidcp/pkg/aidcperr"
	"github.com/hypernome/aidcp/pkg/config"
)

func testIssuer(t *testing.T) *Issuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	cfg := config.OAuthConfig{
		Issuer:   "https://idp.test",
		TokenTTL: 30 * time.Minute,
		Clients: map[string]config.OAuthClientConfig{
			"planner": {
				ClientSecret:     "s3cret",
				AllowedScopes:    []string{"orders:read", "orders:write"},
				AllowedAudiences: []string{"https://api.test/orders"},
				Tenant:           "acme",
			},
		},
	}
	return NewIssuer(cfg, key, "test-kid")
}

func TestTokenRejectsBadSecret(t *testing.T) {
	iss := testIssuer(t)
	_, err := iss.Token(TokenRequest{
		GrantType: "client_credentials", ClientID: "planner", ClientSecret: "wrong",
	})
	require.Error(t, err)
	assert.Equal(t, aidcperr.KindBadRequest, aidcperr.KindOf(err))
}

func TestTokenRejectsUnsupportedGrantType(t *testing.T) {
	iss := testIssuer(t)
	_, err := iss.Token(TokenRequest{GrantType: "password", ClientID: "planner", ClientSecret: "s3cret"})
	require.Error(t, err)
}

func TestTokenRejectsScopeOutsideAllowList(t *testing.T) {
	iss := testIssuer(t)
	_, err := iss.Token(TokenRequest{
		GrantType: "client_credentials", ClientID: "planner", ClientSecret: "s3cret",
		Scopes: []string{"orders:delete"},
	})
	require.Error(t, err)
}

func TestTokenRejectsAudienceOutsideAllowList(t *testing.T) {
	iss := testIssuer(t)
	_, err := iss.Token(TokenRequest{
		GrantType: "client_credentials", ClientID: "planner", ClientSecret: "s3cret",
		Scopes: []string{"orders:read"}, Audience: "https://api.test/other",
	})
	require.Error(t, err)
}

func TestTokenSucceeds(t *testing.T) {
	iss := testIssuer(t)
	resp, err := iss.Token(TokenRequest{
		GrantType: "client_credentials", ClientID: "planner", ClientSecret: "s3cret",
		Scopes: []string{"orders:read"}, Audience: "https://api.test/orders",
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", resp.TokenType)

	token, err := jwt.Parse([]byte(resp.AccessToken), jwt.WithVerify(false), jwt.WithValidate(false))
	require.NoError(t, err)
	assert.Equal(t, "client:planner", token.Subject())
	tenant, ok := token.Get("tenant")
	require.True(t, ok)
	assert.Equal(t, "acme", tenant)
}

func TestJWKSContainsKid(t *testing.T) {
	iss := testIssuer(t)
	set, err := iss.JWKS()
	require.NoError(t, err)
	require.Equal(t, 1, set.Len())

	key, ok := set.Key(0)
	require.True(t, ok)
	assert.Equal(t, "test-kid", key.KeyID())
}

func TestIntrospectDecodesWithoutVerifying(t *testing.T) {
	iss := testIssuer(t)
	resp, err := iss.Token(TokenRequest{
		GrantType: "client_credentials", ClientID: "planner", ClientSecret: "s3cret",
		Scopes: []string{"orders:read"}, Audience: "https://api.test/orders",
	})
	require.NoError(t, err)

	claims, err := Introspect(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "client:planner", claims["sub"])
}
