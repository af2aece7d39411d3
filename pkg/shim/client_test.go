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

package shim

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypernome/aidcp/pkg/checksum"
	"github.com/hypernome/aidcp/pkg/intent"
	"github.com/hypernome/aidcp/pkg/oauth"
)

// fakeIDP is an in-memory stand-in for a running IDP, exercising the
// same RegistrationRequest/TokenRequest contracts a real HTTPIDPClient
// would, without a network round trip.
type fakeIDP struct {
	mu            sync.Mutex
	registrations map[string]intent.Registration
	intentCalls   int
	oauthCalls    int
	nextVersion   int
}

func newFakeIDP() *fakeIDP {
	return &fakeIDP{registrations: make(map[string]intent.Registration)}
}

func (f *fakeIDP) RegisterAgent(ctx context.Context, req intent.RegistrationRequest) (intent.Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	sum := checksum.Compute(checksum.Components{
		AgentID: req.AgentID,
		Prompt:  req.Prompt,
		Tools:   req.Tools,
		Config:  req.Config,
	})
	f.nextVersion++
	reg := intent.Registration{
		RegistrationID: fmt.Sprintf("reg_%s_%d", req.AgentID, f.nextVersion),
		AgentID:        req.AgentID,
		Version:        "1.0.0",
		Checksum:       sum,
		Prompt:         req.Prompt,
		Tools:          req.Tools,
		Config:         req.Config,
		PublicKey:      req.PublicKey,
	}
	f.registrations[req.AgentID] = reg
	return reg, nil
}

func (f *fakeIDP) GetAgent(ctx context.Context, agentID string) (intent.Registration, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reg, ok := f.registrations[agentID]
	return reg, ok, nil
}

func (f *fakeIDP) MintIntentToken(ctx context.Context, req intent.TokenRequest) (intent.TokenResponse, error) {
	f.mu.Lock()
	f.intentCalls++
	f.mu.Unlock()
	return intent.TokenResponse{
		AccessToken: fmt.Sprintf("intent-token-%d", f.intentCalls),
		TokenType:   "Bearer",
		ExpiresIn:   300,
		Scope:       joinScopes(req.RequestedScopes),
	}, nil
}

func (f *fakeIDP) MintOAuthToken(ctx context.Context, req oauth.TokenRequest) (oauth.TokenResponse, error) {
	f.mu.Lock()
	f.oauthCalls++
	f.mu.Unlock()
	return oauth.TokenResponse{
		AccessToken: fmt.Sprintf("oauth-token-%d", f.oauthCalls),
		TokenType:   "Bearer",
		ExpiresIn:   300,
		Scope:       joinScopes(req.Scopes),
	}, nil
}

func joinScopes(scopes []string) string {
	out := ""
	for i, s := range scopes {
		if i > 0 {
			out += " "
		}
		out += s
	}
	return out
}

func newTestClient(t *testing.T) (*Client, *fakeIDP) {
	t.Helper()
	idp := newFakeIDP()
	c, err := NewClient(idp, t.TempDir(), ChecksumShallow)
	require.NoError(t, err)
	return c, idp
}

func TestRegisterAgentPersistsIdentity(t *testing.T) {
	c, _ := newTestClient(t)

	identity, err := c.RegisterAgent(context.Background(), AgentSpec{
		AgentID: "planner",
		Prompt:  "plan orders",
	})
	require.NoError(t, err)
	assert.Equal(t, "planner", identity.AgentID)
	assert.NotEmpty(t, identity.Checksum)
	assert.NotEmpty(t, identity.PublicKeyPEM)

	got, ok := c.identity("planner")
	require.True(t, ok)
	assert.Equal(t, identity, got)
}

func TestBootstrapAgentsRegistersInOrder(t *testing.T) {
	c, idp := newTestClient(t)

	identities, err := c.BootstrapAgents(context.Background(), []AgentSpec{
		{AgentID: "sub-agent", Prompt: "fetch data"},
		{AgentID: "parent-agent", Prompt: "orchestrate"},
	})
	require.NoError(t, err)
	require.Len(t, identities, 2)
	assert.Equal(t, "sub-agent", identities[0].AgentID)
	assert.Equal(t, "parent-agent", identities[1].AgentID)

	_, ok, _ := idp.GetAgent(context.Background(), "sub-agent")
	assert.True(t, ok)
}

func TestVerifyAgentDetectsUnknownAgent(t *testing.T) {
	c, _ := newTestClient(t)

	status, err := c.VerifyAgent(context.Background(), AgentSpec{AgentID: "ghost"})
	require.NoError(t, err)
	assert.Equal(t, VerificationUnknownAgent, status)
}

func TestVerifyAgentDetectsChecksumMismatch(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	_, err := c.RegisterAgent(ctx, AgentSpec{AgentID: "planner", Prompt: "plan orders"})
	require.NoError(t, err)

	status, err := c.VerifyAgent(ctx, AgentSpec{AgentID: "planner", Prompt: "plan orders AND delete everything"})
	require.NoError(t, err)
	assert.Equal(t, VerificationChecksumMismatch, status)
}

func TestVerifyAgentSucceedsWhenUnchanged(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	_, err := c.RegisterAgent(ctx, AgentSpec{AgentID: "planner", Prompt: "plan orders"})
	require.NoError(t, err)

	status, err := c.VerifyAgent(ctx, AgentSpec{AgentID: "planner", Prompt: "plan orders"})
	require.NoError(t, err)
	assert.Equal(t, VerificationOK, status)
}

func TestAuthenticatedHeadersIntentModeSignsPoP(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	_, err := c.RegisterAgent(ctx, AgentSpec{AgentID: "planner", Prompt: "plan orders"})
	require.NoError(t, err)

	headers, err := c.AuthenticatedHeaders(ctx, RequestOptions{
		Mode:     ModeIntent,
		AgentID:  "planner",
		Scopes:   []string{"orders:read"},
		Audience: "https://api.test/orders",
		Method:   "GET",
		URL:      "https://api.test/orders/1",
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer intent-token-1", headers["Authorization"])
	assert.NotEmpty(t, headers["PoP"])
	assert.NotEmpty(t, headers["X-PoP-Timestamp"])
}

func TestAuthenticatedHeadersIntentModeRequiresRegistration(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.AuthenticatedHeaders(context.Background(), RequestOptions{
		Mode:    ModeIntent,
		AgentID: "stranger",
	})
	require.Error(t, err)
}

func TestAuthenticatedHeadersOAuthModeOmitsPoP(t *testing.T) {
	c, _ := newTestClient(t)

	headers, err := c.AuthenticatedHeaders(context.Background(), RequestOptions{
		Mode:         ModeOAuth,
		ClientID:     "batch-importer",
		ClientSecret: "s3cret",
		Scopes:       []string{"orders:write"},
		Audience:     "https://api.test/orders",
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer oauth-token-1", headers["Authorization"])
	assert.Empty(t, headers["PoP"])
}

func TestTokenForReusesCachedTokenUntilExpirySkew(t *testing.T) {
	c, idp := newTestClient(t)
	ctx := context.Background()

	_, err := c.RegisterAgent(ctx, AgentSpec{AgentID: "planner", Prompt: "plan orders"})
	require.NoError(t, err)

	opts := RequestOptions{
		Mode:     ModeIntent,
		AgentID:  "planner",
		Scopes:   []string{"orders:read"},
		Audience: "https://api.test/orders",
	}

	first, err := c.tokenFor(ctx, opts)
	require.NoError(t, err)
	second, err := c.tokenFor(ctx, opts)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, idp.intentCalls)
}

func TestTokenForRefreshesAfterCacheEviction(t *testing.T) {
	c, idp := newTestClient(t)
	ctx := context.Background()

	_, err := c.RegisterAgent(ctx, AgentSpec{AgentID: "planner", Prompt: "plan orders"})
	require.NoError(t, err)

	opts := RequestOptions{
		Mode:     ModeIntent,
		AgentID:  "planner",
		Scopes:   []string{"orders:read"},
		Audience: "https://api.test/orders",
	}

	_, err = c.tokenFor(ctx, opts)
	require.NoError(t, err)

	c.mu.Lock()
	c.cache[cacheKey(opts)] = cachedToken{
		token:  "stale-token",
		expiry: time.Now().Add(-time.Hour),
	}
	c.mu.Unlock()

	refreshed, err := c.tokenFor(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, 2, idp.intentCalls)
	assert.NotEqual(t, "stale-token", refreshed)
}
