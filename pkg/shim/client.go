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
	"strings"
	"sync"
	"time"

	"github.com/hypernome/aidcp/pkg/aidcperr"
	"github.com/hypernome/aidcp/pkg/checksum"
	"github.com/hypernome/aidcp/pkg/intent"
	"github.com/hypernome/aidcp/pkg/keys"
	"github.com/hypernome/aidcp/pkg/oauth"
	"github.com/hypernome/aidcp/pkg/workflow"
)

// tokenCacheSkew is how much earlier than a cached token's real expiry
// the cache treats it as stale, so a request never races a token
// expiring mid-flight.
const tokenCacheSkew = 30 * time.Second

// Client is the agent-side enforcement point: it registers agent
// identities with the IDP, tracks workflow executions, and mints
// PoP-bound tokens for outbound calls. One Client is shared by every
// agent running in a process; identities are distinguished by AgentID,
// never by inspecting the call stack.
type Client struct {
	idp   IDPClient
	keys  *keys.Manager
	level ChecksumLevel
	tools map[string]*Registry // per agent_id

	mu         sync.Mutex
	identities map[string]AgentIdentity
	cache      map[string]cachedToken
}

type cachedToken struct {
	token  string
	expiry time.Time
}

// NewClient builds a Client against idp, persisting per-agent keypairs
// under keyDir, computing checksums at level.
func NewClient(idp IDPClient, keyDir string, level ChecksumLevel) (*Client, error) {
	mgr, err := keys.NewManager(keyDir)
	if err != nil {
		return nil, err
	}
	return &Client{
		idp:        idp,
		keys:       mgr,
		level:      level,
		tools:      make(map[string]*Registry),
		identities: make(map[string]AgentIdentity),
		cache:      make(map[string]cachedToken),
	}, nil
}

// Tools returns the tool registry for agentID, creating one on first
// use.
func (c *Client) Tools(agentID string) *Registry {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.tools[agentID]
	if !ok {
		r = NewRegistry()
		c.tools[agentID] = r
	}
	return r
}

// RegisterAgent computes agentID's checksum from its currently
// registered tools and registers it with the IDP, generating a keypair
// first if one doesn't already exist locally.
func (c *Client) RegisterAgent(ctx context.Context, spec AgentSpec) (AgentIdentity, error) {
	pub, err := c.keys.Generate(spec.AgentID)
	if err != nil {
		return AgentIdentity{}, err
	}

	tools := spec.Tools
	if tools == nil {
		tools = c.Tools(spec.AgentID).Descriptors(c.level)
	}

	reg, err := c.idp.RegisterAgent(ctx, intent.RegistrationRequest{
		AgentID:   spec.AgentID,
		Prompt:    spec.Prompt,
		Tools:     tools,
		Config:    spec.Config,
		PublicKey: pub,
	})
	if err != nil {
		return AgentIdentity{}, err
	}

	identity := AgentIdentity{
		AgentID:        reg.AgentID,
		RegistrationID: reg.RegistrationID,
		Version:        reg.Version,
		Checksum:       reg.Checksum,
		PublicKeyPEM:   pub,
	}

	c.mu.Lock()
	c.identities[spec.AgentID] = identity
	c.mu.Unlock()

	return identity, nil
}

// BootstrapAgents registers every spec in order, the way a parent agent
// and its sub-agents must be registered: a sub-agent used as a tool by
// a parent should be registered before the parent, so the parent's own
// checksum computation can already see it.
func (c *Client) BootstrapAgents(ctx context.Context, specs []AgentSpec) ([]AgentIdentity, error) {
	out := make([]AgentIdentity, 0, len(specs))
	for _, spec := range specs {
		identity, err := c.RegisterAgent(ctx, spec)
		if err != nil {
			return out, fmt.Errorf("shim: failed to register agent %q: %w", spec.AgentID, err)
		}
		out = append(out, identity)
	}
	return out, nil
}

// VerifyAgent re-derives agentID's checksum from currently registered
// tools and compares it against both the IDP's latest registration and
// the locally-held identity, catching a runtime mutation (the agent's
// prompt or tools changed after registration) or a local/IDP identity
// drift before a token is minted against stale evidence.
func (c *Client) VerifyAgent(ctx context.Context, spec AgentSpec) (VerificationStatus, error) {
	reg, found, err := c.idp.GetAgent(ctx, spec.AgentID)
	if err != nil {
		return "", err
	}
	if !found {
		return VerificationUnknownAgent, nil
	}

	tools := spec.Tools
	if tools == nil {
		tools = c.Tools(spec.AgentID).Descriptors(c.level)
	}
	sum := checksum.Compute(checksum.Components{
		AgentID: spec.AgentID,
		Prompt:  spec.Prompt,
		Tools:   tools,
		Config:  spec.Config,
	})

	if sum != reg.Checksum {
		return VerificationChecksumMismatch, nil
	}

	priv, err := c.keys.PrivateKey(spec.AgentID)
	if err != nil {
		return VerificationPoPKeyMismatch, nil
	}
	storedPub, err := keys.PublicKeyFromPEM(reg.PublicKey)
	if err != nil || storedPub.N.Cmp(priv.PublicKey.N) != 0 {
		return VerificationPoPKeyMismatch, nil
	}

	return VerificationOK, nil
}

// RequestOptions describes one outbound authenticated call. Mode
// selects which IDP endpoint mints the token: ModeIntent requires
// WorkflowID/StepID/ToolName and the caller's execution context;
// ModeOAuth mints a plain client_credentials token and ignores the
// workflow fields entirely.
type RequestOptions struct {
	Mode     TokenMode
	AgentID  string
	Scopes   []string
	Audience string

	WorkflowID      string
	StepID          string
	ToolName        string
	Completed       []workflow.CompletedStep
	DelegationChain []string

	ClientID     string
	ClientSecret string

	Method string
	URL    string
	Body   []byte
}

// TokenMode selects which IDP subsystem mints the token for a request.
type TokenMode string

const (
	ModeIntent TokenMode = "intent"
	ModeOAuth  TokenMode = "oauth"
)

// AuthenticatedHeaders mints (or reuses a cached) token for opts and
// returns the headers an outbound request must carry: Authorization,
// and — for intent-mode requests — PoP and X-PoP-Timestamp.
func (c *Client) AuthenticatedHeaders(ctx context.Context, opts RequestOptions) (map[string]string, error) {
	token, err := c.tokenFor(ctx, opts)
	if err != nil {
		return nil, err
	}

	headers := map[string]string{
		"Authorization": "Bearer " + token,
	}

	if opts.Mode != ModeIntent {
		return headers, nil
	}

	identity, ok := c.identity(opts.AgentID)
	if !ok {
		return nil, aidcperr.New(aidcperr.KindNoRegisteredAgentInContext,
			"agent %q has not been registered with this client", opts.AgentID)
	}
	priv, err := c.keys.PrivateKey(opts.AgentID)
	if err != nil {
		return nil, err
	}

	signature, timestamp, err := signPoP(priv, opts.Method, opts.URL, opts.Body, identity.Checksum, time.Now())
	if err != nil {
		return nil, err
	}
	headers["PoP"] = signature
	headers["X-PoP-Timestamp"] = fmt.Sprintf("%d", timestamp)

	return headers, nil
}

func (c *Client) identity(agentID string) (AgentIdentity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	identity, ok := c.identities[agentID]
	return identity, ok
}

func (c *Client) tokenFor(ctx context.Context, opts RequestOptions) (string, error) {
	key := cacheKey(opts)

	c.mu.Lock()
	if cached, ok := c.cache[key]; ok && time.Now().Before(cached.expiry.Add(-tokenCacheSkew)) {
		c.mu.Unlock()
		return cached.token, nil
	}
	c.mu.Unlock()

	var token string
	var expiresIn int64

	switch opts.Mode {
	case ModeIntent:
		identity, ok := c.identity(opts.AgentID)
		if !ok {
			return "", aidcperr.New(aidcperr.KindNoRegisteredAgentInContext,
				"agent %q has not been registered with this client", opts.AgentID)
		}
		resp, err := c.idp.MintIntentToken(ctx, intent.TokenRequest{
			GrantType:       "agent_checksum",
			AgentID:         opts.AgentID,
			Checksum:        identity.Checksum,
			RequestedScopes: opts.Scopes,
			Audience:        opts.Audience,
			WorkflowID:      opts.WorkflowID,
			StepID:          opts.StepID,
			ToolName:        opts.ToolName,
			Completed:       opts.Completed,
			DelegationChain: opts.DelegationChain,
		})
		if err != nil {
			return "", err
		}
		token, expiresIn = resp.AccessToken, resp.ExpiresIn

	case ModeOAuth:
		resp, err := c.idp.MintOAuthToken(ctx, oauth.TokenRequest{
			GrantType:    "client_credentials",
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			Scopes:       opts.Scopes,
			Audience:     opts.Audience,
		})
		if err != nil {
			return "", err
		}
		token, expiresIn = resp.AccessToken, resp.ExpiresIn

	default:
		return "", aidcperr.New(aidcperr.KindBadRequest, "unknown token mode %q", opts.Mode)
	}

	c.mu.Lock()
	c.cache[key] = cachedToken{
		token:  token,
		expiry: time.Now().Add(time.Duration(expiresIn) * time.Second),
	}
	c.mu.Unlock()

	return token, nil
}

func cacheKey(opts RequestOptions) string {
	scopes := append([]string(nil), opts.Scopes...)
	return strings.Join([]string{
		string(opts.Mode), opts.AgentID, opts.ClientID, opts.Audience,
		opts.WorkflowID, opts.StepID, strings.Join(scopes, ","),
	}, "|")
}
