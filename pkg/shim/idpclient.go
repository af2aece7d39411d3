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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/hypernome/aidcp/pkg/intent"
	"github.com/hypernome/aidcp/pkg/oauth"
)

// IDPClient is the shim's view of the IDP's HTTP surface: just enough
// to register an agent's identity and mint tokens against it. It is an
// interface so tests can substitute an in-process fake instead of
// standing up a real IDP.
type IDPClient interface {
	RegisterAgent(ctx context.Context, req intent.RegistrationRequest) (intent.Registration, error)
	GetAgent(ctx context.Context, agentID string) (intent.Registration, bool, error)
	MintIntentToken(ctx context.Context, req intent.TokenRequest) (intent.TokenResponse, error)
	MintOAuthToken(ctx context.Context, req oauth.TokenRequest) (oauth.TokenResponse, error)
}

// HTTPIDPClient is the production IDPClient, talking JSON over HTTP to
// a running IDP.
type HTTPIDPClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPIDPClient builds a client against the IDP rooted at baseURL
// (e.g. "https://idp.internal"), using httpClient or http.DefaultClient
// if nil.
func NewHTTPIDPClient(baseURL string, httpClient *http.Client) *HTTPIDPClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPIDPClient{baseURL: baseURL, http: httpClient}
}

func (c *HTTPIDPClient) RegisterAgent(ctx context.Context, req intent.RegistrationRequest) (intent.Registration, error) {
	var reg intent.Registration
	err := c.postJSON(ctx, "/intent/agents/register", req, &reg)
	return reg, err
}

func (c *HTTPIDPClient) GetAgent(ctx context.Context, agentID string) (intent.Registration, bool, error) {
	var reg intent.Registration
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/intent/agents/"+agentID, nil)
	if err != nil {
		return intent.Registration{}, false, err
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return intent.Registration{}, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return intent.Registration{}, false, nil
	}
	if resp.StatusCode >= 300 {
		return intent.Registration{}, false, fmt.Errorf("shim: GET /intent/agents/%s returned %d", agentID, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&reg); err != nil {
		return intent.Registration{}, false, fmt.Errorf("shim: failed to decode agent: %w", err)
	}
	return reg, true, nil
}

func (c *HTTPIDPClient) MintIntentToken(ctx context.Context, req intent.TokenRequest) (intent.TokenResponse, error) {
	var resp intent.TokenResponse
	err := c.postJSON(ctx, "/intent/token", req, &resp)
	return resp, err
}

// MintOAuthToken posts a standard RFC 6749 client_credentials request,
// form-encoded, matching the IDP's /oauth/token endpoint.
func (c *HTTPIDPClient) MintOAuthToken(ctx context.Context, req oauth.TokenRequest) (oauth.TokenResponse, error) {
	var resp oauth.TokenResponse

	form := url.Values{}
	form.Set("grant_type", req.GrantType)
	form.Set("client_id", req.ClientID)
	form.Set("client_secret", req.ClientSecret)
	form.Set("audience", req.Audience)
	if len(req.Scopes) > 0 {
		form.Set("scope", strings.Join(req.Scopes, " "))
	}

	err := c.postForm(ctx, "/oauth/token", form, &resp)
	return resp, err
}

func (c *HTTPIDPClient) postForm(ctx context.Context, path string, form url.Values, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("shim: failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("shim: request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("shim: %s returned status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("shim: failed to decode response from %s: %w", path, err)
	}
	return nil
}

func (c *HTTPIDPClient) postJSON(ctx context.Context, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("shim: failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("shim: failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("shim: request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("shim: %s returned status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("shim: failed to decode response from %s: %w", path, err)
	}
	return nil
}
