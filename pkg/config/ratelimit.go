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

import "fmt"

// RateLimitRule configures a single rate limit layer, e.g. 60 requests
// per minute or 1000 per day.
type RateLimitRule struct {
	// Type is the limit kind: "token" or "count".
	Type string `yaml:"type"`

	// Window is the time window: "minute", "hour", "day", "week", "month".
	Window string `yaml:"window"`

	// Limit is the maximum allowed within the window.
	Limit int64 `yaml:"limit"`
}

// Validate checks the RateLimitRule for errors.
func (r *RateLimitRule) Validate() error {
	switch r.Type {
	case "token", "count":
	default:
		return fmt.Errorf("rate_limiting.limits[].type must be 'token' or 'count', got %q", r.Type)
	}

	switch r.Window {
	case "minute", "hour", "day", "week", "month":
	default:
		return fmt.Errorf("rate_limiting.limits[].window must be one of minute/hour/day/week/month, got %q", r.Window)
	}

	if r.Limit <= 0 {
		return fmt.Errorf("rate_limiting.limits[].limit must be greater than zero, got %d", r.Limit)
	}

	return nil
}

// RateLimitConfig configures rate limiting for the IDP's token-minting
// endpoints (/oauth/token, /intent/token).
//
// Example configuration:
//
//	rate_limiting:
//	  enabled: true
//	  scope: user
//	  limits:
//	    - type: count
//	      window: minute
//	      limit: 60
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is enforced.
	// Default: false
	Enabled *bool `yaml:"enabled,omitempty"`

	// Scope is the rate limiting scope: "session" or "user".
	// Default: "user"
	Scope string `yaml:"scope,omitempty"`

	// Limits are the layered rate limit rules applied to every request.
	Limits []RateLimitRule `yaml:"limits,omitempty"`
}

// SetDefaults applies default values to RateLimitConfig.
func (c *RateLimitConfig) SetDefaults() {
	if c.Enabled == nil {
		disabled := false
		c.Enabled = &disabled
	}

	if c.Scope == "" {
		c.Scope = "user"
	}
}

// IsEnabled returns true if rate limiting is configured and enabled.
func (c *RateLimitConfig) IsEnabled() bool {
	return c != nil && c.Enabled != nil && *c.Enabled
}

// Validate checks the RateLimitConfig for errors.
func (c *RateLimitConfig) Validate() error {
	if !c.IsEnabled() {
		return nil
	}

	switch c.Scope {
	case "session", "user", "":
	default:
		return fmt.Errorf("rate_limiting.scope must be 'session' or 'user', got %q", c.Scope)
	}

	if len(c.Limits) == 0 {
		return fmt.Errorf("rate_limiting.limits must contain at least one rule when rate_limiting is enabled")
	}

	for i := range c.Limits {
		if err := c.Limits[i].Validate(); err != nil {
			return err
		}
	}

	return nil
}
