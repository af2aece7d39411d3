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

package ratelimit

import (
	"github.com/hypernome/aidcp/pkg/config"
)

// NewRateLimiterFromConfig builds the RateLimiter guarding the IDP's
// token-minting endpoints (/oauth/token, /intent/token), keyed by the
// identifier the middleware's IdentifierFunc extracts from each request
// (cmd/idp uses DefaultIdentifierFunc). Returns nil when rate limiting
// is disabled.
//
// Example config:
//
//	rate_limiting:
//	  enabled: true
//	  scope: user
//	  limits:
//	    - type: count
//	      window: minute
//	      limit: 60
func NewRateLimiterFromConfig(cfg *config.RateLimitConfig) (RateLimiter, error) {
	if cfg == nil || !cfg.IsEnabled() {
		return nil, nil
	}

	limits := make([]LimitRule, len(cfg.Limits))
	for i, l := range cfg.Limits {
		limits[i] = LimitRule{
			Type:   ParseLimitType(l.Type),
			Window: ParseTimeWindow(l.Window),
			Limit:  l.Limit,
		}
	}

	limiterCfg := &Config{
		Enabled: cfg.IsEnabled(),
		Limits:  limits,
	}

	return NewRateLimiter(limiterCfg, NewMemoryStore())
}

// ScopeFromConfig returns the rate limiting scope from configuration.
func ScopeFromConfig(cfg *config.RateLimitConfig) Scope {
	if cfg == nil || cfg.Scope == "" {
		return ScopeUser
	}
	return ParseScope(cfg.Scope)
}
