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

// IntentConfig configures the IDP's agent/workflow registry and the
// short-lived intent tokens it mints against that registry.
//
// Example:
//
//	intent:
//	  registry_file: ./data/registry.json
//	  token_ttl: 5m
type IntentConfig struct {
	// RegistryFile is where registered agents and workflows are persisted.
	// A dev-grade file-backed store — see Non-goals for why this isn't a
	// database.
	// Default: ./data/registry.json
	RegistryFile string `yaml:"registry_file,omitempty"`

	// TokenTTL is how long a minted intent token is valid for.
	// Default: 5m
	TokenTTL time.Duration `yaml:"token_ttl,omitempty"`
}

// SetDefaults applies default values to IntentConfig.
func (c *IntentConfig) SetDefaults() {
	if c.RegistryFile == "" {
		c.RegistryFile = "./data/registry.json"
	}
	if c.TokenTTL == 0 {
		c.TokenTTL = 5 * time.Minute
	}
}

// Validate checks IntentConfig for errors.
func (c *IntentConfig) Validate() error {
	if c.RegistryFile == "" {
		return fmt.Errorf("intent.registry_file must not be empty")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("intent.token_ttl must be greater than zero")
	}
	return nil
}
