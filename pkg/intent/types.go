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

// Package intent implements the IDP's agent and workflow registry and
// the intent-token minting that authorizes one workflow step at a time.
package intent

import (
	"github.com/hypernome/aidcp/pkg/checksum"
	"github.com/hypernome/aidcp/pkg/workflow"
)

// RegistrationRequest is what a shim submits to register (or re-register,
// on a version bump) one agent's identity components.
type RegistrationRequest struct {
	AgentID    string             `json:"agent_id"`
	Prompt     string             `json:"prompt"`
	Tools      []checksum.Tool    `json:"tools"`
	Config     map[string]any     `json:"config,omitempty"`
	PublicKey  string             `json:"public_key"`
}

// BatchRegistrationRequest registers several agents in one call, in the
// order they depend on each other (a sub-agent before the parent that
// uses it).
type BatchRegistrationRequest struct {
	Agents []RegistrationRequest `json:"agents"`
}

// Registration is one persisted registration record. AgentID plus
// Version together uniquely identify this record; GetSingleAgent and
// MintToken always resolve to the highest Version for a given AgentID.
type Registration struct {
	RegistrationID string          `json:"registration_id"`
	AgentID        string          `json:"agent_id"`
	Version        string          `json:"version"`
	Checksum       string          `json:"checksum"`
	Prompt         string          `json:"prompt"`
	Tools          []checksum.Tool `json:"tools"`
	Config         map[string]any  `json:"config,omitempty"`
	PublicKey      string          `json:"public_key"`
	RegisteredAt   int64           `json:"registered_at"`
}

// WorkflowDefinitionRequest registers one workflow DAG.
type WorkflowDefinitionRequest struct {
	WorkflowID   string                    `json:"workflow_id"`
	WorkflowType string                    `json:"workflow_type,omitempty"`
	Steps        map[string]workflow.Step  `json:"steps"`
	StepOrder    []string                  `json:"step_order"`
}

// WorkflowDefinitionBatch registers several workflows in one call.
type WorkflowDefinitionBatch struct {
	Workflows []WorkflowDefinitionRequest `json:"workflows"`
}

// TokenRequest is the body of a mint-token call: which agent claims to
// be executing which step of which workflow, with what evidence of the
// steps completed so far.
type TokenRequest struct {
	GrantType       string   `json:"grant_type"`
	AgentID         string   `json:"agent_id"`
	Checksum        string   `json:"checksum"`
	RequestedScopes []string `json:"scopes,omitempty"`
	Audience        string   `json:"audience"`

	WorkflowID      string                   `json:"workflow_id,omitempty"`
	StepID          string                   `json:"step_id,omitempty"`
	ToolName        string                   `json:"tool_name,omitempty"`
	Completed       []workflow.CompletedStep `json:"completed_steps,omitempty"`
	DelegationChain []string                 `json:"delegation_chain,omitempty"`
}

// TokenResponse is what MintToken returns: the bearer JWT plus the
// normal OAuth2 token-response envelope fields.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}
