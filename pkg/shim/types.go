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

// Package shim is the client-side enforcement library an agent process
// links against: it registers the agent's identity with the IDP, wraps
// its tools so every invocation is tracked against the active workflow,
// and mints Proof-of-Possession-bound tokens before each outbound call.
//
// Unlike the reference implementation this library is modeled on, agent
// identity here is never inferred by walking the call stack at runtime.
// A caller passes its identity explicitly, through context.Context, the
// way any other Go server propagates a request-scoped value — see
// WithAgent and AgentFromContext.
package shim

import (
	"github.com/hypernome/aidcp/pkg/checksum"
)

// AgentSpec is the identity components one agent registers with the
// IDP: its system prompt, its tool surface, and any config that affects
// its behavior.
type AgentSpec struct {
	AgentID string
	Prompt  string
	Tools   []checksum.Tool
	Config  map[string]any
}

// AgentIdentity is what the shim holds locally once an AgentSpec has
// been registered: the IDP's registration record for it (id, version
// and the checksum the IDP computed) plus the PEM public key the shim
// registered.
type AgentIdentity struct {
	AgentID        string
	RegistrationID string
	Version        string
	Checksum       string
	PublicKeyPEM   string
}

// VerificationStatus is the outcome of re-verifying a previously
// registered agent's identity against the IDP before minting a token
// for it.
type VerificationStatus string

const (
	VerificationOK               VerificationStatus = "ok"
	VerificationChecksumMismatch VerificationStatus = "checksum_mismatch"
	VerificationUnknownAgent     VerificationStatus = "unknown_agent"
	VerificationPoPKeyMismatch   VerificationStatus = "pop_key_mismatch"
)

// WorkflowStepStatus is the lifecycle of one tracked tool invocation
// within a workflow execution.
type WorkflowStepStatus string

const (
	StepStarted   WorkflowStepStatus = "started"
	StepCompleted WorkflowStepStatus = "completed"
	StepFailed    WorkflowStepStatus = "failed"
)

// ChecksumLevel controls how much of a tool's definition is folded into
// its identity checksum: Shallow covers name/signature/description,
// Deep additionally normalizes and hashes the tool's source.
type ChecksumLevel = checksum.ChecksumLevel

const (
	ChecksumShallow = checksum.ChecksumLevelShallow
	ChecksumDeep    = checksum.ChecksumLevelDeep
)
