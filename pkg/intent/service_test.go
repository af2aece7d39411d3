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

package intent

import (
	"crypto/rand"
	"crypto/rsa"
	"path/filepath"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypernome/aidcp/pkg/aidcperr"
	"github.com/hypernome/aidcp/pkg/checksum"
	"github.com/hypernome/aidcp/pkg/keys"
	"github.com/hypernome/aidcp/pkg/workflow"
)

func newTestService(t *testing.T) (*Service, *keys.Manager) {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "registry.json"))
	require.NoError(t, err)

	signingKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	mgr, err := keys.NewManager(t.TempDir())
	require.NoError(t, err)

	svc := NewService(store, signingKey, "test-kid", "https://idp.test", 5*time.Minute)
	return svc, mgr
}

func registerAgent(t *testing.T, svc *Service, mgr *keys.Manager, agentID, prompt string) Registration {
	t.Helper()
	pub, err := mgr.Generate(agentID)
	require.NoError(t, err)

	reg, err := svc.RegisterAgent(RegistrationRequest{
		AgentID: agentID,
		Prompt:  prompt,
		Tools: []checksum.Tool{
			{Name: "list_files", Signature: "list_files(path: str) -> list[str]", Description: "Lists files."},
		},
		PublicKey: pub,
	})
	require.NoError(t, err)
	return reg
}

func TestRegisterAgentFirstTime(t *testing.T) {
	svc, mgr := newTestService(t)
	reg := registerAgent(t, svc, mgr, "planner", "You are a planner.")
	assert.Equal(t, "1.0.0", reg.Version)
	assert.NotEmpty(t, reg.Checksum)
}

func TestRegisterAgentIdempotentOnUnchangedChecksum(t *testing.T) {
	svc, mgr := newTestService(t)
	first := registerAgent(t, svc, mgr, "planner", "You are a planner.")
	second := registerAgent(t, svc, mgr, "planner", "You are a planner.")
	assert.Equal(t, first.RegistrationID, second.RegistrationID)
}

func TestRegisterAgentBumpsVersionOnChange(t *testing.T) {
	svc, mgr := newTestService(t)
	registerAgent(t, svc, mgr, "planner", "You are a planner.")
	second := registerAgent(t, svc, mgr, "planner", "You are a planner, revised.")
	assert.Equal(t, "1.0.1", second.Version)
}

func TestRegisterAgentRejectsCrossAgentCollision(t *testing.T) {
	svc, mgr := newTestService(t)
	registerAgent(t, svc, mgr, "planner", "Shared prompt.")

	pub, err := mgr.Generate("impostor")
	require.NoError(t, err)

	_, err = svc.RegisterAgent(RegistrationRequest{
		AgentID: "impostor",
		Prompt:  "Shared prompt.",
		Tools: []checksum.Tool{
			{Name: "list_files", Signature: "list_files(path: str) -> list[str]", Description: "Lists files."},
		},
		PublicKey: pub,
	})
	require.Error(t, err)
	assert.Equal(t, aidcperr.KindChecksumCollision, aidcperr.KindOf(err))
}

func TestMintTokenUnknownAgent(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.MintToken(TokenRequest{GrantType: "agent_checksum", AgentID: "ghost", Checksum: "whatever", Audience: "gateway"})
	require.Error(t, err)
	assert.Equal(t, aidcperr.KindUnknownAgent, aidcperr.KindOf(err))
}

func TestMintTokenChecksumMismatch(t *testing.T) {
	svc, mgr := newTestService(t)
	registerAgent(t, svc, mgr, "planner", "You are a planner.")

	_, err := svc.MintToken(TokenRequest{GrantType: "agent_checksum", AgentID: "planner", Checksum: "stale-checksum", Audience: "gateway"})
	require.Error(t, err)
	assert.Equal(t, aidcperr.KindCodeIntegrityViolation, aidcperr.KindOf(err))
}

func TestMintTokenSimpleSucceeds(t *testing.T) {
	svc, mgr := newTestService(t)
	reg := registerAgent(t, svc, mgr, "planner", "You are a planner.")

	resp, err := svc.MintToken(TokenRequest{
		GrantType:       "agent_checksum",
		AgentID:         "planner",
		Checksum:        reg.Checksum,
		Audience:        "gateway",
		RequestedScopes: []string{"plan:write"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.NotEmpty(t, resp.AccessToken)

	token, err := jwt.Parse([]byte(resp.AccessToken), jwt.WithVerify(false), jwt.WithValidate(false))
	require.NoError(t, err)
	assert.Equal(t, "planner", token.Subject())
	assert.Equal(t, "https://idp.test", token.Issuer())

	agentProof, ok := token.Get("agent_proof")
	require.True(t, ok)
	m := agentProof.(map[string]interface{})
	assert.Equal(t, reg.Checksum, m["agent_checksum"])
}

func TestMintTokenRejectsUnsupportedGrantType(t *testing.T) {
	svc, mgr := newTestService(t)
	reg := registerAgent(t, svc, mgr, "planner", "You are a planner.")

	_, err := svc.MintToken(TokenRequest{
		GrantType: "intent_delegation",
		AgentID:   "planner",
		Checksum:  reg.Checksum,
		Audience:  "gateway",
	})
	require.Error(t, err)
	assert.Equal(t, aidcperr.KindBadRequest, aidcperr.KindOf(err))
}

func TestMintTokenWorkflowStepDenied(t *testing.T) {
	svc, mgr := newTestService(t)
	reg := registerAgent(t, svc, mgr, "planner", "You are a planner.")

	require.NoError(t, svc.RegisterWorkflow(workflow.Definition{
		WorkflowID: "release-flow",
		StepOrder:  []string{"plan"},
		Steps: map[string]workflow.Step{
			"plan": {Agent: "planner", Action: "draft_plan", Scopes: []string{"plan:write"}},
		},
	}))

	_, err := svc.MintToken(TokenRequest{
		GrantType:  "agent_checksum",
		AgentID:    "planner",
		Checksum:   reg.Checksum,
		Audience:   "gateway",
		WorkflowID: "release-flow",
		StepID:     "plan",
		ToolName:   "wrong_tool",
	})
	require.Error(t, err)
	assert.Equal(t, aidcperr.KindWorkflowDenied, aidcperr.KindOf(err))
}

func TestMintTokenWorkflowStepSucceeds(t *testing.T) {
	svc, mgr := newTestService(t)
	reg := registerAgent(t, svc, mgr, "planner", "You are a planner.")

	require.NoError(t, svc.RegisterWorkflow(workflow.Definition{
		WorkflowID: "release-flow",
		StepOrder:  []string{"plan"},
		Steps: map[string]workflow.Step{
			"plan": {Agent: "planner", Action: "draft_plan", Scopes: []string{"plan:write"}},
		},
	}))

	resp, err := svc.MintToken(TokenRequest{
		GrantType:       "agent_checksum",
		AgentID:         "planner",
		Checksum:        reg.Checksum,
		Audience:        "gateway",
		RequestedScopes: []string{"plan:write"},
		WorkflowID:      "release-flow",
		StepID:          "plan",
		ToolName:        "draft_plan",
	})
	require.NoError(t, err)

	token, err := jwt.Parse([]byte(resp.AccessToken), jwt.WithVerify(false), jwt.WithValidate(false))
	require.NoError(t, err)
	intentClaim, ok := token.Get("intent")
	require.True(t, ok)
	m := intentClaim.(map[string]interface{})
	assert.Equal(t, "plan", m["workflow_step"])
	assert.NotEmpty(t, m["delegation_chain"])
	assert.NotEmpty(t, m["step_sequence_hash"])
}

func TestMintTokenDelegationChainDefaultsToAgentID(t *testing.T) {
	svc, mgr := newTestService(t)
	reg := registerAgent(t, svc, mgr, "planner", "You are a planner.")

	require.NoError(t, svc.RegisterWorkflow(workflow.Definition{
		WorkflowID: "release-flow",
		StepOrder:  []string{"plan"},
		Steps: map[string]workflow.Step{
			"plan": {Agent: "planner", Action: "draft_plan", Scopes: []string{"plan:write"}},
		},
	}))

	withoutChain, err := svc.MintToken(TokenRequest{
		GrantType:       "agent_checksum",
		AgentID:         "planner",
		Checksum:        reg.Checksum,
		Audience:        "gateway",
		RequestedScopes: []string{"plan:write"},
		WorkflowID:      "release-flow",
		StepID:          "plan",
		ToolName:        "draft_plan",
	})
	require.NoError(t, err)

	withChain, err := svc.MintToken(TokenRequest{
		GrantType:       "agent_checksum",
		AgentID:         "planner",
		Checksum:        reg.Checksum,
		Audience:        "gateway",
		RequestedScopes: []string{"plan:write"},
		WorkflowID:      "release-flow",
		StepID:          "plan",
		ToolName:        "draft_plan",
		DelegationChain: []string{"planner"},
	})
	require.NoError(t, err)

	tokenA, err := jwt.Parse([]byte(withoutChain.AccessToken), jwt.WithVerify(false), jwt.WithValidate(false))
	require.NoError(t, err)
	claimA, ok := tokenA.Get("intent")
	require.True(t, ok)

	tokenB, err := jwt.Parse([]byte(withChain.AccessToken), jwt.WithVerify(false), jwt.WithValidate(false))
	require.NoError(t, err)
	claimB, ok := tokenB.Get("intent")
	require.True(t, ok)

	assert.Equal(t, claimA.(map[string]interface{})["delegation_chain"], claimB.(map[string]interface{})["delegation_chain"])
}

func TestRegisterWorkflowRejectsConflictingRedefinition(t *testing.T) {
	svc, _ := newTestService(t)
	def := workflow.Definition{
		WorkflowID: "wf",
		StepOrder:  []string{"a"},
		Steps:      map[string]workflow.Step{"a": {Agent: "x", Action: "y"}},
	}
	require.NoError(t, svc.RegisterWorkflow(def))

	conflicting := def
	conflicting.Steps = map[string]workflow.Step{"a": {Agent: "z", Action: "y"}}
	err := svc.RegisterWorkflow(conflicting)
	require.Error(t, err)
	assert.Equal(t, aidcperr.KindDuplicateWorkflow, aidcperr.KindOf(err))
}

func TestRegisterWorkflowIdempotentOnIdenticalSteps(t *testing.T) {
	svc, _ := newTestService(t)
	def := workflow.Definition{
		WorkflowID: "wf",
		StepOrder:  []string{"a"},
		Steps:      map[string]workflow.Step{"a": {Agent: "x", Action: "y"}},
	}
	require.NoError(t, svc.RegisterWorkflow(def))
	require.NoError(t, svc.RegisterWorkflow(def))
}

func TestGetRegisteredAgentsReturnsLatestPerAgent(t *testing.T) {
	svc, mgr := newTestService(t)
	registerAgent(t, svc, mgr, "planner", "v1")
	registerAgent(t, svc, mgr, "planner", "v2")
	registerAgent(t, svc, mgr, "patcher", "v1")

	all := svc.GetRegisteredAgents()
	require.Len(t, all, 2)

	byID := map[string]Registration{}
	for _, r := range all {
		byID[r.AgentID] = r
	}
	assert.Equal(t, "1.0.1", byID["planner"].Version)
	assert.Equal(t, "1.0.0", byID["patcher"].Version)
}
