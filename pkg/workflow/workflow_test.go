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

package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypernome/aidcp/pkg/aidcperr"
)

func threeStepDef() Definition {
	return Definition{
		WorkflowID:   "release-flow",
		WorkflowType: "dag",
		StepOrder:    []string{"plan", "approve", "patch"},
		Steps: map[string]Step{
			"plan": {
				Agent:    "planner",
				Action:   "draft_plan",
				Scopes:   []string{"plan:write"},
				Required: true,
			},
			"approve": {
				Agent:        "approver",
				Action:       "approve_plan",
				Scopes:       []string{"plan:approve"},
				Dependencies: []string{"plan"},
				ApprovalGate: true,
			},
			"patch": {
				Agent:            "patcher",
				Action:           "apply_patch",
				Scopes:           []string{"repo:write"},
				Dependencies:     []string{"plan"},
				RequiresApproval: true,
			},
		},
	}
}

func TestValidateFirstStepNoDependencies(t *testing.T) {
	err := Validate(Input{
		Workflow:        threeStepDef(),
		Active:          ActiveStep{StepID: "plan", AgentID: "planner", ToolName: "draft_plan"},
		RequestedScopes: []string{"plan:write"},
	})
	assert.NoError(t, err)
}

func TestValidateUnknownStep(t *testing.T) {
	err := Validate(Input{
		Workflow: threeStepDef(),
		Active:   ActiveStep{StepID: "nonexistent", AgentID: "planner", ToolName: "draft_plan"},
	})
	require.Error(t, err)
	assert.Equal(t, aidcperr.KindWorkflowDenied, aidcperr.KindOf(err))
}

func TestValidateWrongAgent(t *testing.T) {
	err := Validate(Input{
		Workflow:        threeStepDef(),
		Active:          ActiveStep{StepID: "plan", AgentID: "patcher", ToolName: "draft_plan"},
		RequestedScopes: []string{"plan:write"},
	})
	assert.Error(t, err)
}

func TestValidateWrongTool(t *testing.T) {
	err := Validate(Input{
		Workflow:        threeStepDef(),
		Active:          ActiveStep{StepID: "plan", AgentID: "planner", ToolName: "draft_something_else"},
		RequestedScopes: []string{"plan:write"},
	})
	assert.Error(t, err)
}

func TestValidateMissingScope(t *testing.T) {
	err := Validate(Input{
		Workflow: threeStepDef(),
		Active:   ActiveStep{StepID: "plan", AgentID: "planner", ToolName: "draft_plan"},
	})
	assert.Error(t, err)
}

func TestValidateDependencySkipped(t *testing.T) {
	err := Validate(Input{
		Workflow:        threeStepDef(),
		Active:          ActiveStep{StepID: "approve", AgentID: "approver", ToolName: "approve_plan"},
		RequestedScopes: []string{"plan:approve"},
	})
	require.Error(t, err)
	assert.Equal(t, aidcperr.KindWorkflowDenied, aidcperr.KindOf(err))
}

func TestValidateDependencySatisfied(t *testing.T) {
	err := Validate(Input{
		Workflow:        threeStepDef(),
		Active:          ActiveStep{StepID: "approve", AgentID: "approver", ToolName: "approve_plan"},
		RequestedScopes: []string{"plan:approve"},
		Delegation: DelegationContext{
			CompletedSteps: []CompletedStep{{StepID: "plan", AgentID: "planner", ToolName: "draft_plan"}},
		},
	})
	assert.NoError(t, err)
}

func TestValidateRequiresApprovalGateNotCompleted(t *testing.T) {
	err := Validate(Input{
		Workflow:        threeStepDef(),
		Active:          ActiveStep{StepID: "patch", AgentID: "patcher", ToolName: "apply_patch"},
		RequestedScopes: []string{"repo:write"},
		Delegation: DelegationContext{
			CompletedSteps: []CompletedStep{{StepID: "plan", AgentID: "planner", ToolName: "draft_plan"}},
		},
	})
	require.Error(t, err)
	assert.Equal(t, aidcperr.KindWorkflowDenied, aidcperr.KindOf(err))
}

func TestValidateRequiresApprovalWithGateCompleted(t *testing.T) {
	err := Validate(Input{
		Workflow:        threeStepDef(),
		Active:          ActiveStep{StepID: "patch", AgentID: "patcher", ToolName: "apply_patch"},
		RequestedScopes: []string{"repo:write"},
		Delegation: DelegationContext{
			CompletedSteps: []CompletedStep{
				{StepID: "plan", AgentID: "planner", ToolName: "draft_plan"},
				{StepID: "approve", AgentID: "approver", ToolName: "approve_plan"},
			},
		},
	})
	assert.NoError(t, err)
}

func TestValidateRequiredPrefixEnforced(t *testing.T) {
	def := threeStepDef()
	def.Steps["approve"] = Step{
		Agent:        "approver",
		Action:       "approve_plan",
		Scopes:       []string{"plan:approve"},
		ApprovalGate: true,
	}
	err := Validate(Input{
		Workflow:        def,
		Active:          ActiveStep{StepID: "approve", AgentID: "approver", ToolName: "approve_plan"},
		RequestedScopes: []string{"plan:approve"},
		GrantedScopes:   []string{"plan:approve"},
	})
	require.Error(t, err)
	assert.Equal(t, aidcperr.KindWorkflowDenied, aidcperr.KindOf(err))
}

func TestDefinitionValidateRejectsUndefinedDependency(t *testing.T) {
	def := Definition{
		WorkflowID: "broken",
		StepOrder:  []string{"a"},
		Steps: map[string]Step{
			"a": {Agent: "x", Action: "y", Dependencies: []string{"ghost"}},
		},
	}
	assert.Error(t, def.Validate())
}

func TestDefinitionValidateRejectsApprovalWithoutGate(t *testing.T) {
	def := Definition{
		WorkflowID: "broken",
		StepOrder:  []string{"a"},
		Steps: map[string]Step{
			"a": {Agent: "x", Action: "y", RequiresApproval: true},
		},
	}
	assert.Error(t, def.Validate())
}

func TestDefinitionValidateAccepted(t *testing.T) {
	assert.NoError(t, threeStepDef().Validate())
}

func TestDefinitionValidateRejectsUnsupportedType(t *testing.T) {
	def := threeStepDef()
	def.WorkflowType = "fsm"
	assert.Error(t, def.Validate())
}
