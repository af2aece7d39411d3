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

// Package workflow implements the pure DAG validator the intent subsystem
// invokes at token-mint time: given a workflow definition, the step an
// agent claims to be executing, and the delegation context carried from
// prior steps, Validate decides whether that step may be authorized.
//
// Validate has no side effects and depends only on its arguments, so it
// is safe to call from any goroutine and trivial to unit test in
// isolation from the HTTP and persistence layers around it.
package workflow

import (
	"github.com/hypernome/aidcp/pkg/aidcperr"
)

// Step is one node of a workflow DAG: the agent allowed to execute it,
// the tool or sub-agent action it performs, the scopes it requires, its
// dependencies, and its role in the required-prefix and approval-gate
// rules.
type Step struct {
	Agent             string   `json:"agent" yaml:"agent"`
	Action            string   `json:"action" yaml:"action"`
	Scopes            []string `json:"scopes,omitempty" yaml:"scopes,omitempty"`
	Dependencies      []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Required          bool     `json:"required,omitempty" yaml:"required,omitempty"`
	ApprovalGate      bool     `json:"approval_gate,omitempty" yaml:"approval_gate,omitempty"`
	RequiresApproval  bool     `json:"requires_approval,omitempty" yaml:"requires_approval,omitempty"`
}

// Definition is a registered workflow: an id, a type (always "dag" for
// now — the field exists so a future non-DAG workflow type has
// somewhere to declare itself), and an ordered step map. Enumeration
// order of Steps (via StepOrder) is significant: the required-prefix and
// nearest-preceding-approval-gate rules are both defined in terms of it.
type Definition struct {
	WorkflowID   string          `json:"workflow_id" yaml:"workflow_id"`
	WorkflowType string          `json:"workflow_type" yaml:"workflow_type"`
	Steps        map[string]Step `json:"steps" yaml:"steps"`
	// StepOrder records the order steps were declared in, since Go map
	// iteration order is randomized and the spec's required-prefix and
	// approval-gate rules are order-sensitive.
	StepOrder []string `json:"step_order" yaml:"step_order"`
}

// ActiveStep identifies the step a caller claims to be executing right
// now: the step_id plus the agent and tool that must match the
// registered step's Agent and Action.
type ActiveStep struct {
	StepID   string `json:"step_id"`
	AgentID  string `json:"agent_id"`
	ToolName string `json:"tool_name"`
}

// CompletedStep is one finished step record carried in the delegation
// context, as recorded by the shim's workflow-tracking wrapper.
type CompletedStep struct {
	StepID      string  `json:"step_id"`
	AgentID     string  `json:"agent_id"`
	ToolName    string  `json:"tool_name"`
	StartedAt   float64 `json:"started_at,omitempty"`
	CompletedAt float64 `json:"completed_at,omitempty"`
}

// DelegationContext is the chain-plus-completed-steps evidence a token
// request carries so the validator can check dependency, required-prefix
// and approval-gate rules.
type DelegationContext struct {
	Chain          []CompletedStep
	CompletedSteps []CompletedStep
}

// Input bundles everything Validate needs to decide one authorization.
type Input struct {
	Workflow         Definition
	Active           ActiveStep
	RequestedScopes  []string
	GrantedScopes    []string
	Delegation       DelegationContext
}

// Validate applies every rule in spec §4.5, in order, and returns the
// first failure as a *aidcperr.Error with Kind KindWorkflowDenied. A nil
// return means every check passed.
func Validate(in Input) error {
	step, ok := in.Workflow.Steps[in.Active.StepID]
	if !ok {
		return deny("step %q not defined in workflow %q", in.Active.StepID, in.Workflow.WorkflowID)
	}

	if in.Active.AgentID != step.Agent {
		return deny("step %q must be executed by agent %q, not %q", in.Active.StepID, step.Agent, in.Active.AgentID)
	}

	if in.Active.ToolName != step.Action {
		return deny("step %q must execute action %q, not %q", in.Active.StepID, step.Action, in.Active.ToolName)
	}

	have := make(map[string]bool, len(in.RequestedScopes)+len(in.GrantedScopes))
	for _, s := range in.RequestedScopes {
		have[s] = true
	}
	for _, s := range in.GrantedScopes {
		have[s] = true
	}
	for _, needed := range step.Scopes {
		if !have[needed] {
			return deny("step %q requires scope %q which was neither requested nor granted", in.Active.StepID, needed)
		}
	}

	completedIDs := make(map[string]bool, len(in.Delegation.CompletedSteps))
	for _, c := range in.Delegation.CompletedSteps {
		completedIDs[c.StepID] = true
	}

	if len(in.Delegation.CompletedSteps) == 0 && len(step.Dependencies) > 0 {
		return deny("step %q declares dependencies but no steps have completed yet", in.Active.StepID)
	}

	for _, dep := range step.Dependencies {
		if !completedIDs[dep] {
			return deny("step %q depends on %q which has not completed", in.Active.StepID, dep)
		}
	}

	if err := checkRequiredPrefix(in.Workflow, in.Active.StepID, completedIDs); err != nil {
		return err
	}

	if step.RequiresApproval {
		if err := checkApproval(in.Workflow, in.Active.StepID, completedIDs); err != nil {
			return err
		}
	}

	return nil
}

// checkRequiredPrefix enforces that every step declared before stepID in
// the workflow's enumeration order and marked Required has completed.
func checkRequiredPrefix(def Definition, stepID string, completedIDs map[string]bool) error {
	for _, id := range def.StepOrder {
		if id == stepID {
			break
		}
		step, ok := def.Steps[id]
		if !ok || !step.Required {
			continue
		}
		if !completedIDs[id] {
			return deny("required step %q must complete before %q", id, stepID)
		}
	}
	return nil
}

// checkApproval enforces the nearest-preceding-approval-gate rule: the
// closest ApprovalGate step declared before stepID in enumeration order
// must be present in completedIDs. A step with no approval gate declared
// before it is always a denial, never an auto-pass.
func checkApproval(def Definition, stepID string, completedIDs map[string]bool) error {
	var nearestGate string
	for _, id := range def.StepOrder {
		if id == stepID {
			break
		}
		if step, ok := def.Steps[id]; ok && step.ApprovalGate {
			nearestGate = id
		}
	}

	if nearestGate == "" {
		return deny("step %q requires approval but no approval_gate step is defined before it", stepID)
	}
	if !completedIDs[nearestGate] {
		return deny("step %q requires approval from %q which has not completed", stepID, nearestGate)
	}
	return nil
}

// Validate checks def's own structural invariants at registration time:
// every dependency must reference a step defined in the same workflow,
// and every requires_approval step must have an approval_gate step
// declared earlier in enumeration order.
func (def Definition) Validate() error {
	if def.WorkflowType != "" && def.WorkflowType != "dag" {
		return aidcperr.New(aidcperr.KindBadRequest, "unsupported workflow_type %q", def.WorkflowType)
	}

	for _, id := range def.StepOrder {
		step, ok := def.Steps[id]
		if !ok {
			return aidcperr.New(aidcperr.KindBadRequest, "step_order references undefined step %q", id)
		}
		for _, dep := range step.Dependencies {
			if _, ok := def.Steps[dep]; !ok {
				return aidcperr.New(aidcperr.KindBadRequest, "step %q depends on undefined step %q", id, dep)
			}
		}
	}

	for _, id := range def.StepOrder {
		step := def.Steps[id]
		if !step.RequiresApproval {
			continue
		}
		var hasGateBefore bool
		for _, earlier := range def.StepOrder {
			if earlier == id {
				break
			}
			if def.Steps[earlier].ApprovalGate {
				hasGateBefore = true
				break
			}
		}
		if !hasGateBefore {
			return aidcperr.New(aidcperr.KindBadRequest, "step %q requires_approval but no approval_gate step precedes it", id)
		}
	}

	return nil
}

func deny(format string, args ...any) error {
	return aidcperr.New(aidcperr.KindWorkflowDenied, format, args...)
}
