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
	"sync"
	"time"

	"github.com/hypernome/aidcp/pkg/workflow"
)

type contextKey string

const (
	executionContextKey contextKey = "shim.execution"
	agentContextKey     contextKey = "shim.agent"
)

// Step is one tracked tool invocation within a workflow execution.
type Step struct {
	StepID      string
	AgentID     string
	ToolName    string
	Status      WorkflowStepStatus
	StartedAt   time.Time
	CompletedAt time.Time
}

// ExecutionContext tracks the steps completed so far within one
// workflow run. It is created by StartWorkflow and attached to a
// context.Context; every TrackedTool invoked with that context records
// its step here, so Completed can supply the caller's completed-step
// evidence for RequestOptions.Completed on a later AuthenticatedHeaders
// call.
type ExecutionContext struct {
	mu         sync.Mutex
	workflowID string
	steps      []*Step
	seq        int
}

// StartWorkflow returns a context carrying a fresh ExecutionContext for
// workflowID, and the ExecutionContext itself for direct inspection
// (e.g. by request-building code that isn't itself a Tool).
func StartWorkflow(ctx context.Context, workflowID string) (context.Context, *ExecutionContext) {
	exec := &ExecutionContext{workflowID: workflowID}
	return context.WithValue(ctx, executionContextKey, exec), exec
}

// ExecutionFromContext returns the ExecutionContext attached to ctx, or
// nil if none is active.
func ExecutionFromContext(ctx context.Context) *ExecutionContext {
	exec, _ := ctx.Value(executionContextKey).(*ExecutionContext)
	return exec
}

// WorkflowID returns the workflow this execution is tracking.
func (e *ExecutionContext) WorkflowID() string { return e.workflowID }

// Completed returns every step that reached StepCompleted, in the
// order they were started, converted to the form pkg/workflow and
// pkg/intent expect as delegation evidence.
func (e *ExecutionContext) Completed() []workflow.CompletedStep {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]workflow.CompletedStep, 0, len(e.steps))
	for _, s := range e.steps {
		if s.Status != StepCompleted {
			continue
		}
		out = append(out, workflow.CompletedStep{
			StepID:      s.StepID,
			AgentID:     s.AgentID,
			ToolName:    s.ToolName,
			StartedAt:   float64(s.StartedAt.Unix()),
			CompletedAt: float64(s.CompletedAt.Unix()),
		})
	}
	return out
}

func (e *ExecutionContext) recordStart(agentID, toolName string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	stepID := fmt.Sprintf("%s-%d", toolName, e.seq)
	e.steps = append(e.steps, &Step{
		StepID:    stepID,
		AgentID:   agentID,
		ToolName:  toolName,
		Status:    StepStarted,
		StartedAt: time.Now(),
	})
	return stepID
}

func (e *ExecutionContext) recordCompletion(stepID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.steps {
		if s.StepID == stepID {
			s.Status = StepCompleted
			s.CompletedAt = time.Now()
			return
		}
	}
}

func (e *ExecutionContext) recordFailure(stepID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.steps {
		if s.StepID == stepID {
			s.Status = StepFailed
			s.CompletedAt = time.Now()
			return
		}
	}
}

// WithAgent returns a copy of ctx carrying identity as the calling
// agent's identity. This is the explicit, stack-walk-free replacement
// for runtime agent detection: code that calls a tool on behalf of a
// specific agent must say so.
func WithAgent(ctx context.Context, identity AgentIdentity) context.Context {
	return context.WithValue(ctx, agentContextKey, identity)
}

// AgentFromContext returns the agent identity attached to ctx by
// WithAgent, and whether one was present.
func AgentFromContext(ctx context.Context) (AgentIdentity, bool) {
	identity, ok := ctx.Value(agentContextKey).(AgentIdentity)
	return identity, ok
}
