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
	"sort"
	"sync"

	"github.com/hypernome/aidcp/pkg/checksum"
)

// Tool is anything the shim can wrap and track. The reference
// implementation this library is modeled on monkey-patches a bare
// function with a decorator; here a tool is a value that knows how to
// invoke itself, so wrapping it is composition instead of runtime
// rewriting.
type Tool interface {
	Name() string
	Signature() string
	Description() string
	// Source returns the tool's normalized source for deep-checksum
	// registration, or "" if it is registered at the shallow level.
	Source() string
	Invoke(ctx context.Context, args map[string]any) (any, error)
}

// FuncTool adapts a plain function into a Tool.
type FuncTool struct {
	ToolName        string
	ToolSignature   string
	ToolDescription string
	ToolSource      string
	Fn              func(ctx context.Context, args map[string]any) (any, error)
}

func (t *FuncTool) Name() string        { return t.ToolName }
func (t *FuncTool) Signature() string   { return t.ToolSignature }
func (t *FuncTool) Description() string { return t.ToolDescription }
func (t *FuncTool) Source() string      { return t.ToolSource }
func (t *FuncTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	return t.Fn(ctx, args)
}

// Registry holds the tools one agent has registered, keyed by name.
// Registration order is preserved for agents that register sub-agents
// as tools and need to bootstrap them in dependency order.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]Tool
}

// NewRegistry returns an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds tool under its own name. Registering the same name
// twice replaces the previous entry without reordering it.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name()]; !exists {
		r.order = append(r.order, tool.Name())
	}
	r.tools[tool.Name()] = tool
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// All returns every registered tool in registration order.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Descriptors converts every registered tool into a checksum.Tool,
// sorted by name. level controls whether Source is populated: only
// tools registered at ChecksumDeep contribute their normalized source
// to the checksum pre-image.
func (r *Registry) Descriptors(level ChecksumLevel) []checksum.Tool {
	tools := r.All()
	out := make([]checksum.Tool, 0, len(tools))
	for _, t := range tools {
		source := ""
		if level == ChecksumDeep {
			source = checksum.NormalizeSource(t.Source())
		}
		out = append(out, checksum.Tool{
			Name:        t.Name(),
			Signature:   t.Signature(),
			Description: t.Description(),
			Source:      source,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// TrackedTool wraps a Tool so every invocation records a workflow step
// in the ExecutionContext carried by ctx, transitioning it through
// Started, Completed or Failed. Invoking a tool with a context that
// carries no StartWorkflow execution is allowed; it simply records no
// step.
type TrackedTool struct {
	inner   Tool
	agentID string
}

// Track wraps tool so its invocations are tracked against the
// workflow execution active on the calling goroutine's context under
// agentID.
func Track(tool Tool, agentID string) *TrackedTool {
	return &TrackedTool{inner: tool, agentID: agentID}
}

func (t *TrackedTool) Name() string        { return t.inner.Name() }
func (t *TrackedTool) Signature() string   { return t.inner.Signature() }
func (t *TrackedTool) Description() string { return t.inner.Description() }
func (t *TrackedTool) Source() string      { return t.inner.Source() }

func (t *TrackedTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	exec := ExecutionFromContext(ctx)
	if exec == nil {
		return t.inner.Invoke(ctx, args)
	}

	stepID := exec.recordStart(t.agentID, t.inner.Name())
	result, err := t.inner.Invoke(ctx, args)
	if err != nil {
		exec.recordFailure(stepID)
		return nil, fmt.Errorf("shim: tool %q failed: %w", t.inner.Name(), err)
	}
	exec.recordCompletion(stepID)
	return result, nil
}
