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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hypernome/aidcp/pkg/workflow"
)

// registryFile is the on-disk shape of the store: every registration
// ever accepted (never overwritten, so history and collision checks
// both work off the same append-only log) plus the current workflow
// definitions.
type registryFile struct {
	Registrations []Registration                     `json:"registrations"`
	Workflows     map[string]workflow.Definition      `json:"workflows"`
}

// Store is the file-backed agent/workflow registry. A dev-grade
// persistence layer: the whole registry is rewritten on every mutation,
// which is fine at the scale this control plane is meant to run at, and
// keeps the on-disk format trivially inspectable.
type Store struct {
	mu   sync.RWMutex
	path string
	data registryFile
}

// NewStore loads path if it exists, or starts empty if it doesn't. A
// store path that exists but fails to parse is a startup error: unlike
// pkg/keys, a corrupt registry silently starting empty would be a
// safety regression, not merely an inconvenience.
func NewStore(path string) (*Store, error) {
	s := &Store{
		path: path,
		data: registryFile{Workflows: make(map[string]workflow.Definition)},
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("intent: failed to read registry %s: %w", path, err)
	}
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("intent: failed to parse registry %s: %w", path, err)
	}
	if s.data.Workflows == nil {
		s.data.Workflows = make(map[string]workflow.Definition)
	}
	return s, nil
}

// persist rewrites the whole registry file. Caller must hold s.mu.
func (s *Store) persist() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("intent: failed to create registry directory: %w", err)
	}
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("intent: failed to marshal registry: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("intent: failed to write registry: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// appendRegistration adds reg to the log and persists.
func (s *Store) appendRegistration(reg Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Registrations = append(s.data.Registrations, reg)
	return s.persist()
}

// registrationsFor returns every registration recorded for agentID, in
// the order they were registered.
func (s *Store) registrationsFor(agentID string) []Registration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Registration
	for _, r := range s.data.Registrations {
		if r.AgentID == agentID {
			out = append(out, r)
		}
	}
	return out
}

// latestFor returns the highest-version registration for agentID, or
// false if it has never registered.
func (s *Store) latestFor(agentID string) (Registration, bool) {
	regs := s.registrationsFor(agentID)
	if len(regs) == 0 {
		return Registration{}, false
	}
	return regs[len(regs)-1], true
}

// allLatest returns the latest registration per distinct agent_id, in
// first-seen order.
func (s *Store) allLatest() []Registration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order := make([]string, 0)
	latest := make(map[string]Registration)
	for _, r := range s.data.Registrations {
		if _, ok := latest[r.AgentID]; !ok {
			order = append(order, r.AgentID)
		}
		latest[r.AgentID] = r
	}

	out := make([]Registration, 0, len(order))
	for _, id := range order {
		out = append(out, latest[id])
	}
	return out
}

// checksumOwner returns the agent_id already registered under checksum,
// if any, regardless of which agent_id is asking. This is what makes
// cross-agent checksum collisions detectable.
func (s *Store) checksumOwner(sum string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.data.Registrations {
		if r.Checksum == sum {
			return r.AgentID, true
		}
	}
	return "", false
}

func (s *Store) getWorkflow(id string) (workflow.Definition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.data.Workflows[id]
	return def, ok
}

func (s *Store) putWorkflow(def workflow.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Workflows[def.WorkflowID] = def
	return s.persist()
}

func (s *Store) deleteWorkflow(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.Workflows[id]; !ok {
		return nil
	}
	delete(s.data.Workflows, id)
	return s.persist()
}
