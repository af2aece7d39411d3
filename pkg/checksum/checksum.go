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

// Package checksum computes the deterministic, one-way identity hash an
// agent registration and every later PoP-bound call is checked against.
// The hash covers the agent's id, its normalized prompt, its sorted tool
// descriptors and its configuration map; it never reveals the pre-image.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// Tool describes one callable an agent exposes to its reasoning loop.
// Source is only populated (and only hashed) for tools registered at the
// "deep" checksum level; IsAgent marks a tool that is itself another
// registered agent used as a sub-agent.
type Tool struct {
	Name        string `json:"name"`
	Signature   string `json:"signature"`
	Description string `json:"description"`
	Source      string `json:"source,omitempty"`
	IsAgent     bool   `json:"is_agent,omitempty"`
}

// Components is the pre-image of an agent's checksum: everything that
// identity is a pure function of.
type Components struct {
	AgentID string
	Prompt  string
	Tools   []Tool
	Config  map[string]any
}

// canonicalTool is the subset of Tool actually hashed. Source is
// included whenever the caller supplied one and omitted when empty; the
// caller decides which tools carry source (see ChecksumLevel).
type canonicalTool struct {
	Name        string `json:"name"`
	Signature   string `json:"signature"`
	Description string `json:"description"`
	Source      string `json:"source,omitempty"`
}

// canonicalPreimage is the object serialized before hashing. Field order
// in the struct is irrelevant — json.Marshal of a Go struct already emits
// fields in declaration order, but what matters for cross-process
// determinism is that both ends build the same value, not the same byte
// layout, since Compute is the only producer.
type canonicalPreimage struct {
	ID     string          `json:"id"`
	Prompt string          `json:"prompt"`
	Tools  []canonicalTool `json:"tools"`
	Config map[string]any  `json:"config"`
}

// ChecksumLevel controls whether a caller populates Tool.Source before
// calling Compute. Compute itself is pure with respect to Components:
// it hashes whatever Source it is given and has no notion of "shallow"
// versus "deep" on its own. The decision of which tools get normalized
// source lives in the caller (pkg/shim's tool registry) that actually
// knows each tool's declared level.
type ChecksumLevel string

const (
	ChecksumLevelShallow ChecksumLevel = "shallow"
	ChecksumLevelDeep    ChecksumLevel = "deep"
)

// Compute returns the hex-encoded SHA-256 checksum of c: a deterministic,
// one-way function of agent id, normalized prompt, sorted tool
// descriptors, and configuration. Equal Components always produce equal
// checksums, across processes and platforms; any semantically meaningful
// change to any field changes the output.
func Compute(c Components) string {
	tools := make([]canonicalTool, len(c.Tools))
	for i, t := range c.Tools {
		tools[i] = canonicalTool{
			Name:        t.Name,
			Signature:   t.Signature,
			Description: t.Description,
			Source:      t.Source,
		}
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })

	config := c.Config
	if config == nil {
		config = map[string]any{}
	}

	pre := canonicalPreimage{
		ID:     c.AgentID,
		Prompt: NormalizePrompt(c.Prompt),
		Tools:  tools,
		Config: config,
	}

	// encoding/json sorts map keys automatically; struct fields are
	// serialized in declaration order, which is fixed above. Stable JSON
	// with no insignificant whitespace is exactly what json.Marshal
	// produces for structs and maps without indentation.
	content, err := json.Marshal(pre)
	if err != nil {
		// Components can only contain JSON-marshalable values by
		// construction (strings, bools, and a map built from decoded
		// JSON); a marshal failure here means a caller put something
		// unmarshalable in Config, which is a programmer error.
		panic("checksum: failed to marshal canonical preimage: " + err.Error())
	}

	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// NormalizePrompt applies the formatting-insensitivity rules the spec
// requires: CRLF to LF, trim every line, drop empty lines, strip leading
// and trailing whitespace. Re-indenting or reflowing blank lines in a
// prompt must never change its checksum; renaming or rewording it always
// must.
func NormalizePrompt(prompt string) string {
	normalized := strings.ReplaceAll(prompt, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")

	lines := strings.Split(normalized, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		kept = append(kept, trimmed)
	}
	return strings.Join(kept, "\n")
}

// wrapperParams are framework-injected parameters that a tool signature
// MUST exclude so that identical logical signatures yield identical
// canonical strings across host frameworks (e.g. a LangChain
// StructuredTool versus a bare function), per spec §4.1.
var wrapperParams = map[string]bool{
	"config":          true,
	"callbacks":       true,
	"run_manager":     true,
	"tags":            true,
	"metadata":        true,
	"run_id":          true,
	"parent_run_id":   true,
	"configurable":    true,
	"recursion_limit": true,
}

// Param is one parameter of a tool's signature, as extracted by the
// runtime's reflection layer before canonicalization.
type Param struct {
	Name       string
	Annotation string
	// Variadic marks a catchall positional (*args-style) parameter.
	Variadic bool
	// KWCatchall marks a catchall keyword (**kwargs-style) parameter.
	KWCatchall bool
}

// CanonicalSignature builds the canonical signature string for name,
// params and returnAnnotation: function name, the remaining parameters
// in order as "name" or "name: annotation", then the return
// annotation, after dropping every wrapper parameter and every catchall
// parameter. Parameter kinds (positional, keyword-only and the like)
// are not recorded in the string. This is the one required canonicalization rule in the spec
// that is mandatory across host frameworks, so two tools with the same
// logical parameters MUST produce the same string regardless of which
// framework wrapped them.
func CanonicalSignature(name string, params []Param, returnAnnotation string) string {
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('(')

	first := true
	for _, p := range params {
		if p.Variadic || p.KWCatchall {
			continue
		}
		if wrapperParams[p.Name] {
			continue
		}
		if !first {
			b.WriteString(", ")
		}
		first = false
		b.WriteString(p.Name)
		if p.Annotation != "" {
			b.WriteString(": ")
			b.WriteString(p.Annotation)
		}
	}
	b.WriteString(")")

	if returnAnnotation != "" {
		b.WriteString(" -> ")
		b.WriteString(returnAnnotation)
	}
	return b.String()
}
