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

package checksum

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseComponents() Components {
	return Components{
		AgentID: "planner",
		Prompt:  "You are a planning agent.\n\nUse your tools wisely.",
		Tools: []Tool{
			{Name: "list_files", Signature: "list_files(path: str) -> list[str]", Description: "Lists files."},
		},
		Config: map[string]any{"temperature": 0.0},
	}
}

func TestComputeDeterministic(t *testing.T) {
	c := baseComponents()
	require.Equal(t, Compute(c), Compute(c))
}

func TestComputeSensitiveToPrompt(t *testing.T) {
	c1 := baseComponents()
	c2 := baseComponents()
	c2.Prompt = "You are a planning agent.\n\nUse your tools carefully."
	assert.NotEqual(t, Compute(c1), Compute(c2))
}

func TestComputeSensitiveToToolName(t *testing.T) {
	c1 := baseComponents()
	c2 := baseComponents()
	c2.Tools[0].Name = "list_dir"
	assert.NotEqual(t, Compute(c1), Compute(c2))
}

func TestComputeSensitiveToToolSignature(t *testing.T) {
	c1 := baseComponents()
	c2 := baseComponents()
	c2.Tools[0].Signature = "list_files(path: str, recursive: bool) -> list[str]"
	assert.NotEqual(t, Compute(c1), Compute(c2))
}

func TestComputeSensitiveToToolDescription(t *testing.T) {
	c1 := baseComponents()
	c2 := baseComponents()
	c2.Tools[0].Description = "Lists files recursively."
	assert.NotEqual(t, Compute(c1), Compute(c2))
}

func TestComputeSensitiveToConfig(t *testing.T) {
	c1 := baseComponents()
	c2 := baseComponents()
	c2.Config = map[string]any{"temperature": 0.7}
	assert.NotEqual(t, Compute(c1), Compute(c2))
}

func TestComputeSensitiveToDeepSource(t *testing.T) {
	c1 := baseComponents()
	c1.Tools[0].Source = "func listFiles(path string) []string { return nil }"
	c2 := baseComponents()
	c2.Tools[0].Source = "func listFiles(path string) []string { return []string{} }"
	assert.NotEqual(t, Compute(c1), Compute(c2))
}

func TestComputeToolOrderInsensitive(t *testing.T) {
	c1 := baseComponents()
	c1.Tools = append(c1.Tools, Tool{Name: "read_file", Signature: "read_file(path: str) -> str", Description: "Reads a file."})

	c2 := baseComponents()
	c2.Tools = []Tool{
		{Name: "read_file", Signature: "read_file(path: str) -> str", Description: "Reads a file."},
		{Name: "list_files", Signature: "list_files(path: str) -> list[str]", Description: "Lists files."},
	}

	assert.Equal(t, Compute(c1), Compute(c2))
}

func TestNormalizePromptFormattingInsensitive(t *testing.T) {
	raw := "  You are a planning agent.  \r\n\r\n\r\n   Use your tools wisely.  \r\n"
	reindented := "You are a planning agent.\n\n\nUse your tools wisely."
	assert.Equal(t, NormalizePrompt(raw), NormalizePrompt(reindented))
}

func TestNormalizePromptSensitiveToWording(t *testing.T) {
	assert.NotEqual(t,
		NormalizePrompt("You are a planning agent."),
		NormalizePrompt("You are a planner agent."),
	)
}

func TestCanonicalSignatureDropsWrapperParams(t *testing.T) {
	got := CanonicalSignature("patch_repo", []Param{
		{Name: "repo", Annotation: "str"},
		{Name: "config", Annotation: "RunnableConfig"},
		{Name: "callbacks", Annotation: "Callbacks"},
		{Name: "kwargs", KWCatchall: true},
	}, "PatchResult")

	assert.Equal(t, "patch_repo(repo: str) -> PatchResult", got)
}

func TestCanonicalSignatureDropsVariadic(t *testing.T) {
	got := CanonicalSignature("run", []Param{
		{Name: "args", Variadic: true},
		{Name: "mode", Annotation: "str"},
	}, "")

	assert.Equal(t, "run(mode: str)", got)
}

func TestNormalizeSourceStripsDocCommentsNotBehavior(t *testing.T) {
	withDoc := `// listFiles lists every file under path.
func listFiles(path string) []string {
	return nil
}`
	withoutDoc := `func listFiles(path string) []string {
	return nil
}`
	assert.Equal(t, NormalizeSource(withDoc), NormalizeSource(withoutDoc))
}

func TestNormalizeSourceReformattingInsensitive(t *testing.T) {
	loose := `func   listFiles(path string) []string {
	    return nil
}`
	tight := `func listFiles(path string) []string {
	return nil
}`
	assert.Equal(t, NormalizeSource(loose), NormalizeSource(tight))
}

func TestNormalizeSourcePassesThroughUnparsable(t *testing.T) {
	fragment := "def list_files(path):\n    return os.listdir(path)"
	got := NormalizeSource(fragment)
	assert.Contains(t, got, "list_files")
}

func TestNormalizeSourceDedent(t *testing.T) {
	indented := "    func f() {\n        return\n    }"
	assert.Equal(t, "func f() {\n\treturn\n}", NormalizeSource(indented))
}
