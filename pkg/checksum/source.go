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
	"bytes"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
	"strings"
)

// NormalizeSource canonicalizes the source of a tool registered at
// ChecksumLevelDeep: dedent, parse to a syntax tree, strip doc comments,
// and re-emit canonical source via gofmt's printer. Source that fails to
// parse (a fragment, not a standalone declaration) passes through
// whitespace-dedented but otherwise untouched — the mismatch this can
// cause at checksum time is the intended signal, not a bug to paper over.
func NormalizeSource(src string) string {
	dedented := dedent(src)

	wrapped := "package tool\n\n" + dedented
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "", wrapped, parser.ParseComments)
	if err != nil {
		return dedented
	}

	stripDocComments(file)

	var buf bytes.Buffer
	if err := format.Node(&buf, fset, file); err != nil {
		return dedented
	}

	out := buf.String()
	out = strings.TrimPrefix(out, "package tool\n\n")
	out = strings.TrimPrefix(out, "package tool\n")
	return strings.TrimSpace(out)
}

// stripDocComments removes every doc comment attached to a top-level
// declaration, analogous to dropping docstring literals: documentation
// text is not part of a tool's observable behavior and must not perturb
// its checksum.
func stripDocComments(file *ast.File) {
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			d.Doc = nil
		case *ast.GenDecl:
			d.Doc = nil
			for _, spec := range d.Specs {
				switch s := spec.(type) {
				case *ast.TypeSpec:
					s.Doc = nil
					s.Comment = nil
				case *ast.ValueSpec:
					s.Doc = nil
					s.Comment = nil
				}
			}
		}
	}
	file.Comments = nil
}

// dedent strips the common leading whitespace shared by every
// non-blank line, the way a tool's source is often captured with the
// indentation of its enclosing class or function body still attached.
func dedent(src string) string {
	lines := strings.Split(src, "\n")

	minIndent := -1
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		indent := len(line) - len(strings.TrimLeft(line, " \t"))
		if minIndent == -1 || indent < minIndent {
			minIndent = indent
		}
	}
	if minIndent <= 0 {
		return src
	}

	out := make([]string, len(lines))
	for i, line := range lines {
		if len(line) >= minIndent {
			out[i] = line[minIndent:]
		} else {
			out[i] = strings.TrimLeft(line, " \t")
		}
	}
	return strings.Join(out, "\n")
}
