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

package main

import (
	"net/http"

	"github.com/hypernome/aidcp/pkg/aidcperr"
)

// errorResponse is the wire shape of every rejected request: the Kind
// doubles as a stable machine-readable error code, Message is safe to
// show an operator.
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	status := aidcperr.StatusFor(err)
	kind := aidcperr.KindOf(err)
	if kind == "" {
		kind = "internal-error"
	}
	writeJSON(w, status, errorResponse{Error: string(kind), ErrorDescription: err.Error()})
}
