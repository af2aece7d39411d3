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

// Package aidcperr defines the control plane's single error result type.
// Every authorization or registration failure in pkg/intent, pkg/oauth and
// pkg/workflow is one of the Kind values below rather than an ad-hoc error
// string, so callers (HTTP handlers, tests, the shim) can distinguish
// failure modes with errors.Is/As instead of string matching.
package aidcperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind enumerates the distinguishable failure modes of the control plane.
type Kind string

const (
	// KindBadRequest is malformed input or an unsupported grant type.
	KindBadRequest Kind = "bad-request"

	// KindUnknownAgent is an agent_id with no registration.
	KindUnknownAgent Kind = "unknown-agent"

	// KindCodeIntegrityViolation is a runtime checksum that does not match
	// the agent's latest registered checksum.
	KindCodeIntegrityViolation Kind = "code-integrity-violation"

	// KindPoPKeyMismatch is a stored PoP public key that does not match
	// the locally-held private key's public half (shim-side).
	KindPoPKeyMismatch Kind = "pop-key-mismatch"

	// KindWorkflowDenied is any workflow-validation rule failing.
	KindWorkflowDenied Kind = "workflow-denied"

	// KindChecksumCollision is an agent_id attempting to register a
	// checksum, or a prompt/tools/config set, already registered under a
	// different agent_id.
	KindChecksumCollision Kind = "checksum-collision"

	// KindDuplicateWorkflow is a workflow_id, or an identical step map
	// under a different id, already registered.
	KindDuplicateWorkflow Kind = "duplicate-workflow"

	// KindInvalidToken is a signature, issuer, audience, expiry or scope
	// check failing on a presented token.
	KindInvalidToken Kind = "invalid-token"

	// KindPoPVerificationFailed is a missing, stale or invalid PoP header.
	KindPoPVerificationFailed Kind = "pop-verification-failed"

	// KindJWKSUnavailable is an upstream JWKS fetch failing after retry.
	KindJWKSUnavailable Kind = "jwks-unavailable"

	// KindNoRegisteredAgentInContext is the shim being unable to identify
	// the calling agent (client-side fatal).
	KindNoRegisteredAgentInContext Kind = "no-registered-agent-in-context"

	// KindRuntimeAgentMutation is a tool invoked by an agent whose current
	// checksum matches no registration (client-side fatal).
	KindRuntimeAgentMutation Kind = "runtime-agent-mutation"
)

// statusByKind is the wire mapping from Kind to HTTP status, per spec §7.
var statusByKind = map[Kind]int{
	KindBadRequest:                  http.StatusBadRequest,
	KindUnknownAgent:                http.StatusUnauthorized,
	KindCodeIntegrityViolation:      http.StatusUnauthorized,
	KindPoPKeyMismatch:              http.StatusInternalServerError, // client-side fatal; no wire status
	KindWorkflowDenied:              http.StatusForbidden,
	KindChecksumCollision:           http.StatusBadRequest,
	KindDuplicateWorkflow:           http.StatusBadRequest,
	KindInvalidToken:                http.StatusUnauthorized,
	KindPoPVerificationFailed:       http.StatusUnauthorized,
	KindJWKSUnavailable:             http.StatusBadGateway,
	KindNoRegisteredAgentInContext:  http.StatusInternalServerError, // client-side fatal; no wire status
	KindRuntimeAgentMutation:        http.StatusInternalServerError, // client-side fatal; no wire status
}

// Error is the single result type every control-plane operation that can
// fail returns. Kind is always one of the enumerated values above;
// Message is a human-readable detail that never includes secret material
// or token bodies.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, so callers
// can write errors.Is(err, aidcperr.New(aidcperr.KindWorkflowDenied, "")).
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// New builds an *Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind, carrying cause for %w-style
// unwrapping without leaking cause's text into Message by default.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// StatusFor returns the HTTP status a *Error should be reported with. A
// plain (non-*Error) err maps to 500.
func StatusFor(err error) int {
	var e *Error
	if errors.As(err, &e) {
		if status, ok := statusByKind[e.Kind]; ok {
			return status
		}
	}
	return http.StatusInternalServerError
}

// KindOf extracts the Kind of err, or "" if err is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
