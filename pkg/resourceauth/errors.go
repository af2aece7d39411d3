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

// Package resourceauth implements the two-phase token verification a
// resource server applies to intent and OAuth tokens minted by the IDP:
// phase one checks the JWT's signature, issuer and expiry against the
// IDP's JWKS; phase two, applied per route, checks audience, scope and
// (in intent mode) the Proof-of-Possession signature bound to the
// token's cnf.jwk claim.
package resourceauth

import "errors"

// Sentinel errors classifying why a request was rejected. Middleware
// maps these to HTTP status codes; callers that need the same mapping
// outside an HTTP handler (e.g. a test) can compare against them with
// errors.Is.
var (
	// ErrUnauthorized is returned when no bearer token was presented.
	ErrUnauthorized = errors.New("resourceauth: authentication required")

	// ErrInvalidToken is returned when the token's signature, issuer
	// or expiry does not check out against the JWKS.
	ErrInvalidToken = errors.New("resourceauth: invalid token")

	// ErrInvalidAudience is returned when the token's aud claim does
	// not contain the audience required by the route.
	ErrInvalidAudience = errors.New("resourceauth: invalid audience")

	// ErrMissingScope is returned when the token's scope claim does
	// not cover every scope the route requires.
	ErrMissingScope = errors.New("resourceauth: missing required scope")

	// ErrPoPRequired is returned when PoP is mandatory for this
	// deployment but the request carried no PoP header.
	ErrPoPRequired = errors.New("resourceauth: missing proof-of-possession")

	// ErrPoPInvalid is returned when a PoP header was present but its
	// signature did not verify against the token's cnf.jwk.
	ErrPoPInvalid = errors.New("resourceauth: invalid proof-of-possession")
)
