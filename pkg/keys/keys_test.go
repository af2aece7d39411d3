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

package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateIsIdempotent(t *testing.T) {
	mgr, err := NewManager(t.TempDir())
	require.NoError(t, err)

	pub1, err := mgr.Generate("planner")
	require.NoError(t, err)
	pub2, err := mgr.Generate("planner")
	require.NoError(t, err)

	assert.Equal(t, pub1, pub2)
}

func TestGeneratePersistsAndReloads(t *testing.T) {
	dir := t.TempDir()
	mgr1, err := NewManager(dir)
	require.NoError(t, err)
	pub1, err := mgr1.Generate("planner")
	require.NoError(t, err)

	mgr2, err := NewManager(dir)
	require.NoError(t, err)
	pub2, err := mgr2.Generate("planner")
	require.NoError(t, err)

	assert.Equal(t, pub1, pub2)
}

func TestPublicKeyJWKMatchesPrivateKey(t *testing.T) {
	mgr, err := NewManager(t.TempDir())
	require.NoError(t, err)
	_, err = mgr.Generate("planner")
	require.NoError(t, err)

	jwk, err := mgr.PublicKeyJWK("planner")
	require.NoError(t, err)
	assert.Equal(t, "RSA", jwk.Kty)
	assert.Equal(t, "RS256", jwk.Alg)
	assert.NotEmpty(t, jwk.N)
	assert.NotEmpty(t, jwk.E)
}

func TestPublicKeyJWKUnknownAgent(t *testing.T) {
	mgr, err := NewManager(t.TempDir())
	require.NoError(t, err)
	_, err = mgr.PublicKeyJWK("nobody")
	assert.Error(t, err)
}

func TestPublicKeyFromPEMRoundTrip(t *testing.T) {
	mgr, err := NewManager(t.TempDir())
	require.NoError(t, err)
	pub, err := mgr.Generate("planner")
	require.NoError(t, err)

	parsed, err := PublicKeyFromPEM(pub)
	require.NoError(t, err)

	key, err := mgr.PrivateKey("planner")
	require.NoError(t, err)
	assert.Equal(t, 0, key.PublicKey.N.Cmp(parsed.N))
}
