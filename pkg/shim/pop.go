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
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// signPoP builds and signs the canonical Proof-of-Possession payload
// for one outbound call, mirroring the resource server's verifyPoP byte
// for byte: method, URL, a hex digest of the body (empty string for no
// body), the agent's checksum, and the current unix timestamp, all
// serialized with sorted keys and no insignificant whitespace.
//
// It returns the base64-encoded signature and the timestamp used, both
// of which the caller attaches as the PoP and X-PoP-Timestamp headers.
func signPoP(key *rsa.PrivateKey, method, url string, body []byte, agentChecksum string, now time.Time) (signatureB64 string, timestamp int64, err error) {
	timestamp = now.Unix()

	payload := map[string]any{
		"method":    method,
		"url":       url,
		"data":      sha256Hex(body),
		"checksum":  agentChecksum,
		"timestamp": timestamp,
	}

	message, err := json.Marshal(sortedMap(payload))
	if err != nil {
		return "", 0, fmt.Errorf("shim: failed to build PoP payload: %w", err)
	}

	digest := sha256.Sum256(message)
	signature, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return "", 0, fmt.Errorf("shim: failed to sign PoP payload: %w", err)
	}

	return base64.StdEncoding.EncodeToString(signature), timestamp, nil
}

func sha256Hex(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	sum := sha256.Sum256(body)
	return fmt.Sprintf("%x", sum)
}

// sortedMap marshals a map[string]any with keys in sorted order,
// matching the sort_keys=True JSON encoding the resource server's PoP
// verifier expects.
type sortedMap map[string]any

func (m sortedMap) MarshalJSON() ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := []byte("{")
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(m[k])
		if err != nil {
			return nil, err
		}
		buf = append(buf, kb...)
		buf = append(buf, ':')
		buf = append(buf, vb...)
	}
	buf = append(buf, '}')
	return buf, nil
}
