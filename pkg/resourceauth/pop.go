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

package resourceauth

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

// popPayload is the canonical payload a PoP signature is computed
// over. Field order in the struct is irrelevant: json.Marshal of a
// map[string]any with sorted keys is what both sides actually sign, so
// this struct is only used to build that map.
type popPayload struct {
	Method    string `json:"method"`
	URL       string `json:"url"`
	Data      string `json:"data"`
	Checksum  string `json:"checksum"`
	Timestamp int64  `json:"timestamp"`
}

// canonicalJSON serializes p the same way the client-side shim does:
// keys sorted, no insignificant whitespace. encoding/json already
// sorts map keys and struct field order is fixed here, but we go
// through a map so a future added field can't silently change key
// order versus the shim.
func (p popPayload) canonicalJSON() ([]byte, error) {
	m := map[string]any{
		"method":    p.Method,
		"url":       p.URL,
		"data":      p.Data,
		"checksum":  p.Checksum,
		"timestamp": p.Timestamp,
	}
	return json.Marshal(orderedMap(m))
}

// orderedMap is a map[string]any whose MarshalJSON emits keys in
// sorted order with no whitespace, the same encoding the shim's
// signPoP produces with its sortedMap.
type orderedMap map[string]any

func (m orderedMap) MarshalJSON() ([]byte, error) {
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

// sha256Hex returns the hex-encoded SHA-256 digest of body, or the
// empty string for an empty body (the shim omits the data field's
// digest entirely when there is no request body).
func sha256Hex(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	sum := sha256.Sum256(body)
	return fmt.Sprintf("%x", sum)
}

// verifyPoP checks the PoP signature carried in popHeader against the
// canonical payload built from the request's method, URL and body,
// the token's agent checksum, and the timestamp echoed in
// X-PoP-Timestamp. maxSkew bounds how far the timestamp may drift from
// now in either direction.
func verifyPoP(claims *Claims, method, url string, body []byte, popHeaderB64, timestampHeader string, now time.Time, maxSkew time.Duration) error {
	if popHeaderB64 == "" {
		return fmt.Errorf("%w: no PoP header", ErrPoPRequired)
	}
	if len(claims.Cnf.JWK) == 0 {
		return fmt.Errorf("%w: token has no cnf.jwk claim", ErrPoPInvalid)
	}

	var ts int64
	if _, err := fmt.Sscanf(timestampHeader, "%d", &ts); err != nil {
		return fmt.Errorf("%w: malformed X-PoP-Timestamp", ErrPoPInvalid)
	}
	signedAt := time.Unix(ts, 0)
	if signedAt.Before(now.Add(-maxSkew)) || signedAt.After(now.Add(maxSkew)) {
		return fmt.Errorf("%w: timestamp outside clock skew tolerance", ErrPoPInvalid)
	}

	payload := popPayload{
		Method:    method,
		URL:       url,
		Data:      sha256Hex(body),
		Checksum:  claims.AgentProof.AgentChecksum,
		Timestamp: ts,
	}
	message, err := payload.canonicalJSON()
	if err != nil {
		return fmt.Errorf("%w: failed to build PoP payload: %v", ErrPoPInvalid, err)
	}

	pub, err := jwkToRSAPublicKey(claims.Cnf.JWK)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPoPInvalid, err)
	}

	signature, err := base64.StdEncoding.DecodeString(popHeaderB64)
	if err != nil {
		return fmt.Errorf("%w: malformed PoP header: %v", ErrPoPInvalid, err)
	}

	digest := sha256.Sum256(message)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], signature); err != nil {
		return fmt.Errorf("%w: signature mismatch", ErrPoPInvalid)
	}
	return nil
}

// jwkToRSAPublicKey converts the cnf.jwk claim (an RSA JWK expressed
// as a map[string]string of n/e/kty/...) into an *rsa.PublicKey.
func jwkToRSAPublicKey(raw map[string]string) (*rsa.PublicKey, error) {
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cnf.jwk: %w", err)
	}

	key, err := jwk.ParseKey(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to parse cnf.jwk: %w", err)
	}

	var pub rsa.PublicKey
	if err := key.Raw(&pub); err != nil {
		return nil, fmt.Errorf("cnf.jwk is not an RSA public key: %w", err)
	}
	return &pub, nil
}
