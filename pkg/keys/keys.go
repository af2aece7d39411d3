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

// Package keys implements the per-agent RSA keypairs the shim holds on
// behalf of each registered agent, used to prove possession of the
// private key whose public half is bound into a minted intent token's
// cnf.jwk claim. Keys never leave the process that generated them.
package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"
)

const keyBits = 2048

// JWK is the RSA public-key JWK representation carried in an intent
// token's cnf.jwk claim.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// Manager generates, loads and persists one RSA keypair per agent_id. Dev
// persistence is a pair of PEM files per agent under Dir; a failed load at
// startup is non-fatal, since Generate regenerates on demand.
type Manager struct {
	mu   sync.Mutex
	dir  string
	keys map[string]*rsa.PrivateKey
}

// NewManager builds a Manager rooted at dir and loads whatever keypairs
// are already present. dir is created if it does not exist.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("keys: failed to create key directory: %w", err)
	}
	m := &Manager{dir: dir, keys: make(map[string]*rsa.PrivateKey)}
	m.loadExisting()
	return m, nil
}

// loadExisting attempts to load every *-pop-privatekey.pem file under dir.
// A file that fails to load is skipped — per spec §4.2, failure to load a
// key on startup is non-fatal, since Generate regenerates on next call.
func (m *Manager) loadExisting() {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return
	}
	const suffix = "-pop-privatekey.pem"
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || len(name) <= len(suffix) || name[len(name)-len(suffix):] != suffix {
			continue
		}
		agentID := name[:len(name)-len(suffix)]
		key, err := m.loadPrivateKey(agentID)
		if err != nil {
			continue
		}
		m.keys[agentID] = key
	}
}

func (m *Manager) privateKeyPath(agentID string) string {
	return filepath.Join(m.dir, agentID+"-pop-privatekey.pem")
}

func (m *Manager) publicKeyPath(agentID string) string {
	return filepath.Join(m.dir, agentID+"-pop-publickey.pem")
}

func (m *Manager) loadPrivateKey(agentID string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(m.privateKeyPath(agentID))
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("keys: no PEM block in %s", m.privateKeyPath(agentID))
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("keys: %s is not an RSA private key", agentID)
	}
	return rsaKey, nil
}

// Generate returns the PEM-encoded public key for agentID, generating and
// persisting a fresh 2048-bit RSA keypair on first call. Subsequent calls
// are idempotent and return the existing key.
func (m *Manager) Generate(agentID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if key, ok := m.keys[agentID]; ok {
		return publicPEM(key)
	}

	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return "", fmt.Errorf("keys: failed to generate key for %s: %w", agentID, err)
	}

	if err := m.persist(agentID, key); err != nil {
		return "", err
	}

	m.keys[agentID] = key
	return publicPEM(key)
}

func (m *Manager) persist(agentID string, key *rsa.PrivateKey) error {
	privBytes, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("keys: failed to marshal private key: %w", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privBytes})
	if err := os.WriteFile(m.privateKeyPath(agentID), privPEM, 0o600); err != nil {
		return fmt.Errorf("keys: failed to persist private key: %w", err)
	}

	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return fmt.Errorf("keys: failed to marshal public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})
	if err := os.WriteFile(m.publicKeyPath(agentID), pubPEM, 0o644); err != nil {
		return fmt.Errorf("keys: failed to persist public key: %w", err)
	}
	return nil
}

func publicPEM(key *rsa.PrivateKey) (string, error) {
	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return "", fmt.Errorf("keys: failed to marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})), nil
}

// PublicKeyJWK returns agentID's public key in RSA JWK form, for
// embedding in a minted intent token's cnf.jwk claim.
func (m *Manager) PublicKeyJWK(agentID string) (JWK, error) {
	m.mu.Lock()
	key, ok := m.keys[agentID]
	m.mu.Unlock()
	if !ok {
		return JWK{}, fmt.Errorf("keys: no key generated for agent %s", agentID)
	}
	return JWKFromPublicKey(&key.PublicKey), nil
}

// PrivateKey returns agentID's private key for PoP signing. It never
// leaves the process: the shim is the only caller with a legitimate
// reason to hold it.
func (m *Manager) PrivateKey(agentID string) (*rsa.PrivateKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.keys[agentID]
	if !ok {
		return nil, fmt.Errorf("keys: no key generated for agent %s", agentID)
	}
	return key, nil
}

// JWKFromPublicKey converts pub to the RSA JWK form used by cnf.jwk:
// base64url, unpadded n/e.
func JWKFromPublicKey(pub *rsa.PublicKey) JWK {
	return JWK{
		Kty: "RSA",
		Use: "sig",
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

// PublicKeyFromPEM parses a PEM-encoded RSA public key, for verifying a
// registration's stored key still matches a locally-generated private key.
func PublicKeyFromPEM(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("keys: no PEM block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("keys: failed to parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("keys: not an RSA public key")
	}
	return rsaPub, nil
}

// LoadOrGenerateSigningKey loads the IDP's own RS256 signing key from
// path, or generates a fresh one if path is empty (the key then lives
// in memory only) or the file cannot be read (the key is then written
// to path). This is the one process-lifetime key the IDP uses for
// both /oauth/token and /intent/token; resource servers verify it via
// the published JWKS.
//
// It returns the key and a stable kid derived from the public key's
// SHA-256 fingerprint, so the kid survives a process restart as long as
// the same key file is reused.
func LoadOrGenerateSigningKey(path string) (*rsa.PrivateKey, string, error) {
	if path != "" {
		if raw, err := os.ReadFile(path); err == nil {
			block, _ := pem.Decode(raw)
			if block == nil {
				return nil, "", fmt.Errorf("keys: no PEM block found in %s", path)
			}
			key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, "", fmt.Errorf("keys: failed to parse signing key: %w", err)
			}
			rsaKey, ok := key.(*rsa.PrivateKey)
			if !ok {
				return nil, "", fmt.Errorf("keys: signing key is not RSA")
			}
			return rsaKey, fingerprint(&rsaKey.PublicKey), nil
		}
	}

	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, "", fmt.Errorf("keys: failed to generate signing key: %w", err)
	}

	if path != "" {
		privBytes, err := x509.MarshalPKCS8PrivateKey(key)
		if err != nil {
			return nil, "", fmt.Errorf("keys: failed to marshal signing key: %w", err)
		}
		privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privBytes})
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, "", fmt.Errorf("keys: failed to create signing key directory: %w", err)
		}
		if err := os.WriteFile(path, privPEM, 0o600); err != nil {
			return nil, "", fmt.Errorf("keys: failed to persist signing key: %w", err)
		}
	}

	return key, fingerprint(&key.PublicKey), nil
}

func fingerprint(pub *rsa.PublicKey) string {
	pubBytes, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "default"
	}
	sum := sha256.Sum256(pubBytes)
	return base64.RawURLEncoding.EncodeToString(sum[:8])
}
