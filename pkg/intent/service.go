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

package intent

import (
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/hypernome/aidcp/pkg/aidcperr"
	"github.com/hypernome/aidcp/pkg/checksum"
	"github.com/hypernome/aidcp/pkg/keys"
	"github.com/hypernome/aidcp/pkg/workflow"
)

// Service is the IDP's agent and workflow registry plus its intent-token
// minter. It holds the signing key used for every intent token it
// issues; resource servers verify that key's public half via the IDP's
// published JWKS.
type Service struct {
	store      *Store
	signingKey *rsa.PrivateKey
	kid        string
	issuer     string
	tokenTTL   time.Duration
}

// NewService builds a Service backed by store, signing tokens with
// signingKey under kid, issued from issuer, each valid for tokenTTL.
func NewService(store *Store, signingKey *rsa.PrivateKey, kid, issuer string, tokenTTL time.Duration) *Service {
	return &Service{store: store, signingKey: signingKey, kid: kid, issuer: issuer, tokenTTL: tokenTTL}
}

// GetRegisteredAgents returns the latest registration for every
// distinct agent_id that has ever registered.
func (s *Service) GetRegisteredAgents() []Registration {
	return s.store.allLatest()
}

// GetSingleAgent returns the latest registration for agentID.
func (s *Service) GetSingleAgent(agentID string) (Registration, bool) {
	return s.store.latestFor(agentID)
}

// RegisterAgent accepts one agent's identity components, computes its
// checksum, and appends a new registration. Re-registering the same
// agent_id with an unchanged checksum is a no-op that returns the
// existing registration. Re-registering with a changed checksum bumps
// the version. A checksum already owned by a different agent_id is
// rejected, and so is a prompt/tools/config set identical to another
// agent_id's latest registration: two agents must never share an
// identity fingerprint.
func (s *Service) RegisterAgent(req RegistrationRequest) (Registration, error) {
	sum := checksum.Compute(checksum.Components{
		AgentID: req.AgentID,
		Prompt:  req.Prompt,
		Tools:   req.Tools,
		Config:  req.Config,
	})

	if owner, ok := s.store.checksumOwner(sum); ok && owner != req.AgentID {
		return Registration{}, aidcperr.New(aidcperr.KindChecksumCollision,
			"checksum already registered under agent %q", owner)
	}

	surface := checksum.Compute(checksum.Components{Prompt: req.Prompt, Tools: req.Tools, Config: req.Config})
	for _, other := range s.store.allLatest() {
		if other.AgentID == req.AgentID {
			continue
		}
		if checksum.Compute(checksum.Components{Prompt: other.Prompt, Tools: other.Tools, Config: other.Config}) == surface {
			return Registration{}, aidcperr.New(aidcperr.KindChecksumCollision,
				"identity components already registered under agent %q", other.AgentID)
		}
	}

	existing, hasExisting := s.store.latestFor(req.AgentID)
	if hasExisting && existing.Checksum == sum {
		return existing, nil
	}

	version := "1.0.0"
	if hasExisting {
		version = nextVersion(existing.Version)
	}

	reg := Registration{
		RegistrationID: fmt.Sprintf("reg_%s_%d", req.AgentID, time.Now().Unix()),
		AgentID:        req.AgentID,
		Version:        version,
		Checksum:       sum,
		Prompt:         req.Prompt,
		Tools:          req.Tools,
		Config:         req.Config,
		PublicKey:      req.PublicKey,
		RegisteredAt:   time.Now().Unix(),
	}

	if err := s.store.appendRegistration(reg); err != nil {
		return Registration{}, err
	}
	return reg, nil
}

// BatchRegisterAgent registers each agent in req.Agents in order,
// stopping at the first failure so a parent agent's registration never
// proceeds past a failed sub-agent.
func (s *Service) BatchRegisterAgent(req BatchRegistrationRequest) ([]Registration, error) {
	out := make([]Registration, 0, len(req.Agents))
	for _, agentReq := range req.Agents {
		reg, err := s.RegisterAgent(agentReq)
		if err != nil {
			return out, err
		}
		out = append(out, reg)
	}
	return out, nil
}

// nextVersion always bumps the patch component. The original
// implementation this control plane is modeled on stubs out
// major/minor change detection (see TODO in the upstream prototype) and
// always takes the patch path; this mirrors that deliberately rather
// than inventing a semver-diff heuristic with no spec to validate it
// against.
func nextVersion(current string) string {
	parts := strings.SplitN(current, ".", 3)
	if len(parts) != 3 {
		return "1.0.1"
	}
	var patch int
	fmt.Sscanf(parts[2], "%d", &patch)
	return fmt.Sprintf("%s.%s.%d", parts[0], parts[1], patch+1)
}

// RegisterWorkflow stores def. Re-registering the same workflow_id with
// an identical step set is a no-op. Re-registering the same workflow_id
// with a different step set is rejected: workflow definitions are
// immutable once registered, so in-flight delegation chains can't be
// invalidated out from under them. A new workflow_id whose step set is
// identical to an already registered workflow is rejected too.
func (s *Service) RegisterWorkflow(def workflow.Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	if existing, ok := s.store.getWorkflow(def.WorkflowID); ok {
		if workflowStepsEqual(existing, def) {
			return nil
		}
		return aidcperr.New(aidcperr.KindDuplicateWorkflow,
			"workflow %q already registered with different steps", def.WorkflowID)
	}

	s.store.mu.RLock()
	for id, other := range s.store.data.Workflows {
		if id != def.WorkflowID && workflowStepsEqual(other, def) {
			s.store.mu.RUnlock()
			return aidcperr.New(aidcperr.KindDuplicateWorkflow,
				"workflow %q defines the same steps as registered workflow %q", def.WorkflowID, id)
		}
	}
	s.store.mu.RUnlock()

	return s.store.putWorkflow(def)
}

// RegisterWorkflowBatch registers every workflow in batch, stopping at
// the first failure.
func (s *Service) RegisterWorkflowBatch(batch WorkflowDefinitionBatch) error {
	for _, req := range batch.Workflows {
		def := workflow.Definition{
			WorkflowID:   req.WorkflowID,
			WorkflowType: req.WorkflowType,
			Steps:        req.Steps,
			StepOrder:    req.StepOrder,
		}
		if err := s.RegisterWorkflow(def); err != nil {
			return err
		}
	}
	return nil
}

// DeregisterWorkflow removes workflowID, if present. Removing an
// unknown workflow_id is not an error: deregistration is idempotent.
func (s *Service) DeregisterWorkflow(workflowID string) error {
	return s.store.deleteWorkflow(workflowID)
}

func workflowStepsEqual(a, b workflow.Definition) bool {
	if len(a.Steps) != len(b.Steps) {
		return false
	}
	for id, stepA := range a.Steps {
		stepB, ok := b.Steps[id]
		if !ok {
			return false
		}
		if stepA.Agent != stepB.Agent || stepA.Action != stepB.Action ||
			stepA.Required != stepB.Required || stepA.ApprovalGate != stepB.ApprovalGate ||
			stepA.RequiresApproval != stepB.RequiresApproval ||
			!slices.Equal(stepA.Scopes, stepB.Scopes) ||
			!slices.Equal(stepA.Dependencies, stepB.Dependencies) {
			return false
		}
	}
	return true
}

// MintToken validates req and, on success, signs and returns an intent
// or plain OAuth-shaped token. Checks run in a fixed order — grant type,
// agent registration, checksum match, then (if workflowID is present)
// workflow-step validation — so a caller always learns about the most
// fundamental problem with its request first.
func (s *Service) MintToken(req TokenRequest) (TokenResponse, error) {
	if req.GrantType != "agent_checksum" {
		return TokenResponse{}, aidcperr.New(aidcperr.KindBadRequest, "unsupported grant_type %q", req.GrantType)
	}

	reg, ok := s.store.latestFor(req.AgentID)
	if !ok {
		return TokenResponse{}, aidcperr.New(aidcperr.KindUnknownAgent, "agent %q is not registered", req.AgentID)
	}

	if req.Checksum != reg.Checksum {
		return TokenResponse{}, aidcperr.New(aidcperr.KindCodeIntegrityViolation,
			"presented checksum does not match the registered checksum for agent %q", req.AgentID)
	}

	var intentClaim struct {
		workflowStep     string
		delegationChain  string
		stepSequenceHash string
	}

	if req.WorkflowID != "" {
		def, ok := s.store.getWorkflow(req.WorkflowID)
		if !ok {
			return TokenResponse{}, aidcperr.New(aidcperr.KindBadRequest, "workflow %q is not registered", req.WorkflowID)
		}

		if err := workflow.Validate(workflow.Input{
			Workflow:        def,
			Active:          workflow.ActiveStep{StepID: req.StepID, AgentID: req.AgentID, ToolName: req.ToolName},
			RequestedScopes: req.RequestedScopes,
			Delegation:      workflow.DelegationContext{CompletedSteps: req.Completed},
		}); err != nil {
			return TokenResponse{}, err
		}

		chain := req.DelegationChain
		if len(chain) == 0 {
			chain = []string{req.AgentID}
		}
		completed := make([]string, 0, len(req.Completed))
		for _, c := range req.Completed {
			completed = append(completed, c.StepID)
		}

		intentClaim.workflowStep = req.StepID
		intentClaim.delegationChain = hashSequence(append(append([]string{}, chain...), req.StepID))
		intentClaim.stepSequenceHash = hashSequence(append(completed, req.StepID))
	}

	if _, err := keys.PublicKeyFromPEM(reg.PublicKey); err != nil {
		return TokenResponse{}, aidcperr.Wrap(aidcperr.KindBadRequest, err, "agent %q has no usable public key on file", req.AgentID)
	}

	now := time.Now()
	jti := uuid.NewString()
	scope := strings.Join(req.RequestedScopes, " ")

	cnfJWK, err := rsaJWKClaim(reg.PublicKey)
	if err != nil {
		return TokenResponse{}, aidcperr.Wrap(aidcperr.KindBadRequest, err, "failed to build cnf.jwk for agent %q", req.AgentID)
	}

	token := jwt.New()
	_ = token.Set(jwt.IssuerKey, s.issuer)
	_ = token.Set(jwt.SubjectKey, req.AgentID)
	_ = token.Set(jwt.AudienceKey, []string{req.Audience})
	_ = token.Set(jwt.IssuedAtKey, now)
	_ = token.Set(jwt.ExpirationKey, now.Add(s.tokenTTL))
	_ = token.Set(jwt.JwtIDKey, jti)
	_ = token.Set("scope", scope)
	_ = token.Set("agent_proof", map[string]string{
		"agent_checksum":  reg.Checksum,
		"registration_id": reg.RegistrationID,
	})
	_ = token.Set("cnf", map[string]any{"jwk": cnfJWK})

	if intentClaim.workflowStep != "" {
		_ = token.Set("intent", map[string]string{
			"workflow_id":        req.WorkflowID,
			"workflow_step":      intentClaim.workflowStep,
			"executed_by":        req.AgentID,
			"delegation_chain":   intentClaim.delegationChain,
			"step_sequence_hash": intentClaim.stepSequenceHash,
		})
	}

	signingJWK, err := jwk.FromRaw(s.signingKey)
	if err != nil {
		return TokenResponse{}, aidcperr.Wrap(aidcperr.KindBadRequest, err, "failed to wrap signing key")
	}
	if err := signingJWK.Set(jwk.KeyIDKey, s.kid); err != nil {
		return TokenResponse{}, aidcperr.Wrap(aidcperr.KindBadRequest, err, "failed to set key id")
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256, signingJWK))
	if err != nil {
		return TokenResponse{}, aidcperr.Wrap(aidcperr.KindBadRequest, err, "failed to sign token")
	}

	return TokenResponse{
		AccessToken: string(signed),
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.tokenTTL.Seconds()),
		Scope:       scope,
	}, nil
}

// hashSequence hashes the pipe-joined parts, truncated to 16 hex
// characters, per §4.4's truncated-SHA-256 digest rule for both the
// delegation_chain and step_sequence_hash claims. A caller presenting
// the same nominal sequence always gets the same hash, so the IDP can
// detect a chain or step sequence that was replayed or reordered out
// from under it, without the token carrying the sequence itself.
func hashSequence(parts []string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return fmt.Sprintf("%x", sum)[:16]
}

func rsaJWKClaim(pemStr string) (map[string]string, error) {
	pub, err := keys.PublicKeyFromPEM(pemStr)
	if err != nil {
		return nil, err
	}
	pubJWK := keys.JWKFromPublicKey(pub)
	return map[string]string{"kty": pubJWK.Kty, "n": pubJWK.N, "e": pubJWK.E, "alg": pubJWK.Alg, "use": pubJWK.Use}, nil
}
