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
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hypernome/aidcp/pkg/aidcperr"
	"github.com/hypernome/aidcp/pkg/intent"
	"github.com/hypernome/aidcp/pkg/metrics"
	"github.com/hypernome/aidcp/pkg/workflow"
)

type intentHandlers struct {
	svc     *intent.Service
	metrics *metrics.Metrics
}

func (h *intentHandlers) registerAgent(w http.ResponseWriter, r *http.Request) {
	var req intent.RegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, aidcperr.Wrap(aidcperr.KindBadRequest, err, "invalid registration body"))
		return
	}

	reg, err := h.svc.RegisterAgent(req)
	if err != nil {
		h.metrics.RecordRegistration(string(aidcperr.KindOf(err)))
		writeError(w, err)
		return
	}

	h.metrics.RecordRegistration("ok")
	writeJSON(w, http.StatusOK, reg)
}

func (h *intentHandlers) registerAgentBatch(w http.ResponseWriter, r *http.Request) {
	var req intent.BatchRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, aidcperr.Wrap(aidcperr.KindBadRequest, err, "invalid batch registration body"))
		return
	}

	regs, err := h.svc.BatchRegisterAgent(req)
	if err != nil {
		h.metrics.RecordRegistration(string(aidcperr.KindOf(err)))
		writeError(w, err)
		return
	}

	h.metrics.RecordRegistration("ok")
	writeJSON(w, http.StatusOK, map[string]any{"agents": regs})
}

func (h *intentHandlers) listAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"agents": h.svc.GetRegisteredAgents()})
}

func (h *intentHandlers) getAgent(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	reg, ok := h.svc.GetSingleAgent(agentID)
	if !ok {
		writeError(w, aidcperr.New(aidcperr.KindUnknownAgent, "agent %q is not registered", agentID))
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

func (h *intentHandlers) registerWorkflow(w http.ResponseWriter, r *http.Request) {
	var req intent.WorkflowDefinitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, aidcperr.Wrap(aidcperr.KindBadRequest, err, "invalid workflow definition body"))
		return
	}

	def := workflow.Definition{
		WorkflowID:   req.WorkflowID,
		WorkflowType: req.WorkflowType,
		Steps:        req.Steps,
		StepOrder:    req.StepOrder,
	}
	if err := h.svc.RegisterWorkflow(def); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"workflow_id": req.WorkflowID, "status": "registered"})
}

func (h *intentHandlers) registerWorkflowBatch(w http.ResponseWriter, r *http.Request) {
	var req intent.WorkflowDefinitionBatch
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, aidcperr.Wrap(aidcperr.KindBadRequest, err, "invalid workflow batch body"))
		return
	}
	if err := h.svc.RegisterWorkflowBatch(req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"registered": len(req.Workflows)})
}

func (h *intentHandlers) deregisterWorkflow(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")
	if err := h.svc.DeregisterWorkflow(workflowID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"workflow_id": workflowID, "status": "deregistered"})
}

func (h *intentHandlers) mintToken(w http.ResponseWriter, r *http.Request) {
	var req intent.TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, aidcperr.Wrap(aidcperr.KindBadRequest, err, "invalid token request body"))
		return
	}

	start := time.Now()
	resp, err := h.svc.MintToken(req)
	if req.WorkflowID != "" {
		outcome := "allowed"
		if err != nil {
			outcome = "denied"
		}
		h.metrics.RecordWorkflowValidation(outcome, time.Since(start))
	}
	if err != nil {
		h.metrics.RecordIntentTokenDenied(string(aidcperr.KindOf(err)))
		writeError(w, err)
		return
	}

	h.metrics.RecordIntentTokenIssued(req.AgentID, req.WorkflowID)
	writeJSON(w, http.StatusOK, resp)
}
