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

// Command shimctl is an operator tool for pkg/shim: it bootstraps agent
// identities against a running IDP from a manifest file, and can mint a
// token for one of them to inspect the headers an agent process would
// attach to an outbound call.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"

	"github.com/hypernome/aidcp/pkg/checksum"
	"github.com/hypernome/aidcp/pkg/shim"
	"github.com/hypernome/aidcp/pkg/workflow"
)

type CLI struct {
	Bootstrap BootstrapCmd `cmd:"" help:"Register every agent in a manifest with the IDP."`
	Token     TokenCmd     `cmd:"" help:"Register an agent and mint a token for it."`

	IDPURL        string `help:"Base URL of the identity provider." default:"http://localhost:8090" env:"AIDCP_IDP_URL"`
	KeyDir        string `help:"Directory holding this client's per-agent keypairs." default:"./shim-keys"`
	ChecksumLevel string `help:"Checksum level: shallow or deep." default:"shallow"`
}

// manifestAgent is one entry of a bootstrap manifest file: the identity
// components an agent registers with the IDP.
type manifestAgent struct {
	AgentID string          `json:"agent_id"`
	Prompt  string          `json:"prompt"`
	Tools   []checksum.Tool `json:"tools"`
	Config  map[string]any  `json:"config"`
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("shimctl"),
		kong.Description("bootstrap and inspect agent identities against an AIDCP identity provider"),
		kong.UsageOnError(),
	)

	if err := ctx.Run(&cli); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (c *CLI) buildClient() (*shim.Client, error) {
	level := shim.ChecksumShallow
	if c.ChecksumLevel == "deep" {
		level = shim.ChecksumDeep
	}
	idp := shim.NewHTTPIDPClient(c.IDPURL, nil)
	return shim.NewClient(idp, c.KeyDir, level)
}

func loadManifest(path string) ([]manifestAgent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var agents []manifestAgent
	if err := json.Unmarshal(data, &agents); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return agents, nil
}

func toSpecs(agents []manifestAgent) []shim.AgentSpec {
	specs := make([]shim.AgentSpec, len(agents))
	for i, a := range agents {
		specs[i] = shim.AgentSpec{
			AgentID: a.AgentID,
			Prompt:  a.Prompt,
			Tools:   a.Tools,
			Config:  a.Config,
		}
	}
	return specs
}

// BootstrapCmd registers every agent in a manifest file, in order, the
// way a parent agent and its sub-agents must be registered.
type BootstrapCmd struct {
	Manifest string `arg:"" help:"Path to a JSON manifest of agent specs." type:"path"`
}

func (b *BootstrapCmd) Run(cli *CLI) error {
	agents, err := loadManifest(b.Manifest)
	if err != nil {
		return err
	}

	client, err := cli.buildClient()
	if err != nil {
		return fmt.Errorf("failed to build shim client: %w", err)
	}

	identities, err := client.BootstrapAgents(context.Background(), toSpecs(agents))
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(identities)
}

// TokenCmd registers a single manifest entry (a no-op if it is already
// registered with an unchanged checksum) and mints a token for it,
// printing the headers an agent process would attach to the described
// outbound call.
type TokenCmd struct {
	Manifest string `arg:"" help:"Path to a JSON manifest of agent specs." type:"path"`
	AgentID  string `help:"Agent to mint a token for." required:""`
	Mode     string `help:"Token mode: intent or oauth." default:"intent"`
	Scopes   string `help:"Space-separated requested scopes."`
	Audience string `help:"Target resource audience."`

	WorkflowID string `help:"Workflow this call belongs to (intent mode)."`
	StepID     string `help:"Workflow step this call performs (intent mode)."`
	ToolName   string `help:"Tool being invoked (intent mode)."`

	ClientID     string `help:"OAuth client id (oauth mode)."`
	ClientSecret string `help:"OAuth client secret (oauth mode)."`

	Method string `help:"HTTP method of the call being authorized." default:"POST"`
	URL    string `help:"URL of the call being authorized."`
}

func (t *TokenCmd) Run(cli *CLI) error {
	agents, err := loadManifest(t.Manifest)
	if err != nil {
		return err
	}

	client, err := cli.buildClient()
	if err != nil {
		return fmt.Errorf("failed to build shim client: %w", err)
	}

	var spec shim.AgentSpec
	found := false
	for _, s := range toSpecs(agents) {
		if s.AgentID == t.AgentID {
			spec = s
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("agent %q not found in manifest %s", t.AgentID, t.Manifest)
	}

	ctx := context.Background()
	if _, err := client.RegisterAgent(ctx, spec); err != nil {
		return fmt.Errorf("failed to register agent: %w", err)
	}

	mode := shim.ModeIntent
	if t.Mode == "oauth" {
		mode = shim.ModeOAuth
	}

	var scopes []string
	if t.Scopes != "" {
		scopes = strings.Fields(t.Scopes)
	}

	headers, err := client.AuthenticatedHeaders(ctx, shim.RequestOptions{
		Mode:         mode,
		AgentID:      t.AgentID,
		Scopes:       scopes,
		Audience:     t.Audience,
		WorkflowID:   t.WorkflowID,
		StepID:       t.StepID,
		ToolName:     t.ToolName,
		Completed:    []workflow.CompletedStep{},
		ClientID:     t.ClientID,
		ClientSecret: t.ClientSecret,
		Method:       t.Method,
		URL:          t.URL,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"headers":   headers,
		"minted_at": time.Now().UTC().Format(time.RFC3339),
	})
}
