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

// Command idp runs the Agentic Identity & Delegation Control Plane's
// identity provider: the agent/workflow registry, the intent-token
// minter, and a plain OAuth2 client_credentials issuer, all behind one
// HTTP listener.
//
// Usage:
//
//	idp serve --config idp.yaml
//	idp schema
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/hypernome/aidcp/pkg/config"
)

// CLI defines the idp command-line interface.
type CLI struct {
	Serve  ServeCmd  `cmd:"" help:"Start the identity provider."`
	Schema SchemaCmd `cmd:"" help:"Generate JSON Schema for the config file."`

	Config    string `short:"c" help:"Path to config file." type:"path" default:"idp.yaml"`
	LogLevel  string `help:"Log level (debug, info, warn, error)."`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose)."`
}

func main() {
	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("idp"),
		kong.Description("Agentic Identity & Delegation Control Plane - identity provider"),
		kong.UsageOnError(),
	)

	if err := ctx.Run(&cli); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
