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

// Command artinet-demo is a minimal composition root: it wires the
// reference HTTP provider, an optional stdio MCP tool, and an optional A2A
// agent card into one Orchestrator and runs a single connect() turn.
//
// Usage:
//
//	artinet-demo connect --url http://localhost:8090/connect "summarise this repo"
//	artinet-demo connect --url http://localhost:8090/connect --tool-cmd ./my-tool "list files"
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/artinet-dev/artinet-go/pkg/agentadapter"
	"github.com/artinet-dev/artinet-go/pkg/envcfg"
	"github.com/artinet-dev/artinet-go/pkg/httpprovider"
	"github.com/artinet-dev/artinet-go/pkg/logging"
	"github.com/artinet-dev/artinet-go/pkg/orchestrator"
	"github.com/artinet-dev/artinet-go/pkg/tooladapter"
)

// CLI defines the command-line interface.
type CLI struct {
	Connect ConnectCmd `cmd:"" help:"Run one connect() turn against a provider."`

	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile  string `help:"Log file path (empty = stderr)." env:"ARTINET_LOG_FILE"`
}

// ConnectCmd runs a single orchestrator connect() call.
type ConnectCmd struct {
	Input string `arg:"" help:"The message to send."`

	Model      string `help:"LLM model identifier." default:"artinet-demo"`
	ProviderURL string `name:"url" help:"Provider HTTP endpoint." env:"ARTINET_API_URL"`

	AgentURL   string `name:"agent-url" help:"Base URL of an A2A agent to register as a tool-callable service."`
	AgentURI   string `name:"agent-uri" help:"Service URI to register the agent under." default:"agent-1"`

	ToolCommand string   `name:"tool-cmd" help:"Command of an MCP stdio tool server to spawn."`
	ToolArgs    []string `name:"tool-arg" help:"Argument for the tool subprocess (repeatable)."`
	ToolURI     string   `name:"tool-uri" help:"Service URI to register the tool under." default:"tool-1"`
}

func (c *ConnectCmd) Run(cli *CLI) error {
	env := envcfg.Load()
	providerURL := c.ProviderURL
	if providerURL == "" {
		providerURL = env.APIURL
	}
	if providerURL == "" {
		return fmt.Errorf("connect: --url or %s is required", envcfg.EnvAPIURL)
	}

	provider := httpprovider.New(providerURL)

	o, err := orchestrator.New(orchestrator.Config{
		ModelID:  c.Model,
		Provider: provider.Call,
	})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	if c.AgentURL != "" {
		o.Add(orchestrator.AgentSpec{Config: agentadapter.Config{URI: c.AgentURI, URL: c.AgentURL}}, c.AgentURI)
	}
	if c.ToolCommand != "" {
		o.Add(orchestrator.ToolSpec{Config: tooladapter.Config{
			URI:     c.ToolURI,
			Command: c.ToolCommand,
			Args:    c.ToolArgs,
		}}, c.ToolURI)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	defer func() { _ = o.Close() }()

	text, err := o.Connect(ctx, c.Input)
	if err != nil {
		return fmt.Errorf("connect failed: %w", err)
	}
	fmt.Println(text)
	return nil
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("artinet-demo"),
		kong.Description("artinet-go composition-root demo"),
		kong.UsageOnError(),
	)

	level := logging.ParseLevel(cli.LogLevel)
	var logFile *os.File = os.Stderr
	if cli.LogFile != "" {
		f, cleanup, err := logging.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()
		logFile = f
	}
	logging.Init(level, logFile)

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
