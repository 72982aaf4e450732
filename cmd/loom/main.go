// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command loom hosts configured agents over HTTP.
//
// Usage:
//
//	loom serve --config loom.yaml
//	loom serve --watch
//	loom validate --config loom.yaml
//	loom schema > schema.json
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/loom"
	"github.com/kadirpekel/loom/pkg/config"
	"github.com/kadirpekel/loom/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the agent server."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`
	Schema   SchemaCmd   `cmd:"" help:"Generate the JSON Schema of the configuration."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(loom.GetVersion())
	return nil
}

// initLogger configures the process logger from the global flags. The
// returned cleanup closes the log file, if one was opened.
func initLogger(cli *CLI) (func(), error) {
	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		return nil, err
	}

	output := os.Stderr
	cleanup := func() {}
	if cli.LogFile != "" {
		f, closeFile, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			return nil, err
		}
		output = f
		cleanup = closeFile
	}

	logger.Init(level, output, cli.LogFormat)
	return cleanup, nil
}

func main() {
	_ = config.LoadDotEnv()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("loom"),
		kong.Description("Loom - config-first agent hosting"),
		kong.UsageOnError(),
	)

	cleanup, err := initLogger(&cli)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	ctx.FatalIfErrorf(ctx.Run(&cli))
}
