// Package cli implements the command line interface of dataview.
package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/alecthomas/kong"

	actx "github.com/dataview-sh/dataview/app/context"
)

// CLI is the command line interface of dataview.
type CLI struct {
	Serve   Serve   `kong:"cmd,help='Start the API server.'"`
	Worker  Worker  `kong:"cmd,help='Process queued jobs and fill the cache.'"`
	Migrate Migrate `kong:"cmd,help='Manage datastore schema migrations.'"`
	Ingest  Ingest  `kong:"cmd,help='Ingest a dataset file into the catalog.'"`
	Metrics Metrics `kong:"cmd,help='Show cache and queue metrics.'"`

	Log struct {
		Level slog.Level `enum:"DEBUG,INFO,WARN,ERROR" default:"INFO" help:"Set the app logging level."`
	} `embed:"" prefix:"log-"`
	// NOTE: Deliberately not using kong.ConfigFlag or its support for reading
	// values from configuration files, since configuration is managed
	// independently from the CLI.
	ConfigFile string           `kong:"default='${configFile}',help='Path to the dataview configuration file.'"`
	DataDir    string           `kong:"default='${dataDir}',help='Path to the directory where dataview data is stored.'"`
	Version    kong.VersionFlag `kong:"help='Output version and exit.'"`

	kong *kong.Kong
	kctx *kong.Context
}

// New initializes the command-line interface.
func New(appCtx *actx.Context, configFilePath, dataDir, version string) (*CLI, error) {
	c := &CLI{}
	kparser, err := kong.New(c,
		kong.Name("dataview"),
		kong.UsageOnError(),
		kong.DefaultEnvars("DATAVIEW"),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			Summary:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"configFile": configFilePath,
			"dataDir":    dataDir,
			"version":    version,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed creating the Kong parser: %w", err)
	}

	c.kong = kparser

	return c, nil
}

// Execute starts the command execution. Parse must be called before this method.
func (c *CLI) Execute(appCtx *actx.Context) error {
	if c.kctx == nil {
		panic("the CLI wasn't initialized properly")
	}
	c.kong.Stdout = appCtx.Stdout
	c.kong.Stderr = appCtx.Stderr

	//nolint:wrapcheck // This is fine.
	return c.kctx.Run(appCtx)
}

// Parse the given command line arguments. This method must be called before
// Execute.
func (c *CLI) Parse(args []string) error {
	kctx, err := c.kong.Parse(args)
	if err != nil {
		return fmt.Errorf("failed parsing CLI arguments: %w", err)
	}
	c.kctx = kctx

	return nil
}

// Command returns the full path of the executed command.
func (c *CLI) Command() string {
	if c.kctx == nil {
		panic("the CLI wasn't initialized properly")
	}
	cmdPath := []string{}
	for _, p := range c.kctx.Path {
		if p.Command != nil {
			cmdPath = append(cmdPath, p.Command.Name)
		}
	}

	return strings.Join(cmdPath, " ")
}
