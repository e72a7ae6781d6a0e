// usbroled watches the ID and VBUS sense lines of a USB OTG connector and
// reports which roles the port can take: peripheral ("USB") while bus power
// is present, host ("USB-HOST") while the ID pin is grounded.
//
// Capability state is published on MQTT, recorded in SQLite and optionally
// written to InfluxDB. The port accepts OTG, wake and power commands over
// MQTT; the otg, wake, suspend and resume subcommands send them.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	kongyaml "github.com/alecthomas/kong-yaml"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// cliDefaultsPaths hold optional flag defaults for the CLI commands, keyed
// by flag name (e.g. "timeout: 10s"). Flags and environment override them.
var cliDefaultsPaths = []string{
	"/etc/usbroled/cli.yaml",
	"~/.config/usbroled/cli.yaml",
}

// Globals are the flags shared by every command.
type Globals struct {
	Config string `help:"Path to the YAML configuration file." env:"USBROLE_CONFIG" default:"${config_path}" short:"c"`
}

// CLI is the command-line grammar.
type CLI struct {
	Globals

	Run     RunCmd     `cmd:"" default:"1" help:"Run the detection daemon (default)."`
	OTG     OTGCmd     `cmd:"" name:"otg" help:"Enable or disable host sensing on a running daemon."`
	Wake    WakeCmd    `cmd:"" help:"Arm or disarm the sense lines as system wake sources."`
	Suspend SuspendCmd `cmd:"" help:"Prepare a running daemon's port for system sleep."`
	Resume  ResumeCmd  `cmd:"" help:"Resume a suspended port and re-evaluate its lines."`
	Watch   WatchCmd   `cmd:"" help:"Print capability, role and status messages from the broker."`
	History HistoryCmd `cmd:"" help:"Print stored capability and role transitions."`
	Migrate MigrateCmd `cmd:"" help:"Inspect or change the history database schema."`
}

// RunCmd starts the daemon.
type RunCmd struct{}

// Run blocks until ctx is cancelled.
func (c *RunCmd) Run(ctx context.Context, g *Globals) error {
	return run(ctx, g.Config)
}

func main() {
	// Cancel on Ctrl+C and SIGTERM for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("usbroled"),
		kong.Description("USB OTG role detection daemon."),
		kong.UsageOnError(),
		kong.Vars{"config_path": defaultConfigPath},
		kong.Configuration(kongyaml.Loader, cliDefaultsPaths...),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	err := kctx.Run(&cli.Globals)
	cancel()
	kctx.FatalIfErrorf(err)
}
