package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/nerrad567/gray-logic-usbrole/internal/capability"
	"github.com/nerrad567/gray-logic-usbrole/internal/history"
	"github.com/nerrad567/gray-logic-usbrole/internal/infrastructure/config"
)

// HistoryCmd prints the stored transitions of a port.
type HistoryCmd struct {
	Port  string `help:"Port to show. Defaults to port.id from the configuration."`
	Limit int    `default:"20" help:"Maximum number of entries per table."`
	Roles bool   `help:"Only print role transitions."`
	JSON  bool   `name:"json" help:"Print JSON instead of tables."`
}

// historyReport is the --json output.
type historyReport struct {
	PortID       string                   `json:"port_id"`
	Capabilities []capability.Change      `json:"capabilities,omitempty"`
	Roles        []history.RoleTransition `json:"roles"`
}

// Run reads the history database named in the configuration.
func (c *HistoryCmd) Run(ctx context.Context, g *Globals) error {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if !cfg.History.Enabled {
		return fmt.Errorf("history is disabled in %s", g.Config)
	}

	portID := c.Port
	if portID == "" {
		portID = cfg.Port.ID
	}

	db, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // Close error is not actionable once the report is printed

	store := history.NewStore(db.DB)

	report := historyReport{PortID: portID}
	if !c.Roles {
		report.Capabilities, err = store.Capabilities(ctx, portID, c.Limit)
		if err != nil {
			return err
		}
	}
	report.Roles, err = store.Roles(ctx, portID, c.Limit)
	if err != nil {
		return err
	}

	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	return printHistory(os.Stdout, report, !c.Roles)
}

// printHistory writes report as aligned tables, newest first.
func printHistory(w io.Writer, report historyReport, withCapabilities bool) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "ROLE TRANSITIONS (%s)\n", report.PortID)
	fmt.Fprintln(tw, "TIME\tFROM\tTO")
	for _, t := range report.Roles {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", t.At.Local().Format(time.RFC3339), t.From, t.To)
	}

	if withCapabilities {
		fmt.Fprintln(tw)
		fmt.Fprintf(tw, "CAPABILITY CHANGES (%s)\n", report.PortID)
		fmt.Fprintln(tw, "TIME\tCAPABILITY\tSTATE")
		for _, ch := range report.Capabilities {
			state := "off"
			if ch.Active {
				state = "on"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", ch.At.Local().Format(time.RFC3339), ch.Capability, state)
		}
	}

	return tw.Flush()
}
