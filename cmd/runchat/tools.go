package main

import (
	"fmt"
	"text/tabwriter"
)

// ToolsCmd lists the tools offered to the agent.
type ToolsCmd struct{}

// Run implements the tools command.
func (c *ToolsCmd) Run(g *Globals) error {
	app, err := NewApp(g.Ctx, g.Config, g.Logger)
	if err != nil {
		return err
	}
	defer app.Close()

	w := tabwriter.NewWriter(g.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tDESCRIPTION")
	for _, t := range app.Tools.Tools() {
		fmt.Fprintf(w, "%s\t%s\n", t.Name, t.Description)
	}
	return w.Flush()
}
