package main

import (
	"bufio"
	"fmt"
)

// ResumeCmd re-drives a stored session.
type ResumeCmd struct {
	Session string `arg:"" name:"session" help:"Session id to resume."`
}

// Run implements the resume command. Outstanding decisions are asked for
// again, submitted, and the run is followed to its end.
func (c *ResumeCmd) Run(g *Globals) error {
	app, err := NewApp(g.Ctx, g.Config, g.Logger)
	if err != nil {
		return err
	}
	defer app.Close()

	rec, sess, err := openSession(g.Ctx, app, c.Session)
	if err != nil {
		return err
	}

	term := newTerminal(bufio.NewReader(g.Stdin), g.Stdout, sess.Gate(), g.Logger)
	for _, p := range sess.Gate().Pending() {
		fmt.Fprintf(g.Stdout, "Pending: %s (%s) %s\n", p.Call.Name, p.Call.ID, p.State)
	}
	term.askPending()

	loop := &chatLoop{app: app, rec: rec, sess: sess, term: term, out: g.Stdout}
	out, err := app.Driver.Resume(g.Ctx, sess, term.sink())
	loop.finish("(resume)", out, err)
	return err
}
