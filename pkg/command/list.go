package command

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
)

func ListCommand(deps Deps) *cli.Command {
	return &cli.Command{
		Name:   "list",
		Usage:  "list the snapshots of a suffix group, oldest first",
		Flags:  targetFlags(),
		Action: listAction(deps),
	}
}

func listAction(deps Deps) cli.ActionFunc {
	return func(c *cli.Context) error {
		rt, err := newRuntime(c.Context, c, deps, validateGroup)
		if err != nil {
			return err
		}
		defer rt.Close()

		group, err := rt.engine.List(c.Context, rt.cfg.Target())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(deps.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "ID\tSNAPSHOT\tCREATED\tPROTECTED\n")
		for _, s := range group {
			fmt.Fprintf(w, "%d\t%s\t%s\t%t\n", s.ID, s.Name, s.CreatedAt.UTC().Format(time.RFC3339), s.Protected)
		}
		return w.Flush()
	}
}
