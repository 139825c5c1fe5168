package command

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
)

func PlanCommand(deps Deps) *cli.Command {
	return &cli.Command{
		Name:   "plan",
		Usage:  "show what rotate would create and delete, without taking the lock",
		Flags:  targetFlags(),
		Action: planAction(deps),
	}
}

func planAction(deps Deps) cli.ActionFunc {
	return func(c *cli.Context) error {
		rt, err := newRuntime(c.Context, c, deps, validateRotate)
		if err != nil {
			return err
		}
		defer rt.Close()

		plan, err := rt.engine.Preview(c.Context, rt.cfg.Target(), rt.cfg.Keep)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(deps.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "ACTION\tSNAPSHOT\tCREATED\n")
		fmt.Fprintf(w, "create\t%s\t-\n", plan.Create)
		for _, s := range plan.Delete {
			fmt.Fprintf(w, "delete\t%s\t%s\n", s.Name, s.CreatedAt.UTC().Format(time.RFC3339))
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(deps.Stdout, "\n%s: %d existing, keep %d, %d after rotation\n",
			plan.Target, plan.Existing, plan.Keep, plan.ResultingSize())
		return nil
	}
}
