package main

import (
	"context"
	"fmt"
	"os"

	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"
)

func main() {
	lowerCmd := &cli.Command{
		Name:        "lower",
		Description: "build a built-in HLIR demo program and print it after lowering",
		Action:      lowerAct,
		Args:        cli.Args{},
	}

	runCmd := &cli.Command{
		Name:        "run",
		Description: "run a built-in demo workload against the real thread pool and runtime",
		Action:      runAct,
		Args:        cli.Args{},
	}

	app := &cli.Command{
		Name:        "ares",
		Description: "ares inspects and runs the parallel-runtime demo programs built into this binary",
		Commands: []*cli.Command{
			lowerCmd,
			runCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func lowerAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	demos := map[string]func() (*demoResult, error){
		"parfor": buildParforDemo,
		"task":   buildTaskDemo,
		"reduce": buildReduceDemo,
	}

	names := c.Args
	if len(names) == 0 {
		names = []string{"parfor", "task", "reduce"}
	}

	for _, name := range names {
		build, ok := demos[name]
		if !ok {
			return errors.New("unknown demo: %s", name)
		}

		res, err := build()
		if err != nil {
			return errors.Wrap(err, "build demo %s", name)
		}

		if err := lowerDemo(ctx, res); err != nil {
			return errors.Wrap(err, "lower demo %s", name)
		}

		fmt.Printf("=== %s (caller) ===\n%s\n", name, dumpFunc(res.Caller))
		fmt.Printf("=== %s (body) ===\n%s\n", name, dumpFunc(res.Body))
	}

	return nil
}

func runAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	names := c.Args
	if len(names) == 0 {
		names = []string{"fill", "task"}
	}

	for _, name := range names {
		switch name {
		case "fill":
			out, err := runFillDemo(ctx)
			if err != nil {
				return errors.Wrap(err, "run demo %s", name)
			}

			fmt.Printf("fill: %v\n", out)
		case "task":
			out, err := runTaskDemo(ctx)
			if err != nil {
				return errors.Wrap(err, "run demo %s", name)
			}

			fmt.Printf("task: %v\n", out)
		default:
			return errors.New("unknown demo: %s", name)
		}
	}

	return nil
}
