package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pixperk/rbdsnap/pkg/command"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := command.App(command.Deps{}).RunContext(ctx, os.Args)
	stop()

	code := command.ExitCode(err)
	if err != nil && code != command.ExitOK {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(code)
}
