// Package main provides the flowgate command.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command := &cli.Command{
		Name:                  "flowgate",
		Usage:                 "Run and manage approval workflows",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			NewServeCommand(),
			NewValidateCommand(),
		},
	}

	err := command.Run(ctx, os.Args)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)

		stop()
		os.Exit(1)
	}
}
