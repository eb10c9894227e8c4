// Package main provides the entry point for the ragcore CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Aman-CERP/ragcore/cmd/ragcore/cmd"
	"github.com/Aman-CERP/ragcore/internal/errors"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.NewRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprint(os.Stderr, errors.FormatForCLI(err))
		os.Exit(1)
	}
}
