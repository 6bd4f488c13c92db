// Package main is the honor-the-fallen job binary.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/y3shua/honor-the-fallen/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cmd.Execute(ctx)
	stop()
	os.Exit(code)
}
