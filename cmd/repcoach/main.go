package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	rootcmder "github.com/papercomputeco/repcoach/cmd/repcoach/root"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootcmder.NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
