// Command registry operates the dataset registry: schema migrations, the
// finalization worker, and organization, dataset, object and batch commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand(&cli{})
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "registry: %v\n", err)
		stop()
		os.Exit(exitCode(err))
	}
}
