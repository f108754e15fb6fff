package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"storyforge/internal/queue"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	switch {
	case err == nil:
		return
	case errors.Is(err, context.Canceled):
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(exitCode(err))
}

// exitCode is 2 for rejected requests, 3 for storage failures and 1
// otherwise.
func exitCode(err error) int {
	switch queue.Kind(err) {
	case "validation", "conflict", "not_found", "invalid_transition":
		return 2
	case "schema", "storage":
		return 3
	default:
		return 1
	}
}
