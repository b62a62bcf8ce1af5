package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Execute is the entrypoint used by cmd/tuthub.
// It returns an error instead of calling os.Exit to keep defers effective and lint clean.
func Execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return NewRootCommand().ExecuteContext(ctx)
}
