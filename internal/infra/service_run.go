package infra

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
)

// runInteractive runs fn until the process is interrupted.
func runInteractive(fn func(ctx context.Context) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := fn(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
