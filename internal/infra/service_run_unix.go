//go:build !windows

package infra

import "context"

// RunService runs fn until SIGINT or SIGTERM. systemd stops the unit
// with SIGTERM.
func RunService(fn func(ctx context.Context) error) error {
	return runInteractive(fn)
}
