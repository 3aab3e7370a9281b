//go:build !windows

package infra

import "golang.org/x/sys/unix"

// HasElevatedPrivilege reports whether the process runs as root.
func HasElevatedPrivilege() bool {
	return unix.Geteuid() == 0
}
