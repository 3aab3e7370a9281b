//go:build windows

package infra

import "golang.org/x/sys/windows"

// HasElevatedPrivilege reports whether the process token is elevated
// (Administrator with UAC consent).
func HasElevatedPrivilege() bool {
	return windows.GetCurrentProcessToken().IsElevated()
}
