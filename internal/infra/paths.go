// Package infra implements infrastructure concerns: platform device
// adapters, service registration, the state store and metrics.
package infra

import (
	"os"
	"path/filepath"
	"runtime"
)

// AppName is the binary, service and directory name.
const AppName = "hdaguard"

// Layout holds the platform's well-known locations.
type Layout struct {
	OS         string
	BinaryPath string // Where install copies the binary
	DataDir    string // State store and its key
	LogPath    string // Active log file
	ConfigPath string // Default --config for the installed service
}

// DetectLayout returns the layout for the running OS.
func DetectLayout() *Layout {
	return LayoutFor(runtime.GOOS, os.Getenv)
}

// LayoutFor returns the layout for goos, resolving environment variables
// through getenv.
func LayoutFor(goos string, getenv func(string) string) *Layout {
	switch goos {
	case "windows":
		programData := getenv("ProgramData")
		if programData == "" {
			programData = `C:\ProgramData`
		}
		programFiles := getenv("ProgramFiles")
		if programFiles == "" {
			programFiles = `C:\Program Files`
		}
		base := programData + `\` + AppName
		return &Layout{
			OS:         goos,
			BinaryPath: programFiles + `\` + AppName + `\` + AppName + ".exe",
			DataDir:    base,
			LogPath:    base + `\logs\` + AppName + ".log",
			ConfigPath: base + `\` + AppName + ".yaml",
		}
	default:
		return &Layout{
			OS:         goos,
			BinaryPath: filepath.Join("/usr/local/bin", AppName),
			DataDir:    filepath.Join("/var/lib", AppName),
			LogPath:    filepath.Join("/var/log", AppName, AppName+".log"),
			ConfigPath: filepath.Join("/etc", AppName, AppName+".yaml"),
		}
	}
}
