package infra

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLayoutFor(t *testing.T) {
	tests := []struct {
		name string
		goos string
		env  map[string]string
		want Layout
	}{
		{
			name: "linux",
			goos: "linux",
			want: Layout{
				OS:         "linux",
				BinaryPath: "/usr/local/bin/hdaguard",
				DataDir:    "/var/lib/hdaguard",
				LogPath:    "/var/log/hdaguard/hdaguard.log",
				ConfigPath: "/etc/hdaguard/hdaguard.yaml",
			},
		},
		{
			name: "windows with environment",
			goos: "windows",
			env:  map[string]string{"ProgramData": `D:\Data`, "ProgramFiles": `D:\Apps`},
			want: Layout{
				OS:         "windows",
				BinaryPath: `D:\Apps\hdaguard\hdaguard.exe`,
				DataDir:    `D:\Data\hdaguard`,
				LogPath:    `D:\Data\hdaguard\logs\hdaguard.log`,
				ConfigPath: `D:\Data\hdaguard\hdaguard.yaml`,
			},
		},
		{
			name: "windows defaults",
			goos: "windows",
			want: Layout{
				OS:         "windows",
				BinaryPath: `C:\Program Files\hdaguard\hdaguard.exe`,
				DataDir:    `C:\ProgramData\hdaguard`,
				LogPath:    `C:\ProgramData\hdaguard\logs\hdaguard.log`,
				ConfigPath: `C:\ProgramData\hdaguard\hdaguard.yaml`,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LayoutFor(tt.goos, func(k string) string { return tt.env[k] })
			assert.Equal(t, tt.want, *got)
		})
	}
}
