package infra

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func rawUEvent(fields ...string) []byte {
	return []byte(strings.Join(fields, "\x00") + "\x00")
}

func TestParseUEvent(t *testing.T) {
	evt := parseUEvent(rawUEvent(
		"bind@/devices/pci0000:00/0000:00:01.0/0000:01:00.1",
		"ACTION=bind",
		"DEVPATH=/devices/pci0000:00/0000:00:01.0/0000:01:00.1",
		"SUBSYSTEM=pci",
		"DRIVER=snd_hda_intel",
		"PCI_CLASS=40300",
		"PCI_ID=10DE:10F9",
		"SEQNUM=4411",
	))

	assert.Equal(t, "bind", evt.action)
	assert.Equal(t, "/devices/pci0000:00/0000:00:01.0/0000:01:00.1", evt.devpath)
	assert.Equal(t, "pci", evt.subsystem)
	assert.Equal(t, "snd_hda_intel", evt.driver)
	assert.Equal(t, "10DE:10F9", evt.pciID)
	assert.Equal(t, "40300", evt.pciClass)
	assert.True(t, evt.relevant())

	de := evt.toDeviceEvent()
	assert.Equal(t, "netlink", de.Source)
	assert.Equal(t, "bind", de.Action)
}

func TestParseUEvent_HeaderOnly(t *testing.T) {
	evt := parseUEvent(rawUEvent("remove@/devices/virtual/sound/card1"))
	assert.Equal(t, "remove", evt.action)
	assert.Equal(t, "/devices/virtual/sound/card1", evt.devpath)
	assert.False(t, evt.relevant(), "no subsystem")
}

func TestUEvent_Relevant(t *testing.T) {
	tests := []struct {
		subsystem string
		want      bool
	}{
		{"pci", true},
		{"sound", true},
		{"usb", false},
		{"net", false},
	}
	for _, tt := range tests {
		t.Run(tt.subsystem, func(t *testing.T) {
			evt := parseUEvent(rawUEvent("change@/devices/x", "SUBSYSTEM="+tt.subsystem))
			assert.Equal(t, tt.want, evt.relevant())
		})
	}
}
