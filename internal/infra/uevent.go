package infra

import (
	"bytes"
	"strings"

	"github.com/eliteGoblin/focusd/hdaguard/internal/domain"
)

// uevent is a parsed kernel object event.
type uevent struct {
	action    string
	devpath   string
	subsystem string
	driver    string
	pciID     string // PCI_ID, "VVVV:DDDD"
	pciClass  string // PCI_CLASS, hex without prefix
}

// parseUEvent parses a NUL-separated kernel uevent. The first record is
// "action@devpath", the rest are KEY=value.
func parseUEvent(data []byte) uevent {
	var evt uevent
	for _, field := range bytes.Split(data, []byte{0}) {
		if len(field) == 0 {
			continue
		}
		s := string(field)

		key, value, found := strings.Cut(s, "=")
		if !found {
			if action, devpath, ok := strings.Cut(s, "@"); ok {
				evt.action = action
				evt.devpath = devpath
			}
			continue
		}

		switch key {
		case "ACTION":
			evt.action = value
		case "DEVPATH":
			evt.devpath = value
		case "SUBSYSTEM":
			evt.subsystem = value
		case "DRIVER":
			evt.driver = value
		case "PCI_ID":
			evt.pciID = value
		case "PCI_CLASS":
			evt.pciClass = value
		}
	}
	return evt
}

// relevant reports whether the event can change an audio function's
// state. udev's own rebroadcasts ("libudev" header) never reach here
// since only the kernel multicast group is joined.
func (e uevent) relevant() bool {
	if e.action == "" {
		return false
	}
	switch e.subsystem {
	case "pci", "sound":
		return true
	}
	return false
}

func (e uevent) toDeviceEvent() domain.DeviceEvent {
	return domain.DeviceEvent{Action: e.action, Source: "netlink", Detail: e.devpath}
}
