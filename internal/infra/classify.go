package infra

import (
	"strings"

	"github.com/eliteGoblin/focusd/hdaguard/internal/domain"
)

// Platform replies that look like failures but mean the device ended up,
// or is about to end up, disabled.
var (
	transientMarkers = []string{
		"generic failure",
		"device or resource busy",
		"resource temporarily unavailable",
		"in transition",
		"0x80041001", // WBEM_E_FAILED
	}
	alreadyDisabledMarkers = []string{
		"already disabled",
		"no such device",
		"no such file or directory",
		"not bound",
	}
)

// ClassifyDisableMessage maps a platform error message from a disable call
// to a success classification. ok is false when the message is a hard
// failure.
func ClassifyDisableMessage(msg string) (result domain.DisableResult, ok bool) {
	lower := strings.ToLower(msg)
	for _, m := range alreadyDisabledMarkers {
		if strings.Contains(lower, m) {
			return domain.DisableAlreadyDisabled, true
		}
	}
	for _, m := range transientMarkers {
		if strings.Contains(lower, m) {
			return domain.DisableTransient, true
		}
	}
	return 0, false
}

// classifyDisableError turns a platform failure into the inventory's
// (result, error) contract.
func classifyDisableError(id, msg string, err error) (domain.DisableResult, error) {
	if result, ok := ClassifyDisableMessage(msg); ok {
		return result, nil
	}
	return 0, &domain.DeviceError{DeviceID: id, Message: strings.TrimSpace(msg), Err: err}
}
