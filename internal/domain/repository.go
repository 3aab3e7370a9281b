package domain

import "context"

// DeviceInventory queries and acts on the host's device list.
// Implementation: sysfs PCI bindings on Linux, WMI + PnP cmdlets on Windows.
type DeviceInventory interface {
	// ListDevices returns a snapshot of all devices the platform knows about.
	// Fails with an *AccessError when the platform API is unavailable.
	ListDevices(ctx context.Context) ([]Device, error)

	// Disable disables a device by instance identifier. A non-nil error is a
	// hard failure; generic and already-disabled platform replies are
	// reported through the DisableResult instead.
	Disable(ctx context.Context, id string) (DisableResult, error)
}

// EventSource registers for OS-level device topology change notifications.
// Implementation: netlink uevents on Linux, WMI Win32_DeviceChangeEvent on Windows.
type EventSource interface {
	// Subscribe registers handler for device change events. The handler runs
	// on a goroutine owned by the subscription.
	Subscribe(ctx context.Context, handler func(DeviceEvent)) (Subscription, error)
}

// Subscription is a live event registration.
type Subscription interface {
	// Alive reports whether the subscription is still delivering events.
	Alive() bool

	// Close stops delivery and releases platform resources.
	Close() error
}

// Reconciler runs reconciliation passes.
type Reconciler interface {
	// RunPass enumerates devices and disables every match requiring action.
	// force targets all matches regardless of their current status.
	RunPass(ctx context.Context, trigger PassTrigger, force bool) (*PassSummary, error)
}

// PassObserver is notified after every reconciliation pass, including
// passes aborted by an enumeration failure.
type PassObserver interface {
	ObservePass(summary *PassSummary)
}

// SubscriberObserver is notified on every subscriber state transition.
type SubscriberObserver interface {
	ObserveTransition(from, to SubscriberState)
}

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}

// StateStore persists the watchdog's identity and pass history so operator
// commands can report on a watchdog running in another process.
// Implementation: SQLCipher encrypted SQLite database in the data directory.
type StateStore interface {
	// RegisterWatchdog records the running watchdog process.
	RegisterWatchdog(rec WatchdogRecord) error

	// UpdateHeartbeat refreshes the heartbeat, the current subscriber
	// state and its last registration error (empty when none).
	UpdateHeartbeat(subscriberState, subscriberError string) error

	// GetWatchdog returns the last registered watchdog, or nil if none.
	GetWatchdog() (*WatchdogRecord, error)

	// RecordPass appends a pass summary to the history.
	RecordPass(summary *PassSummary) error

	// RecentPasses returns up to limit passes, newest first.
	RecentPasses(limit int) ([]PassRecord, error)

	// Close releases resources.
	Close() error
}

// ServiceManager registers the watchdog with the host service manager so it
// starts at boot and restarts after a crash.
type ServiceManager interface {
	// Install registers and starts the service.
	Install(execPath, configPath string) error

	// Uninstall stops and removes the service.
	Uninstall() error

	// IsInstalled checks if the service is registered.
	IsInstalled() bool

	// NeedsUpdate checks if the registration exists but differs from what
	// Install would write.
	NeedsUpdate(execPath, configPath string) bool

	// Update rewrites the registration and restarts the service.
	Update(execPath, configPath string) error

	// Describe returns where the registration lives (unit path, SCM name).
	Describe() string
}
