// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"strconv"
	"time"
)

// DeviceStatus is the enabled state reported by the platform at query time.
type DeviceStatus string

const (
	StatusEnabled  DeviceStatus = "enabled"
	StatusDisabled DeviceStatus = "disabled"
	StatusError    DeviceStatus = "error"
	StatusUnknown  DeviceStatus = "unknown"
)

// Device is a snapshot of one hardware device taken during enumeration.
// Recreated on every enumeration, never persisted.
type Device struct {
	ID          string // Stable platform instance handle (PCI address, PnP instance ID)
	DisplayName string // Human-readable name used for pattern matching
	Status      DeviceStatus
}

// DisableResult is the success classification of a disable call.
// Hard failures are reported as errors instead.
type DisableResult int

const (
	// DisableOK means the platform accepted the disable command.
	DisableOK DisableResult = iota
	// DisableAlreadyDisabled means the device was already in the target state.
	DisableAlreadyDisabled
	// DisableTransient means the platform reported a generic or in-transition
	// failure. Counted as a success, logged as a warning.
	DisableTransient
)

func (r DisableResult) String() string {
	switch r {
	case DisableOK:
		return "disabled"
	case DisableAlreadyDisabled:
		return "already_disabled"
	case DisableTransient:
		return "transient_failure"
	default:
		return "unknown"
	}
}

// PassTrigger identifies what started a reconciliation pass.
type PassTrigger string

const (
	TriggerStartup PassTrigger = "startup"
	TriggerPoll    PassTrigger = "poll"
	TriggerEvent   PassTrigger = "event"
	TriggerManual  PassTrigger = "manual"
)

// OutcomeKind is the per-device result recorded in a pass summary.
type OutcomeKind string

const (
	OutcomeDisabled        OutcomeKind = "disabled"
	OutcomeTransient       OutcomeKind = "transient"
	OutcomeAlreadyDisabled OutcomeKind = "already_disabled"
	OutcomeNoActionNeeded  OutcomeKind = "no_action_needed"
	OutcomeFailed          OutcomeKind = "failed"
)

// Bucket maps an outcome to one of the three summary buckets.
type Bucket string

const (
	BucketDisabled         Bucket = "disabled"
	BucketAlreadyCompliant Bucket = "already_compliant"
	BucketErrored          Bucket = "errored"
)

// Bucket returns the summary bucket this outcome is counted in.
func (k OutcomeKind) Bucket() Bucket {
	switch k {
	case OutcomeDisabled, OutcomeTransient:
		return BucketDisabled
	case OutcomeAlreadyDisabled, OutcomeNoActionNeeded:
		return BucketAlreadyCompliant
	default:
		return BucketErrored
	}
}

// DeviceOutcome records what happened to one in-scope device during a pass.
type DeviceOutcome struct {
	DeviceID    string
	DisplayName string
	Status      DeviceStatus // Status observed at enumeration
	Kind        OutcomeKind
	Message     string // Platform message for transient and failed outcomes
}

// PassSummary captures what happened during a single reconciliation pass.
// Every device that matched the ban policy appears in exactly one bucket.
type PassSummary struct {
	ID               string
	Trigger          PassTrigger
	Forced           bool
	StartedAt        time.Time
	Duration         time.Duration
	Disabled         int
	AlreadyCompliant int
	Errored          int
	Transient        int // Subset of Disabled that the platform reported as transient
	Outcomes         []DeviceOutcome
	Err              error // Set when the pass aborted before touching devices
}

// Record appends an outcome and updates the bucket counters.
func (s *PassSummary) Record(o DeviceOutcome) {
	s.Outcomes = append(s.Outcomes, o)
	switch o.Kind.Bucket() {
	case BucketDisabled:
		s.Disabled++
		if o.Kind == OutcomeTransient {
			s.Transient++
		}
	case BucketAlreadyCompliant:
		s.AlreadyCompliant++
	default:
		s.Errored++
	}
}

// Aborted reports whether the pass failed before evaluating devices.
func (s *PassSummary) Aborted() bool {
	return s.Err != nil
}

// SubscriberPhase is the tag of the notification subscriber state machine.
type SubscriberPhase string

const (
	PhaseUnregistered SubscriberPhase = "unregistered"
	PhaseRegistering  SubscriberPhase = "registering"
	PhaseActive       SubscriberPhase = "active"
	PhaseBackoffWait  SubscriberPhase = "backoff_wait"
)

// SubscriberState is a tagged state value. Attempt is meaningful only
// while Registering.
type SubscriberState struct {
	Phase   SubscriberPhase
	Attempt int
}

func (s SubscriberState) String() string {
	if s.Phase == PhaseRegistering {
		return string(s.Phase) + "(" + strconv.Itoa(s.Attempt) + ")"
	}
	return string(s.Phase)
}

// DeviceEvent is a device topology change delivered by the platform.
type DeviceEvent struct {
	Action string // add, remove, change, bind, unbind, arrival, config_changed
	Source string // netlink, wmi
	Detail string // Device path or platform event description
}

// WatchdogRecord is the persisted identity of the running watchdog process.
type WatchdogRecord struct {
	PID             int
	StartedAt       time.Time
	LastHeartbeat   time.Time
	SubscriberState string
	SubscriberError string // Last registration failure, empty while healthy
	AppVersion      string
}

// PassRecord is the persisted form of a pass summary.
type PassRecord struct {
	ID               string
	Trigger          PassTrigger
	Forced           bool
	StartedAt        time.Time
	DurationMs       int64
	Disabled         int
	AlreadyCompliant int
	Errored          int
	Error            string
}
