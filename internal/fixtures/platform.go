// Package fixtures provides an in-memory device platform for tests: a
// device table that honours disable calls and an event source whose
// registration and liveness can be scripted.
package fixtures

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eliteGoblin/focusd/hdaguard/internal/domain"
)

// NVIDIAAudio returns an enabled NVIDIA HD Audio output with the given id.
func NVIDIAAudio(id, monitor string) domain.Device {
	return domain.Device{
		ID:          id,
		DisplayName: "NVIDIA High Definition Audio (" + monitor + ")",
		Status:      domain.StatusEnabled,
	}
}

// FakeInventory is a mutable device table implementing domain.DeviceInventory.
type FakeInventory struct {
	mu      sync.Mutex
	devices []domain.Device

	listErr     error
	disableErrs map[string]error
	results     map[string]domain.DisableResult
	delay       time.Duration

	listCalls    int
	disableCalls []string

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

// NewFakeInventory creates an inventory holding devices.
func NewFakeInventory(devices ...domain.Device) *FakeInventory {
	return &FakeInventory{
		devices:     append([]domain.Device(nil), devices...),
		disableErrs: make(map[string]error),
		results:     make(map[string]domain.DisableResult),
	}
}

// ListDevices returns a copy of the device table.
func (f *FakeInventory) ListDevices(ctx context.Context) ([]domain.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]domain.Device(nil), f.devices...), nil
}

// Disable marks the device disabled unless a failure or result was scripted.
func (f *FakeInventory) Disable(ctx context.Context, id string) (domain.DisableResult, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.maxInFlight.Load()
		if n <= peak || f.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}

	f.mu.Lock()
	delay := f.delay
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.disableCalls = append(f.disableCalls, id)

	if err, ok := f.disableErrs[id]; ok {
		return 0, err
	}
	idx := f.indexOf(id)
	if idx < 0 {
		return 0, &domain.DeviceError{DeviceID: id, Message: "device not found"}
	}
	if result, ok := f.results[id]; ok {
		if result != domain.DisableTransient {
			f.devices[idx].Status = domain.StatusDisabled
		}
		return result, nil
	}
	if f.devices[idx].Status == domain.StatusDisabled {
		return domain.DisableAlreadyDisabled, nil
	}
	f.devices[idx].Status = domain.StatusDisabled
	return domain.DisableOK, nil
}

func (f *FakeInventory) indexOf(id string) int {
	for i, d := range f.devices {
		if d.ID == id {
			return i
		}
	}
	return -1
}

// Add appends a device, simulating hot-plug or a driver rescan.
func (f *FakeInventory) Add(d domain.Device) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices = append(f.devices, d)
}

// SetStatus changes a device's status, e.g. the OS re-enabling it.
func (f *FakeInventory) SetStatus(id string, status domain.DeviceStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if idx := f.indexOf(id); idx >= 0 {
		f.devices[idx].Status = status
	}
}

// Status returns the current status of a device, or StatusUnknown.
func (f *FakeInventory) Status(id string) domain.DeviceStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if idx := f.indexOf(id); idx >= 0 {
		return f.devices[idx].Status
	}
	return domain.StatusUnknown
}

// FailList makes ListDevices fail with err until cleared with nil.
func (f *FakeInventory) FailList(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

// FailDisable makes Disable(id) fail with err.
func (f *FakeInventory) FailDisable(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disableErrs[id] = err
}

// ScriptResult makes Disable(id) return result.
func (f *FakeInventory) ScriptResult(id string, result domain.DisableResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[id] = result
}

// SetDisableDelay makes every Disable call take d.
func (f *FakeInventory) SetDisableDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

// DisableCalls returns the ids passed to Disable, in call order.
func (f *FakeInventory) DisableCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.disableCalls...)
}

// ListCalls returns how many times ListDevices was called.
func (f *FakeInventory) ListCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

// MaxConcurrentDisables is the highest number of overlapping Disable calls seen.
func (f *FakeInventory) MaxConcurrentDisables() int {
	return int(f.maxInFlight.Load())
}

// ErrRegistrationRefused is the default scripted registration failure.
var ErrRegistrationRefused = errors.New("event subsystem not ready")

// FakeEventSource implements domain.EventSource with scripted registration
// results. Each Subscribe call consumes one entry from the script; once the
// script is exhausted registration succeeds.
type FakeEventSource struct {
	mu       sync.Mutex
	script   []error
	attempts int
	current  *FakeSubscription
	all      []*FakeSubscription
}

// NewFakeEventSource creates a source whose first registrations return the
// given errors in order (nil entries succeed).
func NewFakeEventSource(script ...error) *FakeEventSource {
	return &FakeEventSource{script: script}
}

// Subscribe consumes the next scripted result.
func (f *FakeEventSource) Subscribe(ctx context.Context, handler func(domain.DeviceEvent)) (domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if len(f.script) > 0 {
		err := f.script[0]
		f.script = f.script[1:]
		if err != nil {
			return nil, domain.NewAccessError("subscribe", err)
		}
	}
	sub := &FakeSubscription{handler: handler}
	sub.alive.Store(true)
	f.current = sub
	f.all = append(f.all, sub)
	return sub, nil
}

// FailNext queues n registration failures.
func (f *FakeEventSource) FailNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i < n; i++ {
		f.script = append(f.script, ErrRegistrationRefused)
	}
}

// Attempts returns the number of Subscribe calls.
func (f *FakeEventSource) Attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

// Current returns the most recent successful subscription, or nil.
func (f *FakeEventSource) Current() *FakeSubscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Subscriptions returns every successful subscription.
func (f *FakeEventSource) Subscriptions() []*FakeSubscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeSubscription(nil), f.all...)
}

// Emit delivers an event through the current subscription. Returns false
// when there is no live subscription.
func (f *FakeEventSource) Emit(ev domain.DeviceEvent) bool {
	sub := f.Current()
	if sub == nil || !sub.Alive() {
		return false
	}
	sub.handler(ev)
	return true
}

// FakeSubscription is a subscription whose liveness can be dropped.
type FakeSubscription struct {
	handler func(domain.DeviceEvent)
	alive   atomic.Bool
	closed  atomic.Bool
}

// Alive reports liveness.
func (s *FakeSubscription) Alive() bool {
	return s.alive.Load() && !s.closed.Load()
}

// Drop simulates the platform silently ending delivery.
func (s *FakeSubscription) Drop() {
	s.alive.Store(false)
}

// Close marks the subscription closed.
func (s *FakeSubscription) Close() error {
	s.closed.Store(true)
	return nil
}

// Closed reports whether Close was called.
func (s *FakeSubscription) Closed() bool {
	return s.closed.Load()
}

var (
	_ domain.DeviceInventory = (*FakeInventory)(nil)
	_ domain.EventSource     = (*FakeEventSource)(nil)
	_ domain.Subscription    = (*FakeSubscription)(nil)
)
