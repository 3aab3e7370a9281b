//go:build windows

package infra

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	ole "github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/hdaguard/internal/domain"
)

const (
	deviceChangeQuery = "SELECT * FROM Win32_DeviceChangeEvent"
	nextEventTimeout  = 1000 // ms; bounds how long Close waits

	wbemTimedOut  = 0x80043001
	sFalse        = 0x00000001 // COM already initialized on this thread
	rpcChangeMode = 0x80010106 // RPC_E_CHANGED_MODE
)

// Win32_DeviceChangeEvent.EventType values.
var deviceChangeActions = map[int64]string{
	1: "config_changed",
	2: "arrival",
	3: "removal",
	4: "docking",
}

// WMIEventSource implements domain.EventSource with a semi-synchronous WMI
// notification query for Win32_DeviceChangeEvent.
type WMIEventSource struct {
	logger *zap.Logger
}

// NewWMIEventSource creates a WMI event source.
func NewWMIEventSource(logger *zap.Logger) *WMIEventSource {
	return &WMIEventSource{logger: logger}
}

// Subscribe registers the notification query on a dedicated OS thread and
// returns once the query is live.
func (s *WMIEventSource) Subscribe(ctx context.Context, handler func(domain.DeviceEvent)) (domain.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewAccessError("register Win32_DeviceChangeEvent", err)
	}

	sub := &wmiSubscription{
		dispatch: newDispatcher(handler),
		logger:   s.logger,
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
	ready := make(chan error, 1)
	go sub.run(ready)

	if err := <-ready; err != nil {
		<-sub.exited
		sub.dispatch.stop()
		return nil, domain.NewAccessError("register Win32_DeviceChangeEvent", err)
	}
	return sub, nil
}

type wmiSubscription struct {
	dispatch *dispatcher
	logger   *zap.Logger
	alive    atomic.Bool
	done     chan struct{}
	exited   chan struct{}
	once     sync.Once
}

// run owns every COM object; they never leave this locked thread.
func (w *wmiSubscription) run(ready chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(w.exited)

	initErr := ole.CoInitializeEx(0, ole.COINIT_MULTITHREADED)
	usable, initialized := comInitResult(initErr)
	if !usable {
		ready <- fmt.Errorf("CoInitializeEx: %w", initErr)
		return
	}
	if initialized {
		defer ole.CoUninitialize()
	}

	events, release, err := openNotificationQuery()
	if err != nil {
		ready <- err
		return
	}
	defer release()

	w.alive.Store(true)
	ready <- nil

	for {
		select {
		case <-w.done:
			return
		default:
		}

		raw, err := oleutil.CallMethod(events, "NextEvent", nextEventTimeout)
		if err != nil {
			if isWBEMTimeout(err) {
				continue
			}
			w.logger.Warn("device change notification failed", zap.Error(err))
			w.alive.Store(false)
			return
		}
		w.dispatch.offer(deviceChangeEvent(raw))
		raw.Clear()
	}
}

func openNotificationQuery() (*ole.IDispatch, func(), error) {
	unknown, err := oleutil.CreateObject("WbemScripting.SWbemLocator")
	if err != nil {
		return nil, nil, fmt.Errorf("create SWbemLocator: %w", err)
	}
	defer unknown.Release()

	locator, err := unknown.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		return nil, nil, fmt.Errorf("query SWbemLocator: %w", err)
	}
	defer locator.Release()

	serviceRaw, err := oleutil.CallMethod(locator, "ConnectServer")
	if err != nil {
		return nil, nil, fmt.Errorf("connect root\\cimv2: %w", err)
	}
	service := serviceRaw.ToIDispatch()

	eventsRaw, err := oleutil.CallMethod(service, "ExecNotificationQuery", deviceChangeQuery)
	if err != nil {
		serviceRaw.Clear()
		return nil, nil, fmt.Errorf("ExecNotificationQuery: %w", err)
	}

	release := func() {
		eventsRaw.Clear()
		serviceRaw.Clear()
	}
	return eventsRaw.ToIDispatch(), release, nil
}

func deviceChangeEvent(raw *ole.VARIANT) domain.DeviceEvent {
	ev := domain.DeviceEvent{Action: "change", Source: "wmi"}
	prop, err := oleutil.GetProperty(raw.ToIDispatch(), "EventType")
	if err != nil {
		return ev
	}
	defer prop.Clear()

	var code int64
	switch v := prop.Value().(type) {
	case int32:
		code = int64(v)
	case int64:
		code = v
	case uint32:
		code = int64(v)
	}
	if action, ok := deviceChangeActions[code]; ok {
		ev.Action = action
	}
	ev.Detail = fmt.Sprintf("EventType=%d", code)
	return ev
}

// comInitResult classifies a CoInitializeEx result. usable means COM can
// be used on this thread; initialized means the call took a reference that
// CoUninitialize must release. RPC_E_CHANGED_MODE leaves the thread in its
// existing apartment without taking one.
func comInitResult(err error) (usable, initialized bool) {
	if err == nil {
		return true, true
	}
	var oleErr *ole.OleError
	if !errors.As(err, &oleErr) {
		return false, false
	}
	switch uint32(oleErr.Code()) {
	case sFalse:
		return true, true
	case rpcChangeMode:
		return true, false
	}
	return false, false
}

func isWBEMTimeout(err error) bool {
	var oleErr *ole.OleError
	if errors.As(err, &oleErr) {
		if uint32(oleErr.Code()) == wbemTimedOut {
			return true
		}
		// DISP_E_EXCEPTION carries the WMI status in the EXCEPINFO.
		if info, ok := oleErr.SubError().(interface{ SCODE() uint32 }); ok && info.SCODE() == wbemTimedOut {
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "timed out")
}

// Alive reports whether the notification loop is still running.
func (w *wmiSubscription) Alive() bool {
	return w.alive.Load()
}

// Close ends the notification loop, which releases the COM objects on
// its own thread.
func (w *wmiSubscription) Close() error {
	w.once.Do(func() {
		w.alive.Store(false)
		close(w.done)
		<-w.exited
		w.dispatch.stop()
	})
	return nil
}

// Ensure WMIEventSource implements domain.EventSource.
var _ domain.EventSource = (*WMIEventSource)(nil)
