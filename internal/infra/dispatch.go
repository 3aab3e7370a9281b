package infra

import (
	"sync"

	"github.com/eliteGoblin/focusd/hdaguard/internal/domain"
)

// dispatcher hands events to a handler on its own goroutine. A burst of
// events arriving while the handler is busy collapses into one pending
// delivery: a single pass sees the whole burst.
type dispatcher struct {
	pending chan domain.DeviceEvent
	handler func(domain.DeviceEvent)
	done    chan struct{}
	exited  chan struct{}
	once    sync.Once
}

func newDispatcher(handler func(domain.DeviceEvent)) *dispatcher {
	d := &dispatcher{
		pending: make(chan domain.DeviceEvent, 1),
		handler: handler,
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *dispatcher) loop() {
	defer close(d.exited)
	for {
		select {
		case <-d.done:
			return
		case ev := <-d.pending:
			d.handler(ev)
		}
	}
}

// offer queues ev unless a delivery is already pending.
func (d *dispatcher) offer(ev domain.DeviceEvent) bool {
	select {
	case d.pending <- ev:
		return true
	default:
		return false
	}
}

// stop ends delivery and waits for a running handler to return.
func (d *dispatcher) stop() {
	d.once.Do(func() { close(d.done) })
	<-d.exited
}
