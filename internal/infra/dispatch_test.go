package infra

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/hdaguard/internal/domain"
)

func TestDispatcher_DeliversEvents(t *testing.T) {
	got := make(chan domain.DeviceEvent, 1)
	d := newDispatcher(func(ev domain.DeviceEvent) { got <- ev })
	defer d.stop()

	require.True(t, d.offer(domain.DeviceEvent{Action: "add", Source: "netlink"}))

	select {
	case ev := <-got:
		assert.Equal(t, "add", ev.Action)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestDispatcher_CoalescesBursts(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var (
		mu    sync.Mutex
		calls int
	)
	d := newDispatcher(func(ev domain.DeviceEvent) {
		mu.Lock()
		calls++
		mu.Unlock()
		started <- struct{}{}
		<-release
	})

	d.offer(domain.DeviceEvent{Action: "bind"})
	<-started

	// Handler is busy: one event queues, the rest are dropped.
	assert.True(t, d.offer(domain.DeviceEvent{Action: "change"}))
	assert.False(t, d.offer(domain.DeviceEvent{Action: "change"}))
	assert.False(t, d.offer(domain.DeviceEvent{Action: "change"}))

	release <- struct{}{}
	<-started
	release <- struct{}{}

	d.stop()
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, calls)
}

func TestDispatcher_StopIsIdempotent(t *testing.T) {
	d := newDispatcher(func(domain.DeviceEvent) {})
	d.stop()
	d.stop()
}
