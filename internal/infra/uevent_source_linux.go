//go:build linux

package infra

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/eliteGoblin/focusd/hdaguard/internal/domain"
)

const (
	ueventBufferSize  = 64 * 1024
	ueventKernelGroup = 1
	ueventReadTimeout = time.Second // bounds how long Close waits for the reader
)

// UeventSource implements domain.EventSource with the kernel uevent
// netlink multicast group.
type UeventSource struct {
	logger *zap.Logger
}

// NewUeventSource creates a uevent source.
func NewUeventSource(logger *zap.Logger) *UeventSource {
	return &UeventSource{logger: logger}
}

// Subscribe opens a netlink socket and delivers pci and sound events.
func (s *UeventSource) Subscribe(ctx context.Context, handler func(domain.DeviceEvent)) (domain.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewAccessError("open uevent socket", err)
	}

	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return nil, domain.NewAccessError("open uevent socket", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: ueventKernelGroup}); err != nil {
		unix.Close(fd)
		return nil, domain.NewAccessError("bind uevent socket", err)
	}
	tv := unix.NsecToTimeval(ueventReadTimeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		unix.Close(fd)
		return nil, domain.NewAccessError("set uevent socket timeout", err)
	}

	sub := &ueventSubscription{
		fd:       fd,
		dispatch: newDispatcher(handler),
		logger:   s.logger,
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
	sub.alive.Store(true)
	go sub.read()
	return sub, nil
}

type ueventSubscription struct {
	fd       int
	dispatch *dispatcher
	logger   *zap.Logger
	alive    atomic.Bool
	done     chan struct{}
	exited   chan struct{}
	once     sync.Once
}

func (u *ueventSubscription) read() {
	defer close(u.exited)
	buf := make([]byte, ueventBufferSize)

	for {
		select {
		case <-u.done:
			return
		default:
		}

		n, _, err := unix.Recvfrom(u.fd, buf, 0)
		if err != nil {
			switch {
			case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
				continue
			case errors.Is(err, unix.ENOBUFS):
				// Socket overflowed and events were lost; a pass covers them.
				u.logger.Debug("uevent socket overrun")
				u.dispatch.offer(domain.DeviceEvent{Action: "overflow", Source: "netlink"})
				continue
			}
			u.logger.Warn("uevent socket read failed", zap.Error(err))
			u.alive.Store(false)
			return
		}

		evt := parseUEvent(buf[:n])
		if !evt.relevant() {
			continue
		}
		u.logger.Debug("device event",
			zap.String("action", evt.action),
			zap.String("subsystem", evt.subsystem),
			zap.String("devpath", evt.devpath))
		u.dispatch.offer(evt.toDeviceEvent())
	}
}

// Alive reports whether the reader is still running.
func (u *ueventSubscription) Alive() bool {
	return u.alive.Load()
}

// Close stops the reader and the dispatcher, then closes the socket.
func (u *ueventSubscription) Close() error {
	var err error
	u.once.Do(func() {
		u.alive.Store(false)
		close(u.done)
		<-u.exited
		u.dispatch.stop()
		err = unix.Close(u.fd)
	})
	return err
}

// Ensure UeventSource implements domain.EventSource.
var _ domain.EventSource = (*UeventSource)(nil)
