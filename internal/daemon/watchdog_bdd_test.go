package daemon_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/hdaguard/internal/daemon"
	"github.com/eliteGoblin/focusd/hdaguard/internal/domain"
	"github.com/eliteGoblin/focusd/hdaguard/internal/fixtures"
	"github.com/eliteGoblin/focusd/hdaguard/internal/infra"
	"github.com/eliteGoblin/focusd/hdaguard/internal/policy"
	"github.com/eliteGoblin/focusd/hdaguard/internal/usecase"
)

// passLog collects summaries from the reconciler.
type passLog struct {
	ch chan *domain.PassSummary
}

func (p *passLog) ObservePass(s *domain.PassSummary) {
	select {
	case p.ch <- s:
	default:
	}
}

var _ = Describe("Watchdog", func() {
	var (
		inventory  *fixtures.FakeInventory
		source     *fixtures.FakeEventSource
		passes     *passLog
		subscriber *daemon.Subscriber
		watchdog   *daemon.Watchdog
		cancel     context.CancelFunc
		done       chan error
		retry      daemon.RetryConfig

		pollInterval time.Duration
	)

	build := func() {
		passes = &passLog{ch: make(chan *domain.PassSummary, 256)}
		reconciler := usecase.NewReconciler(inventory, policy.Default(), zap.NewNop(), passes)
		subscriber = daemon.NewSubscriber(source, reconciler, retry, zap.NewNop())
		watchdog = daemon.NewWatchdog(
			daemon.WatchdogConfig{PollInterval: pollInterval, AppVersion: "test"},
			reconciler, subscriber, infra.NewProcessManager(), zap.NewNop())
	}

	start := func() {
		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		done = make(chan error, 1)
		go func() { done <- watchdog.Run(ctx) }()
	}

	nextPass := func(trigger domain.PassTrigger) *domain.PassSummary {
		var found *domain.PassSummary
		Eventually(func() bool {
			for {
				select {
				case s := <-passes.ch:
					if s.Trigger == trigger {
						found = s
						return true
					}
				default:
					return false
				}
			}
		}, 2*time.Second, 5*time.Millisecond).Should(BeTrue())
		return found
	}

	BeforeEach(func() {
		inventory = fixtures.NewFakeInventory(
			fixtures.NVIDIAAudio("HDAUDIO\\FUNC_01&VEN_10DE&DEV_0083\\A", "Monitor A"),
			domain.Device{ID: "HDAUDIO\\FUNC_01&VEN_10EC\\R", DisplayName: "Realtek High Definition Audio", Status: domain.StatusEnabled},
		)
		source = fixtures.NewFakeEventSource()
		pollInterval = 30 * time.Millisecond
		retry = daemon.RetryConfig{
			MaxRetries:        3,
			RetryInterval:     10 * time.Millisecond,
			LongRetryInterval: 500 * time.Millisecond,
		}
	})

	AfterEach(func() {
		if cancel != nil {
			cancel()
			Eventually(done, 2*time.Second).Should(Receive(BeNil()))
		}
	})

	Describe("startup", func() {
		It("disables enabled outputs with a forced pass before anything else", func() {
			build()
			start()

			summary := nextPass(domain.TriggerStartup)
			Expect(summary.Forced).To(BeTrue())
			Expect(summary.Disabled).To(Equal(1))
			Expect(inventory.Status("HDAUDIO\\FUNC_01&VEN_10DE&DEV_0083\\A")).To(Equal(domain.StatusDisabled))
			Expect(inventory.Status("HDAUDIO\\FUNC_01&VEN_10EC\\R")).To(Equal(domain.StatusEnabled))
		})
	})

	Describe("device change notifications", func() {
		Context("when a new output appears", func() {
			It("disables it from the event without waiting for the poll", func() {
				pollInterval = time.Hour
				build()
				start()
				nextPass(domain.TriggerStartup)
				Eventually(func() domain.SubscriberPhase { return subscriber.State().Phase }, time.Second).
					Should(Equal(domain.PhaseActive))

				inventory.Add(fixtures.NVIDIAAudio("B", "Monitor B"))
				Expect(source.Emit(domain.DeviceEvent{Action: "add", Source: "test"})).To(BeTrue())

				Expect(inventory.Status("B")).To(Equal(domain.StatusDisabled))
				summary := nextPass(domain.TriggerEvent)
				Expect(summary.Forced).To(BeFalse())
				Expect(summary.Disabled).To(Equal(1))
				Expect(summary.AlreadyCompliant).To(Equal(1))
			})
		})

		Context("when the subscription silently dies", func() {
			It("registers again on the next cycle", func() {
				build()
				start()
				Eventually(func() domain.SubscriberPhase { return subscriber.State().Phase }, time.Second).
					Should(Equal(domain.PhaseActive))

				first := source.Current()
				first.Drop()

				Eventually(func() int { return len(source.Subscriptions()) }, time.Second).Should(Equal(2))
				Expect(first.Closed()).To(BeTrue())
				Eventually(func() domain.SubscriberPhase { return subscriber.State().Phase }, time.Second).
					Should(Equal(domain.PhaseActive))
			})
		})

		Context("when registration keeps failing", func() {
			It("stops after the retry bound, backs off, and keeps polling meanwhile", func() {
				source.FailNext(4)
				build()
				start()

				Eventually(func() domain.SubscriberPhase { return subscriber.State().Phase }, time.Second).
					Should(Equal(domain.PhaseBackoffWait))
				Expect(source.Attempts()).To(Equal(4))

				inventory.SetStatus("HDAUDIO\\FUNC_01&VEN_10DE&DEV_0083\\A", domain.StatusEnabled)
				Eventually(func() domain.DeviceStatus {
					return inventory.Status("HDAUDIO\\FUNC_01&VEN_10DE&DEV_0083\\A")
				}, time.Second).Should(Equal(domain.StatusDisabled))
				Expect(subscriber.State().Phase).To(Equal(domain.PhaseBackoffWait))
				Expect(source.Attempts()).To(Equal(4), "no attempts during the long backoff")

				Eventually(func() domain.SubscriberPhase { return subscriber.State().Phase }, 2*time.Second).
					Should(Equal(domain.PhaseActive))
				Expect(source.Attempts()).To(Equal(5))
			})
		})
	})

	Describe("polling", func() {
		It("re-disables an output the OS turned back on", func() {
			build()
			start()
			nextPass(domain.TriggerStartup)

			inventory.SetStatus("HDAUDIO\\FUNC_01&VEN_10DE&DEV_0083\\A", domain.StatusEnabled)

			Eventually(func() domain.DeviceStatus {
				return inventory.Status("HDAUDIO\\FUNC_01&VEN_10DE&DEV_0083\\A")
			}, time.Second).Should(Equal(domain.StatusDisabled))
		})

		It("survives enumeration failures and recovers on a later pass", func() {
			inventory.FailList(domain.NewAccessError("query Win32_PnPEntity", errors.New("RPC server unavailable")))
			build()
			start()

			summary := nextPass(domain.TriggerStartup)
			Expect(summary.Aborted()).To(BeTrue())
			Expect(inventory.DisableCalls()).To(BeEmpty())

			inventory.FailList(nil)
			Eventually(func() domain.DeviceStatus {
				return inventory.Status("HDAUDIO\\FUNC_01&VEN_10DE&DEV_0083\\A")
			}, time.Second).Should(Equal(domain.StatusDisabled))
		})

		It("makes no disable calls once everything is compliant", func() {
			build()
			start()
			nextPass(domain.TriggerStartup)
			calls := len(inventory.DisableCalls())

			summary := nextPass(domain.TriggerPoll)
			Expect(summary.Disabled).To(BeZero())
			Expect(summary.AlreadyCompliant).To(Equal(1))
			Expect(inventory.DisableCalls()).To(HaveLen(calls))
		})
	})

	Describe("shutdown", func() {
		It("returns promptly and releases the subscription", func() {
			build()
			start()
			Eventually(func() domain.SubscriberPhase { return subscriber.State().Phase }, time.Second).
				Should(Equal(domain.PhaseActive))

			cancel()
			Eventually(done, time.Second).Should(Receive(BeNil()))
			cancel = nil
			Expect(source.Current().Closed()).To(BeTrue())
		})
	})
})
