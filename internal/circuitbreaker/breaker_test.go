package circuitbreaker_test

import (
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/driftwatch/internal/circuitbreaker"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errBoom = errors.New("boom")

func testConfig() circuitbreaker.Config {
	return circuitbreaker.Config{
		FailureThreshold: 0.5,
		Timeout:          30 * time.Second,
		WindowSize:       4,
		WindowDuration:   time.Minute,
		SuccessThreshold: 2,
	}
}

var _ = Describe("CircuitBreaker", func() {
	var (
		clock *fakeClock
		cb    *circuitbreaker.CircuitBreaker
	)

	BeforeEach(func() {
		clock = newFakeClock()
		var err error
		cb, err = circuitbreaker.New("pokemon", testConfig(), circuitbreaker.WithClock(clock.Now))
		Expect(err).NotTo(HaveOccurred())
	})

	trip := func() {
		for range 4 {
			cb.RecordFailure()
		}
		Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
	}

	Describe("New", func() {
		It("should start closed", func() {
			Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
			Expect(cb.StateValue()).To(Equal(0))
			Expect(cb.Name()).To(Equal("pokemon"))
		})

		It("should accept the default config", func() {
			_, err := circuitbreaker.New("x", circuitbreaker.DefaultConfig())
			Expect(err).NotTo(HaveOccurred())
		})

		DescribeTable("should reject invalid config",
			func(mutate func(*circuitbreaker.Config)) {
				cfg := testConfig()
				mutate(&cfg)
				_, err := circuitbreaker.New("x", cfg)
				Expect(err).To(MatchError(circuitbreaker.ErrInvalidConfig))
			},
			Entry("zero threshold", func(c *circuitbreaker.Config) { c.FailureThreshold = 0 }),
			Entry("threshold above one", func(c *circuitbreaker.Config) { c.FailureThreshold = 1.5 }),
			Entry("zero timeout", func(c *circuitbreaker.Config) { c.Timeout = 0 }),
			Entry("zero window size", func(c *circuitbreaker.Config) { c.WindowSize = 0 }),
			Entry("negative window duration", func(c *circuitbreaker.Config) { c.WindowDuration = -time.Second }),
			Entry("zero success threshold", func(c *circuitbreaker.Config) { c.SuccessThreshold = 0 }),
		)
	})

	Describe("State", func() {
		It("should render state names", func() {
			Expect(circuitbreaker.StateClosed.String()).To(Equal("CLOSED"))
			Expect(circuitbreaker.StateOpen.String()).To(Equal("OPEN"))
			Expect(circuitbreaker.StateHalfOpen.String()).To(Equal("HALF_OPEN"))
			Expect(circuitbreaker.State(9).String()).To(Equal("UNKNOWN"))
		})
	})

	Context("when CLOSED", func() {
		It("should not evaluate the rate below the window size", func() {
			for range 3 {
				cb.RecordFailure()
			}
			Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
			Expect(cb.FailureRate()).To(BeZero())
		})

		It("should open once the window is full and the rate reaches the threshold", func() {
			cb.RecordSuccess()
			cb.RecordSuccess()
			cb.RecordFailure()
			Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))

			cb.RecordFailure()
			Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
			Expect(cb.IsOpen()).To(BeTrue())
			Expect(cb.StateValue()).To(Equal(1))
		})

		It("should stay closed when the rate is below the threshold", func() {
			cb.RecordSuccess()
			cb.RecordSuccess()
			cb.RecordSuccess()
			cb.RecordFailure()
			Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
			Expect(cb.FailureRate()).To(BeNumerically("~", 0.25, 1e-9))
		})

		It("should evict outcomes older than the window", func() {
			for range 3 {
				cb.RecordFailure()
			}
			clock.Advance(time.Minute + time.Second)

			cb.RecordFailure()
			Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
			Expect(cb.Stats().Samples).To(Equal(1))
		})

		It("should keep outcomes exactly at the window boundary", func() {
			for range 3 {
				cb.RecordFailure()
			}
			clock.Advance(time.Minute)

			cb.RecordFailure()
			Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
		})

		It("should pass calls through", func() {
			called := false
			err := cb.Execute(func() error {
				called = true
				return nil
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(called).To(BeTrue())
			Expect(cb.Stats().Samples).To(Equal(1))
		})
	})

	Context("when OPEN", func() {
		BeforeEach(trip)

		It("should fail fast without invoking the call", func() {
			called := false
			err := cb.Execute(func() error {
				called = true
				return nil
			})
			Expect(err).To(MatchError(circuitbreaker.ErrCircuitOpen))
			Expect(called).To(BeFalse())
		})

		It("should mention the endpoint in the rejection", func() {
			err := cb.Allow()
			Expect(err).To(MatchError(ContainSubstring("pokemon")))
		})

		It("should stay open before the timeout", func() {
			clock.Advance(29 * time.Second)
			Expect(cb.Allow()).To(MatchError(circuitbreaker.ErrCircuitOpen))
			Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
		})

		It("should move to HALF_OPEN on the first call after the timeout", func() {
			clock.Advance(30 * time.Second)
			Expect(cb.IsOpen()).To(BeTrue())

			Expect(cb.Allow()).To(Succeed())
			Expect(cb.State()).To(Equal(circuitbreaker.StateHalfOpen))
			Expect(cb.StateValue()).To(Equal(2))
		})

		It("should not transition on pure reads", func() {
			clock.Advance(time.Hour)
			Expect(cb.IsOpen()).To(BeTrue())
			Expect(cb.StateValue()).To(Equal(1))
			Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
		})
	})

	Context("when HALF_OPEN", func() {
		BeforeEach(func() {
			trip()
			clock.Advance(30 * time.Second)
			Expect(cb.Allow()).To(Succeed())
		})

		It("should close after enough consecutive successes", func() {
			cb.RecordSuccess()
			Expect(cb.State()).To(Equal(circuitbreaker.StateHalfOpen))

			cb.RecordSuccess()
			Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
			Expect(cb.Stats().Samples).To(BeZero())
			Expect(cb.Stats().OpenedAt.IsZero()).To(BeTrue())
		})

		It("should reopen on any failure and restart the timeout", func() {
			cb.RecordSuccess()
			cb.RecordFailure()
			Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))

			clock.Advance(29 * time.Second)
			Expect(cb.Allow()).To(MatchError(circuitbreaker.ErrCircuitOpen))
			clock.Advance(time.Second)
			Expect(cb.Allow()).To(Succeed())
		})

		It("should require fresh successes after reopening", func() {
			cb.RecordSuccess()
			cb.RecordFailure()
			clock.Advance(30 * time.Second)
			Expect(cb.Allow()).To(Succeed())

			cb.RecordSuccess()
			Expect(cb.State()).To(Equal(circuitbreaker.StateHalfOpen))
		})
	})

	Describe("Call", func() {
		It("should return the call's value", func() {
			v, err := circuitbreaker.Call(cb, func() (int, error) { return 42, nil })
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(42))
		})

		It("should return the call's error unchanged", func() {
			_, err := circuitbreaker.Call(cb, func() (string, error) { return "", errBoom })
			Expect(err).To(BeIdenticalTo(errBoom))
			Expect(cb.Stats().Failures).To(Equal(1))
		})

		It("should return the zero value when open", func() {
			trip()
			v, err := circuitbreaker.Call(cb, func() (string, error) { return "nope", nil })
			Expect(err).To(MatchError(circuitbreaker.ErrCircuitOpen))
			Expect(v).To(BeEmpty())
		})
	})

	Describe("state change hook", func() {
		It("should report every transition", func() {
			var transitions []string
			var err error
			cb, err = circuitbreaker.New("pokemon", testConfig(),
				circuitbreaker.WithClock(clock.Now),
				circuitbreaker.WithStateChangeHook(func(name string, from, to circuitbreaker.State) {
					// Reading state from the hook must not deadlock.
					Expect(cb.State()).To(Equal(to))
					transitions = append(transitions, name+":"+from.String()+"->"+to.String())
				}),
			)
			Expect(err).NotTo(HaveOccurred())

			trip()
			clock.Advance(30 * time.Second)
			Expect(cb.Allow()).To(Succeed())
			cb.RecordSuccess()
			cb.RecordSuccess()

			Expect(transitions).To(Equal([]string{
				"pokemon:CLOSED->OPEN",
				"pokemon:OPEN->HALF_OPEN",
				"pokemon:HALF_OPEN->CLOSED",
			}))
		})
	})

	Describe("Reset", func() {
		It("should close the circuit and drop history", func() {
			trip()
			cb.Reset()
			Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
			Expect(cb.Stats().Samples).To(BeZero())
			Expect(cb.Allow()).To(Succeed())
		})
	})

	Describe("properties", func() {
		It("should stay CLOSED after a failure only when the window is short or the rate is below threshold", func() {
			rng := rand.New(rand.NewSource(7))
			cfg := testConfig()

			for range 2000 {
				clock.Advance(time.Duration(rng.Intn(5000)) * time.Millisecond)

				if cb.Allow() != nil {
					Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
					continue
				}
				before := cb.State()
				failed := rng.Float64() < 0.45
				if !failed {
					cb.RecordSuccess()
					continue
				}
				cb.RecordFailure()

				stats := cb.Stats()
				if before == circuitbreaker.StateClosed && stats.State == circuitbreaker.StateClosed {
					Expect(stats.Samples < cfg.WindowSize || stats.FailureRate < cfg.FailureThreshold).To(BeTrue())
				}
				if before == circuitbreaker.StateHalfOpen {
					Expect(stats.State).To(Equal(circuitbreaker.StateOpen))
				}
			}
		})

		It("should never invoke a call while OPEN", func() {
			trip()
			var calls atomic.Int32
			for range 10 {
				clock.Advance(2 * time.Second)
				_ = cb.Execute(func() error {
					calls.Add(1)
					return errBoom
				})
			}
			Expect(calls.Load()).To(BeZero())

			// First call past the timeout is the probe; its failure reopens the circuit.
			clock.Advance(15 * time.Second)
			_ = cb.Execute(func() error {
				calls.Add(1)
				return errBoom
			})
			Expect(calls.Load()).To(Equal(int32(1)))
			Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
		})
	})

	Describe("concurrency", func() {
		It("should be safe for concurrent callers", func() {
			real, err := circuitbreaker.New("real", circuitbreaker.DefaultConfig())
			Expect(err).NotTo(HaveOccurred())

			var wg sync.WaitGroup
			for i := range 50 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_ = real.Execute(func() error {
						if i%3 == 0 {
							return errBoom
						}
						return nil
					})
					_ = real.Stats()
				}()
			}
			wg.Wait()
			Expect(real.Stats().Samples).To(BeNumerically("<=", 50))
		})

		It("should not hold the lock while Execute runs the wrapped function", func() {
			cb, err := circuitbreaker.New("reentrant", circuitbreaker.DefaultConfig())
			Expect(err).NotTo(HaveOccurred())

			done := make(chan error, 1)
			go func() {
				done <- cb.Execute(func() error {
					_ = cb.Stats()
					_ = cb.State()
					_ = cb.FailureRate()
					return nil
				})
			}()

			Eventually(done, time.Second).Should(Receive(BeNil()))
			Expect(cb.Stats().Samples).To(Equal(1))
		})

		It("should not hold the lock while Call runs the wrapped function", func() {
			cb, err := circuitbreaker.New("reentrant", circuitbreaker.DefaultConfig())
			Expect(err).NotTo(HaveOccurred())

			type outcome struct {
				state circuitbreaker.State
				err   error
			}
			done := make(chan outcome, 1)
			go func() {
				state, err := circuitbreaker.Call(cb, func() (circuitbreaker.State, error) {
					return cb.Stats().State, nil
				})
				done <- outcome{state: state, err: err}
			}()

			var got outcome
			Eventually(done, time.Second).Should(Receive(&got))
			Expect(got.err).NotTo(HaveOccurred())
			Expect(got.state).To(Equal(circuitbreaker.StateClosed))
		})
	})
})
