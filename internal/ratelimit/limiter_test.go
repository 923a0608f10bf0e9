package ratelimit_test

import (
	"context"
	"math/rand"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/driftwatch/internal/ratelimit"
)

type fakeClock struct {
	mutex  sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mutex.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	c.mutex.Unlock()
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([]time.Duration{}, c.sleeps...)
}

var _ = Describe("Limiter", func() {
	var (
		clock   *fakeClock
		limiter *ratelimit.Limiter
	)

	newLimiter := func(maxRequests int, window time.Duration) *ratelimit.Limiter {
		l, err := ratelimit.New(maxRequests, window,
			ratelimit.WithClock(clock.Now),
			ratelimit.WithSleeper(clock.Sleep),
		)
		Expect(err).NotTo(HaveOccurred())
		return l
	}

	BeforeEach(func() {
		clock = newFakeClock()
		limiter = newLimiter(10, 10*time.Second)
	})

	Describe("New", func() {
		It("should start with a full bucket", func() {
			Expect(limiter.Capacity()).To(Equal(10.0))
			Expect(limiter.AvailableTokens()).To(Equal(10.0))
			Expect(limiter.RefillRate()).To(BeNumerically("~", 1.0, 1e-9))
		})

		It("should reject a non-positive request budget", func() {
			_, err := ratelimit.New(0, time.Second)
			Expect(err).To(MatchError(ratelimit.ErrInvalidConfig))
		})

		It("should reject a non-positive window", func() {
			_, err := ratelimit.New(5, 0)
			Expect(err).To(MatchError(ratelimit.ErrInvalidConfig))
		})
	})

	Describe("Acquire", func() {
		It("should allow a burst up to capacity without waiting", func() {
			for i := 0; i < 10; i++ {
				limiter.Acquire()
			}
			Expect(clock.Sleeps()).To(BeEmpty())
			Expect(limiter.AvailableTokens()).To(BeNumerically("~", 0, 1e-9))
		})

		It("should wait exactly one refill interval once the bucket is empty", func() {
			for i := 0; i < 10; i++ {
				limiter.Acquire()
			}

			limiter.Acquire()

			Expect(clock.Sleeps()).To(Equal([]time.Duration{time.Second}))
			Expect(limiter.AvailableTokens()).To(BeNumerically("~", 0, 1e-9))
		})

		It("should only wait for the missing fraction of a token", func() {
			for i := 0; i < 10; i++ {
				limiter.Acquire()
			}
			clock.Advance(400 * time.Millisecond)
			Expect(limiter.AvailableTokens()).To(BeNumerically("~", 0.4, 1e-9))

			limiter.Acquire()

			Expect(clock.Sleeps()).To(HaveLen(1))
			Expect(clock.Sleeps()[0]).To(BeNumerically("~", 600*time.Millisecond, time.Microsecond))
		})

		It("should never accrue more than capacity", func() {
			limiter.Acquire()
			clock.Advance(time.Hour)
			Expect(limiter.AvailableTokens()).To(Equal(10.0))
		})

		It("should re-check the bucket after waking", func() {
			var l *ratelimit.Limiter
			stolen := false
			sleeper := func(ctx context.Context, d time.Duration) error {
				_ = clock.Sleep(ctx, d)
				if !stolen {
					stolen = true
					// Another caller takes the token that accrued during the wait.
					l.Acquire()
				}
				return nil
			}

			var err error
			l, err = ratelimit.New(1, time.Second,
				ratelimit.WithClock(clock.Now),
				ratelimit.WithSleeper(sleeper),
			)
			Expect(err).NotTo(HaveOccurred())

			l.Acquire()
			l.Acquire()

			Expect(clock.Sleeps()).To(Equal([]time.Duration{time.Second, time.Second}))
		})
	})

	Describe("Wait", func() {
		It("should return the context error without consuming a token", func() {
			for i := 0; i < 10; i++ {
				limiter.Acquire()
			}
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			err := limiter.Wait(ctx)
			Expect(err).To(MatchError(context.Canceled))
			Expect(limiter.AvailableTokens()).To(BeNumerically("~", 0, 1e-9))
		})

		It("should give up when the real sleeper is cancelled mid-wait", func() {
			l, err := ratelimit.New(1, time.Hour)
			Expect(err).NotTo(HaveOccurred())
			l.Acquire()

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()

			Expect(l.Wait(ctx)).To(MatchError(context.DeadlineExceeded))
		})
	})

	Describe("Reset", func() {
		It("should restore full capacity immediately", func() {
			for i := 0; i < 7; i++ {
				limiter.Acquire()
			}
			limiter.Reset()
			Expect(limiter.AvailableTokens()).To(Equal(10.0))
		})
	})

	Describe("Properties", func() {
		It("should keep tokens within [0, capacity] for any acquire/idle sequence", func() {
			rng := rand.New(rand.NewSource(42))
			for i := 0; i < 500; i++ {
				if rng.Intn(3) == 0 {
					clock.Advance(time.Duration(rng.Intn(3000)) * time.Millisecond)
				} else {
					limiter.Acquire()
				}
				tokens := limiter.AvailableTokens()
				Expect(tokens).To(BeNumerically(">=", 0))
				Expect(tokens).To(BeNumerically("<=", limiter.Capacity()))
			}
		})

		It("should bound consumption by capacity plus refill over a busy window", func() {
			const window = 30 * time.Second
			start := clock.Now()
			consumed := 0
			for {
				limiter.Acquire()
				if clock.Now().Sub(start) > window {
					break
				}
				consumed++
			}

			bound := limiter.Capacity() + window.Seconds()*limiter.RefillRate()
			Expect(float64(consumed)).To(BeNumerically("<=", bound))
			Expect(float64(consumed)).To(BeNumerically(">=", bound-1))
		})
	})

	Describe("Concurrent access", func() {
		It("should serve all waiters at the refill rate", func() {
			l, err := ratelimit.New(5, 100*time.Millisecond)
			Expect(err).NotTo(HaveOccurred())

			const callers = 10
			var wg sync.WaitGroup
			wg.Add(callers)
			start := time.Now()
			for i := 0; i < callers; i++ {
				go func() {
					defer wg.Done()
					l.Acquire()
				}()
			}
			wg.Wait()

			// Five tokens are available up front, the other five refill at 50/s.
			Expect(time.Since(start)).To(BeNumerically(">=", 80*time.Millisecond))
			Expect(l.AvailableTokens()).To(BeNumerically("<", 1))
		})
	})
})
