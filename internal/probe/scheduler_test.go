package probe_test

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/driftwatch/internal/probe"
)

type countingProber struct {
	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
	mutex    sync.Mutex
	probed   []probe.Target
}

func (p *countingProber) Probe(ctx context.Context, t probe.Target) (probe.Result, error) {
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	time.Sleep(p.delay)

	p.mutex.Lock()
	p.probed = append(p.probed, t)
	p.mutex.Unlock()

	return probe.Result{Target: t, RunID: t.Path()}, nil
}

func (p *countingProber) count() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.probed)
}

var _ = Describe("Scheduler", func() {
	var (
		log     *slog.Logger
		prober  *countingProber
		targets []probe.Target
	)

	BeforeEach(func() {
		log = slog.New(slog.DiscardHandler)
		prober = &countingProber{delay: 10 * time.Millisecond}
		targets = []probe.Target{
			{Endpoint: "pokemon", ResourceID: "1"},
			{Endpoint: "pokemon", ResourceID: "2"},
			{Endpoint: "type", ResourceID: "1"},
			{Endpoint: "ability", ResourceID: "1"},
		}
	})

	Describe("NewScheduler", func() {
		It("should reject an empty target list", func() {
			_, err := probe.NewScheduler(prober, nil, time.Second, 1, log)
			Expect(err).To(HaveOccurred())
		})

		It("should reject a non-positive interval", func() {
			_, err := probe.NewScheduler(prober, targets, 0, 1, log)
			Expect(err).To(HaveOccurred())
		})

		It("should reject zero workers", func() {
			_, err := probe.NewScheduler(prober, targets, time.Second, 0, log)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("RunOnce", func() {
		It("should return results in target order", func() {
			s, err := probe.NewScheduler(prober, targets, time.Second, 4, log)
			Expect(err).NotTo(HaveOccurred())

			results := s.RunOnce(context.Background())
			Expect(results).To(HaveLen(len(targets)))
			for i, r := range results {
				Expect(r.Target).To(Equal(targets[i]))
			}
		})

		It("should bound concurrent probes", func() {
			s, err := probe.NewScheduler(prober, targets, time.Second, 2, log)
			Expect(err).NotTo(HaveOccurred())

			s.RunOnce(context.Background())
			Expect(prober.peak.Load()).To(BeNumerically("<=", 2))
			Expect(prober.count()).To(Equal(len(targets)))
		})

		It("should skip remaining targets once cancelled", func() {
			s, err := probe.NewScheduler(prober, targets, time.Second, 1, log)
			Expect(err).NotTo(HaveOccurred())

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			results := s.RunOnce(ctx)
			for _, r := range results {
				Expect(r.Skipped).To(BeTrue())
			}
			Expect(prober.count()).To(BeZero())
		})
	})

	Describe("Run", func() {
		It("should probe immediately and then on every tick", func() {
			s, err := probe.NewScheduler(prober, targets[:1], 50*time.Millisecond, 1, log)
			Expect(err).NotTo(HaveOccurred())

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				defer close(done)
				s.Run(ctx)
			}()

			Eventually(prober.count).Should(BeNumerically(">=", 1))
			Eventually(prober.count, time.Second).Should(BeNumerically(">=", 3))

			cancel()
			Eventually(done).Should(BeClosed())
		})
	})
})
