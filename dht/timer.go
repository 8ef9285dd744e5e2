package dht

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Clock abstracts the current time so lookups, ping-freshness checks and
// the replicate/expire predicates can be driven deterministically in
// tests. The Scheduler below does not use it: it waits on real timers
// from the time package.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by the standard library.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// convoyJitter returns a uniformly random extra delay in [0, max), the
// "prevent convoy" behavior of spec.md §4.7/§9: periodic timers fire
// after a random additional sub-delay so a fleet of nodes started
// together doesn't hammer the network in lockstep.
func convoyJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max)))
}

// Scheduler re-arms a jittered periodic callback: each firing is
// interval + Uniform(0, jitter) after the previous one, edge-triggered
// rather than interval-accumulating (a slow callback delays the next
// firing instead of double-firing to catch up).
type Scheduler struct {
	interval time.Duration
	jitter   time.Duration
	fn       func(context.Context)
	name     string

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a scheduler that calls fn roughly every interval,
// with up to jitter of extra random delay added to each firing.
func NewScheduler(name string, interval, jitter time.Duration, fn func(context.Context)) *Scheduler {
	return &Scheduler{name: name, interval: interval, jitter: jitter, fn: fn}
}

// Start begins firing fn on a background goroutine until ctx is
// cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(runCtx)
}

// Stop halts the scheduler and waits for its goroutine to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	for {
		delay := s.interval + convoyJitter(s.jitter)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		logrus.WithFields(logrus.Fields{"scheduler": s.name}).Debug("firing maintenance task")
		s.fn(ctx)
	}
}
