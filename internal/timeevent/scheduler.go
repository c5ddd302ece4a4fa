// Package timeevent emits periodic elapsed-time and boundary-crossing
// notifications while playback is observed.
package timeevent

import (
	"slices"
	"sync"
	"time"

	"github.com/llehouerou/wavestream/internal/dispatch"
)

// DefaultInterval is used when no positive interval is configured.
const DefaultInterval = time.Second

// Handler receives scheduler notifications. Nil fields are ignored.
type Handler struct {
	Elapsed  func(position time.Duration)
	Boundary func(boundary time.Duration)
}

// Scheduler polls a clock on a fixed interval. Notifications are delivered
// through the executor, so they land on the caller's serialized context.
type Scheduler struct {
	clock   func() time.Duration
	exec    dispatch.Executor
	handler Handler

	mu         sync.Mutex
	interval   time.Duration
	boundaries []time.Duration
	last       time.Duration
	stop       chan struct{}
	done       chan struct{}
	reset      chan time.Duration
}

// New creates a stopped scheduler.
func New(interval time.Duration, clock func() time.Duration, exec dispatch.Executor, h Handler) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		clock:    clock,
		exec:     exec,
		handler:  h,
		interval: interval,
	}
}

// Start begins ticking. It is a no-op if already running.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.reset = make(chan time.Duration, 1)
	s.last = s.clock()
	go s.run(s.interval, s.stop, s.done, s.reset)
}

// Stop halts ticking and waits for the ticker goroutine to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done, s.reset = nil, nil, nil
	s.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Running reports whether the scheduler is ticking.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop != nil
}

// SetInterval changes the tick interval, taking effect immediately.
func (s *Scheduler) SetInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultInterval
	}
	s.mu.Lock()
	s.interval = d
	reset := s.reset
	s.mu.Unlock()
	if reset != nil {
		select {
		case <-reset:
		default:
		}
		reset <- d
	}
}

// Interval returns the tick interval.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// SetBoundaries replaces the boundary times.
func (s *Scheduler) SetBoundaries(b []time.Duration) {
	sorted := slices.Clone(b)
	slices.Sort(sorted)
	s.mu.Lock()
	s.boundaries = sorted
	s.mu.Unlock()
}

// Sync sets the reference position without emitting anything, so that a
// seek does not count as crossing the boundaries it jumped over.
func (s *Scheduler) Sync(position time.Duration) {
	s.mu.Lock()
	s.last = position
	s.mu.Unlock()
}

func (s *Scheduler) run(interval time.Duration, stop, done chan struct{}, reset chan time.Duration) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.tick()
		case d := <-reset:
			ticker.Reset(d)
		case <-stop:
			return
		}
	}
}

func (s *Scheduler) tick() {
	pos := s.clock()

	s.mu.Lock()
	prev := s.last
	s.last = pos
	var crossed []time.Duration
	for _, b := range s.boundaries {
		if prev < b && b <= pos {
			crossed = append(crossed, b)
		}
	}
	s.mu.Unlock()

	for _, b := range crossed {
		if s.handler.Boundary != nil {
			s.exec.Post(func() { s.handler.Boundary(b) })
		}
	}
	if s.handler.Elapsed != nil {
		s.exec.Post(func() { s.handler.Elapsed(pos) })
	}
}
