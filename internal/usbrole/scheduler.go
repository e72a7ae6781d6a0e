package usbrole

import (
	"sync"
	"time"
)

// scheduler runs one job at a time on its own goroutine, at most one run
// pending. Scheduling again before the pending run starts replaces it, so a
// burst of requests collapses into a single run at the last request plus
// the delay.
//
// A run that is already executing is never interrupted; a request made
// while it executes arms the next run.
type scheduler struct {
	run func()

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64 // bumped on every schedule; stale timers compare and drop
	armed   bool   // timer armed and not yet fired
	stopped bool

	ready chan struct{} // capacity 1, replace on full
	done  chan struct{}
	wg    sync.WaitGroup
}

func newScheduler(run func()) *scheduler {
	s := &scheduler{
		run:   run,
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}

	s.wg.Add(1)
	go s.loop()

	return s
}

// schedule (re)arms the job to run after delay. It never blocks on the job.
// Returns false once the scheduler is stopped.
func (s *scheduler) schedule(delay time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	// Drop a run that fired but has not started yet.
	select {
	case <-s.ready:
	default:
	}

	s.gen++
	if delay <= 0 {
		s.fireLocked()
		return true
	}

	gen := s.gen
	s.armed = true
	s.timer = time.AfterFunc(delay, func() {
		s.fire(gen)
	})

	return true
}

func (s *scheduler) fire(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || gen != s.gen {
		return
	}
	s.fireLocked()
}

func (s *scheduler) fireLocked() {
	s.timer = nil
	s.armed = false

	select {
	case s.ready <- struct{}{}:
	default:
	}
}

func (s *scheduler) loop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case <-s.ready:
			select {
			case <-s.done:
				return
			default:
			}
			s.run()
		}
	}
}

// pending reports whether a run is armed or queued but not started.
func (s *scheduler) pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed || len(s.ready) > 0
}

// stop cancels any pending run and waits for an executing run to return.
// Safe to call more than once.
func (s *scheduler) stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.armed = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	close(s.done)
	s.mu.Unlock()

	s.wg.Wait()
}
