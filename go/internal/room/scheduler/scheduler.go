package scheduler

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ErrStopped is returned when scheduling on a stopped Scheduler
var ErrStopped = errors.New("scheduler stopped")

// Scheduler runs named periodic jobs off a clock. Each job runs on its own
// goroutine; a job never overlaps with itself.
type Scheduler struct {
	clock clockwork.Clock

	mu      sync.Mutex
	jobs    map[string]*job
	stopped bool
	wg      sync.WaitGroup
}

type job struct {
	ticker clockwork.Ticker
	done   chan struct{}
}

func New(clock clockwork.Clock) *Scheduler {
	return &Scheduler{
		clock: clock,
		jobs:  make(map[string]*job),
	}
}

// Every runs fn each interval until the job is cancelled. An existing job
// with the same name is cancelled first.
func (s *Scheduler) Every(name string, interval time.Duration, fn func()) error {
	if interval <= 0 {
		return errors.New("interval must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}

	j := &job{
		ticker: s.clock.NewTicker(interval),
		done:   make(chan struct{}),
	}
	s.replaceJob(name, j)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-j.done:
				return
			case <-j.ticker.Chan():
				select {
				case <-j.done:
					return
				default:
				}
				fn()
			}
		}
	}()

	log.Debug().Str("job", name).Dur("interval", interval).Msg("scheduled periodic job")
	return nil
}

// replaceJob must be called with mu held.
func (s *Scheduler) replaceJob(name string, j *job) {
	if existing, ok := s.jobs[name]; ok {
		existing.stop()
		log.Debug().Str("job", name).Msg("replaced existing job")
	}
	s.jobs[name] = j
}

// Cancel stops the named job. It does not wait for a run in progress.
func (s *Scheduler) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j, ok := s.jobs[name]; ok {
		j.stop()
		delete(s.jobs, name)
		log.Debug().Str("job", name).Msg("cancelled job")
	}
}

// Stop cancels every job and waits for their goroutines to exit.
// It must not be called from inside a job.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for name, j := range s.jobs {
		j.stop()
		delete(s.jobs, name)
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// Jobs returns the names of active jobs, sorted.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (j *job) stop() {
	j.ticker.Stop()
	close(j.done)
}
