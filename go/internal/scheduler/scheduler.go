// Package scheduler provides cancellable one-shot and repeating tasks on a
// clockwork clock, plus a keyed registry that replaces a task scheduled under
// the same key.
package scheduler

import (
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Task is a handle on a scheduled function. Stop is safe to call any number of times.
type Task struct {
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newTask() *Task {
	return &Task{stop: make(chan struct{}), done: make(chan struct{})}
}

// Stop cancels the task. A run already in progress finishes; no further runs start.
func (t *Task) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

// Done is closed once the task goroutine has exited.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

func (t *Task) stopped() bool {
	select {
	case <-t.stop:
		return true
	default:
		return false
	}
}

// After runs fn once after d.
func After(clock clockwork.Clock, d time.Duration, fn func()) *Task {
	t := newTask()
	runOnce(clock, d, t, fn)
	return t
}

// Every runs fn every d until stopped.
func Every(clock clockwork.Clock, d time.Duration, fn func()) *Task {
	t := newTask()
	runEvery(clock, d, t, fn)
	return t
}

func runOnce(clock clockwork.Clock, d time.Duration, t *Task, fn func()) {
	timer := clock.NewTimer(d)
	go func() {
		defer close(t.done)
		select {
		case <-timer.Chan():
			if t.stopped() {
				return
			}
			safeRun(fn)
		case <-t.stop:
			stopAndDrainTimer(timer)
		}
	}()
}

func runEvery(clock clockwork.Clock, d time.Duration, t *Task, fn func()) {
	ticker := clock.NewTicker(d)
	go func() {
		defer close(t.done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				if t.stopped() {
					return
				}
				safeRun(fn)
			case <-t.stop:
				return
			}
		}
	}()
}

// safeRun keeps one panicking callback from killing the process.
func safeRun(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("scheduled task panicked")
		}
	}()
	fn()
}

// stopAndDrainTimer stops a timer and drains its channel if it already fired.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}

// Scheduler tracks tasks by key. Scheduling under a key that already has a
// task stops the old one first.
type Scheduler struct {
	clock clockwork.Clock
	mu    sync.Mutex
	tasks map[string]*Task
}

// New creates a Scheduler. A nil clock uses the real clock.
func New(clock clockwork.Clock) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{clock: clock, tasks: make(map[string]*Task)}
}

// Clock returns the scheduler's clock.
func (s *Scheduler) Clock() clockwork.Clock {
	return s.clock
}

// ScheduleOnce runs fn once after d under key. The key is released when the task fires.
func (s *Scheduler) ScheduleOnce(key string, d time.Duration, fn func()) *Task {
	t := newTask()
	s.replace(key, t)
	runOnce(s.clock, d, t, func() {
		s.release(key, t)
		fn()
	})
	log.Debug().Str("key", key).Dur("delay", d).Msg("scheduled one-shot task")
	return t
}

// ScheduleEvery runs fn every d under key until cancelled.
func (s *Scheduler) ScheduleEvery(key string, d time.Duration, fn func()) *Task {
	t := newTask()
	s.replace(key, t)
	runEvery(s.clock, d, t, fn)
	log.Debug().Str("key", key).Dur("interval", d).Msg("scheduled repeating task")
	return t
}

// Cancel stops the task under key. It reports whether one existed.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	t, ok := s.tasks[key]
	delete(s.tasks, key)
	s.mu.Unlock()
	if ok {
		t.Stop()
		log.Debug().Str("key", key).Msg("cancelled task")
	}
	return ok
}

// CancelPrefix stops every task whose key starts with prefix and returns how many it stopped.
func (s *Scheduler) CancelPrefix(prefix string) int {
	s.mu.Lock()
	var stopped []*Task
	for key, t := range s.tasks {
		if strings.HasPrefix(key, prefix) {
			stopped = append(stopped, t)
			delete(s.tasks, key)
		}
	}
	s.mu.Unlock()
	for _, t := range stopped {
		t.Stop()
	}
	return len(stopped)
}

// CancelAll stops every tracked task.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = make(map[string]*Task)
	s.mu.Unlock()
	for _, t := range tasks {
		t.Stop()
	}
}

// Active reports whether a task is scheduled under key.
func (s *Scheduler) Active(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[key]
	return ok
}

// Len returns the number of tracked tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *Scheduler) replace(key string, t *Task) {
	s.mu.Lock()
	old, ok := s.tasks[key]
	s.tasks[key] = t
	s.mu.Unlock()
	if ok {
		old.Stop()
		log.Debug().Str("key", key).Msg("replaced existing task")
	}
}

// release drops key only if it still points at t.
func (s *Scheduler) release(key string, t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tasks[key] == t {
		delete(s.tasks, key)
	}
}
