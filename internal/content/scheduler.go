package content

import (
	"sync"
	"time"
)

// Scheduler is the timer abstraction behind debounced persistence. Keeping
// it behind an interface makes the coalescing and last-write-wins behaviour
// testable without real timers.
type Scheduler interface {
	// Schedule replaces any task already queued under key.
	Schedule(key string, delay time.Duration, fn func())
	// Cancel synchronously drops a queued task; reports whether one existed.
	Cancel(key string) bool
	// Flush runs a queued task immediately instead of waiting out the delay.
	Flush(key string) bool
}

type scheduledTask struct {
	timer *time.Timer
	fn    func()
}

// TimerScheduler is the production Scheduler backed by time.AfterFunc.
type TimerScheduler struct {
	mu    sync.Mutex
	tasks map[string]*scheduledTask
}

func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{tasks: make(map[string]*scheduledTask)}
}

func (s *TimerScheduler) Schedule(key string, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.tasks[key]; ok {
		existing.timer.Stop()
	}
	task := &scheduledTask{fn: fn}
	task.timer = time.AfterFunc(delay, func() {
		s.fire(key, task)
	})
	s.tasks[key] = task
}

func (s *TimerScheduler) fire(key string, task *scheduledTask) {
	s.mu.Lock()
	current, ok := s.tasks[key]
	if !ok || current != task {
		// Superseded or canceled after the timer fired.
		s.mu.Unlock()
		return
	}
	delete(s.tasks, key)
	s.mu.Unlock()
	task.fn()
}

func (s *TimerScheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[key]
	if !ok {
		return false
	}
	task.timer.Stop()
	delete(s.tasks, key)
	return true
}

func (s *TimerScheduler) Flush(key string) bool {
	s.mu.Lock()
	task, ok := s.tasks[key]
	if !ok {
		s.mu.Unlock()
		return false
	}
	task.timer.Stop()
	delete(s.tasks, key)
	s.mu.Unlock()
	task.fn()
	return true
}

// Stop cancels every queued task.
func (s *TimerScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, task := range s.tasks {
		task.timer.Stop()
		delete(s.tasks, key)
	}
}
