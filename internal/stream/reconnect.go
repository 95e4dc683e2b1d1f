package stream

import (
	"sync"
	"time"
)

const defaultReconnectDelay = 5 * time.Second

// reconnectScheduler arms at most one pending retry at a time. Scheduling
// while a retry is pending cancels the previous timer first, so retries
// never stack.
type reconnectScheduler struct {
	mu    sync.Mutex
	delay time.Duration
	timer *time.Timer
}

func newReconnectScheduler(delay time.Duration) *reconnectScheduler {
	if delay <= 0 {
		delay = defaultReconnectDelay
	}
	return &reconnectScheduler{delay: delay}
}

// Schedule arms fn to run after the fixed delay, replacing any pending retry.
func (s *reconnectScheduler) Schedule(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.delay, func() {
		s.mu.Lock()
		s.timer = nil
		s.mu.Unlock()
		fn()
	})
}

// Cancel drops the pending retry, if any.
func (s *reconnectScheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Pending reports whether a retry is currently armed.
func (s *reconnectScheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}
