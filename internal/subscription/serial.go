package subscription

import "sync"

// Serial runs submitted functions one at a time in submission order.
//
// The submitting goroutine runs the work itself unless another goroutine is
// already draining, in which case the work is queued for that goroutine. Work
// submitted from inside running work is queued and runs after it returns, so
// callbacks may safely re-enter.
type Serial struct {
	mu       sync.Mutex
	queue    []func()
	draining bool
}

// Do runs fn now or queues it behind work already in progress.
func (s *Serial) Do(fn func()) {
	s.mu.Lock()
	s.queue = append(s.queue, fn)
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	s.mu.Unlock()

	s.drain()
}

func (s *Serial) drain() {
	done := false
	defer func() {
		if done {
			return
		}
		// fn panicked; release the queue so the next Do can drain what is left
		s.mu.Lock()
		s.draining = false
		s.mu.Unlock()
	}()

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.draining = false
			s.mu.Unlock()
			done = true
			return
		}
		next := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		next()
	}
}
