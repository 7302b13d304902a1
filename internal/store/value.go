// Package store exposes telemetry topics as observable values.
//
// A Value holds the latest value and calls every observer when it changes. A Store
// is a Value backed by an arena topic: the first observer attaches the topic and
// the last one detaches it.
package store

import (
	"sync"

	"github.com/smazurov/racewire/internal/subscription"
)

// StartFunc runs when a Value gains its first observer. It may call set at any
// time until the returned stop function runs.
type StartFunc[T any] func(set func(T)) (stop func())

type observer[T any] struct {
	fn     func(T)
	primed bool
	active bool
}

// Value is an observable value. Observers are called one at a time in the order
// values were set; there is no coalescing and no equality check.
type Value[T any] struct {
	start StartFunc[T]

	// lifecycle serializes start and stop
	lifecycle sync.Mutex
	stop      func()

	mu        sync.Mutex
	value     T
	observers []*observer[T]

	serial subscription.Serial
}

// NewValue creates a Value holding initial. start may be nil.
func NewValue[T any](initial T, start StartFunc[T]) *Value[T] {
	return &Value[T]{value: initial, start: start}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.value
}

// Set stores x and notifies every observer.
func (v *Value[T]) Set(x T) {
	v.serial.Do(func() {
		v.mu.Lock()
		v.value = x
		fns := make([]func(T), 0, len(v.observers))
		for _, o := range v.observers {
			o.primed = true
			fns = append(fns, o.fn)
		}
		v.mu.Unlock()

		for _, fn := range fns {
			fn(x)
		}
	})
}

// Subscribe registers fn and calls it with the current value before returning,
// unless another goroutine is notifying observers, in which case it runs right
// after that. The returned function unsubscribes and is idempotent.
func (v *Value[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	o := &observer[T]{fn: fn, active: true}

	v.lifecycle.Lock()
	v.mu.Lock()
	v.observers = append(v.observers, o)
	first := len(v.observers) == 1
	v.mu.Unlock()

	if !first || v.start == nil {
		v.lifecycle.Unlock()
		v.serial.Do(func() { v.prime(o) })
		return v.unsubscriber(o)
	}

	// Values set while start runs are delivered after lifecycle is released.
	held := &heldSets[T]{holding: true}
	v.stop = v.start(func(x T) {
		if !held.add(x) {
			v.Set(x)
		}
	})
	v.lifecycle.Unlock()

	for {
		x, ok := held.next()
		if !ok {
			break
		}
		v.Set(x)
	}
	v.serial.Do(func() { v.prime(o) })
	return v.unsubscriber(o)
}

func (v *Value[T]) unsubscriber(o *observer[T]) func() {
	var once sync.Once
	return func() {
		once.Do(func() { v.unsubscribe(o) })
	}
}

// heldSets queues values until start returns.
type heldSets[T any] struct {
	mu      sync.Mutex
	holding bool
	pending []T
}

// add queues x and reports true while values are being held.
func (h *heldSets[T]) add(x T) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.holding {
		h.pending = append(h.pending, x)
	}
	return h.holding
}

// next pops the oldest held value. Once the queue is empty, holding stops and
// later values go straight to the Value.
func (h *heldSets[T]) next() (T, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.pending) == 0 {
		h.holding = false
		var zero T
		return zero, false
	}
	x := h.pending[0]
	h.pending = h.pending[1:]
	return x, true
}

// Observers returns the number of subscribed observers.
func (v *Value[T]) Observers() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.observers)
}

func (v *Value[T]) prime(o *observer[T]) {
	v.mu.Lock()
	if o.primed || !o.active {
		v.mu.Unlock()
		return
	}
	o.primed = true
	x := v.value
	v.mu.Unlock()

	o.fn(x)
}

func (v *Value[T]) unsubscribe(o *observer[T]) {
	v.lifecycle.Lock()
	defer v.lifecycle.Unlock()

	v.mu.Lock()
	o.active = false
	for i, candidate := range v.observers {
		if candidate == o {
			v.observers = append(v.observers[:i], v.observers[i+1:]...)
			break
		}
	}
	last := len(v.observers) == 0
	v.mu.Unlock()

	if last && v.stop != nil {
		stop := v.stop
		v.stop = nil
		stop()
	}
}
