package fanout

import (
	"sync"

	"streamflow/internal/codec"
	"streamflow/logger"
)

// Listener receives decoded events for one channel. A listener may observe
// multiple topics and filter inside the callback.
type Listener func(codec.Event)

type registration struct {
	id int
	fn Listener
}

// Registry multicasts decoded events to every listener registered on a
// channel. Delivery is synchronous and in registration order. The listener
// slice is snapshotted when an emit starts, so a listener registered during
// an in-flight emit does not receive that emit.
type Registry struct {
	mu        sync.Mutex
	nextID    int
	listeners map[string][]registration
	log       *logger.Log
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		listeners: make(map[string][]registration),
		log:       logger.GetLogger(),
	}
}

// Register adds a listener to a channel and returns its unregister function.
// Unregistering twice is a no-op.
func (r *Registry) Register(channel string, fn Listener) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.listeners[channel] = append(r.listeners[channel], registration{id: id, fn: fn})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			regs := r.listeners[channel]
			for i, reg := range regs {
				if reg.id == id {
					r.listeners[channel] = append(regs[:i:i], regs[i+1:]...)
					break
				}
			}
			if len(r.listeners[channel]) == 0 {
				delete(r.listeners, channel)
			}
		})
	}
}

// Emit invokes every listener currently registered on the channel. A panic
// in one listener is recovered and logged so the remaining listeners still
// receive the event.
func (r *Registry) Emit(channel string, ev codec.Event) {
	r.mu.Lock()
	regs := r.listeners[channel]
	snapshot := make([]registration, len(regs))
	copy(snapshot, regs)
	r.mu.Unlock()

	for _, reg := range snapshot {
		r.invoke(channel, reg, ev)
	}
}

func (r *Registry) invoke(channel string, reg registration, ev codec.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.WithComponent("fanout").WithFields(logger.Fields{
				"channel":  channel,
				"listener": reg.id,
				"panic":    rec,
			}).Warn("listener panicked, continuing delivery")
		}
	}()
	reg.fn(ev)
}

// Count returns the number of listeners on one channel.
func (r *Registry) Count(channel string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listeners[channel])
}

// Total returns the number of listeners across all channels.
func (r *Registry) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, regs := range r.listeners {
		total += len(regs)
	}
	return total
}
