package demand

import (
	"sort"
	"sync"
)

// Tracker records which topics and how many listeners currently want live
// data. Demand is derived, never stored: any refcounted topic, any generic
// subscriber, or any registered listener keeps it true.
//
// Topics are reference counted so a consumer can withdraw a single topic
// without tearing down every listener. Subscribes that fail topic
// normalization count as generic demand and are refcounted the same way.
type Tracker struct {
	mu        sync.Mutex
	topics    map[string]int
	generic   int
	listeners int
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{topics: make(map[string]int)}
}

// AddTopic increments the topic's refcount and reports whether this was the
// first reference, in which case the caller should send a subscribe
// directive on an already-open transport.
func (t *Tracker) AddTopic(topic string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.topics[topic]++
	return t.topics[topic] == 1
}

// RemoveTopic decrements the topic's refcount, dropping the topic at zero.
func (t *Tracker) RemoveTopic(topic string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.topics[topic]
	if !ok {
		return
	}
	if n <= 1 {
		delete(t.topics, topic)
		return
	}
	t.topics[topic] = n - 1
}

// AddGeneric records one non-topic-scoped subscription.
func (t *Tracker) AddGeneric() {
	t.mu.Lock()
	t.generic++
	t.mu.Unlock()
}

// RemoveGeneric withdraws one non-topic-scoped subscription.
func (t *Tracker) RemoveGeneric() {
	t.mu.Lock()
	if t.generic > 0 {
		t.generic--
	}
	t.mu.Unlock()
}

// ListenerAdded records one registered listener.
func (t *Tracker) ListenerAdded() {
	t.mu.Lock()
	t.listeners++
	t.mu.Unlock()
}

// ListenerRemoved withdraws one registered listener.
func (t *Tracker) ListenerRemoved() {
	t.mu.Lock()
	if t.listeners > 0 {
		t.listeners--
	}
	t.mu.Unlock()
}

// HasDemand reports whether any consumer currently wants live data.
func (t *Tracker) HasDemand() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.topics) > 0 || t.generic > 0 || t.listeners > 0
}

// Topics returns the tracked topics sorted for a deterministic subscribe
// order on connect.
func (t *Tracker) Topics() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.topics))
	for topic := range t.topics {
		out = append(out, topic)
	}
	sort.Strings(out)
	return out
}
