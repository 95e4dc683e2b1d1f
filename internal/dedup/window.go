package dedup

import (
	"strconv"
	"strings"
)

// DefaultCap bounds the number of remembered fingerprints per topic.
const DefaultCap = 4000

// Fingerprint builds the composite dedup key for one event. The optional id
// participates only when present, so two otherwise identical events without
// ids collapse into one delivery. That suppresses redundant snapshot
// re-delivery on purpose.
func Fingerprint(topic string, ts int64, px, sz, side, id string) string {
	var b strings.Builder
	b.Grow(len(topic) + len(px) + len(sz) + len(side) + len(id) + 24)
	b.WriteString(topic)
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(ts, 10))
	b.WriteByte('|')
	b.WriteString(px)
	b.WriteByte('|')
	b.WriteString(sz)
	b.WriteByte('|')
	b.WriteString(side)
	if id != "" {
		b.WriteByte('|')
		b.WriteString(id)
	}
	return b.String()
}

// Window remembers which fingerprints were already delivered for one topic.
// Membership lives in a set, ordering in a FIFO queue, and the two always
// hold the same keys. Overflow evicts the oldest entries from both.
type Window struct {
	cap   int
	seen  map[string]struct{}
	queue []string
}

// NewWindow creates a window with the given capacity, falling back to
// DefaultCap when cap is not positive.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	return &Window{
		cap:  capacity,
		seen: make(map[string]struct{}),
	}
}

// Admit reports whether the fingerprint is new. New fingerprints are
// remembered and the oldest ones evicted once the window exceeds its
// capacity; duplicates leave the window untouched.
func (w *Window) Admit(fp string) bool {
	if _, ok := w.seen[fp]; ok {
		return false
	}
	w.seen[fp] = struct{}{}
	w.queue = append(w.queue, fp)

	for len(w.queue) > w.cap {
		oldest := w.queue[0]
		w.queue = w.queue[1:]
		delete(w.seen, oldest)
	}
	return true
}

// Contains reports membership without admitting.
func (w *Window) Contains(fp string) bool {
	_, ok := w.seen[fp]
	return ok
}

// Len returns the number of remembered fingerprints.
func (w *Window) Len() int {
	return len(w.queue)
}

// Set lazily manages one Window per topic. Windows are only ever dropped by
// their own capacity eviction, never removed from the set.
type Set struct {
	cap     int
	windows map[string]*Window
}

// NewSet creates a per-topic window collection with a shared capacity.
func NewSet(capacity int) *Set {
	return &Set{
		cap:     capacity,
		windows: make(map[string]*Window),
	}
}

// Admit routes the fingerprint to the topic's window, creating it on first
// use.
func (s *Set) Admit(topic, fp string) bool {
	w, ok := s.windows[topic]
	if !ok {
		w = NewWindow(s.cap)
		s.windows[topic] = w
	}
	return w.Admit(fp)
}

// Window returns the topic's window, or nil when no event was seen yet.
func (s *Set) Window(topic string) *Window {
	return s.windows[topic]
}
