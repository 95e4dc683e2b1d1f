package liqbuf

import (
	"sort"
	"strconv"
	"strings"
)

// DefaultCap bounds the merged cross-topic liquidation list.
const DefaultCap = 200

// Side is the normalized direction of a forced close.
type Side string

const (
	// SideLongForced marks a long position being force-sold.
	SideLongForced Side = "long-forced"
	// SideShortForced marks a short position being force-bought.
	SideShortForced Side = "short-forced"
)

// NormalizeSide maps venue side strings to the binary enum. A liquidation
// printed as a sell closes a long; one printed as a buy closes a short.
func NormalizeSide(raw string) Side {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "B", "BUY", "BID":
		return SideShortForced
	default:
		return SideLongForced
	}
}

// Entry is one liquidation in the merged feed.
type Entry struct {
	ID    string  `json:"id"`
	Topic string  `json:"topic"`
	Side  Side    `json:"side"`
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
	Time  int64   `json:"time_ms"`
}

// SynthesizeID builds a global id for entries the venue did not tag. The key
// covers every defining field so distinct events never collide.
func SynthesizeID(topic string, ts int64, price, size float64, side Side) string {
	return strings.Join([]string{
		topic,
		strconv.FormatInt(ts, 10),
		strconv.FormatFloat(price, 'f', -1, 64),
		strconv.FormatFloat(size, 'f', -1, 64),
		string(side),
	}, "|")
}

// Buffer merges liquidations from all topics into one newest-first list with
// unique ids and a hard capacity. The underlying feed delivers liquidations
// multiplexed per topic in arbitrary topic order; the buffer re-sorts by
// event time on every insert so readers always see a coherent global tape.
type Buffer struct {
	cap     int
	entries []Entry
}

// New creates a buffer, falling back to DefaultCap when cap is not positive.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	return &Buffer{cap: capacity}
}

// Add merges one accepted liquidation. An empty id is synthesized from the
// entry's defining fields. Duplicate ids resolve last-write-wins, and the
// list is truncated to the most recent entries by time.
func (b *Buffer) Add(e Entry) {
	if e.ID == "" {
		e.ID = SynthesizeID(e.Topic, e.Time, e.Price, e.Size, e.Side)
	}

	merged := make([]Entry, 0, len(b.entries)+1)
	merged = append(merged, e)
	for _, existing := range b.entries {
		if existing.ID == e.ID {
			continue
		}
		merged = append(merged, existing)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Time > merged[j].Time
	})

	if len(merged) > b.cap {
		merged = merged[:b.cap]
	}
	b.entries = merged
}

// Len returns the current number of merged entries.
func (b *Buffer) Len() int {
	return len(b.entries)
}

// Snapshot copies the merged list, newest first.
func (b *Buffer) Snapshot() []Entry {
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}
