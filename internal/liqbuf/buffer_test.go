package liqbuf

import "testing"

func TestNormalizeSide(t *testing.T) {
	cases := []struct {
		in   string
		want Side
	}{
		{"B", SideShortForced},
		{"buy", SideShortForced},
		{"BID", SideShortForced},
		{"A", SideLongForced},
		{"sell", SideLongForced},
		{"", SideLongForced},
	}
	for _, tc := range cases {
		if got := NormalizeSide(tc.in); got != tc.want {
			t.Fatalf("NormalizeSide(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestBufferOrderingAndUniqueness(t *testing.T) {
	b := New(DefaultCap)

	// Interleave two topics with deliberately unordered timestamps.
	topics := []string{"BTC", "ETH"}
	for i := 0; i < 50; i++ {
		topic := topics[i%2]
		b.Add(Entry{
			Topic: topic,
			Side:  SideLongForced,
			Price: float64(1000 + i),
			Size:  1,
			Time:  int64((i * 37) % 100),
		})
	}

	snap := b.Snapshot()
	if len(snap) != 50 {
		t.Fatalf("expected 50 entries, got %d", len(snap))
	}

	seen := make(map[string]struct{}, len(snap))
	for i, e := range snap {
		if _, dup := seen[e.ID]; dup {
			t.Fatalf("duplicate id %q at index %d", e.ID, i)
		}
		seen[e.ID] = struct{}{}
		if i > 0 && snap[i-1].Time < e.Time {
			t.Fatalf("buffer not newest-first at index %d: %d < %d", i, snap[i-1].Time, e.Time)
		}
	}
}

func TestBufferCapacity(t *testing.T) {
	b := New(10)
	for i := 0; i < 25; i++ {
		b.Add(Entry{Topic: "BTC", Side: SideLongForced, Price: 1, Size: 1, Time: int64(i)})
	}
	snap := b.Snapshot()
	if len(snap) != 10 {
		t.Fatalf("expected capacity 10, got %d", len(snap))
	}
	// Only the most recent entries survive.
	if snap[0].Time != 24 || snap[9].Time != 15 {
		t.Fatalf("expected times 24..15, got %d..%d", snap[0].Time, snap[9].Time)
	}
}

func TestBufferLastWriteWins(t *testing.T) {
	b := New(10)
	b.Add(Entry{ID: "liq-1", Topic: "BTC", Side: SideLongForced, Price: 100, Size: 1, Time: 5})
	b.Add(Entry{ID: "liq-1", Topic: "BTC", Side: SideLongForced, Price: 200, Size: 2, Time: 5})

	snap := b.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 entry after id collision, got %d", len(snap))
	}
	if snap[0].Price != 200 || snap[0].Size != 2 {
		t.Fatalf("expected last write to win, got %+v", snap[0])
	}
}

func TestBufferDistinctIDsKept(t *testing.T) {
	b := New(10)
	// Same defining fields but different venue ids: both stay.
	b.Add(Entry{ID: "a", Topic: "BTC", Side: SideLongForced, Price: 100, Size: 1, Time: 5})
	b.Add(Entry{ID: "b", Topic: "BTC", Side: SideLongForced, Price: 100, Size: 1, Time: 5})
	if b.Len() != 2 {
		t.Fatalf("expected both entries kept, got %d", b.Len())
	}
}

func TestSynthesizeIDStable(t *testing.T) {
	a := SynthesizeID("BTC", 5, 100, 1, SideLongForced)
	b := SynthesizeID("BTC", 5, 100, 1, SideLongForced)
	if a != b {
		t.Fatalf("expected deterministic synthesized id, got %q vs %q", a, b)
	}
	for i, other := range []string{
		SynthesizeID("ETH", 5, 100, 1, SideLongForced),
		SynthesizeID("BTC", 6, 100, 1, SideLongForced),
		SynthesizeID("BTC", 5, 101, 1, SideLongForced),
		SynthesizeID("BTC", 5, 100, 2, SideLongForced),
		SynthesizeID("BTC", 5, 100, 1, SideShortForced),
	} {
		if other == a {
			t.Fatalf("variant %d collided with base id", i)
		}
	}
}
