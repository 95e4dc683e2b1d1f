package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestIncrementsBeforeInitAreSafe(t *testing.T) {
	// Counters are nil until Init runs; increments must not panic.
	IncFrameDecoded()
	IncDecodeFailure()
	IncDuplicate("book")
	IncEmit("book")
	IncReconnect()
}

func TestCountersIncrement(t *testing.T) {
	Init("")

	before := testutil.ToFloat64(framesDecoded)
	IncFrameDecoded()
	if got := testutil.ToFloat64(framesDecoded); got != before+1 {
		t.Fatalf("frames decoded counter: got %v, want %v", got, before+1)
	}

	beforeDup := testutil.ToFloat64(duplicatesDropped.WithLabelValues("trades"))
	IncDuplicate("trades")
	if got := testutil.ToFloat64(duplicatesDropped.WithLabelValues("trades")); got != beforeDup+1 {
		t.Fatalf("duplicates counter: got %v, want %v", got, beforeDup+1)
	}

	beforeRec := testutil.ToFloat64(reconnects)
	IncReconnect()
	if got := testutil.ToFloat64(reconnects); got != beforeRec+1 {
		t.Fatalf("reconnects counter: got %v, want %v", got, beforeRec+1)
	}
}
