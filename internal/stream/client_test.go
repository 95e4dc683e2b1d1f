package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"streamflow/internal/codec"
)

type fakeConn struct {
	mu        sync.Mutex
	frames    chan []byte
	writes    []interface{}
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) WriteJSON(v interface{}) error {
	f.mu.Lock()
	f.writes = append(f.writes, v)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case msg := <-f.frames:
		return msg, nil
	case <-f.closed:
		return nil, errors.New("connection closed")
	}
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) push(msg string) {
	f.frames <- []byte(msg)
}

func (f *fakeConn) subscribedTopics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var topics []string
	for _, w := range f.writes {
		if req, ok := w.(codec.SubscribeRequest); ok {
			topics = append(topics, req.Coin)
		}
	}
	return topics
}

type fakeTransport struct {
	mu       sync.Mutex
	dials    int
	conns    []*fakeConn
	failDial bool
}

func (t *fakeTransport) Dial(ctx context.Context, endpoint string) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dials++
	if t.failDial {
		return nil, errors.New("dial refused")
	}
	c := newFakeConn()
	t.conns = append(t.conns, c)
	return c, nil
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

func (t *fakeTransport) lastConn() *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) == 0 {
		return nil
	}
	return t.conns[len(t.conns)-1]
}

func newTestClient(t *testing.T, tr *fakeTransport) *Client {
	t.Helper()
	c := NewClient(Config{
		Endpoint:       "wss://venue.test/ws",
		ReconnectDelay: 30 * time.Millisecond,
		DialTimeout:    time.Second,
		DedupWindow:    100,
		LiquidationCap: 50,
	}, tr)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("failed to start client: %v", err)
	}
	t.Cleanup(c.Stop)
	return c
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func collectEvents(c *Client, channel string) (<-chan codec.Event, func()) {
	events := make(chan codec.Event, 64)
	unregister := c.RegisterListener(channel, func(ev codec.Event) {
		events <- ev
	})
	return events, unregister
}

func TestConnectRequiresDemand(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestClient(t, tr)

	c.Connect()
	time.Sleep(50 * time.Millisecond)
	if n := tr.dialCount(); n != 0 {
		t.Fatalf("expected no dials without demand, got %d", n)
	}

	c.Subscribe("BTC")
	waitFor(t, "connection", func() bool { return c.State() == Connected })
	if n := tr.dialCount(); n != 1 {
		t.Fatalf("expected exactly one dial, got %d", n)
	}

	waitFor(t, "subscribe directive", func() bool {
		topics := tr.lastConn().subscribedTopics()
		return len(topics) == 1 && topics[0] == "BTC"
	})
}

func TestListenerDrivesConnection(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestClient(t, tr)

	unregister := c.RegisterListener(codec.ChannelBook, func(codec.Event) {})
	waitFor(t, "connection", func() bool { return c.State() == Connected })
	if n := tr.dialCount(); n != 1 {
		t.Fatalf("expected exactly one dial, got %d", n)
	}

	unregister()
	waitFor(t, "disconnect", func() bool { return c.State() == Disconnected })

	time.Sleep(60 * time.Millisecond)
	if n := tr.dialCount(); n != 1 {
		t.Fatalf("expected no reconnect after last listener left, got %d dials", n)
	}
}

func TestHiddenSurfaceBlocksConnect(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestClient(t, tr)

	c.SetVisible(false)
	c.Subscribe("BTC")
	time.Sleep(50 * time.Millisecond)
	if n := tr.dialCount(); n != 0 {
		t.Fatalf("expected no dials while hidden, got %d", n)
	}

	c.SetVisible(true)
	waitFor(t, "connection after visibility restored", func() bool { return c.State() == Connected })
}

func TestVisibilityLostBypassesReconnect(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestClient(t, tr)

	c.Subscribe("BTC")
	waitFor(t, "connection", func() bool { return c.State() == Connected })

	c.SetVisible(false)
	waitFor(t, "disconnect", func() bool { return c.State() == Disconnected })
	if c.RetryPending() {
		t.Fatalf("visibility loss must not arm a retry")
	}
	time.Sleep(60 * time.Millisecond)
	if n := tr.dialCount(); n != 1 {
		t.Fatalf("expected no reconnect while hidden, got %d dials", n)
	}
}

func TestReconnectOnUnexpectedClose(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestClient(t, tr)

	c.Subscribe("BTC")
	waitFor(t, "connection", func() bool { return c.State() == Connected })

	tr.lastConn().Close()
	waitFor(t, "reconnect", func() bool { return tr.dialCount() == 2 && c.State() == Connected })

	// The fresh connection resubscribes the tracked topic.
	waitFor(t, "resubscribe directive", func() bool {
		topics := tr.lastConn().subscribedTopics()
		return len(topics) == 1 && topics[0] == "BTC"
	})
}

func TestSubscribeWhileConnected(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestClient(t, tr)

	c.Subscribe("BTC")
	waitFor(t, "connection", func() bool { return c.State() == Connected })

	c.Subscribe("ETH")
	waitFor(t, "ETH directive", func() bool {
		return len(tr.lastConn().subscribedTopics()) == 2
	})
	if n := tr.dialCount(); n != 1 {
		t.Fatalf("expected no second dial, got %d", n)
	}

	// A second reference to an already-tracked topic sends nothing.
	c.Subscribe("ETH")
	time.Sleep(20 * time.Millisecond)
	if n := len(tr.lastConn().subscribedTopics()); n != 2 {
		t.Fatalf("expected 2 directives, got %d", n)
	}
}

func TestUnsubscribeDropsDemand(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestClient(t, tr)

	c.Subscribe("BTC")
	c.Subscribe("BTC")
	waitFor(t, "connection", func() bool { return c.State() == Connected })

	c.Unsubscribe("BTC")
	time.Sleep(20 * time.Millisecond)
	if c.State() != Connected {
		t.Fatalf("one reference remains, expected to stay connected")
	}

	c.Unsubscribe("BTC")
	waitFor(t, "disconnect", func() bool { return c.State() == Disconnected })
}

func TestAggUpdateFansOutBook(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestClient(t, tr)

	books, _ := collectEvents(c, codec.ChannelBook)
	trades, _ := collectEvents(c, codec.ChannelTrades)

	c.Subscribe("BTC")
	waitFor(t, "connection", func() bool { return c.State() == Connected })

	tr.lastConn().push(`{"type":"agg_update","data":{"BTC":{"book":[[{"px":"50000","sz":"1"}],[{"px":"50010","sz":"2"}]]}}}`)

	select {
	case ev := <-books:
		book, ok := ev.(codec.BookEvent)
		if !ok {
			t.Fatalf("expected BookEvent, got %T", ev)
		}
		if book.Topic != "BTC" {
			t.Fatalf("expected topic BTC, got %q", book.Topic)
		}
		if len(book.Bids) != 1 || book.Bids[0].Px != "50000" || book.Bids[0].Sz != "1" {
			t.Fatalf("unexpected bids: %+v", book.Bids)
		}
		if len(book.Asks) != 1 || book.Asks[0].Px != "50010" || book.Asks[0].Sz != "2" {
			t.Fatalf("unexpected asks: %+v", book.Asks)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for book emission")
	}

	select {
	case ev := <-books:
		t.Fatalf("unexpected extra book emission: %+v", ev)
	case ev := <-trades:
		t.Fatalf("unexpected trade emission: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDuplicateTradesSuppressed(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestClient(t, tr)

	trades, _ := collectEvents(c, codec.ChannelTrades)

	c.Subscribe("BTC")
	waitFor(t, "connection", func() bool { return c.State() == Connected })

	frame := `{"type":"agg_update","data":{"BTC":{"trades":[{"coin":"BTC","side":"B","px":"50000","sz":"1","time":1700000000000,"tid":7}]}}}`
	tr.lastConn().push(frame)
	tr.lastConn().push(frame)

	select {
	case ev := <-trades:
		te := ev.(codec.TradesEvent)
		if len(te.Trades) != 1 || te.Trades[0].TID != 7 {
			t.Fatalf("unexpected trades event: %+v", te)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for trades emission")
	}

	select {
	case ev := <-trades:
		t.Fatalf("duplicate delivery leaked through: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLiquidationDedupPolicy(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestClient(t, tr)

	liqs, _ := collectEvents(c, codec.ChannelLiquidations)

	c.Subscribe("BTC")
	waitFor(t, "connection", func() bool { return c.State() == Connected })

	// Identical defining fields without ids: second is a duplicate by policy.
	noID := `{"type":"liquidations","data":[{"coin":"BTC","side":"A","px":"50000","sz":"1","time":1700000000000}]}`
	tr.lastConn().push(noID)
	tr.lastConn().push(noID)

	select {
	case ev := <-liqs:
		le := ev.(codec.LiquidationsEvent)
		if len(le.Events) != 1 {
			t.Fatalf("expected one liquidation, got %+v", le)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for liquidation emission")
	}
	select {
	case ev := <-liqs:
		t.Fatalf("duplicate liquidation leaked through: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	// Same fields but distinct venue ids: both kept.
	tr.lastConn().push(`{"type":"liquidations","data":[{"coin":"BTC","side":"A","px":"51000","sz":"1","time":1700000000001,"lid":"a"},{"coin":"BTC","side":"A","px":"51000","sz":"1","time":1700000000001,"lid":"b"}]}`)
	select {
	case ev := <-liqs:
		le := ev.(codec.LiquidationsEvent)
		if len(le.Events) != 2 {
			t.Fatalf("expected both distinct-id liquidations, got %+v", le)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for second liquidation emission")
	}

	waitFor(t, "merged tape", func() bool { return len(c.Liquidations()) == 3 })
	tape := c.Liquidations()
	if tape[0].Time < tape[len(tape)-1].Time {
		t.Fatalf("expected newest-first tape, got %+v", tape)
	}
}

func TestMalformedFramesIgnored(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestClient(t, tr)

	books, _ := collectEvents(c, codec.ChannelBook)

	c.Subscribe("BTC")
	waitFor(t, "connection", func() bool { return c.State() == Connected })

	conn := tr.lastConn()
	conn.push(`not json at all`)
	conn.push(`{"data":{"no":"type"}}`)
	conn.push(`{"type":"book","data":{"coin":"BTC","levels":[[{"px":"1","sz":"1"}],[]],"time":1}}`)

	select {
	case ev := <-books:
		book := ev.(codec.BookEvent)
		if book.Topic != "BTC" {
			t.Fatalf("unexpected book event: %+v", book)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("valid frame after malformed input was not processed")
	}

	if c.State() != Connected {
		t.Fatalf("malformed frames must not tear down the connection")
	}
}

func TestInvalidTopicBecomesGenericDemand(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestClient(t, tr)

	c.Subscribe("not a symbol!")
	waitFor(t, "connection", func() bool { return c.State() == Connected })

	// No topic directive goes out for generic demand.
	if topics := tr.lastConn().subscribedTopics(); len(topics) != 0 {
		t.Fatalf("expected no subscribe directives, got %v", topics)
	}

	c.Unsubscribe("not a symbol!")
	waitFor(t, "disconnect", func() bool { return c.State() == Disconnected })
}

func TestDialFailureSchedulesRetry(t *testing.T) {
	tr := &fakeTransport{failDial: true}
	c := newTestClient(t, tr)

	c.Subscribe("BTC")
	waitFor(t, "second dial attempt", func() bool { return tr.dialCount() >= 2 })

	tr.mu.Lock()
	tr.failDial = false
	tr.mu.Unlock()
	waitFor(t, "eventual connection", func() bool { return c.State() == Connected })
}
