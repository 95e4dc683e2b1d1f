package stream

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"streamflow/internal/codec"
	"streamflow/internal/dedup"
	"streamflow/internal/demand"
	"streamflow/internal/fanout"
	"streamflow/internal/liqbuf"
	"streamflow/internal/metrics"
	"streamflow/internal/topic"
	"streamflow/logger"
)

// State is the connection lifecycle position. Exactly one connection exists
// per client; state transitions are the only place the transport is created
// or destroyed.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Config carries the client's tunables. Zero values fall back to defaults.
type Config struct {
	Endpoint            string
	ReconnectDelay      time.Duration
	DialTimeout         time.Duration
	DedupWindow         int
	LiquidationCap      int
	SubscribesPerSecond int
}

// Client owns the single multiplexed connection to the venue. All mutable
// state (connection, demand, dedup windows, retry timer) lives in the struct;
// consumers hold a reference and never reach through ambient globals.
//
// The connection is demand driven: it opens when the first consumer
// expresses interest and the hosting surface is visible, and closes when the
// last consumer withdraws or the surface hides.
type Client struct {
	cfg       Config
	transport Transport
	log       *logger.Log
	limiter   *rate.Limiter

	demand   *demand.Tracker
	registry *fanout.Registry
	retry    *reconnectScheduler

	mu      sync.Mutex
	running bool
	state   State
	conn    Conn
	visible bool
	// epoch invalidates read loops and in-flight dials that belong to a
	// torn-down connection.
	epoch  int
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	feedMu  sync.Mutex
	windows *dedup.Set
	liq     *liqbuf.Buffer

	lastFrame atomic.Int64 // unix nanos of the last decoded inbound frame
}

// NewClient builds a stopped client. The hosting surface is assumed visible
// until SetVisible says otherwise.
func NewClient(cfg Config, transport Transport) *Client {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}

	var limiter *rate.Limiter
	if cfg.SubscribesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.SubscribesPerSecond), cfg.SubscribesPerSecond)
	}

	return &Client{
		cfg:       cfg,
		transport: transport,
		log:       logger.GetLogger(),
		limiter:   limiter,
		demand:    demand.NewTracker(),
		registry:  fanout.NewRegistry(),
		retry:     newReconnectScheduler(cfg.ReconnectDelay),
		visible:   true,
		windows:   dedup.NewSet(cfg.DedupWindow),
		liq:       liqbuf.New(cfg.LiquidationCap),
	}
}

// Start arms the client. No connection is opened until demand appears.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("stream client already running")
	}
	c.running = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	c.log.WithComponent("stream_client").WithFields(logger.Fields{
		"endpoint":        c.cfg.Endpoint,
		"reconnect_delay": c.cfg.ReconnectDelay.String(),
	}).Info("stream client started")
	return nil
}

// Stop tears down the transport and waits for the read loop to exit.
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.retry.Cancel()
	c.epoch++
	conn := c.conn
	c.conn = nil
	c.state = Disconnected
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	c.log.WithComponent("stream_client").Info("stream client stopped")
}

// Subscribe adds demand for one topic. Input that fails normalization counts
// as generic demand instead of erroring. Either way a connect attempt is
// triggered; on an already-open connection a first-reference topic is
// subscribed immediately.
func (c *Client) Subscribe(raw string) {
	norm, ok := topic.Normalize(raw)
	if !ok {
		c.log.WithComponent("stream_client").WithFields(logger.Fields{
			"input": raw,
		}).Debug("unusable topic, treating as generic demand")
		c.demand.AddGeneric()
		c.Connect()
		return
	}

	first := c.demand.AddTopic(norm)
	if first {
		c.mu.Lock()
		conn := c.conn
		connected := c.state == Connected
		ctx := c.ctx
		c.mu.Unlock()
		if connected && conn != nil {
			c.sendSubscribe(ctx, conn, norm)
		}
	}
	c.Connect()
}

// Unsubscribe withdraws one reference to a topic (or one generic reference
// for unusable input) and disconnects when overall demand reaches zero.
func (c *Client) Unsubscribe(raw string) {
	norm, ok := topic.Normalize(raw)
	if !ok {
		c.demand.RemoveGeneric()
	} else {
		c.demand.RemoveTopic(norm)
	}
	if !c.demand.HasDemand() {
		c.Disconnect()
	}
}

// RegisterListener attaches a callback to a channel and returns its
// unregister function. Registration triggers a connect attempt;
// unregistering the last source of demand disconnects.
func (c *Client) RegisterListener(channel string, fn fanout.Listener) func() {
	unregister := c.registry.Register(channel, fn)
	c.demand.ListenerAdded()
	c.Connect()

	var once sync.Once
	return func() {
		once.Do(func() {
			unregister()
			c.demand.ListenerRemoved()
			if !c.demand.HasDemand() {
				c.Disconnect()
			}
		})
	}
}

// SetVisible feeds the hosting surface's visibility signal. Hiding forces a
// disconnect that bypasses the reconnect scheduler; becoming visible again
// triggers a direct connect attempt.
func (c *Client) SetVisible(visible bool) {
	c.mu.Lock()
	if c.visible == visible {
		c.mu.Unlock()
		return
	}
	c.visible = visible
	c.mu.Unlock()

	if visible {
		c.Connect()
	} else {
		c.Disconnect()
	}
}

// Connect opens the transport if demand exists, the surface is visible and
// no connection is underway. Safe to call at any time; extra calls are
// no-ops.
func (c *Client) Connect() {
	c.mu.Lock()
	if !c.running || c.state != Disconnected || !c.visible || !c.demand.HasDemand() {
		c.mu.Unlock()
		return
	}
	c.state = Connecting
	c.epoch++
	epoch := c.epoch
	ctx := c.ctx
	c.mu.Unlock()

	c.wg.Add(1)
	go c.dial(ctx, epoch)
}

// Disconnect tears the transport down unconditionally and cancels any
// pending retry.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.retry.Cancel()
	conn := c.conn
	c.conn = nil
	c.epoch++
	wasConnected := c.state != Disconnected
	c.state = Disconnected
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if wasConnected {
		c.log.WithComponent("stream_client").Info("disconnected")
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// HasDemand reports whether any consumer currently wants live data.
func (c *Client) HasDemand() bool {
	return c.demand.HasDemand()
}

// RetryPending reports whether a reconnect is armed.
func (c *Client) RetryPending() bool {
	return c.retry.Pending()
}

// Liquidations returns the merged cross-topic liquidation tape, newest
// first.
func (c *Client) Liquidations() []liqbuf.Entry {
	c.feedMu.Lock()
	defer c.feedMu.Unlock()
	return c.liq.Snapshot()
}

// LastFrameAt returns the arrival time of the last decoded inbound frame, or
// the zero time before any frame arrived.
func (c *Client) LastFrameAt() time.Time {
	ns := c.lastFrame.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (c *Client) dial(ctx context.Context, epoch int) {
	defer c.wg.Done()

	log := c.log.WithComponent("stream_client").WithFields(logger.Fields{
		"endpoint": c.cfg.Endpoint,
	})

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	conn, err := c.transport.Dial(dialCtx, c.cfg.Endpoint)
	cancel()

	c.mu.Lock()
	if epoch != c.epoch || c.state != Connecting {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		c.state = Disconnected
		if c.running && c.visible && c.demand.HasDemand() {
			c.scheduleRetryLocked()
		}
		c.mu.Unlock()
		log.WithError(err).Warn("failed to connect to venue")
		return
	}
	c.conn = conn
	c.state = Connected
	c.retry.Cancel()
	topics := c.demand.Topics()
	c.mu.Unlock()

	log.WithFields(logger.Fields{"topics": len(topics)}).Info("connected to venue")

	for _, t := range topics {
		if err := c.sendSubscribe(ctx, conn, t); err != nil {
			log.WithError(err).Warn("failed to send subscribe directive")
			break
		}
	}

	c.wg.Add(1)
	go c.readLoop(conn, epoch)
}

func (c *Client) sendSubscribe(ctx context.Context, conn Conn, t string) error {
	if c.limiter != nil && ctx != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return conn.WriteJSON(codec.SubscribeRequest{Type: codec.FrameSubscribe, Coin: t})
}

func (c *Client) readLoop(conn Conn, epoch int) {
	defer c.wg.Done()
	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(epoch, err)
			return
		}
		if !c.currentEpoch(epoch) {
			return
		}
		c.handleFrame(msg)
	}
}

func (c *Client) currentEpoch(epoch int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return epoch == c.epoch
}

func (c *Client) handleClose(epoch int, err error) {
	c.mu.Lock()
	if epoch != c.epoch {
		// Deliberate teardown already advanced the epoch.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = Disconnected
	retry := c.running && c.visible && c.demand.HasDemand()
	if retry {
		c.scheduleRetryLocked()
	}
	c.mu.Unlock()

	c.log.WithComponent("stream_client").WithError(err).WithFields(logger.Fields{
		"retry": retry,
	}).Warn("transport closed")
}

// scheduleRetryLocked arms a single fixed-delay retry. Callers hold c.mu.
func (c *Client) scheduleRetryLocked() {
	metrics.IncReconnect()
	c.retry.Schedule(c.Connect)
}

func (c *Client) handleFrame(raw []byte) {
	frame, err := codec.DecodeFrame(raw)
	if err != nil {
		metrics.IncDecodeFailure()
		return
	}
	metrics.IncFrameDecoded()
	logger.RecordChannelMessage("inbound_frames", len(raw))
	c.lastFrame.Store(time.Now().UnixNano())

	switch frame.Type {
	case codec.FrameAggUpdate:
		updates, err := codec.DecodeAggUpdate(frame.Data)
		if err != nil {
			metrics.IncDecodeFailure()
			return
		}
		for topicKey, upd := range updates {
			c.dispatchTopic(topicKey, upd)
		}
	case codec.ChannelBook:
		ev, err := codec.DecodeBook(frame.Data)
		if err != nil {
			metrics.IncDecodeFailure()
			return
		}
		c.emitBook(ev)
	case codec.ChannelTrades:
		trades, err := codec.DecodeTrades(frame.Data)
		if err != nil {
			metrics.IncDecodeFailure()
			return
		}
		c.emitTradesByTopic(trades)
	case codec.ChannelLiquidations:
		events, err := codec.DecodeLiquidations(frame.Data)
		if err != nil {
			metrics.IncDecodeFailure()
			return
		}
		c.emitLiquidationsByTopic(events)
	default:
		c.log.WithComponent("stream_client").WithFields(logger.Fields{
			"type": frame.Type,
		}).Debug("unknown frame type, dropping")
	}
}

func (c *Client) dispatchTopic(topicKey string, upd codec.TopicUpdate) {
	if upd.Book != nil {
		c.emitBook(codec.BookEvent{Topic: topicKey, Bids: upd.Book[0], Asks: upd.Book[1]})
	}
	if len(upd.Trades) > 0 {
		c.emitTrades(topicKey, upd.Trades)
	}
	if len(upd.Liquidations) > 0 {
		c.emitLiquidations(topicKey, upd.Liquidations)
	}
}

func (c *Client) emitBook(ev codec.BookEvent) {
	c.registry.Emit(codec.ChannelBook, ev)
	metrics.IncEmit(codec.ChannelBook)
}

// emitTradesByTopic splits a single-channel trade frame by topic, keeping
// inbound order within each topic.
func (c *Client) emitTradesByTopic(trades []codec.Trade) {
	byTopic := make(map[string][]codec.Trade)
	order := make([]string, 0, 1)
	for _, tr := range trades {
		if _, ok := byTopic[tr.Topic]; !ok {
			order = append(order, tr.Topic)
		}
		byTopic[tr.Topic] = append(byTopic[tr.Topic], tr)
	}
	for _, t := range order {
		c.emitTrades(t, byTopic[t])
	}
}

func (c *Client) emitTrades(topicKey string, trades []codec.Trade) {
	kept := make([]codec.Trade, 0, len(trades))

	c.feedMu.Lock()
	for _, tr := range trades {
		if tr.Topic == "" {
			tr.Topic = topicKey
		}
		id := ""
		if tr.TID != 0 {
			id = strconv.FormatInt(tr.TID, 10)
		}
		fp := dedup.Fingerprint(topicKey, tr.Time, tr.Px, tr.Sz, tr.Side, id)
		if c.windows.Admit(topicKey, fp) {
			kept = append(kept, tr)
		} else {
			metrics.IncDuplicate(codec.ChannelTrades)
		}
	}
	c.feedMu.Unlock()

	if len(kept) == 0 {
		return
	}
	c.registry.Emit(codec.ChannelTrades, codec.TradesEvent{Topic: topicKey, Trades: kept})
	metrics.IncEmit(codec.ChannelTrades)
}

func (c *Client) emitLiquidationsByTopic(events []codec.Liquidation) {
	byTopic := make(map[string][]codec.Liquidation)
	order := make([]string, 0, 1)
	for _, ev := range events {
		if _, ok := byTopic[ev.Topic]; !ok {
			order = append(order, ev.Topic)
		}
		byTopic[ev.Topic] = append(byTopic[ev.Topic], ev)
	}
	for _, t := range order {
		c.emitLiquidations(t, byTopic[t])
	}
}

func (c *Client) emitLiquidations(topicKey string, events []codec.Liquidation) {
	kept := make([]codec.Liquidation, 0, len(events))

	c.feedMu.Lock()
	for _, ev := range events {
		if ev.Topic == "" {
			ev.Topic = topicKey
		}
		fp := dedup.Fingerprint(topicKey, ev.Time, ev.Px, ev.Sz, ev.Side, ev.LID)
		if !c.windows.Admit(topicKey, fp) {
			metrics.IncDuplicate(codec.ChannelLiquidations)
			continue
		}
		kept = append(kept, ev)
		c.liq.Add(liqbuf.Entry{
			ID:    ev.LID,
			Topic: topicKey,
			Side:  liqbuf.NormalizeSide(ev.Side),
			Price: codec.ParseFloat(ev.Px),
			Size:  codec.ParseFloat(ev.Sz),
			Time:  ev.Time,
		})
	}
	c.feedMu.Unlock()

	if len(kept) == 0 {
		return
	}
	c.registry.Emit(codec.ChannelLiquidations, codec.LiquidationsEvent{Topic: topicKey, Events: kept})
	metrics.IncEmit(codec.ChannelLiquidations)
}
