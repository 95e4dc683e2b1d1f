package batcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	batchchannel "streamflow/internal/channel/batch"
	"streamflow/internal/codec"
	"streamflow/internal/stream"
	"streamflow/logger"
)

const (
	defaultTick          = 100 * time.Millisecond
	defaultDegradedAfter = 4 * time.Second
	defaultStaleAfter    = 10 * time.Second
	healthCheckInterval  = 500 * time.Millisecond
	commandBufferSize    = 64
)

// Config carries the batcher's tunables. Zero values fall back to defaults.
type Config struct {
	Tick          time.Duration
	DegradedAfter time.Duration
	StaleAfter    time.Duration
}

type commandKind int

const (
	cmdConnect commandKind = iota
	cmdDisconnect
	cmdSubscribe
	cmdUnsubscribe
	cmdVisibility
)

type command struct {
	kind    commandKind
	topic   string
	visible bool
}

// Batcher moves the stream client behind an asynchronous command interface
// and repackages its per-event emissions into fixed-interval batches. Ticks
// that accumulated nothing produce no batch.
type Batcher struct {
	cfg      Config
	client   *stream.Client
	channels *batchchannel.Channels
	commands chan command

	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	unregister []func()

	health healthState
	log    *logger.Log
}

// New builds a stopped batcher around an already-constructed client.
func New(cfg Config, client *stream.Client, channels *batchchannel.Channels) *Batcher {
	if cfg.Tick <= 0 {
		cfg.Tick = defaultTick
	}
	if cfg.DegradedAfter <= 0 {
		cfg.DegradedAfter = defaultDegradedAfter
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStaleAfter
	}
	return &Batcher{
		cfg:      cfg,
		client:   client,
		channels: channels,
		commands: make(chan command, commandBufferSize),
		log:      logger.GetLogger(),
	}
}

// Start attaches listeners to the client and launches the batch worker and
// health monitor.
func (b *Batcher) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return fmt.Errorf("batcher already running")
	}
	b.running = true
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.mu.Unlock()

	for _, channel := range []string{codec.ChannelBook, codec.ChannelTrades, codec.ChannelLiquidations} {
		unreg := b.client.RegisterListener(channel, b.forward)
		b.mu.Lock()
		b.unregister = append(b.unregister, unreg)
		b.mu.Unlock()
	}

	b.wg.Add(2)
	go b.worker()
	go b.monitor()

	b.log.WithComponent("batcher").WithFields(logger.Fields{
		"tick": b.cfg.Tick.String(),
	}).Info("batcher started")
	return nil
}

// Stop detaches from the client and waits for the worker to drain.
func (b *Batcher) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	unregister := b.unregister
	b.unregister = nil
	cancel := b.cancel
	b.mu.Unlock()

	for _, unreg := range unregister {
		unreg()
	}
	if cancel != nil {
		cancel()
	}
	b.wg.Wait()
	b.log.WithComponent("batcher").Info("batcher stopped")
}

// Connect asks the worker to open the stream.
func (b *Batcher) Connect() { b.enqueue(command{kind: cmdConnect}) }

// Disconnect asks the worker to tear the stream down.
func (b *Batcher) Disconnect() { b.enqueue(command{kind: cmdDisconnect}) }

// Subscribe adds topic demand through the command queue.
func (b *Batcher) Subscribe(topic string) { b.enqueue(command{kind: cmdSubscribe, topic: topic}) }

// Unsubscribe withdraws topic demand through the command queue.
func (b *Batcher) Unsubscribe(topic string) { b.enqueue(command{kind: cmdUnsubscribe, topic: topic}) }

// SetVisible forwards the hosting surface's visibility signal.
func (b *Batcher) SetVisible(visible bool) {
	b.enqueue(command{kind: cmdVisibility, visible: visible})
}

func (b *Batcher) enqueue(cmd command) {
	select {
	case b.commands <- cmd:
	default:
		b.log.WithComponent("batcher").WithFields(logger.Fields{
			"kind": int(cmd.kind),
		}).Warn("command queue full, dropping command")
	}
}

// forward runs on the client's emit path, so it must not block.
func (b *Batcher) forward(ev codec.Event) {
	b.mu.Lock()
	ctx := b.ctx
	b.mu.Unlock()
	if ctx == nil {
		return
	}
	b.channels.SendEvent(ctx, ev)
}

func (b *Batcher) worker() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.Tick)
	defer ticker.Stop()

	var current batchchannel.Batch
	for {
		select {
		case <-b.ctx.Done():
			b.flush(&current)
			return
		case cmd := <-b.commands:
			b.apply(cmd)
		case ev, ok := <-b.channels.Events:
			if !ok {
				b.flush(&current)
				return
			}
			accumulate(&current, ev)
		case <-ticker.C:
			b.flush(&current)
		}
	}
}

func (b *Batcher) apply(cmd command) {
	switch cmd.kind {
	case cmdConnect:
		b.client.Connect()
	case cmdDisconnect:
		b.client.Disconnect()
	case cmdSubscribe:
		b.client.Subscribe(cmd.topic)
	case cmdUnsubscribe:
		b.client.Unsubscribe(cmd.topic)
	case cmdVisibility:
		b.client.SetVisible(cmd.visible)
	}
}

func accumulate(current *batchchannel.Batch, ev codec.Event) {
	switch e := ev.(type) {
	case codec.BookEvent:
		current.Books = append(current.Books, e)
	case codec.TradesEvent:
		current.Trades = append(current.Trades, e)
	case codec.LiquidationsEvent:
		current.Liquidations = append(current.Liquidations, e)
	}
}

func (b *Batcher) flush(current *batchchannel.Batch) {
	if current.Empty() {
		return
	}
	current.ID = uuid.NewString()
	current.GeneratedAt = time.Now()
	b.channels.SendBatch(b.ctx, *current)
	*current = batchchannel.Batch{}
}
