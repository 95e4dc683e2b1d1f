package batch

import (
	"context"
	"sync"
	"time"

	"streamflow/internal/codec"
	"streamflow/internal/metrics"
	"streamflow/logger"
)

// Batch is one offload payload: everything that arrived during a single
// emission interval, grouped by channel. Empty intervals produce no batch.
type Batch struct {
	ID           string
	Books        []codec.BookEvent
	Trades       []codec.TradesEvent
	Liquidations []codec.LiquidationsEvent
	GeneratedAt  time.Time
}

// Empty reports whether the batch carries no events at all.
func (b Batch) Empty() bool {
	return len(b.Books) == 0 && len(b.Trades) == 0 && len(b.Liquidations) == 0
}

type ChannelStats struct {
	EventsSent     int64
	EventsDropped  int64
	BatchesSent    int64
	BatchesDropped int64
}

// Channels carries decoded events into the batch worker and finished batches
// out to the offload consumer. Sends never block; a full buffer drops the
// message and counts it.
type Channels struct {
	Events chan codec.Event
	Out    chan Batch

	stats      ChannelStats
	statsMutex sync.RWMutex
	log        *logger.Log
}

func NewChannels(eventBufferSize, batchBufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Events: make(chan codec.Event, eventBufferSize),
		Out:    make(chan Batch, batchBufferSize),
		log:    log,
	}

	log.WithComponent("batch_channels").WithFields(logger.Fields{
		"event_buffer_size": eventBufferSize,
		"batch_buffer_size": batchBufferSize,
	}).Info("batch channels initialized")

	return c
}

func (c *Channels) Close() {
	close(c.Events)
	close(c.Out)
	c.log.WithComponent("batch_channels").Info("batch channels closed")
}

func (c *Channels) IncrementEventsSent() {
	c.statsMutex.Lock()
	c.stats.EventsSent++
	c.statsMutex.Unlock()
}

func (c *Channels) IncrementEventsDropped() {
	c.statsMutex.Lock()
	c.stats.EventsDropped++
	c.statsMutex.Unlock()
}

func (c *Channels) IncrementBatchesSent() {
	c.statsMutex.Lock()
	c.stats.BatchesSent++
	c.statsMutex.Unlock()
}

func (c *Channels) IncrementBatchesDropped() {
	c.statsMutex.Lock()
	c.stats.BatchesDropped++
	c.statsMutex.Unlock()
}

func (c *Channels) SendEvent(ctx context.Context, ev codec.Event) bool {
	select {
	case c.Events <- ev:
		c.IncrementEventsSent()
		return true
	case <-ctx.Done():
		return false
	default:
		c.IncrementEventsDropped()
		metrics.EmitDropMetric(c.log, metrics.DropMetricEvent, ev.EventTopic(), ev.Channel())
		return false
	}
}

func (c *Channels) SendBatch(ctx context.Context, b Batch) bool {
	select {
	case c.Out <- b:
		c.IncrementBatchesSent()
		return true
	case <-ctx.Done():
		return false
	default:
		c.IncrementBatchesDropped()
		metrics.EmitDropMetric(c.log, metrics.DropMetricBatch, "", "offload")
		return false
	}
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}
