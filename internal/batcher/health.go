package batcher

import (
	"sync/atomic"
	"time"

	"streamflow/internal/stream"
	"streamflow/logger"
)

// Health summarizes feed freshness for the offload consumer. It is derived
// from frame arrival times, not from tick activity, so a quiet venue and a
// dead connection are distinguishable.
type Health int32

const (
	HealthDisconnected Health = iota
	HealthLive
	HealthDegraded
	HealthStale
)

func (h Health) String() string {
	switch h {
	case HealthLive:
		return "live"
	case HealthDegraded:
		return "degraded"
	case HealthStale:
		return "stale"
	default:
		return "disconnected"
	}
}

type healthState struct {
	status atomic.Int32
}

// Health returns the most recently assessed feed status.
func (b *Batcher) Health() Health {
	return Health(b.health.status.Load())
}

func (b *Batcher) monitor() {
	defer b.wg.Done()

	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	var connectedSince time.Time
	wasConnected := false

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			connected := b.client.State() == stream.Connected
			if connected && !wasConnected {
				connectedSince = time.Now()
			}
			wasConnected = connected

			next := b.assess(connected, connectedSince)
			prev := Health(b.health.status.Swap(int32(next)))
			if prev != next {
				b.log.WithComponent("batcher").WithFields(logger.Fields{
					"from": prev.String(),
					"to":   next.String(),
				}).Info("feed health changed")
			}
		}
	}
}

func (b *Batcher) assess(connected bool, connectedSince time.Time) Health {
	if !connected {
		return HealthDisconnected
	}
	// Freshness is measured from the later of the last frame and the moment
	// the connection opened, so a fresh connection is not immediately stale.
	last := b.client.LastFrameAt()
	if connectedSince.After(last) {
		last = connectedSince
	}
	age := time.Since(last)
	switch {
	case age >= b.cfg.StaleAfter:
		return HealthStale
	case age >= b.cfg.DegradedAfter:
		return HealthDegraded
	default:
		return HealthLive
	}
}
