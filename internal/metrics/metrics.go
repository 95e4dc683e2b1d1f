// Registers:
//
//	streamflow_frames_decoded_total
//	streamflow_frame_decode_failures_total
//	streamflow_duplicates_dropped_total
//	streamflow_events_emitted_total
//	streamflow_reconnects_total
//	go_* and process_* system metrics
//
// Exposes them on the configured listen address using the Prometheus HTTP
// handler.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"streamflow/logger"
)

var (
	once              sync.Once
	framesDecoded     prometheus.Counter
	decodeFailures    prometheus.Counter
	duplicatesDropped *prometheus.CounterVec
	eventsEmitted     *prometheus.CounterVec
	reconnects        prometheus.Counter
)

// Init registers the collectors and, when listen is non-empty, serves
// /metrics on it.
func Init(listen string) {
	once.Do(func() {
		framesDecoded = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamflow_frames_decoded_total",
			Help: "Number of inbound frames decoded successfully",
		})
		decodeFailures = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamflow_frame_decode_failures_total",
			Help: "Number of inbound frames dropped as malformed",
		})
		duplicatesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamflow_duplicates_dropped_total",
			Help: "Number of events suppressed by the dedup window",
		}, []string{"channel"})
		eventsEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamflow_events_emitted_total",
			Help: "Number of events fanned out to listeners",
		}, []string{"channel"})
		reconnects = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamflow_reconnects_total",
			Help: "Number of reconnect attempts scheduled after an unexpected close",
		})

		_ = prometheus.Register(framesDecoded)
		_ = prometheus.Register(decodeFailures)
		_ = prometheus.Register(duplicatesDropped)
		_ = prometheus.Register(eventsEmitted)
		_ = prometheus.Register(reconnects)
		_ = prometheus.Register(collectors.NewGoCollector())
		_ = prometheus.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		if listen == "" {
			return
		}
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(listen, mux); err != nil {
				logger.GetLogger().WithComponent("metrics").WithError(err).Error("metrics server failed")
			}
		}()
	})
}

// IncFrameDecoded increases the decoded-frame counter.
func IncFrameDecoded() {
	if framesDecoded != nil {
		framesDecoded.Inc()
	}
}

// IncDecodeFailure increases the malformed-frame counter.
func IncDecodeFailure() {
	if decodeFailures != nil {
		decodeFailures.Inc()
	}
}

// IncDuplicate increases the dedup suppression counter for a channel.
func IncDuplicate(channel string) {
	if duplicatesDropped != nil {
		duplicatesDropped.WithLabelValues(channel).Inc()
	}
}

// IncEmit increases the fan-out counter for a channel.
func IncEmit(channel string) {
	if eventsEmitted != nil {
		eventsEmitted.WithLabelValues(channel).Inc()
	}
}

// IncReconnect increases the scheduled-reconnect counter.
func IncReconnect() {
	if reconnects != nil {
		reconnects.Inc()
	}
}
