package metrics

import "streamflow/logger"

// DropMetric identifies the metric name emitted when channel messages are dropped.
type DropMetric string

const (
	// DropMetricEvent records decoded events the offload batcher could not accept.
	DropMetricEvent DropMetric = "event_messages_dropped"
	// DropMetricBatch records coalesced batches the consumer did not drain in time.
	DropMetricBatch DropMetric = "batch_messages_dropped"
)

// EmitDropMetric logs and emits a metric representing a dropped channel message.
// The metric value is always incremented by one so callers should invoke this
// helper for each dropped message. Optional metadata (topic, stage) is added to
// the metric fields when provided which enables downstream aggregation per
// stream type.
func EmitDropMetric(log *logger.Log, metric DropMetric, topic, stage string) {
	fields := logger.Fields{}
	if topic != "" {
		fields["topic"] = topic
	}
	if stage != "" {
		fields["stage"] = stage
	}

	EmitMetric(log, "channel_drops", string(metric), 1, "counter", fields)
}

// EmitMetric forwards a metric through the logger, which also publishes it to
// CloudWatch when the client is configured.
func EmitMetric(log *logger.Log, component, metric string, value interface{}, metricType string, fields logger.Fields) {
	if log == nil {
		log = logger.GetLogger()
	}
	log.LogMetric(component, metric, value, metricType, fields)
}
