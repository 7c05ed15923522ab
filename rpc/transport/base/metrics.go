package base

import "github.com/VictoriaMetrics/metrics"

// Counters exported through metrics.WritePrometheus
var (
	connectionsOpenedOutgoing = metrics.GetOrCreateCounter(`ice_connections_opened_total{direction="outgoing"}`)
	connectionsOpenedIncoming = metrics.GetOrCreateCounter(`ice_connections_opened_total{direction="incoming"}`)
	connectionsClosed         = metrics.GetOrCreateCounter(`ice_connections_closed_total`)

	batchAutoFlushes     = metrics.GetOrCreateCounter(`ice_batch_flushes_total{trigger="auto"}`)
	batchExplicitFlushes = metrics.GetOrCreateCounter(`ice_batch_flushes_total{trigger="explicit"}`)
	batchRequests        = metrics.GetOrCreateCounter(`ice_batch_requests_total`)
	batchDiscarded       = metrics.GetOrCreateCounter(`ice_batch_requests_discarded_total`)
)
