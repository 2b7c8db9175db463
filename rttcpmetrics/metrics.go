// Package rttcpmetrics defines the prometheus metric types exported by this
// program, and is imported for side effects (promauto registers each
// variable with the default registry at init time).
//
// When adding a new metric, these are helpful things to track:
//   - things coming into or going out of the system: packets, connections, lines.
//   - the success or error status of any of the above.
//   - the distribution of processing latency or sample counts.
package rttcpmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PacketsTotal counts packets accepted by the aggregator, by ip_proto.
	// Provides metric:
	//    rttcp_packets_total{proto}
	// Example usage:
	//    rttcpmetrics.PacketsTotal.WithLabelValues("tcp").Inc()
	PacketsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rttcp_packets_total",
		Help: "The number of packets accepted by the trace aggregator, by ip_proto.",
	}, []string{"proto"})

	// ConnectionsTotal counts distinct connections (5-tuples) first seen.
	// Provides metric:
	//    rttcp_connections_total
	// Example usage:
	//    rttcpmetrics.ConnectionsTotal.Inc()
	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rttcp_connections_total",
		Help: "The number of distinct connections observed.",
	})

	// ParseErrors counts lines an input Source could not parse, by reason.
	// Provides metric:
	//    rttcp_parse_errors_total{reason}
	// Example usage:
	//    rttcpmetrics.ParseErrors.WithLabelValues("short_record").Inc()
	ParseErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rttcp_parse_errors_total",
		Help: "The number of input lines discarded due to a parse error, by reason.",
	}, []string{"reason"})

	// SuspectDeltaTotal counts packet-mode delta samples above 1 second, by
	// delta kind (delta1..delta3). Counted samples are still emitted.
	// Provides metric:
	//    rttcp_suspect_delta_total{kind}
	// Example usage:
	//    rttcpmetrics.SuspectDeltaTotal.WithLabelValues("delta1").Inc()
	SuspectDeltaTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rttcp_suspect_delta_total",
		Help: "The number of delta samples flagged as suspect (above 1 second), by delta kind.",
	}, []string{"kind"})

	// HzEstimationFailures counts connection directions for which no popularHz
	// candidate matched the observed TSval clock closely enough.
	// Provides metric:
	//    rttcp_hz_estimation_failures_total
	// Example usage:
	//    rttcpmetrics.HzEstimationFailures.Inc()
	HzEstimationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rttcp_hz_estimation_failures_total",
		Help: "The number of connection directions for which sender clock frequency estimation failed.",
	})
)
