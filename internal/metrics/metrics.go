// Package metrics exposes Prometheus counters for token operations.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tokend"

// Result label values.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// Registry holds every collector exported by the daemon.
var Registry = prometheus.NewRegistry()

var (
	Mints = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mints_total",
		Help:      "Token mint attempts by result.",
	}, []string{"result"})

	Transfers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transfers_total",
		Help:      "Token transfer attempts by result.",
	}, []string{"result"})

	Accepts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "accepts_total",
		Help:      "Incoming transfers accepted into the wallet.",
	})

	Rejects = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rejects_total",
		Help:      "Incoming transfers rejected.",
	})

	SkippedRecords = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "skipped_records_total",
		Help:      "Wallet outputs skipped during aggregation because they did not decode.",
	})

	PendingTransfers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_transfers",
		Help:      "Incoming transfers waiting in the mailbox at the last listing.",
	})

	RPCRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rpc_requests_total",
		Help:      "JSON-RPC requests by method and outcome.",
	}, []string{"method", "result"})
)

func init() {
	Registry.MustRegister(
		Mints,
		Transfers,
		Accepts,
		Rejects,
		SkippedRecords,
		PendingTransfers,
		RPCRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Outcome maps an error to a result label value.
func Outcome(err error, rejected func(error) bool) string {
	switch {
	case err == nil:
		return ResultOK
	case rejected != nil && rejected(err):
		return ResultRejected
	default:
		return ResultError
	}
}
