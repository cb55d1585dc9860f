// Package metrics holds the loader's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "erp_loader",
		Name:      "batches_total",
		Help:      "Batches submitted, by mode and result (ok|failed).",
	}, []string{"mode", "result"})
	RecordsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "erp_loader",
		Name:      "records_total",
		Help:      "Records folded into run results, by mode and outcome status.",
	}, []string{"mode", "status"})
	SubmitDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "erp_loader",
		Name:      "submit_duration_seconds",
		Help:      "Backend call latency per adapter.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"adapter"})
	TokenFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "erp_loader",
		Name:      "token_failures_total",
		Help:      "Security token handshakes that failed, by kind.",
	}, []string{"kind"})
	RunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "erp_loader",
		Name:      "runs_total",
		Help:      "Finished runs by terminal state.",
	}, []string{"state"})
)

// Init registers collectors; call once from main.
func Init() {
	prometheus.MustRegister(BatchesTotal, RecordsTotal, SubmitDuration, TokenFailures, RunsTotal)
}

// Handler exposes the registered collectors.
func Handler() http.Handler { return promhttp.Handler() }

// Serve starts a /metrics server on the given addr (e.g., ":9090"). Non-blocking when run in goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return http.ListenAndServe(addr, mux)
}
