package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the service's collectors. A nil *Registry is valid and
// records nothing.
type Registry struct {
	reg *prometheus.Registry

	TxTotal        *prometheus.CounterVec
	TxLatencySec   *prometheus.HistogramVec
	Recomputed     prometheus.Counter
	DispatchRows   *prometheus.CounterVec
	StockSyncRows  *prometheus.CounterVec
	FeedQueueDepth prometheus.Gauge
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	txTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_tx_total",
		Help: "Lifecycle transactions by operation and result.",
	}, []string{"op", "result"})
	txLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orders_tx_latency_seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
	recomputed := prometheus.NewCounter(prometheus.CounterOpts{Name: "orders_virtual_stock_recomputed_total"})
	dispatchRows := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "orders_dispatch_rows_total"}, []string{"result"})
	stockRows := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "orders_stock_sync_rows_total"}, []string{"result"})
	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{Name: "orders_feed_queue_depth"})

	r.MustRegister(txTotal, txLatency, recomputed, dispatchRows, stockRows, queueDepth)
	return &Registry{
		reg:            r,
		TxTotal:        txTotal,
		TxLatencySec:   txLatency,
		Recomputed:     recomputed,
		DispatchRows:   dispatchRows,
		StockSyncRows:  stockRows,
		FeedQueueDepth: queueDepth,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }

func (r *Registry) ObserveTx(op string, start time.Time, err error) {
	if r == nil {
		return
	}
	result := "committed"
	if err != nil {
		result = "aborted"
	}
	r.TxTotal.WithLabelValues(op, result).Inc()
	r.TxLatencySec.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (r *Registry) AddRecomputed(n int) {
	if r == nil || n == 0 {
		return
	}
	r.Recomputed.Add(float64(n))
}

func (r *Registry) DispatchRow(result string) {
	if r == nil {
		return
	}
	r.DispatchRows.WithLabelValues(result).Inc()
}

func (r *Registry) StockSyncRow(result string) {
	if r == nil {
		return
	}
	r.StockSyncRows.WithLabelValues(result).Inc()
}

func (r *Registry) SetQueueDepth(n int) {
	if r == nil {
		return
	}
	r.FeedQueueDepth.Set(float64(n))
}
