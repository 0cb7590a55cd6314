package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusObserver exports scan pipeline metrics.
type PrometheusObserver struct {
	scanLatency      *prometheus.HistogramVec
	scanSegments     prometheus.Histogram
	checkouts        *prometheus.CounterVec
	faults           prometheus.Counter
	materializations *prometheus.CounterVec
	materializeRows  prometheus.Counter
	materializeTime  prometheus.Histogram
	visibility       *prometheus.CounterVec
}

// NewPrometheusObserver registers the collectors with reg. A nil reg uses
// the default registerer.
func NewPrometheusObserver(reg prometheus.Registerer) *PrometheusObserver {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &PrometheusObserver{
		scanLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mvccindex_scan_duration_seconds",
			Help:    "Duration of parallel scans",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		scanSegments: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "mvccindex_scan_segments",
			Help:    "Segments visited per scan",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		checkouts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mvccindex_segments_checked_out_total",
			Help: "Segments claimed by workers",
		}, []string{"worker"}),
		faults: f.NewCounter(prometheus.CounterOpts{
			Name: "mvccindex_worker_faults_total",
			Help: "Workers that terminated abnormally",
		}),
		materializations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mvccindex_materializations_total",
			Help: "Memory segments materialized for a store",
		}, []string{"status"}),
		materializeRows: f.NewCounter(prometheus.CounterOpts{
			Name: "mvccindex_materialized_rows_total",
			Help: "Rows indexed while materializing Memory segments",
		}),
		materializeTime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "mvccindex_materialize_duration_seconds",
			Help:    "Duration of Memory segment materialization",
			Buckets: prometheus.DefBuckets,
		}),
		visibility: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mvccindex_visibility_checks_total",
			Help: "Row visibility checks by path",
		}, []string{"path"}),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// OnScan implements Observer.
func (o *PrometheusObserver) OnScan(d time.Duration, segments, workers int, err error) {
	o.scanLatency.WithLabelValues(status(err)).Observe(d.Seconds())
	o.scanSegments.Observe(float64(segments))
}

// OnCheckout implements Observer.
func (o *PrometheusObserver) OnCheckout(worker, segments int) {
	o.checkouts.WithLabelValues(strconv.Itoa(worker)).Add(float64(segments))
}

// OnWorkerFault implements Observer.
func (o *PrometheusObserver) OnWorkerFault(int) {
	o.faults.Inc()
}

// OnMaterialize implements Observer.
func (o *PrometheusObserver) OnMaterialize(d time.Duration, rows int, err error) {
	o.materializations.WithLabelValues(status(err)).Inc()
	o.materializeRows.Add(float64(rows))
	o.materializeTime.Observe(d.Seconds())
}

// OnVisibility implements Observer.
func (o *PrometheusObserver) OnVisibility(fastPath, slowPath, missing uint64) {
	o.visibility.WithLabelValues("fast").Add(float64(fastPath))
	o.visibility.WithLabelValues("slow").Add(float64(slowPath))
	o.visibility.WithLabelValues("missing").Add(float64(missing))
}
