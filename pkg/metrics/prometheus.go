package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// StreamStates are the supervisor states exported as a one-hot gauge.
var StreamStates = []string{"idle", "connecting", "streaming", "backing_off"}

// Recorder implements repository.Metrics using Prometheus.
type Recorder struct {
	ticksFlushed *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	backfillBars *prometheus.CounterVec
	gapsFound    *prometheus.CounterVec
	bufferDepth  prometheus.Gauge
	streamState  *prometheus.GaugeVec
	subscribed   prometheus.Gauge
}

// New registers the collectors on the default registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		ticksFlushed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tickvault_ticks_flushed_total",
			Help: "Ticks handed to the storage backend",
		}, []string{"backend"}),
		errorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tickvault_errors_total",
			Help: "Errors by kind",
		}, []string{"type"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tickvault_operation_duration_seconds",
			Help:    "Duration of operations in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		backfillBars: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tickvault_backfill_bars_total",
			Help: "Historical bars written by backfill",
		}, []string{"interval"}),
		gapsFound: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tickvault_gaps_detected_total",
			Help: "Gaps found while serving candle reads",
		}, []string{"interval"}),
		bufferDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "tickvault_tick_buffer_depth",
			Help: "Ticks waiting in the ingest buffer",
		}),
		streamState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tickvault_stream_state",
			Help: "1 for the current streaming supervisor state",
		}, []string{"state"}),
		subscribed: f.NewGauge(prometheus.GaugeOpts{
			Name: "tickvault_stream_subscribed_instruments",
			Help: "Instruments in the active subscription",
		}),
	}
}

func (r *Recorder) RecordTicksFlushed(backend string, n int) {
	r.ticksFlushed.WithLabelValues(backend).Add(float64(n))
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) RecordBackfill(iv string, bars int) {
	r.backfillBars.WithLabelValues(iv).Add(float64(bars))
}

func (r *Recorder) RecordGaps(iv string, n int) {
	r.gapsFound.WithLabelValues(iv).Add(float64(n))
}

func (r *Recorder) SetBufferDepth(n int) { r.bufferDepth.Set(float64(n)) }

func (r *Recorder) SetStreamState(state string) {
	for _, s := range StreamStates {
		v := 0.0
		if s == state {
			v = 1
		}
		r.streamState.WithLabelValues(s).Set(v)
	}
}

func (r *Recorder) SetSubscribed(n int) { r.subscribed.Set(float64(n)) }

// Nop satisfies repository.Metrics and records nothing.
type Nop struct{}

func (Nop) RecordTicksFlushed(string, int) {}
func (Nop) RecordError(string) {}
func (Nop) RecordLatency(string, float64) {}
func (Nop) RecordBackfill(string, int) {}
func (Nop) RecordGaps(string, int) {}
func (Nop) SetBufferDepth(int) {}
func (Nop) SetStreamState(string) {}
func (Nop) SetSubscribed(int) {}
