package metrics

import (
	"fmt"
	"net"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ideal-lab5/etf-cli/common/log"
)

// Result labels
const (
	ResultOK    = "ok"
	ResultError = "error"
)

var (
	// PrivateMetrics about the internal world (go process, private stuff)
	PrivateMetrics = prometheus.NewRegistry()
	// HTTPMetrics about the public surface area of the slot server
	HTTPMetrics = prometheus.NewRegistry()
	// ClientMetrics about the secrets client requests to slot servers
	ClientMetrics = prometheus.NewRegistry()

	// EncryptCounter how many bundles were sealed, by result
	EncryptCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "etf_encrypt_total",
		Help: "Number of encryptions, by result",
	}, []string{"result"})

	// DecryptCounter how many decryptions were attempted, by result. Failures
	// are labelled with the decryption error kind.
	DecryptCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "etf_decrypt_total",
		Help: "Number of decryptions, by result",
	}, []string{"result"})

	// ThresholdSize distribution of the thresholds bundles are sealed with
	ThresholdSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "etf_threshold_size",
		Help:    "Threshold of sealed bundles",
		Buckets: prometheus.ExponentialBuckets(1, 2, 8),
	})

	// BundleStoreOps (private) operations on the local bundle store
	BundleStoreOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "etf_bundle_store_ops",
		Help: "Operations on the bundle store",
	}, []string{"op"})

	// SlotKeysServed (HTTP) how many identity keys were handed out
	SlotKeysServed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "slot_keys_served",
		Help: "Number of released slot keys served",
	})
	// SlotTooEarly (HTTP) how many requests came before the slot release time
	SlotTooEarly = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "slot_too_early",
		Help: "Number of slot key requests refused because the slot is not released yet",
	})

	// HTTPCallCounter (HTTP) how many http requests
	HTTPCallCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_call_counter",
		Help: "Number of HTTP calls received",
	}, []string{"code", "method"})
	// HTTPLatency (HTTP) how long http request handling takes
	HTTPLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "http_response_duration",
		Help:        "histogram of request latencies",
		Buckets:     prometheus.DefBuckets,
		ConstLabels: prometheus.Labels{"handler": "http"},
	}, []string{"method"})
	// HTTPInFlight (HTTP) how many http requests exist
	HTTPInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight",
		Help: "A gauge of requests currently being served.",
	})

	// ClientRequests (client) slot key fetches, by result
	ClientRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "client_slot_requests",
		Help: "Slot key requests made by the secrets client",
	}, []string{"result"})
	// ClientCacheHits (client) slot keys served from the local cache
	ClientCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "client_cache_hits",
		Help: "Slot keys served from the client cache",
	})

	metricsBound sync.Once
)

func register(r prometheus.Registerer, cs ...prometheus.Collector) error {
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func bindMetrics(l log.Logger) {
	// The private go-level metrics live in private.
	if err := register(PrivateMetrics,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		EncryptCounter, DecryptCounter, ThresholdSize, BundleStoreOps,
	); err != nil {
		l.Errorw("error in bindMetrics", "metrics", "private", "err", err)
		return
	}

	httpMetrics := []prometheus.Collector{
		HTTPCallCounter,
		HTTPLatency,
		HTTPInFlight,
		SlotKeysServed,
		SlotTooEarly,
	}
	for _, r := range []prometheus.Registerer{HTTPMetrics, PrivateMetrics} {
		if err := register(r, httpMetrics...); err != nil {
			l.Errorw("error in bindMetrics", "metrics", "http", "err", err)
			return
		}
	}

	for _, r := range []prometheus.Registerer{ClientMetrics, PrivateMetrics} {
		if err := RegisterClientMetrics(r); err != nil {
			l.Errorw("error in bindMetrics", "metrics", "client", "err", err)
			return
		}
	}
}

// Bind registers every collector on its registries. It is safe to call more
// than once.
func Bind(l log.Logger) {
	metricsBound.Do(func() {
		bindMetrics(l)
	})
}

// RegisterClientMetrics registers the secrets client metrics with the given registry
func RegisterClientMetrics(r prometheus.Registerer) error {
	return register(r, ClientRequests, ClientCacheHits)
}

// Recorder observes engine operations.
type Recorder interface {
	Encrypted(err error, threshold int)
	Decrypted(result string)
}

type promRecorder struct{}

// NewRecorder returns a Recorder feeding the package counters.
func NewRecorder() Recorder {
	return promRecorder{}
}

func (promRecorder) Encrypted(err error, threshold int) {
	if err != nil {
		EncryptCounter.WithLabelValues(ResultError).Inc()
		return
	}
	EncryptCounter.WithLabelValues(ResultOK).Inc()
	ThresholdSize.Observe(float64(threshold))
}

func (promRecorder) Decrypted(result string) {
	DecryptCounter.WithLabelValues(result).Inc()
}

type nopRecorder struct{}

// NopRecorder returns a Recorder that does nothing.
func NopRecorder() Recorder {
	return nopRecorder{}
}

func (nopRecorder) Encrypted(error, int) {}
func (nopRecorder) Decrypted(string)     {}

// Handler serves the private registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(PrivateMetrics, promhttp.HandlerOpts{Registry: PrivateMetrics})
}

// Start starts a prometheus metrics server. If metricsBind is only a port it
// listens on localhost.
func Start(logger log.Logger, metricsBind string) net.Listener {
	logger.Infow("metrics starting", "desired_port", metricsBind)
	Bind(logger)

	if !strings.Contains(metricsBind, ":") {
		metricsBind = "127.0.0.1:" + metricsBind
	}
	//nolint:noctx
	l, err := net.Listen("tcp", metricsBind)
	if err != nil {
		logger.Warnw("", "metrics", "listen failed", "err", err)
		return nil
	}
	logger.Infow("metric listener started", "addr", l.Addr())

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/debug/gc", func(w http.ResponseWriter, _ *http.Request) {
		runtime.GC()
		fmt.Fprintf(w, "GC run complete")
	})

	s := http.Server{Addr: l.Addr().String(), ReadHeaderTimeout: 3 * time.Second, Handler: mux}
	go func() {
		logger.Warnw("", "metrics", "listen finished", "err", s.Serve(l))
	}()
	return l
}
