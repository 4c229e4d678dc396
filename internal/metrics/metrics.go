package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Decode results
const (
	ResultOK        = "ok"
	ResultMalformed = "malformed"
	ResultError     = "error"
)

var (
	decodesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mazereplay_decodes_total",
		Help: "Replay payloads decoded, by result",
	}, []string{"result"})

	decodeTurns = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mazereplay_decode_turns",
		Help:    "Number of turns in successfully decoded replays",
		Buckets: prometheus.ExponentialBuckets(10, 2, 10),
	})

	decodeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mazereplay_decode_duration_seconds",
		Help:    "Time spent reading and decoding a replay payload",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	framesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mazereplay_frames_total",
		Help: "Frames pushed to viewers",
	})

	activeViewers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mazereplay_active_viewers",
		Help: "Currently connected websocket viewers",
	})

	grpcRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mazereplay_grpc_requests_total",
		Help: "gRPC requests handled, by method and status code",
	}, []string{"method", "code"})
)

// ObserveDecode records one decode attempt
func ObserveDecode(result string, turns int, elapsed time.Duration) {
	decodesTotal.WithLabelValues(result).Inc()
	decodeDuration.Observe(elapsed.Seconds())
	if result == ResultOK {
		decodeTurns.Observe(float64(turns))
	}
}

// FrameSent counts one frame delivered to a viewer
func FrameSent() {
	framesTotal.Inc()
}

// ViewerConnected and ViewerDisconnected track the active viewer gauge
func ViewerConnected() {
	activeViewers.Inc()
}

func ViewerDisconnected() {
	activeViewers.Dec()
}

// GRPCRequest counts one handled gRPC call
func GRPCRequest(method, code string) {
	grpcRequests.WithLabelValues(method, code).Inc()
}

// Handler exposes the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
