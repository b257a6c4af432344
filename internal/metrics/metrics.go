// Package metrics holds the Prometheus collectors shared by the server and the engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// StreamFrames counts decoded stream frames by result ("decoded", "skipped").
	StreamFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docchat_stream_frames_total",
			Help: "Stream frames processed by the decoder.",
		},
		[]string{"result"},
	)

	// Sends counts dispatched user messages by reply mode and outcome.
	Sends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docchat_sends_total",
			Help: "Messages sent by the dispatcher.",
		},
		[]string{"mode", "result"},
	)

	// Answers counts answers produced by the server by mode and outcome.
	Answers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docchat_answers_total",
			Help: "Answers generated by the chat backend.",
		},
		[]string{"mode", "result"},
	)

	// ActiveStreams tracks streamed replies currently being written by the server.
	ActiveStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "docchat_active_streams",
			Help: "Streamed replies in progress.",
		},
	)
)

func init() {
	prometheus.MustRegister(StreamFrames)
	prometheus.MustRegister(Sends)
	prometheus.MustRegister(Answers)
	prometheus.MustRegister(ActiveStreams)
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
