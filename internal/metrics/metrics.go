// Package metrics exports Prometheus instrumentation for the queue and
// sender stages using the client_golang promauto helpers.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "whisperlisten_queue_depth",
		Help: "Number of queue items per status",
	}, []string{"status"})

	SenderActiveSends = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "whisperlisten_sender_active_sends",
		Help: "Number of in-flight dispatches",
	})

	SenderOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whisperlisten_sender_outcomes_total",
		Help: "Total dispatch outcomes by classification",
	}, []string{"outcome"})

	SenderOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "whisperlisten_sender_online",
		Help: "1 if the connectivity prober currently considers the remote API reachable",
	})

	TranscriptionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "whisperlisten_transcription_duration_seconds",
		Help:    "Transcriber backend latency per utterance",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	})

	UtterancesEmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whisperlisten_utterances_emitted_total",
		Help: "Total utterances finalized by the Segmenter",
	})

	UtterancesDiscardedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whisperlisten_utterances_discarded_total",
		Help: "Total utterances discarded for falling below min_recording_duration_ms",
	})
)

// Serve starts an HTTP server exposing /metrics on addr until ctx is
// cancelled. A blank addr disables the endpoint and Serve returns nil
// immediately.
func Serve(ctx context.Context, addr string) error {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return server.Close()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
