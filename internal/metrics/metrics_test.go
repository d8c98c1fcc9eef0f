package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestServeDisabledWhenAddrBlank(t *testing.T) {
	require.NoError(t, Serve(context.Background(), ""))
}

func TestServeStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)

	go func() { errCh <- Serve(ctx, "127.0.0.1:0") }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop after context cancellation")
	}
}

func TestGaugeVecAndCounterVecAreUsable(t *testing.T) {
	QueueDepth.WithLabelValues("pending").Set(3)
	SenderOutcomesTotal.WithLabelValues("sent").Inc()
	SenderOnline.Set(1)
	UtterancesEmittedTotal.Inc()
	UtterancesDiscardedTotal.Inc()
	TranscriptionDuration.Observe(0.5)
}
