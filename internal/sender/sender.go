// Package sender dispatches queued transcripts to the remote API with
// connectivity awareness and bounded concurrency.
//
// Follows a sender.py-style connectivity/dispatch loop split, payload
// shape, and response classification rules, with structured logging and
// a bounded graceful-shutdown sequence.
package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marvinmvns/whisperlisten-go/internal/config"
	"github.com/marvinmvns/whisperlisten-go/internal/metrics"
	"github.com/marvinmvns/whisperlisten-go/internal/queue"
)

// connectivityProbeEndpoint is the well-known internet endpoint dialed by
// the connectivity probe's TCP-reachability check, independent of the
// configured API.
const connectivityProbeEndpoint = "8.8.8.8:53"

// payload is the JSON body POSTed for each dispatched item.
type payload struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
	QueuedAt  time.Time `json:"queued_at"`
	Attempt   int       `json:"attempt"`
}

// Sender polls the Queue and a connectivity probe, dispatching eligible
// items to the remote API with bounded concurrency.
type Sender struct {
	queue   *queue.Queue
	cfg     config.APIConfig
	sendCfg config.SenderConfig
	client  *http.Client
	logger  *slog.Logger

	online      atomic.Bool
	activeSends atomic.Int32

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New constructs a Sender. The returned Sender is inert until Run is
// called.
func New(q *queue.Queue, apiCfg config.APIConfig, sendCfg config.SenderConfig, logger *slog.Logger) *Sender {
	timeout := time.Duration(sendCfg.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Sender{
		queue:   q,
		cfg:     apiCfg,
		sendCfg: sendCfg,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Run starts the connectivity-probe and dispatch-loop goroutines. It
// returns immediately; call Stop to end both loops.
func (s *Sender) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(2)
	go s.connectivityLoop(runCtx)
	go s.dispatchLoop(runCtx)
}

// Stop ends both background loops and blocks until in-flight dispatches
// either complete or the given bound elapses.
func (s *Sender) Stop(bound time.Duration) {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(bound):
		s.logger.Warn("sender shutdown bound exceeded, in-flight sends may be abandoned")
	}
}

// IsOnline reports the cached connectivity state.
func (s *Sender) IsOnline() bool { return s.online.Load() }

func (s *Sender) connectivityLoop(ctx context.Context) {
	defer s.wg.Done()

	interval := time.Duration(s.sendCfg.ConnectivityCheckIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}

	s.probeOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.probeOnce(ctx)
		}
	}
}

func (s *Sender) probeOnce(ctx context.Context) {
	was := s.online.Load()
	now := s.checkConnectivity(ctx)
	s.online.Store(now)
	metrics.SenderOnline.Set(boolToFloat(now))

	if now != was {
		status := "OFFLINE"
		if now {
			status = "ONLINE"
		}
		s.logger.Info("connectivity status changed", "status", status)
	}
}

// checkConnectivity succeeds iff a TCP connection can be established to a
// well-known internet endpoint and a GET on {api_url}/health returns a
// status under 400 within a short timeout. With an empty api_url the health
// GET is skipped and the TCP check alone decides.
func (s *Sender) checkConnectivity(ctx context.Context) bool {
	dialer := net.Dialer{Timeout: 3 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", connectivityProbeEndpoint)
	if err != nil {
		return false
	}
	conn.Close()

	if strings.TrimSpace(s.cfg.URL) == "" {
		return true
	}

	healthCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(healthCtx, http.MethodGet, strings.TrimRight(s.cfg.URL, "/")+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 400
}

func (s *Sender) dispatchLoop(ctx context.Context) {
	defer s.wg.Done()

	interval := time.Duration(s.sendCfg.SendCheckIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 2 * time.Second
	}
	maxConcurrent := s.sendCfg.MaxConcurrentSends
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.online.Load() {
				s.dispatchTick(ctx, maxConcurrent)
			}
		}
	}
}

func (s *Sender) dispatchTick(ctx context.Context, maxConcurrent int) {
	if int(s.activeSends.Load()) >= maxConcurrent {
		return
	}

	if item, ok, err := s.queue.NextPending(); err != nil {
		s.logger.Error("fetch next pending item failed", "error", err)
	} else if ok {
		s.dispatchAsync(ctx, item)
	}

	retryable, err := s.queue.Retryable()
	if err != nil {
		s.logger.Error("fetch retryable items failed", "error", err)
		return
	}
	for _, item := range retryable {
		if int(s.activeSends.Load()) >= maxConcurrent {
			return
		}
		s.dispatchAsync(ctx, item)
	}
}

func (s *Sender) dispatchAsync(ctx context.Context, item queue.Item) {
	s.activeSends.Add(1)
	metrics.SenderActiveSends.Set(float64(s.activeSends.Load()))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.activeSends.Add(-1)
			metrics.SenderActiveSends.Set(float64(s.activeSends.Load()))
		}()
		s.dispatch(ctx, item)
	}()
}

// Retry resets id's attempts and dispatches it immediately if online.
func (s *Sender) Retry(ctx context.Context, id string) error {
	if err := s.queue.ResetAttempts(id); err != nil {
		return err
	}
	if !s.online.Load() {
		return nil
	}
	item, ok, err := s.queue.Get(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("sender: item %q not found after reset", id)
	}
	s.dispatchAsync(ctx, item)
	return nil
}

// ForceSend dispatches id without resetting its attempt count.
func (s *Sender) ForceSend(ctx context.Context, id string) error {
	item, ok, err := s.queue.Get(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("sender: item %q not found", id)
	}
	s.dispatchAsync(ctx, item)
	return nil
}

// dispatch performs one POST attempt for item and feeds the outcome back
// to the Queue per the classification table.
func (s *Sender) dispatch(ctx context.Context, item queue.Item) {
	if err := s.queue.MarkSending(item.ID); err != nil {
		s.logger.Warn("mark sending failed, skipping dispatch", "id", item.ID, "error", err)
		return
	}

	body, err := json.Marshal(payload{
		ID:        item.ID,
		Timestamp: item.TranscriptTimestamp,
		Text:      item.Text,
		QueuedAt:  item.CreatedAt,
		Attempt:   item.Attempts,
	})
	if err != nil {
		s.fail(item.ID, "unexpected_error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		s.fail(item.ID, "unexpected_error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
	}
	s.applyAuth(req)

	resp, err := s.client.Do(req)
	if err != nil {
		s.classifyTransportError(item.ID, err)
		return
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		s.succeed(item.ID, resp, data)
	case resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests:
		s.permanentFail(item.ID, fmt.Sprintf("http %d: %s", resp.StatusCode, string(data)))
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests:
		s.fail(item.ID, "http_error", fmt.Errorf("http %d: %s", resp.StatusCode, string(data)))
	default:
		s.fail(item.ID, "unexpected_error", fmt.Errorf("http %d: %s", resp.StatusCode, string(data)))
	}
}

func (s *Sender) applyAuth(req *http.Request) {
	if strings.TrimSpace(s.cfg.Token) == "" {
		return
	}
	if strings.EqualFold(s.cfg.AuthStyle, "api_key") {
		req.Header.Set("X-API-Key", s.cfg.Token)
		return
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
}

func (s *Sender) succeed(id string, resp *http.Response, body []byte) {
	envelope := map[string]any{
		"status":  resp.StatusCode,
		"headers": resp.Header,
	}
	if len(body) > 0 {
		var decoded any
		if err := json.Unmarshal(body, &decoded); err == nil {
			envelope["data"] = decoded
		} else {
			envelope["data"] = string(body)
		}
	}
	encoded, err := json.Marshal(envelope)
	if err != nil {
		encoded = body
	}

	if err := s.queue.MarkSent(id, string(encoded)); err != nil {
		s.logger.Error("mark sent failed", "id", id, "error", err)
		return
	}
	metrics.SenderOutcomesTotal.WithLabelValues("sent").Inc()
	s.logger.Info("transcript sent", "id", id, "status", resp.StatusCode)
}

// classifyTransportError distinguishes a timeout from a connection/DNS
// failure among errors returned directly by http.Client.Do.
func (s *Sender) classifyTransportError(id string, err error) {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		s.fail(id, "timeout", err)
		return
	}

	s.online.Store(false)
	metrics.SenderOnline.Set(0)
	s.fail(id, "connection_error", err)
}

func (s *Sender) fail(id string, outcome string, cause error) {
	if err := s.queue.MarkFailed(id, cause.Error()); err != nil {
		s.logger.Error("mark failed failed", "id", id, "error", err)
		return
	}
	metrics.SenderOutcomesTotal.WithLabelValues(outcome).Inc()
	s.logger.Warn("transcript dispatch failed", "id", id, "outcome", outcome, "error", cause)
}

func (s *Sender) permanentFail(id string, reason string) {
	if err := s.queue.MarkPermanentFailure(id, reason); err != nil {
		s.logger.Error("mark permanent failure failed", "id", id, "error", err)
		return
	}
	metrics.SenderOutcomesTotal.WithLabelValues("permanent_failed").Inc()
	s.logger.Warn("transcript permanently failed", "id", id, "reason", reason)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
