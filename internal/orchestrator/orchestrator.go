// Package orchestrator wires the Queue, Transcriber, Segmenter, and Sender
// into a single running agent, and serves the daemon control socket used
// by the other CLI subcommands.
//
// Lifecycle wiring follows a bottom-up init order with signal-based
// graceful shutdown, and the run loop follows a capture → segment →
// transcribe → enqueue → send ordering.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/marvinmvns/whisperlisten-go/internal/audio"
	"github.com/marvinmvns/whisperlisten-go/internal/config"
	"github.com/marvinmvns/whisperlisten-go/internal/ipc"
	"github.com/marvinmvns/whisperlisten-go/internal/metrics"
	"github.com/marvinmvns/whisperlisten-go/internal/queue"
	"github.com/marvinmvns/whisperlisten-go/internal/segmenter"
	"github.com/marvinmvns/whisperlisten-go/internal/sender"
	"github.com/marvinmvns/whisperlisten-go/internal/transcriber"
)

// mailboxDepth bounds the number of finalized utterances awaiting
// transcription. The Segmenter's sink never blocks on a full mailbox; an
// utterance is dropped and logged rather than stalling the capture loop.
const mailboxDepth = 8

// utteranceJob is one finalized utterance handed from the Segmenter's sink
// to the single transcription worker.
type utteranceJob struct {
	wavPath   string
	startedAt time.Time
	duration  time.Duration
}

// Agent bundles the initialized pipeline stages for one run of `start`.
type Agent struct {
	cfg    config.Loaded
	logger *slog.Logger

	queue       *queue.Queue
	backend     transcriber.Backend
	transcriber *transcriber.Transcriber
	audioSource *audio.Source
	segmenter   *segmenter.Segmenter
	classifier  *segmenter.SileroClassifier
	sender      *sender.Sender

	mailbox chan utteranceJob

	stateMu sync.Mutex
	state   string

	wg sync.WaitGroup
}

// New initializes every stage in dependency order: Queue, Transcriber,
// Segmenter, Sender. On any failure it tears down whatever was already
// opened before returning the error.
func New(ctx context.Context, cfg config.Loaded, logger *slog.Logger) (_ *Agent, err error) {
	a := &Agent{cfg: cfg, logger: logger, mailbox: make(chan utteranceJob, mailboxDepth), state: "idle"}

	defer func() {
		if err != nil {
			a.closePartial()
		}
	}()

	q, err := queue.Open(filepath.Join(cfg.Config.Paths.QueueDir, "queue.db"), queue.Config{
		MaxRetries:            cfg.Config.Queue.MaxRetries,
		BaseRetryDelaySeconds: cfg.Config.Queue.BaseRetryDelaySeconds,
		MaxRetryDelaySeconds:  cfg.Config.Queue.MaxRetryDelaySeconds,
	})
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}
	a.queue = q

	backend, err := transcriber.Load(cfg.Config.Transcriber, logger)
	if err != nil {
		return nil, fmt.Errorf("load transcriber backend: %w", err)
	}
	a.backend = backend

	tr, err := transcriber.New(backend, cfg.Config.Paths.OutputDir, logger)
	if err != nil {
		return nil, fmt.Errorf("init transcriber: %w", err)
	}
	a.transcriber = tr

	selection, err := audio.SelectDevice(ctx, cfg.Config.Audio.Input, cfg.Config.Audio.Fallback)
	if err != nil {
		return nil, fmt.Errorf("select audio device: %w", err)
	}
	if selection.Warning != "" {
		logger.Warn("audio device fallback engaged", "warning", selection.Warning)
	}

	src, err := audio.Open(ctx, selection.Device, cfg.Config.Audio.SampleRate, cfg.Config.Audio.FrameMillis)
	if err != nil {
		return nil, fmt.Errorf("open audio source: %w", err)
	}
	a.audioSource = src

	classifier, err := segmenter.NewSileroClassifier(cfg.Config.Transcriber.ModelPath, cfg.Config.Audio.SampleRate, cfg.Config.VAD.Aggressiveness)
	if err != nil {
		return nil, fmt.Errorf("init VAD classifier: %w", err)
	}
	a.classifier = classifier

	a.segmenter = segmenter.New(segmenter.Config{
		SampleRate:             cfg.Config.Audio.SampleRate,
		FrameMillis:            cfg.Config.Audio.FrameMillis,
		SilenceDurationMs:      cfg.Config.VAD.SilenceDurationMs,
		MinRecordingDurationMs: cfg.Config.VAD.MinRecordingDurationMs,
		TempDir:                cfg.Config.Paths.TempDir,
	}, classifier, a.onUtterance, logger)

	a.sender = sender.New(q, cfg.Config.API, cfg.Config.Sender, logger)

	return a, nil
}

// closePartial releases whatever stages were successfully opened, in
// reverse dependency order, when initialization fails partway through.
func (a *Agent) closePartial() {
	if a.classifier != nil {
		a.classifier.Close()
	}
	if a.audioSource != nil {
		a.audioSource.Close()
	}
	if a.transcriber != nil {
		a.transcriber.Close()
	} else if a.backend != nil {
		a.backend.Close()
	}
	if a.queue != nil {
		a.queue.Close()
	}
}

// onUtterance is the Segmenter's sink: it never blocks the capture loop,
// dropping and logging an utterance if the mailbox is saturated.
func (a *Agent) onUtterance(ctx context.Context, wavPath string, startedAt time.Time, duration time.Duration) {
	select {
	case a.mailbox <- utteranceJob{wavPath: wavPath, startedAt: startedAt, duration: duration}:
	default:
		a.logger.Warn("transcription mailbox full, dropping utterance", "path", wavPath)
		metrics.UtterancesDiscardedTotal.Inc()
	}
}

func (a *Agent) setState(s string) {
	a.stateMu.Lock()
	a.state = s
	a.stateMu.Unlock()
}

// State reports the Segmenter's current lifecycle state, for the `status`
// daemon command.
func (a *Agent) State() string {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.state
}

// Run starts the capture loop, the single transcription worker, the
// Sender's background loops, the 30s status task, and the daemon control
// socket, blocking until ctx is cancelled. Shutdown then proceeds Segmenter
// → Sender (bounded join) → Queue, per the pipeline's teardown order.
func (a *Agent) Run(ctx context.Context, socketPath string) error {
	a.setState("recording")

	segCtx, segCancel := context.WithCancel(ctx)

	a.wg.Add(1)
	segErrCh := make(chan error, 1)
	go func() {
		defer a.wg.Done()
		segErrCh <- a.segmenter.Run(segCtx, a.audioSource)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.transcriptionWorker(ctx)
	}()

	a.sender.Run(ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.statusLoop(ctx)
	}()

	var ipcErrCh chan error
	if socketPath != "" {
		listener, err := ipc.Acquire(ctx, socketPath, 200*time.Millisecond, 2, nil)
		if err != nil {
			segCancel()
			return fmt.Errorf("acquire control socket: %w", err)
		}
		ipcErrCh = make(chan error, 1)
		handler := ipc.DaemonHandler{
			State:    a.State,
			IsOnline: a.sender.IsOnline,
			Retry:    a.sender.Retry,
			Stats: func() (any, error) {
				return a.queue.GetStats()
			},
			Pending: func(limit int) (any, error) {
				return a.queue.Pending(limit)
			},
			Recent: func(limit int) (any, error) {
				return a.queue.List(limit)
			},
			Cleanup: a.queue.Cleanup,
			Version: "dev",
		}
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			ipcErrCh <- ipc.Serve(ctx, listener, handler)
		}()
	}

	<-ctx.Done()
	a.setState("stopping")

	segCancel()
	<-segErrCh

	a.sender.Stop(2 * time.Second)

	close(a.mailbox)
	a.wg.Wait()

	a.closePartial()

	if ipcErrCh != nil {
		if err := <-ipcErrCh; err != nil {
			return err
		}
	}
	return nil
}

// transcriptionWorker is the single consumer draining the mailbox, running
// the Transcriber, and enqueueing successful results.
func (a *Agent) transcriptionWorker(ctx context.Context) {
	for job := range a.mailbox {
		rec, err := a.transcriber.Transcribe(ctx, job.wavPath)
		if err != nil {
			a.logger.Error("transcription failed", "path", job.wavPath, "error", err)
			continue
		}
		if rec == nil {
			metrics.UtterancesDiscardedTotal.Inc()
			continue
		}
		metrics.UtterancesEmittedTotal.Inc()
		metrics.TranscriptionDuration.Observe(rec.Duration.Seconds())

		if _, err := a.queue.Add(queue.Record{
			Text:                rec.Text,
			FilePath:            rec.File,
			TranscriptTimestamp: rec.Timestamp,
		}); err != nil {
			a.logger.Error("enqueue transcript failed", "file", rec.File, "error", err)
		}
	}
}

// statusLoop logs queue depth and connectivity every 30 seconds.
func (a *Agent) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := a.queue.GetStats()
			if err != nil {
				a.logger.Error("status: queue stats failed", "error", err)
				continue
			}
			metrics.QueueDepth.WithLabelValues("pending").Set(float64(stats.Pending))
			metrics.QueueDepth.WithLabelValues("sending").Set(float64(stats.Sending))
			metrics.QueueDepth.WithLabelValues("sent").Set(float64(stats.Sent))
			metrics.QueueDepth.WithLabelValues("failed_permanent").Set(float64(stats.FailedPermanent))

			a.logger.Info("status",
				"state", a.State(),
				"online", a.sender.IsOnline(),
				"queue_pending", stats.Pending,
				"queue_sending", stats.Sending,
				"queue_sent", stats.Sent,
				"queue_failed_permanent", stats.FailedPermanent,
			)
		}
	}
}
