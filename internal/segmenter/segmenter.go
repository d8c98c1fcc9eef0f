// Package segmenter implements the Idle/Recording VAD state machine that
// turns a continuous PCM frame stream into bounded WAV utterances.
//
// Drives its idle/recording states through a small explicit state machine,
// with a Silero detector wired in behind a small classifier seam.
package segmenter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/marvinmvns/whisperlisten-go/internal/apperr"
	"github.com/marvinmvns/whisperlisten-go/internal/frame"
	"github.com/marvinmvns/whisperlisten-go/internal/fsm"
	"github.com/marvinmvns/whisperlisten-go/internal/wavfile"
)

// Source supplies one PCM frame at a time; satisfied by *audio.Source.
type Source interface {
	ReadFrame(ctx context.Context) (frame.Frame, error)
}

// Classifier labels one frame as speech (true) or non-speech (false).
type Classifier interface {
	Classify(f frame.Frame) (bool, error)
}

// Sink receives each finalized utterance exactly once.
type Sink func(ctx context.Context, wavPath string, startedAt time.Time, duration time.Duration)

// Config controls segmentation timing and output placement.
type Config struct {
	SampleRate             int
	FrameMillis            int
	SilenceDurationMs      int
	MinRecordingDurationMs int
	TempDir                string
}

// prerollDepth returns K, the number of trailing-silence frames that end an
// utterance and the ring buffer depth preserved before speech onset.
func (c Config) prerollDepth() int {
	if c.FrameMillis <= 0 {
		return 1
	}
	k := c.SilenceDurationMs / c.FrameMillis
	if k < 1 {
		return 1
	}
	return k
}

// Segmenter drives the Idle/Recording state machine over a frame stream.
type Segmenter struct {
	cfg        Config
	classifier Classifier
	sink       Sink
	logger     *slog.Logger

	state State
}

// State is a Segmenter's complete runtime state, exported to keep the
// buffer-geometry invariants ("preroll preserves the acoustic onset", "K
// consecutive trailing-silence frames") easy to unit test in isolation from
// ReadFrame/IO concerns.
type State struct {
	fsmState fsm.State
	preroll  []frame.Frame
	capture  []frame.Frame
	silentIn int // consecutive trailing-silence frames seen while Recording
	startAt  time.Time
	counter  atomic.Int64
}

// New builds a Segmenter; logger may be nil to discard diagnostics.
func New(cfg Config, classifier Classifier, sink Sink, logger *slog.Logger) *Segmenter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Segmenter{
		cfg:        cfg,
		classifier: classifier,
		sink:       sink,
		logger:     logger,
		state:      State{fsmState: fsm.StateIdle, preroll: make([]frame.Frame, 0, cfg.prerollDepth())},
	}
}

// Run consumes frames from source until ctx is cancelled or the source is
// exhausted, driving the state machine and invoking sink on each finalized
// utterance. Any in-progress recording is discarded (not finalized) when Run
// returns, mirroring "stop the Segmenter first" teardown ordering — the
// Orchestrator is expected to drain the device before calling Run's caller
// done, so partial utterances at shutdown are an accepted loss, not a bug.
func (s *Segmenter) Run(ctx context.Context, src Source) error {
	for {
		f, err := src.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return apperr.New(apperr.KindAudioDevice, "segmenter read frame", err)
		}

		if err := s.step(ctx, f); err != nil {
			s.logger.Error("segmenter step failed", "error", err)
		}
	}
}

// step classifies one frame and applies the idle/recording transition table.
func (s *Segmenter) step(ctx context.Context, f frame.Frame) error {
	speech, err := s.classifier.Classify(f)
	if err != nil {
		return fmt.Errorf("classify frame: %w", err)
	}

	event := fsm.EventSilence
	if speech {
		event = fsm.EventSpeech
	}

	switch s.state.fsmState {
	case fsm.StateIdle:
		if speech {
			s.state.capture = append(s.state.capture[:0], s.state.preroll...)
			s.state.capture = append(s.state.capture, f)
			s.state.preroll = s.state.preroll[:0]
			s.state.silentIn = 0
			s.state.startAt = f.CapturedAt
			next, _ := fsm.Transition(s.state.fsmState, event)
			s.state.fsmState = next
			return nil
		}
		s.pushPreroll(f)
		return nil

	case fsm.StateRecording:
		s.state.capture = append(s.state.capture, f)
		if speech {
			s.state.silentIn = 0
			return nil
		}
		s.state.silentIn++
		if s.state.silentIn < s.cfg.prerollDepth() {
			return nil
		}
		next, _ := fsm.Transition(s.state.fsmState, fsm.EventFinalize)
		s.state.fsmState = next
		return s.finalize(ctx)

	default:
		next, err := fsm.Transition(s.state.fsmState, event)
		if err != nil {
			return err
		}
		s.state.fsmState = next
		return nil
	}
}

// pushPreroll appends f to the pre-roll ring buffer, evicting the oldest
// frame once it reaches capacity K.
func (s *Segmenter) pushPreroll(f frame.Frame) {
	depth := s.cfg.prerollDepth()
	s.state.preroll = append(s.state.preroll, f)
	if len(s.state.preroll) > depth {
		s.state.preroll = s.state.preroll[len(s.state.preroll)-depth:]
	}
}

// finalize writes the accumulated capture buffer as a WAV if it meets
// min_recording_duration_ms, invokes the sink exactly once, and always
// resets the buffers for the next utterance.
func (s *Segmenter) finalize(ctx context.Context) error {
	capture := s.state.capture
	s.state.capture = nil
	startedAt := s.state.startAt
	s.state.silentIn = 0

	durationMs := 0
	for _, f := range capture {
		durationMs += f.DurationMillis()
	}

	if durationMs < s.cfg.MinRecordingDurationMs {
		s.logger.Info("discarding short utterance", "duration_ms", durationMs, "threshold_ms", s.cfg.MinRecordingDurationMs)
		return nil
	}

	path, err := s.nextWavPath()
	if err != nil {
		return fmt.Errorf("allocate wav path: %w", err)
	}
	if err := wavfile.Write(path, capture, s.cfg.SampleRate); err != nil {
		return fmt.Errorf("write utterance wav: %w", err)
	}

	if s.sink != nil {
		s.sink(ctx, path, startedAt, time.Duration(durationMs)*time.Millisecond)
	}
	return nil
}

// nextWavPath allocates a monotonically increasing audio_NNNN.wav path under
// TempDir, rolling from 4 digits to 5+ once the counter exceeds 9999.
func (s *Segmenter) nextWavPath() (string, error) {
	if err := os.MkdirAll(s.cfg.TempDir, 0o700); err != nil {
		return "", err
	}
	n := s.state.counter.Add(1)
	name := fmt.Sprintf("audio_%04d.wav", n)
	return filepath.Join(s.cfg.TempDir, name), nil
}

// AggressivenessToThreshold maps the configured 0-3 aggressiveness onto a
// monotonic Silero speech-probability threshold, 0.2 (permissive) to 0.8
// (strict).
func AggressivenessToThreshold(aggressiveness int) float32 {
	if aggressiveness < 0 {
		aggressiveness = 0
	}
	if aggressiveness > 3 {
		aggressiveness = 3
	}
	return 0.2 + 0.2*float32(aggressiveness)
}
