// Package transcriber loads a pluggable ASR backend and turns captured
// utterance WAV files into persisted transcript.Records for the Queue.
//
// Backend selection follows a transcribe.py-style dispatch (pywhispercpp /
// openai / faster-whisper chosen by a whisper_backend setting), adapted to
// the three in-tree backends below behind a single pipeline-stage shape.
package transcriber

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/marvinmvns/whisperlisten-go/internal/apperr"
	"github.com/marvinmvns/whisperlisten-go/internal/config"
	"github.com/marvinmvns/whisperlisten-go/internal/transcript"
	"github.com/marvinmvns/whisperlisten-go/internal/wavfile"
)

// Backend recognizes mono float32 PCM samples as text. A Backend need not
// be safe for concurrent Recognize calls; the orchestrator serializes
// access to a single Transcriber.
type Backend interface {
	Name() string
	Recognize(ctx context.Context, samples []float32, sampleRate int) (string, error)
	Close() error
}

// primaryBackend is retried once when the configured backend fails to load.
const primaryBackend = "cpp"

// Load constructs the Backend named by cfg.Backend. If that fails to load
// and cfg.Backend isn't already the primary backend, Load retries once with
// the primary backend; if that also fails, it returns a ConfigError wrapping
// the original BackendLoadError.
func Load(cfg config.TranscriberConfig, logger *slog.Logger) (Backend, error) {
	backend, err := newBackend(cfg)
	if err == nil {
		return backend, nil
	}

	if strings.EqualFold(strings.TrimSpace(cfg.Backend), primaryBackend) {
		return nil, apperr.New(apperr.KindConfig, "transcriber.Load",
			apperr.New(apperr.KindBackendLoad, "transcriber.Load", err))
	}

	logger.Warn("transcriber backend failed to load, retrying with primary backend",
		"configured", cfg.Backend, "primary", primaryBackend, "error", err)

	fallbackCfg := cfg
	fallbackCfg.Backend = primaryBackend
	backend, fallbackErr := newBackend(fallbackCfg)
	if fallbackErr != nil {
		return nil, apperr.New(apperr.KindConfig, "transcriber.Load",
			apperr.New(apperr.KindBackendLoad, "transcriber.Load",
				fmt.Errorf("primary backend also failed: %w (configured backend error: %v)", fallbackErr, err)))
	}
	return backend, nil
}

func newBackend(cfg config.TranscriberConfig) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "cpp":
		return newWhisperCPPBackend(cfg.ModelPath, cfg.Language, cfg.NThreads)
	case "fast":
		return newWhisperFastBackend(cfg.ModelPath, cfg.ModelName, cfg.Language, cfg.NThreads)
	case "reference":
		return newReferenceBackend(), nil
	default:
		return nil, fmt.Errorf("transcriber: unknown backend %q", cfg.Backend)
	}
}

// Transcriber turns a captured utterance WAV into a persisted
// transcript.Record. The input WAV is always removed once Transcribe
// returns, regardless of outcome.
type Transcriber struct {
	backend Backend
	writer  *transcript.Writer
	logger  *slog.Logger
}

// New wires a loaded Backend to a transcript.Writer rooted at outputDir.
func New(backend Backend, outputDir string, logger *slog.Logger) (*Transcriber, error) {
	writer, err := transcript.NewWriter(outputDir)
	if err != nil {
		return nil, err
	}
	return &Transcriber{backend: backend, writer: writer, logger: logger}, nil
}

// Transcribe reads wavPath, recognizes its speech, and persists the
// normalized transcript. It returns nil, nil when the recognized text is
// empty or whitespace-only (the caller drops the utterance per contract),
// and nil, err when the backend or persistence step failed.
func (t *Transcriber) Transcribe(ctx context.Context, wavPath string) (*transcript.Record, error) {
	defer func() {
		if err := os.Remove(wavPath); err != nil && !os.IsNotExist(err) {
			t.logger.Warn("failed to remove utterance wav", "path", wavPath, "error", err)
		}
	}()

	pcm, sampleRate, err := wavfile.Read(wavPath)
	if err != nil {
		return nil, apperr.New(apperr.KindTranscription, "transcriber.Transcribe", err)
	}

	start := time.Now()
	text, err := t.backend.Recognize(ctx, pcmToFloat32(pcm), sampleRate)
	duration := time.Since(start)
	if err != nil {
		return nil, apperr.New(apperr.KindTranscription, "transcriber.Transcribe", err)
	}

	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	rec := transcript.Record{
		Text:      text,
		Timestamp: time.Now(),
		Duration:  duration,
		Backend:   t.backend.Name(),
	}

	path, normalized, err := t.writer.Write(rec)
	if err != nil {
		return nil, apperr.New(apperr.KindTranscription, "transcriber.Transcribe", err)
	}
	// The persisted file and the record handed to the Queue must agree on
	// the exact text, so rec.Text is reassigned to what Write actually
	// normalized and wrote rather than the raw backend output.
	rec.Text = normalized
	rec.File = path
	return &rec, nil
}

// Close releases the underlying backend's resources.
func (t *Transcriber) Close() error {
	return t.backend.Close()
}
