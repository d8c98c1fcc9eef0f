package transcriber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// whisperCPPBackend recognizes speech in-process via whisper.cpp's CGO
// bindings. The model is loaded once; each Recognize call opens a fresh
// whisper.cpp context, mirroring whisper.cpp's own context-per-job model.
type whisperCPPBackend struct {
	name     string
	model    whisperlib.Model
	language string
	nThreads int
}

func newWhisperCPPBackend(modelPath, language string, nThreads int) (Backend, error) {
	if strings.TrimSpace(modelPath) == "" {
		return nil, errors.New("transcriber: cpp backend requires model_path")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("transcriber: load whisper.cpp model %q: %w", modelPath, err)
	}

	if language == "" {
		language = "en"
	}
	if nThreads <= 0 {
		nThreads = 4
	}
	return &whisperCPPBackend{name: "cpp", model: model, language: language, nThreads: nThreads}, nil
}

func (b *whisperCPPBackend) Name() string { return b.name }

func (b *whisperCPPBackend) Recognize(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	wctx, err := b.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("transcriber: create whisper.cpp context: %w", err)
	}
	if err := wctx.SetLanguage(b.language); err != nil {
		return "", fmt.Errorf("transcriber: set language %q: %w", b.language, err)
	}
	wctx.SetThreads(uint(b.nThreads))

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("transcriber: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("transcriber: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

func (b *whisperCPPBackend) Close() error {
	if b.model != nil {
		return b.model.Close()
	}
	return nil
}
