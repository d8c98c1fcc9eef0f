package transcriber

import (
	"fmt"
	"path/filepath"
	"strings"
)

// newWhisperFastBackend loads a quantized ggml model through the same
// whisper.cpp bindings the cpp backend uses. model_path's directory is
// treated as the model root and model_name names the quantized file within
// it (e.g. "ggml-base.en-q5_1.bin") — the two backends differ only in which
// model file gets loaded, not in the recognition path.
func newWhisperFastBackend(modelPath, modelName, language string, nThreads int) (Backend, error) {
	if strings.TrimSpace(modelPath) == "" {
		return nil, fmt.Errorf("transcriber: fast backend requires model_path")
	}
	if strings.TrimSpace(modelName) == "" {
		return nil, fmt.Errorf("transcriber: fast backend requires model_name")
	}

	quantizedPath := filepath.Join(filepath.Dir(modelPath), modelName)
	backend, err := newWhisperCPPBackend(quantizedPath, language, nThreads)
	if err != nil {
		return nil, err
	}
	if cpp, ok := backend.(*whisperCPPBackend); ok {
		cpp.name = "fast"
	}
	return backend, nil
}
