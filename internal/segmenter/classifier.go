package segmenter

import (
	"fmt"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/marvinmvns/whisperlisten-go/internal/frame"
)

// SileroClassifier classifies frames with a Silero VAD ONNX model, wiring
// a speech.Detector behind a small classifier seam.
type SileroClassifier struct {
	detector *speech.Detector
}

// NewSileroClassifier loads the Silero VAD model at modelPath and maps the
// configured 0-3 aggressiveness to the detector's speech-probability
// threshold.
func NewSileroClassifier(modelPath string, sampleRate int, aggressiveness int) (*SileroClassifier, error) {
	detector, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            modelPath,
		SampleRate:           sampleRate,
		Threshold:            AggressivenessToThreshold(aggressiveness),
		MinSilenceDurationMs: 0, // hysteresis is owned by the Segmenter's buffer geometry, not the detector
		SpeechPadMs:          0,
	})
	if err != nil {
		return nil, fmt.Errorf("load silero vad model %q: %w", modelPath, err)
	}
	return &SileroClassifier{detector: detector}, nil
}

// Classify reports whether f contains speech per the detector's segments.
func (c *SileroClassifier) Classify(f frame.Frame) (bool, error) {
	samples := make([]float32, len(f.Samples))
	for i, s := range f.Samples {
		samples[i] = float32(s) / 32768.0
	}

	segments, err := c.detector.Detect(samples)
	if err != nil {
		return false, fmt.Errorf("silero detect: %w", err)
	}
	return len(segments) > 0, nil
}

// Close releases the underlying detector's native resources.
func (c *SileroClassifier) Close() error {
	return c.detector.Destroy()
}
