package segmenter

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marvinmvns/whisperlisten-go/internal/frame"
)

// fakeSource replays a fixed sequence of frames, then returns the stream's
// exhaustion as a context-cancellation-equivalent stop.
type fakeSource struct {
	frames []frame.Frame
	i      int
	done   chan struct{}
}

func (s *fakeSource) ReadFrame(ctx context.Context) (frame.Frame, error) {
	if s.i >= len(s.frames) {
		close(s.done)
		<-ctx.Done()
		return frame.Frame{}, ctx.Err()
	}
	f := s.frames[s.i]
	s.i++
	return f, nil
}

// labelClassifier classifies frames by a pre-assigned speech/silence script.
type labelClassifier struct {
	labels []bool
	i      int
}

func (c *labelClassifier) Classify(frame.Frame) (bool, error) {
	v := c.labels[c.i]
	c.i++
	return v, nil
}

func makeFrames(n int, sampleRate int, frameMillis int) []frame.Frame {
	samplesPerFrame := sampleRate * frameMillis / 1000
	out := make([]frame.Frame, n)
	for i := range out {
		out[i] = frame.Frame{
			Samples:    make([]int16, samplesPerFrame),
			SampleRate: sampleRate,
			CapturedAt: time.Now(),
		}
	}
	return out
}

func runUntilDone(t *testing.T, seg *Segmenter, src *fakeSource) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- seg.Run(ctx, src) }()

	select {
	case <-src.done:
	case <-time.After(time.Second):
		t.Fatal("source was not drained in time")
	}
	cancel()
	require.NoError(t, <-errCh)
}

func TestSegmenterEmitsUtteranceAboveMinDuration(t *testing.T) {
	const sampleRate = 16000
	const frameMillis = 30
	tempDir := t.TempDir()

	// silence_duration_ms=90 => K=3 frames. 700ms speech then >=3 silence frames.
	labels := append(boolSlice(false, 2), boolSlice(true, 24)...) // 2 preroll silence frames, then ~720ms speech
	labels = append(labels, boolSlice(false, 3)...)                // K=3 trailing silence to finalize

	frames := makeFrames(len(labels), sampleRate, frameMillis)
	src := &fakeSource{frames: frames, done: make(chan struct{})}
	classifier := &labelClassifier{labels: labels}

	var gotPath string
	var gotDuration time.Duration
	sink := func(_ context.Context, path string, _ time.Time, duration time.Duration) {
		gotPath = path
		gotDuration = duration
	}

	seg := New(Config{
		SampleRate:             sampleRate,
		FrameMillis:            frameMillis,
		SilenceDurationMs:      90,
		MinRecordingDurationMs: 500,
		TempDir:                tempDir,
	}, classifier, sink, nil)

	runUntilDone(t, seg, src)

	require.NotEmpty(t, gotPath)
	require.FileExists(t, gotPath)
	require.Equal(t, filepath.Join(tempDir, "audio_0001.wav"), gotPath)
	require.GreaterOrEqual(t, gotDuration.Milliseconds(), int64(500))

	info, err := os.Stat(gotPath)
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(44)) // header + pcm
}

func TestSegmenterDiscardsUtteranceBelowMinDuration(t *testing.T) {
	const sampleRate = 16000
	const frameMillis = 30
	tempDir := t.TempDir()

	// 400ms speech (~13 frames) then K=3 trailing silence; total < 500ms floor.
	labels := append(boolSlice(true, 13), boolSlice(false, 3)...)
	frames := makeFrames(len(labels), sampleRate, frameMillis)
	src := &fakeSource{frames: frames, done: make(chan struct{})}
	classifier := &labelClassifier{labels: labels}

	sinkCalls := 0
	sink := func(context.Context, string, time.Time, time.Duration) { sinkCalls++ }

	seg := New(Config{
		SampleRate:             sampleRate,
		FrameMillis:            frameMillis,
		SilenceDurationMs:      90,
		MinRecordingDurationMs: 500,
		TempDir:                tempDir,
	}, classifier, sink, nil)

	runUntilDone(t, seg, src)

	require.Zero(t, sinkCalls)
	entries, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestSegmenterStaysIdleOnPureSilence(t *testing.T) {
	const sampleRate = 16000
	const frameMillis = 30
	tempDir := t.TempDir()

	labels := boolSlice(false, 20)
	frames := makeFrames(len(labels), sampleRate, frameMillis)
	src := &fakeSource{frames: frames, done: make(chan struct{})}
	classifier := &labelClassifier{labels: labels}

	sinkCalls := 0
	sink := func(context.Context, string, time.Time, time.Duration) { sinkCalls++ }

	seg := New(Config{
		SampleRate:             sampleRate,
		FrameMillis:            frameMillis,
		SilenceDurationMs:      90,
		MinRecordingDurationMs: 500,
		TempDir:                tempDir,
	}, classifier, sink, nil)

	runUntilDone(t, seg, src)

	require.Zero(t, sinkCalls)
	require.Equal(t, "idle", string(seg.state.fsmState))
}

func TestAggressivenessToThresholdIsMonotonicAndClamped(t *testing.T) {
	require.InDelta(t, 0.2, AggressivenessToThreshold(-5), 0.001)
	require.InDelta(t, 0.2, AggressivenessToThreshold(0), 0.001)
	require.InDelta(t, 0.4, AggressivenessToThreshold(1), 0.001)
	require.InDelta(t, 0.6, AggressivenessToThreshold(2), 0.001)
	require.InDelta(t, 0.8, AggressivenessToThreshold(3), 0.001)
	require.InDelta(t, 0.8, AggressivenessToThreshold(9), 0.001)
}

func boolSlice(v bool, n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = v
	}
	return out
}
