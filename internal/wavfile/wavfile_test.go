package wavfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/marvinmvns/whisperlisten-go/internal/frame"
	"github.com/stretchr/testify/require"
)

func TestWriteThenReadRoundTrips(t *testing.T) {
	samples := []int16{1, -1, 32767, -32768, 0, 42}
	frames := []frame.Frame{{Samples: samples, SampleRate: 16000}}

	path := filepath.Join(t.TempDir(), "utterance.wav")
	require.NoError(t, Write(path, frames, 16000))

	pcm, sampleRate, err := Read(path)
	require.NoError(t, err)
	require.Equal(t, 16000, sampleRate)

	got := frame.FromBytes(pcm, sampleRate, frames[0].CapturedAt).Samples
	require.Equal(t, samples, got)
}

func TestReadRejectsNonRIFFFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.wav")
	require.NoError(t, os.WriteFile(path, []byte("not a wav file at all"), 0o600))

	_, _, err := Read(path)
	require.Error(t, err)
}

func TestReadMissingFile(t *testing.T) {
	_, _, err := Read(filepath.Join(t.TempDir(), "missing.wav"))
	require.Error(t, err)
}

func TestDurationMillis(t *testing.T) {
	require.Equal(t, 1000, DurationMillis(32000, 16000))
	require.Equal(t, 0, DurationMillis(32000, 0))
}

