// Package wavfile writes mono 16-bit PCM frames as minimal WAV files.
//
// Uses the standard 44-byte canonical header layout for a mono 16-bit PCM
// WAV file.
package wavfile

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/marvinmvns/whisperlisten-go/internal/frame"
)

// Write creates path and writes frames as a single mono 16-bit WAV file.
func Write(path string, frames []frame.Frame, sampleRate int) (err error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create wav %q: %w", path, err)
	}
	defer func() {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
	}()

	pcmLen := 0
	for _, f := range frames {
		pcmLen += len(f.Samples) * 2
	}

	if err := writeHeader(file, pcmLen, sampleRate, 1); err != nil {
		return err
	}
	for _, f := range frames {
		if _, err := file.Write(f.Bytes()); err != nil {
			return fmt.Errorf("write wav pcm %q: %w", path, err)
		}
	}
	return nil
}

// writeHeader writes a canonical 44-byte PCM WAV header.
func writeHeader(w *os.File, pcmLen int, sampleRate int, channels int) error {
	if channels <= 0 {
		channels = 1
	}
	const bitsPerSample = 16
	byteRate := sampleRate * channels * (bitsPerSample / 8)
	blockAlign := channels * (bitsPerSample / 8)

	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+pcmLen))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], bitsPerSample)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(pcmLen))

	_, err := w.Write(header)
	return err
}

// DurationMillis computes the nominal playback duration of pcmLen bytes of
// mono 16-bit PCM at sampleRate.
func DurationMillis(pcmLen int, sampleRate int) int {
	if sampleRate <= 0 {
		return 0
	}
	samples := pcmLen / 2
	return samples * 1000 / sampleRate
}

// Read parses a RIFF/WAVE file and returns its raw 16-bit little-endian PCM
// payload and sample rate. It walks chunks after the 12-byte RIFF header
// rather than assuming the canonical 44-byte layout Write produces, so it
// also accepts WAV files carrying extra chunks.
func Read(path string) ([]byte, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("read wav %q: %w", path, err)
	}
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("wav %q: not a RIFF/WAVE file", path)
	}

	var sampleRate int
	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		if body+chunkSize > len(data) {
			chunkSize = len(data) - body
		}

		switch chunkID {
		case "fmt ":
			if chunkSize >= 16 {
				sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			}
		case "data":
			return data[body : body+chunkSize], sampleRate, nil
		}

		offset = body + chunkSize
		if chunkSize%2 == 1 {
			offset++ // chunks are word-aligned
		}
	}
	return nil, 0, fmt.Errorf("wav %q: no data chunk found", path)
}
