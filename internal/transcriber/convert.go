package transcriber

import "encoding/binary"

// pcmToFloat32 converts 16-bit signed little-endian mono PCM to float32
// samples normalized to [-1.0, 1.0], the input format whisper.cpp expects.
func pcmToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(sample) / 32768.0
	}
	return samples
}
