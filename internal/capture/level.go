package capture

import (
	"encoding/binary"
	"math"
)

// Level returns the RMS amplitude of PCM16 little-endian samples normalized to 0.0-1.0.
func Level(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < samples; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
		sum += v * v
	}

	rms := math.Sqrt(sum / float64(samples))
	if rms > 1 {
		return 1
	}
	return rms
}
