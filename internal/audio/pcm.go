package audio

import (
	"encoding/binary"
	"math"
)

// Decode converts interleaved s16le PCM into mono samples in [-1, 1].
// Channels are averaged; a trailing partial sample is dropped.
func Decode(raw []byte, channels int) []float32 {
	if channels <= 0 {
		channels = 1
	}
	stride := 2 * channels
	out := make([]float32, len(raw)/stride)
	for i := range out {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			off := i*stride + 2*ch
			sum += float32(int16(binary.LittleEndian.Uint16(raw[off:off+2]))) / 32768
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// RMS is the root mean square of a frame, used for level metering.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
