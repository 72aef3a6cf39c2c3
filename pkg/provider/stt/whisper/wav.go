package whisper

import "encoding/binary"

// encodeWAV wraps 16-bit PCM in a canonical 44-byte RIFF/WAVE header.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	blockAlign := channels * bitsPerSample / 8
	out := make([]byte, 44+len(pcm))

	copy(out[0:], "RIFF")
	binary.LittleEndian.PutUint32(out[4:], uint32(36+len(pcm)))
	copy(out[8:], "WAVE")
	copy(out[12:], "fmt ")
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 1)
	binary.LittleEndian.PutUint16(out[22:], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(out[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:], bitsPerSample)
	copy(out[36:], "data")
	binary.LittleEndian.PutUint32(out[40:], uint32(len(pcm)))
	copy(out[44:], pcm)
	return out
}

// pcmToFloat32Mono converts interleaved 16-bit PCM to mono float32 samples in
// [-1, 1], averaging channels.
func pcmToFloat32Mono(pcm []byte, channels int) []float32 {
	if channels < 1 {
		channels = 1
	}
	frames := len(pcm) / (2 * channels)
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			off := (i*channels + ch) * 2
			sum += float32(int16(binary.LittleEndian.Uint16(pcm[off:]))) / 32768
		}
		out[i] = sum / float32(channels)
	}
	return out
}
