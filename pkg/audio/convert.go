package audio

import (
	"log/slog"
	"sync"
)

// FormatConverter converts frames to Target. It logs once on the first format
// mismatch and once on the first misaligned frame. Use one per stream; it is
// not safe for concurrent use.
type FormatConverter struct {
	Target Format

	warnMismatch sync.Once
	warnCorrupt  sync.Once
}

// Convert returns frame in the target format. A frame whose data is not a
// whole number of sample frames comes back with nil Data and should be
// dropped. A frame already in the target format is returned as is.
func (c *FormatConverter) Convert(frame AudioFrame) AudioFrame {
	out := AudioFrame{SampleRate: c.Target.SampleRate, Channels: c.Target.Channels, Timestamp: frame.Timestamp}

	if frame.Channels < 1 || len(frame.Data)%(2*frame.Channels) != 0 {
		c.warnCorrupt.Do(func() {
			slog.Warn("audio: misaligned pcm frame, dropping",
				"bytes", len(frame.Data),
				"format", frame.Format().String(),
			)
		})
		return out
	}
	if frame.Format() == c.Target {
		return frame
	}

	c.warnMismatch.Do(func() {
		slog.Info("audio: converting stream", "from", frame.Format().String(), "to", c.Target.String())
	})

	pcm, channels := frame.Data, frame.Channels
	// Downmix before resampling so fewer samples get interpolated.
	if c.Target.Channels == 1 && channels > 1 {
		pcm, channels = Downmix(pcm, channels), 1
	}
	pcm = Resample16(pcm, channels, frame.SampleRate, c.Target.SampleRate)
	if c.Target.Channels == 2 && channels == 1 {
		pcm = MonoToStereo(pcm)
	}
	out.Data = pcm
	return out
}

// Downmix averages interleaved channels into mono.
func Downmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frames := len(pcm) / (2 * channels)
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		for ch := range channels {
			sum += int32(sampleAt(pcm, i*channels+ch))
		}
		putSample(out, i, int16(sum/int32(channels)))
	}
	return out
}

// MonoToStereo duplicates each mono sample into an L/R pair.
func MonoToStereo(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, n*4)
	for i := range n {
		s := sampleAt(pcm, i)
		putSample(out, 2*i, s)
		putSample(out, 2*i+1, s)
	}
	return out
}

// Resample16 converts interleaved PCM from srcRate to dstRate by linear
// interpolation per channel. Invalid rates return the input unchanged.
func Resample16(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 || srcRate == dstRate {
		return pcm
	}
	srcFrames := len(pcm) / (2 * channels)
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*channels*2)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= srcFrames {
			next = idx
		}
		for ch := range channels {
			s0 := float64(sampleAt(pcm, idx*channels+ch))
			s1 := float64(sampleAt(pcm, next*channels+ch))
			putSample(out, i*channels+ch, int16(s0*(1-frac)+s1*frac))
		}
	}
	return out
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
}

func putSample(pcm []byte, i int, s int16) {
	pcm[2*i] = byte(s)
	pcm[2*i+1] = byte(s >> 8)
}
