package audio

import "time"

const (
	SampleRate    = 44100
	Channels      = 1
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 882           // samples per 20ms frame at 44.1kHz mono
	FrameBytes    = FrameSize * 2 // bytes per frame (int16 = 2 bytes)

	// MaxRecording is the hard cap on a single capture.
	MaxRecording = 60 * time.Second
)

// Clip is a mono PCM buffer at a known sample rate.
type Clip struct {
	Samples    []int16
	SampleRate int
}

// Seconds returns the clip length in seconds.
func (c Clip) Seconds() float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate)
}

// Duration returns the clip length.
func (c Clip) Duration() time.Duration {
	return time.Duration(c.Seconds() * float64(time.Second))
}

// Slice returns the part of the clip between start and end seconds,
// clamped to the clip bounds. The samples are copied.
func (c Clip) Slice(start, end float64) Clip {
	from := c.index(start)
	to := c.index(end)
	if to < from {
		to = from
	}
	out := make([]int16, to-from)
	copy(out, c.Samples[from:to])
	return Clip{Samples: out, SampleRate: c.SampleRate}
}

func (c Clip) index(sec float64) int {
	i := int(sec*float64(c.SampleRate) + 0.5)
	if i < 0 {
		return 0
	}
	if i > len(c.Samples) {
		return len(c.Samples)
	}
	return i
}
