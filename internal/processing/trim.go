package processing

import (
	"time"

	"github.com/satindergrewal/affirmloop/internal/audio"
)

// MinTrimLength is the shortest clip a trim may produce.
const MinTrimLength = 0.5

// scanWindow is the analysis block used by the buffer scan.
const scanWindow = 20 * time.Millisecond

// declick is the fade applied to both cut edges.
const declick = 5 * time.Millisecond

// Method records which trimming strategy ran.
type Method string

const (
	MethodTimestamps Method = "timestamps"
	MethodScan       Method = "scan"
	MethodNone       Method = "none"
)

// ScanVoice walks the clip in 20ms blocks from both ends and returns the
// padded span between the first and last block whose level exceeds the
// threshold. ok is false when no block does.
func ScanVoice(c audio.Clip, p audio.Profile) (w audio.Window, ok bool) {
	block := int(scanWindow.Seconds() * float64(c.SampleRate))
	if block <= 0 || len(c.Samples) == 0 {
		return audio.Window{}, false
	}
	blocks := (len(c.Samples) + block - 1) / block

	first := -1
	for i := 0; i < blocks; i++ {
		if audio.Level(blockAt(c.Samples, i, block)) > p.Threshold {
			first = i
			break
		}
	}
	if first < 0 {
		return audio.Window{}, false
	}
	last := first
	for i := blocks - 1; i > first; i-- {
		if audio.Level(blockAt(c.Samples, i, block)) > p.Threshold {
			last = i
			break
		}
	}

	rate := float64(c.SampleRate)
	start := float64(first*block) / rate
	end := float64(min((last+1)*block, len(c.Samples))) / rate
	return audio.PadWindow(start, end, p.Padding.Seconds(), c.Seconds()), true
}

func blockAt(s []int16, i, size int) []int16 {
	from := i * size
	to := min(from+size, len(s))
	return s[from:to]
}

// Plan decides the trim window for a clip: the given window when present,
// otherwise a buffer scan. ok is false when trimming should be skipped.
func Plan(c audio.Clip, given *audio.Window, p audio.Profile) (audio.Window, Method, bool) {
	w, method := audio.Window{}, MethodTimestamps
	if given != nil {
		w = given.Clamp(c.Seconds())
	} else {
		found, ok := ScanVoice(c, p)
		if !ok {
			return audio.Window{}, MethodNone, false
		}
		w, method = found, MethodScan
	}
	if w.Length() < MinTrimLength {
		return w, method, false
	}
	return w, method, true
}

// Cut returns the windowed part of c with softened edges.
func Cut(c audio.Clip, w audio.Window) audio.Clip {
	out := c.Slice(w.Start, w.End)
	audio.FadeEdges(out.Samples, int(declick.Seconds()*float64(out.SampleRate)))
	return out
}
