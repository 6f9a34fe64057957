package audio

// Window is a span of a recording in seconds.
type Window struct {
	Start float64
	End   float64
}

// Length returns End-Start, or 0 for an inverted window.
func (w Window) Length() float64 {
	if w.End < w.Start {
		return 0
	}
	return w.End - w.Start
}

// Clamp limits the window to [0, duration].
func (w Window) Clamp(duration float64) Window {
	if w.Start < 0 {
		w.Start = 0
	}
	if w.End > duration {
		w.End = duration
	}
	if w.Start > w.End {
		w.Start = w.End
	}
	return w
}

// PadWindow widens [first, last] by padding on both sides and clips the
// result to [0, duration].
func PadWindow(first, last, padding, duration float64) Window {
	return Window{Start: first - padding, End: last + padding}.Clamp(duration)
}
