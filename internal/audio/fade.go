package audio

// Smoothstep returns the smoothstep interpolation for t in [0,1].
// Formula: 3t^2 - 2t^3.
func Smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

// FadeEdges ramps the first and last n samples in place with a smoothstep
// curve so a cut does not click. n is capped at half the buffer.
func FadeEdges(samples []int16, n int) {
	if n > len(samples)/2 {
		n = len(samples) / 2
	}
	if n <= 0 {
		return
	}
	last := len(samples) - 1
	for i := 0; i < n; i++ {
		gain := Smoothstep(float64(i) / float64(n))
		samples[i] = scale(samples[i], gain)
		samples[last-i] = scale(samples[last-i], gain)
	}
}

func scale(s int16, gain float64) int16 {
	v := float64(s) * gain
	// Clip to int16 range
	if v > 32767 {
		v = 32767
	} else if v < -32768 {
		v = -32768
	}
	return int16(v)
}
