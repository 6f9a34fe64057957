package audio

// Stretch linearly interpolates samples to exactly n output samples.
func Stretch(samples []int16, n int) []int16 {
	out := make([]int16, n)
	if len(samples) == 0 || n == 0 {
		return out
	}
	if len(samples) == 1 || n == 1 {
		for i := range out {
			out[i] = samples[0]
		}
		return out
	}
	step := float64(len(samples)-1) / float64(n-1)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := pos - float64(j)
		out[i] = int16(float64(samples[j])*(1-frac) + float64(samples[j+1])*frac)
	}
	return out
}

// Resample converts a clip to the given sample rate.
func Resample(c Clip, rate int) Clip {
	if c.SampleRate == rate || c.SampleRate <= 0 {
		return c
	}
	n := int(int64(len(c.Samples)) * int64(rate) / int64(c.SampleRate))
	return Clip{Samples: Stretch(c.Samples, n), SampleRate: rate}
}
