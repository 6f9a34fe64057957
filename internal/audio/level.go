package audio

import "math"

// MeterFloor is the quietest level the meter distinguishes. Anything
// below reads as 0 on the normalized scale.
const MeterFloor = -50.0

// RMS returns the root-mean-square amplitude of samples in 0..1.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// DBFS returns the level of samples in decibels relative to full scale.
// Silence reports -Inf.
func DBFS(samples []int16) float64 {
	rms := RMS(samples)
	if rms == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(rms)
}

// Normalize maps a dBFS reading onto 0..1, linear between MeterFloor and 0.
func Normalize(db float64) float64 {
	if math.IsNaN(db) || db <= MeterFloor {
		return 0
	}
	if db >= 0 {
		return 1
	}
	return (db - MeterFloor) / -MeterFloor
}

// Level is Normalize(DBFS(samples)).
func Level(samples []int16) float64 {
	return Normalize(DBFS(samples))
}
