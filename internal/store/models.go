// Package store keeps affirmation scripts in SQLite.
package store

import (
	"time"

	"github.com/google/uuid"
)

// Script is one affirmation and the settings used to play it back.
type Script struct {
	ID                    uuid.UUID `json:"id"`
	Text                  string    `json:"text" validate:"required"`
	Repetitions           int       `json:"repetitions" validate:"min=1,max=100"`
	IntervalSeconds       float64   `json:"intervalSeconds" validate:"min=0,max=600"`
	PrivacyMode           bool      `json:"privacyModeEnabled"`
	AudioPath             *string   `json:"audioPath"`
	AudioDuration         float64   `json:"audioDuration"`
	TranscribedText       *string   `json:"transcribedText"`
	TranscriptionLanguage string    `json:"transcriptionLanguage"`
	CreatedAt             time.Time `json:"createdAt"`
	UpdatedAt             time.Time `json:"updatedAt"`
}

// Interval returns IntervalSeconds as a duration.
func (s Script) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds * float64(time.Second))
}

// HasAudio reports whether a recording has been attached.
func (s Script) HasAudio() bool {
	return s.AudioPath != nil && *s.AudioPath != ""
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
