// Package transcribe turns a finished recording into text.
package transcribe

import (
	"context"
	"errors"

	"golang.org/x/text/language"
)

// ErrNoSpeech means the backend ran but recognized nothing.
var ErrNoSpeech = errors.New("no speech recognized")

// ErrDisabled is returned by the disabled backend.
var ErrDisabled = errors.New("transcription disabled")

// Backend is a pluggable speech-to-text engine. lang may be language.Und
// when the caller has no hint.
type Backend interface {
	Transcribe(ctx context.Context, audioPath string, lang language.Tag) (string, error)
}

// Disabled never transcribes.
type Disabled struct{}

func (Disabled) Transcribe(context.Context, string, language.Tag) (string, error) {
	return "", ErrDisabled
}

// ParseHint reads a stored language code such as "en" or "zh-Hans".
// Unparseable or empty hints yield language.Und.
func ParseHint(hint string) language.Tag {
	if hint == "" {
		return language.Und
	}
	tag, err := language.Parse(hint)
	if err != nil {
		return language.Und
	}
	return tag
}

// isoCode returns the two-letter base language, or "" for Und.
func isoCode(tag language.Tag) string {
	if tag == language.Und {
		return ""
	}
	base, conf := tag.Base()
	if conf == language.No {
		return ""
	}
	return base.String()
}
