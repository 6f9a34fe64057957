package audio

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/satindergrewal/affirmloop/internal/fault"
)

// Codec stores clips in one container format.
type Codec interface {
	// Ext is the file extension without the dot.
	Ext() string
	Encode(path string, clip Clip) error
	Decode(path string) (Clip, error)
	// Duration reads the length from container metadata.
	Duration(path string) (float64, error)
}

// CodecFor returns the codec for a configured format name.
func CodecFor(format string) (Codec, error) {
	switch format {
	case "m4a", "aac", "":
		return AACCodec{}, nil
	case "ogg", "opus":
		return OpusCodec{}, nil
	case "wav":
		return WAVCodec{}, nil
	}
	return nil, fmt.Errorf("unknown audio format %q", format)
}

// AACCodec writes mono 44.1kHz AAC in an MP4 container through FFmpeg.
type AACCodec struct{}

func (AACCodec) Ext() string { return "m4a" }

func (AACCodec) Encode(path string, clip Clip) error {
	return EncodeFile(path, clip)
}

func (AACCodec) Decode(path string) (Clip, error) {
	if err := mustExist(path); err != nil {
		return Clip{}, err
	}
	samples, err := DecodeFile(path)
	if err != nil {
		return Clip{}, fault.Wrap(fault.ErrFileCorrupted, err)
	}
	return Clip{Samples: samples, SampleRate: SampleRate}, nil
}

func (AACCodec) Duration(path string) (float64, error) {
	if err := mustExist(path); err != nil {
		return 0, err
	}
	d, err := ProbeDuration(path)
	if err != nil {
		return 0, fault.Wrap(fault.ErrFileCorrupted, err)
	}
	return d, nil
}

func mustExist(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fault.Wrap(fault.ErrFileNotFound, err)
		}
		return err
	}
	return nil
}
