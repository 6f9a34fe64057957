package audio

import (
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/satindergrewal/affirmloop/internal/fault"
)

// WAVCodec writes 16-bit mono PCM WAV files in-process.
type WAVCodec struct{}

func (WAVCodec) Ext() string { return "wav" }

func (WAVCodec) Encode(path string, clip Clip) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	data := make([]int, len(clip.Samples))
	for i, s := range clip.Samples {
		data[i] = int(s)
	}

	enc := wav.NewEncoder(f, clip.SampleRate, BitDepth, Channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: Channels, SampleRate: clip.SampleRate},
		Data:           data,
		SourceBitDepth: BitDepth,
	}
	if err := enc.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("wav write %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("wav finalize %s: %w", path, err)
	}
	return f.Close()
}

func (WAVCodec) Decode(path string) (Clip, error) {
	f, err := openAsset(path)
	if err != nil {
		return Clip{}, err
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return Clip{}, fault.Wrap(fault.ErrFileCorrupted, fmt.Errorf("%s: not a wav file", path))
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return Clip{}, fault.Wrap(fault.ErrFileCorrupted, err)
	}

	ch := int(d.NumChans)
	if ch < 1 {
		ch = 1
	}
	samples := make([]int16, len(buf.Data)/ch)
	for i := range samples {
		// downmix interleaved frames
		var sum int
		for c := 0; c < ch; c++ {
			sum += buf.Data[i*ch+c]
		}
		samples[i] = int16(sum / ch)
	}
	return Clip{Samples: samples, SampleRate: int(d.SampleRate)}, nil
}

func (WAVCodec) Duration(path string) (float64, error) {
	f, err := openAsset(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	dur, err := d.Duration()
	if err != nil {
		return 0, fault.Wrap(fault.ErrFileCorrupted, err)
	}
	return dur.Seconds(), nil
}

func openAsset(path string) (*os.File, error) {
	if err := mustExist(path); err != nil {
		return nil, err
	}
	return os.Open(path)
}
