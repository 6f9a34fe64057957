package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"gopkg.in/hraban/opus.v2"

	"github.com/satindergrewal/affirmloop/internal/fault"
)

const (
	opusRate  = 48000
	opusFrame = 960 // 20ms at 48kHz
)

// OpusCodec stores clips as mono 48kHz Opus in an Ogg container, without
// shelling out. Decoded clips come back at 48kHz.
type OpusCodec struct{}

func (OpusCodec) Ext() string { return "ogg" }

func (OpusCodec) Encode(path string, clip Clip) error {
	enc, err := opus.NewEncoder(opusRate, Channels, opus.AppVoIP)
	if err != nil {
		return fmt.Errorf("opus encoder: %w", err)
	}

	w, err := oggwriter.New(path, opusRate, Channels)
	if err != nil {
		return fmt.Errorf("ogg create %s: %w", path, err)
	}

	pcm := Resample(clip, opusRate).Samples
	frame := make([]int16, opusFrame)
	buf := make([]byte, 4000)
	for i := 0; i*opusFrame < len(pcm); i++ {
		n := copy(frame, pcm[i*opusFrame:])
		clear(frame[n:])

		size, err := enc.Encode(frame, buf)
		if err != nil {
			w.Close()
			return fmt.Errorf("opus encode: %w", err)
		}
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				SequenceNumber: uint16(i),
				Timestamp:      uint32((i + 1) * opusFrame),
			},
			Payload: buf[:size],
		}
		if err := w.WriteRTP(pkt); err != nil {
			w.Close()
			return fmt.Errorf("ogg write %s: %w", path, err)
		}
	}
	return w.Close()
}

func (OpusCodec) Decode(path string) (Clip, error) {
	f, err := openAsset(path)
	if err != nil {
		return Clip{}, err
	}
	defer f.Close()

	r, _, err := oggreader.NewWith(f)
	if err != nil {
		return Clip{}, fault.Wrap(fault.ErrFileCorrupted, err)
	}
	dec, err := opus.NewDecoder(opusRate, Channels)
	if err != nil {
		return Clip{}, fmt.Errorf("opus decoder: %w", err)
	}

	var samples []int16
	pcm := make([]int16, opusFrame*6)
	for {
		payload, _, err := r.ParseNextPage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Clip{}, fault.Wrap(fault.ErrFileCorrupted, err)
		}
		if bytes.HasPrefix(payload, []byte("OpusTags")) {
			continue
		}
		n, err := dec.Decode(payload, pcm)
		if err != nil {
			return Clip{}, fault.Wrap(fault.ErrFileCorrupted, err)
		}
		samples = append(samples, pcm[:n]...)
	}
	return Clip{Samples: samples, SampleRate: opusRate}, nil
}

// Duration walks page headers and reads the final granule position.
// Packets are never decoded.
func (OpusCodec) Duration(path string) (float64, error) {
	f, err := openAsset(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	r, _, err := oggreader.NewWith(f)
	if err != nil {
		return 0, fault.Wrap(fault.ErrFileCorrupted, err)
	}

	var granule uint64
	for {
		_, hdr, err := r.ParseNextPage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fault.Wrap(fault.ErrFileCorrupted, err)
		}
		if hdr.GranulePosition > granule {
			granule = hdr.GranulePosition
		}
	}
	if granule == 0 {
		return 0, nil
	}
	// the writer starts audio pages at granule 1 and stamps each page with
	// the start of its packet, so the last frame is not yet counted
	return float64(granule-1+opusFrame) / opusRate, nil
}
