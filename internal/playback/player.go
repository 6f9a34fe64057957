package playback

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satindergrewal/affirmloop/internal/audio"
	"github.com/satindergrewal/affirmloop/internal/device"
)

// Player renders one clip at a time.
type Player interface {
	// Play starts clip from the beginning. onFinish runs on the player's
	// goroutine when the clip ends, with a non-nil error if the output
	// failed first. It never runs after Stop.
	Play(clip audio.Clip, onFinish func(error)) error
	Pause()
	Resume()
	Stop()
	SetRate(rate float64)
	// Position is the offset into the clip, in clip time.
	Position() time.Duration
	Close() error
}

// PlayerFactory opens a player for clips at sampleRate.
type PlayerFactory func(sampleRate int) (Player, error)

// DevicePlayers opens players on dev's output.
func DevicePlayers(dev device.Device, log *zap.SugaredLogger) PlayerFactory {
	return func(sampleRate int) (Player, error) {
		out, err := dev.OpenOutput(sampleRate)
		if err != nil {
			return nil, err
		}
		if err := out.Start(); err != nil {
			out.Close()
			return nil, err
		}
		return NewStreamPlayer(out, sampleRate, log), nil
	}
}

// StreamPlayer pushes 20ms frames into a blocking output stream. The
// stream's own pacing sets the real-time rate.
type StreamPlayer struct {
	out       device.OutputStream
	frameSize int
	rate      int
	log       *zap.SugaredLogger

	mu      sync.Mutex
	cond    *sync.Cond
	samples []int16
	pos     float64 // source sample offset
	speed   float64
	paused  bool
	gen     uint64
}

// NewStreamPlayer wraps out, which must accept mono frames at sampleRate.
func NewStreamPlayer(out device.OutputStream, sampleRate int, log *zap.SugaredLogger) *StreamPlayer {
	p := &StreamPlayer{
		out:       out,
		frameSize: sampleRate * int(audio.FrameDuration/time.Millisecond) / 1000,
		rate:      sampleRate,
		log:       log,
		speed:     1,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *StreamPlayer) Play(clip audio.Clip, onFinish func(error)) error {
	clip = audio.Resample(clip, p.rate)

	p.mu.Lock()
	p.gen++
	gen := p.gen
	p.samples = clip.Samples
	p.pos = 0
	p.paused = false
	p.cond.Broadcast()
	p.mu.Unlock()

	go p.run(gen, onFinish)
	return nil
}

// run feeds frames until the clip ends or a newer Play/Stop bumps gen.
func (p *StreamPlayer) run(gen uint64, onFinish func(error)) {
	for {
		p.mu.Lock()
		for p.paused && p.gen == gen {
			p.cond.Wait()
		}
		if p.gen != gen {
			p.mu.Unlock()
			return
		}
		if int(p.pos) >= len(p.samples) {
			p.gen++
			p.mu.Unlock()
			onFinish(nil)
			return
		}
		// at speed s one output frame consumes s frames of source
		need := float64(p.frameSize) * p.speed
		from := int(p.pos)
		to := min(int(p.pos+need), len(p.samples))
		chunk := p.samples[from:to]
		outLen := p.frameSize
		if to == len(p.samples) {
			outLen = max(1, int(float64(len(chunk))/p.speed))
		}
		p.pos += need
		p.mu.Unlock()

		frame := audio.Stretch(chunk, outLen)
		if err := p.out.Write(frame); err != nil {
			p.log.Warnf("Output write failed: %v", err)
			p.mu.Lock()
			stale := p.gen != gen
			p.gen++
			p.mu.Unlock()
			if !stale {
				onFinish(err)
			}
			return
		}
	}
}

func (p *StreamPlayer) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

func (p *StreamPlayer) Resume() {
	p.mu.Lock()
	p.paused = false
	p.cond.Broadcast()
	p.mu.Unlock()
}

func (p *StreamPlayer) Stop() {
	p.mu.Lock()
	p.gen++
	p.samples = nil
	p.pos = 0
	p.paused = false
	p.cond.Broadcast()
	p.mu.Unlock()
}

func (p *StreamPlayer) SetRate(rate float64) {
	p.mu.Lock()
	p.speed = rate
	p.mu.Unlock()
}

func (p *StreamPlayer) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos := min(p.pos, float64(len(p.samples)))
	return time.Duration(pos / float64(p.rate) * float64(time.Second))
}

func (p *StreamPlayer) Close() error {
	p.Stop()
	if err := p.out.Stop(); err != nil {
		p.log.Warnf("Output stop: %v", err)
	}
	return p.out.Close()
}
