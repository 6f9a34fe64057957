package device

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"

	"github.com/satindergrewal/affirmloop/internal/audio"
)

// PortAudio drives the default host input and output devices.
type PortAudio struct {
	log *zap.SugaredLogger

	mu     sync.Mutex
	mode   Mode
	route  Route
	routes chan Route
	stop   chan struct{}
	once   sync.Once
}

// NewPortAudio initializes PortAudio and starts watching the default
// output device every poll interval.
func NewPortAudio(log *zap.SugaredLogger, poll time.Duration) (*PortAudio, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	p := &PortAudio{
		log:    log,
		routes: make(chan Route, 4),
		stop:   make(chan struct{}),
	}
	p.route = p.currentRoute()
	go p.watchRoutes(poll)
	return p, nil
}

// RequestPermission has no dialog on desktop hosts; access is granted when
// a capture device is present and can be opened.
func (p *PortAudio) RequestPermission(ctx context.Context) (Permission, error) {
	if err := ctx.Err(); err != nil {
		return PermissionUndetermined, err
	}
	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return PermissionDenied, fmt.Errorf("no input device: %w", err)
	}
	if dev.MaxInputChannels < 1 {
		return PermissionDenied, fmt.Errorf("input device %q has no channels", dev.Name)
	}
	return PermissionGranted, nil
}

func (p *PortAudio) SetMode(m Mode) error {
	switch m {
	case ModeRecord:
		if _, err := portaudio.DefaultInputDevice(); err != nil {
			return fmt.Errorf("record mode: %w", err)
		}
	case ModePlayback:
		if _, err := portaudio.DefaultOutputDevice(); err != nil {
			return fmt.Errorf("playback mode: %w", err)
		}
	}
	p.mu.Lock()
	p.mode = m
	p.mu.Unlock()
	return nil
}

func (p *PortAudio) Route() Route {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.route
}

func (p *PortAudio) RouteChanges() <-chan Route {
	return p.routes
}

func (p *PortAudio) currentRoute() Route {
	dev, err := portaudio.DefaultOutputDevice()
	if err != nil {
		return Route{Name: "none", Kind: RouteSpeaker}
	}
	return Route{Name: dev.Name, Kind: ClassifyRoute(dev.Name)}
}

// PortAudio has no route-change callback, so the default output is
// sampled and changes are forwarded as notifications.
func (p *PortAudio) watchRoutes(poll time.Duration) {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			close(p.routes)
			return
		case <-ticker.C:
		}
		r := p.currentRoute()
		p.mu.Lock()
		changed := r != p.route
		p.route = r
		p.mu.Unlock()
		if !changed {
			continue
		}
		p.log.Infof("Output route changed: %s (%s)", r.Name, r.Kind)
		SendRoute(p.routes, r)
	}
}

func (p *PortAudio) OpenInput(sampleRate int) (InputStream, error) {
	in := &paInput{level: math.Inf(-1)}
	stream, err := portaudio.OpenDefaultStream(audio.Channels, 0, float64(sampleRate), 0, in.process)
	if err != nil {
		return nil, fmt.Errorf("open input stream: %w", err)
	}
	in.stream = stream
	return in, nil
}

func (p *PortAudio) OpenOutput(sampleRate int) (OutputStream, error) {
	out := &paOutput{buf: make([]int16, audio.FrameSize)}
	stream, err := portaudio.OpenDefaultStream(0, audio.Channels, float64(sampleRate), len(out.buf), &out.buf)
	if err != nil {
		return nil, fmt.Errorf("open output stream: %w", err)
	}
	out.stream = stream
	return out, nil
}

func (p *PortAudio) Close() error {
	p.once.Do(func() { close(p.stop) })
	return portaudio.Terminate()
}

type paInput struct {
	stream *portaudio.Stream

	mu      sync.Mutex
	samples []int16
	level   float64
}

// process runs on the PortAudio callback thread.
func (in *paInput) process(buf []int16) {
	lvl := audio.DBFS(buf)
	in.mu.Lock()
	in.samples = append(in.samples, buf...)
	in.level = lvl
	in.mu.Unlock()
}

func (in *paInput) Start() error { return in.stream.Start() }
func (in *paInput) Stop() error  { return in.stream.Stop() }
func (in *paInput) Close() error { return in.stream.Close() }

func (in *paInput) Level() float64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.level
}

func (in *paInput) Drain() []int16 {
	in.mu.Lock()
	defer in.mu.Unlock()
	s := in.samples
	in.samples = nil
	return s
}

type paOutput struct {
	stream *portaudio.Stream
	buf    []int16
}

func (out *paOutput) Start() error { return out.stream.Start() }
func (out *paOutput) Stop() error  { return out.stream.Stop() }
func (out *paOutput) Close() error { return out.stream.Close() }

func (out *paOutput) Write(frame []int16) error {
	n := copy(out.buf, frame)
	clear(out.buf[n:])
	return out.stream.Write()
}
