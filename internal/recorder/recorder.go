// Package recorder captures a recording and tracks voice activity while
// it runs.
package recorder

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satindergrewal/affirmloop/internal/audio"
	"github.com/satindergrewal/affirmloop/internal/device"
	"github.com/satindergrewal/affirmloop/internal/fault"
	"github.com/satindergrewal/affirmloop/internal/filestore"
	"github.com/satindergrewal/affirmloop/internal/session"
	"github.com/satindergrewal/affirmloop/internal/timer"
)

// State of the capture state machine.
type State int

const (
	Idle State = iota
	Armed
	Capturing
	Stopped
)

func (s State) String() string {
	switch s {
	case Armed:
		return "armed"
	case Capturing:
		return "capturing"
	case Stopped:
		return "stopped"
	}
	return "idle"
}

// Session is the part of the session manager the recorder needs.
type Session interface {
	PermissionGranted() bool
	ConfigureForRecording() error
	Owner() session.Owner
	Deactivate()
}

// Result describes a finished capture.
type Result struct {
	ID       uuid.UUID
	Path     string
	Duration float64
	// Voice is the padded span of detected speech, nil if the level never
	// crossed the threshold.
	Voice *audio.Window
}

// Options configures an Engine.
type Options struct {
	Clock timer.Clock
	// Post marshals timer callbacks onto the control loop.
	Post           func(func()) bool
	Log            *zap.SugaredLogger
	Profile        audio.Profile
	SampleInterval time.Duration
	MaxDuration    time.Duration
}

// Engine is not safe for concurrent use; every method runs on the
// control loop.
type Engine struct {
	dev     device.Device
	session Session
	files   *filestore.Store
	clock   timer.Clock
	post    func(func()) bool
	log     *zap.SugaredLogger
	profile audio.Profile
	every   time.Duration
	max     time.Duration

	onAutoStop func(Result, error)
	onSample   func()

	state    State
	gen      uint64
	target   uuid.UUID
	in       device.InputStream
	started  time.Time
	sampler  *timer.Ticker
	limit    *timer.Timer
	voiced   bool
	first    float64
	last     float64
	speaking bool
	level    float64
}

// New creates an idle recorder.
func New(dev device.Device, sess Session, files *filestore.Store, opts Options) *Engine {
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = 100 * time.Millisecond
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = audio.MaxRecording
	}
	if opts.Profile.Name == "" {
		opts.Profile = audio.DefaultProfile()
	}
	return &Engine{
		dev:     dev,
		session: sess,
		files:   files,
		clock:   opts.Clock,
		post:    opts.Post,
		log:     opts.Log,
		profile: opts.Profile,
		every:   opts.SampleInterval,
		max:     opts.MaxDuration,
	}
}

// OnAutoStop sets the callback invoked, on the control loop, when the
// duration cap ends a capture.
func (e *Engine) OnAutoStop(fn func(Result, error)) {
	e.onAutoStop = fn
}

func (e *Engine) State() State { return e.state }

// Active reports whether a capture is in progress.
func (e *Engine) Active() bool {
	return e.state == Armed || e.state == Capturing
}

// Target is the identifier being recorded, uuid.Nil when inactive.
func (e *Engine) Target() uuid.UUID {
	if !e.Active() {
		return uuid.Nil
	}
	return e.target
}

// Speaking reports whether the last level sample was above threshold.
func (e *Engine) Speaking() bool { return e.speaking }

// Level is the last normalized input level.
func (e *Engine) Level() float64 { return e.level }

// Elapsed is the capture time so far.
func (e *Engine) Elapsed() time.Duration {
	if e.state != Capturing {
		return 0
	}
	return e.clock.Now().Sub(e.started)
}

// OnSample sets a callback run on the control loop after every level
// sample.
func (e *Engine) OnSample(fn func()) {
	e.onSample = fn
}

// Start arms the device and begins capturing for id.
func (e *Engine) Start(id uuid.UUID) error {
	if e.Active() || e.session.Owner() == session.OwnerPlayback {
		return fault.ErrAlreadyActive
	}
	if !e.session.PermissionGranted() {
		return fault.ErrPermissionDenied
	}
	if err := e.files.CheckFreeSpace(); err != nil {
		return err
	}
	if err := e.session.ConfigureForRecording(); err != nil {
		e.state = Idle
		return err
	}
	e.state = Armed

	in, err := e.dev.OpenInput(audio.SampleRate)
	if err != nil {
		e.fail()
		return fault.Wrap(fault.ErrRecordingFailed, err)
	}
	if err := in.Start(); err != nil {
		in.Close()
		e.fail()
		return fault.Wrap(fault.ErrRecordingFailed, err)
	}

	e.gen++
	gen := e.gen
	e.in = in
	e.target = id
	e.state = Capturing
	e.started = e.clock.Now()
	e.voiced, e.speaking = false, false
	e.first, e.last, e.level = 0, 0, 0

	e.sampler = timer.Every(e.clock, e.every, func() {
		e.post(func() { e.sample(gen) })
	})
	e.limit = timer.AfterFunc(e.clock, e.max, func() {
		e.post(func() { e.autoStop(gen) })
	})

	e.log.Infof("Recording started: %s (sensitivity %s)", id, e.profile.Name)
	return nil
}

func (e *Engine) sample(gen uint64) {
	if gen != e.gen || e.state != Capturing {
		return
	}
	e.level = audio.Normalize(e.in.Level())
	e.speaking = e.level > e.profile.Threshold
	if e.speaking {
		at := e.clock.Now().Sub(e.started).Seconds()
		if !e.voiced {
			e.voiced = true
			e.first = at
		}
		e.last = at
	}
	if e.onSample != nil {
		e.onSample()
	}
}

func (e *Engine) autoStop(gen uint64) {
	if gen != e.gen || e.state != Capturing {
		return
	}
	e.log.Infof("Recording hit %s cap: %s", e.max, e.target)
	res, err := e.Stop()
	if e.onAutoStop != nil {
		e.onAutoStop(res, err)
	}
}

// Stop ends the capture, writes the recording and its original through
// the file store, and returns the padded voice window.
func (e *Engine) Stop() (Result, error) {
	if e.state != Capturing {
		return Result{}, fault.ErrInvalidState
	}
	id := e.target
	samples := e.release()
	e.state = Stopped

	maxSamples := int(e.max.Seconds() * audio.SampleRate)
	if len(samples) > maxSamples {
		samples = samples[:maxSamples]
	}
	if len(samples) == 0 {
		e.state = Idle
		return Result{}, fault.Wrap(fault.ErrRecordingFailed, errors.New("no audio captured"))
	}

	clip := audio.Clip{Samples: samples, SampleRate: audio.SampleRate}
	if err := e.files.Delete(id); err != nil {
		e.log.Warnf("Removing previous recording %s: %v", id, err)
	}
	if err := e.files.Save(id, clip); err != nil {
		e.state = Idle
		if errors.Is(err, fault.ErrInsufficientDiskSpace) {
			return Result{}, err
		}
		return Result{}, fault.Wrap(fault.ErrRecordingFailed, fmt.Errorf("save %s: %w", id, err))
	}

	res := Result{ID: id, Path: e.files.PathFor(id), Duration: clip.Seconds()}
	if e.voiced {
		w := audio.PadWindow(e.first, e.last, e.profile.Padding.Seconds(), res.Duration)
		res.Voice = &w
	}
	e.log.Infof("Recording stopped: %s (%.2fs, voice=%v)", id, res.Duration, res.Voice != nil)
	return res, nil
}

// Cancel abandons the capture without writing anything.
func (e *Engine) Cancel() {
	if !e.Active() {
		return
	}
	e.release()
	e.state = Idle
	e.log.Infof("Recording cancelled: %s", e.target)
}

// release stops timers, drains and closes the input and gives the
// session back.
func (e *Engine) release() []int16 {
	e.gen++
	e.sampler.Stop()
	e.sampler = nil
	if e.limit != nil {
		e.limit.Stop()
		e.limit = nil
	}
	var samples []int16
	if e.in != nil {
		samples = e.in.Drain()
		if err := e.in.Stop(); err != nil {
			e.log.Warnf("Input stop: %v", err)
		}
		e.in.Close()
		e.in = nil
	}
	e.session.Deactivate()
	e.speaking = false
	return samples
}

func (e *Engine) fail() {
	e.session.Deactivate()
	e.state = Idle
}
