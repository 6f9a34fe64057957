// Package playback plays a recording a set number of times with a pause
// between repetitions.
package playback

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satindergrewal/affirmloop/internal/audio"
	"github.com/satindergrewal/affirmloop/internal/fault"
	"github.com/satindergrewal/affirmloop/internal/filestore"
	"github.com/satindergrewal/affirmloop/internal/session"
	"github.com/satindergrewal/affirmloop/internal/timer"
)

// State of the repetition state machine.
type State int

const (
	Idle State = iota
	Playing
	Paused
	Completed
)

func (s State) String() string {
	switch s {
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Completed:
		return "completed"
	}
	return "idle"
}

const (
	MinSpeed = 0.5
	MaxSpeed = 2.0
)

// Session is the part of the session manager playback needs.
type Session interface {
	IsPrivateRouteActive() bool
	ConfigureForPlayback() error
	Owner() session.Owner
	Deactivate()
}

// Request describes one playback session.
type Request struct {
	ID             uuid.UUID
	Repetitions    int
	Interval       time.Duration
	RequirePrivate bool
}

// EventKind says what an Event reports.
type EventKind int

const (
	EventProgress EventKind = iota
	EventRepetition
	EventInterval
	EventCompleted
	EventFailed
)

// Event is emitted on the control loop. Token identifies the session that
// produced it.
type Event struct {
	Kind       EventKind
	Token      uint64
	ID         uuid.UUID
	Progress   float64
	Repetition int
	Total      int
	Err        error
}

// Options configures an Engine.
type Options struct {
	Clock         timer.Clock
	Post          func(func()) bool
	Log           *zap.SugaredLogger
	Players       PlayerFactory
	ProgressEvery time.Duration
}

type run struct {
	token    uint64
	req      Request
	clip     audio.Clip
	duration time.Duration
	player   Player
	current  int
	rate     float64
	wait     *timer.Timer
	progress *timer.Ticker
	// pending holds a clip or interval end that arrived while paused.
	pending func()
}

// Engine is not safe for concurrent use; every method runs on the
// control loop.
type Engine struct {
	session Session
	files   *filestore.Store
	clock   timer.Clock
	post    func(func()) bool
	log     *zap.SugaredLogger
	players PlayerFactory
	every   time.Duration
	notify  func(Event)

	state State
	token uint64
	cur   *run
}

// New creates an idle engine.
func New(sess Session, files *filestore.Store, opts Options) *Engine {
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = 100 * time.Millisecond
	}
	return &Engine{
		session: sess,
		files:   files,
		clock:   opts.Clock,
		post:    opts.Post,
		log:     opts.Log,
		players: opts.Players,
		every:   opts.ProgressEvery,
		notify:  func(Event) {},
	}
}

// OnEvent sets the event sink. fn runs on the control loop.
func (e *Engine) OnEvent(fn func(Event)) {
	e.notify = fn
}

func (e *Engine) State() State { return e.state }

// Active reports whether a session exists.
func (e *Engine) Active() bool {
	return e.state == Playing || e.state == Paused
}

// Token identifies the current session; it changes on every Start and Stop.
func (e *Engine) Token() uint64 { return e.token }

// Target is the identifier being played, uuid.Nil when idle.
func (e *Engine) Target() uuid.UUID {
	if e.cur == nil {
		return uuid.Nil
	}
	return e.cur.req.ID
}

// RequiresPrivate reports whether the active session demands a private route.
func (e *Engine) RequiresPrivate() bool {
	return e.cur != nil && e.cur.req.RequirePrivate
}

// Repetition returns the 1-based repetition index and the total.
func (e *Engine) Repetition() (current, total int) {
	if e.cur == nil {
		return 0, 0
	}
	return e.cur.current, e.cur.req.Repetitions
}

// Elapsed is the position within the current repetition of the clip.
func (e *Engine) Elapsed() time.Duration {
	if e.cur == nil || e.cur.wait != nil {
		return 0
	}
	return e.cur.player.Position()
}

// Progress is Elapsed as a fraction of the clip length.
func (e *Engine) Progress() float64 {
	if e.cur == nil || e.cur.duration <= 0 {
		return 0
	}
	p := float64(e.Elapsed()) / float64(e.cur.duration)
	return min(max(p, 0), 1)
}

// Speed is the current playback rate.
func (e *Engine) Speed() float64 {
	if e.cur == nil {
		return 1
	}
	return e.cur.rate
}

// InInterval reports whether the session is waiting between repetitions.
func (e *Engine) InInterval() bool {
	return e.cur != nil && e.cur.wait != nil
}

// Validate runs the checks that must pass before any device resource is
// claimed. It never changes state.
func (e *Engine) Validate(req Request) error {
	if !e.files.Exists(req.ID) {
		return fault.ErrNoRecording
	}
	if req.RequirePrivate && !e.session.IsPrivateRouteActive() {
		return fault.ErrPrivateModeRequired
	}
	return nil
}

// Start begins a session. Repetitions below 1 are treated as 1 and a
// negative interval as none.
func (e *Engine) Start(req Request) error {
	if e.Active() {
		return fault.ErrAlreadyActive
	}
	if err := e.Validate(req); err != nil {
		return err
	}
	if e.session.Owner() == session.OwnerRecording {
		return fault.ErrAlreadyActive
	}
	req.Repetitions = max(req.Repetitions, 1)
	req.Interval = max(req.Interval, 0)

	clip, err := e.files.Read(req.ID)
	if err != nil {
		return err
	}
	if len(clip.Samples) == 0 {
		return fault.Wrap(fault.ErrFileCorrupted, errNoSamples)
	}

	if err := e.session.ConfigureForPlayback(); err != nil {
		e.state = Idle
		return err
	}
	player, err := e.players(clip.SampleRate)
	if err != nil {
		e.session.Deactivate()
		e.state = Idle
		return fault.Wrap(fault.ErrPlaybackFailed, err)
	}

	e.token++
	e.cur = &run{
		token:    e.token,
		req:      req,
		clip:     clip,
		duration: clip.Duration(),
		player:   player,
		current:  1,
		rate:     1,
	}
	e.state = Playing
	if err := e.playClip(); err != nil {
		e.teardown()
		return fault.Wrap(fault.ErrPlaybackFailed, err)
	}
	e.startProgress()
	e.log.Infof("Playback started: %s (%d x, interval %s)", req.ID, req.Repetitions, req.Interval)
	return nil
}

func (e *Engine) playClip() error {
	r := e.cur
	token, rep := r.token, r.current
	r.player.SetRate(r.rate)
	return r.player.Play(r.clip, func(err error) {
		e.post(func() { e.clipFinished(token, rep, err) })
	})
}

func (e *Engine) clipFinished(token uint64, rep int, err error) {
	r := e.cur
	if r == nil || r.token != token || r.current != rep || !e.Active() {
		return
	}
	if err != nil {
		e.fail(err)
		return
	}
	if e.state == Paused {
		r.pending = func() { e.advance(token) }
		return
	}
	e.advance(token)
}

// advance moves past a finished clip: to the interval, the next
// repetition or completion.
func (e *Engine) advance(token uint64) {
	r := e.cur
	if r.current < r.req.Repetitions {
		r.current++
		e.notify(Event{Kind: EventRepetition, Token: token, ID: r.req.ID, Repetition: r.current, Total: r.req.Repetitions})
		if r.req.Interval > 0 {
			e.beginInterval()
			return
		}
		e.replay()
		return
	}

	id, total := r.req.ID, r.req.Repetitions
	e.teardown()
	e.state = Completed
	e.log.Infof("Playback completed: %s", id)
	e.notify(Event{Kind: EventCompleted, Token: token, ID: id, Progress: 1, Repetition: total, Total: total})
}

func (e *Engine) beginInterval() {
	r := e.cur
	token, rep := r.token, r.current
	r.wait = timer.AfterFunc(e.clock, r.req.Interval, func() {
		e.post(func() { e.intervalDone(token, rep) })
	})
	e.notify(Event{Kind: EventInterval, Token: token, ID: r.req.ID, Repetition: rep, Total: r.req.Repetitions})
}

func (e *Engine) intervalDone(token uint64, rep int) {
	r := e.cur
	if r == nil || r.token != token || r.current != rep || !e.Active() || r.wait == nil {
		return
	}
	if e.state == Paused {
		r.pending = func() {
			r.wait = nil
			e.replay()
		}
		return
	}
	r.wait = nil
	e.replay()
}

func (e *Engine) replay() {
	if err := e.playClip(); err != nil {
		e.fail(err)
	}
}

func (e *Engine) fail(err error) {
	r := e.cur
	e.log.Warnf("Playback failed: %s: %v", r.req.ID, err)
	token, id := r.token, r.req.ID
	e.teardown()
	e.notify(Event{Kind: EventFailed, Token: token, ID: id, Err: fault.Wrap(fault.ErrPlaybackFailed, err)})
}

func (e *Engine) startProgress() {
	token := e.cur.token
	e.cur.progress = timer.Every(e.clock, e.every, func() {
		e.post(func() { e.tick(token) })
	})
}

func (e *Engine) tick(token uint64) {
	r := e.cur
	if r == nil || r.token != token || e.state != Playing {
		return
	}
	e.notify(Event{Kind: EventProgress, Token: token, ID: r.req.ID, Progress: e.Progress(), Repetition: r.current, Total: r.req.Repetitions})
}

// Pause freezes the clip or the interval wait, whichever is running.
func (e *Engine) Pause() error {
	if e.state != Playing {
		return fault.ErrInvalidState
	}
	r := e.cur
	if r.wait != nil {
		r.wait.Pause()
	} else {
		r.player.Pause()
	}
	r.progress.Stop()
	r.progress = nil
	e.state = Paused
	return nil
}

// Resume continues exactly where Pause left off.
func (e *Engine) Resume() error {
	if e.state != Paused {
		return fault.ErrInvalidState
	}
	r := e.cur
	e.state = Playing
	e.startProgress()
	if next := r.pending; next != nil {
		r.pending = nil
		next()
		return nil
	}
	if r.wait != nil {
		r.wait.Resume()
	} else {
		r.player.Resume()
	}
	return nil
}

// Stop ends the session from any state. It always leaves the engine Idle.
func (e *Engine) Stop() {
	if e.cur != nil {
		e.log.Infof("Playback stopped: %s", e.cur.req.ID)
		e.teardown()
	}
	e.state = Idle
}

// Acknowledge consumes Completed and returns to Idle.
func (e *Engine) Acknowledge() {
	if e.state == Completed {
		e.state = Idle
	}
}

// SetSpeed changes the rate of the current session, clamped to
// [MinSpeed, MaxSpeed]. The rate sticks for later repetitions.
func (e *Engine) SetSpeed(rate float64) (float64, error) {
	if e.cur == nil {
		return 0, fault.ErrInvalidState
	}
	rate = min(max(rate, MinSpeed), MaxSpeed)
	e.cur.rate = rate
	e.cur.player.SetRate(rate)
	return rate, nil
}

func (e *Engine) teardown() {
	r := e.cur
	if r == nil {
		return
	}
	e.token++
	r.progress.Stop()
	if r.wait != nil {
		r.wait.Stop()
	}
	r.player.Stop()
	if err := r.player.Close(); err != nil {
		e.log.Warnf("Closing player: %v", err)
	}
	e.session.Deactivate()
	e.cur = nil
	e.state = Idle
}
