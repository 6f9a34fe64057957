package playback

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/satindergrewal/affirmloop/internal/audio"
	"github.com/satindergrewal/affirmloop/internal/device"
	"github.com/satindergrewal/affirmloop/internal/device/devicetest"
	"github.com/satindergrewal/affirmloop/internal/fault"
	"github.com/satindergrewal/affirmloop/internal/filestore"
	"github.com/satindergrewal/affirmloop/internal/session"
	"github.com/satindergrewal/affirmloop/internal/timer"
	"github.com/satindergrewal/affirmloop/internal/timer/timertest"
)

// clockPlayer finishes a clip after its length, scaled by rate, has passed
// on the fake clock.
type clockPlayer struct {
	clock  *timertest.Clock
	mu     sync.Mutex
	plays  int
	rate   float64
	length time.Duration
	timer  *timer.Timer
	closed bool
}

func (p *clockPlayer) Play(clip audio.Clip, onFinish func(error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plays++
	p.length = clip.Duration()
	p.timer = timer.AfterFunc(p.clock, time.Duration(float64(p.length)/p.rate), func() { onFinish(nil) })
	return nil
}

func (p *clockPlayer) Pause()  { p.timer.Pause() }
func (p *clockPlayer) Resume() { p.timer.Resume() }
func (p *clockPlayer) Stop() {
	if p.timer != nil {
		p.timer.Stop()
	}
}
func (p *clockPlayer) SetRate(rate float64) { p.rate = rate }

func (p *clockPlayer) Position() time.Duration {
	left := time.Duration(float64(p.timer.Remaining()) * p.rate)
	return p.length - left
}

func (p *clockPlayer) Close() error {
	p.closed = true
	return nil
}

type rig struct {
	eng    *Engine
	dev    *devicetest.Device
	sess   *session.Manager
	files  *filestore.Store
	clock  *timertest.Clock
	player *clockPlayer
	events []Event

	// queued holds posted callbacks until drain, as the control loop
	// would while a command is being handled.
	queued bool
	queue  []func()
}

func newRig(t *testing.T) *rig {
	t.Helper()
	log := zap.NewNop().Sugar()
	dev := devicetest.New()
	sess := session.New(dev, log)
	files, err := filestore.New(filepath.Join(t.TempDir(), "rec"), audio.WAVCodec{})
	require.NoError(t, err)
	clk := timertest.New()
	r := &rig{dev: dev, sess: sess, files: files, clock: clk}
	r.eng = New(sess, files, Options{
		Clock: clk,
		Post: func(fn func()) bool {
			if r.queued {
				r.queue = append(r.queue, fn)
				return true
			}
			fn()
			return true
		},
		Log: log,
		Players: func(int) (Player, error) {
			r.player = &clockPlayer{clock: clk, rate: 1}
			return r.player, nil
		},
	})
	r.eng.OnEvent(func(ev Event) { r.events = append(r.events, ev) })
	return r
}

// newQueuedRig is a rig whose timer and player callbacks wait for drain.
func newQueuedRig(t *testing.T) *rig {
	r := newRig(t)
	r.queued = true
	return r
}

func (r *rig) drain() {
	for len(r.queue) > 0 {
		fn := r.queue[0]
		r.queue = r.queue[1:]
		fn()
	}
}

// record stores a silent clip of the given length at a low sample rate.
func (r *rig) record(t *testing.T, length time.Duration) uuid.UUID {
	t.Helper()
	id := uuid.New()
	const rate = 1000
	clip := audio.Clip{Samples: make([]int16, int(length.Seconds()*rate)), SampleRate: rate}
	require.NoError(t, r.files.Save(id, clip))
	return id
}

func (r *rig) kinds(k EventKind) []Event {
	var out []Event
	for _, ev := range r.events {
		if ev.Kind == k {
			out = append(out, ev)
		}
	}
	return out
}

// until advances in 10ms steps until cond holds or limit passes.
func (r *rig) until(limit time.Duration, cond func() bool) time.Duration {
	start := r.clock.Now()
	for r.clock.Since(start) < limit && !cond() {
		r.clock.Advance(10 * time.Millisecond)
	}
	return r.clock.Since(start)
}

// --- Timing ---

func TestTotalDurationIncludesIntervals(t *testing.T) {
	r := newRig(t)
	id := r.record(t, 10*time.Second)

	require.NoError(t, r.eng.Start(Request{ID: id, Repetitions: 3, Interval: 2 * time.Second}))
	took := r.until(time.Minute, func() bool { return r.eng.State() == Completed })

	assert.Equal(t, Completed, r.eng.State())
	assert.Equal(t, 34*time.Second, took)
	assert.Equal(t, 3, r.player.plays)

	reps := r.kinds(EventRepetition)
	require.Len(t, reps, 2)
	assert.Equal(t, 2, reps[0].Repetition)
	assert.Equal(t, 3, reps[1].Repetition)
	assert.Len(t, r.kinds(EventInterval), 2)
	require.Len(t, r.kinds(EventCompleted), 1)
}

func TestSingleRepetitionHasNoInterval(t *testing.T) {
	r := newRig(t)
	id := r.record(t, 2*time.Second)

	require.NoError(t, r.eng.Start(Request{ID: id, Repetitions: 1, Interval: 5 * time.Second}))
	took := r.until(time.Minute, func() bool { return r.eng.State() == Completed })

	assert.Equal(t, 2*time.Second, took)
	assert.Empty(t, r.kinds(EventInterval))
}

func TestZeroIntervalReplaysImmediately(t *testing.T) {
	r := newRig(t)
	id := r.record(t, time.Second)

	require.NoError(t, r.eng.Start(Request{ID: id, Repetitions: 4}))
	took := r.until(time.Minute, func() bool { return r.eng.State() == Completed })

	assert.Equal(t, 4*time.Second, took)
	assert.Equal(t, 4, r.player.plays)
}

func TestRepetitionsBelowOneClamp(t *testing.T) {
	r := newRig(t)
	id := r.record(t, time.Second)

	require.NoError(t, r.eng.Start(Request{ID: id, Repetitions: 0, Interval: -time.Second}))
	_, total := r.eng.Repetition()
	assert.Equal(t, 1, total)
}

func TestCompletionReleasesSession(t *testing.T) {
	r := newRig(t)
	id := r.record(t, time.Second)

	require.NoError(t, r.eng.Start(Request{ID: id, Repetitions: 1}))
	assert.Equal(t, session.OwnerPlayback, r.sess.Owner())
	r.clock.Advance(time.Second)

	assert.Equal(t, Completed, r.eng.State())
	assert.Equal(t, session.OwnerNone, r.sess.Owner())
	assert.True(t, r.player.closed)
	assert.Equal(t, uuid.Nil, r.eng.Target())

	r.eng.Acknowledge()
	assert.Equal(t, Idle, r.eng.State())
}

// --- Pause / Resume ---

func TestPauseDuringClipKeepsPosition(t *testing.T) {
	r := newRig(t)
	id := r.record(t, 10*time.Second)
	require.NoError(t, r.eng.Start(Request{ID: id, Repetitions: 2, Interval: time.Second}))

	r.clock.Advance(4 * time.Second)
	require.NoError(t, r.eng.Pause())
	assert.Equal(t, Paused, r.eng.State())
	before := r.eng.Elapsed()
	cur, _ := r.eng.Repetition()

	r.clock.Advance(time.Minute)
	assert.Equal(t, before, r.eng.Elapsed())
	after, _ := r.eng.Repetition()
	assert.Equal(t, cur, after)

	require.NoError(t, r.eng.Resume())
	took := r.until(time.Minute, func() bool { return r.eng.State() == Completed })
	assert.Equal(t, 6*time.Second+time.Second+10*time.Second, took)
}

func TestPauseDuringIntervalKeepsRemainder(t *testing.T) {
	r := newRig(t)
	id := r.record(t, time.Second)
	require.NoError(t, r.eng.Start(Request{ID: id, Repetitions: 2, Interval: 3 * time.Second}))

	r.clock.Advance(2 * time.Second) // clip done, one second into the wait
	require.True(t, r.eng.InInterval())
	require.NoError(t, r.eng.Pause())
	r.clock.Advance(time.Hour)
	assert.Equal(t, 1, r.player.plays)

	require.NoError(t, r.eng.Resume())
	r.clock.Advance(2 * time.Second)
	assert.Equal(t, 2, r.player.plays)
	assert.False(t, r.eng.InInterval())
}

func TestPauseResumeInvalidStates(t *testing.T) {
	r := newRig(t)
	assert.ErrorIs(t, r.eng.Pause(), fault.ErrInvalidState)
	assert.ErrorIs(t, r.eng.Resume(), fault.ErrInvalidState)

	id := r.record(t, time.Second)
	require.NoError(t, r.eng.Start(Request{ID: id, Repetitions: 1}))
	assert.ErrorIs(t, r.eng.Resume(), fault.ErrInvalidState)
	require.NoError(t, r.eng.Pause())
	assert.ErrorIs(t, r.eng.Pause(), fault.ErrInvalidState)
}

func TestPausedEmitsNoProgress(t *testing.T) {
	r := newRig(t)
	id := r.record(t, 10*time.Second)
	require.NoError(t, r.eng.Start(Request{ID: id, Repetitions: 1}))

	r.clock.Advance(time.Second)
	n := len(r.kinds(EventProgress))
	assert.Greater(t, n, 0)

	require.NoError(t, r.eng.Pause())
	r.clock.Advance(5 * time.Second)
	assert.Len(t, r.kinds(EventProgress), n)
}

// --- Callbacks racing commands ---

func TestClipEndQueuedBehindPauseCompletesOnResume(t *testing.T) {
	r := newQueuedRig(t)
	id := r.record(t, time.Second)
	require.NoError(t, r.eng.Start(Request{ID: id, Repetitions: 1}))

	r.clock.Advance(time.Second)
	require.NotEmpty(t, r.queue)
	require.NoError(t, r.eng.Pause())
	r.drain()

	assert.Equal(t, Paused, r.eng.State())
	assert.Empty(t, r.kinds(EventCompleted))
	assert.Equal(t, session.OwnerPlayback, r.sess.Owner())

	require.NoError(t, r.eng.Resume())
	r.drain()
	assert.Equal(t, Completed, r.eng.State())
	assert.Len(t, r.kinds(EventCompleted), 1)
	assert.Equal(t, session.OwnerNone, r.sess.Owner())
}

func TestClipEndQueuedBehindPauseMovesToInterval(t *testing.T) {
	r := newQueuedRig(t)
	id := r.record(t, time.Second)
	require.NoError(t, r.eng.Start(Request{ID: id, Repetitions: 2, Interval: time.Second}))

	r.clock.Advance(time.Second)
	require.NoError(t, r.eng.Pause())
	r.drain()
	assert.Empty(t, r.kinds(EventRepetition))

	require.NoError(t, r.eng.Resume())
	assert.True(t, r.eng.InInterval())
	cur, _ := r.eng.Repetition()
	assert.Equal(t, 2, cur)

	r.clock.Advance(time.Second)
	r.drain()
	assert.Equal(t, 2, r.player.plays)
}

func TestIntervalEndQueuedBehindPausePlaysOnResume(t *testing.T) {
	r := newQueuedRig(t)
	id := r.record(t, time.Second)
	require.NoError(t, r.eng.Start(Request{ID: id, Repetitions: 2, Interval: time.Second}))

	r.clock.Advance(time.Second)
	r.drain()
	require.True(t, r.eng.InInterval())

	r.clock.Advance(time.Second)
	require.NoError(t, r.eng.Pause())
	r.drain()
	assert.Equal(t, Paused, r.eng.State())
	assert.Equal(t, 1, r.player.plays)

	require.NoError(t, r.eng.Resume())
	r.drain()
	assert.Equal(t, 2, r.player.plays)
	assert.False(t, r.eng.InInterval())

	r.clock.Advance(time.Second)
	r.drain()
	assert.Equal(t, Completed, r.eng.State())
}

func TestClipEndQueuedBehindStopIsDropped(t *testing.T) {
	r := newQueuedRig(t)
	id := r.record(t, time.Second)
	require.NoError(t, r.eng.Start(Request{ID: id, Repetitions: 1}))

	r.clock.Advance(time.Second)
	r.eng.Stop()
	r.drain()

	assert.Equal(t, Idle, r.eng.State())
	assert.Empty(t, r.kinds(EventCompleted))
}

func TestProgressQueuedBehindPauseIsDropped(t *testing.T) {
	r := newQueuedRig(t)
	id := r.record(t, 10*time.Second)
	require.NoError(t, r.eng.Start(Request{ID: id, Repetitions: 1}))

	r.clock.Advance(time.Second)
	require.NotEmpty(t, r.queue)
	n := len(r.kinds(EventProgress))
	require.NoError(t, r.eng.Pause())
	r.drain()
	assert.Len(t, r.kinds(EventProgress), n)
}

// --- Validation ---

func TestStartMissingRecording(t *testing.T) {
	r := newRig(t)
	err := r.eng.Start(Request{ID: uuid.New(), Repetitions: 1})
	assert.ErrorIs(t, err, fault.ErrNoRecording)
	assert.Equal(t, Idle, r.eng.State())
	assert.Equal(t, session.OwnerNone, r.sess.Owner())
}

func TestPrivateModeRejectedOnSpeaker(t *testing.T) {
	r := newRig(t)
	id := r.record(t, time.Second)

	err := r.eng.Start(Request{ID: id, Repetitions: 1, RequirePrivate: true})
	assert.ErrorIs(t, err, fault.ErrPrivateModeRequired)
	assert.Equal(t, Idle, r.eng.State())
	assert.Nil(t, r.player)
	assert.Empty(t, r.dev.ModeCalls())
}

func TestPrivateModeAllowedOnHeadphones(t *testing.T) {
	r := newRig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.sess.Run(ctx)

	r.dev.SetRoute(device.Route{Name: "Headphones", Kind: device.RouteHeadphones})
	require.Eventually(t, r.sess.IsPrivateRouteActive, time.Second, time.Millisecond)

	id := r.record(t, time.Second)
	require.NoError(t, r.eng.Start(Request{ID: id, Repetitions: 1, RequirePrivate: true}))
	assert.True(t, r.eng.RequiresPrivate())
}

func TestStartWhileActive(t *testing.T) {
	r := newRig(t)
	id := r.record(t, time.Second)
	require.NoError(t, r.eng.Start(Request{ID: id, Repetitions: 1}))
	assert.ErrorIs(t, r.eng.Start(Request{ID: id, Repetitions: 1}), fault.ErrAlreadyActive)
}

func TestSessionFailureLeavesIdle(t *testing.T) {
	r := newRig(t)
	r.dev.FailMode(device.ModePlayback, errors.New("busy"))
	id := r.record(t, time.Second)

	err := r.eng.Start(Request{ID: id, Repetitions: 1})
	assert.ErrorIs(t, err, fault.ErrSessionConfigurationFailed)
	assert.Equal(t, Idle, r.eng.State())
}

func TestPlayerFailureDeactivates(t *testing.T) {
	r := newRig(t)
	r.eng.players = func(int) (Player, error) { return nil, errors.New("no output") }
	id := r.record(t, time.Second)

	err := r.eng.Start(Request{ID: id, Repetitions: 1})
	assert.ErrorIs(t, err, fault.ErrPlaybackFailed)
	assert.Equal(t, session.OwnerNone, r.sess.Owner())
}

// --- Stop / Speed ---

func TestStopDropsLateCallbacks(t *testing.T) {
	r := newRig(t)
	id := r.record(t, time.Second)
	require.NoError(t, r.eng.Start(Request{ID: id, Repetitions: 3}))
	token := r.eng.Token()
	p := r.player

	r.eng.Stop()
	assert.Equal(t, Idle, r.eng.State())
	assert.NotEqual(t, token, r.eng.Token())

	// a finish that raced Stop must not advance anything
	r.eng.clipFinished(token, 1, nil)
	r.clock.Advance(10 * time.Second)
	assert.Equal(t, 1, p.plays)
	assert.Empty(t, r.kinds(EventCompleted))
}

func TestStopIsIdempotent(t *testing.T) {
	r := newRig(t)
	r.eng.Stop()
	r.eng.Stop()
	assert.Equal(t, Idle, r.eng.State())
}

func TestSetSpeedClampsAndPersists(t *testing.T) {
	r := newRig(t)
	_, err := r.eng.SetSpeed(1.5)
	assert.ErrorIs(t, err, fault.ErrInvalidState)

	id := r.record(t, 4*time.Second)
	require.NoError(t, r.eng.Start(Request{ID: id, Repetitions: 2}))

	got, err := r.eng.SetSpeed(3)
	require.NoError(t, err)
	assert.Equal(t, MaxSpeed, got)
	got, _ = r.eng.SetSpeed(0.1)
	assert.Equal(t, MinSpeed, got)

	r.eng.SetSpeed(2)
	r.clock.Advance(4 * time.Second) // first play began at 1x
	assert.Equal(t, 2.0, r.player.rate)
	took := r.until(time.Minute, func() bool { return r.eng.State() == Completed })
	assert.Equal(t, 2*time.Second, took)
}

func TestSpeedResetsOnNewSession(t *testing.T) {
	r := newRig(t)
	id := r.record(t, time.Second)
	require.NoError(t, r.eng.Start(Request{ID: id, Repetitions: 1}))
	r.eng.SetSpeed(2)
	r.eng.Stop()

	require.NoError(t, r.eng.Start(Request{ID: id, Repetitions: 1}))
	assert.Equal(t, 1.0, r.eng.Speed())
}

// --- StreamPlayer ---

func TestStreamPlayerWritesFramesAndFinishes(t *testing.T) {
	out := &devicetest.Output{}
	p := NewStreamPlayer(out, 1000, zap.NewNop().Sugar())
	clip := audio.Clip{Samples: make([]int16, 1000), SampleRate: 1000}

	done := make(chan struct{})
	require.NoError(t, p.Play(clip, func(error) { close(done) }))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("clip never finished")
	}
	assert.Equal(t, 50, out.Frames()) // 20ms frames
	assert.Equal(t, time.Second, p.Position())
}

func TestStreamPlayerDoubleSpeedHalvesFrames(t *testing.T) {
	out := &devicetest.Output{}
	p := NewStreamPlayer(out, 1000, zap.NewNop().Sugar())
	p.SetRate(2)

	done := make(chan struct{})
	require.NoError(t, p.Play(audio.Clip{Samples: make([]int16, 1000), SampleRate: 1000}, func(error) { close(done) }))
	<-done
	assert.Equal(t, 25, out.Frames())
}

// gateOutput blocks every write until closed.
type gateOutput struct {
	once sync.Once
	gate chan struct{}
}

func (o *gateOutput) Start() error { return nil }
func (o *gateOutput) Stop() error  { return nil }

func (o *gateOutput) Write([]int16) error {
	<-o.gate
	return errors.New("output closed")
}

func (o *gateOutput) Close() error {
	o.once.Do(func() { close(o.gate) })
	return nil
}

func TestStreamPlayerCloseSuppressesFinish(t *testing.T) {
	out := &gateOutput{gate: make(chan struct{})}
	p := NewStreamPlayer(out, 1000, zap.NewNop().Sugar())

	finished := make(chan struct{}, 1)
	require.NoError(t, p.Play(audio.Clip{Samples: make([]int16, 1000), SampleRate: 1000}, func(error) { finished <- struct{}{} }))
	require.NoError(t, p.Close())

	select {
	case <-finished:
		t.Fatal("finish reported after Close")
	case <-time.After(50 * time.Millisecond):
	}
}

// brokenOutput rejects every write.
type brokenOutput struct{ err error }

func (o brokenOutput) Start() error        { return nil }
func (o brokenOutput) Stop() error         { return nil }
func (o brokenOutput) Write([]int16) error { return o.err }
func (o brokenOutput) Close() error        { return nil }

func TestStreamPlayerReportsWriteFailure(t *testing.T) {
	broken := errors.New("device unplugged")
	p := NewStreamPlayer(brokenOutput{err: broken}, 1000, zap.NewNop().Sugar())

	got := make(chan error, 1)
	require.NoError(t, p.Play(audio.Clip{Samples: make([]int16, 1000), SampleRate: 1000}, func(err error) { got <- err }))
	select {
	case err := <-got:
		assert.ErrorIs(t, err, broken)
	case <-time.After(2 * time.Second):
		t.Fatal("write failure never reported")
	}
}

func TestOutputFailureMidClipFailsSession(t *testing.T) {
	log := zap.NewNop().Sugar()
	sess := session.New(devicetest.New(), log)
	files, err := filestore.New(filepath.Join(t.TempDir(), "rec"), audio.WAVCodec{})
	require.NoError(t, err)

	posted := make(chan func(), 8)
	eng := New(sess, files, Options{
		Clock: timertest.New(),
		Post:  func(fn func()) bool { posted <- fn; return true },
		Log:   log,
		Players: func(rate int) (Player, error) {
			return NewStreamPlayer(brokenOutput{err: errors.New("device unplugged")}, rate, log), nil
		},
	})
	var events []Event
	eng.OnEvent(func(ev Event) { events = append(events, ev) })

	id := uuid.New()
	require.NoError(t, files.Save(id, audio.Clip{Samples: make([]int16, 1000), SampleRate: 1000}))
	require.NoError(t, eng.Start(Request{ID: id, Repetitions: 3}))

	select {
	case fn := <-posted:
		fn()
	case <-time.After(2 * time.Second):
		t.Fatal("player never reported back")
	}

	assert.Equal(t, Idle, eng.State())
	assert.Equal(t, session.OwnerNone, sess.Owner())
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventFailed, last.Kind)
	assert.ErrorIs(t, last.Err, fault.ErrPlaybackFailed)
}

// --- DevicePlayers ---

func TestDevicePlayersOpenAndCloseOutput(t *testing.T) {
	dev := devicetest.New()
	p, err := DevicePlayers(dev, zap.NewNop().Sugar())(1000)
	require.NoError(t, err)

	outs := dev.Outputs()
	require.Len(t, outs, 1)
	assert.False(t, outs[0].Closed())

	require.NoError(t, p.Close())
	assert.True(t, outs[0].Closed())
}

func TestDevicePlayersOutputFailure(t *testing.T) {
	log := zap.NewNop().Sugar()
	dev := devicetest.New()
	dev.FailOutput(errors.New("output busy"))
	sess := session.New(dev, log)
	files, err := filestore.New(filepath.Join(t.TempDir(), "rec"), audio.WAVCodec{})
	require.NoError(t, err)

	eng := New(sess, files, Options{
		Clock:   timertest.New(),
		Post:    func(fn func()) bool { fn(); return true },
		Log:     log,
		Players: DevicePlayers(dev, log),
	})
	id := uuid.New()
	require.NoError(t, files.Save(id, audio.Clip{Samples: make([]int16, 1000), SampleRate: 1000}))

	err = eng.Start(Request{ID: id, Repetitions: 1})
	assert.ErrorIs(t, err, fault.ErrPlaybackFailed)
	assert.Equal(t, Idle, eng.State())
	assert.Equal(t, session.OwnerNone, sess.Owner())
}
