// Package coordinator is the single entry point for audio commands. It
// owns the engine state, keeps recording and playback mutually exclusive,
// and drives background processing of finished recordings.
package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satindergrewal/affirmloop/internal/control"
	"github.com/satindergrewal/affirmloop/internal/fault"
	"github.com/satindergrewal/affirmloop/internal/filestore"
	"github.com/satindergrewal/affirmloop/internal/playback"
	"github.com/satindergrewal/affirmloop/internal/processing"
	"github.com/satindergrewal/affirmloop/internal/recorder"
	"github.com/satindergrewal/affirmloop/internal/session"
	"github.com/satindergrewal/affirmloop/internal/state"
	"github.com/satindergrewal/affirmloop/internal/store"
)

// ScriptStore is the record store the engine reads settings from and
// writes results back to.
type ScriptStore interface {
	Get(id uuid.UUID) (store.Script, error)
	UpdateAudio(id uuid.UUID, path string, duration float64) error
	UpdateTranscript(id uuid.UUID, text *string) error
	ClearAudio(id uuid.UUID) error
}

// Deps are the collaborators a Coordinator drives. Recorder and Playback
// must post their callbacks to Loop.
type Deps struct {
	Loop     *control.Loop
	Session  *session.Manager
	Recorder *recorder.Engine
	Playback *playback.Engine
	Pipeline *processing.Pipeline
	Files    *filestore.Store
	Scripts  ScriptStore
	Log      *zap.SugaredLogger
	// Language is the transcription hint for scripts that carry none.
	Language string
}

// Coordinator must be started with Run before commands are issued.
// Commands are safe to call from any goroutine.
type Coordinator struct {
	loop     *control.Loop
	session  *session.Manager
	rec      *recorder.Engine
	play     *playback.Engine
	pipe     *processing.Pipeline
	files    *filestore.Store
	scripts  ScriptStore
	log      *zap.SugaredLogger
	language string
	pub      *state.Publisher

	work   context.Context
	cancel context.CancelFunc
	bg     sync.WaitGroup

	// Owned by the loop.
	tokens     map[uuid.UUID]uint64
	nextToken  uint64
	cancels    map[uuid.UUID]context.CancelFunc
	processing map[uuid.UUID]struct{}
	trimming   uuid.UUID
	playToken  uint64
	private    bool
	lastErr    string
	version    uint64
}

// New wires the engines' callbacks to the coordinator.
func New(d Deps) *Coordinator {
	work, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		loop:       d.Loop,
		session:    d.Session,
		rec:        d.Recorder,
		play:       d.Playback,
		pipe:       d.Pipeline,
		files:      d.Files,
		scripts:    d.Scripts,
		log:        d.Log,
		language:   d.Language,
		work:       work,
		cancel:     cancel,
		tokens:     make(map[uuid.UUID]uint64),
		cancels:    make(map[uuid.UUID]context.CancelFunc),
		processing: make(map[uuid.UUID]struct{}),
		private:    d.Session.IsPrivateRouteActive(),
	}
	c.pub = state.NewPublisher(c.snapshot())

	c.rec.OnAutoStop(c.autoStopped)
	c.rec.OnSample(c.publish)
	c.play.OnEvent(c.playbackEvent)
	c.session.OnPrivateRouteChange(func(private bool) {
		c.loop.Post(func() { c.routeChanged(private) })
	})
	return c
}

// Run processes commands until ctx is cancelled, then releases the device
// and waits for background processing to wind down. Blocks.
func (c *Coordinator) Run(ctx context.Context) {
	c.loop.Run(ctx)

	// the loop has exited, so this goroutine is the only owner now
	c.cancel()
	c.play.Stop()
	c.rec.Cancel()
	c.bg.Wait()
	c.log.Infof("Coordinator stopped")
}

// Subscribe returns a listener that receives every published snapshot.
func (c *Coordinator) Subscribe() *state.Listener { return c.pub.Subscribe() }

// Unsubscribe releases a listener from Subscribe.
func (c *Coordinator) Unsubscribe(l *state.Listener) { c.pub.Unsubscribe(l) }

// Snapshot returns the last published state.
func (c *Coordinator) Snapshot() state.Snapshot { return c.pub.Latest() }

// IsProcessing reports whether id is being trimmed or transcribed.
func (c *Coordinator) IsProcessing(id uuid.UUID) bool {
	return c.pub.Latest().IsProcessing(id)
}

// RequestPermission asks for microphone access without blocking the
// caller. The channel yields the outcome once.
func (c *Coordinator) RequestPermission(ctx context.Context) <-chan bool {
	result := make(chan bool, 1)
	go func() {
		granted := c.session.RequestPermission(ctx)
		c.loop.Post(c.publish)
		result <- granted
	}()
	return result
}

// StartRecording begins a capture for id, stopping any playback first.
// Permission is requested if it has not been decided yet.
func (c *Coordinator) StartRecording(ctx context.Context, id uuid.UUID) error {
	if !c.session.PermissionGranted() {
		c.session.RequestPermission(ctx)
	}
	return c.loop.Do(ctx, func() error {
		if !c.session.PermissionGranted() {
			return fault.ErrPermissionDenied
		}
		if c.rec.Active() {
			return fault.ErrAlreadyActive
		}
		if c.play.Active() || c.play.State() == playback.Completed {
			c.play.Stop()
		}
		if err := c.rec.Start(id); err != nil {
			c.failed(err)
			return err
		}
		c.supersede(id)
		c.lastErr = ""
		c.publish()
		return nil
	})
}

// StopRecording finishes the capture and hands it to processing.
func (c *Coordinator) StopRecording(ctx context.Context) (recorder.Result, error) {
	var res recorder.Result
	err := c.loop.Do(ctx, func() error {
		var err error
		res, err = c.stopRecording()
		return err
	})
	return res, err
}

func (c *Coordinator) stopRecording() (recorder.Result, error) {
	res, err := c.rec.Stop()
	if err != nil {
		c.failed(err)
		return res, err
	}
	c.recorded(res)
	return res, nil
}

func (c *Coordinator) autoStopped(res recorder.Result, err error) {
	if err != nil {
		c.failed(err)
		return
	}
	c.log.Infof("Recording auto-stopped at cap: %s", res.ID)
	c.recorded(res)
}

// recorded stores the capture and starts trimming it in the background.
func (c *Coordinator) recorded(res recorder.Result) {
	id := res.ID
	token := c.tokens[id]
	c.updateAudio(id, res.Path, res.Duration)

	work, cancel := context.WithCancel(c.work)
	c.cancels[id] = cancel
	c.processing[id] = struct{}{}
	c.trimming = id
	c.publish()

	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		out, err := c.pipe.Trim(work, id, res.Voice)
		if !c.loop.Post(func() { c.trimmed(work, id, token, out, err) }) {
			c.pipe.Discard(out)
		}
	}()
}

func (c *Coordinator) trimmed(work context.Context, id uuid.UUID, token uint64, out processing.Outcome, err error) {
	if c.tokens[id] != token {
		c.pipe.Discard(out)
		c.log.Debugf("Dropping stale trim for %s", id)
		return
	}
	if c.trimming == id {
		c.trimming = uuid.Nil
	}

	switch {
	case err != nil:
		c.log.Warnf("Trim failed for %s, keeping original: %v", id, err)
	case out.Skipped:
	default:
		if err := c.pipe.Commit(out); err != nil {
			c.log.Warnf("Commit trim for %s: %v", id, err)
			c.pipe.Discard(out)
		} else {
			c.updateAudio(id, c.files.PathFor(id), out.Duration)
		}
	}
	c.publish()

	hint := c.hintFor(id)
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		text := c.pipe.Transcribe(work, id, hint)
		c.loop.Post(func() { c.transcribed(id, token, text) })
	}()
}

func (c *Coordinator) transcribed(id uuid.UUID, token uint64, text *string) {
	if c.tokens[id] != token {
		c.log.Debugf("Dropping stale transcript for %s", id)
		return
	}
	delete(c.processing, id)
	if cancel, ok := c.cancels[id]; ok {
		cancel()
		delete(c.cancels, id)
	}
	if text != nil && c.scripts != nil {
		if err := c.scripts.UpdateTranscript(id, text); err != nil && !errors.Is(err, store.ErrNotFound) {
			c.log.Warnf("Saving transcript for %s: %v", id, err)
		}
	}
	c.publish()
}

// Play starts playback of id, replacing whatever is recording or playing.
// The script's privacy flag decides whether a private route is required.
func (c *Coordinator) Play(ctx context.Context, id uuid.UUID, repetitions int, interval time.Duration) error {
	return c.loop.Do(ctx, func() error {
		req := playback.Request{
			ID:             id,
			Repetitions:    repetitions,
			Interval:       interval,
			RequirePrivate: c.requiresPrivate(id),
		}
		// rejected requests must not disturb what is running
		if err := c.play.Validate(req); err != nil {
			return err
		}

		if c.rec.Active() {
			if _, err := c.stopRecording(); err != nil {
				c.log.Warnf("Stopping recording before playback: %v", err)
			}
		}
		if c.play.State() != playback.Idle {
			c.play.Stop()
		}

		if err := c.play.Start(req); err != nil {
			c.failed(err)
			return err
		}
		c.playToken = c.play.Token()
		c.lastErr = ""
		c.publish()
		return nil
	})
}

// Pause freezes playback.
func (c *Coordinator) Pause(ctx context.Context) error {
	return c.command(ctx, c.play.Pause)
}

// Resume continues paused playback.
func (c *Coordinator) Resume(ctx context.Context) error {
	return c.command(ctx, c.play.Resume)
}

// Stop ends whatever is active. A capture in progress is kept and
// processed as if StopRecording had been called.
func (c *Coordinator) Stop(ctx context.Context) error {
	return c.loop.Do(ctx, func() error {
		c.play.Stop()
		if c.rec.Active() {
			if _, err := c.stopRecording(); err != nil {
				c.log.Warnf("Stopping recording: %v", err)
			}
		}
		c.publish()
		return nil
	})
}

// SetSpeed changes the playback rate and returns the rate applied.
func (c *Coordinator) SetSpeed(ctx context.Context, rate float64) (float64, error) {
	var applied float64
	err := c.loop.Do(ctx, func() error {
		var err error
		applied, err = c.play.SetSpeed(rate)
		if err == nil {
			c.publish()
		}
		return err
	})
	return applied, err
}

// DeleteRecording removes the audio for id and clears it from the
// script. Deleting an absent recording succeeds.
func (c *Coordinator) DeleteRecording(ctx context.Context, id uuid.UUID) error {
	return c.loop.Do(ctx, func() error {
		if c.rec.Target() == id {
			c.rec.Cancel()
		}
		if c.play.Target() == id {
			c.play.Stop()
		}
		c.supersede(id)

		if err := c.files.Delete(id); err != nil {
			c.publish()
			return err
		}
		if c.scripts != nil {
			if err := c.scripts.ClearAudio(id); err != nil && !errors.Is(err, store.ErrNotFound) {
				c.log.Warnf("Clearing audio for %s: %v", id, err)
			}
		}
		c.log.Infof("Recording deleted: %s", id)
		c.publish()
		return nil
	})
}

func (c *Coordinator) command(ctx context.Context, fn func() error) error {
	return c.loop.Do(ctx, func() error {
		if err := fn(); err != nil {
			return err
		}
		c.publish()
		return nil
	})
}

// supersede makes every outstanding operation for id stale.
func (c *Coordinator) supersede(id uuid.UUID) {
	c.nextToken++
	c.tokens[id] = c.nextToken
	if cancel, ok := c.cancels[id]; ok {
		cancel()
		delete(c.cancels, id)
	}
	delete(c.processing, id)
	if c.trimming == id {
		c.trimming = uuid.Nil
	}
}

func (c *Coordinator) playbackEvent(ev playback.Event) {
	if ev.Token != c.playToken {
		return
	}
	switch ev.Kind {
	case playback.EventCompleted:
		c.play.Acknowledge()
	case playback.EventFailed:
		c.lastErr = ev.Err.Error()
	}
	c.publish()
}

func (c *Coordinator) routeChanged(private bool) {
	c.private = private
	if !private && c.play.State() == playback.Playing && c.play.RequiresPrivate() {
		c.log.Infof("Private route lost, pausing %s", c.play.Target())
		if err := c.play.Pause(); err != nil {
			c.log.Warnf("Pause on route loss: %v", err)
		}
	}
	c.publish()
}

// failed records a device-level failure for display. Other errors are
// returned to the caller only.
func (c *Coordinator) failed(err error) {
	if fault.IsDeviceFailure(err) {
		c.lastErr = err.Error()
		c.publish()
	}
}

func (c *Coordinator) requiresPrivate(id uuid.UUID) bool {
	if c.scripts == nil {
		return false
	}
	sc, err := c.scripts.Get(id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.log.Warnf("Reading script %s: %v", id, err)
		}
		return false
	}
	return sc.PrivacyMode
}

func (c *Coordinator) hintFor(id uuid.UUID) string {
	if c.scripts != nil {
		if sc, err := c.scripts.Get(id); err == nil && sc.TranscriptionLanguage != "" {
			return sc.TranscriptionLanguage
		}
	}
	return c.language
}

func (c *Coordinator) updateAudio(id uuid.UUID, path string, duration float64) {
	if c.scripts == nil {
		return
	}
	if err := c.scripts.UpdateAudio(id, path, duration); err != nil && !errors.Is(err, store.ErrNotFound) {
		c.log.Warnf("Saving audio for %s: %v", id, err)
	}
}

func (c *Coordinator) publish() {
	c.pub.Publish(c.snapshot())
}

func (c *Coordinator) snapshot() state.Snapshot {
	c.version++
	s := state.Snapshot{
		Version:              c.version,
		IsRecording:          c.rec.Active(),
		RecordingTarget:      c.rec.Target(),
		InputLevel:           c.rec.Level(),
		Speaking:             c.rec.Speaking(),
		RecordedSeconds:      c.rec.Elapsed().Seconds(),
		IsPlaying:            c.play.State() == playback.Playing,
		IsPaused:             c.play.State() == playback.Paused,
		CurrentPlaying:       c.play.Target(),
		PlaybackProgress:     c.play.Progress(),
		InInterval:           c.play.InInterval(),
		Speed:                c.play.Speed(),
		IsPrivateRouteActive: c.private,
		Processing:           state.SortIDs(c.processing),
		LastError:            c.lastErr,
	}
	s.CurrentRepetition, s.TotalRepetitions = c.play.Repetition()

	switch {
	case s.IsRecording:
		s.Phase = state.Recording
	case s.IsPlaying:
		s.Phase = state.Playing
	case s.IsPaused:
		s.Phase = state.Paused
	case c.trimming != uuid.Nil:
		s.Phase = state.Processing
		s.ProcessingTarget = c.trimming
	}
	return s
}
