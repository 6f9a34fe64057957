// Package processing trims silence from finished recordings and
// transcribes them.
package processing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/satindergrewal/affirmloop/internal/audio"
	"github.com/satindergrewal/affirmloop/internal/fault"
	"github.com/satindergrewal/affirmloop/internal/filestore"
	"github.com/satindergrewal/affirmloop/internal/transcribe"
)

// Outcome is a trim that has been computed but not yet made canonical.
type Outcome struct {
	ID       uuid.UUID
	Method   Method
	Window   audio.Window
	Skipped  bool
	TempPath string
	// Duration is the length of the asset after Commit.
	Duration float64
}

// Options configures a Pipeline.
type Options struct {
	Log          *zap.SugaredLogger
	Profile      audio.Profile
	KeepOriginal bool
	Transcriber  transcribe.Backend
	// TranscribeTimeout bounds one backend call.
	TranscribeTimeout time.Duration
}

// Pipeline is safe for concurrent use. Trim and Transcribe do file and
// network work and must run off the control loop; Commit and Discard are
// quick and run on it.
type Pipeline struct {
	files   *filestore.Store
	log     *zap.SugaredLogger
	profile audio.Profile
	keep    bool
	backend transcribe.Backend
	timeout time.Duration

	inflight singleflight.Group
}

// New creates a pipeline over files.
func New(files *filestore.Store, opts Options) *Pipeline {
	if opts.Transcriber == nil {
		opts.Transcriber = transcribe.Disabled{}
	}
	if opts.TranscribeTimeout <= 0 {
		opts.TranscribeTimeout = time.Minute
	}
	if opts.Profile.Name == "" {
		opts.Profile = audio.DefaultProfile()
	}
	return &Pipeline{
		files:   files,
		log:     opts.Log,
		profile: opts.Profile,
		keep:    opts.KeepOriginal,
		backend: opts.Transcriber,
		timeout: opts.TranscribeTimeout,
	}
}

// Trim cuts the original capture of id to the voice window, or to what a
// buffer scan finds when voice is nil. The result is written to a temp
// file; nothing visible changes until Commit.
func (p *Pipeline) Trim(ctx context.Context, id uuid.UUID, voice *audio.Window) (Outcome, error) {
	clip, err := p.files.ReadSource(id)
	if err != nil {
		return Outcome{}, fault.Wrap(fault.ErrProcessingFailed, err)
	}
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	out := Outcome{ID: id, Duration: clip.Seconds()}
	w, method, ok := Plan(clip, voice, p.profile)
	out.Method, out.Window = method, w
	if !ok {
		out.Skipped = true
		p.log.Infof("Trim skipped for %s (method=%s, window=%.2f-%.2f)", id, method, w.Start, w.End)
		return out, nil
	}

	trimmed := Cut(clip, w)
	tmp, err := p.files.WriteTemp(id, trimmed)
	if err != nil {
		return Outcome{}, fault.Wrap(fault.ErrProcessingFailed, err)
	}
	if err := ctx.Err(); err != nil {
		p.files.Discard(tmp)
		return Outcome{}, err
	}
	out.TempPath = tmp
	out.Duration = trimmed.Seconds()
	p.log.Infof("Trimmed %s by %s to %.2f-%.2f (%.2fs)", id, method, w.Start, w.End, out.Duration)
	return out, nil
}

// Commit makes a trim canonical and applies the original-retention policy.
func (p *Pipeline) Commit(o Outcome) error {
	if o.Skipped || o.TempPath == "" {
		return nil
	}
	if err := p.files.Commit(o.TempPath, o.ID); err != nil {
		return fault.Wrap(fault.ErrProcessingFailed, err)
	}
	if !p.keep {
		if err := p.files.DeleteOriginal(o.ID); err != nil {
			p.log.Warnf("Discarding original for %s: %v", o.ID, err)
		}
	}
	return nil
}

// Discard drops an uncommitted trim.
func (p *Pipeline) Discard(o Outcome) {
	p.files.Discard(o.TempPath)
}

// Transcribe returns the punctuated transcript of id's working file, or
// nil when nothing could be recognized. Failures are logged, never
// returned. Concurrent calls for the same id share one backend call.
func (p *Pipeline) Transcribe(ctx context.Context, id uuid.UUID, hint string) *string {
	v, err, shared := p.inflight.Do(id.String(), func() (any, error) {
		return p.transcribe(ctx, id, hint)
	})
	if shared {
		p.log.Debugf("Transcription for %s joined an in-flight call", id)
	}
	if err != nil {
		if errors.Is(err, transcribe.ErrDisabled) {
			return nil
		}
		p.log.Warnf("Transcription failed for %s: %v", id, fault.Wrap(fault.ErrProcessingFailed, err))
		return nil
	}
	text := v.(string)
	return &text
}

func (p *Pipeline) transcribe(ctx context.Context, id uuid.UUID, hint string) (string, error) {
	if !p.files.Exists(id) {
		return "", fmt.Errorf("transcribe %s: %w", id, fault.ErrFileNotFound)
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	lang := transcribe.ParseHint(hint)
	raw, err := p.backend.Transcribe(ctx, p.files.PathFor(id), lang)
	if err != nil {
		return "", err
	}
	text := transcribe.Punctuate(raw, lang)
	if text == "" {
		return "", transcribe.ErrNoSpeech
	}
	return text, nil
}
