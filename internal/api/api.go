// Package api exposes the coordinator over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satindergrewal/affirmloop/internal/fault"
	"github.com/satindergrewal/affirmloop/internal/recorder"
	"github.com/satindergrewal/affirmloop/internal/state"
	"github.com/satindergrewal/affirmloop/internal/store"
)

// Engine is the command and observation surface the handlers drive.
type Engine interface {
	RequestPermission(ctx context.Context) <-chan bool
	StartRecording(ctx context.Context, id uuid.UUID) error
	StopRecording(ctx context.Context) (recorder.Result, error)
	Play(ctx context.Context, id uuid.UUID, repetitions int, interval time.Duration) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Stop(ctx context.Context) error
	SetSpeed(ctx context.Context, rate float64) (float64, error)
	DeleteRecording(ctx context.Context, id uuid.UUID) error
	IsProcessing(id uuid.UUID) bool
	Snapshot() state.Snapshot
	Subscribe() *state.Listener
	Unsubscribe(l *state.Listener)
}

// Scripts is the record store behind /api/scripts.
type Scripts interface {
	List() ([]store.Script, error)
	Get(id uuid.UUID) (store.Script, error)
	Create(sc store.Script) (store.Script, error)
	Update(sc store.Script) error
	Delete(id uuid.UUID) error
}

// Server holds the handlers.
type Server struct {
	engine   Engine
	scripts  Scripts
	log      *zap.SugaredLogger
	validate *validator.Validate
}

// New creates the API server.
func New(engine Engine, scripts Scripts, log *zap.SugaredLogger) *Server {
	return &Server{
		engine:   engine,
		scripts:  scripts,
		log:      log,
		validate: validator.New(),
	}
}

// Handler returns the routed mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", s.status)
	mux.HandleFunc("/api/events", s.events)
	mux.HandleFunc("/api/permission", post(s.permission))
	mux.HandleFunc("/api/record/start", post(s.recordStart))
	mux.HandleFunc("/api/record/stop", post(s.recordStop))
	mux.HandleFunc("/api/play", post(s.play))
	mux.HandleFunc("/api/pause", post(s.simple(s.engine.Pause)))
	mux.HandleFunc("/api/resume", post(s.simple(s.engine.Resume)))
	mux.HandleFunc("/api/stop", post(s.simple(s.engine.Stop)))
	mux.HandleFunc("/api/speed", post(s.speed))
	mux.HandleFunc("/api/recordings/{id}", s.recording)
	mux.HandleFunc("/api/recordings/{id}/processing", s.processing)
	mux.HandleFunc("/api/scripts", s.scriptList)
	mux.HandleFunc("/api/scripts/{id}", s.script)

	return mux
}

func post(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Server) permission(w http.ResponseWriter, r *http.Request) {
	select {
	case granted := <-s.engine.RequestPermission(r.Context()):
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "granted": granted})
	case <-r.Context().Done():
	}
}

func (s *Server) recordStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID uuid.UUID `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == uuid.Nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	if err := s.engine.StartRecording(r.Context(), req.ID); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": req.ID})
}

func (s *Server) recordStop(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.StopRecording(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"id":       res.ID,
		"duration": res.Duration,
		"voice":    res.Voice,
	})
}

func (s *Server) play(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID          uuid.UUID `json:"id"`
		Repetitions *int      `json:"repetitions"`
		Interval    *float64  `json:"interval"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == uuid.Nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	// unspecified settings come from the script
	reps, interval := 1, 0.0
	if sc, err := s.scripts.Get(req.ID); err == nil {
		reps, interval = sc.Repetitions, sc.IntervalSeconds
	}
	if req.Repetitions != nil {
		reps = *req.Repetitions
	}
	if req.Interval != nil {
		interval = *req.Interval
	}
	if reps < 1 || interval < 0 {
		http.Error(w, "repetitions must be >= 1 and interval >= 0", http.StatusBadRequest)
		return
	}

	if err := s.engine.Play(r.Context(), req.ID, reps, time.Duration(interval*float64(time.Second))); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": req.ID, "repetitions": reps, "interval": interval})
}

func (s *Server) simple(fn func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(r.Context()); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func (s *Server) speed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rate float64 `json:"rate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Rate <= 0 {
		http.Error(w, "invalid rate", http.StatusBadRequest)
		return
	}
	applied, err := s.engine.SetSpeed(r.Context(), req.Rate)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "rate": applied})
}

func (s *Server) recording(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "DELETE required", http.StatusMethodNotAllowed)
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.engine.DeleteRecording(r.Context(), id); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) processing(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "processing": s.engine.IsProcessing(id)})
}

func (s *Server) scriptList(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := s.scripts.List()
		if err != nil {
			s.fail(w, err)
			return
		}
		if list == nil {
			list = []store.Script{}
		}
		writeJSON(w, http.StatusOK, list)
	case http.MethodPost:
		var sc store.Script
		if err := json.NewDecoder(r.Body).Decode(&sc); err != nil {
			http.Error(w, "invalid script", http.StatusBadRequest)
			return
		}
		if sc.Repetitions == 0 {
			sc.Repetitions = 1
		}
		if err := s.validate.Struct(sc); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		created, err := s.scripts.Create(store.Script{
			Text:                  sc.Text,
			Repetitions:           sc.Repetitions,
			IntervalSeconds:       sc.IntervalSeconds,
			PrivacyMode:           sc.PrivacyMode,
			TranscriptionLanguage: sc.TranscriptionLanguage,
		})
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		http.Error(w, "GET or POST required", http.StatusMethodNotAllowed)
	}
}

func (s *Server) script(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		sc, err := s.scripts.Get(id)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sc)
	case http.MethodPut:
		var sc store.Script
		if err := json.NewDecoder(r.Body).Decode(&sc); err != nil {
			http.Error(w, "invalid script", http.StatusBadRequest)
			return
		}
		sc.ID = id
		if err := s.validate.Struct(sc); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.scripts.Update(sc); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case http.MethodDelete:
		// the audio goes first so a failure leaves the script visible
		if err := s.engine.DeleteRecording(r.Context(), id); err != nil {
			s.fail(w, err)
			return
		}
		if err := s.scripts.Delete(id); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		http.Error(w, "GET, PUT or DELETE required", http.StatusMethodNotAllowed)
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// fail writes err as JSON with a status derived from its kind.
func (s *Server) fail(w http.ResponseWriter, err error) {
	status, kind := classify(err)
	if status >= http.StatusInternalServerError {
		s.log.Warnf("API error: %v", err)
	}
	writeJSON(w, status, map[string]any{"ok": false, "kind": kind, "error": err.Error()})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, fault.ErrPermissionDenied):
		return http.StatusForbidden, "permission_denied"
	case errors.Is(err, fault.ErrAlreadyActive):
		return http.StatusConflict, "already_active"
	case errors.Is(err, fault.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, fault.ErrNoRecording):
		return http.StatusNotFound, "no_recording"
	case errors.Is(err, fault.ErrFileNotFound):
		return http.StatusNotFound, "file_not_found"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "script_not_found"
	case errors.Is(err, fault.ErrPrivateModeRequired):
		return http.StatusPreconditionFailed, "private_mode_required"
	case errors.Is(err, fault.ErrInsufficientDiskSpace):
		return http.StatusInsufficientStorage, "insufficient_disk_space"
	case errors.Is(err, fault.ErrSessionConfigurationFailed):
		return http.StatusInternalServerError, "session_configuration_failed"
	case errors.Is(err, fault.ErrRecordingFailed):
		return http.StatusInternalServerError, "recording_failed"
	case errors.Is(err, fault.ErrPlaybackFailed):
		return http.StatusInternalServerError, "playback_failed"
	case errors.Is(err, fault.ErrFileCorrupted):
		return http.StatusInternalServerError, "file_corrupted"
	case errors.Is(err, fault.ErrClosed), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "unavailable"
	}
	return http.StatusInternalServerError, "internal"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
