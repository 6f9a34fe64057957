package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/satindergrewal/affirmloop/internal/fault"
	"github.com/satindergrewal/affirmloop/internal/recorder"
	"github.com/satindergrewal/affirmloop/internal/state"
	"github.com/satindergrewal/affirmloop/internal/store"
)

type playCall struct {
	id       uuid.UUID
	reps     int
	interval time.Duration
}

type fakeEngine struct {
	mu         sync.Mutex
	err        error
	plays      []playCall
	deleted    []uuid.UUID
	processing map[uuid.UUID]bool
	pub        *state.Publisher
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{processing: map[uuid.UUID]bool{}, pub: state.NewPublisher(state.Snapshot{Speed: 1})}
}

func (f *fakeEngine) RequestPermission(context.Context) <-chan bool {
	ch := make(chan bool, 1)
	ch <- true
	return ch
}

func (f *fakeEngine) StartRecording(context.Context, uuid.UUID) error { return f.err }

func (f *fakeEngine) StopRecording(context.Context) (recorder.Result, error) {
	return recorder.Result{Duration: 2.5}, f.err
}

func (f *fakeEngine) Play(_ context.Context, id uuid.UUID, reps int, interval time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plays = append(f.plays, playCall{id, reps, interval})
	return f.err
}

func (f *fakeEngine) Pause(context.Context) error  { return f.err }
func (f *fakeEngine) Resume(context.Context) error { return f.err }
func (f *fakeEngine) Stop(context.Context) error   { return f.err }

func (f *fakeEngine) SetSpeed(_ context.Context, rate float64) (float64, error) {
	return min(rate, 2), f.err
}

func (f *fakeEngine) DeleteRecording(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return f.err
}

func (f *fakeEngine) IsProcessing(id uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.processing[id]
}

func (f *fakeEngine) Snapshot() state.Snapshot      { return f.pub.Latest() }
func (f *fakeEngine) Subscribe() *state.Listener    { return f.pub.Subscribe() }
func (f *fakeEngine) Unsubscribe(l *state.Listener) { f.pub.Unsubscribe(l) }

type memScripts struct {
	mu      sync.Mutex
	scripts map[uuid.UUID]store.Script
	order   []uuid.UUID
}

func (m *memScripts) List() ([]store.Script, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Script
	for _, id := range m.order {
		if sc, ok := m.scripts[id]; ok {
			out = append(out, sc)
		}
	}
	return out, nil
}

func (m *memScripts) Get(id uuid.UUID) (store.Script, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.scripts[id]
	if !ok {
		return store.Script{}, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return sc, nil
}

func (m *memScripts) Create(sc store.Script) (store.Script, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc.ID = uuid.New()
	m.scripts[sc.ID] = sc
	m.order = append(m.order, sc.ID)
	return sc, nil
}

func (m *memScripts) Update(sc store.Script) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scripts[sc.ID]; !ok {
		return store.ErrNotFound
	}
	m.scripts[sc.ID] = sc
	return nil
}

func (m *memScripts) Delete(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scripts[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.scripts, id)
	return nil
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeEngine, *memScripts) {
	t.Helper()
	eng := newFakeEngine()
	scripts := &memScripts{scripts: map[uuid.UUID]store.Script{}}
	srv := httptest.NewServer(New(eng, scripts, zap.NewNop().Sugar()).Handler())
	t.Cleanup(srv.Close)
	return srv, eng, scripts
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp, out
}

// --- Commands ---

func TestPlayUsesScriptSettings(t *testing.T) {
	srv, eng, scripts := newTestServer(t)
	sc, _ := scripts.Create(store.Script{Text: "x", Repetitions: 3, IntervalSeconds: 2})

	resp, body := do(t, "POST", srv.URL+"/api/play", fmt.Sprintf(`{"id":%q}`, sc.ID))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])

	require.Len(t, eng.plays, 1)
	assert.Equal(t, playCall{sc.ID, 3, 2 * time.Second}, eng.plays[0])
}

func TestPlayOverrides(t *testing.T) {
	srv, eng, _ := newTestServer(t)
	id := uuid.New()

	resp, _ := do(t, "POST", srv.URL+"/api/play", fmt.Sprintf(`{"id":%q,"repetitions":5,"interval":0.5}`, id))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, playCall{id, 5, 500 * time.Millisecond}, eng.plays[0])
}

func TestPlayRejectsBadInput(t *testing.T) {
	srv, _, _ := newTestServer(t)
	tests := []string{
		`{}`,
		`not json`,
		fmt.Sprintf(`{"id":%q,"repetitions":0}`, uuid.New()),
		fmt.Sprintf(`{"id":%q,"interval":-1}`, uuid.New()),
	}
	for _, body := range tests {
		resp, _ := do(t, "POST", srv.URL+"/api/play", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}

func TestPostRequired(t *testing.T) {
	srv, _, _ := newTestServer(t)
	for _, path := range []string{"/api/play", "/api/pause", "/api/resume", "/api/stop", "/api/speed", "/api/record/start", "/api/record/stop", "/api/permission"} {
		resp, _ := do(t, "GET", srv.URL+path, "")
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode, path)
	}
}

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		err    error
		status int
		kind   string
	}{
		{fault.ErrPermissionDenied, http.StatusForbidden, "permission_denied"},
		{fault.ErrAlreadyActive, http.StatusConflict, "already_active"},
		{fault.ErrInvalidState, http.StatusConflict, "invalid_state"},
		{fault.ErrNoRecording, http.StatusNotFound, "no_recording"},
		{fault.ErrPrivateModeRequired, http.StatusPreconditionFailed, "private_mode_required"},
		{fault.ErrInsufficientDiskSpace, http.StatusInsufficientStorage, "insufficient_disk_space"},
		{fault.Wrap(fault.ErrPlaybackFailed, fmt.Errorf("device gone")), http.StatusInternalServerError, "playback_failed"},
		{fault.ErrClosed, http.StatusServiceUnavailable, "unavailable"},
	}
	for _, tt := range tests {
		srv, eng, _ := newTestServer(t)
		eng.err = tt.err

		resp, body := do(t, "POST", srv.URL+"/api/pause", "")
		assert.Equal(t, tt.status, resp.StatusCode, tt.kind)
		assert.Equal(t, tt.kind, body["kind"])
		assert.Equal(t, false, body["ok"])
	}
}

func TestSpeed(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp, body := do(t, "POST", srv.URL+"/api/speed", `{"rate":3}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2.0, body["rate"])

	resp, _ = do(t, "POST", srv.URL+"/api/speed", `{"rate":0}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRecordStartStop(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp, _ := do(t, "POST", srv.URL+"/api/record/start", fmt.Sprintf(`{"id":%q}`, uuid.New()))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := do(t, "POST", srv.URL+"/api/record/stop", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2.5, body["duration"])
}

func TestPermission(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp, body := do(t, "POST", srv.URL+"/api/permission", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["granted"])
}

// --- Recordings ---

func TestDeleteRecording(t *testing.T) {
	srv, eng, _ := newTestServer(t)
	id := uuid.New()

	resp, _ := do(t, "DELETE", srv.URL+"/api/recordings/"+id.String(), "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []uuid.UUID{id}, eng.deleted)

	resp, _ = do(t, "POST", srv.URL+"/api/recordings/"+id.String(), "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	resp, _ = do(t, "DELETE", srv.URL+"/api/recordings/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProcessingFlag(t *testing.T) {
	srv, eng, _ := newTestServer(t)
	id := uuid.New()
	eng.processing[id] = true

	_, body := do(t, "GET", srv.URL+"/api/recordings/"+id.String()+"/processing", "")
	assert.Equal(t, true, body["processing"])
	_, body = do(t, "GET", srv.URL+"/api/recordings/"+uuid.New().String()+"/processing", "")
	assert.Equal(t, false, body["processing"])
}

// --- Scripts ---

func TestScriptCRUD(t *testing.T) {
	srv, eng, scripts := newTestServer(t)

	resp, body := do(t, "POST", srv.URL+"/api/scripts", `{"text":"I am enough","repetitions":2,"privacyModeEnabled":true}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := body["id"].(string)

	resp, _ = do(t, "GET", srv.URL+"/api/scripts/"+id, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, "PUT", srv.URL+"/api/scripts/"+id, `{"text":"I am more than enough","repetitions":4}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	list, _ := scripts.List()
	require.Len(t, list, 1)
	assert.Equal(t, 4, list[0].Repetitions)

	resp, _ = do(t, "DELETE", srv.URL+"/api/scripts/"+id, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, eng.deleted, 1)

	resp, body = do(t, "GET", srv.URL+"/api/scripts/"+id, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "script_not_found", body["kind"])
}

func TestScriptValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)
	for _, body := range []string{`{"text":""}`, `{"text":"x","repetitions":1000}`, `{"text":"x","intervalSeconds":-2}`} {
		resp, _ := do(t, "POST", srv.URL+"/api/scripts", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}

func TestScriptListEmpty(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/scripts")
	require.NoError(t, err)
	defer resp.Body.Close()
	var list []store.Script
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

// --- Observation ---

func TestStatus(t *testing.T) {
	srv, eng, _ := newTestServer(t)
	eng.pub.Publish(state.Snapshot{Version: 3, Phase: state.Playing, CurrentRepetition: 2, TotalRepetitions: 3})

	_, body := do(t, "GET", srv.URL+"/api/status", "")
	assert.Equal(t, "playing", body["phase"])
	assert.Equal(t, 2.0, body["currentRepetition"])
	assert.Equal(t, 3.0, body["version"])
}

func TestEventsStream(t *testing.T) {
	srv, eng, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, "GET", srv.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// wait for the handler to subscribe before publishing
	require.Eventually(t, func() bool { return eng.pub.ListenerCount() == 1 }, time.Second, 5*time.Millisecond)
	eng.pub.Publish(state.Snapshot{Version: 9, Phase: state.Recording})

	reader := bufio.NewReader(resp.Body)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var snap map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &snap))
		if snap["version"] == 9.0 {
			assert.Equal(t, "recording", snap["phase"])
			return
		}
	}
	t.Fatal("snapshot 9 never streamed")
}
