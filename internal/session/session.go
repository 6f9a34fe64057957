// Package session owns the shared audio device session: microphone
// permission, routing mode and the private-route signal.
package session

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/satindergrewal/affirmloop/internal/device"
	"github.com/satindergrewal/affirmloop/internal/fault"
)

// Owner is the engine the device session is currently configured for.
type Owner int

const (
	OwnerNone Owner = iota
	OwnerRecording
	OwnerPlayback
)

func (o Owner) String() string {
	switch o {
	case OwnerRecording:
		return "recording"
	case OwnerPlayback:
		return "playback"
	}
	return "none"
}

// Manager is safe for concurrent use. Configure and Deactivate are meant
// to be called from the control loop only.
type Manager struct {
	dev device.Device
	log *zap.SugaredLogger

	mu         sync.Mutex
	permission device.Permission
	owner      Owner
	listeners  []func(bool)

	private atomic.Bool
}

// New creates a manager and seeds the private-route flag from the
// device's current route.
func New(dev device.Device, log *zap.SugaredLogger) *Manager {
	m := &Manager{dev: dev, log: log}
	m.private.Store(dev.Route().Private())
	return m
}

// RequestPermission asks the device for microphone access. Anything other
// than an explicit grant, including errors and cancellation, is a denial.
// A grant or denial is remembered; an undetermined answer is asked again
// next time.
func (m *Manager) RequestPermission(ctx context.Context) bool {
	m.mu.Lock()
	cached := m.permission
	m.mu.Unlock()
	if cached == device.PermissionGranted {
		return true
	}
	if cached == device.PermissionDenied {
		return false
	}

	p, err := m.dev.RequestPermission(ctx)
	if err != nil {
		m.log.Warnf("Microphone permission request failed: %v", err)
		return false
	}

	m.mu.Lock()
	if p != device.PermissionUndetermined {
		m.permission = p
	}
	m.mu.Unlock()

	if p != device.PermissionGranted {
		m.log.Infof("Microphone permission not granted")
		return false
	}
	return true
}

// PermissionGranted reports the cached grant without prompting.
func (m *Manager) PermissionGranted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.permission == device.PermissionGranted
}

// ConfigureForRecording switches the device to capture routing.
func (m *Manager) ConfigureForRecording() error {
	return m.configure(device.ModeRecord, OwnerRecording)
}

// ConfigureForPlayback switches the device to output routing.
func (m *Manager) ConfigureForPlayback() error {
	return m.configure(device.ModePlayback, OwnerPlayback)
}

func (m *Manager) configure(mode device.Mode, owner Owner) error {
	if err := m.dev.SetMode(mode); err != nil {
		return fault.Wrap(fault.ErrSessionConfigurationFailed, err)
	}
	m.mu.Lock()
	m.owner = owner
	m.mu.Unlock()
	return nil
}

// Owner returns which engine the session is configured for.
func (m *Manager) Owner() Owner {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owner
}

// Deactivate releases the device session. Failures are logged only.
func (m *Manager) Deactivate() {
	m.mu.Lock()
	m.owner = OwnerNone
	m.mu.Unlock()
	if err := m.dev.SetMode(device.ModeIdle); err != nil {
		m.log.Warnf("Audio session deactivate failed: %v", err)
	}
}

// IsPrivateRouteActive is true while output goes to headphones or a
// Bluetooth audio device.
func (m *Manager) IsPrivateRouteActive() bool {
	return m.private.Load()
}

// OnPrivateRouteChange registers fn to be called with the new value
// whenever it flips. fn runs on the Run goroutine.
func (m *Manager) OnPrivateRouteChange(fn func(bool)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Run consumes route-change notifications until ctx is cancelled or the
// device stops sending them. Blocks.
func (m *Manager) Run(ctx context.Context) {
	changes := m.dev.RouteChanges()
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-changes:
			if !ok {
				return
			}
			m.applyRoute(r)
		}
	}
}

func (m *Manager) applyRoute(r device.Route) {
	private := r.Private()
	if m.private.Swap(private) == private {
		return
	}
	m.log.Infof("Private route active: %v (%s)", private, r.Name)

	m.mu.Lock()
	listeners := slices.Clone(m.listeners)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(private)
	}
}
