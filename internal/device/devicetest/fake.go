// Package devicetest provides an in-memory audio device for tests.
package devicetest

import (
	"context"
	"errors"
	"math"
	"sync"

	"github.com/satindergrewal/affirmloop/internal/device"
)

// Device is a scriptable device.Device.
type Device struct {
	mu         sync.Mutex
	permission device.Permission
	permErr    error
	modeErr    map[device.Mode]error
	inputErr   error
	outputErr  error
	mode       device.Mode
	modeCalls  []device.Mode
	route      device.Route
	routes     chan device.Route
	input      *Input
	outputs    []*Output
}

// New returns a device that grants permission and plays to the speaker.
func New() *Device {
	return &Device{
		permission: device.PermissionGranted,
		modeErr:    map[device.Mode]error{},
		route:      device.Route{Name: "Speaker", Kind: device.RouteSpeaker},
		routes:     make(chan device.Route, 8),
		input:      &Input{level: math.Inf(-1)},
	}
}

func (d *Device) SetPermission(p device.Permission, err error) {
	d.mu.Lock()
	d.permission, d.permErr = p, err
	d.mu.Unlock()
}

// FailMode makes SetMode(m) return err.
func (d *Device) FailMode(m device.Mode, err error) {
	d.mu.Lock()
	d.modeErr[m] = err
	d.mu.Unlock()
}

func (d *Device) FailInput(err error) {
	d.mu.Lock()
	d.inputErr = err
	d.mu.Unlock()
}

func (d *Device) FailOutput(err error) {
	d.mu.Lock()
	d.outputErr = err
	d.mu.Unlock()
}

// SetRoute changes the route and emits a change notification.
func (d *Device) SetRoute(r device.Route) {
	d.mu.Lock()
	d.route = r
	d.mu.Unlock()
	d.routes <- r
}

// Input returns the single input stream the device hands out.
func (d *Device) Input() *Input { return d.input }

// Outputs returns every output stream opened so far.
func (d *Device) Outputs() []*Output {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Output(nil), d.outputs...)
}

func (d *Device) Mode() device.Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

func (d *Device) ModeCalls() []device.Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]device.Mode(nil), d.modeCalls...)
}

func (d *Device) RequestPermission(ctx context.Context) (device.Permission, error) {
	if err := ctx.Err(); err != nil {
		return device.PermissionUndetermined, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.permission, d.permErr
}

func (d *Device) SetMode(m device.Mode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.modeCalls = append(d.modeCalls, m)
	if err := d.modeErr[m]; err != nil {
		return err
	}
	d.mode = m
	return nil
}

func (d *Device) Route() device.Route {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.route
}

func (d *Device) RouteChanges() <-chan device.Route { return d.routes }

func (d *Device) OpenInput(int) (device.InputStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inputErr != nil {
		return nil, d.inputErr
	}
	d.input.reset()
	return d.input, nil
}

func (d *Device) OpenOutput(int) (device.OutputStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.outputErr != nil {
		return nil, d.outputErr
	}
	o := &Output{}
	d.outputs = append(d.outputs, o)
	return o, nil
}

func (d *Device) Close() error { return nil }

// Input is a capture stream fed by the test.
type Input struct {
	mu      sync.Mutex
	level   float64
	samples []int16
	started bool
	closed  bool
}

func (in *Input) reset() {
	in.mu.Lock()
	in.samples = nil
	in.level = math.Inf(-1)
	in.started, in.closed = false, false
	in.mu.Unlock()
}

// SetLevel sets the dBFS reported by Level.
func (in *Input) SetLevel(db float64) {
	in.mu.Lock()
	in.level = db
	in.mu.Unlock()
}

// Feed appends captured samples.
func (in *Input) Feed(samples []int16) {
	in.mu.Lock()
	in.samples = append(in.samples, samples...)
	in.mu.Unlock()
}

func (in *Input) Started() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.started && !in.closed
}

func (in *Input) Start() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return errors.New("input closed")
	}
	in.started = true
	return nil
}

func (in *Input) Level() float64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.level
}

func (in *Input) Drain() []int16 {
	in.mu.Lock()
	defer in.mu.Unlock()
	s := in.samples
	in.samples = nil
	return s
}

func (in *Input) Stop() error { return nil }

func (in *Input) Close() error {
	in.mu.Lock()
	in.closed = true
	in.mu.Unlock()
	return nil
}

// Output records written frames.
type Output struct {
	mu      sync.Mutex
	frames  int
	started bool
	closed  bool
}

func (o *Output) Start() error {
	o.mu.Lock()
	o.started = true
	o.mu.Unlock()
	return nil
}

func (o *Output) Write(frame []int16) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return errors.New("output closed")
	}
	o.frames++
	return nil
}

func (o *Output) Stop() error { return nil }

func (o *Output) Close() error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	return nil
}

// Frames returns the number of frames written.
func (o *Output) Frames() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.frames
}

func (o *Output) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
