// Package device abstracts the host audio hardware.
package device

import (
	"context"
	"strings"
)

// Mode is the routing configuration requested from the hardware.
type Mode int

const (
	ModeIdle Mode = iota
	ModeRecord
	ModePlayback
)

func (m Mode) String() string {
	switch m {
	case ModeRecord:
		return "record"
	case ModePlayback:
		return "playback"
	}
	return "idle"
}

// Permission is the microphone grant status.
type Permission int

const (
	PermissionUndetermined Permission = iota
	PermissionGranted
	PermissionDenied
)

// RouteKind classifies an output route.
type RouteKind int

const (
	RouteSpeaker RouteKind = iota
	RouteHeadphones
	RouteBluetooth
	RouteExternal
)

func (k RouteKind) String() string {
	switch k {
	case RouteHeadphones:
		return "headphones"
	case RouteBluetooth:
		return "bluetooth"
	case RouteExternal:
		return "external"
	}
	return "speaker"
}

// Route is the current audio output.
type Route struct {
	Name string
	Kind RouteKind
}

// Private reports whether audio on this route stays with the listener.
func (r Route) Private() bool {
	return r.Kind == RouteHeadphones || r.Kind == RouteBluetooth
}

var routeHints = []struct {
	words []string
	kind  RouteKind
}{
	{[]string{"bluetooth", "bluez", "airpods", "a2dp", "buds"}, RouteBluetooth},
	{[]string{"headphone", "headset", "earphone", "earbud", "phones"}, RouteHeadphones},
	{[]string{"hdmi", "displayport", "usb", "line out"}, RouteExternal},
}

// ClassifyRoute guesses the route kind from a device name.
func ClassifyRoute(name string) RouteKind {
	lower := strings.ToLower(name)
	for _, h := range routeHints {
		for _, w := range h.words {
			if strings.Contains(lower, w) {
				return h.kind
			}
		}
	}
	return RouteSpeaker
}

// SendRoute queues r on ch without blocking. When ch is full the oldest
// queued route is dropped, so the reader always ends on the newest one.
// ch must have a single sender.
func SendRoute(ch chan Route, r Route) {
	for {
		select {
		case ch <- r:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Device is the hardware boundary used by the session manager and engines.
type Device interface {
	RequestPermission(ctx context.Context) (Permission, error)
	SetMode(m Mode) error
	Route() Route
	// RouteChanges delivers the new route whenever the output changes.
	RouteChanges() <-chan Route
	OpenInput(sampleRate int) (InputStream, error)
	OpenOutput(sampleRate int) (OutputStream, error)
	Close() error
}

// InputStream captures mono PCM.
type InputStream interface {
	Start() error
	// Level is the dBFS of the most recent buffer.
	Level() float64
	// Drain returns everything captured so far and clears the buffer.
	Drain() []int16
	Stop() error
	Close() error
}

// OutputStream plays mono PCM.
type OutputStream interface {
	Start() error
	// Write blocks until the device has room for frame.
	Write(frame []int16) error
	Stop() error
	Close() error
}
