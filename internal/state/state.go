// Package state holds the observable engine state and fans snapshots out
// to subscribers.
package state

import (
	"slices"

	"github.com/google/uuid"
)

// Phase is the coarse engine state.
type Phase int

const (
	Idle Phase = iota
	Recording
	Playing
	Paused
	Processing
)

func (p Phase) String() string {
	switch p {
	case Recording:
		return "recording"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Processing:
		return "processing"
	}
	return "idle"
}

// MarshalText lets the phase appear by name in JSON.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Snapshot is an immutable copy of everything the UI can observe.
type Snapshot struct {
	Version uint64 `json:"version"`
	Phase   Phase  `json:"phase"`

	// ProcessingTarget is set while Phase is Processing.
	ProcessingTarget uuid.UUID `json:"processingTarget"`

	IsRecording     bool      `json:"isRecording"`
	RecordingTarget uuid.UUID `json:"recordingTarget"`
	InputLevel      float64   `json:"inputLevel"`
	Speaking        bool      `json:"speaking"`
	RecordedSeconds float64   `json:"recordedSeconds"`

	IsPlaying         bool      `json:"isPlaying"`
	IsPaused          bool      `json:"isPaused"`
	CurrentPlaying    uuid.UUID `json:"currentPlayingIdentifier"`
	PlaybackProgress  float64   `json:"playbackProgress"`
	CurrentRepetition int       `json:"currentRepetition"`
	TotalRepetitions  int       `json:"totalRepetitions"`
	InInterval        bool      `json:"inInterval"`
	Speed             float64   `json:"speed"`

	IsPrivateRouteActive bool `json:"isPrivateRouteActive"`

	// Processing is sorted so equal sets compare equal.
	Processing []uuid.UUID `json:"processingIdentifiers"`

	// LastError describes the most recent device failure, if any.
	LastError string `json:"lastError,omitempty"`
}

// IsProcessing reports whether id is in the processing set.
func (s Snapshot) IsProcessing(id uuid.UUID) bool {
	_, found := slices.BinarySearchFunc(s.Processing, id, compareIDs)
	return found
}

// SortIDs returns the members of set in a stable order.
func SortIDs(set map[uuid.UUID]struct{}) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	slices.SortFunc(out, compareIDs)
	return out
}

func compareIDs(a, b uuid.UUID) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
