// Package fault defines the error kinds reported by the audio engine.
//
// Every kind is a sentinel value. Causes are attached with Wrap and
// recovered with errors.Is, so callers can branch on the kind without
// losing the underlying device or file-system error.
package fault

import (
	"errors"
	"fmt"
)

var (
	ErrPermissionDenied           = errors.New("microphone permission denied")
	ErrAlreadyActive              = errors.New("another audio operation is active")
	ErrNoRecording                = errors.New("no recording available")
	ErrPrivateModeRequired        = errors.New("private mode requires headphones")
	ErrRecordingFailed            = errors.New("recording failed")
	ErrPlaybackFailed             = errors.New("playback failed")
	ErrSessionConfigurationFailed = errors.New("audio session configuration failed")
	ErrFileNotFound               = errors.New("audio file not found")
	ErrFileCorrupted              = errors.New("audio file corrupted")
	ErrInsufficientDiskSpace      = errors.New("insufficient disk space")
	ErrProcessingFailed           = errors.New("audio processing failed")

	// ErrInvalidState is returned for commands that do not apply to the
	// current phase, such as pause while nothing is playing.
	ErrInvalidState = errors.New("command not valid in current state")

	// ErrClosed is returned once the control loop has shut down.
	ErrClosed = errors.New("audio engine closed")
)

// kinds is ordered so Kind reports the most specific match first.
var kinds = []error{
	ErrPermissionDenied,
	ErrAlreadyActive,
	ErrNoRecording,
	ErrPrivateModeRequired,
	ErrInsufficientDiskSpace,
	ErrFileNotFound,
	ErrFileCorrupted,
	ErrSessionConfigurationFailed,
	ErrRecordingFailed,
	ErrPlaybackFailed,
	ErrProcessingFailed,
	ErrInvalidState,
	ErrClosed,
}

// Wrap tags err with kind. A nil err yields kind itself.
func Wrap(kind, err error) error {
	if err == nil {
		return kind
	}
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// Kind returns the sentinel carried by err, or nil if err has none.
func Kind(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// IsDeviceFailure reports whether err is one of the device-level kinds
// that send the engine back to idle.
func IsDeviceFailure(err error) bool {
	return errors.Is(err, ErrRecordingFailed) ||
		errors.Is(err, ErrPlaybackFailed) ||
		errors.Is(err, ErrSessionConfigurationFailed)
}
