package playback

import "errors"

var errNoSamples = errors.New("decoded clip is empty")
