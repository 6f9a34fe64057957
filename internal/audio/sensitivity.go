package audio

import (
	"fmt"
	"time"
)

// Profile pairs a normalized voice threshold with the padding kept
// around detected speech.
type Profile struct {
	Name      string
	Threshold float64
	Padding   time.Duration
}

var profiles = map[string]Profile{
	"low":    {Name: "low", Threshold: 0.5, Padding: 200 * time.Millisecond},
	"medium": {Name: "medium", Threshold: 0.4, Padding: 300 * time.Millisecond},
	"high":   {Name: "high", Threshold: 0.3, Padding: 500 * time.Millisecond},
}

// ProfileFor returns the named sensitivity tier.
func ProfileFor(name string) (Profile, error) {
	p, ok := profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("unknown sensitivity %q", name)
	}
	return p, nil
}

// DefaultProfile is the medium tier.
func DefaultProfile() Profile {
	return profiles["medium"]
}
