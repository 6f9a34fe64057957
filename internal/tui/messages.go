package tui

import (
	"github.com/satindergrewal/affirmloop/internal/state"
	"github.com/satindergrewal/affirmloop/internal/store"
)

type snapshotMsg struct{ snap state.Snapshot }

type scriptsMsg struct {
	list []store.Script
	err  error
}

// actionMsg carries the result of a coordinator command.
type actionMsg struct {
	err    error
	reload bool
}

type clearErrorMsg struct{}
