package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesRotatingFile(t *testing.T) {
	dir := t.TempDir()
	log, err := New(Options{Level: "debug", Dir: dir, Console: true})
	require.NoError(t, err)

	log.Infof("Recording started: %s", "abc")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(filepath.Join(dir, "affirm.log"))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "Recording started: abc"))
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(Options{Level: "loud"})
	assert.Error(t, err)
}

func TestNewDefaultsToInfo(t *testing.T) {
	dir := t.TempDir()
	log, err := New(Options{Dir: dir, Console: true})
	require.NoError(t, err)

	log.Debugf("hidden")
	log.Warnf("shown")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(filepath.Join(dir, "affirm.log"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "shown")
}
