package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestExitCodeLogsFailure(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core).Sugar()

	assert.Equal(t, 1, exitCode(logger, errors.New("device gone")))
	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "affirm: device gone", entries[0].Message)
}

func TestExitCodeCleanShutdown(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	assert.Equal(t, 0, exitCode(zap.New(core).Sugar(), nil))
	assert.Zero(t, logs.Len())
}
