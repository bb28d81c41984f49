package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZapRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(WarningLevel, &buf)

	log.Debug("too quiet")
	log.Infof("still too quiet: %d", 1)
	log.Warn("loud enough")
	log.Errorf("also loud: %s", "boom")
	require.NoError(t, log.Sync())

	out := buf.String()
	assert.NotContains(t, out, "too quiet")
	assert.Contains(t, out, "loud enough")
	assert.Contains(t, out, "also loud: boom")
}

func TestZapWritesAllSinks(t *testing.T) {
	var a, b bytes.Buffer
	log := New(InfoLevel, &a, &b)

	log.Info("fan out")
	require.NoError(t, log.Sync())

	assert.True(t, strings.Contains(a.String(), "fan out"))
	assert.True(t, strings.Contains(b.String(), "fan out"))
}

func TestDiscardLogger(t *testing.T) {
	// Just exercise every method; nothing should panic or print.
	DiscardLogger.Debug("x")
	DiscardLogger.Debugf("%s", "x")
	DiscardLogger.Info("x")
	DiscardLogger.Infof("%s", "x")
	DiscardLogger.Warn("x")
	DiscardLogger.Warnf("%s", "x")
	DiscardLogger.Error("x")
	DiscardLogger.Errorf("%s", "x")
}
