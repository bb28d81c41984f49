package logstream

import (
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingLogger captures relayed lines per level.
type recordingLogger struct {
	mu      sync.Mutex
	entries map[string][]string
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{entries: map[string][]string{}}
}

func (l *recordingLogger) record(level string, v ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[level] = append(l.entries[level], fmt.Sprint(v...))
}

func (l *recordingLogger) at(level string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries[level]...)
}

func (l *recordingLogger) Debug(v ...any)            { l.record("debug", v...) }
func (l *recordingLogger) Debugf(f string, v ...any) { l.record("debug", fmt.Sprintf(f, v...)) }
func (l *recordingLogger) Info(v ...any)             { l.record("info", v...) }
func (l *recordingLogger) Infof(f string, v ...any)  { l.record("info", fmt.Sprintf(f, v...)) }
func (l *recordingLogger) Warn(v ...any)             { l.record("warn", v...) }
func (l *recordingLogger) Warnf(f string, v ...any)  { l.record("warn", fmt.Sprintf(f, v...)) }
func (l *recordingLogger) Error(v ...any)            { l.record("error", v...) }
func (l *recordingLogger) Errorf(f string, v ...any) { l.record("error", fmt.Sprintf(f, v...)) }

// fakeSetter remembers the writer the relay installs.
type fakeSetter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *fakeSetter) SetLogStream(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w = w
}

func (s *fakeSetter) write(t *testing.T, line string) {
	s.mu.Lock()
	w := s.w
	s.mu.Unlock()
	_, err := io.WriteString(w, line+"\n")
	require.NoError(t, err)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestRelayClassifiesLines(t *testing.T) {
	log := newRecordingLogger()
	setter := &fakeSetter{}
	relay := Install(setter, log)
	defer relay.Uninstall()

	setter.write(t, "2026-08-30 thread:ZOO_INFO@connected to server")
	setter.write(t, "2026-08-30 thread:ZOO_DEBUG@pinged")
	setter.write(t, "2026-08-30 thread:ZOO_ERROR@something broke")
	setter.write(t, "no marker at all")

	waitFor(t, func() bool { return len(log.at("info")) >= 2 })
	assert.Contains(t, log.at("info"), "connected to server")
	assert.Contains(t, log.at("info"), "no marker at all")
	assert.Contains(t, log.at("debug"), "pinged")
	assert.Contains(t, log.at("error"), "something broke")
}

func TestRelayReclassifiesKnownNoise(t *testing.T) {
	log := newRecordingLogger()
	setter := &fakeSetter{}
	relay := Install(setter, log)
	defer relay.Uninstall()

	setter.write(t, "t:ZOO_WARN@Exceeded deadline by 13ms")
	setter.write(t, "t:ZOO_ERROR@server refused to accept the client")

	waitFor(t, func() bool {
		return len(log.at("debug")) >= 1 && len(log.at("info")) >= 1
	})
	assert.Contains(t, log.at("debug"), "Exceeded deadline by 13ms")
	assert.Contains(t, log.at("info"), "server refused to accept the client")
	assert.Empty(t, log.at("warn"))
	assert.Empty(t, log.at("error"))
}

func TestUninstallRestoresStderrAndStops(t *testing.T) {
	log := newRecordingLogger()
	setter := &fakeSetter{}
	relay := Install(setter, log)

	relay.Uninstall()
	// A second Uninstall is a no-op.
	relay.Uninstall()

	setter.mu.Lock()
	defer setter.mu.Unlock()
	assert.NotNil(t, setter.w)
	_, isPipe := setter.w.(*io.PipeWriter)
	assert.False(t, isPipe, "stream should no longer point at the relay pipe")
}
