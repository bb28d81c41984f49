package zktest

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikekulinski/zkclient/pkg/zk"
)

// recorder collects delivered events so tests can assert on them after
// the delivery goroutine has drained.
type recorder struct {
	mu     sync.Mutex
	events []zk.Event
}

func (r *recorder) callback(ev zk.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []zk.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]zk.Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) watchFirings() []zk.Event {
	var out []zk.Event
	for _, ev := range r.snapshot() {
		if ev.Type == zk.EventWatch {
			out = append(out, ev)
		}
	}
	return out
}

func connect(t *testing.T, d *Driver) (zk.Handle, *recorder) {
	t.Helper()
	rec := &recorder{}
	h, err := d.Connect("zk1:2181", 10*time.Second, rec.callback)
	require.NoError(t, err)
	return h, rec
}

func TestDriver_CreateGetRoundTrip(t *testing.T) {
	d := New()
	h, _ := connect(t, d)
	defer h.Close()

	created, err := h.Create("/a", []byte("v"), nil, 0)
	require.NoError(t, err)
	assert.Equal(t, "/a", created)

	data, stat, err := h.Get("/a", false)
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), data)
	assert.Equal(t, int32(0), stat.Version)
	assert.Equal(t, stat.Czxid, stat.Mzxid)

	_, err = h.Create("/a", nil, nil, 0)
	assert.ErrorIs(t, err, zk.ErrNodeExists)
}

func TestDriver_SequentialNaming(t *testing.T) {
	d := New()
	h, _ := connect(t, d)
	defer h.Close()

	_, err := h.Create("/q", nil, nil, 0)
	require.NoError(t, err)

	first, err := h.Create("/q/n", nil, nil, zk.FlagSequential)
	require.NoError(t, err)
	second, err := h.Create("/q/n", nil, nil, zk.FlagSequential)
	require.NoError(t, err)
	assert.Equal(t, "/q/n_0", first)
	assert.Equal(t, "/q/n_1", second)

	children, _, err := h.Children("/q", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"n_0", "n_1"}, children)
}

func TestDriver_WatchIsOneShot(t *testing.T) {
	d := New()
	h, rec := connect(t, d)

	_, err := h.Create("/a", nil, nil, 0)
	require.NoError(t, err)
	_, _, err = h.Get("/a", true)
	require.NoError(t, err)

	_, err = h.Set("/a", []byte("v1"), -1)
	require.NoError(t, err)
	_, err = h.Set("/a", []byte("v2"), -1)
	require.NoError(t, err)

	require.NoError(t, h.Close())
	firings := rec.watchFirings()
	require.Len(t, firings, 1)
	assert.Equal(t, "/a", firings[0].Path)
	assert.Equal(t, zk.WatchData, firings[0].Kind)
}

func TestDriver_DeleteFiresAllWatchKinds(t *testing.T) {
	d := New()
	h, rec := connect(t, d)

	_, err := h.Create("/p", nil, nil, 0)
	require.NoError(t, err)
	_, err = h.Create("/p/c", nil, nil, 0)
	require.NoError(t, err)

	_, _, err = h.Get("/p/c", true)
	require.NoError(t, err)
	_, err = h.Exists("/p/c", true)
	require.NoError(t, err)
	_, _, err = h.Children("/p", true)
	require.NoError(t, err)

	require.NoError(t, h.Delete("/p/c", -1))

	require.NoError(t, h.Close())
	firings := rec.watchFirings()
	assert.ElementsMatch(t, []zk.Event{
		{Type: zk.EventWatch, Path: "/p/c", Kind: zk.WatchData},
		{Type: zk.EventWatch, Path: "/p/c", Kind: zk.WatchExists},
		{Type: zk.EventWatch, Path: "/p", Kind: zk.WatchChildren},
	}, firings)
}

func TestDriver_ExistsWatchArmedOnAbsentNode(t *testing.T) {
	d := New()
	h, rec := connect(t, d)

	stat, err := h.Exists("/pending", true)
	require.NoError(t, err)
	require.Nil(t, stat)

	_, err = h.Create("/pending", nil, nil, 0)
	require.NoError(t, err)

	require.NoError(t, h.Close())
	firings := rec.watchFirings()
	require.Len(t, firings, 1)
	assert.Equal(t, zk.WatchExists, firings[0].Kind)
}

func TestDriver_ExpiryReapsEphemerals(t *testing.T) {
	d := New()
	h, rec := connect(t, d)
	defer h.Close()

	_, err := h.Create("/durable", nil, nil, 0)
	require.NoError(t, err)
	_, err = h.Create("/durable/eph", nil, nil, zk.FlagEphemeral)
	require.NoError(t, err)

	d.ExpireSession()

	_, _, err = h.Get("/durable", false)
	assert.ErrorIs(t, err, zk.ErrSessionExpired)

	// A fresh session sees the durable node without the ephemeral.
	h2, _ := connect(t, d)
	defer h2.Close()
	children, _, err := h2.Children("/durable", false)
	require.NoError(t, err)
	assert.Empty(t, children)

	require.Eventually(t, func() bool {
		for _, ev := range rec.snapshot() {
			if ev.Type == zk.EventSession && ev.State == zk.StateExpired {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDriver_CloseReapsEphemerals(t *testing.T) {
	d := New()
	h, _ := connect(t, d)

	_, err := h.Create("/eph", nil, nil, zk.FlagEphemeral)
	require.NoError(t, err)
	require.NoError(t, h.Close())

	h2, _ := connect(t, d)
	defer h2.Close()
	stat, err := h2.Exists("/eph", false)
	require.NoError(t, err)
	assert.Nil(t, stat)
}

func TestDriver_FailNext(t *testing.T) {
	d := New()
	h, _ := connect(t, d)
	defer h.Close()

	_, err := h.Create("/a", []byte("v"), nil, 0)
	require.NoError(t, err)

	d.FailNext("get", zk.ErrConnectionLoss)
	d.FailNext("get", zk.ErrOperationTimeout)

	_, _, err = h.Get("/a", false)
	assert.ErrorIs(t, err, zk.ErrConnectionLoss)
	_, _, err = h.Get("/a", false)
	assert.ErrorIs(t, err, zk.ErrOperationTimeout)
	_, _, err = h.Get("/a", false)
	assert.NoError(t, err)
}

func TestDriver_DisconnectFailsPrimitives(t *testing.T) {
	d := New()
	h, _ := connect(t, d)
	defer h.Close()

	d.Disconnect()
	_, _, err := h.Get("/a", false)
	assert.ErrorIs(t, err, zk.ErrConnectionLoss)

	d.Reconnect()
	_, err = h.Exists("/a", false)
	assert.NoError(t, err)
}

func TestDriver_VersionChecks(t *testing.T) {
	d := New()
	h, _ := connect(t, d)
	defer h.Close()

	_, err := h.Create("/a", nil, nil, 0)
	require.NoError(t, err)

	_, err = h.Set("/a", []byte("v"), 3)
	require.ErrorIs(t, err, zk.ErrBadVersion)
	_, err = h.Set("/a", []byte("v"), 0)
	require.NoError(t, err)

	err = h.Delete("/a", 0)
	require.ErrorIs(t, err, zk.ErrBadVersion)
	require.NoError(t, h.Delete("/a", 1))
}

func TestDriver_DeleteRefusesNonLeaf(t *testing.T) {
	d := New()
	h, _ := connect(t, d)
	defer h.Close()

	_, err := h.Create("/p", nil, nil, 0)
	require.NoError(t, err)
	_, err = h.Create("/p/c", nil, nil, 0)
	require.NoError(t, err)

	err = h.Delete("/p", -1)
	assert.ErrorIs(t, err, zk.ErrNotEmpty)
}

func TestDriver_EphemeralsCannotHaveChildren(t *testing.T) {
	d := New()
	h, _ := connect(t, d)
	defer h.Close()

	_, err := h.Create("/eph", nil, nil, zk.FlagEphemeral)
	require.NoError(t, err)

	_, err = h.Create("/eph/child", nil, nil, 0)
	require.Error(t, err)
	assert.False(t, errors.Is(err, zk.ErrNoNode))
}

func TestDriver_LogStream(t *testing.T) {
	d := New()
	var buf bytes.Buffer
	d.SetLogStream(&buf)

	h, _ := connect(t, d)
	require.NoError(t, h.Close())

	out := buf.String()
	assert.True(t, strings.Contains(out, "ZOO_INFO@initiated connection"), "got %q", out)
	assert.True(t, strings.Contains(out, "ZOO_INFO@session 1 closed"), "got %q", out)
}
