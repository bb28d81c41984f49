// Package zktest provides an in-memory Driver for exercising the client
// without a real ensemble. It keeps a full node tree with Stat
// bookkeeping, arms one-shot watches the way a real server does, and
// exposes levers to script connection loss, session expiry, and
// synthetic watch firings.
package zktest

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/mikekulinski/zkclient/pkg/zk"
)

const eventBufferSize = 128

type watchKey struct {
	path string
	kind zk.WatchKind
}

// node is a single entry in the in-memory tree.
type node struct {
	name           string
	data           []byte
	acl            []zk.ACL
	children       map[string]*node
	stat           zk.Stat
	nextSequential int
}

func newNode(name string, data []byte, acl []zk.ACL, stat zk.Stat) *node {
	return &node{
		name: name,
		data: data,
		acl:  acl,
		// Init the children to an empty map instead of nil to avoid panics
		// when writing to a nil map.
		children: map[string]*node{},
		stat:     stat,
	}
}

// Driver is an in-memory zk.Driver. The tree survives across sessions,
// so a client that reconnects after expiry sees the same data minus the
// ephemeral nodes the dead session owned.
type Driver struct {
	// AutoConnect makes Connect report the session as connected
	// immediately. Turn it off to test clients stuck in connecting.
	AutoConnect bool

	mu           sync.Mutex
	root         *node
	epoch        int32
	counter      int32
	nextSession  int64
	sess         *session
	disconnected bool
	failures     map[string][]error
	logW         io.Writer
}

// session is one live connection identity. It implements zk.Handle.
type session struct {
	d       *Driver
	id      int64
	cb      zk.EventCallback
	events  chan zk.Event
	done    chan struct{}
	watches map[watchKey]bool
	closed  bool
	expired bool
}

func New() *Driver {
	return &Driver{
		AutoConnect: true,
		root:        newNode("", nil, zk.WorldACL(zk.PermAll), zk.Stat{}),
		epoch:       1,
		failures:    map[string][]error{},
	}
}

// Connect starts a new session. Events are delivered one at a time from
// a goroutine owned by the driver, never from the caller's goroutine.
func (d *Driver) Connect(_ string, _ time.Duration, cb zk.EventCallback) (zk.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextSession++
	s := &session{
		d:       d,
		id:      d.nextSession,
		cb:      cb,
		events:  make(chan zk.Event, eventBufferSize),
		done:    make(chan struct{}),
		watches: map[watchKey]bool{},
	}
	go s.deliverLoop()
	d.sess = s

	d.diag("ZOO_INFO@initiated connection, session id %d", s.id)
	s.deliver(zk.Event{Type: zk.EventSession, State: zk.StateConnecting})
	if d.AutoConnect && !d.disconnected {
		s.deliver(zk.Event{Type: zk.EventSession, State: zk.StateConnected})
	}
	return s, nil
}

// SetLogStream redirects the driver's diagnostic lines to w.
func (d *Driver) SetLogStream(w io.Writer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logW = w
}

// FailNext queues err to be returned by the next primitive call named op
// (one of "get", "set", "children", "exists", "create", "delete").
// Multiple queued errors are consumed in order.
func (d *Driver) FailNext(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[op] = append(d.failures[op], err)
}

// Disconnect simulates losing the connection: primitives start failing
// with ErrConnectionLoss and the session reports disconnected.
func (d *Driver) Disconnect() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disconnected = true
	if d.sess != nil {
		d.sess.deliver(zk.Event{Type: zk.EventSession, State: zk.StateDisconnected})
	}
}

// Reconnect restores the connection after Disconnect.
func (d *Driver) Reconnect() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disconnected = false
	if d.sess != nil {
		d.sess.deliver(zk.Event{Type: zk.EventSession, State: zk.StateConnected})
	}
}

// ExpireSession kills the current session the way the server would:
// primitives fail with ErrSessionExpired, armed watches are void, and
// ephemeral nodes owned by the session are removed.
func (d *Driver) ExpireSession() {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.sess
	if s == nil || s.expired {
		return
	}
	s.expired = true
	s.watches = map[watchKey]bool{}
	d.reapEphemerals(d.root, "", s.id)
	d.diag("ZOO_ERROR@session %d expired", s.id)
	s.deliver(zk.Event{Type: zk.EventSession, State: zk.StateExpired})
}

// EmitState injects a raw session-state event.
func (d *Driver) EmitState(state zk.State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sess != nil {
		d.sess.deliver(zk.Event{Type: zk.EventSession, State: state})
	}
}

// FireWatch injects a watch firing for (path, kind), disarming the watch
// if one is armed. Firing an unarmed watch is allowed so tests can check
// that unmatched notices are dropped.
func (d *Driver) FireWatch(path string, kind zk.WatchKind) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sess == nil {
		return
	}
	delete(d.sess.watches, watchKey{path: path, kind: kind})
	d.sess.deliver(zk.Event{Type: zk.EventWatch, Path: path, Kind: kind})
}

// SessionCount returns how many sessions this driver has handed out.
func (d *Driver) SessionCount() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.nextSession
}

func (d *Driver) popFailure(op string) error {
	queue := d.failures[op]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	d.failures[op] = queue[1:]
	return err
}

func (d *Driver) nextZXID() zk.ZXID {
	d.counter++
	return zk.NewZXID(d.epoch, d.counter)
}

func (d *Driver) diag(format string, args ...any) {
	if d.logW != nil {
		fmt.Fprintf(d.logW, format+"\n", args...)
	}
}

// reapEphemerals removes every node under n owned by session id, firing
// the same watches a real delete would.
func (d *Driver) reapEphemerals(n *node, path string, id int64) {
	parentPath := path
	if parentPath == "" {
		parentPath = "/"
	}
	for name, child := range n.children {
		childPath := path + "/" + name
		d.reapEphemerals(child, childPath, id)
		if child.stat.EphemeralOwner == id {
			delete(n.children, name)
			n.stat.Cversion++
			n.stat.NumChildren--
			n.stat.Pzxid = d.nextZXID()
			d.fire(childPath, zk.WatchData)
			d.fire(childPath, zk.WatchExists)
			d.fire(parentPath, zk.WatchChildren)
		}
	}
}

// fire delivers a watch firing for (path, kind) if one is armed on the
// current session, consuming the registration.
func (d *Driver) fire(path string, kind zk.WatchKind) {
	s := d.sess
	if s == nil || s.expired {
		return
	}
	key := watchKey{path: path, kind: kind}
	if !s.watches[key] {
		return
	}
	delete(s.watches, key)
	s.deliver(zk.Event{Type: zk.EventWatch, Path: path, Kind: kind})
}

// findNode will search down the tree and return the node specified by
// the names. If the node could not be found, then we will return nil.
func findNode(start *node, names []string) *node {
	n := start
	for _, name := range names {
		child, ok := n.children[name]
		if !ok {
			return nil
		}
		n = child
	}
	return n
}

// isValidVersion is used for conditional checks for update/delete
// operations. A version of -1 skips the check; otherwise the versions
// must match.
func isValidVersion(expected, actual int32) bool {
	return expected == -1 || expected == actual
}

func (s *session) deliverLoop() {
	defer close(s.done)
	for ev := range s.events {
		s.cb(ev)
	}
}

// deliver queues an event for the delivery goroutine. Callers must hold
// d.mu.
func (s *session) deliver(ev zk.Event) {
	if s.closed {
		return
	}
	s.events <- ev
}

// guard performs the common per-call checks. Callers must hold d.mu.
func (s *session) guard(op string) error {
	if s.closed {
		return zk.ErrConnectionLoss
	}
	if s.expired {
		return zk.ErrSessionExpired
	}
	if err := s.d.popFailure(op); err != nil {
		return err
	}
	if s.d.disconnected {
		return zk.ErrConnectionLoss
	}
	return nil
}

func (s *session) arm(path string, kind zk.WatchKind) {
	s.watches[watchKey{path: path, kind: kind}] = true
}

func (s *session) Get(path string, watch bool) ([]byte, *zk.Stat, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if err := s.guard("get"); err != nil {
		return nil, nil, err
	}
	if err := zk.ValidatePath(path); err != nil {
		return nil, nil, err
	}

	n := findNode(s.d.root, zk.SplitPath(path))
	if n == nil {
		// The watch is intentionally not armed when the node is missing.
		return nil, nil, zk.ErrNoNode
	}
	if watch {
		s.arm(path, zk.WatchData)
	}
	stat := n.stat
	data := make([]byte, len(n.data))
	copy(data, n.data)
	return data, &stat, nil
}

func (s *session) Set(path string, data []byte, version int32) (*zk.Stat, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if err := s.guard("set"); err != nil {
		return nil, err
	}
	if err := zk.ValidatePath(path); err != nil {
		return nil, err
	}

	n := findNode(s.d.root, zk.SplitPath(path))
	if n == nil {
		return nil, zk.ErrNoNode
	}
	if !isValidVersion(version, n.stat.Version) {
		return nil, fmt.Errorf("%w: expected [%d], actual [%d]", zk.ErrBadVersion, version, n.stat.Version)
	}
	n.data = data
	n.stat.Version++
	n.stat.Mzxid = s.d.nextZXID()
	n.stat.Mtime = nowMillis()
	n.stat.DataLength = int32(len(data))
	s.d.fire(path, zk.WatchData)
	stat := n.stat
	return &stat, nil
}

func (s *session) Children(path string, watch bool) ([]string, *zk.Stat, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if err := s.guard("children"); err != nil {
		return nil, nil, err
	}
	if err := zk.ValidatePath(path); err != nil {
		return nil, nil, err
	}

	n := findNode(s.d.root, zk.SplitPath(path))
	if n == nil {
		return nil, nil, zk.ErrNoNode
	}
	if watch {
		s.arm(path, zk.WatchChildren)
	}
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	stat := n.stat
	return names, &stat, nil
}

func (s *session) Exists(path string, watch bool) (*zk.Stat, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if err := s.guard("exists"); err != nil {
		return nil, err
	}
	if err := zk.ValidatePath(path); err != nil {
		return nil, err
	}

	// Unlike Get, the watch is armed even for an absent node so the
	// caller learns of its creation.
	if watch {
		s.arm(path, zk.WatchExists)
	}
	n := findNode(s.d.root, zk.SplitPath(path))
	if n == nil {
		return nil, nil
	}
	stat := n.stat
	return &stat, nil
}

func (s *session) Create(path string, data []byte, acl []zk.ACL, flags zk.CreateFlag) (string, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if err := s.guard("create"); err != nil {
		return "", err
	}
	if err := zk.ValidatePath(path); err != nil {
		return "", err
	}
	names := zk.SplitPath(path)

	// Search down the tree until we hit the parent where we'll be
	// creating this new node.
	parent := findNode(s.d.root, names[:len(names)-1])
	if parent == nil {
		return "", zk.ErrNoNode
	}
	if parent.stat.IsEphemeral() {
		return "", fmt.Errorf("zktest: ephemeral nodes cannot have children")
	}

	newName := names[len(names)-1]
	if flags&zk.FlagSequential != 0 {
		newName = fmt.Sprintf("%s_%d", newName, parent.nextSequential)
	}
	if _, ok := parent.children[newName]; ok {
		return "", fmt.Errorf("%w: node [%s] at path [%s]", zk.ErrNodeExists, newName, path)
	}
	if len(acl) == 0 {
		acl = zk.WorldACL(zk.PermAll)
	}

	z := s.d.nextZXID()
	stat := zk.Stat{
		Czxid:      z,
		Mzxid:      z,
		Pzxid:      z,
		Ctime:      nowMillis(),
		Mtime:      nowMillis(),
		DataLength: int32(len(data)),
	}
	if flags&zk.FlagEphemeral != 0 {
		stat.EphemeralOwner = s.id
	}
	parent.children[newName] = newNode(newName, data, acl, stat)
	// Make sure to increment the counter so the next sequential node
	// will have the next number.
	parent.nextSequential++
	parent.stat.Cversion++
	parent.stat.NumChildren++
	parent.stat.Pzxid = z

	parentPath, _ := zk.Parent(path)
	createdPath := zk.Join(parentPath, newName)
	if parentPath == "/" {
		createdPath = "/" + newName
	}
	s.d.fire(createdPath, zk.WatchExists)
	s.d.fire(parentPath, zk.WatchChildren)
	return createdPath, nil
}

func (s *session) Delete(path string, version int32) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if err := s.guard("delete"); err != nil {
		return err
	}
	if err := zk.ValidatePath(path); err != nil {
		return err
	}
	names := zk.SplitPath(path)

	parent := findNode(s.d.root, names[:len(names)-1])
	if parent == nil {
		return zk.ErrNoNode
	}
	name := names[len(names)-1]
	n, ok := parent.children[name]
	if !ok {
		return zk.ErrNoNode
	}
	if !isValidVersion(version, n.stat.Version) {
		return fmt.Errorf("%w: expected [%d], actual [%d]", zk.ErrBadVersion, version, n.stat.Version)
	}
	if len(n.children) > 0 {
		return fmt.Errorf("%w: only leaf nodes can be deleted", zk.ErrNotEmpty)
	}
	delete(parent.children, name)
	parent.stat.Cversion++
	parent.stat.NumChildren--
	parent.stat.Pzxid = s.d.nextZXID()

	parentPath, _ := zk.Parent(path)
	s.d.fire(path, zk.WatchData)
	s.d.fire(path, zk.WatchExists)
	s.d.fire(parentPath, zk.WatchChildren)
	return nil
}

func (s *session) GetACL(path string) ([]zk.ACL, *zk.Stat, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if err := s.guard("getacl"); err != nil {
		return nil, nil, err
	}
	if err := zk.ValidatePath(path); err != nil {
		return nil, nil, err
	}

	n := findNode(s.d.root, zk.SplitPath(path))
	if n == nil {
		return nil, nil, zk.ErrNoNode
	}
	acl := make([]zk.ACL, len(n.acl))
	copy(acl, n.acl)
	stat := n.stat
	return acl, &stat, nil
}

func (s *session) SetACL(path string, acl []zk.ACL, version int32) (*zk.Stat, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if err := s.guard("setacl"); err != nil {
		return nil, err
	}
	if err := zk.ValidatePath(path); err != nil {
		return nil, err
	}

	n := findNode(s.d.root, zk.SplitPath(path))
	if n == nil {
		return nil, zk.ErrNoNode
	}
	if !isValidVersion(version, n.stat.Aversion) {
		return nil, fmt.Errorf("%w: expected [%d], actual [%d]", zk.ErrBadVersion, version, n.stat.Aversion)
	}
	n.acl = acl
	n.stat.Aversion++
	stat := n.stat
	return &stat, nil
}

func (s *session) SessionID() int64 {
	return s.id
}

func (s *session) Close() error {
	s.d.mu.Lock()
	if s.closed {
		s.d.mu.Unlock()
		return nil
	}
	s.closed = true
	if !s.expired {
		s.d.reapEphemerals(s.d.root, "", s.id)
	}
	s.d.diag("ZOO_INFO@session %d closed", s.id)
	close(s.events)
	s.d.mu.Unlock()

	// Wait for the delivery goroutine to drain so no callback runs after
	// Close returns.
	<-s.done
	return nil
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
