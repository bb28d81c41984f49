package client

import (
	"context"
	"sync"

	"github.com/mikekulinski/zkclient/pkg/logging"
	"github.com/mikekulinski/zkclient/pkg/zk"
)

type cacheKey struct {
	path string
	kind zk.WatchKind
}

// cacheEntry is the memoized result of one read. Which fields are
// meaningful depends on the key's kind: data+stat for data reads,
// children for child listings, stat (possibly nil) for existence
// checks. stale marks the entry pending invalidation after its guarding
// watch fired; it is evicted lazily on the next read.
type cacheEntry struct {
	data     []byte
	stat     *zk.Stat
	children []string
	stale    bool
}

// genSnapshot captures the cache's view of a key before a miss-filling
// read, so the result is only stored if nothing invalidated the key in
// the meantime.
type genSnapshot struct {
	epoch uint64
	gen   uint64
}

// nodeCache memoizes read results keyed by (path, kind). Entries are
// created on miss, marked stale by their guarding watch or by a
// mutation through this client, and never otherwise expire. Stores are
// generation-checked so a watch firing during an in-flight read wins
// over the read's result. The whole cache is purged on session expiry,
// tracked by bumping the epoch.
type nodeCache struct {
	mu      sync.Mutex
	epoch   uint64
	entries map[cacheKey]*cacheEntry
	gens    map[cacheKey]uint64
	log     logging.Logger
}

func newNodeCache(log logging.Logger) *nodeCache {
	return &nodeCache{
		entries: map[cacheKey]*cacheEntry{},
		gens:    map[cacheKey]uint64{},
		log:     log,
	}
}

// lookup returns the entry for key if it is present and not pending
// invalidation. Stale entries are evicted here rather than eagerly when
// their watch fires, keeping the cache free of background work.
func (nc *nodeCache) lookup(key cacheKey) (*cacheEntry, bool) {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	entry, ok := nc.entries[key]
	if !ok {
		return nil, false
	}
	if entry.stale {
		delete(nc.entries, key)
		return nil, false
	}
	return entry, true
}

func (nc *nodeCache) snapshot(key cacheKey) genSnapshot {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	return genSnapshot{epoch: nc.epoch, gen: nc.gens[key]}
}

// store installs a miss-filling read's result, unless the key (or the
// whole cache) was invalidated after snap was taken.
func (nc *nodeCache) store(key cacheKey, entry *cacheEntry, snap genSnapshot) bool {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	if nc.epoch != snap.epoch || nc.gens[key] != snap.gen {
		nc.log.Debugf("cache store for %s %q skipped: invalidated mid-read", key.kind, key.path)
		return false
	}
	nc.entries[key] = entry
	return true
}

// markStale flags the entry for lazy eviction and moves the key's
// generation so in-flight reads of the old value are not stored.
func (nc *nodeCache) markStale(key cacheKey) {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	nc.gens[key]++
	if entry, ok := nc.entries[key]; ok {
		entry.stale = true
	}
}

// invalidate marks one (path, kind) pair stale.
func (nc *nodeCache) invalidate(path string, kind zk.WatchKind) {
	nc.markStale(cacheKey{path: path, kind: kind})
}

// invalidatePath marks every kind for path stale. Used after a mutation
// through this client.
func (nc *nodeCache) invalidatePath(path string) {
	for _, kind := range []zk.WatchKind{zk.WatchData, zk.WatchChildren, zk.WatchExists} {
		nc.markStale(cacheKey{path: path, kind: kind})
	}
}

// purge drops everything. Bumping the epoch also rejects stores from
// reads that were in flight when the purge happened, since their
// guarding watches are gone.
func (nc *nodeCache) purge() {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	nc.epoch++
	nc.entries = map[cacheKey]*cacheEntry{}
	nc.gens = map[cacheKey]uint64{}
}

// invalidator builds the one-shot watch callback guarding a cache
// entry. Its firing is the sole invalidation signal for the entry.
func (c *Client) invalidator(key cacheKey) WatchFunc {
	return func(ev zk.Event) {
		c.cache.markStale(key)
		c.log.Debugf("cache entry %s %q invalidated by %s", key.kind, key.path, ev)
	}
}

// CachedGet is Get memoized by path. A hit returns the stored value
// with no primitive call; a miss reads through GetW with a watch whose
// firing invalidates the entry.
func (c *Client) CachedGet(ctx context.Context, path string) ([]byte, *zk.Stat, error) {
	key := cacheKey{path: path, kind: zk.WatchData}
	if entry, ok := c.cache.lookup(key); ok {
		return entry.data, entry.stat, nil
	}

	snap := c.cache.snapshot(key)
	data, stat, err := c.GetW(ctx, path, c.invalidator(key))
	if err != nil {
		return nil, nil, err
	}
	c.cache.store(key, &cacheEntry{data: data, stat: stat}, snap)
	return data, stat, nil
}

// CachedChildren is Children memoized by path.
func (c *Client) CachedChildren(ctx context.Context, path string) ([]string, error) {
	key := cacheKey{path: path, kind: zk.WatchChildren}
	if entry, ok := c.cache.lookup(key); ok {
		return entry.children, nil
	}

	snap := c.cache.snapshot(key)
	children, err := c.ChildrenW(ctx, path, c.invalidator(key))
	if err != nil {
		return nil, err
	}
	c.cache.store(key, &cacheEntry{children: children}, snap)
	return children, nil
}

// CachedExists is Exists memoized by path. Absence is cached too: the
// stored entry holds a nil Stat, and the guarding watch fires when the
// node is created.
func (c *Client) CachedExists(ctx context.Context, path string) (*zk.Stat, error) {
	key := cacheKey{path: path, kind: zk.WatchExists}
	if entry, ok := c.cache.lookup(key); ok {
		return entry.stat, nil
	}

	snap := c.cache.snapshot(key)
	stat, err := c.ExistsW(ctx, path, c.invalidator(key))
	if err != nil {
		return nil, err
	}
	c.cache.store(key, &cacheEntry{stat: stat}, snap)
	return stat, nil
}
