package redisson

import "sync"

// subscriptionRegistry is the global (channel, shard) -> ConnectionEntry
// map — the authoritative answer to "who hosts this subscription" (R2:
// at most one entry per key). It uses a plain mutex rather than the
// free-pool AsyncSemaphore because lookups (the subscribe engine's fast
// path) must never wait behind a queued callback; only the insert/remove
// that establish or tear down a binding go through the async locking
// discipline described in the engine itself.
type subscriptionRegistry struct {
	mu      sync.RWMutex
	entries map[pubSubKey]*ConnectionEntry
}

func newSubscriptionRegistry() *subscriptionRegistry {
	return &subscriptionRegistry{entries: make(map[pubSubKey]*ConnectionEntry)}
}

func (r *subscriptionRegistry) get(channel ChannelName, shard ShardId) (*ConnectionEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[pubSubKey{channel: channel.String(), shard: shard}]
	return e, ok
}

// putIfAbsent installs entry for key iff nothing is registered yet,
// returning the entry that ended up registered (either the one just
// inserted, or whoever got there first) and whether this call was the
// winner. This is the CAS the subscribe engine's tie-break relies on.
func (r *subscriptionRegistry) putIfAbsent(channel ChannelName, shard ShardId, entry *ConnectionEntry) (*ConnectionEntry, bool) {
	key := pubSubKey{channel: channel.String(), shard: shard}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.entries[key]; ok {
		return existing, false
	}
	r.entries[key] = entry
	return entry, true
}

// remove deletes the (channel, shard) binding, returning the entry that
// was there (nil if none).
func (r *subscriptionRegistry) remove(channel ChannelName, shard ShardId) *ConnectionEntry {
	key := pubSubKey{channel: channel.String(), shard: shard}
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entries[key]
	delete(r.entries, key)
	return e
}

// matching returns every (channel, shard) key currently bound such that
// filter(channel, shard) reports true — used by Reattach to find every
// subscription bound to the shard being reattached.
func (r *subscriptionRegistry) matching(filter func(channel ChannelName, shard ShardId) bool) []pubSubKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []pubSubKey
	for key := range r.entries {
		if filter(Channel(key.channel), key.shard) {
			out = append(out, key)
		}
	}
	return out
}

// entryFor looks up the entry currently bound to key, if any.
func (r *subscriptionRegistry) entryFor(key pubSubKey) (*ConnectionEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key]
	return e, ok
}

// findByConnection returns every key bound to an entry wrapping conn,
// used by reattach(connection) to find what needs resubscribing after a
// connection is lost.
func (r *subscriptionRegistry) findByConnection(conn Connection) []pubSubKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []pubSubKey
	for key, entry := range r.entries {
		if entry.Connection() == conn {
			out = append(out, key)
		}
	}
	return out
}
