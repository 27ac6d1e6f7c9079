package redisson

import "sync"

// pubSubKey is the registry/pool key: a channel bound to a shard.
type pubSubKey struct {
	channel string
	shard   ShardId
}

// shardPool is the per-shard bookkeeping: a FIFO queue of ConnectionEntry
// values that still have free subscription slots, plus the set of
// (channel, shard) keys currently hosted somewhere on this shard. Mutation
// of freeEntries happens only under the service's global free-pool
// AsyncSemaphore — this type itself is not safe for concurrent use and
// relies entirely on that external serialization, exactly like the Java
// source's plain (non-concurrent) Queue/Set pair guarded by freePubSubLock.
type shardPool struct {
	keys        map[pubSubKey]struct{}
	freeEntries []*ConnectionEntry
}

func newShardPool() *shardPool {
	return &shardPool{keys: make(map[pubSubKey]struct{})}
}

// peekFree returns the head of the free-entries queue without removing it,
// or nil if empty.
func (p *shardPool) peekFree() *ConnectionEntry {
	if len(p.freeEntries) == 0 {
		return nil
	}
	return p.freeEntries[0]
}

// popFree removes and returns the head of the free-entries queue.
func (p *shardPool) popFree() *ConnectionEntry {
	if len(p.freeEntries) == 0 {
		return nil
	}
	e := p.freeEntries[0]
	p.freeEntries = p.freeEntries[1:]
	return e
}

// pushFree enqueues entry at the tail of the free-entries queue. Callers
// must only do this when entry.HasFreeSlots() — R4.
func (p *shardPool) pushFree(entry *ConnectionEntry) {
	p.freeEntries = append(p.freeEntries, entry)
}

// removeFree drops entry from the free-entries queue if present, used when
// an entry's last subscription is torn down or it is being reattached.
func (p *shardPool) removeFree(entry *ConnectionEntry) {
	for i, e := range p.freeEntries {
		if e == entry {
			p.freeEntries = append(p.freeEntries[:i], p.freeEntries[i+1:]...)
			return
		}
	}
}

// addKey records that channel is now hosted on this shard.
func (p *shardPool) addKey(channel ChannelName, shard ShardId) {
	p.keys[pubSubKey{channel: channel.String(), shard: shard}] = struct{}{}
}

// removeKey records that channel is no longer hosted on this shard.
func (p *shardPool) removeKey(channel ChannelName, shard ShardId) {
	delete(p.keys, pubSubKey{channel: channel.String(), shard: shard})
}

// shardPools owns one shardPool per ShardId, created lazily.
type shardPools struct {
	mu    sync.Mutex
	pools map[ShardId]*shardPool
}

func newShardPools() *shardPools {
	return &shardPools{pools: make(map[ShardId]*shardPool)}
}

// get returns the pool for shard, creating it if necessary. Callers are
// expected to already hold the global free-pool AsyncSemaphore before
// mutating the returned pool; this method's own lock only protects the
// outer map of pools, which can grow from any goroutine at any time.
func (sp *shardPools) get(shard ShardId) *shardPool {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	p, ok := sp.pools[shard]
	if !ok {
		p = newShardPool()
		sp.pools[shard] = p
	}
	return p
}
