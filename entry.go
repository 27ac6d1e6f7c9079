package redisson

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/elakian/redisson/future"
)

// subscribeFutureKey identifies a one-shot ACK future for a given channel
// and protocol kind, since a channel can be mid-SUBSCRIBE and mid-
// UNSUBSCRIBE at different points in its lifetime (never both at once,
// guarded by the per-channel mutex, but the map still needs both keys
// available across the transition).
type subscribeFutureKey struct {
	channel string
	kind    SubscriptionKind
}

// ConnectionEntry wraps one physical pub/sub connection, tracking how many
// of its SubscriptionsPerConnection slots are still free and which
// channels/patterns/listeners it currently hosts. It never hosts more than
// cap subscriptions: Invariant R3 is enforced by TryAcquire happening
// inside the pool lock before ShardPool hands the entry to a caller.
type ConnectionEntry struct {
	ID uuid.UUID

	conn Connection
	cap  int

	mu              sync.Mutex
	freeSlots       int
	literalChannels map[string]Codec
	patternChannels map[string]Codec
	listeners       map[string][]*Listener // keyed by channel string, insertion order preserved

	futuresMu sync.Mutex
	futures   map[subscribeFutureKey]*future.Future[WireAck]
}

// NewConnectionEntry wraps conn with a subscription cap of capacity slots.
func NewConnectionEntry(conn Connection, capacity int) *ConnectionEntry {
	e := &ConnectionEntry{
		ID:              uuid.New(),
		conn:            conn,
		cap:             capacity,
		freeSlots:       capacity,
		literalChannels: make(map[string]Codec),
		patternChannels: make(map[string]Codec),
		listeners:       make(map[string][]*Listener),
		futures:         make(map[subscribeFutureKey]*future.Future[WireAck]),
	}
	conn.OnStatusMessage(e.onStatusMessage)
	conn.OnMessage(e.onMessage)
	return e
}

// Connection returns the wrapped physical connection.
func (e *ConnectionEntry) Connection() Connection {
	return e.conn
}

// TryAcquire claims one subscription slot, returning the number of slots
// remaining, or -1 if none were free. A -1 here when the entry was
// believed free is InternalInvariantViolation territory — R4 says an entry
// only lives in a ShardPool's free list while freeSlots > 0, so this
// should never be reachable via the normal subscribe path.
func (e *ConnectionEntry) TryAcquire() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.freeSlots <= 0 {
		return -1
	}
	e.freeSlots--
	return e.freeSlots
}

// Release returns one subscription slot and reports the total number of
// channels (literal + pattern) still hosted after the release — callers
// use a 0 result to know the underlying connection can be returned to the
// backend pool.
func (e *ConnectionEntry) Release() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.freeSlots < e.cap {
		e.freeSlots++
	}
	return len(e.literalChannels) + len(e.patternChannels)
}

// FreeSlots returns the current free-slot count, for property tests (P1)
// and diagnostics.
func (e *ConnectionEntry) FreeSlots() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.freeSlots
}

// HasFreeSlots reports freeSlots > 0, the membership test for R4.
func (e *ConnectionEntry) HasFreeSlots() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.freeSlots > 0
}

// AddListener attaches listener to channel, creating the per-channel
// listener list if needed.
func (e *ConnectionEntry) AddListener(channel ChannelName, listener *Listener) {
	if listener == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	key := channel.String()
	e.listeners[key] = append(e.listeners[key], listener)
}

// RemoveListener detaches a specific listener value from channel.
func (e *ConnectionEntry) RemoveListener(channel ChannelName, listener *Listener) {
	e.RemoveListenerByID(channel, listener.ID())
}

// RemoveListenerByID detaches the listener with the given id from channel.
func (e *ConnectionEntry) RemoveListenerByID(channel ChannelName, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := channel.String()
	ls := e.listeners[key]
	for i, l := range ls {
		if l.ID() == id {
			e.listeners[key] = append(ls[:i], ls[i+1:]...)
			break
		}
	}
	if len(e.listeners[key]) == 0 {
		delete(e.listeners, key)
	}
}

// HasListeners reports whether channel still has at least one listener
// attached.
func (e *ConnectionEntry) HasListeners(channel ChannelName) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners[channel.String()]) > 0
}

// Listeners returns a snapshot of the listeners attached to channel, in
// attachment order, for a reattach to replay against a fresh subscribe.
func (e *ConnectionEntry) Listeners(channel ChannelName) []*Listener {
	e.mu.Lock()
	defer e.mu.Unlock()
	ls := e.listeners[channel.String()]
	out := make([]*Listener, len(ls))
	copy(out, ls)
	return out
}

// ChannelCodec returns the codec this entry is tracking for channel as a
// literal subscription, and whether one is tracked.
func (e *ConnectionEntry) ChannelCodec(channel ChannelName) (Codec, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.literalChannels[channel.String()]
	return c, ok
}

// PatternCodec is the pattern-subscription analog of ChannelCodec.
func (e *ConnectionEntry) PatternCodec(pattern ChannelName) (Codec, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.patternChannels[pattern.String()]
	return c, ok
}

// subscribeFuture returns the (possibly newly created) one-shot future
// this entry will resolve when the backend acknowledges kind on channel.
func (e *ConnectionEntry) subscribeFuture(channel ChannelName, kind SubscriptionKind) *future.Future[WireAck] {
	key := subscribeFutureKey{channel: channel.String(), kind: kind}
	e.futuresMu.Lock()
	defer e.futuresMu.Unlock()
	if f, ok := e.futures[key]; ok {
		return f
	}
	f := future.New[WireAck]()
	e.futures[key] = f
	return f
}

// onStatusMessage is wired to the underlying Connection as its status-ACK
// hook; it notifies the StatusListeners attached to channel and resolves
// the matching subscribe_future. The channel/codec maps are not touched
// here: commitSubscribed already recorded them before the wire send. An
// ACK with no pending future (a late duplicate) is dropped.
func (e *ConnectionEntry) onStatusMessage(kind SubscriptionKind, channel ChannelName) {
	key := subscribeFutureKey{channel: channel.String(), kind: kind}
	e.futuresMu.Lock()
	f, ok := e.futures[key]
	if ok {
		delete(e.futures, key)
	}
	e.futuresMu.Unlock()
	if ok {
		for _, l := range e.Listeners(channel) {
			if l.Status != nil {
				l.Status.OnStatus(kind, channel)
			}
		}
		f.Complete(WireAck{})
	}
}

// onMessage fans a delivered payload out to every listener registered for
// key, in registration order, preserving the backend's delivery order
// (§5) since it runs synchronously on whatever goroutine the Connection's
// notification loop calls it from — one at a time, per connection.
func (e *ConnectionEntry) onMessage(key ChannelName, data []byte) {
	for _, l := range e.Listeners(key) {
		if l.Message != nil {
			l.Message.OnMessage(key, data)
		}
	}
}

// commitSubscribed records channel/codec as now hosted by this entry,
// called just before the wire SUBSCRIBE/PSUBSCRIBE is sent — R1 treats the
// registry slot as taken from here, the ACK just confirms it.
func (e *ConnectionEntry) commitSubscribed(kind SubscriptionKind, channel ChannelName, codec Codec) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if kind == Psubscribe {
		e.patternChannels[channel.String()] = codec
	} else {
		e.literalChannels[channel.String()] = codec
	}
}

// commitUnsubscribed removes channel from whichever map it lives in, and
// drops its listener list. Without this an entry requeued onto a
// shardPool's free list after unsubscribing one of several channels it
// hosts would carry that channel's now-stale listeners forward into
// whatever fresh Subscribe later reuses the same channel name on it —
// AddListener has no dedup, so the ghost listener would keep receiving
// deliveries alongside the new one.
func (e *ConnectionEntry) commitUnsubscribed(kind SubscriptionKind, channel ChannelName) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if kind == Punsubscribe {
		delete(e.patternChannels, channel.String())
	} else {
		delete(e.literalChannels, channel.String())
	}
	delete(e.listeners, channel.String())
}

// Subscribe sends SUBSCRIBE for channel/codec over the wrapped connection.
func (e *ConnectionEntry) Subscribe(ctx context.Context, codec Codec, channel ChannelName) *future.Future[WireAck] {
	return e.conn.Subscribe(ctx, codec, channel)
}

// PSubscribe sends PSUBSCRIBE for pattern/codec.
func (e *ConnectionEntry) PSubscribe(ctx context.Context, codec Codec, pattern ChannelName) *future.Future[WireAck] {
	return e.conn.PSubscribe(ctx, codec, pattern)
}

// Unsubscribe sends UNSUBSCRIBE for channel.
func (e *ConnectionEntry) Unsubscribe(ctx context.Context, channel ChannelName) *future.Future[WireAck] {
	return e.conn.Unsubscribe(ctx, channel)
}

// PUnsubscribe sends PUNSUBSCRIBE for pattern.
func (e *ConnectionEntry) PUnsubscribe(ctx context.Context, pattern ChannelName) *future.Future[WireAck] {
	return e.conn.PUnsubscribe(ctx, pattern)
}
