package redisson

import (
	"context"
	"sync"

	"github.com/elakian/redisson/future"
)

// fakeConnection is a Connection test double. Every wire call is recorded
// in order; unless noAutoAck is set, a successful wire call synthesizes
// the matching status ACK shortly afterward (on its own goroutine, the
// same way a real backend's notification loop would deliver it
// asynchronously) so most tests don't need to drive the ACK by hand.
type fakeConnection struct {
	mu         sync.Mutex
	statusFn   func(kind SubscriptionKind, channel ChannelName)
	messageFn  func(key ChannelName, data []byte)
	calls      []wireCall
	wireErr    error
	noAutoAck  bool
	closed     bool
}

type wireCall struct {
	kind    SubscriptionKind
	channel string
}

func newFakeConnection() *fakeConnection {
	return &fakeConnection{}
}

func (c *fakeConnection) Subscribe(_ context.Context, _ Codec, channel ChannelName) *future.Future[WireAck] {
	return c.send(Subscribe, channel)
}

func (c *fakeConnection) PSubscribe(_ context.Context, _ Codec, pattern ChannelName) *future.Future[WireAck] {
	return c.send(Psubscribe, pattern)
}

func (c *fakeConnection) Unsubscribe(_ context.Context, channel ChannelName) *future.Future[WireAck] {
	return c.send(Unsubscribe, channel)
}

func (c *fakeConnection) PUnsubscribe(_ context.Context, pattern ChannelName) *future.Future[WireAck] {
	return c.send(Punsubscribe, pattern)
}

func (c *fakeConnection) send(kind SubscriptionKind, channel ChannelName) *future.Future[WireAck] {
	c.mu.Lock()
	c.calls = append(c.calls, wireCall{kind: kind, channel: channel.String()})
	err := c.wireErr
	autoAck := !c.noAutoAck
	c.mu.Unlock()

	if err != nil {
		return future.Failed[WireAck](err)
	}
	if autoAck {
		go c.Ack(kind, channel)
	}
	return future.Completed[WireAck](WireAck{})
}

func (c *fakeConnection) OnStatusMessage(fn func(kind SubscriptionKind, channel ChannelName)) {
	c.mu.Lock()
	c.statusFn = fn
	c.mu.Unlock()
}

func (c *fakeConnection) InjectStatusMessage(kind SubscriptionKind, channel ChannelName) {
	c.Ack(kind, channel)
}

// Ack synthesizes a status acknowledgement for kind/channel, as if the
// backend had just confirmed it.
func (c *fakeConnection) Ack(kind SubscriptionKind, channel ChannelName) {
	c.mu.Lock()
	fn := c.statusFn
	c.mu.Unlock()
	if fn != nil {
		fn(kind, channel)
	}
}

func (c *fakeConnection) OnMessage(fn func(key ChannelName, data []byte)) {
	c.mu.Lock()
	c.messageFn = fn
	c.mu.Unlock()
}

// Deliver synthesizes an inbound payload on key, as if the backend's
// notification loop had just delivered it.
func (c *fakeConnection) Deliver(key ChannelName, data []byte) {
	c.mu.Lock()
	fn := c.messageFn
	c.mu.Unlock()
	if fn != nil {
		fn(key, data)
	}
}

func (c *fakeConnection) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConnection) callsSnapshot() []wireCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]wireCall, len(c.calls))
	copy(out, c.calls)
	return out
}

// fakeRouter is a Router test double: a fixed channel->shard map, mutable
// between calls so tests can simulate topology changes for reattach.
type fakeRouter struct {
	mu           sync.Mutex
	byChannel    map[string]ShardId
	shards       []ShardId
	cluster      bool
	shuttingDown bool
}

func newFakeRouter(shards ...ShardId) *fakeRouter {
	return &fakeRouter{byChannel: make(map[string]ShardId), shards: shards}
}

func (r *fakeRouter) route(channel string, shard ShardId) {
	r.mu.Lock()
	r.byChannel[channel] = shard
	r.mu.Unlock()
}

func (r *fakeRouter) ShardOf(channel ChannelName) (ShardId, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byChannel[channel.String()]
	return s, ok
}

func (r *fakeRouter) Shards() []ShardId {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ShardId(nil), r.shards...)
}

func (r *fakeRouter) IsCluster() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cluster
}

func (r *fakeRouter) IsShuttingDown() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shuttingDown
}

// fakeBackendPool is a BackendPool test double. errs queues per-shard
// errors to return before eventually succeeding, one per AcquirePubSub
// call, letting tests drive the connect-retry path deterministically.
type fakeBackendPool struct {
	mu        sync.Mutex
	errs      map[ShardId][]error
	conns     map[ShardId][]*fakeConnection
	attempts  map[ShardId]int
	released  []releasedConn
	noAutoAck bool
}

type releasedConn struct {
	shard ShardId
	conn  Connection
}

func newFakeBackendPool() *fakeBackendPool {
	return &fakeBackendPool{
		errs:     make(map[ShardId][]error),
		conns:    make(map[ShardId][]*fakeConnection),
		attempts: make(map[ShardId]int),
	}
}

func (p *fakeBackendPool) queueError(shard ShardId, err error) {
	p.mu.Lock()
	p.errs[shard] = append(p.errs[shard], err)
	p.mu.Unlock()
}

func (p *fakeBackendPool) attemptCount(shard ShardId) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts[shard]
}

func (p *fakeBackendPool) AcquirePubSub(_ context.Context, shard ShardId) *future.Future[Connection] {
	p.mu.Lock()
	p.attempts[shard]++
	var err error
	if q := p.errs[shard]; len(q) > 0 {
		err = q[0]
		p.errs[shard] = q[1:]
	}
	p.mu.Unlock()

	if err != nil {
		return future.Failed[Connection](err)
	}

	conn := newFakeConnection()
	p.mu.Lock()
	conn.noAutoAck = p.noAutoAck
	p.conns[shard] = append(p.conns[shard], conn)
	p.mu.Unlock()
	return future.Completed[Connection](conn)
}

func (p *fakeBackendPool) ReleasePubSub(shard ShardId, conn Connection) {
	p.mu.Lock()
	p.released = append(p.released, releasedConn{shard: shard, conn: conn})
	p.mu.Unlock()
}

func (p *fakeBackendPool) releasedShards() []ShardId {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ShardId, len(p.released))
	for i, r := range p.released {
		out[i] = r.shard
	}
	return out
}
