package pgnotify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/ryanuber/go-glob"
	log "github.com/sirupsen/logrus"

	"github.com/elakian/redisson"
	"github.com/elakian/redisson/future"
)

// physical is one dedicated pgx.Conn LISTENing on a shard's NOTIFY
// channel, shared by every handle a Broker has handed out for that shard
// — the "one connection per shard, pooled and refcounted" adapter
// described in SPEC_FULL.md §6.1, generalized from the teacher's single
// listenConn. It owns the notification loop and fans each delivered
// payload out to every still-registered handle; a handle only forwards a
// payload to its own listeners if the payload's topic matches one of that
// handle's subscribed channels or patterns.
type physical struct {
	conn  *pgx.Conn
	shard redisson.ShardId
	log   *log.Entry

	mu      sync.RWMutex
	handles map[*handle]struct{}
}

func newPhysical(conn *pgx.Conn, shard redisson.ShardId, entry *log.Entry) *physical {
	return &physical{
		conn:    conn,
		shard:   shard,
		log:     entry,
		handles: make(map[*handle]struct{}),
	}
}

func (p *physical) register(h *handle)   { p.mu.Lock(); p.handles[h] = struct{}{}; p.mu.Unlock() }
func (p *physical) unregister(h *handle) { p.mu.Lock(); delete(p.handles, h); p.mu.Unlock() }

// notificationLoop drains WaitForNotification until the connection is
// closed or ctx is canceled, dispatching each payload to every handle
// sharing this physical connection. Grounded on the teacher's
// broker.notificationLoop.
func (p *physical) notificationLoop(ctx context.Context) {
	for {
		n, err := p.conn.WaitForNotification(ctx)
		if err != nil {
			p.log.WithError(err).Debug("pgnotify: notification loop exiting")
			return
		}
		var msg wireMessage
		if err := json.Unmarshal([]byte(n.Payload), &msg); err != nil {
			p.log.WithError(err).Warn("pgnotify: bad notification payload")
			continue
		}
		p.dispatch(msg.Topic, msg.Data)
	}
}

func (p *physical) dispatch(topic string, data []byte) {
	p.mu.RLock()
	snapshot := make([]*handle, 0, len(p.handles))
	for h := range p.handles {
		snapshot = append(snapshot, h)
	}
	p.mu.RUnlock()

	for _, h := range snapshot {
		h.deliver(topic, data)
	}
}

func (p *physical) close() {
	_, _ = p.conn.Exec(context.Background(), fmt.Sprintf("UNLISTEN %q", p.shard))
	_ = p.conn.Close(context.Background())
}

// handle is the redisson.Connection each AcquirePubSub call hands back —
// one per ConnectionEntry, even though several handles for the same shard
// share a single physical connection underneath. Each handle keeps its
// own view of which literal channels and patterns it has subscribed,
// since that filtering (not the physical LISTEN, which is shard-wide) is
// what makes per-channel subscribe/unsubscribe meaningful on a backend
// whose real subscription granularity is coarser than a single channel.
type handle struct {
	physical *physical
	shard    redisson.ShardId

	mu       sync.RWMutex
	literals map[string]struct{}
	patterns map[string]struct{}

	statusFn  func(kind redisson.SubscriptionKind, channel redisson.ChannelName)
	messageFn func(key redisson.ChannelName, data []byte)
}

func newHandle(p *physical, shard redisson.ShardId) *handle {
	return &handle{
		physical: p,
		shard:    shard,
		literals: make(map[string]struct{}),
		patterns: make(map[string]struct{}),
	}
}

// Subscribe implements redisson.Connection. PostgreSQL's LISTEN/NOTIFY has
// no per-channel subscription of its own — the physical connection is
// already LISTENing shard-wide — so this only re-issues LISTEN (idempotent,
// cheap, and gives a real wire error a chance to surface) and records the
// channel in this handle's local filter before synthesizing the status
// ACK, exactly as SPEC_FULL.md §6.1 describes.
func (h *handle) Subscribe(ctx context.Context, _ redisson.Codec, channel redisson.ChannelName) *future.Future[redisson.WireAck] {
	return h.doSubscribe(ctx, redisson.Subscribe, channel)
}

// PSubscribe implements redisson.Connection. True server-side pattern
// matching does not exist on this backend (a Non-goal this adapter
// accepts per SPEC_FULL.md §6.1); the pattern is recorded and matched
// client-side, in handle.deliver, against every topic actually
// observed via NOTIFY.
func (h *handle) PSubscribe(ctx context.Context, _ redisson.Codec, pattern redisson.ChannelName) *future.Future[redisson.WireAck] {
	return h.doSubscribe(ctx, redisson.Psubscribe, pattern)
}

func (h *handle) doSubscribe(ctx context.Context, kind redisson.SubscriptionKind, key redisson.ChannelName) *future.Future[redisson.WireAck] {
	result := future.New[redisson.WireAck]()

	if _, err := h.physical.conn.Exec(ctx, fmt.Sprintf("LISTEN %q", h.shard)); err != nil {
		result.Cancel(fmt.Errorf("pgnotify: listen %s: %w", h.shard, err))
		return result
	}

	h.mu.Lock()
	if kind == redisson.Psubscribe {
		h.patterns[key.String()] = struct{}{}
	} else {
		h.literals[key.String()] = struct{}{}
	}
	h.mu.Unlock()

	result.Complete(redisson.WireAck{})
	h.emitStatus(kind, key)
	return result
}

// Unsubscribe implements redisson.Connection. No UNLISTEN happens here —
// the physical LISTEN is shard-wide and torn down only when the Broker
// releases the last handle sharing it (BackendPool.ReleasePubSub); this
// just drops the channel from local filtering and synthesizes the ACK.
func (h *handle) Unsubscribe(ctx context.Context, channel redisson.ChannelName) *future.Future[redisson.WireAck] {
	return h.doUnsubscribe(ctx, redisson.Unsubscribe, channel)
}

// PUnsubscribe implements redisson.Connection, the pattern analog of Unsubscribe.
func (h *handle) PUnsubscribe(ctx context.Context, pattern redisson.ChannelName) *future.Future[redisson.WireAck] {
	return h.doUnsubscribe(ctx, redisson.Punsubscribe, pattern)
}

func (h *handle) doUnsubscribe(_ context.Context, kind redisson.SubscriptionKind, key redisson.ChannelName) *future.Future[redisson.WireAck] {
	h.mu.Lock()
	if kind == redisson.Punsubscribe {
		delete(h.patterns, key.String())
	} else {
		delete(h.literals, key.String())
	}
	h.mu.Unlock()

	result := future.New[redisson.WireAck]()
	result.Complete(redisson.WireAck{})
	h.emitStatus(kind, key)
	return result
}

// OnStatusMessage implements redisson.Connection.
func (h *handle) OnStatusMessage(fn func(kind redisson.SubscriptionKind, channel redisson.ChannelName)) {
	h.mu.Lock()
	h.statusFn = fn
	h.mu.Unlock()
}

// InjectStatusMessage implements redisson.Connection — the unsubscribe
// engine's watchdog hook. Since this adapter already synthesizes every ACK
// immediately, in practice the engine's watchdog is canceled before it
// fires and never calls this; it is implemented for interface completeness
// and for the case where a caller times out on an unusually loaded
// goroutine scheduler.
func (h *handle) InjectStatusMessage(kind redisson.SubscriptionKind, channel redisson.ChannelName) {
	h.emitStatus(kind, channel)
}

func (h *handle) emitStatus(kind redisson.SubscriptionKind, channel redisson.ChannelName) {
	h.mu.RLock()
	fn := h.statusFn
	h.mu.RUnlock()
	if fn != nil {
		fn(kind, channel)
	}
}

// OnMessage implements redisson.Connection.
func (h *handle) OnMessage(fn func(key redisson.ChannelName, data []byte)) {
	h.mu.Lock()
	h.messageFn = fn
	h.mu.Unlock()
}

// deliver is called by physical.dispatch for every payload the shared
// connection observes; it forwards to this handle's messageFn only if
// topic matches one of this handle's literal channels or patterns.
func (h *handle) deliver(topic string, data []byte) {
	h.mu.RLock()
	_, literal := h.literals[topic]
	matched := ""
	if !literal {
		for pattern := range h.patterns {
			if glob.Glob(pattern, topic) {
				matched = pattern
				break
			}
		}
	}
	fn := h.messageFn
	h.mu.RUnlock()

	if fn == nil {
		return
	}
	if literal {
		fn(redisson.Channel(topic), data)
		return
	}
	if matched != "" {
		fn(redisson.Channel(matched), data)
	}
}

// Close implements redisson.Connection: it only unregisters this handle
// from the physical connection it shared. The physical connection itself
// is closed by the Broker, in ReleasePubSub, once every handle sharing it
// has gone.
func (h *handle) Close() error {
	h.physical.unregister(h)
	return nil
}
