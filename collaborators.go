package redisson

import (
	"context"

	"github.com/elakian/redisson/future"
)

// Router maps channels to backend shards and reports cluster topology.
// Implementations are expected to be cheap and non-blocking; this package
// calls ShardOf on every subscribe/unsubscribe.
type Router interface {
	// ShardOf returns the shard hosting channel, or ok=false if the Router
	// cannot resolve one yet (surfaced as ErrNodeNotFound).
	ShardOf(channel ChannelName) (shard ShardId, ok bool)

	// Shards returns every shard currently known, used to broadcast
	// notification-channel subscriptions across the whole cluster.
	Shards() []ShardId

	// IsCluster reports whether the backend is running in cluster mode,
	// which gates the notification-channel broadcast heuristic.
	IsCluster() bool

	// IsShuttingDown reports whether the connection manager has begun
	// shutting down: subscribe fails fast, unsubscribe short-circuits.
	IsShuttingDown() bool
}

// WireAck is what a Connection's subscribe/unsubscribe calls resolve with:
// nothing meaningful beyond success/failure of the send itself. The actual
// protocol acknowledgement arrives later via OnStatusMessage.
type WireAck struct{}

// Connection is one physical pub/sub connection to a backend shard.
type Connection interface {
	// Subscribe/PSubscribe/Unsubscribe/PUnsubscribe send the wire command.
	// The returned future resolves when the send itself completes (or
	// fails) — not when the backend acknowledges the operation.
	Subscribe(ctx context.Context, codec Codec, channel ChannelName) *future.Future[WireAck]
	PSubscribe(ctx context.Context, codec Codec, pattern ChannelName) *future.Future[WireAck]
	Unsubscribe(ctx context.Context, channel ChannelName) *future.Future[WireAck]
	PUnsubscribe(ctx context.Context, pattern ChannelName) *future.Future[WireAck]

	// OnStatusMessage registers fn to run whenever this connection observes
	// (or, on watchdog timeout, is told to synthesize) a status
	// acknowledgement for kind/channel. Used by ConnectionEntry to resolve
	// subscribe_futures and by the unsubscribe engine's timeout path to
	// force progress.
	OnStatusMessage(fn func(kind SubscriptionKind, channel ChannelName))

	// InjectStatusMessage synthesizes a local status acknowledgement,
	// exactly the hook the unsubscribe watchdog uses when the backend is
	// presumed dead: it guarantees forward progress at the cost of
	// risking a later duplicate real ACK, which ConnectionEntry drops
	// because each ACK future is removed on its first delivery.
	InjectStatusMessage(kind SubscriptionKind, channel ChannelName)

	// OnMessage registers fn to run whenever this connection delivers a
	// payload. key is whatever literal channel or pattern the payload
	// matched — the same string a caller passed to Subscribe/PSubscribe —
	// so ConnectionEntry can look up the right listener list without the
	// Connection needing to know about listeners at all.
	OnMessage(fn func(key ChannelName, data []byte))

	// Close releases the underlying transport resource.
	Close() error
}

// BackendPool hands out and reclaims dedicated pub/sub connections per
// shard. This package never closes a Connection directly outside of
// ReleasePubSub — ownership transfers to a ConnectionEntry on acquisition
// and back on final unsubscribe.
type BackendPool interface {
	AcquirePubSub(ctx context.Context, shard ShardId) *future.Future[Connection]
	ReleasePubSub(shard ShardId, conn Connection)
}
