package redisson

import (
	"context"

	"github.com/juju/clock"
	log "github.com/sirupsen/logrus"

	"github.com/elakian/redisson/future"
	"github.com/elakian/redisson/scheduler"
)

// Service is the public entry point: the multiplexing and lifecycle
// service described in the package doc. It composes the striped
// per-channel locks, the global free-pool lock, the subscription
// registry, and the per-shard pools into the subscribe/unsubscribe/
// reattach state machine.
type Service struct {
	router Router
	pool   BackendPool
	config Config
	log    *log.Entry

	channelLocks *stripedMutex
	freePoolLock *AsyncSemaphore
	registry     *subscriptionRegistry
	shardPools   *shardPools
	scheduler    *scheduler.Scheduler
}

// Option configures a Service at construction time.
type Option func(*Service)

// WithClock overrides the clock backing the scheduler facade — tests pass
// a *testclock.Clock; production code can leave this unset to get
// clock.WallClock.
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.scheduler = scheduler.New(c) }
}

// WithLogger overrides the base log entry fields/output.
func WithLogger(entry *log.Entry) Option {
	return func(s *Service) { s.log = entry }
}

// NewService builds a Service over the given Router and BackendPool.
func NewService(router Router, pool BackendPool, config Config, opts ...Option) *Service {
	s := &Service{
		router:       router,
		pool:         pool,
		config:       config,
		log:          log.WithField("component", "redisson.pubsub"),
		channelLocks: newStripedMutex(channelMutexStripes),
		freePoolLock: NewAsyncSemaphore(1),
		registry:     newSubscriptionRegistry(),
		shardPools:   newShardPools(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.scheduler == nil {
		s.scheduler = scheduler.New(clock.WallClock)
	}
	return s
}

// GetPubSubEntry returns the ConnectionEntry currently hosting channel on
// its primary shard, if any, without going through the per-channel lock —
// a plain registry read, exactly like the Java source's synchronous
// getPubSubEntry.
func (s *Service) GetPubSubEntry(channel ChannelName) (*ConnectionEntry, bool) {
	shard, ok := s.router.ShardOf(channel)
	if !ok {
		return nil, false
	}
	return s.registry.get(channel, shard)
}

// isMultiShard reports whether channel must fan out across every shard —
// the notification-channel heuristic from §6: keyspace/keyevent channels
// broadcast cluster-wide in cluster mode.
func (s *Service) isMultiShard(channel ChannelName) bool {
	return s.router.IsCluster() && channel.IsNotificationChannel()
}

// Subscribe issues a literal-channel SUBSCRIBE, returning a future that
// resolves with the ConnectionEntry now hosting the channel once the
// backend acknowledges it.
func (s *Service) Subscribe(ctx context.Context, codec Codec, channel ChannelName, listeners ...*Listener) *future.Future[*ConnectionEntry] {
	shard, ok := s.router.ShardOf(channel)
	if !ok {
		return future.Failed[*ConnectionEntry](ErrNodeNotFound)
	}
	return s.subscribeOn(ctx, Subscribe, codec, channel, shard, listeners)
}

// PSubscribe issues a PSUBSCRIBE. For a notification-channel pattern in
// cluster mode it fans out across every shard and resolves with the list
// of ConnectionEntry values created, one per shard; otherwise it behaves
// like Subscribe and resolves with a single-element list.
func (s *Service) PSubscribe(ctx context.Context, channel ChannelName, codec Codec, listeners ...*Listener) *future.Future[[]*ConnectionEntry] {
	if s.isMultiShard(channel) {
		shards := s.router.Shards()
		fs := make([]*future.Future[*ConnectionEntry], 0, len(shards))
		for _, shard := range shards {
			fs = append(fs, s.subscribeOn(ctx, Psubscribe, codec, channel, shard, listeners))
		}
		return future.WaitAll(fs...)
	}

	shard, ok := s.router.ShardOf(channel)
	if !ok {
		return future.Failed[[]*ConnectionEntry](ErrNodeNotFound)
	}
	f := s.subscribeOn(ctx, Psubscribe, codec, channel, shard, listeners)
	return future.Map(f, func(e *ConnectionEntry) []*ConnectionEntry { return []*ConnectionEntry{e} })
}

// Unsubscribe issues UNSUBSCRIBE or PUNSUBSCRIBE on channel's primary
// shard and resolves with the codec that had been registered for it (nil
// if nothing was subscribed). This is the public "forced removal" variant
// of §4.3; ref-counted teardown is internal, driven from RemoveListener.
func (s *Service) Unsubscribe(ctx context.Context, kind SubscriptionKind, channel ChannelName) *future.Future[Codec] {
	shard, ok := s.router.ShardOf(channel)
	if !ok {
		return future.Completed[Codec](nil)
	}
	return s.unsubscribeOn(ctx, kind, channel, shard)
}
