package redisson

import (
	"context"
	"time"
)

// reattachRetryInterval is the fixed 1s backoff §4.5 and §7 specify for
// reattach's best-effort infinite retry — unlike a user-initiated
// subscribe, this loop never gives up and ignores config.RetryAttempts.
const reattachRetryInterval = time.Second

// Reattach implements §4.5's reattach(slot): every (channel, shard)
// binding currently registered against oldShard is torn down (without
// requiring a wire ACK for the re-subscribe to make progress — the old
// binding is presumed stale) and replayed through subscribe, which routes
// via whatever the Router currently reports and may land on a different
// shard. Each channel is reattached on its own goroutine so a slow
// backend for one channel never delays the others.
func (s *Service) Reattach(ctx context.Context, oldShard ShardId) {
	keys := s.registry.matching(func(_ ChannelName, shard ShardId) bool {
		return shard == oldShard
	})
	for _, key := range keys {
		go s.reattachKey(ctx, key)
	}
}

// reattachKey tears down one registered binding and hands its captured
// codec and listeners to the retry loop. The Second Open Question in §9
// is resolved here as the spec's suggested fix directs: the teardown and
// its result are both observed under channel's per-channel lock, closing
// the race where a subscribe against the stale shard could otherwise
// interleave with the resubscribe.
func (s *Service) reattachKey(ctx context.Context, key pubSubKey) {
	channel := Channel(key.channel)
	lock := s.channelLocks.forChannel(channel)
	lock.Acquire(func() {
		entry, ok := s.registry.get(channel, key.shard)
		if !ok {
			lock.Release()
			return
		}
		kind, codec := entrySubscriptionOf(entry, channel)
		listeners := entry.Listeners(channel)

		s.teardownEntry(ctx, unsubscribeKindFor(kind), channel, key.shard, entry).OnComplete(func(_ Codec, _ error) {
			lock.Release()
			s.reattachRetryLoop(ctx, kind, codec, channel, listeners)
		})
	})
}

// ReattachConnection implements §4.5's reattach(connection): a broken
// connection's entry is pulled out of rotation immediately, without
// attempting a wire teardown — the connection is presumed dead, so
// sending on it would only fail — and every channel and pattern it had
// hosted is resubscribed via the same best-effort retry loop, on whatever
// shard the Router currently indicates.
func (s *Service) ReattachConnection(ctx context.Context, conn Connection) {
	keys := s.registry.findByConnection(conn)
	if len(keys) == 0 {
		return
	}
	entry, ok := s.registry.get(Channel(keys[0].channel), keys[0].shard)
	if !ok {
		return
	}

	s.freePoolLock.Acquire(func() {
		for _, key := range keys {
			pool := s.shardPools.get(key.shard)
			pool.removeFree(entry)
			pool.removeKey(Channel(key.channel), key.shard)
		}
		s.freePoolLock.Release()

		for _, key := range keys {
			s.registry.remove(Channel(key.channel), key.shard)
		}
		for _, key := range keys {
			channel := Channel(key.channel)
			kind, codec := entrySubscriptionOf(entry, channel)
			listeners := entry.Listeners(channel)
			go s.reattachRetryLoop(ctx, kind, codec, channel, listeners)
		}
	})
}

// entrySubscriptionOf reports whether entry is hosting channel as a
// literal or pattern subscription, and the codec that had been registered
// for it, so a reattach can replay the same kind of subscribe.
func entrySubscriptionOf(entry *ConnectionEntry, channel ChannelName) (SubscriptionKind, Codec) {
	if codec, ok := entry.ChannelCodec(channel); ok {
		return Subscribe, codec
	}
	codec, _ := entry.PatternCodec(channel)
	return Psubscribe, codec
}

// reattachRetryLoop is the only path in this package that retries forever:
// it ignores config.RetryAttempts and backs off a fixed reattachRetryInterval
// between attempts until subscribe succeeds or the connection manager
// reports it is shutting down (§7: "reattach swallows errors and retries
// forever with 1s backoff").
func (s *Service) reattachRetryLoop(ctx context.Context, kind SubscriptionKind, codec Codec, channel ChannelName, listeners []*Listener) {
	if s.router.IsShuttingDown() {
		s.log.WithField("channel", channel.String()).Warn("redisson: reattach abandoned, connection manager is shutting down")
		return
	}

	shard, ok := s.router.ShardOf(channel)
	if !ok {
		s.scheduler.After(reattachRetryInterval, func() {
			s.reattachRetryLoop(ctx, kind, codec, channel, listeners)
		})
		return
	}

	s.subscribeOn(ctx, kind, codec, channel, shard, listeners).OnComplete(func(_ *ConnectionEntry, err error) {
		if err == nil {
			return
		}
		s.log.WithFields(logFields(channel, shard)).WithError(err).
			Warn("redisson: reattach subscribe failed, retrying")
		s.scheduler.After(reattachRetryInterval, func() {
			s.reattachRetryLoop(ctx, kind, codec, channel, listeners)
		})
	})
}
