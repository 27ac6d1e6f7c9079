package redisson

import (
	"context"

	"github.com/elakian/redisson/future"
)

// RemoveListener implements §4.4: detach listeners from channel on every
// shard that hosts it (one shard ordinarily, every shard for a
// notification-channel pattern in cluster mode), and where that leaves an
// entry with nobody left listening on channel, tear that channel down the
// same way Unsubscribe does. Everything runs under a single acquisition
// of channel's per-channel lock; a counter (future.WaitAll) combines the
// per-shard teardowns into the one future this call returns, and the lock
// is released only once every shard has settled.
func (s *Service) RemoveListener(ctx context.Context, kind SubscriptionKind, channel ChannelName, listeners ...*Listener) *future.Future[struct{}] {
	ids := make([]uint64, len(listeners))
	for i, l := range listeners {
		ids[i] = l.ID()
	}
	return s.removeListenerByID(ctx, kind, channel, ids...)
}

// RemoveListenerByID is RemoveListener for callers that kept only the
// numeric ids Listener.ID handed out, not the *Listener values themselves.
func (s *Service) RemoveListenerByID(ctx context.Context, kind SubscriptionKind, channel ChannelName, ids ...uint64) *future.Future[struct{}] {
	return s.removeListenerByID(ctx, kind, channel, ids...)
}

func (s *Service) removeListenerByID(ctx context.Context, kind SubscriptionKind, channel ChannelName, ids ...uint64) *future.Future[struct{}] {
	var shards []ShardId
	if s.isMultiShard(channel) {
		shards = s.router.Shards()
	} else if shard, ok := s.router.ShardOf(channel); ok {
		shards = []ShardId{shard}
	}
	if len(shards) == 0 {
		return future.Completed[struct{}](struct{}{})
	}

	result := future.New[struct{}]()
	lock := s.channelLocks.forChannel(channel)
	lock.Acquire(func() {
		var pending []*future.Future[Codec]
		for _, shard := range shards {
			entry, ok := s.registry.get(channel, shard)
			if !ok {
				continue
			}
			for _, id := range ids {
				entry.RemoveListenerByID(channel, id)
			}
			if entry.HasListeners(channel) {
				continue
			}
			pending = append(pending, s.teardownEntry(ctx, kind, channel, shard, entry))
		}
		if len(pending) == 0 {
			lock.Release()
			result.Complete(struct{}{})
			return
		}
		future.WaitAll(pending...).OnComplete(func(_ []Codec, _ error) {
			lock.Release()
			result.Complete(struct{}{})
		})
	})
	return result
}
