package redisson

import (
	"context"

	"github.com/elakian/redisson/future"
)

// unsubscribeOn drives §4.3's public "forced removal" teardown for one
// (channel, shard) pair. RemoveListener drives the exact same shared
// core (teardownEntry) once it has determined that a channel's last
// listener has detached — the spec's "ref-counted removal" variant is
// this same function entered from that different call site, not a
// separately maintained code path; see DESIGN.md for why the two were
// unified.
func (s *Service) unsubscribeOn(ctx context.Context, kind SubscriptionKind, channel ChannelName, shard ShardId) *future.Future[Codec] {
	promise := future.New[Codec]()
	lock := s.channelLocks.forChannel(channel)
	lock.Acquire(func() {
		s.doUnsubscribe(ctx, kind, channel, shard, promise, lock)
	})
	return promise
}

// doUnsubscribe assumes the per-channel lock is already held and releases
// it exactly once, on every exit path — including the two idempotent
// short-circuits (shutdown, nothing hosted) required by P5.
func (s *Service) doUnsubscribe(ctx context.Context, kind SubscriptionKind, channel ChannelName, shard ShardId, promise *future.Future[Codec], lock *AsyncSemaphore) {
	if s.router.IsShuttingDown() {
		lock.Release()
		promise.Complete(nil)
		return
	}

	entry, ok := s.registry.get(channel, shard)
	if !ok {
		lock.Release()
		promise.Complete(nil)
		return
	}

	s.teardownEntry(ctx, kind, channel, shard, entry).OnComplete(func(codec Codec, _ error) {
		lock.Release()
		promise.Complete(codec)
	})
}

// teardownEntry performs the registry/pool commit, wire send, and ACK
// watchdog described in §4.3, and never itself fails: on wire failure the
// timeout below still fires and synthesizes a local ACK, so the returned
// future always resolves successfully (with whatever codec had been
// registered, or nil). It assumes the per-channel lock for channel is
// already held and does not touch it — callers own the lock's lifetime,
// which lets RemoveListener fan a single acquisition out across several
// shards and release once, when every one of them has settled.
//
// Per the lifecycle rule in §3, the registry entry is removed here, at
// commit time, before the wire ACK — not when the ACK (real or
// synthesized) eventually lands.
func (s *Service) teardownEntry(ctx context.Context, kind SubscriptionKind, channel ChannelName, shard ShardId, entry *ConnectionEntry) *future.Future[Codec] {
	result := future.New[Codec]()
	unsubKind := unsubscribeKindFor(kind)

	var codec Codec
	if unsubKind == Punsubscribe {
		codec, _ = entry.PatternCodec(channel)
	} else {
		codec, _ = entry.ChannelCodec(channel)
	}

	s.registry.remove(channel, shard)

	s.freePoolLock.Acquire(func() {
		pool := s.shardPools.get(shard)
		pool.removeFree(entry)
		pool.removeKey(channel, shard)
		s.freePoolLock.Release()

		ackFuture := entry.subscribeFuture(channel, unsubKind)

		var wire *future.Future[WireAck]
		if unsubKind == Punsubscribe {
			wire = entry.PUnsubscribe(ctx, channel)
		} else {
			wire = entry.Unsubscribe(ctx, channel)
		}

		wire.OnComplete(func(_ WireAck, err error) {
			// §9's open question: a wire failure here is logged and
			// swallowed, never retried. The watchdog below still fires
			// and synthesizes a local ACK, so the caller makes forward
			// progress even if the backend silently dropped the command;
			// a genuine late ACK arriving afterward is a tolerated
			// duplicate (entry.onStatusMessage is one-shot per key).
			if err != nil {
				s.log.WithFields(logFields(channel, shard)).WithError(err).
					Warn("redisson: unsubscribe wire send failed, relying on watchdog")
			}
			timer := s.scheduler.After(s.config.Timeout, func() {
				if ackFuture.IsDone() {
					return
				}
				s.log.WithFields(logFields(channel, shard)).
					Warn("redisson: unsubscribe ack timed out, synthesizing local ack")
				entry.Connection().InjectStatusMessage(unsubKind, channel)
			})
			ackFuture.OnComplete(func(_ WireAck, _ error) { timer.Cancel() })
		})

		ackFuture.OnComplete(func(_ WireAck, _ error) {
			entry.commitUnsubscribed(unsubKind, channel)
			remaining := entry.Release()
			s.freePoolLock.Acquire(func() {
				if remaining == 0 {
					s.shardPools.get(shard).removeFree(entry)
					s.pool.ReleasePubSub(shard, entry.Connection())
				} else if entry.HasFreeSlots() {
					s.shardPools.get(shard).pushFree(entry)
				}
				s.freePoolLock.Release()
				result.Complete(codec)
			})
		})
	})

	return result
}
