package redisson

import (
	"context"

	"github.com/juju/retry"

	"github.com/elakian/redisson/future"
)

// subscribeOn drives §4.2's algorithm for one (channel, shard) pair: fast
// path reuse, slow path allocation from the shard's free entries or a
// freshly connected one, listener attachment, and the ACK watchdog. The
// per-channel mutex is acquired here and released exactly once, inside
// whichever completion path the promise takes — never while a future-
// completion callback is running.
func (s *Service) subscribeOn(ctx context.Context, kind SubscriptionKind, codec Codec, channel ChannelName, shard ShardId, listeners []*Listener) *future.Future[*ConnectionEntry] {
	if s.router.IsShuttingDown() {
		return future.Failed[*ConnectionEntry](ErrShutdown)
	}
	promise := future.New[*ConnectionEntry]()
	lock := s.channelLocks.forChannel(channel)
	lock.Acquire(func() {
		if promise.IsDone() {
			lock.Release()
			return
		}
		s.doSubscribe(ctx, kind, codec, channel, shard, promise, lock, 0, listeners)
	})
	return promise
}

// doSubscribe runs once per subscribeOn call, under the per-channel lock
// already held by the caller. Connect retries happen inside
// nextPubSubConnection, so attempt keeps the value subscribeOn passed in.
func (s *Service) doSubscribe(ctx context.Context, kind SubscriptionKind, codec Codec, channel ChannelName, shard ShardId, promise *future.Future[*ConnectionEntry], lock *AsyncSemaphore, attempt int, listeners []*Listener) {
	if entry, ok := s.registry.get(channel, shard); ok {
		s.attachAndWatch(kind, channel, shard, promise, lock, entry, listeners)
		return
	}

	s.freePoolLock.Acquire(func() {
		if promise.IsDone() {
			lock.Release()
			s.freePoolLock.Release()
			return
		}

		pool := s.shardPools.get(shard)
		freeEntry := pool.peekFree()
		if freeEntry == nil {
			s.freePoolLock.Release()
			s.connectAndSubscribe(ctx, kind, codec, channel, shard, promise, lock, attempt, listeners)
			return
		}

		remaining := freeEntry.TryAcquire()
		if remaining == -1 {
			s.freePoolLock.Release()
			lock.Release()
			promise.Cancel(errInternalInvariantViolation)
			s.log.WithFields(logFields(channel, shard)).Error("redisson: tryAcquire on a supposedly-free entry returned -1")
			return
		}

		winner, won := s.registry.putIfAbsent(channel, shard, freeEntry)
		if !won {
			freeEntry.Release()
			s.freePoolLock.Release()
			s.attachAndWatch(kind, channel, shard, promise, lock, winner, listeners)
			return
		}

		if remaining == 0 {
			pool.removeFree(freeEntry)
		}
		pool.addKey(channel, shard)
		s.freePoolLock.Release()

		s.sendSubscribeAndWatch(ctx, kind, codec, channel, shard, promise, lock, freeEntry, attempt, listeners)
	})
}

// attachAndWatch is the fast path plus the tail of the slow path's
// tie-break: channel already has an entry (fresh or someone else's),
// attach listeners to it and complete the promise once its subscribe ACK
// fires. If channel is already active on entry, the original one-shot ACK
// future was consumed when that ACK landed, so an already-resolved future
// stands in for it.
func (s *Service) attachAndWatch(kind SubscriptionKind, channel ChannelName, shard ShardId, promise *future.Future[*ConnectionEntry], lock *AsyncSemaphore, entry *ConnectionEntry, listeners []*Listener) {
	for _, l := range listeners {
		entry.AddListener(channel, l)
	}
	entry.futuresMu.Lock()
	ackFuture, pending := entry.futures[subscribeFutureKey{channel: channel.String(), kind: kind}]
	entry.futuresMu.Unlock()
	if !pending {
		ackFuture = future.Completed(WireAck{})
	}
	ackFuture.OnComplete(func(_ WireAck, err error) {
		if err != nil {
			s.rollbackAfterFailedAck(kind, channel, shard, entry, listeners, lock)
			promise.Cancel(err)
			return
		}
		if !promise.Complete(entry) {
			// Nobody's left waiting (caller canceled) — undo the attach.
			s.rollbackAfterFailedAck(kind, channel, shard, entry, listeners, lock)
			return
		}
		lock.Release()
	})
}

// rollbackAfterFailedAck detaches listeners added for this attempt and, if
// the entry no longer has anyone listening on channel, issues an
// unsubscribe to undo the registry/wire-level commit — mirrors the Java
// source's addListeners failure branch.
func (s *Service) rollbackAfterFailedAck(kind SubscriptionKind, channel ChannelName, shard ShardId, entry *ConnectionEntry, listeners []*Listener, lock *AsyncSemaphore) {
	for _, l := range listeners {
		entry.RemoveListener(channel, l)
	}
	if entry.HasListeners(channel) {
		lock.Release()
		return
	}
	s.teardownEntry(context.Background(), kind, channel, shard, entry).OnComplete(func(_ Codec, _ error) {
		lock.Release()
	})
}

// connectAndSubscribe implements §4.2a: acquire a new pub/sub connection
// (with retry), wrap it in a fresh ConnectionEntry, install it, and send
// the wire subscribe.
func (s *Service) connectAndSubscribe(ctx context.Context, kind SubscriptionKind, codec Codec, channel ChannelName, shard ShardId, promise *future.Future[*ConnectionEntry], lock *AsyncSemaphore, attempt int, listeners []*Listener) {
	connFuture := s.nextPubSubConnection(ctx, channel, shard)

	promise.OnComplete(func(_ *ConnectionEntry, err error) {
		if err != nil {
			connFuture.Cancel(err)
		}
	})

	connFuture.OnComplete(func(conn Connection, err error) {
		if err != nil {
			lock.Release()
			if !promise.IsDone() {
				promise.Cancel(err)
			}
			return
		}

		s.freePoolLock.Acquire(func() {
			entry := NewConnectionEntry(conn, s.config.SubscriptionsPerConnection)
			remaining := entry.TryAcquire()

			winner, won := s.registry.putIfAbsent(channel, shard, entry)
			if !won {
				s.pool.ReleasePubSub(shard, conn)
				s.freePoolLock.Release()
				s.attachAndWatch(kind, channel, shard, promise, lock, winner, listeners)
				return
			}

			if remaining > 0 {
				s.shardPools.get(shard).pushFree(entry)
			}
			s.shardPools.get(shard).addKey(channel, shard)
			s.freePoolLock.Release()

			s.sendSubscribeAndWatch(ctx, kind, codec, channel, shard, promise, lock, entry, attempt, listeners)
		})
	})
}

// nextPubSubConnection acquires a connection for shard, retrying connect
// failures up to config.RetryAttempts with config.RetryInterval between
// attempts, via github.com/juju/retry running on its own goroutine so the
// calling goroutine never blocks on the wait. The free-pool lock is already
// released by then; the per-channel lock stays held until the subscribe
// settles. The registry entry, once
// committed, is the checkpoint: retries here only ever concern the raw
// connection acquisition, never re-run subscribe side effects.
func (s *Service) nextPubSubConnection(ctx context.Context, channel ChannelName, shard ShardId) *future.Future[Connection] {
	result := future.New[Connection]()
	go func() {
		var conn Connection
		attempt := 0
		err := retry.Call(retry.CallArgs{
			Func: func() error {
				attempt++
				c, aerr := s.pool.AcquirePubSub(ctx, shard).Wait(ctx)
				if aerr != nil {
					return newConnectAttemptFailedError(channel, shard, attempt, aerr)
				}
				conn = c
				return nil
			},
			Attempts: s.config.RetryAttempts,
			Delay:    s.config.RetryInterval,
			Clock:    s.scheduler.Clock(),
			Stop:     ctx.Done(),
			NotifyFunc: func(lastError error, attempt int) {
				s.log.WithFields(logFields(channel, shard)).WithError(lastError).
					WithField("attempt", attempt).Debug("redisson: connect attempt failed, retrying")
			},
		})
		if err != nil {
			result.Cancel(err)
			return
		}
		result.Complete(conn)
	}()
	return result
}

// sendSubscribeAndWatch sends the wire SUBSCRIBE/PSUBSCRIBE, attaches
// listeners, and arms the ACK watchdog from §4.2 step 6. On wire failure
// the subscribe-ACK future is canceled, which attachAndWatch's completion
// handler turns into cleanup.
func (s *Service) sendSubscribeAndWatch(ctx context.Context, kind SubscriptionKind, codec Codec, channel ChannelName, shard ShardId, promise *future.Future[*ConnectionEntry], lock *AsyncSemaphore, entry *ConnectionEntry, attempt int, listeners []*Listener) {
	entry.commitSubscribed(kind, channel, codec)
	ackFuture := entry.subscribeFuture(channel, kind)
	s.attachAndWatch(kind, channel, shard, promise, lock, entry, listeners)

	var wire *future.Future[WireAck]
	if kind == Psubscribe {
		wire = entry.PSubscribe(ctx, codec, channel)
	} else {
		wire = entry.Subscribe(ctx, codec, channel)
	}

	wire.OnComplete(func(_ WireAck, err error) {
		if err != nil {
			ackFuture.Cancel(newWireFailureError(kind, channel, shard, err))
			return
		}
		timer := s.scheduler.After(s.config.Timeout, func() {
			ackFuture.Cancel(newSubscribeTimeoutError(kind, channel, shard, attempt))
		})
		ackFuture.OnComplete(func(_ WireAck, _ error) { timer.Cancel() })
	})
}

func logFields(channel ChannelName, shard ShardId) map[string]interface{} {
	return map[string]interface{}{"channel": channel.String(), "shard": string(shard)}
}
