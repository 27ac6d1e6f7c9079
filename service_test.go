package redisson

import (
	"context"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
)

func testConfig() Config {
	return Config{
		SubscriptionsPerConnection: 2,
		RetryAttempts:              3,
		RetryInterval:              10 * time.Millisecond,
		Timeout:                    50 * time.Millisecond,
	}
}

// Scenario 1: hot channel reuse. A second Subscribe on an already-active
// channel attaches its listener to the existing entry and completes
// without a second wire SUBSCRIBE.
func TestSubscribeReusesHotChannel(t *testing.T) {
	router := newFakeRouter("shard-0")
	router.route("orders", "shard-0")
	pool := newFakeBackendPool()
	svc := NewService(router, pool, testConfig())
	ctx := context.Background()
	channel := Channel("orders")

	l1 := NewListener(nil, nil)
	entry1, err := svc.Subscribe(ctx, "json", channel, l1).Wait(ctx)
	if err != nil {
		t.Fatalf("first subscribe failed: %v", err)
	}

	l2 := NewListener(nil, nil)
	entry2, err := svc.Subscribe(ctx, "json", channel, l2).Wait(ctx)
	if err != nil {
		t.Fatalf("second subscribe failed: %v", err)
	}

	if entry1 != entry2 {
		t.Fatal("expected both subscribes to resolve to the same ConnectionEntry")
	}
	if entry1.FreeSlots() != 1 {
		t.Fatalf("expected 1 free slot after a single TryAcquire, got %d", entry1.FreeSlots())
	}

	conn := pool.conns["shard-0"][0]
	subscribeCalls := 0
	for _, c := range conn.callsSnapshot() {
		if c.kind == Subscribe {
			subscribeCalls++
		}
	}
	if subscribeCalls != 1 {
		t.Fatalf("expected exactly 1 wire SUBSCRIBE, got %d", subscribeCalls)
	}
}

// Scenario 2: capacity rollover. With cap=2, subscribing three channels on
// one shard produces two ConnectionEntry values: the first hosts two
// channels and drops out of the free list, the second hosts the third and
// stays in the free list with one slot left.
func TestSubscribeCapacityRollover(t *testing.T) {
	router := newFakeRouter("shard-0")
	router.route("a", "shard-0")
	router.route("b", "shard-0")
	router.route("c", "shard-0")
	pool := newFakeBackendPool()
	svc := NewService(router, pool, testConfig())
	ctx := context.Background()

	entryA, err := svc.Subscribe(ctx, nil, Channel("a")).Wait(ctx)
	if err != nil {
		t.Fatalf("subscribe a: %v", err)
	}
	entryB, err := svc.Subscribe(ctx, nil, Channel("b")).Wait(ctx)
	if err != nil {
		t.Fatalf("subscribe b: %v", err)
	}
	entryC, err := svc.Subscribe(ctx, nil, Channel("c")).Wait(ctx)
	if err != nil {
		t.Fatalf("subscribe c: %v", err)
	}

	if entryA != entryB {
		t.Fatal("a and b should share the first entry (cap=2)")
	}
	if entryC == entryA {
		t.Fatal("c should have rolled over onto a second entry")
	}
	if entryA.FreeSlots() != 0 {
		t.Fatalf("first entry should be full, free slots = %d", entryA.FreeSlots())
	}
	if entryC.FreeSlots() != 1 {
		t.Fatalf("second entry should have 1 free slot, got %d", entryC.FreeSlots())
	}

	shard0Pool := svc.shardPools.get("shard-0")
	if got := shard0Pool.peekFree(); got != entryC {
		t.Fatalf("expected the second entry to be the only one in the free list, got %v want %v", got, entryC)
	}
}

// A channel unsubscribed from a multi-channel entry must not leave its old
// listeners behind: once the entry is requeued onto the shard's free list
// (because another channel it hosts is still active) and a fresh Subscribe
// of the same channel name later reuses it, only the new listener should
// receive deliveries — not a stale one left over from before the
// unsubscribe.
func TestUnsubscribeClearsListenersBeforeEntryIsReused(t *testing.T) {
	router := newFakeRouter("shard-0")
	router.route("a", "shard-0")
	router.route("b", "shard-0")
	pool := newFakeBackendPool()
	svc := NewService(router, pool, testConfig())
	ctx := context.Background()

	oldListener := NewListener(nil, nil)
	entryA, err := svc.Subscribe(ctx, nil, Channel("a"), oldListener).Wait(ctx)
	if err != nil {
		t.Fatalf("subscribe a: %v", err)
	}
	if _, err := svc.Subscribe(ctx, nil, Channel("b")).Wait(ctx); err != nil {
		t.Fatalf("subscribe b: %v", err)
	}

	if _, err := svc.Unsubscribe(ctx, Unsubscribe, Channel("a")).Wait(ctx); err != nil {
		t.Fatalf("unsubscribe a: %v", err)
	}

	// The entry should have been requeued onto the free list: "b" is still
	// hosted, so Release reported remaining > 0.
	shard0Pool := svc.shardPools.get("shard-0")
	if got := shard0Pool.peekFree(); got != entryA {
		t.Fatalf("expected the entry to be requeued onto the free list after unsubscribing a, got %v want %v", got, entryA)
	}

	newListener := NewListener(nil, nil)
	entryReused, err := svc.Subscribe(ctx, nil, Channel("a"), newListener).Wait(ctx)
	if err != nil {
		t.Fatalf("re-subscribe a: %v", err)
	}
	if entryReused != entryA {
		t.Fatal("expected the re-subscribe to reuse the same entry")
	}

	listeners := entryReused.Listeners(Channel("a"))
	if len(listeners) != 1 || listeners[0].ID() != newListener.ID() {
		t.Fatalf("expected only the new listener on the reused channel, got %v", listeners)
	}
	for _, l := range listeners {
		if l.ID() == oldListener.ID() {
			t.Fatal("stale listener from before the unsubscribe leaked into the reused entry")
		}
	}
}

// Scenario 3: connect retry. The first connection attempt fails; the
// service retries per config.RetryAttempts/RetryInterval and succeeds on
// the second attempt.
func TestSubscribeRetriesConnectAfterFailure(t *testing.T) {
	router := newFakeRouter("shard-0")
	router.route("orders", "shard-0")
	pool := newFakeBackendPool()
	pool.queueError("shard-0", errConnectBoom)

	clk := testclock.NewClock(time.Unix(0, 0))
	cfg := testConfig()
	cfg.RetryAttempts = 2
	svc := NewService(router, pool, cfg, WithClock(clk))
	ctx := context.Background()

	resultCh := make(chan struct {
		entry *ConnectionEntry
		err   error
	}, 1)
	go func() {
		entry, err := svc.Subscribe(ctx, nil, Channel("orders")).Wait(ctx)
		resultCh <- struct {
			entry *ConnectionEntry
			err   error
		}{entry, err}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for pool.attemptCount("shard-0") < 1 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if pool.attemptCount("shard-0") < 1 {
		t.Fatal("expected at least one connect attempt")
	}

	time.Sleep(20 * time.Millisecond)
	clk.Advance(cfg.RetryInterval)

	select {
	case res := <-resultCh:
		if res.err != nil {
			t.Fatalf("expected the retried subscribe to succeed, got error: %v", res.err)
		}
		if res.entry == nil {
			t.Fatal("expected a non-nil entry on success")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe never completed after the retry")
	}

	if got := pool.attemptCount("shard-0"); got != 2 {
		t.Fatalf("expected exactly 2 connect attempts, got %d", got)
	}
}

// Scenario 4: subscribe timeout. The wire send succeeds but no ACK ever
// arrives; once config.Timeout elapses the subscribe fails, the registry
// entry is torn down, and an UNSUBSCRIBE is issued to undo the commit.
func TestSubscribeTimesOutWithoutAck(t *testing.T) {
	router := newFakeRouter("shard-0")
	router.route("orders", "shard-0")
	pool := newFakeBackendPool()
	pool.noAutoAck = true

	clk := testclock.NewClock(time.Unix(0, 0))
	cfg := testConfig()
	svc := NewService(router, pool, cfg, WithClock(clk))
	ctx := context.Background()
	channel := Channel("orders")

	resultCh := make(chan error, 1)
	go func() {
		_, err := svc.Subscribe(ctx, nil, channel).Wait(ctx)
		resultCh <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for pool.attemptCount("shard-0") < 1 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}

	// The wire SUBSCRIBE goes out immediately and never gets an ACK (the
	// pool's connections are noAutoAck); only the watchdog timer arms after
	// that, so give it a moment to be scheduled before advancing the clock.
	time.Sleep(20 * time.Millisecond)
	clk.Advance(cfg.Timeout)

	select {
	case err := <-resultCh:
		if err == nil {
			t.Fatal("expected a subscribe timeout error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe never resolved after the watchdog should have fired")
	}

	if _, ok := svc.registry.get(channel, "shard-0"); ok {
		t.Fatal("expected the registry entry to be removed after a subscribe timeout")
	}
}

// Scenario 5: reattach after slot migration. A channel subscribed on S1 is
// resubscribed on S2 once the router remaps it and Reattach(S1) is called;
// the codec and listeners are preserved.
func TestReattachAfterSlotMigration(t *testing.T) {
	router := newFakeRouter("shard-1", "shard-2")
	router.route("k", "shard-1")
	pool := newFakeBackendPool()
	svc := NewService(router, pool, testConfig())
	ctx := context.Background()
	channel := Channel("k")

	listener := NewListener(nil, nil)
	_, err := svc.Subscribe(ctx, "json", channel, listener).Wait(ctx)
	if err != nil {
		t.Fatalf("initial subscribe failed: %v", err)
	}

	router.route("k", "shard-2")
	svc.Reattach(ctx, "shard-1")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := svc.registry.get(channel, "shard-2"); ok {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	entry, ok := svc.registry.get(channel, "shard-2")
	if !ok {
		t.Fatal("expected the channel to be re-registered on shard-2")
	}
	if _, stillOnOld := svc.registry.get(channel, "shard-1"); stillOnOld {
		t.Fatal("expected the shard-1 binding to be gone after reattach")
	}
	codec, ok := entry.ChannelCodec(channel)
	if !ok || codec != "json" {
		t.Fatalf("expected the codec to survive reattach, got %v ok=%v", codec, ok)
	}
	if !entry.HasListeners(channel) {
		t.Fatal("expected the listener to survive reattach")
	}

	oldConn := pool.conns["shard-1"][0]
	unsubscribed := false
	for _, c := range oldConn.callsSnapshot() {
		if c.kind == Unsubscribe && c.channel == "k" {
			unsubscribed = true
		}
	}
	if !unsubscribed {
		t.Fatal("expected an UNSUBSCRIBE against the old shard's connection")
	}
}

// Scenario 6: listener drop triggers unsubscribe. Removing a channel's
// only listener tears the entry's hold on that channel down and returns
// the connection to the pool once it hosts nothing else.
func TestRemoveLastListenerTriggersUnsubscribe(t *testing.T) {
	router := newFakeRouter("shard-0")
	router.route("x", "shard-0")
	pool := newFakeBackendPool()
	svc := NewService(router, pool, testConfig())
	ctx := context.Background()
	channel := Channel("x")

	listener := NewListener(nil, nil)
	_, err := svc.Subscribe(ctx, nil, channel, listener).Wait(ctx)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	_, err = svc.RemoveListener(ctx, Subscribe, channel, listener).Wait(ctx)
	if err != nil {
		t.Fatalf("RemoveListener failed: %v", err)
	}

	if _, ok := svc.registry.get(channel, "shard-0"); ok {
		t.Fatal("expected the registry entry to be removed once the last listener detached")
	}

	conn := pool.conns["shard-0"][0]
	unsubscribed := false
	for _, c := range conn.callsSnapshot() {
		if c.kind == Unsubscribe && c.channel == "x" {
			unsubscribed = true
		}
	}
	if !unsubscribed {
		t.Fatal("expected a wire UNSUBSCRIBE")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(pool.releasedShards()) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(pool.releasedShards()) == 0 {
		t.Fatal("expected the connection to eventually be returned to the pool")
	}
}

// P2: the registry never holds two entries for the same (channel, shard).
func TestRegistryUniquenessUnderConcurrentSubscribe(t *testing.T) {
	router := newFakeRouter("shard-0")
	router.route("orders", "shard-0")
	pool := newFakeBackendPool()
	svc := NewService(router, pool, testConfig())
	ctx := context.Background()
	channel := Channel("orders")

	const n = 8
	results := make(chan *ConnectionEntry, n)
	for i := 0; i < n; i++ {
		go func() {
			entry, err := svc.Subscribe(ctx, nil, channel).Wait(ctx)
			if err != nil {
				t.Errorf("subscribe failed: %v", err)
			}
			results <- entry
		}()
	}

	first := <-results
	for i := 1; i < n; i++ {
		e := <-results
		if e != first {
			t.Fatal("expected every concurrent subscribe to resolve to the same entry")
		}
	}
}

// P6: subscribing then unsubscribing returns the service to its
// pre-subscribe state.
func TestSubscribeThenUnsubscribeRoundTrips(t *testing.T) {
	router := newFakeRouter("shard-0")
	router.route("orders", "shard-0")
	pool := newFakeBackendPool()
	svc := NewService(router, pool, testConfig())
	ctx := context.Background()
	channel := Channel("orders")

	if _, ok := svc.registry.get(channel, "shard-0"); ok {
		t.Fatal("expected no registry entry before subscribing")
	}

	listener := NewListener(nil, nil)
	_, err := svc.Subscribe(ctx, nil, channel, listener).Wait(ctx)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	_, err = svc.Unsubscribe(ctx, Unsubscribe, channel).Wait(ctx)
	if err != nil {
		t.Fatalf("unsubscribe failed: %v", err)
	}

	if _, ok := svc.registry.get(channel, "shard-0"); ok {
		t.Fatal("expected no registry entry after the round trip")
	}
}

// P5: unsubscribing twice is idempotent.
func TestDoubleUnsubscribeIsIdempotent(t *testing.T) {
	router := newFakeRouter("shard-0")
	router.route("orders", "shard-0")
	pool := newFakeBackendPool()
	svc := NewService(router, pool, testConfig())
	ctx := context.Background()
	channel := Channel("orders")

	_, err := svc.Subscribe(ctx, nil, channel).Wait(ctx)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if _, err := svc.Unsubscribe(ctx, Unsubscribe, channel).Wait(ctx); err != nil {
		t.Fatalf("first unsubscribe failed: %v", err)
	}
	if _, err := svc.Unsubscribe(ctx, Unsubscribe, channel).Wait(ctx); err != nil {
		t.Fatalf("second unsubscribe should be a harmless no-op, got: %v", err)
	}
}

// Unsubscribe short-circuits to success while the router reports shutdown.
func TestUnsubscribeDuringShutdownIsANoOp(t *testing.T) {
	router := newFakeRouter("shard-0")
	router.route("orders", "shard-0")
	router.shuttingDown = true
	pool := newFakeBackendPool()
	svc := NewService(router, pool, testConfig())
	ctx := context.Background()

	codec, err := svc.Unsubscribe(ctx, Unsubscribe, Channel("orders")).Wait(ctx)
	if err != nil {
		t.Fatalf("expected no error during shutdown, got: %v", err)
	}
	if codec != nil {
		t.Fatalf("expected a nil codec, got %v", codec)
	}
}

var errConnectBoom = &connectBoomError{}

type connectBoomError struct{}

func (*connectBoomError) Error() string { return "boom: connect refused" }
