package redisson

import (
	"context"
	"testing"
	"time"
)

func TestConnectionEntryTryAcquireRespectsCapacity(t *testing.T) {
	e := NewConnectionEntry(newFakeConnection(), 2)

	if got := e.TryAcquire(); got != 1 {
		t.Fatalf("first TryAcquire: got %d, want 1", got)
	}
	if got := e.TryAcquire(); got != 0 {
		t.Fatalf("second TryAcquire: got %d, want 0", got)
	}
	if got := e.TryAcquire(); got != -1 {
		t.Fatalf("third TryAcquire should fail: got %d, want -1", got)
	}
	if e.HasFreeSlots() {
		t.Fatal("entry should report no free slots once cap is exhausted")
	}
}

func TestConnectionEntryReleaseNeverExceedsCap(t *testing.T) {
	e := NewConnectionEntry(newFakeConnection(), 1)
	e.TryAcquire()
	e.Release()
	if got := e.Release(); got != 0 {
		t.Fatalf("Release should report no channels still hosted, got %d", got)
	}
	if e.FreeSlots() != 1 {
		t.Fatalf("FreeSlots = %d, want 1", e.FreeSlots())
	}
}

func TestConnectionEntryListenerLifecycle(t *testing.T) {
	e := NewConnectionEntry(newFakeConnection(), 5)
	channel := Channel("orders")

	l1 := NewListener(nil, nil)
	l2 := NewListener(nil, nil)
	e.AddListener(channel, l1)
	e.AddListener(channel, l2)

	if !e.HasListeners(channel) {
		t.Fatal("expected listeners after AddListener")
	}
	if got := len(e.Listeners(channel)); got != 2 {
		t.Fatalf("expected 2 listeners, got %d", got)
	}

	e.RemoveListener(channel, l1)
	remaining := e.Listeners(channel)
	if len(remaining) != 1 || remaining[0].ID() != l2.ID() {
		t.Fatalf("expected only l2 to remain, got %v", remaining)
	}

	e.RemoveListenerByID(channel, l2.ID())
	if e.HasListeners(channel) {
		t.Fatal("expected no listeners after removing the last one")
	}
}

func TestConnectionEntryOnMessageFansOutInOrder(t *testing.T) {
	conn := newFakeConnection()
	e := NewConnectionEntry(conn, 5)
	channel := Channel("orders")

	var got []string
	record := func(name string) MessageListener {
		return messageListenerFunc(func(_ ChannelName, data []byte) {
			got = append(got, name+":"+string(data))
		})
	}
	e.AddListener(channel, NewListener(nil, record("a")))
	e.AddListener(channel, NewListener(nil, record("b")))

	conn.Deliver(channel, []byte("payload"))

	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries, got %d: %v", len(got), got)
	}
	if got[0] != "a:payload" || got[1] != "b:payload" {
		t.Fatalf("expected delivery in attachment order, got %v", got)
	}
}

func TestConnectionEntrySubscribeFutureIsSharedUntilResolved(t *testing.T) {
	conn := newFakeConnection()
	conn.noAutoAck = true
	e := NewConnectionEntry(conn, 5)
	channel := Channel("orders")

	f1 := e.subscribeFuture(channel, Subscribe)
	f2 := e.subscribeFuture(channel, Subscribe)
	if f1 != f2 {
		t.Fatal("subscribeFuture should return the same pending future for the same key")
	}

	conn.Ack(Subscribe, channel)

	select {
	case <-f1.Done():
	case <-time.After(time.Second):
		t.Fatal("future never resolved after Ack")
	}

	f3 := e.subscribeFuture(channel, Subscribe)
	if f3 == f1 {
		t.Fatal("subscribeFuture should mint a fresh future once the previous one resolved and was consumed")
	}
}

func TestConnectionEntryCommitSubscribedTracksCodec(t *testing.T) {
	e := NewConnectionEntry(newFakeConnection(), 5)
	channel := Channel("orders")

	e.commitSubscribed(Subscribe, channel, "json")
	codec, ok := e.ChannelCodec(channel)
	if !ok || codec != "json" {
		t.Fatalf("expected codec json, got %v ok=%v", codec, ok)
	}

	e.commitUnsubscribed(Unsubscribe, channel)
	if _, ok := e.ChannelCodec(channel); ok {
		t.Fatal("expected codec to be gone after commitUnsubscribed")
	}
}

func TestConnectionEntryWireWrappersDelegateToConnection(t *testing.T) {
	conn := newFakeConnection()
	conn.noAutoAck = true
	e := NewConnectionEntry(conn, 5)
	channel := Channel("orders")
	ctx := context.Background()

	e.Subscribe(ctx, "json", channel)
	e.PSubscribe(ctx, "json", Channel("orders.*"))
	e.Unsubscribe(ctx, channel)
	e.PUnsubscribe(ctx, Channel("orders.*"))

	calls := conn.callsSnapshot()
	if len(calls) != 4 {
		t.Fatalf("expected 4 wire calls, got %d: %v", len(calls), calls)
	}
}

type messageListenerFunc func(channel ChannelName, data []byte)

func (f messageListenerFunc) OnMessage(channel ChannelName, data []byte) {
	f(channel, data)
}
