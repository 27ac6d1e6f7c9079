package redisson

import "sync/atomic"

// Codec stands in for whatever payload (de)serializer the caller's higher
// layers selected for a channel; this package never inspects it, only
// carries it so a reattach can resubscribe with the same codec.
type Codec interface{}

// StatusListener is notified when the backend acknowledges a SUBSCRIBE,
// PSUBSCRIBE, UNSUBSCRIBE, or PUNSUBSCRIBE for a channel it was attached
// to. A local ACK that the unsubscribe engine's watchdog synthesizes when
// the backend appears to have dropped one reaches it the same way.
type StatusListener interface {
	// OnStatus is invoked with the acknowledged kind and channel. The
	// return value reports whether the listener consumed the message;
	// this package does not inspect it.
	OnStatus(kind SubscriptionKind, channel ChannelName) bool
}

// MessageListener receives the payloads delivered on a channel, in backend
// delivery order. This package never calls Decode or inspects data — it
// hands payloads through to whatever listeners are registered and lets the
// caller's codec interpret them.
type MessageListener interface {
	OnMessage(channel ChannelName, data []byte)
}

// Listener bundles the callbacks a caller registers against a channel. It
// carries a monotonically-assigned id so a caller can detach without
// retaining the Listener value itself.
type Listener struct {
	id      uint64
	Status  StatusListener
	Message MessageListener
}

var nextListenerID atomic.Uint64

// NewListener allocates a Listener with a fresh id. status and message may
// each be nil if the caller doesn't care about that half of the protocol.
func NewListener(status StatusListener, message MessageListener) *Listener {
	return &Listener{
		id:      nextListenerID.Add(1),
		Status:  status,
		Message: message,
	}
}

// ID returns the listener's monotonic identity, stable for its lifetime.
func (l *Listener) ID() uint64 {
	return l.id
}

// baseStatusListener adapts a plain func(SubscriptionKind, ChannelName) bool
// into a StatusListener, the same convenience the Java source's
// BaseRedisPubSubListener provides for one-off ACK watchers.
type baseStatusListener struct {
	fn func(kind SubscriptionKind, channel ChannelName) bool
}

func (b baseStatusListener) OnStatus(kind SubscriptionKind, channel ChannelName) bool {
	return b.fn(kind, channel)
}

// StatusListenerFunc adapts fn to a StatusListener.
func StatusListenerFunc(fn func(kind SubscriptionKind, channel ChannelName) bool) StatusListener {
	return baseStatusListener{fn: fn}
}
