package redisson

import (
	"bytes"
	"strings"
)

// ChannelName is an opaque channel identifier, compared by bytes. Backend
// protocols are binary; callers that only ever deal in strings can use
// Channel as a convenience constructor.
type ChannelName struct {
	name []byte
}

// Channel builds a ChannelName from a string.
func Channel(name string) ChannelName {
	return ChannelName{name: []byte(name)}
}

// Bytes returns the raw channel name.
func (c ChannelName) Bytes() []byte {
	return c.name
}

func (c ChannelName) String() string {
	return string(c.name)
}

// Equal reports byte-for-byte equality.
func (c ChannelName) Equal(other ChannelName) bool {
	return bytes.Equal(c.name, other.name)
}

const (
	keyspacePrefix = "__keyspace@"
	keyeventPrefix = "__keyevent@"
)

// IsNotificationChannel reports whether this channel is a backend-emitted
// keyspace/keyevent notification channel, which this module broadcasts
// across every shard in cluster mode rather than routing to a single one.
func (c ChannelName) IsNotificationChannel() bool {
	s := c.String()
	return strings.HasPrefix(s, keyspacePrefix) || strings.HasPrefix(s, keyeventPrefix)
}

// hash is a cheap, stable hash used only to pick a stripe in the per-channel
// mutex array — it is never used for routing, which is the Router's job.
func (c ChannelName) hash() uint32 {
	var h uint32 = 2166136261
	for _, b := range c.name {
		h ^= uint32(b)
		h *= 16777619
	}
	return h
}

// ShardId identifies a backend partition, opaque to this package beyond
// equality and use as a map key.
type ShardId string

// SubscriptionKind distinguishes the four protocol operations this engine
// drives. The two *SUBSCRIBE kinds distinguish literal-channel from
// pattern subscriptions; *UNSUBSCRIBE kinds mirror them.
type SubscriptionKind int

const (
	Subscribe SubscriptionKind = iota
	Unsubscribe
	Psubscribe
	Punsubscribe
)

func (k SubscriptionKind) String() string {
	switch k {
	case Subscribe:
		return "SUBSCRIBE"
	case Unsubscribe:
		return "UNSUBSCRIBE"
	case Psubscribe:
		return "PSUBSCRIBE"
	case Punsubscribe:
		return "PUNSUBSCRIBE"
	default:
		return "UNKNOWN"
	}
}

// IsPattern reports whether this kind operates on a glob pattern rather
// than a literal channel name.
func (k SubscriptionKind) IsPattern() bool {
	return k == Psubscribe || k == Punsubscribe
}

// unsubscribeKindFor returns the *UNSUBSCRIBE kind mirroring a *SUBSCRIBE
// kind; an *UNSUBSCRIBE kind maps to itself.
func unsubscribeKindFor(k SubscriptionKind) SubscriptionKind {
	if k.IsPattern() {
		return Punsubscribe
	}
	return Unsubscribe
}
