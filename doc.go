// Package redisson implements the publish/subscribe multiplexing and
// lifecycle service that sits between an unbounded set of in-process
// channel subscribers and a bounded pool of long-lived pub/sub connections
// to a clustered key-value backend.
//
// It shares connections across channels, serializes the protocol exchanges
// that bring a channel from absent to active and back, and recovers
// subscriptions transparently after connection loss or cluster topology
// change. It does not decode message payloads, order deliveries across
// different channels, or persist anything — those are the backend's job or
// the caller's.
//
// The backend itself — how a channel maps to a shard, how a pub/sub
// connection is obtained, and how SUBSCRIBE/PSUBSCRIBE/UNSUBSCRIBE/
// PUNSUBSCRIBE actually reach the wire — is abstracted behind the Router,
// BackendPool, and Connection interfaces in collaborators.go. Package
// pgnotify provides a concrete instance of all three backed by PostgreSQL
// LISTEN/NOTIFY.
package redisson
