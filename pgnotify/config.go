// Package pgnotify is the reference backend adapter described in
// SPEC_FULL.md §6.1: a concrete Router, BackendPool, and Connection for
// the redisson engine, built on PostgreSQL LISTEN/NOTIFY. It is grounded
// on the teacher repo's sharded-NOTIFY broker (subnetmarco/ssepg), which
// dedicated one pgx.Conn per shard channel and fanned inbound NOTIFY
// payloads out to in-process subscribers; here the same shape backs the
// engine's Router/BackendPool/Connection contracts instead of an HTTP SSE
// handler, and a "shard" is a cluster partition for the engine's purposes
// rather than a load-spreading trick.
//
// It is explicitly a reference implementation of the external
// collaborator contracts, not part of the core engine's invariants — see
// DESIGN.md.
package pgnotify

// Config configures a Broker.
type Config struct {
	// DSN is the PostgreSQL connection string, as accepted by pgx.Connect.
	DSN string

	// NotifyShards is the number of LISTEN/NOTIFY channels ("shards", in
	// engine terms) the broker fans channel names across. IsCluster
	// reports true whenever this is greater than one.
	NotifyShards int

	// MaxNotifyBytes bounds the payload size of a single Publish, mirroring
	// PostgreSQL's roughly 8KB NOTIFY payload limit.
	MaxNotifyBytes int
}

// DefaultConfig mirrors the teacher's ssepg.DefaultConfig broker defaults.
func DefaultConfig() Config {
	return Config{
		NotifyShards:   8,
		MaxNotifyBytes: 7900,
	}
}
