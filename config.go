package redisson

import "time"

// Config holds the tunables that govern connection sharing, retry, and
// watchdog behavior across the whole service.
type Config struct {
	// SubscriptionsPerConnection caps the number of channels (literal plus
	// pattern) a single ConnectionEntry may host.
	SubscriptionsPerConnection int

	// RetryAttempts bounds connection-acquisition retries for a
	// user-initiated subscribe. Reattach ignores this and retries forever.
	RetryAttempts int

	// RetryInterval is the delay between connect retries.
	RetryInterval time.Duration

	// Timeout bounds how long the engine waits for a subscribe or
	// unsubscribe ACK before treating the operation as failed (subscribe)
	// or synthesizing a local ACK (unsubscribe).
	Timeout time.Duration
}

// DefaultConfig mirrors the defaults a Redisson-style client ships with.
func DefaultConfig() Config {
	return Config{
		SubscriptionsPerConnection: 5,
		RetryAttempts:              3,
		RetryInterval:              1500 * time.Millisecond,
		Timeout:                    3 * time.Second,
	}
}

const channelMutexStripes = 53 // prime > expected hot-channel count, per the tuning note in the source material
