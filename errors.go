package redisson

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel error kinds. Check with errors.Is; the concrete error values
// returned from this package wrap one of these via Unwrap.
var (
	// ErrNodeNotFound means the Router could not resolve a shard for a
	// channel. Surfaced immediately; this package never retries it — only
	// an outer caller, after topology has had a chance to change, should.
	ErrNodeNotFound = errors.New("redisson: node for slot not found")

	// ErrSubscribeTimeout means the subscribe-ACK watchdog fired before
	// the backend acknowledged the SUBSCRIBE/PSUBSCRIBE.
	ErrSubscribeTimeout = errors.New("redisson: subscribe ack timed out")

	// ErrConnectAttemptFailed means a connection-acquisition attempt
	// failed; internally retried up to config.RetryAttempts before this
	// surfaces to a caller.
	ErrConnectAttemptFailed = errors.New("redisson: connect attempt failed")

	// ErrWireFailure means sending the wire command itself failed.
	ErrWireFailure = errors.New("redisson: wire send failed")

	// ErrShutdown means the connection manager is shutting down:
	// unsubscribe short-circuits to success, subscribe fails with this.
	ErrShutdown = errors.New("redisson: connection manager is shutting down")

	// errInternalInvariantViolation is fatal and never meant to be seen in
	// a healthy system: a supposedly-free ConnectionEntry's tryAcquire
	// returned -1.
	errInternalInvariantViolation = errors.New("redisson: internal invariant violation")
)

// SubscribeError wraps ErrSubscribeTimeout, ErrConnectAttemptFailed or
// ErrWireFailure with
// the channel/shard context needed for a useful log line, and the
// underlying wire error (if any) as its Cause.
type SubscribeError struct {
	Channel ChannelName
	Shard   ShardId
	Kind    SubscriptionKind
	Attempt int
	cause   error
	sentinel error
}

func (e *SubscribeError) Error() string {
	return fmt.Sprintf("redisson: %s %q on shard %q (attempt %d): %v",
		e.Kind, e.Channel, e.Shard, e.Attempt, e.sentinel)
}

// Unwrap lets errors.Is(err, ErrSubscribeTimeout) etc. see through this type.
func (e *SubscribeError) Unwrap() error {
	return e.sentinel
}

// Cause returns the underlying wire/connect error, if one triggered this,
// for github.com/pkg/errors-style cause inspection.
func (e *SubscribeError) Cause() error {
	return e.cause
}

func newSubscribeTimeoutError(kind SubscriptionKind, ch ChannelName, shard ShardId, attempt int) error {
	return &SubscribeError{Channel: ch, Shard: shard, Kind: kind, Attempt: attempt, sentinel: ErrSubscribeTimeout}
}

func newConnectAttemptFailedError(ch ChannelName, shard ShardId, attempt int, cause error) error {
	return &SubscribeError{
		Channel: ch, Shard: shard, Attempt: attempt,
		sentinel: ErrConnectAttemptFailed,
		cause:    errors.Wrap(cause, "connect attempt failed"),
	}
}

func newWireFailureError(kind SubscriptionKind, ch ChannelName, shard ShardId, cause error) error {
	return &SubscribeError{
		Channel: ch, Shard: shard, Kind: kind,
		sentinel: ErrWireFailure,
		cause:    errors.Wrap(cause, "wire send failed"),
	}
}
