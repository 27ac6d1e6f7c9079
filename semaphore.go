package redisson

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// AsyncSemaphore is a non-blocking counting semaphore: Acquire runs its
// callback once a permit is free, scheduling it on a new goroutine rather
// than blocking the caller; Release wakes at most one FIFO waiter. No
// thread/goroutine ever blocks holding the internal guard, and no callback
// runs while the guard is held — callbacks are responsible for releasing
// the permit themselves once they're done with the critical section.
//
// A single-permit AsyncSemaphore is this package's async mutex; it backs
// both the per-channel stripe array and the global free-pool lock.
type AsyncSemaphore struct {
	mu      sync.Mutex
	permits int
	waiters []func()
}

// NewAsyncSemaphore constructs a semaphore with the given number of permits.
func NewAsyncSemaphore(permits int) *AsyncSemaphore {
	return &AsyncSemaphore{permits: permits}
}

// Acquire runs cb once a permit is available. If one is free right now, cb
// runs immediately on a new goroutine; otherwise cb is queued FIFO and runs
// when a Release reaches it.
func (s *AsyncSemaphore) Acquire(cb func()) {
	s.mu.Lock()
	if s.permits > 0 {
		s.permits--
		s.mu.Unlock()
		go cb()
		return
	}
	s.waiters = append(s.waiters, cb)
	queued := len(s.waiters)
	s.mu.Unlock()
	log.WithField("queued", queued).Debug("redisson: semaphore acquire queued")
}

// Release returns a permit. If a waiter is queued, it is dequeued and run
// instead of incrementing the permit count — this is what keeps Acquire/
// Release balanced without an intervening window where a permit exists but
// nobody has claimed it.
func (s *AsyncSemaphore) Release() {
	s.mu.Lock()
	if len(s.waiters) > 0 {
		cb := s.waiters[0]
		s.waiters = s.waiters[1:]
		s.mu.Unlock()
		go cb()
		return
	}
	s.permits++
	s.mu.Unlock()
}

// QueueLength reports the number of callbacks currently waiting, for
// diagnostics only.
func (s *AsyncSemaphore) QueueLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiters)
}

// stripedMutex is an array of N single-permit AsyncSemaphores, indexed by
// hash(channel) mod N. It serializes all work affecting a single channel
// while keeping contention across unrelated hot channels low, without
// paying for one allocation per channel the way a map of mutexes would.
type stripedMutex struct {
	stripes []*AsyncSemaphore
}

func newStripedMutex(n int) *stripedMutex {
	if n <= 0 {
		n = channelMutexStripes
	}
	m := &stripedMutex{stripes: make([]*AsyncSemaphore, n)}
	for i := range m.stripes {
		m.stripes[i] = NewAsyncSemaphore(1)
	}
	return m
}

func (m *stripedMutex) forChannel(ch ChannelName) *AsyncSemaphore {
	idx := ch.hash() % uint32(len(m.stripes))
	return m.stripes[idx]
}
