package ratelimit

import (
	"context"
	"sync"
	"time"
)

type counterKey struct {
	client string
	window int64
}

// MemoryStore is a process-local CounterStore for single-instance
// deployments and tests. Stale windows are swept periodically so the map
// cannot grow without bound under churning client IPs.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[counterKey]int64
	window   time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

func NewMemoryStore(window time.Duration) *MemoryStore {
	s := &MemoryStore{
		counters: make(map[counterKey]int64),
		window:   window,
		stop:     make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

func (s *MemoryStore) Incr(ctx context.Context, key string, windowStart time.Time, threshold int) (int64, bool, error) {
	k := counterKey{client: key, window: windowStart.Unix()}

	s.mu.Lock()
	defer s.mu.Unlock()

	count := s.counters[k]
	if count >= int64(threshold) {
		return count, false, nil
	}
	count++
	s.counters[k] = count
	return count, true, nil
}

func (s *MemoryStore) sweepLoop() {
	interval := s.window
	if interval > 5*time.Minute {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(time.Now())
		case <-s.stop:
			return
		}
	}
}

// sweep drops counters from windows that have already closed.
func (s *MemoryStore) sweep(now time.Time) {
	current := now.Truncate(s.window).Unix()

	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.counters {
		if k.window < current {
			delete(s.counters, k)
		}
	}
}

// Stop shuts down the sweep goroutine.
func (s *MemoryStore) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}
