package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MemoryLimiter is a process-local sliding window. Instances of a scaled-out
// service each enforce their own budget; use RedisLimiter there.
type MemoryLimiter struct {
	policies Policies
	now      func() time.Time
	log      *slog.Logger

	mu      sync.Mutex
	entries map[entryKey][]time.Time

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

type entryKey struct {
	email string
	kind  Kind
}

type MemoryOption func(*MemoryLimiter)

func WithClock(now func() time.Time) MemoryOption {
	return func(l *MemoryLimiter) { l.now = now }
}

func WithLogger(log *slog.Logger) MemoryOption {
	return func(l *MemoryLimiter) { l.log = log }
}

// NewMemoryLimiter starts a sweeper that drops empty entries every
// sweepInterval. A non-positive interval disables it; Close stops it.
func NewMemoryLimiter(policies Policies, sweepInterval time.Duration, opts ...MemoryOption) *MemoryLimiter {
	l := &MemoryLimiter{
		policies: policies,
		now:      time.Now,
		log:      slog.Default(),
		entries:  make(map[entryKey][]time.Time),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if sweepInterval > 0 {
		go l.sweepLoop(sweepInterval)
	} else {
		close(l.done)
	}
	return l
}

func (l *MemoryLimiter) Check(_ context.Context, email string, kind Kind) (Decision, error) {
	pol, err := l.policies.lookup(kind)
	if err != nil {
		return Decision{}, err
	}
	now := l.now()
	k := entryKey{email: normalize(email), kind: kind}

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := prune(l.entries[k], now, pol.Window)
	count := len(kept)
	allowed := count < pol.Max
	if allowed {
		kept = append(kept, now)
	}
	l.entries[k] = kept

	resetAt := now.Add(pol.Window)
	if len(kept) > 0 {
		resetAt = kept[0].Add(pol.Window)
	}
	return Decision{
		Allowed:   allowed,
		Remaining: remaining(pol.Max, count, allowed),
		ResetAt:   resetAt,
	}, nil
}

// prune keeps timestamps with now-ts < window. ts is in insertion order.
func prune(ts []time.Time, now time.Time, window time.Duration) []time.Time {
	i := 0
	for i < len(ts) && now.Sub(ts[i]) >= window {
		i++
	}
	if i == 0 {
		return ts
	}
	out := make([]time.Time, len(ts)-i, len(ts)-i+1)
	copy(out, ts[i:])
	return out
}

// Sweep prunes every entry and deletes the ones left empty. It returns how
// many keys were removed.
func (l *MemoryLimiter) Sweep() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for k, ts := range l.entries {
		kept := prune(ts, now, l.policies[k.kind].Window)
		if len(kept) == 0 {
			delete(l.entries, k)
			removed++
			continue
		}
		l.entries[k] = kept
	}
	return removed
}

// Len reports the number of tracked keys.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *MemoryLimiter) sweepLoop(interval time.Duration) {
	defer close(l.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				l.log.Debug("rate limit sweep", "removed", n)
			}
		case <-l.stop:
			return
		}
	}
}

// Close stops the sweeper and drops all state. Safe to call more than once.
func (l *MemoryLimiter) Close() error {
	l.once.Do(func() {
		close(l.stop)
		<-l.done
		l.mu.Lock()
		l.entries = make(map[entryKey][]time.Time)
		l.mu.Unlock()
	})
	return nil
}
