package http

import (
	"math"
	"sync"
	"time"
)

type rateLimiterClient struct {
	tokens   float64
	last     time.Time
	lastSeen time.Time
}

// RateLimiter is a token bucket limiter keyed by client address. Idle clients
// are pruned after ttl.
type RateLimiter struct {
	mu         sync.Mutex
	clients    map[string]*rateLimiterClient
	maxTokens  float64
	refillRate float64
	ttl        time.Duration
	now        func() time.Time
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewRateLimiter constructs a rate limiter allowing bursts of maxTokens and
// refilling refillPerSecond tokens each second. Call Stop to end pruning.
func NewRateLimiter(maxTokens int, refillPerSecond float64, ttl time.Duration) *RateLimiter {
	rl := &RateLimiter{
		clients:    make(map[string]*rateLimiterClient),
		maxTokens:  float64(maxTokens),
		refillRate: refillPerSecond,
		ttl:        ttl,
		now:        time.Now,
		stop:       make(chan struct{}),
	}

	if ttl > 0 {
		ticker := time.NewTicker(ttl)
		go func() {
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					rl.pruneStale()
				case <-rl.stop:
					return
				}
			}
		}()
	}

	return rl
}

// Allow consumes a token for key if one is available.
func (rl *RateLimiter) Allow(key string) bool {
	allowed, _ := rl.Reserve(key)
	return allowed
}

// Reserve consumes a token for key if one is available. When it is not, the
// returned duration is how long until the next token refills.
func (rl *RateLimiter) Reserve(key string) (bool, time.Duration) {
	if key == "" {
		key = "unknown"
	}

	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	client, ok := rl.clients[key]
	if !ok {
		client = &rateLimiterClient{tokens: rl.maxTokens, last: now}
		rl.clients[key] = client
	}

	if elapsed := now.Sub(client.last).Seconds(); elapsed > 0 {
		client.tokens = math.Min(rl.maxTokens, client.tokens+elapsed*rl.refillRate)
		client.last = now
	}
	client.lastSeen = now

	if client.tokens < 1 {
		if rl.refillRate <= 0 {
			return false, time.Second
		}
		wait := time.Duration((1 - client.tokens) / rl.refillRate * float64(time.Second))
		return false, wait
	}

	client.tokens--
	return true, 0
}

// Stop ends background pruning.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) pruneStale() {
	if rl.ttl <= 0 {
		return
	}

	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, client := range rl.clients {
		if now.Sub(client.lastSeen) > rl.ttl {
			delete(rl.clients, key)
		}
	}
}
