// Package ratelimit provides a keyed sliding-window limiter. Notifications
// use Allow to drop events over the limit and Blocked to skip failing sinks;
// backend invocations use Wait to delay until a slot frees up.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Config holds rate limiting configuration.
type Config struct {
	MaxEvents  int           // Maximum events per window (default: 5)
	Window     time.Duration // Sliding window length (default: 1 minute)
	BlockAfter int           // Block a key after this many consecutive failures (default: 10)
	BlockTime  time.Duration // Base block duration, doubled for each further run of failures (default: 5 minutes)
}

// DefaultConfig returns the default rate limiting configuration.
func DefaultConfig() Config {
	return Config{
		MaxEvents:  5,
		Window:     time.Minute,
		BlockAfter: 10,
		BlockTime:  5 * time.Minute,
	}
}

// PerMinute returns a Config allowing rpm events per minute.
func PerMinute(rpm int) Config {
	cfg := DefaultConfig()
	cfg.MaxEvents = rpm
	return cfg
}

// Result describes the outcome of Check.
type Result struct {
	Allowed    bool
	RetryAfter time.Duration // How long until the key may try again
	Blocked    bool          // True if blocked due to consecutive failures
	Reason     string
}

// Limiter implements a sliding window rate limiter with failure blocking.
type Limiter struct {
	mu     sync.Mutex
	config Config
	now    func() time.Time

	// events tracks timestamps of admitted events per key
	events map[string][]time.Time

	// failures tracks consecutive failures per key
	failures map[string]int

	// blocked maps a key to the time its block expires
	blocked map[string]time.Time
}

// New creates a Limiter with the given configuration.
func New(config Config) *Limiter {
	def := DefaultConfig()
	if config.MaxEvents <= 0 {
		config.MaxEvents = def.MaxEvents
	}
	if config.Window <= 0 {
		config.Window = def.Window
	}
	if config.BlockAfter <= 0 {
		config.BlockAfter = def.BlockAfter
	}
	if config.BlockTime <= 0 {
		config.BlockTime = def.BlockTime
	}

	return &Limiter{
		config:   config,
		now:      time.Now,
		events:   make(map[string][]time.Time),
		failures: make(map[string]int),
		blocked:  make(map[string]time.Time),
	}
}

// Config returns the effective configuration.
func (l *Limiter) Config() Config {
	return l.config
}

// Check admits an event for key if the key is under its limit, recording it.
func (l *Limiter) Check(key string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	if expiry, ok := l.blocked[key]; ok {
		if now.Before(expiry) {
			return Result{
				RetryAfter: expiry.Sub(now),
				Blocked:    true,
				Reason:     "too many failures",
			}
		}
		delete(l.blocked, key)
	}

	l.prune(key, now)

	current := l.events[key]
	if len(current) >= l.config.MaxEvents {
		retryAfter := current[0].Add(l.config.Window).Sub(now)
		if retryAfter <= 0 {
			retryAfter = time.Millisecond
		}
		return Result{
			RetryAfter: retryAfter,
			Reason:     "rate limit exceeded",
		}
	}

	l.events[key] = append(current, now)
	return Result{Allowed: true}
}

// Blocked reports whether key is blocked by failures and for how long. It
// records nothing.
func (l *Limiter) Blocked(key string) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if expiry, ok := l.blocked[key]; ok && now.Before(expiry) {
		return expiry.Sub(now), true
	}
	return 0, false
}

// Allow reports whether an event for key is admitted.
func (l *Limiter) Allow(key string) bool {
	return l.Check(key).Allowed
}

// Wait blocks until an event for key is admitted or ctx is done. A blocked
// key fails immediately.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	for {
		res := l.Check(key)
		if res.Allowed {
			return nil
		}
		if res.Blocked {
			return fmt.Errorf("%s blocked for %v: %s", key, res.RetryAfter, res.Reason)
		}

		timer := time.NewTimer(res.RetryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RecordSuccess resets the failure counter for key.
func (l *Limiter) RecordSuccess(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.failures, key)
	delete(l.blocked, key)
}

// RecordFailure counts a failure for key. Once the count reaches
// BlockAfter, the key is blocked, with the block doubling for every further
// BlockAfter failures, capped at 24 hours.
func (l *Limiter) RecordFailure(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.failures[key]++
	count := l.failures[key]
	if count < l.config.BlockAfter {
		return
	}

	blocks := (count - l.config.BlockAfter) / l.config.BlockAfter
	duration := l.config.BlockTime * time.Duration(1<<blocks)
	if maxBlock := 24 * time.Hour; duration > maxBlock {
		duration = maxBlock
	}
	l.blocked[key] = l.now().Add(duration)
}

// Cleanup removes expired entries. It may be called periodically.
func (l *Limiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key := range l.events {
		l.prune(key, now)
		if len(l.events[key]) == 0 {
			delete(l.events, key)
		}
	}
	for key, expiry := range l.blocked {
		if now.After(expiry) {
			delete(l.blocked, key)
		}
	}
	for key := range l.failures {
		_, blocked := l.blocked[key]
		_, active := l.events[key]
		if !blocked && !active {
			delete(l.failures, key)
		}
	}
}

// prune drops events outside the window. Caller holds l.mu.
func (l *Limiter) prune(key string, now time.Time) {
	timestamps, ok := l.events[key]
	if !ok {
		return
	}
	windowStart := now.Add(-l.config.Window)
	valid := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(windowStart) {
			valid = append(valid, ts)
		}
	}
	l.events[key] = valid
}
