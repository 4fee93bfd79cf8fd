package breaker

import (
	"sync"
	"time"
)

// Breaker is a per-key circuit breaker (key e.g. an API operation).
//   - When failures reach Threshold within Window, the key opens for OpenFor.
//   - On success, the failure counter resets.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	window    time.Duration
	openFor   time.Duration
	now       func() time.Time

	state map[string]*st
}

type st struct {
	failCount int
	firstFail time.Time
	openUntil time.Time
}

type Options struct {
	Threshold int
	Window    time.Duration
	OpenFor   time.Duration
}

func New(opt Options) *Breaker {
	if opt.Threshold <= 0 {
		opt.Threshold = 5
	}
	if opt.Window <= 0 {
		opt.Window = 30 * time.Second
	}
	if opt.OpenFor <= 0 {
		opt.OpenFor = 30 * time.Second
	}
	return &Breaker{
		threshold: opt.Threshold,
		window:    opt.Window,
		openFor:   opt.OpenFor,
		now:       time.Now,
		state:     make(map[string]*st),
	}
}

func (b *Breaker) Allow(key string) bool {
	return b.RetryAfter(key) == 0
}

// RetryAfter is how long key stays open; 0 when calls are allowed.
func (b *Breaker) RetryAfter(key string) time.Duration {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.state[key]
	if !ok || s.openUntil.IsZero() || !now.Before(s.openUntil) {
		return 0
	}
	return s.openUntil.Sub(now)
}

func (b *Breaker) Success(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.state, key)
}

// Failure records a failure and reports whether it opened the breaker.
func (b *Breaker) Failure(key string) (opened bool) {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.state[key]
	if !ok {
		s = &st{firstFail: now}
		b.state[key] = s
	}

	// If window expired, reset counter
	if now.Sub(s.firstFail) > b.window {
		s.failCount = 0
		s.firstFail = now
		s.openUntil = time.Time{}
	}

	s.failCount++
	if s.failCount >= b.threshold {
		s.openUntil = now.Add(b.openFor)
		s.failCount = 0
		s.firstFail = now
		return true
	}
	return false
}
