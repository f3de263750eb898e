package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrThrottled is returned when no token is available.
var ErrThrottled = errors.New("rate limit exceeded")

// ThrottleConfig configures a token bucket.
type ThrottleConfig struct {
	// Name identifies the throttle in logs and callbacks.
	Name string
	// Rate is the number of tokens added per second.
	Rate float64
	// Burst is the bucket capacity. Defaults to Rate rounded down, at least 1.
	Burst int
	// OnThrottle is called every time a caller is refused.
	OnThrottle func(name string)
}

// Throttle is a token bucket. A full bucket admits Burst callers at once
// and refills at Rate tokens per second.
type Throttle struct {
	cfg ThrottleConfig
	now func() time.Time

	mu     sync.Mutex
	tokens float64
	last   time.Time
}

// NewThrottle creates a throttle with a full bucket.
func NewThrottle(cfg ThrottleConfig) *Throttle {
	if cfg.Rate <= 0 {
		cfg.Rate = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = max(int(cfg.Rate), 1)
	}
	t := &Throttle{cfg: cfg, now: time.Now}
	t.tokens = float64(cfg.Burst)
	t.last = t.now()
	return t
}

// Allow takes one token without blocking.
func (t *Throttle) Allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.refill()
	if t.tokens >= 1 {
		t.tokens--
		return true
	}
	if t.cfg.OnThrottle != nil {
		t.cfg.OnThrottle(t.cfg.Name)
	}
	return false
}

// Wait takes one token, sleeping until it is available or ctx ends. The
// token stays reserved when ctx ends first.
func (t *Throttle) Wait(ctx context.Context) error {
	d := t.reserve()
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do runs fn when a token is available and returns ErrThrottled otherwise.
func (t *Throttle) Do(fn func() error) error {
	if !t.Allow() {
		return ErrThrottled
	}
	return fn()
}

// Tokens reports the tokens currently available.
func (t *Throttle) Tokens() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refill()
	return t.tokens
}

// Rate returns the refill rate in tokens per second.
func (t *Throttle) Rate() float64 { return t.cfg.Rate }

// Burst returns the bucket capacity.
func (t *Throttle) Burst() int { return t.cfg.Burst }

func (t *Throttle) reserve() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.refill()
	t.tokens--
	if t.tokens >= 0 {
		return 0
	}
	return time.Duration(-t.tokens / t.cfg.Rate * float64(time.Second))
}

// refill must be called with mu held.
func (t *Throttle) refill() {
	now := t.now()
	t.tokens += now.Sub(t.last).Seconds() * t.cfg.Rate
	t.last = now
	if limit := float64(t.cfg.Burst); t.tokens > limit {
		t.tokens = limit
	}
}
