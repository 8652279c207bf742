package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// Config describes a capped exponential delay sequence. Zero fields take
// the values of Default.
type Config struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	Jitter       bool          `yaml:"jitter"` // stretch each delay by up to 25%
}

// Default is the reconnect schedule shared by device readers, the broker
// publisher and the supervisor: 1s, doubling, capped at 60s, no jitter.
func Default() Config {
	return Config{
		InitialDelay: time.Second,
		MaxDelay:     time.Minute,
		Multiplier:   2,
	}
}

// Validate rejects negative or inconsistent values.
func (c Config) Validate() error {
	switch {
	case c.InitialDelay < 0:
		return errors.New("retry: initial_delay cannot be negative")
	case c.MaxDelay < 0:
		return errors.New("retry: max_delay cannot be negative")
	case c.Multiplier < 0:
		return errors.New("retry: multiplier cannot be negative")
	case c.MaxDelay > 0 && c.MaxDelay < c.InitialDelay:
		return errors.New("retry: max_delay must be >= initial_delay")
	}
	return nil
}

func (c Config) normalized() Config {
	def := Default()
	if c.InitialDelay <= 0 {
		c.InitialDelay = def.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = max(def.MaxDelay, c.InitialDelay)
	}
	c.MaxDelay = max(c.MaxDelay, c.InitialDelay)
	if c.Multiplier == 0 {
		c.Multiplier = def.Multiplier
	}
	c.Multiplier = min(c.Multiplier, 1000)
	return c
}

// Backoff hands out the delays of one reconnect loop. The loop owns it and
// calls Reset after a success; it is not safe for concurrent use.
//
// With Default the sequence is 1s, 2s, 4s, ... 32s, 60s, 60s, ...
type Backoff struct {
	cfg     Config
	attempt int
	current time.Duration
}

func NewBackoff(cfg Config) *Backoff {
	cfg = cfg.normalized()
	return &Backoff{cfg: cfg, current: cfg.InitialDelay}
}

// Next returns the current delay and advances the sequence.
func (b *Backoff) Next() time.Duration {
	delay := b.current
	b.attempt++

	next := float64(b.current) * b.cfg.Multiplier
	if next >= float64(b.cfg.MaxDelay) || next >= math.MaxInt64 {
		b.current = b.cfg.MaxDelay
	} else {
		b.current = time.Duration(next)
	}

	if b.cfg.Jitter && delay >= 4 {
		delay += rand.N(delay / 4)
	}
	return delay
}

// Peek returns what Next would return, before jitter.
func (b *Backoff) Peek() time.Duration { return b.current }

// Attempt counts the delays handed out since the last Reset.
func (b *Backoff) Attempt() int { return b.attempt }

// Reset rewinds to the initial delay.
func (b *Backoff) Reset() {
	b.attempt = 0
	b.current = b.cfg.InitialDelay
}

// Wait sleeps for the next delay, or returns ctx.Err() if ctx ends first.
func (b *Backoff) Wait(ctx context.Context) error {
	timer := time.NewTimer(b.Next())
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
