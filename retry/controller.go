package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrRetriesExhausted = errors.New("retries-exhausted")

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateRetrying
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateRetrying:
		return "retrying"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

type Config struct {
	// MaxRetries is the number of retries after the first failed attempt.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// Jitter is the fraction of the nominal delay added or removed at random.
	Jitter float64
}

func DefaultConfig() Config {
	return Config{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
		Jitter:     DefaultJitter,
	}
}

// Status is a point-in-time copy of the controller bookkeeping.
type Status struct {
	State     State
	Attempt   int
	LastError error
	NextDelay time.Duration
}

type Controller struct {
	name string
	cfg  Config

	mu        sync.Mutex
	state     State
	attempt   int
	lastErr   error
	nextDelay time.Duration

	onStateChange func(State)
	sleep         func(ctx context.Context, d time.Duration) error
	rnd           func() float64
}

type Option func(*Controller)

// WithStateChange registers a callback invoked on every state transition.
// It runs on the goroutine calling Run and must not block.
func WithStateChange(fn func(State)) Option {
	return func(c *Controller) { c.onStateChange = fn }
}

// WithSleep replaces the context-aware sleep, mostly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) { c.sleep = fn }
}

func WithRand(fn func() float64) Option {
	return func(c *Controller) { c.rnd = fn }
}

func NewController(name string, cfg Config, opts ...Option) *Controller {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	c := &Controller{
		name:  name,
		cfg:   cfg,
		state: StateIdle,
		sleep: sleepCtx,
		rnd:   defaultRand,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run calls connect until it succeeds, the retry budget is spent or ctx is done.
func (c *Controller) Run(ctx context.Context, connect func(ctx context.Context) error) error {
	for {
		c.setState(StateConnecting)

		err := connect(ctx)
		if err == nil {
			c.mu.Lock()
			c.attempt = 0
			c.lastErr = nil
			c.nextDelay = 0
			c.mu.Unlock()
			c.setState(StateConnected)
			return nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			c.setState(StateIdle)
			return ctxErr
		}

		c.mu.Lock()
		c.lastErr = err
		if c.attempt >= c.cfg.MaxRetries {
			attempts := c.attempt + 1
			c.mu.Unlock()
			c.setState(StateFailed)
			log.Error().Str("target", c.name).Int("attempts", attempts).Err(err).Msg("giving up on connection")
			return fmt.Errorf("%w: %w", ErrRetriesExhausted, err)
		}
		delay := withJitter(ExponentialBackoff(c.attempt, c.cfg.BaseDelay, c.cfg.MaxDelay), c.cfg.Jitter, c.cfg.MaxDelay, c.rnd)
		c.attempt++
		c.nextDelay = delay
		attempt := c.attempt
		c.mu.Unlock()

		c.setState(StateRetrying)
		log.Warn().Str("target", c.name).Int("attempt", attempt).Dur("delay", delay).Err(err).Msg("connection failed, retrying")

		if err := c.sleep(ctx, delay); err != nil {
			c.setState(StateIdle)
			return err
		}
	}
}

// Reset clears the attempt counter so a dropped connection gets a fresh budget.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.attempt = 0
	c.lastErr = nil
	c.nextDelay = 0
	c.mu.Unlock()
	c.setState(StateIdle)
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:     c.state,
		Attempt:   c.attempt,
		LastError: c.lastErr,
		NextDelay: c.nextDelay,
	}
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed && c.onStateChange != nil {
		c.onStateChange(s)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
