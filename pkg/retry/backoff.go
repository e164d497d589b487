package retry

import (
	"math/rand"
	"sync"
	"time"
)

// Defaults for node-level retries.
const (
	// DefaultInitial is the wait after the first failed session.
	DefaultInitial = 5 * time.Second

	// DefaultMax caps the wait between sessions.
	DefaultMax = 60 * time.Second

	// DefaultMultiplier is the growth factor per failure.
	DefaultMultiplier = 2.0

	// DefaultJitter is the largest jitter as a fraction of the base delay.
	DefaultJitter = 0.25
)

// Config customises a Backoff. Zero fields take the defaults.
type Config struct {
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
	Multiplier float64       `yaml:"multiplier"`
	Jitter     float64       `yaml:"jitter"`

	// MaxAttempts limits the number of retries. Zero means unlimited.
	MaxAttempts int `yaml:"maxAttempts"`

	// Seed fixes the jitter sequence. Zero seeds from the clock.
	Seed int64 `yaml:"-"`
}

// DefaultConfig returns the node retry defaults.
func DefaultConfig() Config {
	return Config{
		Initial:    DefaultInitial,
		Max:        DefaultMax,
		Multiplier: DefaultMultiplier,
		Jitter:     DefaultJitter,
	}
}

// Backoff calculates exponential delays with jitter. It is safe for
// concurrent use.
type Backoff struct {
	mu sync.Mutex

	current time.Duration

	initial     time.Duration
	max         time.Duration
	multiplier  float64
	jitter      float64
	maxAttempts int

	attempts int
	rng      *rand.Rand
}

// New creates a Backoff with the default settings.
func New() *Backoff {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a Backoff from cfg.
func NewWithConfig(cfg Config) *Backoff {
	if cfg.Initial <= 0 {
		cfg.Initial = DefaultInitial
	}
	if cfg.Max <= 0 {
		cfg.Max = DefaultMax
	}
	if cfg.Max < cfg.Initial {
		cfg.Max = cfg.Initial
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = DefaultMultiplier
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Backoff{
		current:     cfg.Initial,
		initial:     cfg.Initial,
		max:         cfg.Max,
		multiplier:  cfg.Multiplier,
		jitter:      cfg.Jitter,
		maxAttempts: cfg.MaxAttempts,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// Next returns the next delay (with jitter) and advances the backoff.
// The second result is false once MaxAttempts retries have been handed out.
func (b *Backoff) Next() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.maxAttempts > 0 && b.attempts >= b.maxAttempts {
		return 0, false
	}

	delay := b.addJitter(b.current)

	b.attempts++
	next := time.Duration(float64(b.current) * b.multiplier)
	if next > b.max {
		next = b.max
	}
	b.current = next

	return delay, true
}

// Reset restores the initial delay. Call it after a node configures.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.initial
	b.attempts = 0
}

// Attempts returns the number of retries handed out since the last reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Current returns the base delay of the next retry, without jitter.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

func (b *Backoff) addJitter(d time.Duration) time.Duration {
	if b.jitter <= 0 {
		return d
	}
	return d + time.Duration(float64(d)*b.jitter*b.rng.Float64())
}
