package analysis

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/medguard-ai/medguard/aggregate"
)

// Config holds scan processing configuration.
type Config struct {
	MinDelay         time.Duration
	MaxDelay         time.Duration
	Workers          int
	QueueSize        int
	BatchPolicy      aggregate.Policy
	SequentialPolicy aggregate.Policy
}

// DefaultConfig mirrors the placeholder processing delay of 3 to 8 seconds.
func DefaultConfig() Config {
	return Config{
		MinDelay:         3 * time.Second,
		MaxDelay:         8 * time.Second,
		Workers:          4,
		QueueSize:        64,
		BatchPolicy:      aggregate.DefaultPolicy(aggregate.PolicyAnomaly),
		SequentialPolicy: aggregate.DefaultPolicy(aggregate.PolicySimilarity),
	}
}

// Validate checks the delay window, pool size and both policies.
func (c Config) Validate() error {
	if c.MinDelay < 0 || c.MaxDelay < 0 {
		return fmt.Errorf("batch delay must not be negative")
	}
	if c.MaxDelay < c.MinDelay {
		return fmt.Errorf("batch max_delay %s is below min_delay %s", c.MaxDelay, c.MinDelay)
	}
	if c.Workers < 1 {
		return fmt.Errorf("batch workers must be at least 1, got %d", c.Workers)
	}
	if err := c.BatchPolicy.Validate(); err != nil {
		return fmt.Errorf("batch policy: %w", err)
	}
	if err := c.SequentialPolicy.Validate(); err != nil {
		return fmt.Errorf("sequential policy: %w", err)
	}
	return nil
}

// delay picks a processing delay in [MinDelay, MaxDelay].
func (c Config) delay() time.Duration {
	spread := c.MaxDelay - c.MinDelay
	if spread <= 0 {
		return c.MinDelay
	}
	return c.MinDelay + time.Duration(rand.Int63n(int64(spread)+1))
}
