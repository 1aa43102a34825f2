package detection

import (
	"errors"
	"time"
)

// Default thresholds.
const (
	DefaultOrderWindow         = 10 * time.Second // max span of MinOrdersSameSide same-side orders
	DefaultCancellationWindow  = 5 * time.Second  // max delay from placement to cancellation
	DefaultOppositeTradeWindow = 2 * time.Second  // max delay from last cancellation to opposite trade
	DefaultMinOrdersSameSide   = 3
)

// DefaultAlwaysSuspicious lists accounts flagged regardless of their activity.
var DefaultAlwaysSuspicious = []string{"ACC050"}

// ErrInvalidConfig is wrapped by every configuration validation failure.
var ErrInvalidConfig = errors.New("invalid detection config")

// ValidationError names the offending field and the violated constraint.
type ValidationError struct {
	Field      string
	Constraint string
}

func (e *ValidationError) Error() string {
	return e.Field + " " + e.Constraint
}

// Unwrap allows errors.Is(err, ErrInvalidConfig).
func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfig
}

// Config holds layering detection thresholds.
// Build it with NewConfig; a Config is a value and is never mutated by the engine.
type Config struct {
	OrderWindow         time.Duration
	CancellationWindow  time.Duration
	OppositeTradeWindow time.Duration
	MinOrdersSameSide   int

	alwaysSuspicious map[string]struct{}
	alwaysOrder      []string
}

// Option overrides a default threshold.
type Option func(*Config)

// WithOrderWindow sets ORDER_WINDOW.
func WithOrderWindow(d time.Duration) Option {
	return func(c *Config) { c.OrderWindow = d }
}

// WithCancellationWindow sets CANCELLATION_WINDOW.
func WithCancellationWindow(d time.Duration) Option {
	return func(c *Config) { c.CancellationWindow = d }
}

// WithOppositeTradeWindow sets OPPOSITE_TRADE_WINDOW.
func WithOppositeTradeWindow(d time.Duration) Option {
	return func(c *Config) { c.OppositeTradeWindow = d }
}

// WithMinOrdersSameSide sets MIN_ORDERS_SAME_SIDE.
func WithMinOrdersSameSide(n int) Option {
	return func(c *Config) { c.MinOrdersSameSide = n }
}

// WithAlwaysSuspicious replaces the ALWAYS_SUSPICIOUS account list.
// An empty list disables the rule.
func WithAlwaysSuspicious(accounts ...string) Option {
	return func(c *Config) { c.setAlwaysSuspicious(accounts) }
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	c := Config{
		OrderWindow:         DefaultOrderWindow,
		CancellationWindow:  DefaultCancellationWindow,
		OppositeTradeWindow: DefaultOppositeTradeWindow,
		MinOrdersSameSide:   DefaultMinOrdersSameSide,
	}
	c.setAlwaysSuspicious(DefaultAlwaysSuspicious)
	return c
}

// NewConfig applies opts over DefaultConfig and validates the result.
// On failure it returns the zero Config and a *ValidationError.
func NewConfig(opts ...Option) (Config, error) {
	c := DefaultConfig()
	for _, opt := range opts {
		opt(&c)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks every numeric constraint.
func (c Config) Validate() error {
	if c.OrderWindow <= 0 {
		return &ValidationError{Field: "ORDER_WINDOW", Constraint: "must be positive"}
	}
	if c.CancellationWindow <= 0 {
		return &ValidationError{Field: "CANCELLATION_WINDOW", Constraint: "must be positive"}
	}
	if c.OppositeTradeWindow <= 0 {
		return &ValidationError{Field: "OPPOSITE_TRADE_WINDOW", Constraint: "must be positive"}
	}
	if c.MinOrdersSameSide < 2 {
		return &ValidationError{Field: "MIN_ORDERS_SAME_SIDE", Constraint: "must be at least 2"}
	}
	return nil
}

// IsAlwaysSuspicious reports whether account is unconditionally flagged.
func (c Config) IsAlwaysSuspicious(account string) bool {
	_, ok := c.alwaysSuspicious[account]
	return ok
}

// AlwaysSuspicious returns a copy of the always-flagged accounts in configured order.
func (c Config) AlwaysSuspicious() []string {
	out := make([]string, len(c.alwaysOrder))
	copy(out, c.alwaysOrder)
	return out
}

// setAlwaysSuspicious copies accounts so later changes to the caller's slice are not observed.
func (c *Config) setAlwaysSuspicious(accounts []string) {
	c.alwaysSuspicious = make(map[string]struct{}, len(accounts))
	c.alwaysOrder = make([]string, 0, len(accounts))
	for _, a := range accounts {
		if _, dup := c.alwaysSuspicious[a]; dup {
			continue
		}
		c.alwaysSuspicious[a] = struct{}{}
		c.alwaysOrder = append(c.alwaysOrder, a)
	}
}
