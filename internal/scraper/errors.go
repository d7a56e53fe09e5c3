package scraper

import (
	"errors"
	"fmt"
)

// ErrInvalidStrategy is matched by every ConfigurationError.
var ErrInvalidStrategy = errors.New("invalid strategy registration")

// ConfigurationError reports a strategy that cannot be registered.
type ConfigurationError struct {
	Strategy string
	Reason   string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if e.Strategy == "" {
		return fmt.Sprintf("%s: %s", ErrInvalidStrategy, e.Reason)
	}
	return fmt.Sprintf("%s %q: %s", ErrInvalidStrategy, e.Strategy, e.Reason)
}

// Unwrap lets errors.Is match ErrInvalidStrategy.
func (e *ConfigurationError) Unwrap() error {
	return ErrInvalidStrategy
}

// StrategyFault wraps an error returned, or a panic raised, by a strategy.
// It is recorded as a failed attempt and never escapes Scrape.
type StrategyFault struct {
	Strategy string
	RecordID string
	Panicked bool
	Err      error
}

// Error implements the error interface.
func (f *StrategyFault) Error() string {
	kind := "failed"
	if f.Panicked {
		kind = "panicked"
	}
	return fmt.Sprintf("strategy %s %s for record %s: %v", f.Strategy, kind, f.RecordID, f.Err)
}

// Unwrap returns the underlying cause.
func (f *StrategyFault) Unwrap() error {
	return f.Err
}
