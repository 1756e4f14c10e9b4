// Package risk maps a predicted arrest probability onto a discrete risk tier.
//
// Tiers use inclusive lower bounds: a probability exactly equal to a
// threshold belongs to the higher tier.
package risk

import (
	"errors"
	"fmt"
	"math"
)

// Level is the discrete risk tier returned to callers.
type Level string

const (
	LevelLow    Level = "Low"
	LevelMedium Level = "Medium"
	LevelHigh   Level = "High"
)

// Canonical thresholds.
const (
	DefaultHighThreshold   = 0.7
	DefaultMediumThreshold = 0.3
)

var ErrInvalidThresholds = errors.New("invalid risk thresholds")

// Thresholds holds the lower bound of each tier above Low.
type Thresholds struct {
	High   float64 `json:"high"`
	Medium float64 `json:"medium"`
}

// DefaultThresholds returns the canonical tier bounds.
func DefaultThresholds() Thresholds {
	return Thresholds{High: DefaultHighThreshold, Medium: DefaultMediumThreshold}
}

// Validate requires 0 < Medium < High <= 1.
func (t Thresholds) Validate() error {
	if math.IsNaN(t.High) || math.IsNaN(t.Medium) {
		return fmt.Errorf("%w: NaN bound", ErrInvalidThresholds)
	}
	if t.Medium <= 0 || t.Medium >= t.High || t.High > 1 {
		return fmt.Errorf("%w: need 0 < medium (%g) < high (%g) <= 1", ErrInvalidThresholds, t.Medium, t.High)
	}
	return nil
}

// Classify returns the tier for probability p.
func (t Thresholds) Classify(p float64) Level {
	switch {
	case p >= t.High:
		return LevelHigh
	case p >= t.Medium:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Classify uses the canonical thresholds.
func Classify(p float64) Level {
	return DefaultThresholds().Classify(p)
}
