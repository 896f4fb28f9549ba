package scoring

import (
	"errors"
	"fmt"

	"github.com/edgescore/edgescore/pkg/models"
)

// ErrInvalidThresholds is returned when tier cutoffs are out of order or out of range.
var ErrInvalidThresholds = errors.New("invalid risk thresholds")

// Thresholds are the exclusive lower bounds of the non-normal tiers.
type Thresholds struct {
	High   float64 `yaml:"high" koanf:"high"`
	Medium float64 `yaml:"medium" koanf:"medium"`
	Low    float64 `yaml:"low" koanf:"low"`
}

// DefaultThresholds are 0.5 / 0.3 / 0.1.
var DefaultThresholds = Thresholds{High: 0.5, Medium: 0.3, Low: 0.1}

// Validate requires 0 <= low <= medium <= high <= 1.
func (t Thresholds) Validate() error {
	if t.Low < 0 || t.High > 1 || t.Low > t.Medium || t.Medium > t.High {
		return fmt.Errorf("%w: want 0 <= low (%.3f) <= medium (%.3f) <= high (%.3f) <= 1",
			ErrInvalidThresholds, t.Low, t.Medium, t.High)
	}
	return nil
}

// Classify maps a score to a tier. Comparisons are strict and checked from high
// to low; the first match wins.
func (t Thresholds) Classify(score float64) models.RiskTier {
	switch {
	case score > t.High:
		return models.TierHigh
	case score > t.Medium:
		return models.TierMedium
	case score > t.Low:
		return models.TierLow
	}
	return models.TierNormal
}
