package inhibition

import (
	"errors"
	"fmt"
)

type Aggregation string

const (
	AggregateMax  Aggregation = "max"
	AggregateMean Aggregation = "mean"
	AggregateEWMA Aggregation = "ewma"
)

const (
	DefaultWindowSize       = 3
	DefaultAggregation      = AggregateMax
	DefaultEWMAAlpha        = 0.5
	DefaultQualifyThreshold = 0.30
	DefaultAbortThreshold   = 0.70
	DefaultAbortDwell       = 2
	DefaultHysteresisSteps  = 2
	DefaultReframeMargin    = 0.15
)

type Config struct {
	// WindowSize is the number of recent composite scores aggregated.
	WindowSize  int
	Aggregation Aggregation
	EWMAAlpha   float64

	QualifyThreshold float64
	AbortThreshold   float64

	// AbortDwell is how many consecutive raw scores must reach the abort
	// threshold before the session is halted. Until then the step qualifies.
	AbortDwell int
	// HysteresisSteps is how many consecutive calm steps bring a qualifying
	// session back to monitoring.
	HysteresisSteps int
	// ReframeMargin is the width of the band below the abort threshold in
	// which a known correction is substituted instead of a hedge.
	ReframeMargin float64
}

func DefaultConfig() Config {
	return Config{
		WindowSize:       DefaultWindowSize,
		Aggregation:      DefaultAggregation,
		EWMAAlpha:        DefaultEWMAAlpha,
		QualifyThreshold: DefaultQualifyThreshold,
		AbortThreshold:   DefaultAbortThreshold,
		AbortDwell:       DefaultAbortDwell,
		HysteresisSteps:  DefaultHysteresisSteps,
		ReframeMargin:    DefaultReframeMargin,
	}
}

func (c Config) Validate() error {
	if c.WindowSize < 1 {
		return fmt.Errorf("window size %d must be at least 1", c.WindowSize)
	}
	switch c.Aggregation {
	case AggregateMax, AggregateMean:
	case AggregateEWMA:
		if c.EWMAAlpha <= 0 || c.EWMAAlpha > 1 {
			return fmt.Errorf("ewma alpha %v must be in (0,1]", c.EWMAAlpha)
		}
	default:
		return fmt.Errorf("unknown aggregation %q", c.Aggregation)
	}
	if c.QualifyThreshold < 0 || c.AbortThreshold > 1 {
		return errors.New("thresholds must lie in [0,1]")
	}
	if c.QualifyThreshold >= c.AbortThreshold {
		return fmt.Errorf("qualify threshold %v must be below abort threshold %v", c.QualifyThreshold, c.AbortThreshold)
	}
	if c.AbortDwell < 1 || c.HysteresisSteps < 1 {
		return errors.New("dwell and hysteresis steps must be at least 1")
	}
	if c.ReframeMargin < 0 {
		return errors.New("reframe margin must not be negative")
	}
	return nil
}
