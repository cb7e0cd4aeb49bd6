package inhibition

import (
	"fmt"
	"math"

	"github.com/Harshitk-cp/integrity/internal/domain"
)

// band classifies one aggregated step for the transition table.
type band int

const (
	// bandCalm is below the qualify threshold.
	bandCalm band = iota
	// bandSettled is below the qualify threshold for HysteresisSteps in a row.
	bandSettled
	// bandElevated is between the thresholds, or at abort level before the
	// dwell is satisfied.
	bandElevated
	// bandCorrectable is just below abort with a correction on offer.
	bandCorrectable
	// bandCritical is at abort level for AbortDwell consecutive steps.
	bandCritical
)

func (b band) String() string {
	switch b {
	case bandCalm:
		return "calm"
	case bandSettled:
		return "settled"
	case bandElevated:
		return "elevated"
	case bandCorrectable:
		return "correctable"
	case bandCritical:
		return "critical"
	}
	return fmt.Sprintf("band(%d)", int(b))
}

type transition struct {
	next   domain.InhibitionState
	action domain.ActionKind
}

var monitoringRow = map[band]transition{
	bandCalm:        {domain.StateMonitoring, domain.ActionContinue},
	bandSettled:     {domain.StateMonitoring, domain.ActionContinue},
	bandElevated:    {domain.StateQualifying, domain.ActionQualify},
	bandCorrectable: {domain.StateReframing, domain.ActionSubstitute},
	bandCritical:    {domain.StateAborted, domain.ActionHalt},
}

// transitions is the complete state machine. Terminal states have no row.
// A reframing session has already emitted its correction and behaves as a
// monitoring one on the following step.
var transitions = map[domain.InhibitionState]map[band]transition{
	domain.StateMonitoring: monitoringRow,
	domain.StateReframing:  monitoringRow,
	domain.StateQualifying: {
		bandCalm:        {domain.StateQualifying, domain.ActionContinue},
		bandSettled:     {domain.StateMonitoring, domain.ActionContinue},
		bandElevated:    {domain.StateQualifying, domain.ActionContinue},
		bandCorrectable: {domain.StateReframing, domain.ActionSubstitute},
		bandCritical:    {domain.StateAborted, domain.ActionHalt},
	},
}

type Decision struct {
	Action    domain.Action
	Before    domain.InhibitionState
	After     domain.InhibitionState
	Aggregate float64
}

// Controller turns a stream of dissonance samples into actions. It is used by
// one session at a time.
type Controller struct {
	cfg     Config
	phraser Phraser

	state      domain.InhibitionState
	window     []float64
	abortRun   int
	calmRun    int
	qualifiers int
}

func New(cfg Config, phraser Phraser) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if phraser == nil {
		phraser = DefaultPhraser{}
	}
	return &Controller{
		cfg:     cfg,
		phraser: phraser,
		state:   domain.StateMonitoring,
		window:  make([]float64, 0, cfg.WindowSize),
	}, nil
}

func (c *Controller) State() domain.InhibitionState { return c.state }

// Observe feeds one sample through the window and the transition table.
func (c *Controller) Observe(sample domain.DissonanceSample) (Decision, error) {
	if c.state.Terminal() {
		return Decision{}, fmt.Errorf("observe in %s: %w", c.state, domain.ErrTerminalState)
	}

	score := sample.Composite
	if sample.Degraded {
		// Missing data alone never halts a session.
		score = math.Min(score, math.Nextafter(c.cfg.AbortThreshold, 0))
	}
	c.push(score)
	agg := c.aggregate()

	if score >= c.cfg.AbortThreshold {
		c.abortRun++
	} else {
		c.abortRun = 0
	}
	if agg < c.cfg.QualifyThreshold {
		c.calmRun++
	} else {
		c.calmRun = 0
	}

	b := c.classify(agg, sample)
	t, ok := transitions[c.state][b]
	if !ok {
		return Decision{}, fmt.Errorf("no transition from %s on %s", c.state, b)
	}

	d := Decision{
		Before:    c.state,
		After:     t.next,
		Aggregate: agg,
		Action:    c.action(t.action, sample),
	}
	c.state = t.next
	if t.action == domain.ActionSubstitute {
		// The offending claim is gone from the output; its scores go with it.
		c.window = c.window[:0]
		c.abortRun = 0
	}
	return d, nil
}

// Complete ends a session whose budget ran out or whose generator finished.
func (c *Controller) Complete() Decision {
	d := Decision{Before: c.state, After: c.state, Action: domain.Action{Kind: domain.ActionContinue}}
	if !c.state.Terminal() {
		d.After = domain.StateCompleted
		c.state = domain.StateCompleted
	}
	d.Aggregate = c.aggregate()
	return d
}

func (c *Controller) classify(agg float64, sample domain.DissonanceSample) band {
	switch {
	case agg >= c.cfg.AbortThreshold && c.abortRun >= c.cfg.AbortDwell:
		return bandCritical
	case agg >= c.cfg.AbortThreshold:
		return bandElevated
	case sample.Correction != nil && agg >= math.Max(c.cfg.QualifyThreshold, c.cfg.AbortThreshold-c.cfg.ReframeMargin):
		return bandCorrectable
	case agg >= c.cfg.QualifyThreshold:
		return bandElevated
	case c.calmRun >= c.cfg.HysteresisSteps:
		return bandSettled
	default:
		return bandCalm
	}
}

func (c *Controller) action(kind domain.ActionKind, sample domain.DissonanceSample) domain.Action {
	a := domain.Action{Kind: kind}
	switch kind {
	case domain.ActionQualify:
		a.Text = c.phraser.Qualifier(c.qualifiers)
		c.qualifiers++
	case domain.ActionSubstitute:
		a.Text = c.phraser.Correction(*sample.Correction)
		a.Trigger = sample.Trigger
		a.Correction = sample.Correction
	case domain.ActionHalt:
		a.Text = c.phraser.Rejection(sample)
		a.Trigger = sample.Trigger
	}
	return a
}

func (c *Controller) push(score float64) {
	if len(c.window) == c.cfg.WindowSize {
		copy(c.window, c.window[1:])
		c.window = c.window[:len(c.window)-1]
	}
	c.window = append(c.window, score)
}

func (c *Controller) aggregate() float64 {
	if len(c.window) == 0 {
		return 0
	}
	switch c.cfg.Aggregation {
	case AggregateMean:
		sum := 0.0
		for _, v := range c.window {
			sum += v
		}
		return sum / float64(len(c.window))
	case AggregateEWMA:
		e := c.window[0]
		for _, v := range c.window[1:] {
			e = c.cfg.EWMAAlpha*v + (1-c.cfg.EWMAAlpha)*e
		}
		return e
	default:
		m := 0.0
		for _, v := range c.window {
			m = math.Max(m, v)
		}
		return m
	}
}
