// Package stimulus turns a classified block into an open probability and
// the open probability into the stimulus that produced it.
package stimulus

import (
	"fmt"
	"math"

	"github.com/bilakit/bilayer/protein"
	"github.com/bilakit/bilayer/trace"
	"github.com/bilakit/bilayer/util"
)

const (
	// NotComputed is the open probability reported when it is undefined,
	// either no channel was seen or the bilayer ruptured
	NotComputed = -99

	// MinProbability and MaxProbability keep the logit finite
	MinProbability = 0.001
	MaxProbability = 0.999
)

// OpenProbability estimates Po from the open-count histogram of one block,
// using the block maximum as the channel count.
func OpenProbability(cls trace.Classified, ruptured bool) float64 {
	n := len(cls.Open)
	if ruptured || n == 0 || cls.Max <= 0 {
		return NotComputed
	}
	N := float64(n)
	zero := cls.Count(0)
	z := float64(zero) / N

	var p float64
	switch cls.Max {
	case 1:
		p = float64(cls.Count(1)) / N
	case 2:
		p = twoChannel(zero, cls.Count(1), cls.Count(2), n)
	default:
		p = 1 - math.Pow(z, 1/float64(cls.Max))
	}
	return util.Clamp(p, MinProbability, MaxProbability)
}

// twoChannel averages the binomial estimators of two independent channels
// that carry information.  A partition that is empty or holds the whole block
// is left out.
func twoChannel(zero, one, two, n int) float64 {
	N := float64(n)
	informative := func(c int) bool { return c > 0 && c < n }

	var est []float64
	if informative(zero) {
		est = append(est, 1-math.Sqrt(float64(zero)/N))
	}
	if informative(two) {
		est = append(est, math.Sqrt(float64(two)/N))
	}
	// f1 = 2p(1-p); the root is chosen by which closed/open extreme dominates
	f1 := float64(one) / N
	if disc := 1 - 2*f1; informative(one) && disc >= 0 {
		if two >= zero {
			est = append(est, (1+math.Sqrt(disc))/2)
		} else {
			est = append(est, (1-math.Sqrt(disc))/2)
		}
	}
	if len(est) == 0 {
		return 1 - math.Sqrt(float64(zero)/N)
	}
	return util.Mean(est)
}

// Estimate is the stimulus derived from one block
type Estimate struct {
	// Probability is the open probability or NotComputed
	Probability float64

	// Valid is true when Value holds a stimulus
	Valid bool

	// Value is the central estimate, mV for voltage presets and log10 M for
	// concentration presets
	Value float64

	// Lower and Upper are the confidence-bound estimates when configured
	Lower, Upper float64
	Bounded      bool

	// Mean is the running mean of valid central estimates this session,
	// NaN before the first one
	Mean float64
}

// Estimator maps open probabilities through a preset's sigmoids and keeps
// the session mean.  It is owned by one session and not safe for concurrent use.
type Estimator struct {
	preset protein.Preset
	sum    float64
	n      int
}

// NewEstimator returns an estimator for p
func NewEstimator(p protein.Preset) *Estimator {
	return &Estimator{preset: p}
}

// Reset clears the session mean
func (e *Estimator) Reset() {
	e.sum, e.n = 0, 0
}

// Estimate maps po to the stimulus.  po of NotComputed yields an invalid
// estimate that leaves the session mean untouched.
func (e *Estimator) Estimate(po float64) Estimate {
	est := Estimate{Probability: po, Mean: e.mean()}
	if po == NotComputed || e.preset.Quantity == protein.NoStimulus || !e.preset.Center.Valid() {
		return est
	}
	p := util.Clamp(po, MinProbability, MaxProbability)
	est.Valid = true
	est.Value = e.preset.Center.Inverse(p)
	if e.preset.HasBounds() {
		est.Bounded = true
		est.Lower = e.preset.Lower.Inverse(p)
		est.Upper = e.preset.Upper.Inverse(p)
	}
	e.sum += est.Value
	e.n++
	est.Mean = e.mean()
	return est
}

func (e *Estimator) mean() float64 {
	if e.n == 0 {
		return math.NaN()
	}
	return e.sum / float64(e.n)
}

// Concentration re-expresses log10 of a molar concentration in the decade
// that keeps the number readable.
func Concentration(log10M float64) (float64, string) {
	switch {
	case log10M > -3:
		return math.Pow(10, log10M+3), "mM"
	case log10M > -6:
		return math.Pow(10, log10M+6), "µM"
	default:
		return math.Pow(10, log10M+9), "nM"
	}
}

// Display is the operator-facing form of an estimate
type Display struct {
	// Po is the open probability in whole percent, "X" after a rupture
	Po string

	// Stimulus is the value with its unit, empty when there is none
	Stimulus string
}

// Format renders est for quantity q
func Format(est Estimate, q protein.Quantity) Display {
	if est.Probability == NotComputed {
		return Display{Po: "X"}
	}
	// whole percent, truncated
	d := Display{Po: fmt.Sprintf("%d%%", int(est.Probability*100))}
	if !est.Valid {
		return d
	}
	switch q {
	case protein.Voltage:
		d.Stimulus = fmt.Sprintf("%d mV", int(math.Round(est.Value)))
	case protein.Concentration:
		v, unit := Concentration(est.Value)
		d.Stimulus = fmt.Sprintf("%.2f %s", v, unit)
	}
	return d
}
