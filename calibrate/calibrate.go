// Package calibrate tracks slow drift of the baseline current and of the
// single-channel current from the classified block.
//
// Corrections are plausibility windows around the current estimate, not a
// fit: the all-closed mean replaces the baseline only when it lies within half
// a channel current of it, and the one-open mean replaces the channel current
// only within a quarter of it.  Anything further away is taken to be a real
// opening (or a second channel) and ignored.
package calibrate

import (
	"fmt"
	"math"

	"github.com/bilakit/bilayer/trace"
)

const (
	// DefaultMinPopulation is the number of samples (10% of a 5 kHz second)
	// a partition needs before its mean is trusted
	DefaultMinPopulation = 500

	// DefaultBaselineWindow is the baseline acceptance half-width in channel currents
	DefaultBaselineWindow = 0.5

	// DefaultConductanceWindow is the relative acceptance half-width for the channel current
	DefaultConductanceWindow = 0.25

	// DefaultAnchorWindow bounds how far the channel current may wander from
	// the operator's value, relative to it
	DefaultAnchorWindow = 0.5
)

// Calibration is the snapshot the tracker reads.  It is replaced, never
// mutated, once per cycle, so corrections take effect on the next block.
type Calibration struct {
	// Baseline is the all-closed current in pA
	Baseline float64

	// CurrentPerChannel is the single-channel current in pA, signed with the
	// bias polarity
	CurrentPerChannel float64

	// Anchor is the operator-entered channel current corrections are bounded by
	Anchor float64

	// BaselineArmed enables one baseline correction.  Apply disarms it after
	// a correction; the session re-arms it after a rupture.
	BaselineArmed bool
}

// New returns the calibration for the start of an acquisition
func New(anchor, baseline float64, armed bool) Calibration {
	return Calibration{Baseline: baseline, CurrentPerChannel: anchor, Anchor: anchor, BaselineArmed: armed}
}

// Settings select which corrections run and how strict they are
type Settings struct {
	AutoBaseline      bool    `koanf:"AutoBaseline" yaml:"AutoBaseline"`
	AutoConductance   bool    `koanf:"AutoConductance" yaml:"AutoConductance"`
	MinPopulation     int     `koanf:"MinPopulation" yaml:"MinPopulation"`
	BaselineWindow    float64 `koanf:"BaselineWindow" yaml:"BaselineWindow"`
	ConductanceWindow float64 `koanf:"ConductanceWindow" yaml:"ConductanceWindow"`
	AnchorWindow      float64 `koanf:"AnchorWindow" yaml:"AnchorWindow"`
}

// DefaultSettings enables baseline tracking only, as the rig ships
func DefaultSettings() Settings {
	return Settings{
		AutoBaseline:      true,
		AutoConductance:   false,
		MinPopulation:     DefaultMinPopulation,
		BaselineWindow:    DefaultBaselineWindow,
		ConductanceWindow: DefaultConductanceWindow,
		AnchorWindow:      DefaultAnchorWindow,
	}
}

// Report says what Apply looked at and what it changed
type Report struct {
	ZeroCount, OneCount int
	ZeroMean, OneMean   float64

	BaselineApplied    bool
	ConductanceApplied bool

	// Result is the calibration after this cycle
	Result Calibration
}

// Updated is true when either value changed
func (r Report) Updated() bool {
	return r.BaselineApplied || r.ConductanceApplied
}

// Message is the operator line printed after an update
func (r Report) Message() string {
	return fmt.Sprintf("Current per Channel: %f   Baseline: %f", r.Result.CurrentPerChannel, r.Result.Baseline)
}

// Apply evaluates one intact block against snapshot c and returns the next
// snapshot.  Both windows are evaluated against c, the values the block was
// classified with; the caller must not call Apply for a ruptured block.
func Apply(c Calibration, blk trace.SampleBlock, cls trace.Classified, s Settings) Report {
	r := Report{ZeroMean: math.NaN(), OneMean: math.NaN()}
	var zeroSum, oneSum float64
	for i, k := range cls.Open {
		switch k {
		case 0:
			zeroSum += blk.Current[i]
			r.ZeroCount++
		case 1:
			oneSum += blk.Current[i]
			r.OneCount++
		}
	}
	if r.ZeroCount > 0 {
		r.ZeroMean = zeroSum / float64(r.ZeroCount)
	}
	if r.OneCount > 0 {
		r.OneMean = oneSum / float64(r.OneCount)
	}

	next := c
	cpc := c.CurrentPerChannel
	if s.AutoBaseline && c.BaselineArmed && r.ZeroCount >= s.MinPopulation {
		if math.Abs(r.ZeroMean-c.Baseline) < s.BaselineWindow*math.Abs(cpc) {
			next.Baseline = r.ZeroMean
			if s.AutoConductance {
				// the open level did not move, so the channel current absorbs the shift
				shifted := cpc - (r.ZeroMean - c.Baseline)
				if withinAnchor(shifted, c.Anchor, s.AnchorWindow) {
					next.CurrentPerChannel = shifted
				}
			}
			next.BaselineArmed = false
			r.BaselineApplied = true
		}
	}

	if s.AutoConductance && r.OneCount >= s.MinPopulation && cpc != 0 {
		single := r.OneMean - c.Baseline
		ratio := single / cpc
		if ratio > 1-s.ConductanceWindow && ratio < 1+s.ConductanceWindow && withinAnchor(single, c.Anchor, s.AnchorWindow) {
			next.CurrentPerChannel = single
			r.ConductanceApplied = true
		}
	}

	r.Result = next
	return r
}

func withinAnchor(x, anchor, window float64) bool {
	if anchor == 0 {
		return true
	}
	ratio := x / anchor
	return ratio > 1-window && ratio < 1+window
}
