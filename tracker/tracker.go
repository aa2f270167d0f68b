// Package tracker turns one block of raw current into an open-channel count
// series.
//
// Two detectors are available.  The hysteresis comparator steps the open count
// up when the current passes (n+0.75) channel currents above baseline and down
// when it falls below (n-0.75); the dead zone between the two trip points keeps
// it from chattering on a level.  The edge-triggered detector runs the edge
// filter and moves the count at the local extremum of the filtered trace,
// which places the step where it really happened rather than where the
// smoothing first noticed it.
//
// Both share the rupture check, which runs first on every sample: once the
// current leaves the rupture band the rest of the block is left Unset.
package tracker

import (
	"math"

	"github.com/bilakit/bilayer/edge"
	"github.com/bilakit/bilayer/protein"
	"github.com/bilakit/bilayer/trace"
	"github.com/bilakit/bilayer/util"
)

const (
	// Threshold is the hysteresis half-width in units of channel current
	Threshold = 0.75

	// DefaultRuptureThreshold is the rupture band half-width in pA
	DefaultRuptureThreshold = 500
)

// Phase is the edge detector's position in a step
type Phase int

const (
	// Idle waits for the filtered trace to leave the trigger band
	Idle Phase = iota

	// RisingArmed waits for the filtered trace to stop rising
	RisingArmed

	// FallingArmed waits for the filtered trace to stop falling
	FallingArmed

	// Settling holds off new detections while the step response decays
	Settling
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case RisingArmed:
		return "rising-armed"
	case FallingArmed:
		return "falling-armed"
	case Settling:
		return "settling"
	}
	return "unknown"
}

// State is the tracker memory carried from one block to the next
type State struct {
	// LastOpen is the open count at the end of the previous block.  trace.Unset
	// right after a (re)start or rupture; it is clamped to 0 on first use.
	LastOpen int

	// Phase is the edge detector phase, Idle for the hysteresis detector
	Phase Phase

	// Rupture is set when a sample left the rupture band this block
	Rupture bool

	// Recovery is set when the block ruptured but its last sample is back
	// inside the band, i.e. the bilayer is already reforming
	Recovery bool

	// lastFiltered is the previous polarity-corrected filtered sample
	lastFiltered float64
}

// NewState returns a freshly reset state
func NewState() State {
	s := State{}
	s.Reset()
	return s
}

// Reset returns the state to its post-start values
func (s *State) Reset() {
	s.LastOpen = trace.Unset
	s.Phase = Idle
	s.Rupture = false
	s.Recovery = false
	s.lastFiltered = 0
}

// Params are the per-block inputs that do not live in State
type Params struct {
	Variant protein.Variant

	// CurrentPerChannel in pA, signed with the bias polarity
	CurrentPerChannel float64

	// Baseline is the all-closed current in pA
	Baseline float64

	// RuptureThreshold is the half-width of the rupture band in pA
	RuptureThreshold float64

	// Edge configures the edge-triggered detector
	Edge edge.Config
}

// Classify runs the selected detector over blk and updates st.
// tail is the end of the previous block, used by the edge filter.
func Classify(st *State, blk trace.SampleBlock, tail []float64, p Params) trace.Classified {
	n := blk.Len()
	out := trace.NewClassified(n)
	if st.LastOpen < 0 {
		st.LastOpen = 0
	}

	var filtered []float64
	if p.Variant == protein.EdgeTriggered {
		filtered = edge.Filter(blk.Current, tail, p.Edge.Width)
	}

	for i, y := range blk.Current {
		if math.Abs(y) > p.RuptureThreshold {
			st.Rupture = true
			break
		}
		if p.Variant == protein.EdgeTriggered {
			st.edgeStep(filtered[i], p)
		} else {
			st.hysteresisStep(y, p)
		}
		out.Open[i] = st.LastOpen
		if st.LastOpen > out.Max {
			out.Max = st.LastOpen
		}
	}

	if st.Rupture && n > 0 && math.Abs(blk.Last()) < p.RuptureThreshold {
		st.Recovery = true
	}

	// A block that saw two or more channels but ends fully closed is treated
	// as a rupture that already recovered.  The comparator can otherwise keep
	// cycling on a collapsing bilayer without ever crossing the rupture band.
	// Kept for parity with the rig's behaviour; a genuine fast full closure is
	// indistinguishable here.
	if out.Max >= 2 && out.Final() == 0 {
		st.Rupture = true
		st.Recovery = true
	}
	return out
}

func (s *State) hysteresisStep(y float64, p Params) {
	cpc := p.CurrentPerChannel
	up := (float64(s.LastOpen)+Threshold)*cpc + p.Baseline
	down := (float64(s.LastOpen)-Threshold)*cpc + p.Baseline
	if cpc < 0 {
		// negative bias: currents grow downward, so the comparisons flip
		y, up, down = -y, -up, -down
	}
	if y > up {
		s.LastOpen++
	} else if y < down {
		s.LastOpen--
		if s.LastOpen < 0 {
			s.LastOpen = 0
		}
	}
}

func (s *State) edgeStep(f float64, p Params) {
	v := util.Sign(p.CurrentPerChannel) * f
	trigger := p.Edge.Trigger * math.Abs(p.CurrentPerChannel)
	switch s.Phase {
	case Idle:
		if v > trigger {
			s.Phase = RisingArmed
		} else if v < -trigger {
			s.Phase = FallingArmed
		}
	case RisingArmed:
		// the response to a clean step is flat across the step sample itself,
		// so the count moves as soon as the rise stops
		if v <= s.lastFiltered {
			s.LastOpen++
			s.Phase = Settling
		}
	case FallingArmed:
		if v >= s.lastFiltered {
			s.LastOpen--
			if s.LastOpen < 0 {
				s.LastOpen = 0
			}
			s.Phase = Settling
		}
	case Settling:
		if math.Abs(f) < p.Edge.Settle {
			s.Phase = Idle
		}
	}
	s.lastFiltered = v
}
