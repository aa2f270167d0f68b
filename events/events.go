// Package events extracts single-molecule events from classified blocks.
//
// Two extractions exist and a session runs at most one of them: dwell times
// of single open pores, or the conductance of each pore as it inserts.
package events

import (
	"fmt"
	"strings"

	"github.com/bilakit/bilayer/trace"
)

// Mode selects the extraction
type Mode int

const (
	// None disables extraction
	None Mode = iota

	// Dwell records how long exactly one pore stays open
	Dwell

	// Jump records the conductance of single-step insertions
	Jump
)

func (m Mode) String() string {
	switch m {
	case None:
		return "none"
	case Dwell:
		return "dwell"
	case Jump:
		return "jump"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode maps a config string to a Mode
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "off":
		return None, nil
	case "dwell", "dwell-time", "dwelltime":
		return Dwell, nil
	case "jump", "conductance", "jump-conductance":
		return Jump, nil
	}
	return None, fmt.Errorf("unknown extraction mode %q, expected none, dwell or jump", s)
}

// MarshalText implements encoding.TextMarshaler
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Header is the column layout of the event file for the mode
func (m Mode) Header() []string {
	switch m {
	case Dwell:
		return []string{"start_time [s]", "duration [s]"}
	case Jump:
		return []string{"step_time [s]", "conductance [pS]"}
	}
	return nil
}

const (
	// DefaultMinDwell is the shortest dwell recorded, in seconds
	DefaultMinDwell = 0.02

	// DefaultWindow is the longest averaging window either side of a jump
	DefaultWindow = 500

	// DefaultMinWindow is the shortest averaging window a jump is measured with
	DefaultMinWindow = 200

	// DefaultBiasVoltage is the bias used to convert current to conductance, in mV
	DefaultBiasVoltage = 50

	// JumpLow and JumpHigh bound a plausible single-channel step, relative to
	// the channel current
	JumpLow  = 0.1
	JumpHigh = 1.9
)

// Continuation carries an open dwell across a block boundary
type Continuation struct {
	Open  bool
	Start float64
}

// Reset abandons any open dwell
func (c *Continuation) Reset() {
	*c = Continuation{}
}

// DwellTime is one completed single-pore run
type DwellTime struct {
	Start    float64
	Duration float64
}

// Conductance is one accepted single-step insertion
type Conductance struct {
	// Time is the first sample at the raised level
	Time float64

	// Delta is the current step in pA
	Delta float64

	// Value is the conductance in pS
	Value float64
}

// Params are fixed for a session
type Params struct {
	Mode              Mode
	CurrentPerChannel float64
	BiasVoltage       float64
	MinDwell          float64
	Window            int
	MinWindow         int
}

// DefaultParams returns parameters for mode with the rig defaults
func DefaultParams(mode Mode, cpc float64) Params {
	return Params{
		Mode:              mode,
		CurrentPerChannel: cpc,
		BiasVoltage:       DefaultBiasVoltage,
		MinDwell:          DefaultMinDwell,
		Window:            DefaultWindow,
		MinWindow:         DefaultMinWindow,
	}
}

// Result is what one block yielded
type Result struct {
	Dwells      []DwellTime
	Conductance []Conductance

	// Ruptured is set when an unclassified sample cut the scan short
	Ruptured bool

	// Messages are operator lines in the order the events occurred
	Messages []string
}

// Extract scans one block.  tail is the end of the previous block's current,
// used when a jump's leading window reaches before this block.  Nothing is
// extracted while the bilayer is recovering.
func Extract(cont *Continuation, blk trace.SampleBlock, cls trace.Classified, tail []float64, recovering bool, p Params) Result {
	var r Result
	if recovering {
		return r
	}
	switch p.Mode {
	case Dwell:
		dwell(cont, blk, cls, p, &r)
	case Jump:
		jump(blk, cls, tail, p, &r)
	}
	if r.Ruptured {
		r.Messages = append(r.Messages, "Rupture detected")
	}
	return r
}

func dwell(cont *Continuation, blk trace.SampleBlock, cls trace.Classified, p Params, r *Result) {
	for i, k := range cls.Open {
		switch {
		case k == trace.Unset:
			cont.Reset()
			r.Ruptured = true
			return
		case k == 1:
			if !cont.Open {
				cont.Open = true
				cont.Start = blk.Time[i]
			}
		case cont.Open:
			d := blk.Time[i] - cont.Start
			if d > p.MinDwell {
				r.Dwells = append(r.Dwells, DwellTime{Start: cont.Start, Duration: d})
				r.Messages = append(r.Messages, fmt.Sprintf("%f", d))
			}
			cont.Reset()
		}
	}
}

func jump(blk trace.SampleBlock, cls trace.Classified, tail []float64, p Params, r *Result) {
	open := cls.Open
	for i := 0; i+1 < len(open); i++ {
		if open[i] == trace.Unset {
			r.Ruptured = true
			return
		}
		if open[i+1]-open[i] != 1 {
			continue
		}

		pre, npre := 0., 0
		for j := i - p.Window + 1; j <= i; j++ {
			switch {
			case j >= 0:
				pre += blk.Current[j]
			case len(tail)+j >= 0:
				pre += tail[len(tail)+j]
			default:
				continue
			}
			npre++
		}

		post, npost := 0., 0
		for j := i + 1; j < len(open) && open[j] == open[i+1] && npost < p.Window; j++ {
			post += blk.Current[j]
			npost++
		}
		if npre < p.MinWindow || npost < p.MinWindow {
			continue
		}

		delta := post/float64(npost) - pre/float64(npre)
		ratio := delta / p.CurrentPerChannel
		if ratio < JumpLow || ratio > JumpHigh {
			continue
		}
		c := Conductance{Time: blk.Time[i+1], Delta: delta, Value: delta * 1000 / p.BiasVoltage}
		r.Conductance = append(r.Conductance, c)
		r.Messages = append(r.Messages, fmt.Sprintf("%f", c.Value))
	}
	// the last sample is never a jump origin but may still be unclassified
	if n := len(open); n > 0 && open[n-1] == trace.Unset {
		r.Ruptured = true
	}
}
