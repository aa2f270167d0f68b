// Package actuate decides when the bilayer must be reformed.
package actuate

import (
	"fmt"

	"github.com/bilakit/bilayer/protein"
)

// Command is an instruction for the stepper that drives the bilayer brush
type Command int

const (
	// None leaves the bilayer alone
	None Command = iota

	// Reform strokes the brush once across the aperture
	Reform

	// Rotate turns the brush until Stop
	Rotate

	// Step advances the motor a single step
	Step

	// Stop halts a rotation
	Stop
)

var wire = map[Command]string{
	Reform: "r",
	Rotate: "z",
	Step:   "x",
	Stop:   "c",
}

// Wire is the newline-free byte sequence the controller firmware expects,
// empty for None
func (c Command) Wire() string {
	return wire[c]
}

func (c Command) String() string {
	switch c {
	case None:
		return "none"
	case Reform:
		return "reform"
	case Rotate:
		return "rotate"
	case Step:
		return "step"
	case Stop:
		return "stop"
	}
	return fmt.Sprintf("Command(%d)", int(c))
}

// ParseCommand maps an operator word to a Command
func ParseCommand(s string) (Command, error) {
	for c := Reform; c <= Stop; c++ {
		if s == c.String() || s == c.Wire() {
			return c, nil
		}
	}
	return None, fmt.Errorf("unknown motor command %q, expected reform, rotate, step or stop", s)
}

// Policy holds what Decide needs to know about the session
type Policy struct {
	// ReformOnCrowding reforms once two or more channels are open
	ReformOnCrowding bool

	// StimulusLimit reforms when a valid stimulus estimate exceeds it.
	// Nil disables the check.
	StimulusLimit *float64
}

// NewPolicy returns the policy for preset p with an optional stimulus limit
func NewPolicy(p protein.Preset, limit *float64) Policy {
	return Policy{ReformOnCrowding: p.ReformOnCrowding, StimulusLimit: limit}
}

// Observation is the per-cycle input to Decide
type Observation struct {
	Ruptured   bool
	Recovering bool

	// Channels is the block maximum open count
	Channels int

	// Stimulus is meaningful only when StimulusValid is set
	Stimulus      float64
	StimulusValid bool
}

// Decide returns the command for one cycle.  It has no state and never fails.
func (p Policy) Decide(o Observation) Command {
	if o.Ruptured {
		if o.Recovering {
			return None
		}
		return Reform
	}
	if p.ReformOnCrowding && o.Channels >= 2 {
		return Reform
	}
	if p.StimulusLimit != nil && o.StimulusValid && o.Stimulus > *p.StimulusLimit {
		return Reform
	}
	return None
}
