package session

import (
	"fmt"
	"time"

	"github.com/bilakit/bilayer/calibrate"
	"github.com/bilakit/bilayer/edge"
	"github.com/bilakit/bilayer/events"
	"github.com/bilakit/bilayer/protein"
	"github.com/bilakit/bilayer/trace"
	"github.com/bilakit/bilayer/tracker"
)

// Config is fixed for the life of an acquisition
type Config struct {
	Preset protein.Preset

	// SampleRate is the number of samples in one block
	SampleRate int

	// CurrentPerChannel is the operator's single-channel current in pA, the
	// anchor every correction is bounded by
	CurrentPerChannel float64

	// BiasVoltage in mV converts current steps to conductance
	BiasVoltage float64

	// Baseline is the initial all-closed current in pA
	Baseline float64

	RuptureThreshold float64
	Extraction       events.Mode
	Calibration      calibrate.Settings
	Edge             edge.Config

	// StimulusLimit reforms the bilayer when a stimulus estimate exceeds it
	StimulusLimit *float64

	// Period paces the loop; zero runs blocks back to back
	Period time.Duration
}

// DefaultConfig returns the rig configuration for preset p
func DefaultConfig(p protein.Preset) Config {
	return Config{
		Preset:            p,
		SampleRate:        trace.DefaultSampleRate,
		CurrentPerChannel: p.CurrentPerChannel,
		BiasVoltage:       events.DefaultBiasVoltage,
		RuptureThreshold:  tracker.DefaultRuptureThreshold,
		Extraction:        events.None,
		Calibration:       calibrate.DefaultSettings(),
		Edge:              edge.DefaultConfig(),
		Period:            time.Second,
	}
}

// Validate reports configuration errors before acquisition starts
func (c Config) Validate() error {
	if _, err := protein.Lookup(c.Preset.Kind); err != nil {
		return err
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.CurrentPerChannel == 0 {
		return fmt.Errorf("current per channel must be nonzero")
	}
	if c.RuptureThreshold <= 0 {
		return fmt.Errorf("rupture threshold must be positive, got %v", c.RuptureThreshold)
	}
	if c.Extraction == events.Jump && c.BiasVoltage == 0 {
		return fmt.Errorf("bias voltage must be nonzero for jump conductance extraction")
	}
	if c.Period < 0 {
		return fmt.Errorf("period must not be negative, got %v", c.Period)
	}
	if c.Preset.Variant == protein.EdgeTriggered {
		if err := c.Edge.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// tailLength is how much of each block the next cycle needs: the leading
// jump window, and half the edge kernel
func (c Config) tailLength() int {
	n := events.DefaultWindow
	if h := (c.Edge.Width - 1) / 2; h > n {
		n = h
	}
	return n
}
