// Package protein describes the membrane proteins the rig knows how to read.
//
// The set is closed: a Preset is chosen once at session setup and carries
// everything the pipeline needs to know about the protein, namely the
// open-count detection variant, the single-channel current anchor, the
// sigmoid used to turn an open probability into a stimulus, and the shape of
// the processed record.
package protein

import (
	"fmt"
	"math"
	"strings"
)

// Kind enumerates the supported proteins
type Kind int

const (
	// Nanopore is alpha-hemolysin (AHL) from Staphylococcus aureus
	Nanopore Kind = iota

	// IonChannelVoltage is the big potassium (BK) channel, whose open
	// probability reports the holding voltage
	IonChannelVoltage

	// IonChannelConcentration is olfactory receptor 8 (OR8) from Aedes aegypti,
	// whose open probability reports odorant concentration
	IonChannelConcentration
)

// Variant selects the open-count detection algorithm
type Variant int

const (
	// Hysteresis is the threshold comparator with a dead zone
	Hysteresis Variant = iota

	// EdgeTriggered localizes steps with the edge filter
	EdgeTriggered
)

// Quantity is the physical stimulus a preset estimates
type Quantity int

const (
	// NoStimulus means the preset reports a channel count only
	NoStimulus Quantity = iota

	// Voltage is a holding voltage in mV
	Voltage

	// Concentration is log10 of a molar concentration
	Concentration
)

// Sigmoid holds the constants of p = 1 / (1 + exp(-A*(x-X0)))
type Sigmoid struct {
	A  float64 `koanf:"A" yaml:"A"`
	X0 float64 `koanf:"X0" yaml:"X0"`
}

// Inverse maps an open probability back to the stimulus x.
// p must lie strictly inside (0, 1).
func (s Sigmoid) Inverse(p float64) float64 {
	return s.X0 + math.Log(p/(1-p))/s.A
}

// Forward evaluates the sigmoid at x
func (s Sigmoid) Forward(x float64) float64 {
	return 1 / (1 + math.Exp(-s.A*(x-s.X0)))
}

// Valid is true when the sigmoid can be inverted
func (s Sigmoid) Valid() bool {
	return s.A != 0 && !math.IsNaN(s.A) && !math.IsNaN(s.X0)
}

// Preset is the immutable description of one protein
type Preset struct {
	Kind Kind

	// Name is the human readable protein name
	Name string

	// Tag is the short form used in log file names
	Tag string

	// CurrentPerChannel is the default single-channel current in pA.  The sign
	// encodes the bias polarity used for this protein on the reference rig.
	CurrentPerChannel float64

	Variant  Variant
	Quantity Quantity

	// Center is the calibrated sigmoid, zero for presets with no stimulus
	Center Sigmoid

	// Lower and Upper are optional confidence-bound sigmoids
	Lower, Upper *Sigmoid

	// ReformOnCrowding requests a bilayer reform once two or more channels
	// are open, to keep measurements single-molecule
	ReformOnCrowding bool
}

var presets = map[Kind]Preset{
	Nanopore: {
		Kind:              Nanopore,
		Name:              "Alpha hemolysin from Staphylococcus aureus",
		Tag:               "AHL",
		CurrentPerChannel: 44.5,
		Variant:           EdgeTriggered,
		Quantity:          NoStimulus,
		ReformOnCrowding:  true,
	},
	// pig BK, 250 mM KCl, 100 uM CaCl2
	IonChannelVoltage: {
		Kind:              IonChannelVoltage,
		Name:              "Big Potassium (BK) ion channel from Pig",
		Tag:               "BK",
		CurrentPerChannel: -11.5,
		Variant:           Hysteresis,
		Quantity:          Voltage,
		Center:            Sigmoid{A: 0.070469599, X0: -28.3978081},
	},
	// TaOR8 vs R-octenol, Dekel et al. 2016
	IonChannelConcentration: {
		Kind:              IonChannelConcentration,
		Name:              "Olfactory Receptor (OR) 8 from Aedes aegypti",
		Tag:               "OR8",
		CurrentPerChannel: 2.0,
		Variant:           Hysteresis,
		Quantity:          Concentration,
		Center:            Sigmoid{A: 1.597072388, X0: -6.495105404},
	},
}

// Lookup returns the preset for k
func Lookup(k Kind) (Preset, error) {
	p, ok := presets[k]
	if !ok {
		return Preset{}, fmt.Errorf("unknown protein kind %d", int(k))
	}
	return p, nil
}

// All returns every preset, ordered by Kind
func All() []Preset {
	return []Preset{presets[Nanopore], presets[IonChannelVoltage], presets[IonChannelConcentration]}
}

// WithBounds returns a copy of p carrying confidence-bound sigmoids.
// Invalid sigmoids are dropped.
func (p Preset) WithBounds(lower, upper Sigmoid) Preset {
	if lower.Valid() {
		p.Lower = &lower
	}
	if upper.Valid() {
		p.Upper = &upper
	}
	return p
}

// HasBounds is true when both confidence bounds are present
func (p Preset) HasBounds() bool {
	return p.Lower != nil && p.Upper != nil
}

// ProcessedHeader returns the column names of the processed-feature file.
// Bounds and the session mean are only written when bounds are configured,
// so the default layout matches files written by earlier versions of the rig.
func (p Preset) ProcessedHeader() []string {
	switch p.Quantity {
	case Voltage:
		h := []string{"time [s]", "opProb", "voltage [mV]"}
		if p.HasBounds() {
			h = append(h, "voltage lower [mV]", "voltage upper [mV]", "voltage mean [mV]")
		}
		return h
	case Concentration:
		h := []string{"time [s]", "opProb", "log10concentration [M]"}
		if p.HasBounds() {
			h = append(h, "log10concentration lower [M]", "log10concentration upper [M]", "log10concentration mean [M]")
		}
		return h
	default:
		return []string{"time [s]", "num [-]"}
	}
}

func (k Kind) String() string {
	switch k {
	case Nanopore:
		return "nanopore"
	case IonChannelVoltage:
		return "bk"
	case IonChannelConcentration:
		return "or8"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind maps a name from a config file to a Kind, case insensitive.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "nanopore", "ahl", "alpha-hemolysin", "hemolysin":
		return Nanopore, nil
	case "bk", "ion-channel-voltage", "potassium":
		return IonChannelVoltage, nil
	case "or8", "or", "ion-channel-concentration", "olfactory":
		return IonChannelConcentration, nil
	}
	return 0, fmt.Errorf("unknown protein preset %q, expected nanopore, bk or or8", s)
}

// MarshalText implements encoding.TextMarshaler
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}
