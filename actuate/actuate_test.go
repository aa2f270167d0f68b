package actuate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bilakit/bilayer/protein"
)

func preset(t *testing.T, k protein.Kind) protein.Preset {
	p, err := protein.Lookup(k)
	require.NoError(t, err)
	return p
}

func TestDecide(t *testing.T) {
	limit := -20.
	nanopore := NewPolicy(preset(t, protein.Nanopore), nil)
	bk := NewPolicy(preset(t, protein.IonChannelVoltage), &limit)
	or8 := NewPolicy(preset(t, protein.IonChannelConcentration), nil)

	tests := []struct {
		name   string
		policy Policy
		obs    Observation
		want   Command
	}{
		{"rupture", or8, Observation{Ruptured: true}, Reform},
		{"rupture recovering", or8, Observation{Ruptured: true, Recovering: true}, None},
		{"nanopore single", nanopore, Observation{Channels: 1}, None},
		{"nanopore crowded", nanopore, Observation{Channels: 2}, Reform},
		{"bk crowded", bk, Observation{Channels: 3}, None},
		{"bk below limit", bk, Observation{Channels: 1, Stimulus: -48, StimulusValid: true}, None},
		{"bk above limit", bk, Observation{Channels: 1, Stimulus: -10, StimulusValid: true}, Reform},
		{"bk invalid stimulus", bk, Observation{Channels: 1, Stimulus: -10}, None},
		{"or8 no limit", or8, Observation{Channels: 1, Stimulus: 10, StimulusValid: true}, None},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.Decide(tt.obs))
		})
	}
}

func TestCommandWire(t *testing.T) {
	assert.Equal(t, "r", Reform.Wire())
	assert.Equal(t, "z", Rotate.Wire())
	assert.Equal(t, "x", Step.Wire())
	assert.Equal(t, "c", Stop.Wire())
	assert.Equal(t, "", None.Wire())
}

func TestParseCommand(t *testing.T) {
	c, err := ParseCommand("rotate")
	require.NoError(t, err)
	assert.Equal(t, Rotate, c)

	c, err = ParseCommand("c")
	require.NoError(t, err)
	assert.Equal(t, Stop, c)

	_, err = ParseCommand("none")
	assert.Error(t, err)
}
