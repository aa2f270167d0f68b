package protein

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKindAliases(t *testing.T) {
	cases := map[string]Kind{
		"nanopore": Nanopore,
		"AHL":      Nanopore,
		"bk":       IonChannelVoltage,
		" Or8 ":    IonChannelConcentration,
	}
	for in, want := range cases {
		got, err := ParseKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseKind("gramicidin")
	assert.Error(t, err)
}

func TestKindStringRoundTrips(t *testing.T) {
	for _, p := range All() {
		k, err := ParseKind(p.Kind.String())
		require.NoError(t, err)
		assert.Equal(t, p.Kind, k)
	}
}

func TestPresetVariants(t *testing.T) {
	ahl, _ := Lookup(Nanopore)
	bk, _ := Lookup(IonChannelVoltage)
	or8, _ := Lookup(IonChannelConcentration)
	assert.Equal(t, EdgeTriggered, ahl.Variant)
	assert.Equal(t, Hysteresis, bk.Variant)
	assert.Equal(t, Hysteresis, or8.Variant)
	assert.True(t, ahl.ReformOnCrowding)
	assert.False(t, bk.ReformOnCrowding)
	assert.Equal(t, 44.5, ahl.CurrentPerChannel)
	assert.Equal(t, -11.5, bk.CurrentPerChannel)
}

func TestSigmoidInverseUndoesForward(t *testing.T) {
	bk, _ := Lookup(IonChannelVoltage)
	for _, x := range []float64{-80, -28.4, 0, 40} {
		p := bk.Center.Forward(x)
		assert.InDelta(t, x, bk.Center.Inverse(p), 1e-6)
	}
}

func TestSigmoidInverseAtHalfIsX0(t *testing.T) {
	or8, _ := Lookup(IonChannelConcentration)
	assert.InDelta(t, or8.Center.X0, or8.Center.Inverse(0.5), 1e-12)
}

func TestProcessedHeaders(t *testing.T) {
	ahl, _ := Lookup(Nanopore)
	assert.Equal(t, []string{"time [s]", "num [-]"}, ahl.ProcessedHeader())

	bk, _ := Lookup(IonChannelVoltage)
	h := bk.ProcessedHeader()
	assert.Equal(t, []string{"time [s]", "opProb", "voltage [mV]"}, h)

	bounded := bk.WithBounds(Sigmoid{A: 0.06, X0: -30}, Sigmoid{A: 0.08, X0: -26})
	assert.True(t, bounded.HasBounds())
	assert.Len(t, bounded.ProcessedHeader(), 6)
	assert.False(t, bk.HasBounds(), "WithBounds must not mutate the registry copy")
}

func TestWithBoundsDropsInvalid(t *testing.T) {
	bk, _ := Lookup(IonChannelVoltage)
	p := bk.WithBounds(Sigmoid{}, Sigmoid{A: math.NaN()})
	assert.Nil(t, p.Lower)
	assert.Nil(t, p.Upper)
}
