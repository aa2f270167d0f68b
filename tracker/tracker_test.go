package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bilakit/bilayer/edge"
	"github.com/bilakit/bilayer/protein"
	"github.com/bilakit/bilayer/trace"
)

// levels builds a block from consecutive segments of seg samples, segment k
// sitting at levels[k] channel currents.
func levels(cpc float64, seg int, lv ...int) trace.SampleBlock {
	n := seg * len(lv)
	blk := trace.SampleBlock{Time: make([]float64, n), Current: make([]float64, n)}
	for k, l := range lv {
		for i := 0; i < seg; i++ {
			idx := k*seg + i
			blk.Time[idx] = float64(idx) / trace.DefaultSampleRate
			blk.Current[idx] = float64(l) * cpc
		}
	}
	return blk
}

func hysteresis(cpc float64) Params {
	return Params{
		Variant:           protein.Hysteresis,
		CurrentPerChannel: cpc,
		RuptureThreshold:  DefaultRuptureThreshold,
		Edge:              edge.DefaultConfig(),
	}
}

func edgeParams(cpc float64) Params {
	p := hysteresis(cpc)
	p.Variant = protein.EdgeTriggered
	return p
}

func countSteps(open []int) int {
	steps := 0
	for i := 1; i < len(open); i++ {
		if open[i] != open[i-1] {
			steps++
		}
	}
	return steps
}

func TestHysteresisReproducesSquareWave(t *testing.T) {
	for _, cpc := range []float64{10, -11.5} {
		lv := []int{0, 1, 2, 1, 0, 1, 0, 2, 1, 1}
		blk := levels(cpc, 500, lv...)
		st := NewState()
		out := Classify(&st, blk, nil, hysteresis(cpc))
		require.False(t, st.Rupture)
		for k, l := range lv {
			// one sample per segment may lag when a level jumps by two
			assert.Equal(t, l, out.Open[k*500+499], "cpc %v segment %d", cpc, k)
		}
		assert.Equal(t, 2, out.Max)
		assert.Equal(t, 1, out.Final())
	}
}

func TestHysteresisStepCount(t *testing.T) {
	blk := levels(10, 250, 0, 1, 0, 1, 0, 1, 0, 1, 0, 1)
	st := NewState()
	out := Classify(&st, blk, nil, hysteresis(10))
	assert.Equal(t, 9, countSteps(out.Open))
	assert.Equal(t, 1, out.Max)
}

func TestHysteresisDeadZoneHoldsLevel(t *testing.T) {
	// noise of +-0.7 channel currents around one open channel never trips
	blk := levels(10, 100, 1, 1, 1, 1, 1)
	for i := range blk.Current {
		if i%2 == 0 {
			blk.Current[i] += 7
		} else {
			blk.Current[i] -= 7
		}
	}
	st := NewState()
	st.LastOpen = 1
	out := Classify(&st, blk, nil, hysteresis(10))
	assert.Equal(t, 0, countSteps(out.Open))
}

func TestStateCarriesAcrossBlocks(t *testing.T) {
	st := NewState()
	Classify(&st, levels(10, 500, 0, 1), nil, hysteresis(10))
	require.Equal(t, 1, st.LastOpen)
	out := Classify(&st, levels(10, 500, 1, 1), nil, hysteresis(10))
	assert.Equal(t, 1, out.Open[0])
}

func TestRuptureLeavesRemainderUnset(t *testing.T) {
	blk := levels(10, 1000, 0, 1, 1, 1, 1)
	blk.Current[2000] = 600
	st := NewState()
	out := Classify(&st, blk, nil, hysteresis(10))
	assert.True(t, st.Rupture)
	assert.Equal(t, 1, out.Open[1999])
	for i := 2000; i < len(out.Open); i++ {
		require.Equal(t, trace.Unset, out.Open[i], "sample %d", i)
	}
	// the last sample is back in band: the bilayer is already recovering
	assert.True(t, st.Recovery)
}

func TestRuptureAtFirstSample(t *testing.T) {
	blk := levels(10, 1000, 0, 0, 0, 0, 0)
	blk.Current[0] = 600
	blk.Current[len(blk.Current)-1] = -600
	st := NewState()
	out := Classify(&st, blk, nil, hysteresis(10))
	assert.True(t, st.Rupture)
	assert.False(t, st.Recovery)
	assert.Equal(t, 5000, out.Count(trace.Unset))
	assert.Equal(t, trace.Unset, out.Max)
}

func TestRecoveryOnlyWithRupture(t *testing.T) {
	st := NewState()
	Classify(&st, levels(10, 500, 0, 1, 0), nil, hysteresis(10))
	assert.False(t, st.Rupture)
	assert.False(t, st.Recovery)
}

func TestTwoChannelsEndingClosedForcesRupture(t *testing.T) {
	st := NewState()
	out := Classify(&st, levels(10, 500, 0, 1, 2, 1, 0), nil, hysteresis(10))
	assert.Equal(t, 2, out.Max)
	assert.Equal(t, 0, out.Final())
	assert.True(t, st.Rupture)
	assert.True(t, st.Recovery)
}

func TestUnsetLastOpenClampsToZero(t *testing.T) {
	st := NewState()
	require.Equal(t, trace.Unset, st.LastOpen)
	out := Classify(&st, levels(10, 10, 0), nil, hysteresis(10))
	assert.Equal(t, 0, out.Open[0])
}

func TestEdgeDetectsNanoporeInsertion(t *testing.T) {
	blk := levels(44.5, 2500, 0, 1)
	st := NewState()
	out := Classify(&st, blk, nil, edgeParams(44.5))
	require.False(t, st.Rupture)
	assert.Equal(t, 1, out.Max)
	assert.Equal(t, 1, countSteps(out.Open))
	// the count moves on the first sample at the raised level
	assert.Equal(t, 0, out.Open[2499])
	assert.Equal(t, 1, out.Open[2500])
	assert.Equal(t, Idle, st.Phase)
}

func TestEdgeDetectsClosureWithNegativeBias(t *testing.T) {
	blk := levels(-44.5, 1000, 0, 0, 1, 1, 0)
	st := NewState()
	out := Classify(&st, blk, nil, edgeParams(-44.5))
	require.False(t, st.Rupture)
	assert.Equal(t, 1, out.Max)
	assert.Equal(t, 2, countSteps(out.Open))
	assert.Equal(t, 0, out.Final())
	assert.Equal(t, 0, out.Open[1999])
	assert.Equal(t, 1, out.Open[2000])
	assert.Equal(t, 1, out.Open[3999])
	assert.Equal(t, 0, out.Open[4000])
}

func TestEdgeIgnoresSubThresholdWiggle(t *testing.T) {
	// a 5 pA step filters to 2.5 pA, below 0.15*44.5
	blk := levels(5, 2500, 0, 1)
	st := NewState()
	out := Classify(&st, blk, nil, edgeParams(44.5))
	assert.Equal(t, 0, out.Max)
}

func TestResetRestoresSentinels(t *testing.T) {
	st := State{LastOpen: 3, Phase: Settling, Rupture: true, Recovery: true}
	st.Reset()
	assert.Equal(t, NewState(), st)
	assert.Equal(t, "idle", st.Phase.String())
}
