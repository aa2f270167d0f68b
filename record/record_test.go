package record

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bilakit/bilayer/events"
	"github.com/bilakit/bilayer/protein"
	"github.com/bilakit/bilayer/session"
	"github.com/bilakit/bilayer/stimulus"
	"github.com/bilakit/bilayer/trace"
)

func preset(t *testing.T, k protein.Kind) protein.Preset {
	p, err := protein.Lookup(k)
	require.NoError(t, err)
	return p
}

func read(t *testing.T, path string) string {
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

var start = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func TestNames(t *testing.T) {
	f := Names("log", start, "OR8")
	assert.Equal(t, filepath.Join("log", "20260314-092653-OR8-Processed.csv"), f.Processed)
	assert.Equal(t, filepath.Join("log", "20260314-092653-OR8-POSTProcessed.csv"), f.Post)
	assert.Equal(t, filepath.Join("log", "20260314-092653-OR8-Raw.csv"), f.Raw)
}

func TestFeatureRowNanopore(t *testing.T) {
	p := preset(t, protein.Nanopore)
	assert.Equal(t, []string{"3", "2"}, FeatureRow(p, session.Cycle{Time: 3, Channels: 2}))
	assert.Equal(t, []string{"4", NA}, FeatureRow(p, session.Cycle{Time: 4, Rupture: true, Channels: trace.Unset}))
}

func TestFeatureRowBK(t *testing.T) {
	p := preset(t, protein.IonChannelVoltage)
	c := session.Cycle{Time: 7, Estimate: stimulus.Estimate{Probability: 0.2, Valid: true, Value: -48.07004096}}
	assert.Equal(t, []string{"7", "0.200000", "-48.070041"}, FeatureRow(p, c))

	c = session.Cycle{Time: 8, Estimate: stimulus.Estimate{Probability: stimulus.NotComputed}}
	assert.Equal(t, []string{"8", NA, NA}, FeatureRow(p, c))
}

func TestFeatureRowBounds(t *testing.T) {
	p := preset(t, protein.IonChannelConcentration).WithBounds(protein.Sigmoid{A: 1.5, X0: -7}, protein.Sigmoid{A: 1.7, X0: -6})
	c := session.Cycle{Time: 1, Estimate: stimulus.Estimate{
		Probability: 0.5, Valid: true, Value: -6.5, Lower: -7, Upper: -6, Bounded: true, Mean: math.NaN(),
	}}
	assert.Equal(t, []string{"1", "0.500000", "-6.500000", "-7.000000", "-6.000000", NA}, FeatureRow(p, c))

	c = session.Cycle{Time: 2, Estimate: stimulus.Estimate{Probability: stimulus.NotComputed}}
	assert.Equal(t, []string{"2", NA, NA, NA, NA, NA}, FeatureRow(p, c))
}

func TestEventRows(t *testing.T) {
	c := session.Cycle{Events: events.Result{
		Dwells:      []events.DwellTime{{Start: 0.8, Duration: 0.40000001}},
		Conductance: []events.Conductance{{Time: 12.3456, Value: 889.996}},
	}}
	assert.Equal(t, [][]string{{"0.80", "0.40"}, {"12.35", "890.00"}}, EventRows(c))
}

func TestRecorderFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "log")
	p := preset(t, protein.Nanopore)
	r, err := Create(dir, start, p, events.Dwell, true)
	require.NoError(t, err)

	c := session.Cycle{
		Time:     1,
		Channels: 1,
		Live:     true,
		Block:    trace.SampleBlock{Time: []float64{0, 0.0002}, Current: []float64{0, 44.5}},
		Events:   events.Result{Dwells: []events.DwellTime{{Start: 0.25, Duration: 0.5}}},
	}
	require.NoError(t, r.Emit(c))
	require.NoError(t, r.Close())

	assert.Equal(t, "time [s],num [-]\n1,1\n", read(t, r.Files.Processed))
	assert.Equal(t, "start_time [s],duration [s]\n0.25,0.50\n", read(t, r.Files.Post))
	assert.Equal(t, "time [s],current [pA]\n0.000000,0.000000\n0.000200,44.500000\n", read(t, r.Files.Raw))
}

func TestRecorderOptionalFiles(t *testing.T) {
	dir := t.TempDir()
	p := preset(t, protein.IonChannelVoltage)
	r, err := Create(dir, start, p, events.None, false)
	require.NoError(t, err)
	require.NoError(t, r.Emit(session.Cycle{Time: 1, Estimate: stimulus.Estimate{Probability: stimulus.NotComputed}}))
	require.NoError(t, r.Close())

	assert.Equal(t, "time [s],opProb,voltage [mV]\n1,#N/A,#N/A\n", read(t, r.Files.Processed))
	_, err = os.Stat(r.Files.Post)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(r.Files.Raw)
	assert.True(t, os.IsNotExist(err))
}
