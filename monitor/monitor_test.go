package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bilakit/bilayer/actuate"
	"github.com/bilakit/bilayer/events"
	"github.com/bilakit/bilayer/protein"
	"github.com/bilakit/bilayer/session"
	"github.com/bilakit/bilayer/stimulus"
	"github.com/bilakit/bilayer/trace"
)

const rate = 10

func cycle(idx int) session.Cycle {
	blk := trace.SampleBlock{Time: make([]float64, rate), Current: make([]float64, rate)}
	cls := trace.NewClassified(rate)
	for i := range blk.Time {
		blk.Time[i] = float64(idx) + float64(i)/rate
		blk.Current[i] = -11.5
		cls.Open[i] = 1
	}
	cls.Max = 1
	return session.Cycle{
		Index:      idx,
		Time:       idx + 1,
		Block:      blk,
		Classified: cls,
		Channels:   1,
		Estimate:   stimulus.Estimate{Probability: 0.2, Valid: true, Value: -48},
		Display:    stimulus.Display{Po: "20%", Stimulus: "-48 mV"},
		Events:     events.Result{Dwells: []events.DwellTime{{Start: float64(idx), Duration: 0.5}}},
	}
}

func get(t *testing.T, m *Monitor, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func bk(t *testing.T) protein.Preset {
	p, err := protein.Lookup(protein.IonChannelVoltage)
	require.NoError(t, err)
	return p
}

func TestFeatureBeforeFirstCycle(t *testing.T) {
	m := New(bk(t), rate, 0)
	w := get(t, m, "/feature")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestFeature(t *testing.T) {
	m := New(bk(t), rate, 0)
	require.NoError(t, m.Emit(cycle(0)))
	w := get(t, m, "/feature")
	require.Equal(t, http.StatusOK, w.Code)
	var f Feature
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &f))
	assert.Equal(t, 1, f.Time)
	assert.Equal(t, 1, f.Channels)
	require.NotNil(t, f.Po)
	assert.Equal(t, 0.2, *f.Po)
	require.NotNil(t, f.Stimulus)
	assert.Equal(t, -48., *f.Stimulus)
	assert.Equal(t, "-48 mV", f.Display)
}

func TestRuptureFeatureHasNoPo(t *testing.T) {
	m := New(bk(t), rate, 0)
	c := cycle(0)
	c.Rupture = true
	c.Channels = trace.Unset
	c.Estimate = stimulus.Estimate{Probability: stimulus.NotComputed}
	c.Command = actuate.Reform
	require.NoError(t, m.Emit(c))
	f, ok := m.Latest()
	require.True(t, ok)
	assert.Nil(t, f.Po)
	assert.Nil(t, f.Stimulus)
	assert.Equal(t, "reform", f.Command)
}

func TestHistoryResets(t *testing.T) {
	m := New(bk(t), rate, 3)
	for i := 0; i < 3; i++ {
		require.NoError(t, m.Emit(cycle(i)))
	}
	assert.Equal(t, 3*rate, m.HistoryLen())
	assert.Len(t, m.Events(), 3)

	require.NoError(t, m.Emit(cycle(3)))
	assert.Equal(t, rate, m.HistoryLen())
	assert.Len(t, m.Events(), 1)
}

func TestTraceWindow(t *testing.T) {
	m := New(bk(t), rate, 0)
	for i := 0; i < 3; i++ {
		require.NoError(t, m.Emit(cycle(i)))
	}
	w := get(t, m, "/trace?seconds=1")
	require.Equal(t, http.StatusOK, w.Code)
	var s Series
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s))
	require.Len(t, s.Time, rate)
	assert.Equal(t, 2., s.Time[0])
	assert.Equal(t, -11.5, s.Value[0])

	w = get(t, m, "/classified")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s))
	assert.Len(t, s.Value, 3*rate)
	assert.Equal(t, 1., s.Value[0])
}

func TestMetrics(t *testing.T) {
	m := New(bk(t), rate, 0)
	c := cycle(0)
	c.Command = actuate.Reform
	require.NoError(t, m.Emit(c))
	require.NoError(t, m.Emit(cycle(1)))

	w := get(t, m, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "bilayer_cycles_total 2")
	assert.Contains(t, body, "bilayer_reform_decisions_total 1")
	assert.Contains(t, body, `bilayer_events_total{kind="dwell"} 2`)
	assert.Contains(t, body, "bilayer_open_probability 0.2")
}

func TestEndpoints(t *testing.T) {
	m := New(bk(t), rate, 0)
	w := get(t, m, "/endpoints")
	var eps []string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &eps))
	assert.Equal(t, []string{"channels", "classified", "events", "feature", "po", "trace"}, eps)
}

func TestChannelsAndPo(t *testing.T) {
	m := New(bk(t), rate, 0)
	assert.Equal(t, http.StatusInternalServerError, get(t, m, "/channels").Code)

	require.NoError(t, m.Emit(cycle(0)))
	w := get(t, m, "/channels")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"int": 1}`, w.Body.String())

	w = get(t, m, "/po")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"f64": 0.2}`, w.Body.String())

	c := cycle(1)
	c.Rupture = true
	c.Channels = trace.Unset
	c.Estimate = stimulus.Estimate{Probability: stimulus.NotComputed}
	require.NoError(t, m.Emit(c))
	assert.JSONEq(t, `{"int": -1}`, get(t, m, "/channels").Body.String())
	assert.Equal(t, http.StatusInternalServerError, get(t, m, "/po").Code)
}
