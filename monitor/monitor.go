// Package monitor serves a read-only live view of the acquisition over HTTP
// and exports Prometheus metrics.
//
// Routes, all GET:
//
//	/feature     the latest cycle summary
//	/channels    the latest open channel count, {"int": n}
//	/po          the latest open probability, {"f64": p}
//	/events      events extracted since the last history reset
//	/trace       recent raw current, ?seconds=N (default 10)
//	/classified  recent open-count series, same query
//	/endpoints   the list above
//	/metrics     Prometheus exposition
package monitor

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bilakit/bilayer/actuate"
	"github.com/bilakit/bilayer/protein"
	"github.com/bilakit/bilayer/server"
	"github.com/bilakit/bilayer/session"
)

// DefaultHistoryCycles is how many cycles of history are kept before it is cleared
const DefaultHistoryCycles = 240

// Feature is the JSON summary of one cycle
type Feature struct {
	Time     int      `json:"time"`
	Channels int      `json:"channels"`
	Rupture  bool     `json:"rupture"`
	Recovery bool     `json:"recovery"`
	Po       *float64 `json:"opProb"`
	Stimulus *float64 `json:"stimulus"`
	Display  string   `json:"display"`
	Baseline float64  `json:"baseline"`
	CPC      float64  `json:"currentPerChannel"`
	Command  string   `json:"command"`
	Messages []string `json:"messages"`
}

// Event is one extracted event in JSON form
type Event struct {
	Kind  string  `json:"kind"`
	Time  float64 `json:"time"`
	Value float64 `json:"value"`
}

// Series is a window of samples
type Series struct {
	Time  []float64 `json:"time"`
	Value []float64 `json:"value"`
}

type metrics struct {
	channels    prometheus.Gauge
	po          prometheus.Gauge
	stimulus    prometheus.Gauge
	baseline    prometheus.Gauge
	cpc         prometheus.Gauge
	cycles      prometheus.Counter
	ruptures    prometheus.Counter
	decisions   prometheus.Counter
	eventsTotal *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) metrics {
	m := metrics{
		channels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bilayer", Name: "open_channels",
			Help: "Maximum open channel count of the latest block, -1 after a rupture.",
		}),
		po: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bilayer", Name: "open_probability",
			Help: "Open probability of the latest block.",
		}),
		stimulus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bilayer", Name: "stimulus",
			Help: "Latest stimulus estimate, mV or log10 M depending on the preset.",
		}),
		baseline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bilayer", Name: "baseline_picoamps",
			Help: "Baseline current in use.",
		}),
		cpc: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bilayer", Name: "current_per_channel_picoamps",
			Help: "Single channel current in use.",
		}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bilayer", Name: "cycles_total",
			Help: "Blocks processed.",
		}),
		ruptures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bilayer", Name: "ruptures_total",
			Help: "Blocks in which the bilayer ruptured.",
		}),
		decisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bilayer", Name: "reform_decisions_total",
			Help: "Cycles that decided to reform, whether or not a controller carried it out.",
		}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bilayer", Name: "events_total",
			Help: "Single-molecule events extracted.",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.channels, m.po, m.stimulus, m.baseline, m.cpc, m.cycles, m.ruptures, m.decisions, m.eventsTotal)
	return m
}

// Monitor is a session.Sink holding bounded presentation history.  It is
// safe for concurrent use by the acquisition loop and HTTP handlers.
type Monitor struct {
	preset  protein.Preset
	every   int
	rate    int
	reg     *prometheus.Registry
	metrics metrics

	mu         sync.RWMutex
	cycles     int
	last       *Feature
	events     []Event
	time       []float64
	current    []float64
	classified []float64
}

// New returns a monitor that clears its history every historyCycles cycles.
// sampleRate sizes the trace windows.
func New(p protein.Preset, sampleRate, historyCycles int) *Monitor {
	if historyCycles <= 0 {
		historyCycles = DefaultHistoryCycles
	}
	reg := prometheus.NewRegistry()
	return &Monitor{
		preset:  p,
		every:   historyCycles,
		rate:    sampleRate,
		reg:     reg,
		metrics: newMetrics(reg),
	}
}

func feature(c session.Cycle) Feature {
	f := Feature{
		Time:     c.Time,
		Channels: c.Channels,
		Rupture:  c.Rupture,
		Recovery: c.Recovery,
		Display:  c.Display.Stimulus,
		Baseline: c.Next.Baseline,
		CPC:      c.Next.CurrentPerChannel,
		Command:  c.Command.String(),
		Messages: c.Messages,
	}
	if c.Estimate.Probability >= 0 {
		po := c.Estimate.Probability
		f.Po = &po
	}
	if c.Estimate.Valid {
		v := c.Estimate.Value
		f.Stimulus = &v
	}
	return f
}

// Emit implements session.Sink
func (m *Monitor) Emit(c session.Cycle) error {
	f := feature(c)

	m.metrics.cycles.Inc()
	m.metrics.channels.Set(float64(c.Channels))
	m.metrics.baseline.Set(f.Baseline)
	m.metrics.cpc.Set(f.CPC)
	if f.Po != nil {
		m.metrics.po.Set(*f.Po)
	}
	if f.Stimulus != nil {
		m.metrics.stimulus.Set(*f.Stimulus)
	}
	if c.Rupture {
		m.metrics.ruptures.Inc()
	}
	if c.Command == actuate.Reform {
		m.metrics.decisions.Inc()
	}
	m.metrics.eventsTotal.WithLabelValues("dwell").Add(float64(len(c.Events.Dwells)))
	m.metrics.eventsTotal.WithLabelValues("conductance").Add(float64(len(c.Events.Conductance)))

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cycles > 0 && m.cycles%m.every == 0 {
		m.events = nil
		m.time = nil
		m.current = nil
		m.classified = nil
	}
	m.cycles++
	m.last = &f
	for _, d := range c.Events.Dwells {
		m.events = append(m.events, Event{Kind: "dwell", Time: d.Start, Value: d.Duration})
	}
	for _, j := range c.Events.Conductance {
		m.events = append(m.events, Event{Kind: "conductance", Time: j.Time, Value: j.Value})
	}
	m.time = append(m.time, c.Block.Time...)
	m.current = append(m.current, c.Block.Current...)
	for _, k := range c.Classified.Open {
		m.classified = append(m.classified, float64(k))
	}
	return nil
}

// Latest returns the most recent cycle summary
func (m *Monitor) Latest() (Feature, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.last == nil {
		return Feature{}, false
	}
	return *m.last, true
}

// Events returns the events since the last history reset
func (m *Monitor) Events() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// HistoryLen returns the number of samples held
func (m *Monitor) HistoryLen() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.current)
}

func (m *Monitor) window(classified bool, seconds int) Series {
	m.mu.RLock()
	defer m.mu.RUnlock()
	values := m.current
	if classified {
		values = m.classified
	}
	n := seconds * m.rate
	if n > len(values) || n <= 0 {
		n = len(values)
	}
	lo := len(values) - n
	s := Series{Time: make([]float64, n), Value: make([]float64, n)}
	copy(s.Time, m.time[lo:])
	copy(s.Value, values[lo:])
	return s
}

func seconds(r *http.Request) int {
	s, err := strconv.Atoi(r.URL.Query().Get("seconds"))
	if err != nil || s <= 0 {
		return 10
	}
	return s
}

// RT returns the monitor's routes
func (m *Monitor) RT() server.RouteTable {
	return server.RouteTable{
		"feature": server.GetJSON(func() (interface{}, error) {
			f, ok := m.Latest()
			if !ok {
				return nil, errors.New("no block processed yet")
			}
			return f, nil
		}),
		"channels": server.GetInt(func() (int, error) {
			f, ok := m.Latest()
			if !ok {
				return 0, errors.New("no block processed yet")
			}
			return f.Channels, nil
		}),
		"po": server.GetFloat(func() (float64, error) {
			f, ok := m.Latest()
			if !ok {
				return 0, errors.New("no block processed yet")
			}
			if f.Po == nil {
				return 0, errors.New("open probability not computed for the latest block")
			}
			return *f.Po, nil
		}),
		"events": func(w http.ResponseWriter, r *http.Request) {
			server.ReplyJSON(w, m.Events())
		},
		"trace": func(w http.ResponseWriter, r *http.Request) {
			server.ReplyJSON(w, m.window(false, seconds(r)))
		},
		"classified": func(w http.ResponseWriter, r *http.Request) {
			server.ReplyJSON(w, m.window(true, seconds(r)))
		},
	}
}

// Handler returns the HTTP handler for every route
func (m *Monitor) Handler() http.Handler {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	m.RT().Bind(root)
	root.Handle("/metrics", promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))
	return root
}

// ListenAndServe serves the monitor on addr until ctx is done
func (m *Monitor) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: m.Handler()}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	}
}
