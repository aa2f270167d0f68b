// Package session runs the once-per-second acquisition loop.
//
// Each cycle reads one block, classifies it, recalibrates, estimates the
// stimulus, extracts events and decides whether to reform the bilayer, then
// hands a Cycle record to every Sink.  Everything inside a cycle is
// synchronous and no two cycles overlap, so State needs no locking.
package session

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/bilakit/bilayer/actuate"
	"github.com/bilakit/bilayer/calibrate"
	"github.com/bilakit/bilayer/events"
	"github.com/bilakit/bilayer/source"
	"github.com/bilakit/bilayer/stimulus"
	"github.com/bilakit/bilayer/trace"
	"github.com/bilakit/bilayer/tracker"
)

// Actuator receives the cycle's command.  Errors are logged, never acted on.
type Actuator interface {
	Send(actuate.Command) error
}

// Sink consumes cycle records, for files, displays and the monitor
type Sink interface {
	Emit(Cycle) error
}

// SinkFunc adapts a function to a Sink
type SinkFunc func(Cycle) error

// Emit calls f
func (f SinkFunc) Emit(c Cycle) error {
	return f(c)
}

// Cycle is everything one block produced
type Cycle struct {
	// Index is the block index, Time the feature time in whole seconds
	Index int
	Time  int

	Block      trace.SampleBlock
	Classified trace.Classified

	Rupture  bool
	Recovery bool

	// Channels is the block maximum open count, Unset after a rupture
	Channels int

	Estimate stimulus.Estimate
	Display  stimulus.Display

	// Calibration is the snapshot the block was classified with, Next the
	// one the following block will use
	Calibration calibrate.Calibration
	Next        calibrate.Calibration

	Events  events.Result
	Command actuate.Command

	// Live is set when the block came from hardware
	Live bool

	Messages []string
}

// State is the memory carried across cycles of one acquisition
type State struct {
	Tracker      tracker.State
	Calibration  calibrate.Calibration
	Continuation events.Continuation

	// Tail is the end of the previous block's current
	Tail []float64

	// Index is the next block to fetch
	Index int

	// Start is the time of the first sample of the acquisition, NaN until
	// the first block arrives
	Start float64
}

// ResetForNewAcquisition returns s to the start-of-acquisition state for cfg
func (s *State) ResetForNewAcquisition(cfg Config) {
	s.Tracker.Reset()
	s.Calibration = calibrate.New(cfg.CurrentPerChannel, cfg.Baseline, cfg.Calibration.AutoBaseline)
	s.Continuation.Reset()
	s.Tail = nil
	s.Index = 0
	s.Start = math.NaN()
}

// resetAfterRupture forgets everything about the bilayer that tore.  The
// calibration survives, with its baseline correction re-armed.
func (s *State) resetAfterRupture(cfg Config) {
	s.Tracker.Reset()
	s.Continuation.Reset()
	s.Tail = nil
	s.Calibration.BaselineArmed = cfg.Calibration.AutoBaseline
}

// Session owns one acquisition
type Session struct {
	cfg    Config
	src    source.Source
	act    Actuator
	sinks  []Sink
	est    *stimulus.Estimator
	policy actuate.Policy
	st     State
}

// New validates cfg and prepares a session reading from src.  act may be nil
// when no controller is attached.
func New(cfg Config, src source.Source, act Actuator, sinks ...Sink) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid session configuration")
	}
	s := &Session{
		cfg:    cfg,
		src:    src,
		act:    act,
		sinks:  sinks,
		est:    stimulus.NewEstimator(cfg.Preset),
		policy: actuate.NewPolicy(cfg.Preset, cfg.StimulusLimit),
	}
	s.st.ResetForNewAcquisition(cfg)
	return s, nil
}

// State returns a copy of the carried state
func (s *Session) State() State {
	return s.st
}

// Config returns the session configuration
func (s *Session) Config() Config {
	return s.cfg
}

// Reset starts a new acquisition on the same source from block zero
func (s *Session) Reset() {
	s.st.ResetForNewAcquisition(s.cfg)
	s.est.Reset()
}

// Step fetches and processes the next block and emits its record.  Source
// errors are returned unchanged; source.ErrExhausted means the session is over.
func (s *Session) Step() (Cycle, error) {
	blk, err := s.src.Fetch(s.st.Index)
	if err != nil {
		return Cycle{}, err
	}
	if math.IsNaN(s.st.Start) {
		if st, ok := s.src.(source.Starter); ok {
			s.st.Start = st.Start()
		} else if blk.Len() > 0 {
			s.st.Start = blk.Time[0]
		} else {
			s.st.Start = 0
		}
	}
	c := s.process(blk)
	c.Live = source.IsLive(s.src)
	s.st.Index++

	for _, sink := range s.sinks {
		if err := sink.Emit(c); err != nil {
			log.Printf("session: sink error on block %d: %v\n", c.Index, err)
		}
	}
	return c, nil
}

func (s *Session) process(blk trace.SampleBlock) Cycle {
	cfg := s.cfg
	cal := s.st.Calibration
	c := Cycle{
		Index:       s.st.Index,
		Time:        int(math.Round(float64(s.st.Index)+s.st.Start)) + 1,
		Block:       blk,
		Calibration: cal,
	}

	c.Classified = tracker.Classify(&s.st.Tracker, blk, s.st.Tail, tracker.Params{
		Variant:           cfg.Preset.Variant,
		CurrentPerChannel: cal.CurrentPerChannel,
		Baseline:          cal.Baseline,
		RuptureThreshold:  cfg.RuptureThreshold,
		Edge:              cfg.Edge,
	})
	c.Rupture = s.st.Tracker.Rupture
	c.Recovery = s.st.Tracker.Recovery
	c.Channels = c.Classified.Max
	if c.Rupture {
		c.Channels = trace.Unset
	}

	if !c.Rupture {
		rep := calibrate.Apply(cal, blk, c.Classified, cfg.Calibration)
		s.st.Calibration = rep.Result
		if rep.Updated() {
			c.Messages = append(c.Messages, rep.Message())
		}
	}
	c.Next = s.st.Calibration

	c.Estimate = s.est.Estimate(stimulus.OpenProbability(c.Classified, c.Rupture))
	c.Display = stimulus.Format(c.Estimate, cfg.Preset.Quantity)

	ep := events.DefaultParams(cfg.Extraction, cal.CurrentPerChannel)
	ep.BiasVoltage = cfg.BiasVoltage
	c.Events = events.Extract(&s.st.Continuation, blk, c.Classified, s.st.Tail, c.Recovery, ep)
	c.Messages = append(c.Messages, c.Events.Messages...)
	if c.Rupture && !c.Events.Ruptured {
		c.Messages = append(c.Messages, "Rupture detected")
	}

	c.Command = s.policy.Decide(actuate.Observation{
		Ruptured:      c.Rupture,
		Recovering:    c.Recovery,
		Channels:      c.Classified.Max,
		Stimulus:      c.Estimate.Value,
		StimulusValid: c.Estimate.Valid,
	})
	if c.Command != actuate.None && s.act != nil {
		if err := s.act.Send(c.Command); err != nil {
			log.Printf("session: %s not sent: %v\n", c.Command, err)
		} else {
			c.Messages = append(c.Messages, "Reforming bilayer")
		}
	}

	if c.Rupture {
		s.st.resetAfterRupture(cfg)
	} else {
		s.st.Tail = blk.Tail(cfg.tailLength())
	}
	return c
}

// Run steps until the source is exhausted or ctx is done, one block per
// Period.  A cycle in progress always completes.  Exhaustion and
// cancellation return nil; any other source error is returned.
func (s *Session) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if s.cfg.Period > 0 {
		t := time.NewTicker(s.cfg.Period)
		defer t.Stop()
		tick = t.C
	}
	for {
		if tick != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-tick:
			}
		} else if ctx.Err() != nil {
			return nil
		}
		_, err := s.Step()
		if err != nil {
			if errors.Is(err, source.ErrExhausted) {
				log.Printf("session: source exhausted after %d blocks\n", s.st.Index)
				return nil
			}
			return errors.Wrapf(err, "block %d", s.st.Index)
		}
	}
}
