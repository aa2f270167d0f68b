package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/theckman/yacspin"

	"github.com/bilakit/bilayer/calibrate"
	"github.com/bilakit/bilayer/edge"
	"github.com/bilakit/bilayer/events"
	"github.com/bilakit/bilayer/monitor"
	"github.com/bilakit/bilayer/protein"
	"github.com/bilakit/bilayer/record"
	"github.com/bilakit/bilayer/session"
	"github.com/bilakit/bilayer/source"
	"github.com/bilakit/bilayer/stepper"
	"github.com/bilakit/bilayer/trace"
	"github.com/bilakit/bilayer/tracker"
)

// ActuatorSetup describes the stepper controller.
type ActuatorSetup struct {
	// Addr is a serial device, a host:port bridge, or "auto" to search the
	// USB ports for the board
	Addr string `koanf:"Addr" yaml:"Addr"`

	// Auto enables automatic reform commands from the acquisition loop
	Auto bool `koanf:"Auto" yaml:"Auto"`

	Baud int `koanf:"Baud" yaml:"Baud"`

	// Cooldown is the minimum time between two reform strokes, 0 for none
	Cooldown time.Duration `koanf:"Cooldown" yaml:"Cooldown"`
}

// Bounds holds the optional confidence-bound sigmoids.
type Bounds struct {
	Lower protein.Sigmoid `koanf:"Lower" yaml:"Lower"`
	Upper protein.Sigmoid `koanf:"Upper" yaml:"Upper"`
}

// MonitorSetup configures the read-only HTTP monitor.
type MonitorSetup struct {
	// Addr is the listen address, empty disables the monitor
	Addr string `koanf:"Addr" yaml:"Addr"`

	// HistoryCycles is how many cycles of trace history are kept before it is cleared
	HistoryCycles int `koanf:"HistoryCycles" yaml:"HistoryCycles"`
}

// Config is the structure of bilayerd.yml.
type Config struct {
	// Preset is nanopore, bk or or8
	Preset protein.Kind `koanf:"Preset" yaml:"Preset"`

	// SampleRate is the digitizer rate and block size, in Hz
	SampleRate int `koanf:"SampleRate" yaml:"SampleRate"`

	// CurrentPerChannel is the single channel current in pA, signed with the
	// bias polarity.  0 uses the preset's value.
	CurrentPerChannel float64 `koanf:"CurrentPerChannel" yaml:"CurrentPerChannel"`

	// BiasVoltage is the holding voltage in mV used for conductance
	BiasVoltage float64 `koanf:"BiasVoltage" yaml:"BiasVoltage"`

	// Baseline is the initial all-closed current in pA
	Baseline float64 `koanf:"Baseline" yaml:"Baseline"`

	// RuptureThreshold is the current magnitude in pA that means the bilayer tore
	RuptureThreshold float64 `koanf:"RuptureThreshold" yaml:"RuptureThreshold"`

	// Extraction is none, dwell or jump
	Extraction events.Mode `koanf:"Extraction" yaml:"Extraction"`

	AutoBaseline    bool `koanf:"AutoBaseline" yaml:"AutoBaseline"`
	AutoConductance bool `koanf:"AutoConductance" yaml:"AutoConductance"`
	MinPopulation   int  `koanf:"MinPopulation" yaml:"MinPopulation"`

	// Edge tunes the nanopore step detector
	Edge edge.Config `koanf:"Edge" yaml:"Edge"`

	// Period paces the loop, 0 processes a recording as fast as possible
	Period time.Duration `koanf:"Period" yaml:"Period"`

	Source   source.Config `koanf:"Source" yaml:"Source"`
	Actuator ActuatorSetup `koanf:"Actuator" yaml:"Actuator"`

	// StimulusLimit reforms the bilayer when the stimulus estimate exceeds it
	StimulusLimit *float64 `koanf:"StimulusLimit" yaml:"StimulusLimit,omitempty"`

	Bounds *Bounds `koanf:"Bounds" yaml:"Bounds,omitempty"`

	// LogDir receives the CSV files
	LogDir string `koanf:"LogDir" yaml:"LogDir"`

	Monitor MonitorSetup `koanf:"Monitor" yaml:"Monitor"`
}

// DefaultConfig is the configuration used when no file overrides it.
func DefaultConfig() Config {
	cal := calibrate.DefaultSettings()
	return Config{
		Preset:           protein.Nanopore,
		SampleRate:       trace.DefaultSampleRate,
		BiasVoltage:      events.DefaultBiasVoltage,
		RuptureThreshold: tracker.DefaultRuptureThreshold,
		Extraction:       events.None,
		AutoBaseline:     cal.AutoBaseline,
		AutoConductance:  cal.AutoConductance,
		MinPopulation:    cal.MinPopulation,
		Edge:             edge.DefaultConfig(),
		Period:           time.Second,
		Source:           source.Config{Kind: source.ATF, Header: true, Baud: source.DefaultDigitizerBaud},
		Actuator:         ActuatorSetup{Baud: stepper.DefaultBaud},
		LogDir:           "log",
		Monitor:          MonitorSetup{HistoryCycles: monitor.DefaultHistoryCycles},
	}
}

// decoderConfig decodes durations from strings like "1s" and enum names
// through their UnmarshalText methods.
func decoderConfig(out interface{}) *mapstructure.DecoderConfig {
	return &mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.TextUnmarshallerHookFunc()),
		Metadata:         nil,
		Result:           out,
		TagName:          "koanf",
		WeaklyTypedInput: true,
	}
}

// Session converts the file configuration to the acquisition configuration.
func (c Config) Session() (session.Config, error) {
	p, err := protein.Lookup(c.Preset)
	if err != nil {
		return session.Config{}, err
	}
	if c.Bounds != nil {
		p = p.WithBounds(c.Bounds.Lower, c.Bounds.Upper)
	}
	s := session.DefaultConfig(p)
	s.SampleRate = c.SampleRate
	if c.CurrentPerChannel != 0 {
		s.CurrentPerChannel = c.CurrentPerChannel
	}
	s.BiasVoltage = c.BiasVoltage
	s.Baseline = c.Baseline
	s.RuptureThreshold = c.RuptureThreshold
	s.Extraction = c.Extraction
	s.Calibration.AutoBaseline = c.AutoBaseline
	s.Calibration.AutoConductance = c.AutoConductance
	s.Calibration.MinPopulation = c.MinPopulation
	s.Edge = c.Edge
	s.StimulusLimit = c.StimulusLimit
	s.Period = c.Period
	return s, s.Validate()
}

// openSource opens the configured source, with a spinner while a recording
// is parsed.
func openSource(c Config, w io.Writer) (source.Source, error) {
	if c.Source.Kind != source.ATF && c.Source.Kind != source.CSV {
		return source.Open(c.Source, c.SampleRate)
	}
	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[11],
		Suffix:            " ",
		Message:           "loading " + c.Source.Addr,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
		Writer:            w,
	})
	if err != nil {
		return nil, err
	}
	_ = spinner.Start()
	s, info, err := source.Load(c.Source.Addr, source.Format{Kind: c.Source.Kind, Millis: c.Source.Millis, Header: c.Source.Header}, c.SampleRate)
	if err != nil {
		spinner.StopFailMessage(err.Error())
		_ = spinner.StopFail()
		return nil, err
	}
	spinner.StopMessage(fmt.Sprintf("%d samples, %d blocks, crc32 %08x", info.Rows, s.Blocks(), info.CRC))
	_ = spinner.Stop()
	log.Printf("loaded %s: %d samples starting at %gs, crc32 %08x\n", c.Source.Addr, info.Rows, info.Start, info.CRC)
	return s, nil
}

// openActuator returns the stepper controller, or a logging stand-in when
// automatic actuation is off or the board cannot be reached.
func openActuator(c Config) (session.Actuator, func() error) {
	if !c.Actuator.Auto {
		return stepper.Logger{}, func() error { return nil }
	}
	ctl, err := stepper.Open(c.Actuator.Addr, c.Actuator.Baud, c.Actuator.Cooldown)
	if err != nil {
		log.Printf("stepper controller unavailable, reform commands will only be logged: %v\n", err)
		return stepper.Logger{}, func() error { return nil }
	}
	return ctl, ctl.Close
}

// runSession wires a session from c and runs it until the source ends or ctx is done.
func runSession(ctx context.Context, c Config) error {
	sc, err := c.Session()
	if err != nil {
		return err
	}
	src, err := openSource(c, os.Stderr)
	if err != nil {
		return err
	}
	if cl, ok := src.(io.Closer); ok {
		defer cl.Close()
	}

	act, closeAct := openActuator(c)
	defer closeAct()

	rec, err := record.Create(c.LogDir, time.Now(), sc.Preset, sc.Extraction, source.IsLive(src))
	if err != nil {
		return err
	}
	defer rec.Close()
	log.Println("recording to", rec.Files.Processed)

	sinks := []session.Sink{rec, session.Console{Out: os.Stdout, Preset: sc.Preset}}
	if c.Monitor.Addr != "" {
		mon := monitor.New(sc.Preset, sc.SampleRate, c.Monitor.HistoryCycles)
		sinks = append(sinks, mon)
		go func() {
			log.Println("monitor listening at", c.Monitor.Addr)
			if err := mon.ListenAndServe(ctx, c.Monitor.Addr); err != nil {
				log.Println("monitor stopped:", err)
			}
		}()
	}

	s, err := session.New(sc, src, act, sinks...)
	if err != nil {
		return err
	}
	return errors.Wrap(s.Run(ctx), "acquisition")
}
