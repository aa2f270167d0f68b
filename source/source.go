// Package source delivers one-second sample blocks to the acquisition loop,
// from a recording on disk or from a streaming digitizer.
package source

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/bilakit/bilayer/trace"
)

// ErrExhausted ends a session cleanly: the recording has no further full block
var ErrExhausted = errors.New("source exhausted")

// DeviceError is any failure other than exhaustion.  It is surfaced to the
// operator and never retried.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("source: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Source yields the block with the given index.  Indices increase by one per
// cycle, starting from zero.
type Source interface {
	Fetch(idx int) (trace.SampleBlock, error)
}

// Live is implemented by sources backed by hardware, whose raw samples are
// worth persisting
type Live interface {
	Live() bool
}

// IsLive reports whether s streams from hardware
func IsLive(s Source) bool {
	l, ok := s.(Live)
	return ok && l.Live()
}

// Starter is implemented by sources that know the time of their first sample
type Starter interface {
	Start() float64
}

// Kind names a source type in configuration
type Kind string

const (
	ATF    Kind = "atf"
	CSV    Kind = "csv"
	Serial Kind = "serial"
	TCP    Kind = "tcp"
)

// Config selects and parameterizes a source
type Config struct {
	// Kind is atf, csv, serial or tcp
	Kind Kind `koanf:"Kind" yaml:"Kind"`

	// Addr is a file path, serial device or host:port
	Addr string `koanf:"Addr" yaml:"Addr"`

	// Millis marks the CSV time column as milliseconds
	Millis bool `koanf:"Millis" yaml:"Millis"`

	// Header skips the first CSV line
	Header bool `koanf:"Header" yaml:"Header"`

	// Baud is the serial digitizer line rate
	Baud int `koanf:"Baud" yaml:"Baud"`
}

// Validate checks the kind and address
func (c Config) Validate() error {
	switch Kind(strings.ToLower(string(c.Kind))) {
	case ATF, CSV, Serial, TCP:
	default:
		return fmt.Errorf("unknown source kind %q, expected atf, csv, serial or tcp", c.Kind)
	}
	if c.Addr == "" {
		return errors.New("source address is empty")
	}
	return nil
}

// Open builds the source described by c with n samples per block
func Open(c Config, n int) (Source, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	kind := Kind(strings.ToLower(string(c.Kind)))
	switch kind {
	case ATF, CSV:
		s, _, err := Load(c.Addr, Format{Kind: kind, Millis: c.Millis, Header: c.Header}, n)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		s, err := Dial(c.Addr, c.Baud, n)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}
