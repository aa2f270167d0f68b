package source

import (
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.bug.st/serial"

	"github.com/bilakit/bilayer/comm"
	"github.com/bilakit/bilayer/trace"
)

// DefaultDigitizerBaud is used when a serial digitizer has no configured rate
const DefaultDigitizerBaud = 921600

// Stream reads a digitizer that prints one sample per line, either the
// current alone or "time,current".  Timestamps are synthesized from the block
// index and the sample position, since the digitizer clock is the sample
// clock.
//
// A Stream is read by one goroutine.
type Stream struct {
	rd   *comm.RemoteDevice
	n    int
	done bool
}

// NewStream reads n-sample blocks from an open device
func NewStream(rd *comm.RemoteDevice, n int) *Stream {
	return &Stream{rd: rd, n: n}
}

// Dial opens a digitizer on a serial device or a host:port bridge
func Dial(addr string, baud int, n int) (*Stream, error) {
	if comm.IsTCP(addr) {
		rd := comm.NewRemoteDevice(addr, nil)
		if err := rd.Open(); err != nil {
			return nil, &DeviceError{Op: "dial digitizer", Err: err}
		}
		return NewStream(rd, n), nil
	}
	if baud == 0 {
		baud = DefaultDigitizerBaud
	}
	port, err := serial.Open(addr, &serial.Mode{BaudRate: baud, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit})
	if err != nil {
		return nil, &DeviceError{Op: "open digitizer", Err: errors.Wrap(err, addr)}
	}
	return NewStream(comm.Adopt(addr, port), n), nil
}

// Fetch reads the next n samples.  Blocks are consumed in order; idx only
// stamps the block in time.
func (s *Stream) Fetch(idx int) (trace.SampleBlock, error) {
	blk := trace.SampleBlock{Time: make([]float64, s.n), Current: make([]float64, s.n)}
	for k := 0; k < s.n; {
		if s.done {
			if k == 0 {
				return trace.SampleBlock{}, ErrExhausted
			}
			return trace.SampleBlock{}, &DeviceError{Op: "read digitizer", Err: io.ErrUnexpectedEOF}
		}
		buf, err := s.rd.Recv()
		switch {
		case err == io.EOF:
			s.done = true
			continue
		case errors.Is(err, comm.ErrTerminatorNotFound):
			// last line of the stream, still a sample
			s.done = true
		case err != nil:
			return trace.SampleBlock{}, &DeviceError{Op: "read digitizer", Err: err}
		}
		line := strings.TrimSpace(string(buf))
		if line == "" {
			continue
		}
		if i := strings.LastIndexByte(line, ','); i >= 0 {
			line = line[i+1:]
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(line), 64)
		if err != nil {
			return trace.SampleBlock{}, &DeviceError{Op: "read digitizer", Err: err}
		}
		blk.Time[k] = float64(idx) + float64(k)/float64(s.n)
		blk.Current[k] = v
		k++
	}
	return blk, nil
}

// Live is true, the raw trace is persisted
func (s *Stream) Live() bool {
	return true
}

// Close releases the device
func (s *Stream) Close() error {
	return s.rd.Close()
}
