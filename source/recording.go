package source

import (
	"bufio"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/snksoft/crc"

	"github.com/bilakit/bilayer/trace"
)

// atfHeaderLines is the fixed preamble of an Axon Text File export
const atfHeaderLines = 10

var crcTable = crc.NewTable(crc.CRC32)

// Format describes the layout of a recording
type Format struct {
	Kind Kind

	// Millis marks the time column as milliseconds, as Clampfit's Transfer
	// Traces writes it.  Only meaningful for CSV.
	Millis bool

	// Header skips one line before the data.  Only meaningful for CSV; ATF
	// always carries a fixed preamble.
	Header bool
}

// Info describes a loaded recording
type Info struct {
	Rows  int
	Start float64

	// CRC is the CRC-32 of the file contents, logged so an analysis can be
	// traced to the exact recording
	CRC uint32
}

// Slice is an in-memory recording.  It is safe for concurrent reads.
type Slice struct {
	time    []float64
	current []float64
	n       int
	live    bool
}

// NewSlice wraps time and current, which must have equal length, as a
// source of n-sample blocks
func NewSlice(time, current []float64, n int) *Slice {
	return &Slice{time: time, current: current, n: n}
}

// Fetch returns samples [idx*n, (idx+1)*n).  A trailing partial block is
// never delivered.
func (s *Slice) Fetch(idx int) (trace.SampleBlock, error) {
	if idx < 0 || (idx+1)*s.n > len(s.current) {
		return trace.SampleBlock{}, ErrExhausted
	}
	lo, hi := idx*s.n, (idx+1)*s.n
	return trace.SampleBlock{Time: s.time[lo:hi:hi], Current: s.current[lo:hi:hi]}, nil
}

// Start returns the time of the first sample, zero for an empty recording
func (s *Slice) Start() float64 {
	if len(s.time) == 0 {
		return 0
	}
	return s.time[0]
}

// Blocks returns the number of complete blocks
func (s *Slice) Blocks() int {
	if s.n == 0 {
		return 0
	}
	return len(s.current) / s.n
}

// Live is false; recordings are already on disk
func (s *Slice) Live() bool {
	return s.live
}

type crcWriter struct {
	sum uint64
}

func (w *crcWriter) Write(p []byte) (int, error) {
	w.sum = crcTable.UpdateCrc(w.sum, p)
	return len(p), nil
}

// Load reads the recording at path
func Load(path string, f Format, n int) (*Slice, Info, error) {
	fid, err := os.Open(path)
	if err != nil {
		return nil, Info{}, &DeviceError{Op: "open recording", Err: err}
	}
	defer fid.Close()
	return Parse(fid, f, n)
}

// Parse reads a recording from r.  Column one is time, column two current
// in pA; further columns are ignored.
func Parse(r io.Reader, f Format, n int) (*Slice, Info, error) {
	w := &crcWriter{sum: crcTable.InitCrc()}
	br := bufio.NewReader(io.TeeReader(r, w))

	skip := 0
	comma := ','
	scale := 1.
	switch f.Kind {
	case ATF:
		skip = atfHeaderLines
		comma = '\t'
	case CSV:
		if f.Header {
			skip = 1
		}
		if f.Millis {
			scale = 0.001
		}
	default:
		return nil, Info{}, errors.Errorf("cannot parse recording of kind %q", f.Kind)
	}
	for i := 0; i < skip; i++ {
		if _, err := br.ReadString('\n'); err != nil {
			return nil, Info{}, &DeviceError{Op: "read header", Err: err}
		}
	}

	cr := csv.NewReader(br)
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	var t, c []float64
	for line := skip + 1; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, Info{}, &DeviceError{Op: "parse recording", Err: err}
		}
		if len(rec) < 2 {
			continue
		}
		tv, err := strconv.ParseFloat(strings.TrimSpace(rec[0]), 64)
		if err != nil {
			return nil, Info{}, &DeviceError{Op: "parse recording", Err: errors.Wrapf(err, "line %d time", line)}
		}
		cv, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if err != nil {
			return nil, Info{}, &DeviceError{Op: "parse recording", Err: errors.Wrapf(err, "line %d current", line)}
		}
		t = append(t, tv*scale)
		c = append(c, cv)
	}
	// drain so the checksum covers the whole file
	if _, err := io.Copy(io.Discard, br); err != nil {
		return nil, Info{}, &DeviceError{Op: "read recording", Err: err}
	}

	s := NewSlice(t, c, n)
	info := Info{Rows: len(c), Start: s.Start(), CRC: crcTable.CRC32(w.sum)}
	return s, info, nil
}
