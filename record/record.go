// Package record writes the per-session CSV files.
//
// Three files share a timestamped prefix under the log directory:
//
//	20260101-120000-BK-Processed.csv      one row per block
//	20260101-120000-BK-POSTProcessed.csv  one row per extracted event
//	20260101-120000-BK-Raw.csv            every sample, hardware sources only
//
// Undefined values are written as #N/A so spreadsheets import them as gaps.
package record

import (
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/bilakit/bilayer/events"
	"github.com/bilakit/bilayer/mathx"
	"github.com/bilakit/bilayer/protein"
	"github.com/bilakit/bilayer/session"
)

// NA marks an undefined value
const NA = "#N/A"

// RawHeader is the column layout of the raw file
var RawHeader = []string{"time [s]", "current [pA]"}

// Files are the paths of one session's files
type Files struct {
	Processed string
	Post      string
	Raw       string
}

// Names returns the file paths for a session started at t
func Names(dir string, t time.Time, tag string) Files {
	prefix := filepath.Join(dir, t.Format("20060102-150405")+"-"+tag+"-")
	return Files{
		Processed: prefix + "Processed.csv",
		Post:      prefix + "POSTProcessed.csv",
		Raw:       prefix + "Raw.csv",
	}
}

type file struct {
	f *os.File
	w *csv.Writer
}

func create(path string, header []string) (*file, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return nil, err
	}
	return &file{f: f, w: w}, nil
}

func (f *file) close() error {
	if f == nil {
		return nil
	}
	f.w.Flush()
	err := f.w.Error()
	if cerr := f.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// Recorder is a session.Sink writing the session files
type Recorder struct {
	Files Files

	preset protein.Preset
	mode   events.Mode

	processed, post, raw *file
}

// Create makes dir if needed and opens the session files with their headers.
// The event file is only created when mode extracts events, the raw file only
// when live is set.
func Create(dir string, t time.Time, p protein.Preset, mode events.Mode, live bool) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating log directory")
	}
	r := &Recorder{Files: Names(dir, t, p.Tag), preset: p, mode: mode}
	var err error
	if r.processed, err = create(r.Files.Processed, p.ProcessedHeader()); err != nil {
		return nil, errors.Wrap(err, "creating processed file")
	}
	if mode != events.None {
		if r.post, err = create(r.Files.Post, mode.Header()); err != nil {
			r.Close()
			return nil, errors.Wrap(err, "creating event file")
		}
	}
	if live {
		if r.raw, err = create(r.Files.Raw, RawHeader); err != nil {
			r.Close()
			return nil, errors.Wrap(err, "creating raw file")
		}
	}
	return r, nil
}

func ftoa(x float64) string {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return NA
	}
	return strconv.FormatFloat(x, 'f', 6, 64)
}

func round2(x float64) string {
	return strconv.FormatFloat(mathx.Round(x, 0.01), 'f', 2, 64)
}

// FeatureRow formats the processed-file row of one cycle
func FeatureRow(p protein.Preset, c session.Cycle) []string {
	row := []string{strconv.Itoa(c.Time)}
	if p.Quantity == protein.NoStimulus {
		if c.Rupture || c.Channels < 0 {
			return append(row, NA)
		}
		return append(row, strconv.Itoa(c.Channels))
	}

	cols := len(p.ProcessedHeader()) - 1
	if !c.Estimate.Valid {
		for i := 0; i < cols; i++ {
			row = append(row, NA)
		}
		return row
	}
	row = append(row, ftoa(c.Estimate.Probability), ftoa(c.Estimate.Value))
	if p.HasBounds() {
		row = append(row, ftoa(c.Estimate.Lower), ftoa(c.Estimate.Upper), ftoa(c.Estimate.Mean))
	}
	return row
}

// EventRows formats the event-file rows of one cycle
func EventRows(c session.Cycle) [][]string {
	var rows [][]string
	for _, d := range c.Events.Dwells {
		rows = append(rows, []string{round2(d.Start), round2(d.Duration)})
	}
	for _, j := range c.Events.Conductance {
		rows = append(rows, []string{round2(j.Time), round2(j.Value)})
	}
	return rows
}

// Emit appends the cycle to the files and flushes them
func (r *Recorder) Emit(c session.Cycle) error {
	if err := r.processed.w.Write(FeatureRow(r.preset, c)); err != nil {
		return err
	}
	r.processed.w.Flush()
	if err := r.processed.w.Error(); err != nil {
		return errors.Wrap(err, "writing processed file")
	}

	if r.post != nil {
		if err := r.post.w.WriteAll(EventRows(c)); err != nil {
			return errors.Wrap(err, "writing event file")
		}
	}

	if r.raw != nil && c.Live {
		for i := range c.Block.Current {
			if err := r.raw.w.Write([]string{ftoa(c.Block.Time[i]), ftoa(c.Block.Current[i])}); err != nil {
				return err
			}
		}
		r.raw.w.Flush()
		if err := r.raw.w.Error(); err != nil {
			return errors.Wrap(err, "writing raw file")
		}
	}
	return nil
}

// Close flushes and closes every file
func (r *Recorder) Close() error {
	var first error
	for _, f := range []*file{r.processed, r.post, r.raw} {
		if err := f.close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
