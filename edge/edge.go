// Package edge implements the averaging + Prewitt edge filter used to localize
// nanopore insertion steps in a current trace.
//
// The kernel is [-1 ... -1, 0, 1 ... 1] of odd width K, applied by direct
// convolution and normalized by K-1.  A clean step of height h therefore
// produces a triangular response peaking at h/2 exactly at the step, which is
// what the edge-triggered tracker looks for.
package edge

import "fmt"

const (
	// DefaultWidth is the kernel width of the reference configuration
	DefaultWidth = 301

	// DefaultTrigger arms the tracker once the filtered value exceeds this
	// fraction of the single-channel current
	DefaultTrigger = 0.15

	// DefaultSettle is the filtered magnitude, in pA, below which the
	// tracker considers a step response finished
	DefaultSettle = 0.5
)

// Config binds the kernel width to the levels the tracker compares the
// filtered signal against.  The filter response to a step lasts one kernel
// width and peaks at half the step height, so Settle is only meaningful for the
// Width it was tuned with; change them together.
type Config struct {
	Width   int     `koanf:"Width" yaml:"Width"`
	Trigger float64 `koanf:"Trigger" yaml:"Trigger"`
	Settle  float64 `koanf:"Settle" yaml:"Settle"`
}

// DefaultConfig returns the reference filter configuration
func DefaultConfig() Config {
	return Config{Width: DefaultWidth, Trigger: DefaultTrigger, Settle: DefaultSettle}
}

// Validate checks the kernel is odd and at least 3 wide and the levels are positive
func (c Config) Validate() error {
	if c.Width < 3 || c.Width%2 == 0 {
		return fmt.Errorf("edge filter width must be odd and >= 3, got %d", c.Width)
	}
	if c.Trigger <= 0 || c.Settle <= 0 {
		return fmt.Errorf("edge filter trigger (%v) and settle (%v) must be positive", c.Trigger, c.Settle)
	}
	return nil
}

// Kernel returns the filter taps for an odd width
func Kernel(width int) []float64 {
	h := make([]float64, width)
	half := (width - 1) / 2
	for i := 0; i < half; i++ {
		h[i] = -1
	}
	for i := half + 1; i < width; i++ {
		h[i] = 1
	}
	return h
}

// Filter convolves x with the kernel of the given width.
//
// Taps reaching before the start of x read from prev, the tail of the previous
// block (its last element adjoins x[0]).  If prev is shorter than the reach,
// the earliest available sample is repeated; with no prev at all x[0] is
// repeated.  Taps past the end of x repeat its last sample.
func Filter(x, prev []float64, width int) []float64 {
	n := len(x)
	y := make([]float64, n)
	if n == 0 {
		return y
	}
	h := Kernel(width)
	half := (width - 1) / 2
	norm := float64(width - 1)
	at := func(tar int) float64 {
		switch {
		case tar >= n:
			return x[n-1]
		case tar >= 0:
			return x[tar]
		case len(prev) == 0:
			return x[0]
		case len(prev)+tar < 0:
			return prev[0]
		default:
			return prev[len(prev)+tar]
		}
	}
	for i := 0; i < n; i++ {
		var acc float64
		for j := 0; j < width; j++ {
			if j == half {
				continue
			}
			acc += at(i+j-half) * h[j]
		}
		y[i] = acc / norm
	}
	return y
}
