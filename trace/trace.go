// Package trace holds the per-second sample and classification blocks that
// flow through the acquisition loop.
package trace

// Unset marks a sample whose open count was not computed, either because the
// block was abandoned after a rupture or because the tracker was never run on it.
const Unset = -1

// DefaultSampleRate is the amplifier rate used by the reference rig, in Hz.
const DefaultSampleRate = 5000

// SampleBlock is one second of raw current.  Time is in seconds, Current in pA.
// A block is immutable once handed to the pipeline.
type SampleBlock struct {
	Time    []float64
	Current []float64
}

// Len returns the number of samples in the block
func (b SampleBlock) Len() int {
	return len(b.Current)
}

// Last returns the final current sample, or zero for an empty block
func (b SampleBlock) Last() float64 {
	if len(b.Current) == 0 {
		return 0
	}
	return b.Current[len(b.Current)-1]
}

// Tail returns a copy of the last n currents of the block (fewer if the block
// is shorter).
func (b SampleBlock) Tail(n int) []float64 {
	if n > len(b.Current) {
		n = len(b.Current)
	}
	out := make([]float64, n)
	copy(out, b.Current[len(b.Current)-n:])
	return out
}

// Classified is the open-channel count series derived from a SampleBlock.
type Classified struct {
	// Open holds the open count at each sample, Unset where not computed
	Open []int

	// Max is the largest open count seen this block, Unset if none was computed
	Max int
}

// NewClassified returns a block of n samples all set to Unset
func NewClassified(n int) Classified {
	open := make([]int, n)
	for i := range open {
		open[i] = Unset
	}
	return Classified{Open: open, Max: Unset}
}

// Count returns how many samples have exactly k channels open
func (c Classified) Count(k int) int {
	n := 0
	for _, v := range c.Open {
		if v == k {
			n++
		}
	}
	return n
}

// Final returns the open count of the last sample, or Unset for an empty block
func (c Classified) Final() int {
	if len(c.Open) == 0 {
		return Unset
	}
	return c.Open[len(c.Open)-1]
}
