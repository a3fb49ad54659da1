package filter

import "math"

// Taper applies a cosine-half window ramping from 0 to 1 over the first
// Length seconds of continuous data, used by the gain/baseline corrector
// immediately after a reset.
type Taper struct {
	length float64 // seconds
	fs     float64
	n      int // samples remaining in the ramp
	total  int
}

// NewTaper returns a Taper of the given length in seconds.
func NewTaper(lengthSeconds float64) *Taper { return &Taper{length: lengthSeconds} }

// SetSamplingFrequency (re)configures the ramp sample count and resets.
func (t *Taper) SetSamplingFrequency(fs float64) {
	t.fs = fs
	t.Reset()
}

// Reset rearms the taper so the next Apply call ramps from 0 again.
func (t *Taper) Reset() {
	t.total = int(t.length * t.fs)
	if t.total < 1 {
		t.total = 1
	}
	t.n = t.total
}

// Apply multiplies the leading samples by the cosine-half ramp in place;
// once the ramp is exhausted, samples pass through unmodified.
func (t *Taper) Apply(samples []float64) []float64 {
	for i := range samples {
		if t.n <= 0 {
			break
		}
		progress := float64(t.total-t.n) / float64(t.total)
		w := 0.5 * (1 - math.Cos(math.Pi*progress))
		samples[i] *= w
		t.n--
	}
	return samples
}

// Clone returns a fresh, rearmed Taper with the same length.
func (t *Taper) Clone() *Taper {
	c := NewTaper(t.length)
	if t.fs > 0 {
		c.SetSamplingFrequency(t.fs)
	}
	return c
}
