package filter

import "math"

// TauP implements the Allen-Kanamori recursive period estimator used by the
// onsite-magnitude processor. Grounded on
// original_source .../eewamps/filter/taup.cpp, using the *corrected*
// priming behavior per the resolved Open Question: the source's variant
// tests `_init` for "already initialized" instead of "uninitialized",
// so the priming branch is dead code and `_last` is used uninitialized on
// the first sample. Here, the first sample always emits 0 and seeds _last;
// every sample after that computes the tau-P value.
type TauP struct {
	fs    float64
	alpha float64
	last  float64
	v, d  float64
	init  bool
}

// NewTauP returns a TauP filter for the given sampling frequency.
func NewTauP(fs float64) *TauP {
	t := &TauP{}
	t.SetSamplingFrequency(fs)
	return t
}

// SetSamplingFrequency (re)configures alpha = 1 - 1/fs and resets state.
func (t *TauP) SetSamplingFrequency(fs float64) {
	t.fs = fs
	alpha := 1.0 - 1.0/fs
	if alpha < 0 {
		alpha = 0
	}
	t.alpha = alpha
	t.Reset()
}

// Reset clears recursive state; the next Apply call re-primes.
func (t *TauP) Reset() {
	t.init = false
	t.v = 0
	t.d = 0
}

// Apply filters samples in place, returning the same slice for convenience.
func (t *TauP) Apply(samples []float64) []float64 {
	for i, v := range samples {
		if !t.init {
			t.last = v
			t.init = true
			samples[i] = 0
			continue
		}
		vd := (v - t.last) * t.fs
		t.d = t.d*t.alpha + vd*vd
		t.v = t.v*t.alpha + v*v
		if t.d > 0 {
			samples[i] = 2 * math.Pi * math.Sqrt(t.v/t.d)
		} else {
			samples[i] = 0
		}
		t.last = v
	}
	return samples
}

// Clone returns a fresh TauP filter with the same sampling frequency but
// reset recursive state, matching the source's InPlaceFilter::clone(),
// which is used by the demultiplexer to give every stream its own state.
func (t *TauP) Clone() *TauP { return NewTauP(t.fs) }
