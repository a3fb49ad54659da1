package filter

import "math"

// biquad is one second-order section of a digital Butterworth cascade
// (direct form II transposed), the standard structure used by real-time
// recursive IIR implementations throughout the corpus's DSP-adjacent code.
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
	z1, z2     float64
}

func (s *biquad) reset() { s.z1, s.z2 = 0, 0 }

func (s *biquad) step(x float64) float64 {
	y := s.b0*x + s.z1
	s.z1 = s.b1*x - s.a1*y + s.z2
	s.z2 = s.b2*x - s.a2*y
	return y
}

// kind distinguishes the Butterworth variants the pipeline needs.
type kind int

const (
	kindLowpass kind = iota
	kindHighpass
)

// Butterworth is an order-N digital Butterworth filter built as a cascade
// of order/2 biquad sections (bilinear transform of the analog
// Butterworth prototype), used for the corner filters in the preprocessor,
// envelope leading high-pass, and GbA band-pass branches (each band-pass
// is a Highlowpass: a highpass cascade followed by a lowpass cascade).
type Butterworth struct {
	order   int
	corner  float64
	k       kind
	fs      float64
	stages  []biquad
}

// NewButterworth returns an order-th order Butterworth filter (order must
// be even) with the given corner frequency in Hz; SetSamplingFrequency
// must be called before Apply.
func NewButterworth(order int, corner float64, high bool) *Butterworth {
	k := kindLowpass
	if high {
		k = kindHighpass
	}
	return &Butterworth{order: order, corner: corner, k: k}
}

// SetSamplingFrequency (re)designs the cascade coefficients for fs and
// resets all section state.
func (b *Butterworth) SetSamplingFrequency(fs float64) {
	b.fs = fs
	n := b.order / 2
	if n < 1 {
		n = 1
	}
	b.stages = make([]biquad, n)
	warped := math.Tan(math.Pi * b.corner / fs)
	for i := 0; i < n; i++ {
		// Pole angle for the i-th conjugate pair of an order-2n analog
		// Butterworth prototype.
		theta := math.Pi * (2*float64(i) + 1) / (2 * float64(b.order))
		b.stages[i] = designBiquad(warped, theta, b.k)
	}
}

func designBiquad(warped, theta float64, k kind) biquad {
	// Standard bilinear-transform biquad design for a single conjugate
	// pole pair of a Butterworth prototype with pre-warped corner `warped`
	// (= tan(pi*fc/fs)).
	sinTheta := math.Sin(theta)
	c2 := warped * warped
	var a0, a1, a2, b0, b1, b2 float64
	switch k {
	case kindLowpass:
		a0 = c2 + 2*warped*sinTheta + 1
		b0 = c2
		b1 = 2 * c2
		b2 = c2
		a1 = 2 * (c2 - 1)
		a2 = c2 - 2*warped*sinTheta + 1
	default: // highpass
		a0 = c2 + 2*warped*sinTheta + 1
		b0 = 1
		b1 = -2
		b2 = 1
		a1 = 2 * (c2 - 1)
		a2 = c2 - 2*warped*sinTheta + 1
	}
	return biquad{
		b0: b0 / a0, b1: b1 / a0, b2: b2 / a0,
		a1: a1 / a0, a2: a2 / a0,
	}
}

// Reset clears all section state (used on gap/epoch-change resets).
func (b *Butterworth) Reset() {
	for i := range b.stages {
		b.stages[i].reset()
	}
}

// Apply filters samples in place through the full cascade.
func (b *Butterworth) Apply(samples []float64) []float64 {
	for i, x := range samples {
		v := x
		for s := range b.stages {
			v = b.stages[s].step(v)
		}
		samples[i] = v
	}
	return samples
}

// Clone returns a fresh Butterworth filter with the same design parameters.
func (b *Butterworth) Clone() *Butterworth {
	c := NewButterworth(b.order, b.corner, b.k == kindHighpass)
	if b.fs > 0 {
		c.SetSamplingFrequency(b.fs)
	}
	return c
}

// Highlowpass cascades a high-pass corner followed by a low-pass corner,
// forming a band-pass branch — the GbA filter bank's nine bands are each
// one Highlowpass instance.
type Highlowpass struct {
	hp *Butterworth
	lp *Butterworth
}

// NewHighlowpass returns a band-pass filter [loCorner, hiCorner] built from
// an order-th order high-pass followed by an order-th order low-pass.
func NewHighlowpass(order int, loCorner, hiCorner float64) *Highlowpass {
	return &Highlowpass{
		hp: NewButterworth(order, loCorner, true),
		lp: NewButterworth(order, hiCorner, false),
	}
}

func (h *Highlowpass) SetSamplingFrequency(fs float64) {
	h.hp.SetSamplingFrequency(fs)
	h.lp.SetSamplingFrequency(fs)
}

func (h *Highlowpass) Reset() {
	h.hp.Reset()
	h.lp.Reset()
}

func (h *Highlowpass) Apply(samples []float64) []float64 {
	return h.lp.Apply(h.hp.Apply(samples))
}

func (h *Highlowpass) Clone() *Highlowpass {
	return &Highlowpass{hp: h.hp.Clone(), lp: h.lp.Clone()}
}
