package filter

// Integrator is a recursive (trapezoidal) single-pole IIR integrator, used
// after a high-pass corner to convert acceleration to velocity or velocity
// to displacement without the drift a naive running
// sum would accumulate across long streams.
type Integrator struct {
	fs   float64
	prev float64
	acc  float64
	init bool
}

// NewIntegrator returns an Integrator; SetSamplingFrequency must be called
// before Apply.
func NewIntegrator() *Integrator { return &Integrator{} }

// SetSamplingFrequency configures the sample period and resets state.
func (g *Integrator) SetSamplingFrequency(fs float64) {
	g.fs = fs
	g.Reset()
}

// Reset clears accumulated state (used on gap/epoch-change resets).
func (g *Integrator) Reset() {
	g.prev = 0
	g.acc = 0
	g.init = false
}

// Apply integrates samples in place using the trapezoidal rule:
// acc[i] = acc[i-1] + 0.5*(x[i]+x[i-1])*dt.
func (g *Integrator) Apply(samples []float64) []float64 {
	dt := 1.0 / g.fs
	for i, x := range samples {
		if !g.init {
			g.prev = x
			g.init = true
			samples[i] = 0
			g.acc = 0
			continue
		}
		g.acc += 0.5 * (x + g.prev) * dt
		g.prev = x
		samples[i] = g.acc
	}
	return samples
}

// Clone returns a fresh Integrator.
func (g *Integrator) Clone() *Integrator {
	c := NewIntegrator()
	if g.fs > 0 {
		c.SetSamplingFrequency(g.fs)
	}
	return c
}
