package filter

// RunningMean is the baseline estimator used by the gain/baseline
// corrector. Grounded on original_source
// .../eewamps/recordfilter/gainandbaselinecorrection.cpp, which calls its
// BaselineRemoval filter one sample at a time (`apply(1, &v)`) and
// subtracts the returned estimate from the raw sample. The underlying
// SeisComP BaselineRemoval is a single-pole recursive mean with time
// constant `length` seconds; reproduced here as an exponential moving
// average, which is the standard real-time approximation of a running
// mean over `length` seconds once fs*length is large (true for the
// baseline buffer's tens-of-seconds default).
type RunningMean struct {
	length float64 // seconds
	fs     float64
	alpha  float64
	mean   float64
	init   bool
}

// NewRunningMean returns a RunningMean with the given window length in
// seconds; SetSamplingFrequency must be called before Apply.
func NewRunningMean(lengthSeconds float64) *RunningMean {
	return &RunningMean{length: lengthSeconds}
}

// SetSamplingFrequency (re)configures the recursive coefficient and resets.
func (m *RunningMean) SetSamplingFrequency(fs float64) {
	m.fs = fs
	n := m.length * fs
	if n < 1 {
		n = 1
	}
	m.alpha = 1.0 / n
	m.Reset()
}

// SetLength changes the window length in seconds and resets.
func (m *RunningMean) SetLength(lengthSeconds float64) {
	m.length = lengthSeconds
	if m.fs > 0 {
		m.SetSamplingFrequency(m.fs)
	}
}

// Reset clears the running mean estimate.
func (m *RunningMean) Reset() {
	m.mean = 0
	m.init = false
}

// Mean returns the current running-mean estimate.
func (m *RunningMean) Mean() float64 { return m.mean }

// Apply updates the running mean with one new sample x and returns the
// baseline estimate to subtract ("mean_window_ending_at(i)").
func (m *RunningMean) Apply(x float64) float64 {
	if !m.init {
		m.mean = x
		m.init = true
		return m.mean
	}
	m.mean += (x - m.mean) * m.alpha
	return m.mean
}

// ApplyBaseline subtracts the running-mean baseline from every sample in
// place, matching the corrector's `data[i] -= apply(1,&v)` loop.
func (m *RunningMean) ApplyBaseline(samples []float64) {
	for i, x := range samples {
		samples[i] = x - m.Apply(x)
	}
}

// Clone returns a fresh RunningMean with the same configured length.
func (m *RunningMean) Clone() *RunningMean {
	c := NewRunningMean(m.length)
	if m.fs > 0 {
		c.SetSamplingFrequency(m.fs)
	}
	return c
}
