package filter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SED-EEW/eewamps/filter"
)

func TestTauP_FirstSampleIsZeroAndSeeds(t *testing.T) {
	tp := filter.NewTauP(100)
	out := tp.Apply([]float64{5, 5, 5})
	require.Len(t, out, 3)
	assert.Equal(t, 0.0, out[0])
}

func TestTauP_ConstantSignalStaysZero(t *testing.T) {
	// Constant velocity means derivative D stays at 0, so tau-P stays 0.
	tp := filter.NewTauP(100)
	samples := make([]float64, 20)
	for i := range samples {
		samples[i] = 2.0
	}
	out := tp.Apply(samples)
	for _, v := range out {
		assert.Equal(t, 0.0, v)
	}
}

func TestTauP_ResetReprimes(t *testing.T) {
	tp := filter.NewTauP(100)
	tp.Apply([]float64{1, 2, 3})
	tp.Reset()
	out := tp.Apply([]float64{9, 9})
	assert.Equal(t, 0.0, out[0])
}

func TestDiffCentral_FirstSampleZero(t *testing.T) {
	d := filter.NewDiffCentral(100)
	out := d.Apply([]float64{1, 2, 3, 4})
	assert.Equal(t, 0.0, out[0])
	// interior points use the two-point stencil: 0.5*fs*(x[i+1]-x[i-1])
	assert.InDelta(t, 0.5*100*(3-1), out[1], 1e-9)
}

func TestRunningMean_TracksConstantSignal(t *testing.T) {
	m := filter.NewRunningMean(1) // 1s window
	m.SetSamplingFrequency(10)
	var last float64
	for i := 0; i < 100; i++ {
		last = m.Apply(3.0)
	}
	assert.InDelta(t, 3.0, last, 1e-6)
}
