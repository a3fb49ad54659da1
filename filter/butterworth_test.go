package filter_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/SED-EEW/eewamps/filter"
)

func TestButterworth_LowpassPassesDC(t *testing.T) {
	bw := filter.NewButterworth(4, 2, false)
	bw.SetSamplingFrequency(100)
	samples := make([]float64, 2000)
	for i := range samples {
		samples[i] = 5.0
	}
	out := bw.Apply(samples)
	assert.InDelta(t, 5.0, out[len(out)-1], 1e-3)
}

func TestButterworth_HighpassBlocksDC(t *testing.T) {
	bw := filter.NewButterworth(4, 2, true)
	bw.SetSamplingFrequency(100)
	samples := make([]float64, 2000)
	for i := range samples {
		samples[i] = 5.0
	}
	out := bw.Apply(samples)
	assert.InDelta(t, 0.0, out[len(out)-1], 1e-3)
}

func TestButterworth_ResetClearsState(t *testing.T) {
	bw := filter.NewButterworth(4, 2, false)
	bw.SetSamplingFrequency(100)
	bw.Apply([]float64{1, 2, 3, 4, 5})
	bw.Reset()
	fresh := filter.NewButterworth(4, 2, false)
	fresh.SetSamplingFrequency(100)
	got := bw.Apply([]float64{0})
	want := fresh.Apply([]float64{0})
	assert.Equal(t, want, got)
}

func TestButterworth_Clone_StartsWithFreshState(t *testing.T) {
	bw := filter.NewButterworth(4, 2, false)
	bw.SetSamplingFrequency(100)
	bw.Apply([]float64{1, 2, 3, 4, 5}) // drive bw away from its zero state

	clone := bw.Clone()
	fresh := filter.NewButterworth(4, 2, false)
	fresh.SetSamplingFrequency(100)

	assert.Equal(t, fresh.Apply([]float64{1}), clone.Apply([]float64{1}))
}

func TestHighlowpass_AppliesBothCorners(t *testing.T) {
	hl := filter.NewHighlowpass(4, 1, 10)
	hl.SetSamplingFrequency(100)
	samples := make([]float64, 500)
	for i := range samples {
		samples[i] = math.Sin(2 * math.Pi * 20 * float64(i) / 100)
	}
	out := hl.Apply(samples)
	assert.Len(t, out, len(samples))
}

func TestIntegrator_ConstantInputRampsLinearly(t *testing.T) {
	in := filter.NewIntegrator()
	in.SetSamplingFrequency(100)
	samples := make([]float64, 101)
	for i := range samples {
		samples[i] = 1.0
	}
	out := in.Apply(samples)
	// After priming on the first sample, integrating a constant 1.0 for one
	// second (100 samples @ fs=100) should land close to 1.0.
	assert.InDelta(t, 1.0, out[len(out)-1], 0.02)
}

func TestIntegrator_FirstSamplePrimesToZero(t *testing.T) {
	in := filter.NewIntegrator()
	in.SetSamplingFrequency(100)
	out := in.Apply([]float64{7})
	assert.Equal(t, 0.0, out[0])
}

func TestIntegrator_ResetReprimes(t *testing.T) {
	in := filter.NewIntegrator()
	in.SetSamplingFrequency(100)
	in.Apply([]float64{1, 1, 1})
	in.Reset()
	out := in.Apply([]float64{9})
	assert.Equal(t, 0.0, out[0])
}

func TestTaper_RampsFromZeroToOne(t *testing.T) {
	tp := filter.NewTaper(1)
	tp.SetSamplingFrequency(10)
	samples := make([]float64, 10)
	for i := range samples {
		samples[i] = 1.0
	}
	out := tp.Apply(samples)
	assert.Less(t, out[0], out[len(out)-1])
	assert.InDelta(t, 0.5*(1-math.Cos(math.Pi*0.9)), out[len(out)-1], 1e-6)
}

func TestTaper_PassesThroughAfterRampExhausted(t *testing.T) {
	tp := filter.NewTaper(1)
	tp.SetSamplingFrequency(10)
	tp.Apply(make([]float64, 10))
	out := tp.Apply([]float64{3, 3})
	assert.Equal(t, []float64{3, 3}, out)
}

func TestTaper_ResetRearms(t *testing.T) {
	tp := filter.NewTaper(1)
	tp.SetSamplingFrequency(10)
	tp.Apply(make([]float64, 10))
	tp.Reset()
	out := tp.Apply([]float64{1})
	assert.Less(t, out[0], 1.0)
}
