package onsitemag_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SED-EEW/eewamps/onsitemag"
	"github.com/SED-EEW/eewamps/waveform"
)

func testStream() waveform.StreamID {
	return waveform.StreamID{Network: "CH", Station: "X", Channel: "HHZ"}
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func constantVelocityRecord(t *testing.T, start time.Time, fs float64, n int, v float64) *waveform.Record {
	t.Helper()
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = v
	}
	rec, err := waveform.NewRecord(testStream(), start, fs, samples, nil)
	require.NoError(t, err)
	return rec
}

// A pick with a continuously-covered window produces at least one tauP
// update and exactly one tauC/Pd computation.
func TestProcessor_TauPAndTauCPublishOnce(t *testing.T) {
	var tauPResults []onsitemag.TauPResult
	var tauCResults []onsitemag.TauCPdResult

	cfg := onsitemag.DefaultConfig()
	cfg.CutOffSeconds = 2

	p := onsitemag.New(cfg, func(r onsitemag.TauPResult) {
		tauPResults = append(tauPResults, r)
	}, func(r onsitemag.TauCPdResult) {
		tauCResults = append(tauCResults, r)
	}, nil)

	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	// Prime the filters with a second of signal before the pick so the
	// tauP/tauC rings have continuous data once the trigger opens.
	rec0 := constantVelocityRecord(t, start, 100, 100, 0.01)
	require.NoError(t, p.Feed(context.Background(), rec0))

	pickTime := start.Add(1 * time.Second)
	p.WithClock(fixedClock{now: pickTime}) // the late-pick gate compares against this clock
	pick := &waveform.Pick{ID: "p1", Stream: testStream(), Time: pickTime, PhaseHint: "P"}
	require.True(t, p.FeedPick(context.Background(), pick))

	// Feed 3 more seconds of signal — enough to cover [pickTime, pickTime+2s).
	for i := 0; i < 3; i++ {
		rec := constantVelocityRecord(t, start.Add(time.Duration(1+i)*time.Second), 100, 100, 0.05)
		require.NoError(t, p.Feed(context.Background(), rec))
	}

	require.NotEmpty(t, tauPResults, "expected at least one tauP update")
	require.Len(t, tauCResults, 1, "tauC/Pd must be published exactly once")
	assert.Greater(t, tauCResults[0].Pd, 0.0)
	assert.False(t, tauCResults[0].Clipped)
}

// Non-"P" picks are ignored.
func TestProcessor_IgnoresNonPPicks(t *testing.T) {
	p := onsitemag.New(onsitemag.DefaultConfig(), nil, nil, nil)
	pick := &waveform.Pick{ID: "s1", Stream: testStream(), Time: time.Now(), PhaseHint: "S"}
	assert.False(t, p.FeedPick(context.Background(), pick))
}

// tauC/Pd is latched after its first computation: further record arrivals
// for the same trigger must not publish a second time.
func TestProcessor_TauCPublishesOnlyOnce(t *testing.T) {
	var tauCResults []onsitemag.TauCPdResult
	cfg := onsitemag.DefaultConfig()
	cfg.CutOffSeconds = 2

	p := onsitemag.New(cfg, nil, func(r onsitemag.TauCPdResult) {
		tauCResults = append(tauCResults, r)
	}, nil)

	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	rec0 := constantVelocityRecord(t, start, 100, 100, 0.01)
	require.NoError(t, p.Feed(context.Background(), rec0))

	pickTime := start.Add(1 * time.Second)
	p.WithClock(fixedClock{now: pickTime}) // the late-pick gate compares against this clock
	pick := &waveform.Pick{ID: "p1", Stream: testStream(), Time: pickTime, PhaseHint: "P"}
	require.True(t, p.FeedPick(context.Background(), pick))

	for i := 0; i < 5; i++ {
		rec := constantVelocityRecord(t, start.Add(time.Duration(1+i)*time.Second), 100, 100, 0.05)
		require.NoError(t, p.Feed(context.Background(), rec))
	}

	assert.Len(t, tauCResults, 1, "tauC/Pd must not be recomputed once latched")
}
