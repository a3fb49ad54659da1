package gba_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SED-EEW/eewamps/gba"
	"github.com/SED-EEW/eewamps/waveform"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func testStream() waveform.StreamID {
	return waveform.StreamID{Network: "CH", Station: "X", Channel: "HHZ"}
}

// Trigger cutoff: cutoff=10s, pick at t=100.0. A record
// ending at t=109.5 updates peaks; a record spanning 110.5-111.5 must not
// extend the trigger's peak window; the trigger is evicted once wall-clock
// exceeds 110.0.
func TestProcessor_ScenarioS5_TriggerCutoff(t *testing.T) {
	var results []gba.Result
	cfg := gba.DefaultConfig()
	cfg.CutOffSeconds = 10

	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: base.Add(100 * time.Second)}

	p := gba.New(cfg, func(r gba.Result) { results = append(results, r) }, nil).WithClock(clock)

	pick := &waveform.Pick{ID: "pick-1", Stream: testStream(), Time: base.Add(100 * time.Second), PhaseHint: "P"}
	require.True(t, p.FeedPick(context.Background(), pick))
	results = nil // trigger-creation evaluation against an empty buffer publishes nothing

	// Record covering [99.5, 109.5): inside the trigger window.
	samples := make([]float64, 1000) // 10s at 100 sps
	for i := range samples {
		samples[i] = 1.0
	}
	samples[500] = 50.0 // a clear peak at t=104.5
	rec, err := waveform.NewRecord(testStream(), base.Add(99500*time.Millisecond), 100, samples, nil)
	require.NoError(t, err)
	require.NoError(t, p.Feed(context.Background(), rec))
	require.NotEmpty(t, results)
	lastPeak := results[len(results)-1].Peaks[len(results[len(results)-1].Peaks)-1]

	// Record spanning [110.5, 111.5): entirely after the trigger window end
	// (100.0+10.0=110.0) — must not extend the peak window.
	rec2Samples := make([]float64, 100)
	for i := range rec2Samples {
		rec2Samples[i] = 999.0
	}
	rec2, err := waveform.NewRecord(testStream(), base.Add(110500*time.Millisecond), 100, rec2Samples, nil)
	require.NoError(t, err)
	before := len(results)
	require.NoError(t, p.Feed(context.Background(), rec2))
	assert.Len(t, results, before, "out-of-window record must not publish a new peak update")
	assert.InDelta(t, lastPeak, results[len(results)-1].Peaks[len(results[len(results)-1].Peaks)-1], 1e-9)

	// Advance wall-clock past 110.0 (trigger.time + cutoff) and feed another
	// record: invariant 4 — the trigger must be evicted.
	clock.advance(10*time.Second + 20*time.Millisecond) // now = 110.02s > 110.0s
	rec3, err := waveform.NewRecord(testStream(), base.Add(111*time.Second), 100, rec2Samples, nil)
	require.NoError(t, err)
	before = len(results)
	require.NoError(t, p.Feed(context.Background(), rec3))
	assert.Len(t, results, before, "trigger evicted past cutoff must not publish further updates")
}

// Invariant 4 — trigger eviction: a late pick beyond the cutoff is refused
// outright.
func TestProcessor_RefusesLatePick(t *testing.T) {
	cfg := gba.DefaultConfig()
	cfg.CutOffSeconds = 10

	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: base.Add(200 * time.Second)}
	p := gba.New(cfg, nil, nil).WithClock(clock)

	pick := &waveform.Pick{ID: "late", Stream: testStream(), Time: base.Add(100 * time.Second), PhaseHint: "P"}
	assert.False(t, p.FeedPick(context.Background(), pick))
}

// Non-"P" picks are ignored.
func TestProcessor_IgnoresNonPPicks(t *testing.T) {
	p := gba.New(gba.DefaultConfig(), nil, nil)
	pick := &waveform.Pick{ID: "s-pick", Stream: testStream(), Time: time.Now(), PhaseHint: "S"}
	assert.False(t, p.FeedPick(context.Background(), pick))
}
