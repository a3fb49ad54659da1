package preprocessor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SED-EEW/eewamps/preprocessor"
	"github.com/SED-EEW/eewamps/routing"
	"github.com/SED-EEW/eewamps/waveform"
)

type captureProcessor struct {
	records     int
	picks       int
	resets      int
	feedPickRet bool
}

func (c *captureProcessor) Feed(ctx context.Context, rec *waveform.Record) error {
	c.records++
	return nil
}

func (c *captureProcessor) FeedPick(ctx context.Context, pick *waveform.Pick) bool {
	c.picks++
	return c.feedPickRet
}

func (c *captureProcessor) Reset() { c.resets++ }

func streamAt(net, sta, cha string) waveform.StreamID {
	return waveform.StreamID{Network: net, Station: sta, Channel: cha}
}

func record(t *testing.T, id waveform.StreamID, start time.Time, fs float64, n int) *waveform.Record {
	t.Helper()
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = 1.0
	}
	rec, err := waveform.NewRecord(id, start, fs, samples, nil)
	require.NoError(t, err)
	return rec
}

func TestChain_NativeVelocity_FeedsNativeAndDerivedUnits(t *testing.T) {
	native := streamAt("CH", "A", "HHZ")
	accelLoc := native.WithLocation(preprocessor.LocAccelFromVelocity)
	dispLoc := native.WithLocation(preprocessor.LocDisplacement)

	nativeProc := &captureProcessor{}
	accelProc := &captureProcessor{}
	dispProc := &captureProcessor{}

	routers := map[waveform.StreamID]*routing.Processor{
		native:   routing.New(nativeProc),
		accelLoc: routing.New(accelProc),
		dispLoc:  routing.New(dispProc),
	}

	c := preprocessor.New(native, preprocessor.NativeVelocity, preprocessor.DefaultConfig(), routers)

	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := record(t, native, start, 100, 200)

	require.NoError(t, c.Feed(context.Background(), rec))

	assert.Equal(t, 1, nativeProc.records)
	assert.Equal(t, 1, accelProc.records)
	assert.Equal(t, 1, dispProc.records)
}

func TestChain_NativeAcceleration_FeedsVelocityAndDisplacement(t *testing.T) {
	native := streamAt("CH", "A", "HNZ")
	velLoc := native.WithLocation(preprocessor.LocVelFromAccel)
	dispLoc := native.WithLocation(preprocessor.LocDisplacement)

	nativeProc := &captureProcessor{}
	velProc := &captureProcessor{}
	dispProc := &captureProcessor{}

	routers := map[waveform.StreamID]*routing.Processor{
		native:  routing.New(nativeProc),
		velLoc:  routing.New(velProc),
		dispLoc: routing.New(dispProc),
	}

	c := preprocessor.New(native, preprocessor.NativeAcceleration, preprocessor.DefaultConfig(), routers)

	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := record(t, native, start, 100, 200)

	require.NoError(t, c.Feed(context.Background(), rec))

	assert.Equal(t, 1, nativeProc.records)
	assert.Equal(t, 1, velProc.records)
	assert.Equal(t, 1, dispProc.records)
}

func TestChain_DisabledDerivatives_OnlyFeedsNative(t *testing.T) {
	native := streamAt("CH", "A", "HHZ")
	nativeProc := &captureProcessor{}
	routers := map[waveform.StreamID]*routing.Processor{
		native: routing.New(nativeProc),
	}

	cfg := preprocessor.Config{EnableCoLocated: false, EnableDisplacement: false}
	c := preprocessor.New(native, preprocessor.NativeVelocity, cfg, routers)

	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := record(t, native, start, 100, 50)

	require.NoError(t, c.Feed(context.Background(), rec))
	assert.Equal(t, 1, nativeProc.records)
}

func TestChain_GapResetsAllOwnedFilters(t *testing.T) {
	native := streamAt("CH", "A", "HHZ")
	nativeProc := &captureProcessor{}
	routers := map[waveform.StreamID]*routing.Processor{
		native: routing.New(nativeProc),
	}

	c := preprocessor.New(native, preprocessor.NativeVelocity, preprocessor.DefaultConfig(), routers)

	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, c.Feed(context.Background(), record(t, native, start, 100, 100)))

	// A record that starts well after the first one ended is a gap; Feed
	// must not error, and the chain re-primes rather than carrying stale
	// filter state across it.
	gappedStart := start.Add(10 * time.Second)
	require.NoError(t, c.Feed(context.Background(), record(t, native, gappedStart, 100, 100)))

	assert.Equal(t, 2, nativeProc.records)
}

func TestChain_FeedPick_FansOutToEveryRouter(t *testing.T) {
	native := streamAt("CH", "A", "HHZ")
	accelLoc := native.WithLocation(preprocessor.LocAccelFromVelocity)

	nativeProc := &captureProcessor{feedPickRet: true}
	accelProc := &captureProcessor{}

	routers := map[waveform.StreamID]*routing.Processor{
		native:   routing.New(nativeProc),
		accelLoc: routing.New(accelProc),
	}

	c := preprocessor.New(native, preprocessor.NativeVelocity, preprocessor.DefaultConfig(), routers)

	pick := &waveform.Pick{ID: "p1", Stream: native, Time: time.Now(), PhaseHint: "P"}
	routed := c.FeedPick(context.Background(), pick)

	assert.True(t, routed)
	assert.Equal(t, 1, nativeProc.picks)
	assert.Equal(t, 1, accelProc.picks)
}

func TestChain_Reset_ClearsEveryOwnedFilter(t *testing.T) {
	native := streamAt("CH", "A", "HHZ")
	routers := map[waveform.StreamID]*routing.Processor{
		native: routing.New(&captureProcessor{}),
	}
	c := preprocessor.New(native, preprocessor.NativeVelocity, preprocessor.DefaultConfig(), routers)

	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, c.Feed(context.Background(), record(t, native, start, 100, 100)))

	c.Reset()

	// After Reset, the next Feed must not error even though the underlying
	// filters were mid-stream.
	require.NoError(t, c.Feed(context.Background(), record(t, native, start, 100, 100)))
}
