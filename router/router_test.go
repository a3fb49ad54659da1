package router_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SED-EEW/eewamps/inventory"
	"github.com/SED-EEW/eewamps/preprocessor"
	"github.com/SED-EEW/eewamps/router"
	"github.com/SED-EEW/eewamps/routing"
	"github.com/SED-EEW/eewamps/waveform"
)

type captureProcessor struct {
	records int
	picks   int
}

func (c *captureProcessor) Feed(ctx context.Context, rec *waveform.Record) error {
	c.records++
	return nil
}
func (c *captureProcessor) FeedPick(ctx context.Context, pick *waveform.Pick) bool {
	c.picks++
	return true
}
func (c *captureProcessor) Reset() {}

func testGroup() waveform.ThreeComponentGroup {
	return waveform.ThreeComponentGroup{
		Vertical:    waveform.StreamID{Network: "CH", Station: "A", Channel: "HHZ"},
		HorizontalA: waveform.StreamID{Network: "CH", Station: "A", Channel: "HHN"},
		HorizontalB: waveform.StreamID{Network: "CH", Station: "A", Channel: "HHE"},
		Latitude:    47.0,
		Longitude:   8.0,
	}
}

func record(t *testing.T, stream waveform.StreamID, start time.Time, fs float64, n int, value float64) *waveform.Record {
	t.Helper()
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = value
	}
	rec, err := waveform.NewRecord(stream, start, fs, samples, nil)
	require.NoError(t, err)
	return rec
}

// newTestRouter wires a factory that records every chain it builds into
// procsByStream, keyed by the chain's native forwarding stream id, so tests
// can assert on what each chain actually received.
func newTestRouter(t *testing.T, group waveform.ThreeComponentGroup) (*router.Router, map[waveform.StreamID]*captureProcessor) {
	t.Helper()
	inv := inventory.NewMemory()
	inv.AddGroup(group)

	procs := make(map[waveform.StreamID]*captureProcessor)
	factory := func(stream waveform.StreamID, native preprocessor.NativeUnit, g waveform.ThreeComponentGroup) *preprocessor.Chain {
		p := &captureProcessor{}
		procs[stream] = p
		routers := map[waveform.StreamID]*routing.Processor{
			stream: routing.New(p),
		}
		cfg := preprocessor.Config{} // no co-located/displacement derivatives, just native passthrough
		return preprocessor.New(stream, native, cfg, routers)
	}

	r := router.New(inv, factory, 2*time.Second, 5*time.Second, nil)
	return r, procs
}

func TestRouter_VerticalRoutesDirectlyToItsChain(t *testing.T) {
	group := testGroup()
	r, procs := newTestRouter(t, group)

	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	err := r.Route(context.Background(), record(t, group.Vertical, start, 100, 10, 1.0), preprocessor.NativeVelocity)
	require.NoError(t, err)

	assert.Equal(t, 1, procs[group.Vertical].records)
}

func TestRouter_HorizontalPairCombinesBeforeReachingItsChain(t *testing.T) {
	group := testGroup()
	r, procs := newTestRouter(t, group)

	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	err := r.Route(context.Background(), record(t, group.HorizontalA, start, 100, 10, 3.0), preprocessor.NativeVelocity)
	require.NoError(t, err)
	err = r.Route(context.Background(), record(t, group.HorizontalB, start, 100, 10, 4.0), preprocessor.NativeVelocity)
	require.NoError(t, err)

	synthetic := group.HorizontalA.WithChannel(group.HorizontalA.Instrument() + "X")
	require.Contains(t, procs, synthetic)
	assert.Equal(t, 1, procs[synthetic].records)
}

func TestRouter_UnknownGroupIsDroppedSilently(t *testing.T) {
	inv := inventory.NewMemory()
	factory := func(stream waveform.StreamID, native preprocessor.NativeUnit, g waveform.ThreeComponentGroup) *preprocessor.Chain {
		return preprocessor.New(stream, native, preprocessor.Config{}, nil)
	}
	r := router.New(inv, factory, time.Second, time.Second, nil)

	unknown := waveform.StreamID{Network: "CH", Station: "X", Channel: "HHZ"}
	err := r.Route(context.Background(), record(t, unknown, time.Now(), 100, 10, 1.0), preprocessor.NativeVelocity)
	assert.NoError(t, err)
}

func TestRouter_RoutePick_FansToEveryChainAtTheStation(t *testing.T) {
	group := testGroup()
	r, procs := newTestRouter(t, group)

	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, r.Route(context.Background(), record(t, group.Vertical, start, 100, 10, 1.0), preprocessor.NativeVelocity))

	pick := &waveform.Pick{ID: "p1", Stream: group.Vertical, Time: start, PhaseHint: "P"}
	routed := r.RoutePick(context.Background(), pick, func(c *preprocessor.Chain) {
		c.FeedPick(context.Background(), pick)
	})

	assert.True(t, routed)
	assert.Equal(t, 1, procs[group.Vertical].picks)
}

func TestRouter_RoutePick_NoStationReturnsFalse(t *testing.T) {
	inv := inventory.NewMemory()
	factory := func(stream waveform.StreamID, native preprocessor.NativeUnit, g waveform.ThreeComponentGroup) *preprocessor.Chain {
		return preprocessor.New(stream, native, preprocessor.Config{}, nil)
	}
	r := router.New(inv, factory, time.Second, time.Second, nil)

	pick := &waveform.Pick{ID: "p1", Stream: waveform.StreamID{Network: "CH", Station: "NOPE", Channel: "HHZ"}, Time: time.Now()}
	routed := r.RoutePick(context.Background(), pick, func(c *preprocessor.Chain) {})
	assert.False(t, routed)
}

func TestRouter_Reset_ClearsRoutingTableSoNextRecordReroutes(t *testing.T) {
	group := testGroup()
	r, procs := newTestRouter(t, group)

	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, r.Route(context.Background(), record(t, group.Vertical, start, 100, 10, 1.0), preprocessor.NativeVelocity))
	r.Reset()
	require.NoError(t, r.Route(context.Background(), record(t, group.Vertical, start.Add(time.Minute), 100, 10, 1.0), preprocessor.NativeVelocity))

	// Reset forgets the routing table, so the factory is invoked again,
	// replacing (not appending to) procs[group.Vertical]; only the new
	// chain's Feed call is reflected.
	assert.Equal(t, 1, procs[group.Vertical].records)
}
