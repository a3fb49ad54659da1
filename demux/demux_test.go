package demux_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SED-EEW/eewamps/demux"
	"github.com/SED-EEW/eewamps/gainbaseline"
	"github.com/SED-EEW/eewamps/inventory"
	"github.com/SED-EEW/eewamps/waveform"
)

func streamWithGain(inv *inventory.Memory, stream waveform.StreamID, gain float64) {
	inv.AddEpoch(stream, waveform.Epoch{
		Start: time.Unix(0, 0),
		Gain:  &gain,
		Unit:  waveform.GainUnitVelocity,
	})
}

func record(t *testing.T, stream waveform.StreamID, start time.Time, n int) *waveform.Record {
	t.Helper()
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = 2.0
	}
	rec, err := waveform.NewRecord(stream, start, 100, samples, nil)
	require.NoError(t, err)
	return rec
}

func TestDemux_LazilyClonesOneChainPerStream(t *testing.T) {
	streamA := waveform.StreamID{Network: "CH", Station: "A", Channel: "HHZ"}
	streamB := waveform.StreamID{Network: "CH", Station: "B", Channel: "HHZ"}

	inv := inventory.NewMemory()
	streamWithGain(inv, streamA, 2.0)
	streamWithGain(inv, streamB, 4.0)

	template := gainbaseline.New(waveform.StreamID{}, inv, gainbaseline.DefaultConfig(), nil)
	d := demux.New(template)

	start := time.Unix(100, 0)
	outA, err := d.Feed(context.Background(), record(t, streamA, start, 10))
	require.NoError(t, err)
	require.NotNil(t, outA)

	outB, err := d.Feed(context.Background(), record(t, streamB, start, 10))
	require.NoError(t, err)
	require.NotNil(t, outB)

	assert.InDelta(t, 1.0, outA.Samples[0], 1e-6)
	assert.InDelta(t, 0.5, outB.Samples[0], 1e-6)

	assert.ElementsMatch(t, []waveform.StreamID{streamA, streamB}, d.Streams())
}

func TestDemux_Corrector_SeenAfterFirstFeed(t *testing.T) {
	stream := waveform.StreamID{Network: "CH", Station: "A", Channel: "HHZ"}
	inv := inventory.NewMemory()
	streamWithGain(inv, stream, 1.0)

	template := gainbaseline.New(waveform.StreamID{}, inv, gainbaseline.DefaultConfig(), nil)
	d := demux.New(template)

	_, ok := d.Corrector(stream)
	assert.False(t, ok)

	_, err := d.Feed(context.Background(), record(t, stream, time.Unix(100, 0), 10))
	require.NoError(t, err)

	c, ok := d.Corrector(stream)
	assert.True(t, ok)
	assert.Equal(t, stream, c.Stream())
}

func TestDemux_Reset_KeepsStreamMappingButClearsFilterState(t *testing.T) {
	stream := waveform.StreamID{Network: "CH", Station: "A", Channel: "HHZ"}
	inv := inventory.NewMemory()
	streamWithGain(inv, stream, 1.0)

	template := gainbaseline.New(waveform.StreamID{}, inv, gainbaseline.DefaultConfig(), nil)
	d := demux.New(template)

	_, err := d.Feed(context.Background(), record(t, stream, time.Unix(100, 0), 10))
	require.NoError(t, err)

	d.Reset()

	_, ok := d.Corrector(stream)
	assert.True(t, ok)
	assert.Len(t, d.Streams(), 1)
}
