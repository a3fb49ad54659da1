package vsconsumer_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/SED-EEW/eewamps/amp"
	"github.com/SED-EEW/eewamps/envelope"
	"github.com/SED-EEW/eewamps/vsconsumer"
	"github.com/SED-EEW/eewamps/waveform"
)

func station() vsconsumer.StationID {
	return vsconsumer.StationID{Network: "CH", Station: "X"}
}

func feedEnvelope(c *vsconsumer.Consumer, channel string, value float64, at time.Time, clipped bool) {
	c.Feed(envelope.Result{
		Unit:      amp.UnitAcceleration,
		Stream:    waveform.StreamID{Network: "CH", Station: "X", Channel: channel},
		Amplitude: value,
		EndTime:   at,
		Clipped:   clipped,
	})
}

// A query covering a window with both a vertical and horizontal sample
// returns their maxima with status ok.
func TestConsumer_Query_OK(t *testing.T) {
	c := vsconsumer.New(vsconsumer.DefaultConfig())
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	feedEnvelope(c, "HHZ", 1.0, base, false)
	feedEnvelope(c, "HHZ", 3.0, base.Add(1*time.Second), false)
	feedEnvelope(c, "HHX", 2.0, base.Add(1*time.Second), false)

	result, status := c.Query(station(), base, base.Add(2*time.Second), base, amp.UnitAcceleration)
	assert.Equal(t, vsconsumer.StatusOK, status)
	assert.Equal(t, 3.0, result.Vertical)
	assert.Equal(t, 2.0, result.Horizontal)
}

// A station with only a vertical component in the window reports
// not_enough_data.
func TestConsumer_Query_NotEnoughData(t *testing.T) {
	c := vsconsumer.New(vsconsumer.DefaultConfig())
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	feedEnvelope(c, "HHZ", 1.0, base, false)

	_, status := c.Query(station(), base, base.Add(2*time.Second), base, amp.UnitAcceleration)
	assert.Equal(t, vsconsumer.StatusNotEnoughData, status)
}

// An unknown station id reports no_data.
func TestConsumer_Query_NoData(t *testing.T) {
	c := vsconsumer.New(vsconsumer.DefaultConfig())
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	_, status := c.Query(station(), base, base.Add(2*time.Second), base, amp.UnitAcceleration)
	assert.Equal(t, vsconsumer.StatusNoData, status)
}

// end before start is an index error.
func TestConsumer_Query_IndexError(t *testing.T) {
	c := vsconsumer.New(vsconsumer.DefaultConfig())
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	feedEnvelope(c, "HHZ", 1.0, base, false)
	feedEnvelope(c, "HHX", 1.0, base, false)

	_, status := c.Query(station(), base.Add(2*time.Second), base, base, amp.UnitAcceleration)
	assert.Equal(t, vsconsumer.StatusIndexError, status)
}

// A saturated sample within the window reports clipped_data even though
// both components are present.
func TestConsumer_Query_ClippedData(t *testing.T) {
	c := vsconsumer.New(vsconsumer.DefaultConfig())
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	feedEnvelope(c, "HHZ", 1.0, base, true)
	feedEnvelope(c, "HHX", 1.0, base, false)

	_, status := c.Query(station(), base, base.Add(1*time.Second), base, amp.UnitAcceleration)
	assert.Equal(t, vsconsumer.StatusClippedData, status)
}
