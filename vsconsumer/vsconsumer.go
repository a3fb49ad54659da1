// Package vsconsumer implements the envelope-to-timeline consumer for the
// VS magnitude path, grounded on
// original_source/apps/eew/scvsmag/timeline.h: envelope messages are fed
// into a per-station ring (Timeline::feed), and a windowed-max query
// (Timeline::maximum) returns the largest vertical and horizontal envelope
// observed in [start, end] together with a status code. The VS likelihood/
// site-correction computation that consumes this query is out of scope;
// this package only owns the timeline and the query.
package vsconsumer

import (
	"time"

	"github.com/SED-EEW/eewamps/amp"
	"github.com/SED-EEW/eewamps/envelope"
	"github.com/SED-EEW/eewamps/ring"
	"github.com/SED-EEW/eewamps/waveform"
)

// Status mirrors Timeline::ReturnCode, dropping the source's unused
// undefined_problem.
type Status string

const (
	StatusOK            Status = "ok"
	StatusClippedData   Status = "clipped_data"
	StatusNotEnoughData Status = "not_enough_data"
	StatusNoData        Status = "no_data"
	StatusIndexError    Status = "index_error"
)

// Component mirrors the source's Z/H1/H2/H enum, collapsed to the two
// values the timeline actually differentiates between once the N-component
// operator has already combined the horizontals: Vertical and Horizontal.
type Component int

const (
	ComponentVertical Component = iota
	ComponentHorizontal
)

// StationID is the network/station pair the timeline is keyed by
// (Timeline::StationID).
type StationID struct {
	Network string
	Station string
}

// Config controls the ring's past/future capacity and the clip-timeout
// gate (Timeline::init's past/future/timeout parameters).
type Config struct {
	PastSeconds        float64 // default 300
	FutureSeconds      float64 // default 30
	ClipTimeoutSeconds float64 // default 30
}

// DefaultConfig mirrors typical vsmag timeline sizing.
func DefaultConfig() Config {
	return Config{PastSeconds: 300, FutureSeconds: 30, ClipTimeoutSeconds: 30}
}

type sample struct {
	time      time.Time
	component Component
	unit      amp.Unit
	value     float64
	clipped   bool
	location  string
	channel   string
}

func (s sample) Stamp() int64 { return s.time.UnixNano() }

type stationBuffer struct {
	ring        *ring.Ring[sample]
	lastClipped map[Component]time.Time
}

// Consumer is the per-station envelope timeline (Timeline).
type Consumer struct {
	cfg      Config
	stations map[StationID]*stationBuffer
	refTime  time.Time
}

// New returns an empty Consumer.
func New(cfg Config) *Consumer {
	return &Consumer{cfg: cfg, stations: make(map[StationID]*stationBuffer)}
}

// componentOf classifies a stream's channel as vertical or horizontal by
// its SEED component code (last character): Z is vertical, everything
// else (N, E, 1, 2, and the synthetic horizontal-combination code) is
// horizontal.
func componentOf(stream waveform.StreamID) Component {
	if ch := stream.Channel; len(ch) > 0 {
		switch ch[len(ch)-1] {
		case 'Z', 'z':
			return ComponentVertical
		}
	}
	return ComponentHorizontal
}

// Feed updates the timeline grid with one envelope result
// (Timeline::feed).
func (c *Consumer) Feed(r envelope.Result) {
	id := StationID{Network: r.Stream.Network, Station: r.Stream.Station}
	sb, ok := c.stations[id]
	if !ok {
		capacity := int64((c.cfg.PastSeconds + c.cfg.FutureSeconds) * float64(time.Second))
		sb = &stationBuffer{
			ring:        ring.New[sample](capacity),
			lastClipped: make(map[Component]time.Time),
		}
		c.stations[id] = sb
	}

	comp := componentOf(r.Stream)
	sb.ring.Feed(sample{
		time:      r.EndTime,
		component: comp,
		unit:      r.Unit,
		value:     r.Amplitude,
		clipped:   r.Clipped,
		location:  r.Stream.Location,
		channel:   r.Stream.Channel,
	})
	if r.Clipped {
		sb.lastClipped[comp] = r.EndTime
	}
	if c.refTime.Before(r.EndTime) {
		c.refTime = r.EndTime
	}
}

// Maximum is the result of a windowed-max query: the largest vertical and
// horizontal envelope of unit in [start, end] (Timeline::maximum).
type Maximum struct {
	Vertical         float64
	VerticalTime     time.Time
	VerticalLocation string
	VerticalChannel  string

	Horizontal         float64
	HorizontalTime     time.Time
	HorizontalLocation string
	HorizontalChannel  string
}

// Query returns the maximum vertical and maximum horizontal envelope of
// unit for id within [start, end], gated by a clip timeout relative to
// pick (Timeline::maximum).
func (c *Consumer) Query(id StationID, start, end, pick time.Time, unit amp.Unit) (Maximum, Status) {
	if end.Before(start) {
		return Maximum{}, StatusIndexError
	}

	sb, ok := c.stations[id]
	if !ok {
		return Maximum{}, StatusNoData
	}
	items := sb.ring.Items()
	if len(items) == 0 {
		return Maximum{}, StatusNoData
	}
	if end.Before(items[0].time) || start.After(items[len(items)-1].time) {
		return Maximum{}, StatusNoData
	}

	var res Maximum
	haveV, haveH := false, false
	clipped := false

	for _, it := range items {
		if it.unit != unit {
			continue
		}
		if it.time.Before(start) || it.time.After(end) {
			continue
		}
		if it.clipped {
			clipped = true
		}
		switch it.component {
		case ComponentVertical:
			if !haveV || it.value > res.Vertical {
				res.Vertical, res.VerticalTime = it.value, it.time
				res.VerticalLocation, res.VerticalChannel = it.location, it.channel
				haveV = true
			}
		case ComponentHorizontal:
			if !haveH || it.value > res.Horizontal {
				res.Horizontal, res.HorizontalTime = it.value, it.time
				res.HorizontalLocation, res.HorizontalChannel = it.location, it.channel
				haveH = true
			}
		}
	}

	if !haveV || !haveH {
		return res, StatusNotEnoughData
	}
	if clipped || c.clippedWithinTimeout(sb, ComponentVertical, pick) || c.clippedWithinTimeout(sb, ComponentHorizontal, pick) {
		return res, StatusClippedData
	}
	return res, StatusOK
}

// clippedWithinTimeout reports whether comp saturated within
// ClipTimeoutSeconds before pick, mirroring the finder driver's
// recently-clipped gate.
func (c *Consumer) clippedWithinTimeout(sb *stationBuffer, comp Component, pick time.Time) bool {
	t, ok := sb.lastClipped[comp]
	if !ok {
		return false
	}
	cutoff := pick.Add(-time.Duration(c.cfg.ClipTimeoutSeconds * float64(time.Second)))
	return !t.Before(cutoff)
}

// StreamCount returns the number of station buffers currently tracked
// (Timeline::StreamCount).
func (c *Consumer) StreamCount() int {
	return len(c.stations)
}
