// Package amp defines the capability interface every EEW algorithm
// processor implements, replacing the source's inheritance hierarchy with
// a small structural interface: Processor =
// {Envelope, FilterBank, OnsiteMag}, equivalently a capability interface
// {feed_record, feed_pick, reset}. No shared base state is required.
package amp

import (
	"context"

	"github.com/SED-EEW/eewamps/waveform"
)

// Unit names the physical quantity a processor accepts.
type Unit string

const (
	UnitAcceleration Unit = "acc"
	UnitVelocity     Unit = "vel"
	UnitDisplacement Unit = "disp"
)

// Processor is implemented by envelope.Processor, gba.Processor, and
// onsitemag.Processor.
type Processor interface {
	// Feed conditions one record and publishes whatever the algorithm
	// produces (envelope message, filter-bank snapshot, onsite-magnitude
	// update) through its own side channel (a bus, a callback).
	Feed(ctx context.Context, rec *waveform.Record) error
	// FeedPick delivers a phase-arrival pick; returns true if the
	// processor accepted and routed it.
	FeedPick(ctx context.Context, pick *waveform.Pick) bool
	// Reset clears all owned filter/trigger/ring state.
	Reset()
}
