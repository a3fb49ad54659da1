// Package preprocessor implements the per-unit conversion chain: it takes an input record in its native unit and forwards
// it — plus any enabled co-located/displacement derivatives — to the
// routing processors for each physical unit. Grounded on original_source
// .../eewamps/preprocessor.h (RoutingProcessor doc) and router.cpp's
// VPreProcessor/HPreProcessor construction.
package preprocessor

import (
	"context"
	"time"

	"github.com/SED-EEW/eewamps/filter"
	"github.com/SED-EEW/eewamps/routing"
	"github.com/SED-EEW/eewamps/waveform"
)

// NativeUnit is the unit a stream's inventory gain is calibrated in.
type NativeUnit string

const (
	NativeVelocity     NativeUnit = "M/S"
	NativeAcceleration NativeUnit = "M/S**2"
)

// Synthetic location suffixes.
const (
	LocAccelFromVelocity = "PA"
	LocVelFromAccel      = "PV"
	LocDisplacement      = "PD"
)

// Config controls which derived units are produced.
type Config struct {
	EnableCoLocated  bool // derive the other of {acc,vel} via diff/integrate
	EnableDisplacement bool
	HighpassCorner   float64 // Hz, corner for the integrate-path highpass
	HighpassOrder    int
}

// DefaultConfig mirrors vsfndr.filter{Acc,Vel,Disp} defaults.
func DefaultConfig() Config {
	return Config{EnableCoLocated: true, EnableDisplacement: true, HighpassCorner: 1.0 / 3, HighpassOrder: 4}
}

// Chain owns one stream's unit-conversion filters and forwards to the
// per-unit routing processors.
type Chain struct {
	cfg    Config
	native NativeUnit

	routers map[waveform.StreamID]*routing.Processor // keyed by synthetic stream id incl native

	diff       *filter.DiffCentral // accel-from-velocity
	velHP      *filter.Butterworth // vel-from-accel: highpass...
	velInt     *filter.Integrator  // ...then integrate
	dispHP     *filter.Butterworth // displacement highpass (applied to the chain's velocity output)
	dispInt    *filter.Integrator

	haveLast bool
	lastEnd  time.Time
	fs       float64

	nativeStream waveform.StreamID
}

// New returns a Chain for a stream whose inventory gain is calibrated in
// native, forwarding to routers (populated by the caller for whichever
// synthetic stream ids are enabled).
func New(nativeStream waveform.StreamID, native NativeUnit, cfg Config, routers map[waveform.StreamID]*routing.Processor) *Chain {
	c := &Chain{
		cfg:          cfg,
		native:       native,
		routers:      routers,
		nativeStream: nativeStream,
	}
	if cfg.EnableCoLocated {
		c.diff = filter.NewDiffCentral(0)
		c.velHP = filter.NewButterworth(cfg.HighpassOrder, cfg.HighpassCorner, true)
		c.velInt = filter.NewIntegrator()
	}
	if cfg.EnableDisplacement {
		c.dispHP = filter.NewButterworth(cfg.HighpassOrder, cfg.HighpassCorner, true)
		c.dispInt = filter.NewIntegrator()
	}
	return c
}

// Feed converts rec (native-unit) and forwards every enabled derivative to
// its routing processor.
func (c *Chain) Feed(ctx context.Context, rec *waveform.Record) error {
	c.checkContinuity(rec)

	// Native signal always forwarded as-is.
	if err := c.forward(ctx, c.nativeStream, rec); err != nil {
		return err
	}

	var velocityRecord *waveform.Record

	switch c.native {
	case NativeVelocity:
		velocityRecord = rec
		if c.cfg.EnableCoLocated {
			accel := rec.Clone()
			accel.Stream = accel.Stream.WithLocation(LocAccelFromVelocity)
			c.diff.Apply(accel.Samples)
			if err := c.forward(ctx, accel.Stream, accel); err != nil {
				return err
			}
		}
	case NativeAcceleration:
		if c.cfg.EnableCoLocated {
			vel := rec.Clone()
			vel.Stream = vel.Stream.WithLocation(LocVelFromAccel)
			c.velHP.Apply(vel.Samples)
			c.velInt.Apply(vel.Samples)
			velocityRecord = vel
			if err := c.forward(ctx, vel.Stream, vel); err != nil {
				return err
			}
		}
	}

	if c.cfg.EnableDisplacement && velocityRecord != nil {
		disp := velocityRecord.Clone()
		disp.Stream = disp.Stream.WithLocation(LocDisplacement)
		c.dispHP.Apply(disp.Samples)
		c.dispInt.Apply(disp.Samples)
		if err := c.forward(ctx, disp.Stream, disp); err != nil {
			return err
		}
	}

	c.lastEnd = rec.EndTime()
	c.fs = rec.SamplingFrequency
	c.haveLast = true
	return nil
}

// FeedPick fans a phase-arrival pick into every routing processor this
// chain owns (native plus whichever derived units are enabled), returning
// true if at least one accepted it.
func (c *Chain) FeedPick(ctx context.Context, pick *waveform.Pick) bool {
	routed := false
	for _, r := range c.routers {
		if r == nil {
			continue
		}
		if r.FeedPick(ctx, pick) {
			routed = true
		}
	}
	return routed
}

func (c *Chain) forward(ctx context.Context, key waveform.StreamID, rec *waveform.Record) error {
	r, ok := c.routers[key]
	if !ok || r == nil {
		return nil
	}
	return r.Feed(ctx, rec)
}

// checkContinuity resets all owned filters on a gap larger than half a
// sample period or a sampling-frequency change.
func (c *Chain) checkContinuity(rec *waveform.Record) {
	reset := false
	if !c.haveLast {
		reset = true
	} else if c.fs != rec.SamplingFrequency {
		reset = true
	} else {
		halfPeriod := time.Duration(0.5 / rec.SamplingFrequency * float64(time.Second))
		gap := rec.StartTime.Sub(c.lastEnd)
		if gap < -halfPeriod || gap > halfPeriod {
			reset = true
		}
	}
	if !reset {
		return
	}
	c.Reset()
	fs := rec.SamplingFrequency
	if c.diff != nil {
		c.diff.SetSamplingFrequency(fs)
	}
	if c.velHP != nil {
		c.velHP.SetSamplingFrequency(fs)
		c.velInt.SetSamplingFrequency(fs)
	}
	if c.dispHP != nil {
		c.dispHP.SetSamplingFrequency(fs)
		c.dispInt.SetSamplingFrequency(fs)
	}
	c.haveLast = false
}

// Reset clears all owned filter state.
func (c *Chain) Reset() {
	if c.diff != nil {
		c.diff.Reset()
	}
	if c.velHP != nil {
		c.velHP.Reset()
		c.velInt.Reset()
	}
	if c.dispHP != nil {
		c.dispHP.Reset()
		c.dispInt.Reset()
	}
	c.haveLast = false
}
