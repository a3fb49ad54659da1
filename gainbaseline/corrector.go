// Package gainbaseline implements the per-stream gain and baseline
// correction filter, grounded on original_source
// .../eewamps/recordfilter/gainandbaselinecorrection.cpp.
package gainbaseline

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/SED-EEW/eewamps/filter"
	"github.com/SED-EEW/eewamps/inventory"
	"github.com/SED-EEW/eewamps/telemetry/logging"
	"github.com/SED-EEW/eewamps/waveform"
)

// Config holds the corrector's tunable parameters.
type Config struct {
	// SaturationPercent is the configured percent of 2^23 used as the
	// clip-detection threshold; default 80.
	SaturationPercent float64
	// BaselineBufferSeconds is the running-mean window length; default 60.
	BaselineBufferSeconds float64
	// TaperSeconds is the post-reset taper ramp length; default 60.
	TaperSeconds float64
	// EnableTaper toggles the optional post-reset taper.
	EnableTaper bool
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		SaturationPercent:     80,
		BaselineBufferSeconds: 60,
		TaperSeconds:          60,
		EnableTaper:           true,
	}
}

func (c Config) saturationThreshold() float64 {
	return math.Pow(2, 23) * c.SaturationPercent / 100
}

// Corrector applies gain removal, saturation detection, and running-mean
// baseline subtraction to one stream's records. One Corrector instance
// owns exactly one stream's state.
type Corrector struct {
	cfg    Config
	store  inventory.Store
	stream waveform.StreamID
	logger logging.Logger

	haveEpoch  bool
	epoch      waveform.Epoch
	gainFactor float64

	haveLast bool
	lastEnd  time.Time
	fs       float64

	baseline *filter.RunningMean
	taper    *filter.Taper
}

// New returns a Corrector for one stream, backed by store for epoch
// lookups.
func New(stream waveform.StreamID, store inventory.Store, cfg Config, logger logging.Logger) *Corrector {
	return &Corrector{
		cfg:      cfg,
		store:    store,
		stream:   stream,
		logger:   logger,
		baseline: filter.NewRunningMean(cfg.BaselineBufferSeconds),
		taper:    filter.NewTaper(cfg.TaperSeconds),
	}
}

// Clone returns a fresh Corrector for a different stream, giving the
// demultiplexer per-stream state while sharing configuration.
func (c *Corrector) Clone(stream waveform.StreamID) *Corrector {
	return New(stream, c.store, c.cfg, c.logger)
}

// Feed applies gain/baseline correction to rec. Returns (nil, nil) when the
// record must be dropped silently (no inventory, no matching epoch, no
// gain) — never an error; record-level drops are non-fatal.
func (c *Corrector) Feed(ctx context.Context, rec *waveform.Record) (*waveform.Record, error) {
	if !c.epochCovers(rec) {
		if !c.queryEpoch(ctx, rec) {
			return nil, nil
		}
	}
	if c.gainFactor == 0 {
		return nil, nil
	}

	out := rec.Clone()
	threshold := c.cfg.saturationThreshold()
	if threshold > 0 {
		for i, v := range out.Samples {
			if math.Abs(v) > threshold {
				if out.ClipMask == nil {
					out.ClipMask = make([]bool, len(out.Samples))
				}
				out.ClipMask[i] = true
			}
		}
	}

	for i := range out.Samples {
		out.Samples[i] *= c.gainFactor
	}

	c.checkContinuity(rec)

	c.baseline.ApplyBaseline(out.Samples)
	if c.cfg.EnableTaper {
		c.taper.Apply(out.Samples)
	}

	c.lastEnd = rec.EndTime()
	c.fs = rec.SamplingFrequency
	c.haveLast = true

	return out, nil
}

func (c *Corrector) epochCovers(rec *waveform.Record) bool {
	if !c.haveEpoch {
		return false
	}
	// Left outside
	if !rec.EndTime().After(c.epoch.Start) {
		return false
	}
	// Right outside
	if c.epoch.End != nil && !rec.StartTime.Before(*c.epoch.End) {
		return false
	}
	return true
}

func (c *Corrector) queryEpoch(ctx context.Context, rec *waveform.Record) bool {
	epoch, err := c.store.EpochAt(rec.Stream, rec.StartTime)
	if err != nil {
		if c.logger != nil {
			c.logger.ErrorCtx(ctx, "no metadata for record", "stream", rec.Stream.String(), "err", err)
		}
		c.haveEpoch = false
		c.gainFactor = 0
		return false
	}
	c.epoch = epoch
	c.haveEpoch = true
	if epoch.Gain == nil || *epoch.Gain == 0 {
		if c.logger != nil {
			c.logger.ErrorCtx(ctx, "no gain set for epoch", "stream", rec.Stream.String())
		}
		c.gainFactor = 0
		return false
	}
	c.gainFactor = 1.0 / *epoch.Gain
	return true
}

func (c *Corrector) checkContinuity(rec *waveform.Record) {
	if !c.haveLast {
		c.baseline.SetSamplingFrequency(rec.SamplingFrequency)
		if c.cfg.EnableTaper {
			c.taper.SetSamplingFrequency(rec.SamplingFrequency)
		}
		return
	}
	if c.fs != rec.SamplingFrequency {
		c.resetFilters(rec.SamplingFrequency)
		return
	}
	gap := rec.StartTime.Sub(c.lastEnd)
	halfPeriod := time.Duration(0.5 / rec.SamplingFrequency * float64(time.Second))
	if gap < -halfPeriod || gap > halfPeriod {
		c.resetFilters(rec.SamplingFrequency)
	}
}

func (c *Corrector) resetFilters(fs float64) {
	c.baseline.SetSamplingFrequency(fs)
	c.baseline.Reset()
	if c.cfg.EnableTaper {
		c.taper.SetSamplingFrequency(fs)
		c.taper.Reset()
	}
	c.haveLast = false
}

// Reset clears all owned filter and epoch state.
func (c *Corrector) Reset() {
	c.haveEpoch = false
	c.gainFactor = 0
	c.haveLast = false
	c.baseline.Reset()
	c.taper.Reset()
}

// Stream returns the stream this corrector owns.
func (c *Corrector) Stream() waveform.StreamID { return c.stream }

// Epoch returns the corrector's currently cached inventory epoch and
// whether one is cached, letting a caller (the dispatcher, building a
// preprocessor chain) learn the stream's native gain unit without
// repeating the inventory lookup the corrector already owns.
func (c *Corrector) Epoch() (waveform.Epoch, bool) { return c.epoch, c.haveEpoch }

func (c *Corrector) String() string {
	return fmt.Sprintf("gainbaseline.Corrector{%s}", c.stream)
}
