// Package onsitemag implements the onsite magnitude processor, grounded on original_source
// .../eewamps/processors/onsitemag.cpp: a velocity-only processor that
// maintains a tauP ring (3Hz low-passed velocity through the recursive
// Allen-Kanamori filter.TauP) and a tauC ring (raw velocity plus a
// single-integrated displacement), and on each "P"-hint pick opens a
// trigger tracking the maximum tauP over a window and a one-shot tauC/Pd
// computation once the window's data is continuously covered.
package onsitemag

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/SED-EEW/eewamps/amp"
	"github.com/SED-EEW/eewamps/filter"
	"github.com/SED-EEW/eewamps/ring"
	"github.com/SED-EEW/eewamps/telemetry/logging"
	"github.com/SED-EEW/eewamps/waveform"
)

// Clock abstracts wall-clock access for deterministic testing (same idiom
// as gba.Clock and the kept ratelimit.Clock).
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Config controls the window lengths and the leading/branch filter corners.
type Config struct {
	CutOffSeconds        float64 // trigger window length, default 3s
	TauPDeadTimeSeconds   float64 // default 0

	LeadingHighpassCorner float64 // default 0.075 Hz
	LeadingHighpassOrder  int     // default 4
	TauPLowpassCorner     float64 // default 3 Hz
	TauPLowpassOrder      int     // default 4
}

// DefaultConfig mirrors omp.cutOffTime=3s, omp.tauPDeadTime=0, and the
// leading/low-pass corners the source designs.
func DefaultConfig() Config {
	return Config{
		CutOffSeconds:         3,
		TauPDeadTimeSeconds:   0,
		LeadingHighpassCorner: 0.075,
		LeadingHighpassOrder:  4,
		TauPLowpassCorner:     3,
		TauPLowpassOrder:      4,
	}
}

// TauPResult is one tauP-max update.
type TauPResult struct {
	PickID      string
	Time        time.Time
	WindowStart time.Time
	WindowEnd   time.Time
	Value       float64
	Clipped     bool
}

// TauCPdResult is the one-shot tauC/Pd computation.
type TauCPdResult struct {
	PickID    string
	Time      time.Time
	WindowEnd time.Time
	TauC      float64
	Pd        float64
	Clipped   bool
}

// PublishTauPFunc and PublishTauCPdFunc deliver results to the dispatcher's
// side channel.
type PublishTauPFunc func(TauPResult)
type PublishTauCPdFunc func(TauCPdResult)

type tauPRecord struct {
	start    time.Time
	fs       float64
	values   []float64
	clipMask []bool
}

func (r tauPRecord) Stamp() int64 { return r.start.UnixNano() }
func (r tauPRecord) endTime() time.Time {
	return r.start.Add(time.Duration(float64(len(r.values)) / r.fs * float64(time.Second)))
}
func (r tauPRecord) sampleTime(i int) time.Time {
	return r.start.Add(time.Duration(float64(i) / r.fs * float64(time.Second)))
}

type tauCRecord struct {
	start        time.Time
	fs           float64
	velocity     []float64
	displacement []float64
	clipMask     []bool
}

func (r tauCRecord) Stamp() int64 { return r.start.UnixNano() }
func (r tauCRecord) endTime() time.Time {
	return r.start.Add(time.Duration(float64(len(r.velocity)) / r.fs * float64(time.Second)))
}

// trigger holds one pick's tauP/tauC tracking state.
type trigger struct {
	id       string
	time     time.Time
	tauPMax  float64
	tauPTime time.Time
	gotTauC  bool
}

// Processor is the velocity-only onsite magnitude processor.
type Processor struct {
	cfg           Config
	publishTauP   PublishTauPFunc
	publishTauCPd PublishTauCPdFunc
	logger        logging.Logger
	clock         Clock

	leadingHP *filter.Butterworth
	lowPass   *filter.Butterworth
	tauP      *filter.TauP
	dispInt   *filter.Integrator

	initialized bool
	fs          float64
	haveLast    bool
	lastEnd     time.Time

	tauPRing *ring.Ring[tauPRecord]
	tauCRing *ring.Ring[tauCRecord]

	triggers []*trigger
}

// New returns a Processor publishing tauP and tauC/Pd results.
func New(cfg Config, publishTauP PublishTauPFunc, publishTauCPd PublishTauCPdFunc, logger logging.Logger) *Processor {
	capacity := int64(cfg.CutOffSeconds * float64(time.Second))
	return &Processor{
		cfg:           cfg,
		publishTauP:   publishTauP,
		publishTauCPd: publishTauCPd,
		logger:        logger,
		clock:         systemClock{},
		leadingHP:     filter.NewButterworth(cfg.LeadingHighpassOrder, cfg.LeadingHighpassCorner, true),
		lowPass:       filter.NewButterworth(cfg.TauPLowpassOrder, cfg.TauPLowpassCorner, false),
		tauP:          filter.NewTauP(0),
		dispInt:       filter.NewIntegrator(),
		tauPRing:      ring.New[tauPRecord](capacity),
		tauCRing:      ring.New[tauCRecord](capacity),
	}
}

// WithClock overrides the wall clock used for the pick late-arrival gate
// and trigger eviction (tests only).
func (p *Processor) WithClock(c Clock) *Processor {
	p.clock = c
	return p
}

// Feed conditions a velocity record through the leading high-pass, then
// branches into the tauP path (3Hz low-pass + recursive tauP filter) and
// the tauC path (raw velocity + single-integrated displacement), feeding
// both rings and recomputing every open trigger.
func (p *Processor) Feed(ctx context.Context, rec *waveform.Record) error {
	p.checkContinuity(rec)

	data := append([]float64(nil), rec.Samples...)
	data = p.leadingHP.Apply(data)

	tauPValues := append([]float64(nil), data...)
	tauPValues = p.lowPass.Apply(tauPValues)
	tauPValues = p.tauP.Apply(tauPValues)
	p.tauPRing.Feed(tauPRecord{start: rec.StartTime, fs: p.fs, values: tauPValues, clipMask: rec.ClipMask})

	displacement := append([]float64(nil), data...)
	displacement = p.dispInt.Apply(displacement)
	p.tauCRing.Feed(tauCRecord{start: rec.StartTime, fs: p.fs, velocity: data, displacement: displacement, clipMask: rec.ClipMask})

	now := p.clock.Now()
	for _, t := range p.triggers {
		p.updateTrigger(t)
	}
	p.trimTriggers(now)

	p.lastEnd = rec.EndTime()
	p.haveLast = true
	return nil
}

// FeedPick opens a trigger for "P"-hint picks that arrived within the
// cutoff window.
func (p *Processor) FeedPick(ctx context.Context, pick *waveform.Pick) bool {
	if pick.PhaseHint != "P" {
		return false
	}
	now := p.clock.Now()
	cutoff := time.Duration(p.cfg.CutOffSeconds * float64(time.Second))
	if diff := now.Sub(pick.Time); diff >= cutoff {
		if p.logger != nil {
			p.logger.WarnCtx(ctx, "onsitemag: pick arrived too late", "pick", pick.ID, "delay", diff.String())
		}
		return false
	}

	t := &trigger{id: pick.ID, time: pick.Time}
	p.updateTrigger(t)
	p.triggers = append(p.triggers, t)
	sort.Slice(p.triggers, func(i, j int) bool { return p.triggers[i].time.Before(p.triggers[j].time) })
	p.trimTriggers(now)
	return true
}

// updateTrigger recomputes tauP-max (always) and tauC/Pd (once, when the
// window is fully covered) for one trigger.
func (p *Processor) updateTrigger(t *trigger) {
	p.updateTauP(t)
	if !t.gotTauC {
		p.updateTauCPd(t)
	}
}

func (p *Processor) updateTauP(t *trigger) {
	startTime := t.time.Add(time.Duration(p.cfg.TauPDeadTimeSeconds * float64(time.Second)))
	endTime := t.time.Add(time.Duration(p.cfg.CutOffSeconds * float64(time.Second)))

	updated := false
	clipped := false
	var maxEvalTime time.Time

	for _, rec := range p.tauPRing.Items() {
		if !rec.endTime().After(startTime) {
			continue
		}
		n := len(rec.values)
		startSample := int(startTime.Sub(rec.start).Seconds() * rec.fs)
		if startSample < 0 {
			startSample = 0
		}
		if startSample >= n {
			continue
		}
		endSample := int(endTime.Sub(rec.start).Seconds()*rec.fs) + 1
		if endSample > n {
			endSample = n
		}
		if endSample <= startSample {
			continue
		}

		end := rec.start.Add(time.Duration(float64(endSample) / rec.fs * float64(time.Second)))
		if end.After(maxEvalTime) {
			maxEvalTime = end
		}

		if rec.clipMask != nil {
			for i := startSample; i < endSample; i++ {
				if i < len(rec.clipMask) && rec.clipMask[i] {
					clipped = true
					break
				}
			}
		}

		for i := startSample; i < endSample; i++ {
			peak := rec.values[i] // tauP is already non-negative
			if peak > t.tauPMax {
				t.tauPMax = peak
				t.tauPTime = rec.sampleTime(i)
				updated = true
			}
		}
	}

	if updated && p.publishTauP != nil {
		p.publishTauP(TauPResult{
			PickID:      t.id,
			Time:        t.tauPTime,
			WindowStart: startTime,
			WindowEnd:   maxEvalTime,
			Value:       t.tauPMax,
			Clipped:     clipped,
		})
	}
}

// updateTauCPd computes tauC and Pd once the tauC ring has continuous
// coverage of [trigger.time, trigger.time+cutoff]; a gap
// within the window invalidates the computation for this trigger (latches
// gotTauC without publishing).
func (p *Processor) updateTauCPd(t *trigger) {
	if p.tauCRing.Len() == 0 {
		return
	}
	endTime := t.time.Add(time.Duration(p.cfg.CutOffSeconds * float64(time.Second)))
	if p.tauCRing.Back().endTime().Before(endTime) {
		return // window not yet complete
	}

	var integralV, integralD float64
	var lastV2, lastD2 float64
	havePrev := false
	pd := -1.0
	clipped := false
	var lastEnd time.Time
	haveLastEnd := false
	gapOK := true

	for _, rec := range p.tauCRing.Items() {
		if !rec.endTime().After(t.time) {
			continue
		}
		n := len(rec.velocity)
		var startSample int
		if haveLastEnd {
			gap := rec.start.Sub(lastEnd)
			halfPeriod := time.Duration(0.5 / rec.fs * float64(time.Second))
			if gap > halfPeriod {
				gapOK = false
				break
			}
			startSample = int(lastEnd.Sub(rec.start).Seconds() * rec.fs)
		} else {
			startSample = int(t.time.Sub(rec.start).Seconds() * rec.fs)
		}
		if startSample < 0 {
			startSample = 0
		}
		if startSample >= n {
			lastEnd = rec.endTime()
			haveLastEnd = true
			continue
		}
		endSample := int(endTime.Sub(rec.start).Seconds()*rec.fs) + 1
		if endSample > n {
			endSample = n
		}

		if rec.clipMask != nil {
			for i := startSample; i < endSample && i < len(rec.clipMask); i++ {
				if rec.clipMask[i] {
					clipped = true
					break
				}
			}
		}

		for i := startSample; i < endSample; i++ {
			v2 := rec.velocity[i] * rec.velocity[i]
			d2 := rec.displacement[i] * rec.displacement[i]
			if !havePrev {
				lastV2, lastD2 = v2, d2
				havePrev = true
			} else {
				dt := 1.0 / rec.fs
				fac := dt * 0.5
				integralV += (v2 + lastV2) * fac
				integralD += (d2 + lastD2) * fac
				lastV2, lastD2 = v2, d2
			}
			if a := math.Abs(rec.displacement[i]); a > pd {
				pd = a
			}
		}

		lastEnd = rec.endTime()
		haveLastEnd = true
	}

	t.gotTauC = true
	if !gapOK || integralD <= 0 {
		if p.logger != nil && !gapOK {
			p.logger.WarnCtx(context.Background(), "onsitemag: gap detected, tauC computation abandoned", "pick", t.id)
		}
		return
	}

	tauC := 2 * math.Pi / math.Sqrt(integralV/integralD)
	if p.publishTauCPd != nil {
		p.publishTauCPd(TauCPdResult{
			PickID:    t.id,
			Time:      t.time,
			WindowEnd: endTime,
			TauC:      tauC,
			Pd:        pd,
			Clipped:   clipped,
		})
	}
}

func (p *Processor) trimTriggers(referenceTime time.Time) {
	cutoff := time.Duration(p.cfg.CutOffSeconds * float64(time.Second))
	i := 0
	for i < len(p.triggers) && referenceTime.Sub(p.triggers[i].time) > cutoff {
		i++
	}
	if i > 0 {
		p.triggers = append(p.triggers[:0], p.triggers[i:]...)
	}
}

// checkContinuity resets all filters/rings on a sampling-frequency change
// or a gap larger than half a sample period.
func (p *Processor) checkContinuity(rec *waveform.Record) {
	reset := false
	if !p.initialized {
		reset = true
	} else if p.fs != rec.SamplingFrequency {
		reset = true
	} else {
		halfPeriod := time.Duration(0.5 / rec.SamplingFrequency * float64(time.Second))
		gap := rec.StartTime.Sub(p.lastEnd)
		if gap < -halfPeriod || gap > halfPeriod {
			reset = true
		}
	}
	if !reset {
		return
	}
	// A stream-level gap/rate-change resets filters and rings only — the
	// open trigger buffer survives, matching
	// OnsiteMagnitudeProcessor::reset() in the source, which clears
	// _tauPBuffer/_tauCBuffer but not _triggerBuffer (unlike GbAProcessor's
	// reset(), which does clear its trigger buffer).
	p.resetFilters()
	p.fs = rec.SamplingFrequency
	p.leadingHP.SetSamplingFrequency(p.fs)
	p.lowPass.SetSamplingFrequency(p.fs)
	p.tauP.SetSamplingFrequency(p.fs)
	p.dispInt.SetSamplingFrequency(p.fs)
	p.initialized = true
}

func (p *Processor) resetFilters() {
	p.leadingHP.Reset()
	p.lowPass.Reset()
	p.tauP.Reset()
	p.dispInt.Reset()
	p.tauPRing.Reset()
	p.tauCRing.Reset()
	p.initialized = false
	p.haveLast = false
}

// Reset clears all filter, ring, and trigger state.
func (p *Processor) Reset() {
	p.resetFilters()
	p.triggers = nil
}

var _ amp.Processor = (*Processor)(nil)
