// Package gba implements the nine-band Gutenberg filter-bank processor,
// grounded on original_source
// .../eewamps/processors/gba.cpp: a bank of band-pass (Highlowpass)
// filters runs over every incoming velocity record, the filtered snapshot
// feeds a time-capacity amplitude ring, and "P"-hint pick arrivals open
// triggers whose per-band peak amplitude is recomputed against the ring on
// every new record.
package gba

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

// Clock abstracts wall-clock access for deterministic testing, mirroring
// the ratelimit.Clock idiom used elsewhere in this codebase.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Passband is one band-pass branch of the filter bank.
type Passband struct {
	Lo, Hi float64
}

// Config controls the filter bank's passbands, ring depth, and trigger
// window.
type Config struct {
	Passbands     []Passband
	BufferSeconds float64 // amplitude ring depth, default 10s
	CutOffSeconds float64 // trigger window length, default 10s

	LeadingHighpassCorner float64 // default 0.075 Hz
	LeadingHighpassOrder  int     // default 4

	BandOrder int // default 4
}

// DefaultPassbands reproduces the nine-octave bank built by the source's
// config defaults: starting at 48 Hz, each band halves both corners nine
// times ([24,48] down to [0.09375,0.1875]), stored ascending by corner.
func DefaultPassbands() []Passband {
	bands := make([]Passband, 9)
	hi := 48.0
	for i := 0; i < 9; i++ {
		lo := hi * 0.5
		bands[8-i] = Passband{Lo: lo, Hi: hi}
		hi = lo
	}
	return bands
}

// DefaultConfig mirrors gba.bufferSize=10s, gba.cutOffTime=10s, and the
// leading ButterworthHighpass<double>(4, 0.075) the source applies before
// the filter bank.
func DefaultConfig() Config {
	return Config{
		Passbands:             DefaultPassbands(),
		BufferSeconds:         10,
		CutOffSeconds:         10,
		LeadingHighpassCorner: 0.075,
		LeadingHighpassOrder:  4,
		BandOrder:             4,
	}
}

// Result is one published trigger amplitude update.
type Result struct {
	PickID      string
	Peaks       []float64
	PeakTime    time.Time
	WindowStart time.Time
	WindowEnd   time.Time
	Clipped     bool
}

// PublishFunc delivers a Result to the dispatcher's side channel.
type PublishFunc func(Result)

// bandRecord is one amplitude-ring entry: the record's start time plus one
// filtered sample array per band.
type bandRecord struct {
	stream   waveform.StreamID
	start    time.Time
	fs       float64
	filtered [][]float64
	clipMask []bool
}

func (b bandRecord) Stamp() int64 { return b.start.UnixNano() }

func (b bandRecord) n() int {
	if len(b.filtered) == 0 {
		return 0
	}
	return len(b.filtered[0])
}

func (b bandRecord) endTime() time.Time {
	return b.start.Add(time.Duration(float64(b.n()) / b.fs * float64(time.Second)))
}

func (b bandRecord) sampleTime(i int) time.Time {
	return b.start.Add(time.Duration(float64(i) / b.fs * float64(time.Second)))
}

// trigger holds one pick's per-band peak tracking state.
type trigger struct {
	id       string
	time     time.Time
	peaks    []float64
	peakTime time.Time
	clipped  bool
}

// Processor is the velocity-only filter bank processor.
type Processor struct {
	cfg     Config
	publish PublishFunc
	logger  logging.Logger
	clock   Clock

	leadingHP *filter.Butterworth
	bank      []*filter.Highlowpass

	initialized bool
	fs          float64
	haveLast    bool
	lastEnd     time.Time

	buffer *ring.Ring[bandRecord]

	triggers []*trigger
}

// New returns a Processor publishing trigger-amplitude Results through
// publish.
func New(cfg Config, publish PublishFunc, logger logging.Logger) *Processor {
	p := &Processor{
		cfg:       cfg,
		publish:   publish,
		logger:    logger,
		clock:     systemClock{},
		leadingHP: filter.NewButterworth(cfg.LeadingHighpassOrder, cfg.LeadingHighpassCorner, true),
		buffer:    ring.New[bandRecord](int64(cfg.BufferSeconds * float64(time.Second))),
	}
	p.bank = make([]*filter.Highlowpass, len(cfg.Passbands))
	for i, band := range cfg.Passbands {
		p.bank[i] = filter.NewHighlowpass(cfg.BandOrder, band.Lo, band.Hi)
	}
	return p
}

// WithClock overrides the wall clock used for the pick late-arrival gate
// and trigger eviction (tests only; production keeps the system clock).
func (p *Processor) WithClock(c Clock) *Processor {
	p.clock = c
	return p
}

// Feed conditions a velocity record through the leading high-pass and the
// N-band filter bank, stores the filtered snapshot in the amplitude ring,
// and recomputes every open trigger against it.
func (p *Processor) Feed(ctx context.Context, rec *waveform.Record) error {
	p.checkContinuity(rec)

	data := append([]float64(nil), rec.Samples...)
	data = p.leadingHP.Apply(data)

	filtered := make([][]float64, len(p.bank))
	for i, band := range p.bank {
		branch := append([]float64(nil), data...)
		filtered[i] = band.Apply(branch)
	}

	p.buffer.Feed(bandRecord{
		stream:   rec.Stream,
		start:    rec.StartTime,
		fs:       p.fs,
		filtered: filtered,
		clipMask: rec.ClipMask,
	})

	now := p.clock.Now()
	p.updateAllTriggers(ctx)
	p.trimTriggers(now)

	p.lastEnd = rec.EndTime()
	p.haveLast = true
	return nil
}

// FeedPick opens a trigger for "P"-hint picks that arrived within the
// cutoff window, immediately evaluating it against the buffered history
//.
func (p *Processor) FeedPick(ctx context.Context, pick *waveform.Pick) bool {
	if pick.PhaseHint != "P" {
		return false
	}
	now := p.clock.Now()
	cutoff := time.Duration(p.cfg.CutOffSeconds * float64(time.Second))
	if diff := now.Sub(pick.Time); diff >= cutoff {
		if p.logger != nil {
			p.logger.WarnCtx(ctx, "gba: pick arrived too late", "pick", pick.ID, "delay", diff.String())
		}
		return false
	}

	t := &trigger{id: pick.ID, time: pick.Time, peaks: make([]float64, len(p.bank))}
	p.updateTrigger(t)
	p.triggers = append(p.triggers, t)
	sort.Slice(p.triggers, func(i, j int) bool { return p.triggers[i].time.Before(p.triggers[j].time) })
	p.trimTriggers(now)
	return true
}

// updateAllTriggers recomputes every open trigger against the amplitude
// ring.
func (p *Processor) updateAllTriggers(ctx context.Context) {
	for _, t := range p.triggers {
		p.updateTrigger(t)
	}
}

// updateTrigger scans the amplitude ring for samples inside
// [t.time, t.time+cutoff) and updates the per-band peak, publishing on
// every update.
func (p *Processor) updateTrigger(t *trigger) {
	cutoff := time.Duration(p.cfg.CutOffSeconds * float64(time.Second))
	var windowEnd time.Time
	updated := false

	for _, rec := range p.buffer.Items() {
		if !rec.endTime().After(t.time) {
			continue
		}
		startSample := int(t.time.Sub(rec.start).Seconds() * rec.fs)
		if startSample < 0 {
			startSample = 0
		}
		n := rec.n()
		if startSample >= n {
			continue
		}
		endSample := int(t.time.Add(cutoff).Sub(rec.start).Seconds()*rec.fs) + 1
		if endSample > n {
			endSample = n
		}
		if endSample <= startSample {
			continue
		}

		end := rec.start.Add(time.Duration(float64(endSample) / rec.fs * float64(time.Second)))
		if end.After(windowEnd) {
			windowEnd = end
		}

		if rec.clipMask != nil {
			for i := startSample; i < endSample; i++ {
				if i < len(rec.clipMask) && rec.clipMask[i] {
					t.clipped = true
					break
				}
			}
		}

		for band, samples := range rec.filtered {
			for i := startSample; i < endSample; i++ {
				peak := math.Abs(samples[i])
				if peak > t.peaks[band] {
					t.peaks[band] = peak
					t.peakTime = rec.sampleTime(i)
					updated = true
				}
			}
		}
	}

	if !updated {
		return
	}
	if p.publish != nil {
		peaks := append([]float64(nil), t.peaks...)
		p.publish(Result{
			PickID:      t.id,
			Peaks:       peaks,
			PeakTime:    t.peakTime,
			WindowStart: t.time,
			WindowEnd:   windowEnd,
			Clipped:     t.clipped,
		})
	}
}

// trimTriggers evicts triggers older than cutoff relative to referenceTime
//.
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

// checkContinuity resets the filter bank, amplitude ring and gap state on
// a sampling-frequency change or a gap larger than half a sample period,
// keeping the open triggers.
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
	// A continuity reset clears filters and the amplitude ring only; open
	// triggers survive it.
	triggers := p.triggers
	p.Reset()
	p.triggers = triggers
	p.fs = rec.SamplingFrequency
	p.leadingHP.SetSamplingFrequency(p.fs)
	for _, band := range p.bank {
		band.SetSamplingFrequency(p.fs)
	}
	p.initialized = true
}

// Reset clears all filter, buffer, and trigger state.
func (p *Processor) Reset() {
	p.leadingHP.Reset()
	for _, band := range p.bank {
		band.Reset()
	}
	p.buffer.Reset()
	p.triggers = nil
	p.initialized = false
	p.haveLast = false
}

var _ amp.Processor = (*Processor)(nil)
