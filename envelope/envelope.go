// Package envelope implements the envelope peak processor, grounded on original_source
// .../eewamps/processors/envelope.cpp: a fixed-capacity sample pool
// accumulates |sample| over one interval-aligned time bin; on crossing the
// bin boundary the pool is flushed as the bin's peak amplitude and the
// window advances by one interval. The timestamp tagging convention uses
// the interval END time.
package envelope

import (
	"context"
	"math"
	"time"

	"github.com/SED-EEW/eewamps/amp"
	"github.com/SED-EEW/eewamps/filter"
	"github.com/SED-EEW/eewamps/telemetry/logging"
	"github.com/SED-EEW/eewamps/waveform"
)

// Result is one published envelope amplitude.
type Result struct {
	Unit      amp.Unit
	Stream    waveform.StreamID
	Amplitude float64
	EndTime   time.Time
	Clipped   bool
}

// PublishFunc delivers a Result to whatever side channel the dispatcher
// wires up (bus, record dump, test harness).
type PublishFunc func(Result)

// Config controls the interval width and the optional leading high-pass.
type Config struct {
	IntervalSeconds float64
	EnableFilter    bool
	FilterCorner    float64
	FilterOrder     int
}

// DefaultConfig mirrors vsfndr.envelopeInterval=1. The leading high-pass is
// off; when EnableFilter is set it uses corner 1/3 Hz, order 4. The
// vsfndr.filter{Acc,Vel,Disp} keys do not set EnableFilter: the dispatcher
// uses them to choose which unit branches it builds.
func DefaultConfig() Config {
	return Config{IntervalSeconds: 1, EnableFilter: false, FilterCorner: 1.0 / 3, FilterOrder: 4}
}

// Processor aggregates peak-absolute amplitude per interval for one
// stream+unit.
type Processor struct {
	unit   amp.Unit
	stream waveform.StreamID
	cfg    Config

	publish PublishFunc
	logger  logging.Logger

	filter   *filter.Butterworth
	filterFs float64

	initialized bool
	fs          float64
	dt          time.Duration
	interval    time.Duration

	currentStart time.Time
	currentEnd   time.Time

	pool    []float64
	clipped bool

	haveLast bool
	lastEnd  time.Time
}

// New returns a Processor for stream publishing Results of unit through
// publish. If cfg.EnableFilter, a leading 4th-order Butterworth high-pass
// (default corner 1/3 Hz) is applied before aggregation.
func New(stream waveform.StreamID, unit amp.Unit, cfg Config, publish PublishFunc, logger logging.Logger) *Processor {
	p := &Processor{
		unit:     unit,
		stream:   stream,
		cfg:      cfg,
		publish:  publish,
		logger:   logger,
		interval: time.Duration(cfg.IntervalSeconds * float64(time.Second)),
	}
	if cfg.EnableFilter {
		p.filter = filter.NewButterworth(cfg.FilterOrder, cfg.FilterCorner, true)
	}
	return p
}

// windowFor returns the interval-aligned [start, end) bracketing ref,
// T0 = floor(ref/interval) * interval from Unix epoch zero.
func (p *Processor) windowFor(ref time.Time) (time.Time, time.Time) {
	if p.interval <= 0 {
		return ref, ref
	}
	nanos := ref.UnixNano()
	step := p.interval.Nanoseconds()
	n := nanos / step
	if nanos%step != 0 && nanos < 0 {
		n--
	}
	start := time.Unix(0, n*step).UTC()
	return start, start.Add(p.interval)
}

// Feed conditions rec through the optional leading filter and accumulates
// its samples, flushing whenever a sample crosses the current interval end
//.
func (p *Processor) Feed(ctx context.Context, rec *waveform.Record) error {
	p.checkContinuity(rec)

	samples := append([]float64(nil), rec.Samples...)
	if p.filter != nil {
		if p.filterFs != p.fs {
			p.filter.SetSamplingFrequency(p.fs)
			p.filterFs = p.fs
		}
		samples = p.filter.Apply(samples)
	}

	t := rec.StartTime
	for i, v := range samples {
		for !t.Before(p.currentEnd) {
			p.flush()
			p.currentStart = p.currentEnd
			p.currentEnd = p.currentStart.Add(p.interval)
		}
		p.pool = append(p.pool, v)
		if i < len(rec.ClipMask) && rec.ClipMask[i] {
			p.clipped = true
		}
		t = t.Add(p.dt)
	}

	p.lastEnd = rec.EndTime()
	p.haveLast = true
	return nil
}

// FeedPick is a no-op: the envelope processor does not consume picks
//.
func (p *Processor) FeedPick(ctx context.Context, pick *waveform.Pick) bool { return false }

// checkContinuity resets the pool and realigns the interval window on a
// sampling-frequency change or a gap larger than half a sample period
//.
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
	if p.logger != nil && p.initialized {
		p.logger.InfoCtx(context.Background(), "envelope: discontinuity, resetting", "stream", rec.Stream.String())
	}
	p.Reset()
	p.fs = rec.SamplingFrequency
	p.dt = time.Duration(float64(time.Second) / p.fs)
	p.currentStart, p.currentEnd = p.windowFor(rec.StartTime)
	p.initialized = true
}

// flush publishes the pool's peak-absolute amplitude tagged at the
// interval's end time, then clears it. A no-op on an empty pool.
func (p *Processor) flush() {
	if len(p.pool) == 0 {
		return
	}
	peak := 0.0
	for _, v := range p.pool {
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	if p.publish != nil {
		p.publish(Result{
			Unit:      p.unit,
			Stream:    p.stream,
			Amplitude: peak,
			EndTime:   p.currentEnd,
			Clipped:   p.clipped,
		})
	}
	p.pool = p.pool[:0]
	p.clipped = false
}

// Reset clears all pool/filter state; the next Feed re-initializes the
// interval window from scratch.
func (p *Processor) Reset() {
	p.pool = p.pool[:0]
	p.clipped = false
	p.initialized = false
	p.haveLast = false
	if p.filter != nil {
		p.filter.Reset()
	}
}

var _ amp.Processor = (*Processor)(nil)
