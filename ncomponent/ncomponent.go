// Package ncomponent implements the N-component synchronizer: it aligns two (or more) co-located streams into synthetic frames
// combined by a pointwise function, the L2 horizontal combination being
// the pipeline's only instance (N=2).
package ncomponent

import (
	"context"
	"math"
	"time"

	"github.com/SED-EEW/eewamps/ring"
	"github.com/SED-EEW/eewamps/telemetry/logging"
	"github.com/SED-EEW/eewamps/waveform"
)

// Combine is a pointwise combination function over N aligned samples.
type Combine func(samples []float64) float64

// L2 combines two orthogonal horizontal samples via sqrt(a^2+b^2)
//.
func L2(samples []float64) float64 {
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum)
}

type ringRecord struct {
	rec *waveform.Record
}

func (r ringRecord) Stamp() int64 { return r.rec.StartTime.UnixNano() }

type component struct {
	ring         *ring.Ring[ringRecord]
	committedEnd time.Time
	committed    bool
	fs           float64
}

// Operator synchronizes N streams into an aligned synthetic channel.
type Operator struct {
	streams        []waveform.StreamID
	combine        Combine
	synthetic      waveform.StreamID
	bufferDuration time.Duration
	maxDelay       time.Duration
	logger         logging.Logger

	components map[waveform.StreamID]*component
}

// NewOperator returns an Operator combining the given streams into
// synthetic, using bufferDuration as each component ring's time capacity
// and maxDelay as the
// warning threshold ("debug.maxHorizontalGap").
func NewOperator(streams []waveform.StreamID, synthetic waveform.StreamID, combine Combine, bufferDuration, maxDelay time.Duration, logger logging.Logger) *Operator {
	op := &Operator{
		streams:        streams,
		combine:        combine,
		synthetic:      synthetic,
		bufferDuration: bufferDuration,
		maxDelay:       maxDelay,
		logger:         logger,
		components:     make(map[waveform.StreamID]*component),
	}
	for _, s := range streams {
		op.components[s] = &component{ring: ring.New[ringRecord](bufferDuration.Nanoseconds())}
	}
	return op
}

// Feed appends rec to its component ring and attempts to produce a maximal
// aligned frame. Returns the synthetic record, or nil if no frame could yet
// be produced.
func (op *Operator) Feed(ctx context.Context, rec *waveform.Record) *waveform.Record {
	c, ok := op.components[rec.Stream]
	if !ok {
		return nil
	}
	if c.ring.Len() > 0 {
		last := c.ring.Back().rec
		if last.SamplingFrequency != rec.SamplingFrequency {
			if op.logger != nil {
				op.logger.WarnCtx(ctx, "ncomponent: sampling frequency mismatch, dropping older ring", "stream", rec.Stream.String())
			}
			c.ring.Reset()
		}
	}
	c.fs = rec.SamplingFrequency
	c.ring.Feed(ringRecord{rec: rec})

	out := op.tryEmit(ctx)
	op.checkDelay(ctx)
	return out
}

// tryEmit produces a maximal frame spanning [max(committed_end),
// min(ring_ends)] across all components, if one exists.
func (op *Operator) tryEmit(ctx context.Context) *waveform.Record {
	var start time.Time
	var end time.Time
	var fs float64
	first := true
	for _, s := range op.streams {
		c := op.components[s]
		if c.ring.Len() == 0 {
			return nil
		}
		back := c.ring.Back().rec
		fs = back.SamplingFrequency
		componentStart := back.StartTime
		if c.committed {
			componentStart = c.committedEnd
		} else {
			componentStart = c.ring.Front().rec.StartTime
		}
		componentEnd := back.EndTime()
		if first || componentStart.After(start) {
			start = componentStart
		}
		if first || componentEnd.Before(end) {
			end = componentEnd
		}
		first = false
	}
	if !end.After(start) {
		return nil
	}

	n := int(math.Round(end.Sub(start).Seconds() * fs))
	if n <= 0 {
		return nil
	}

	combined := make([]float64, n)
	clip := make([]bool, n)
	anyClip := false
	windows := make([][]float64, len(op.streams))
	for k, s := range op.streams {
		c := op.components[s]
		samples, clips := extractWindow(c.ring, start, n, fs)
		windows[k] = samples
		for i := 0; i < n; i++ {
			if clips[i] {
				clip[i] = true
				anyClip = true
			}
		}
	}
	point := make([]float64, len(op.streams))
	for i := range combined {
		for k := range windows {
			point[k] = windows[k][i]
		}
		combined[i] = op.combine(point)
	}
	var clipMask []bool
	if anyClip {
		clipMask = clip
	}

	for _, s := range op.streams {
		op.components[s].committedEnd = start.Add(time.Duration(float64(n) / fs * float64(time.Second)))
		op.components[s].committed = true
	}

	rec, err := waveform.NewRecord(op.synthetic, start, fs, combined, clipMask)
	if err != nil {
		if op.logger != nil {
			op.logger.ErrorCtx(ctx, "ncomponent: failed to build synthetic record", "err", err)
		}
		return nil
	}
	return rec
}

func extractWindow(r *ring.Ring[ringRecord], start time.Time, n int, fs float64) ([]float64, []bool) {
	samples := make([]float64, n)
	clips := make([]bool, n)
	for _, item := range r.Items() {
		rec := item.rec
		for i := 0; i < len(rec.Samples); i++ {
			t := rec.SampleTime(i)
			if t.Before(start) {
				continue
			}
			idx := int(math.Round(t.Sub(start).Seconds() * fs))
			if idx < 0 || idx >= n {
				continue
			}
			samples[idx] = rec.Samples[i]
			if rec.ClipMask != nil && rec.ClipMask[i] {
				clips[idx] = true
			}
		}
	}
	return samples, clips
}

// CurrentDelay reports the alignment lag observability metric: the max
// over components of (ring.back.end - committed_end) if all committed,
// else (ring.back.end - ring.front.start).
func (op *Operator) CurrentDelay() time.Duration {
	var max time.Duration
	for _, s := range op.streams {
		c := op.components[s]
		if c.ring.Len() == 0 {
			continue
		}
		back := c.ring.Back().rec
		var d time.Duration
		if c.committed {
			d = back.EndTime().Sub(c.committedEnd)
		} else {
			d = back.EndTime().Sub(c.ring.Front().rec.StartTime)
		}
		if d > max {
			max = d
		}
	}
	return max
}

func (op *Operator) checkDelay(ctx context.Context) {
	if op.maxDelay <= 0 {
		return
	}
	if d := op.CurrentDelay(); d > op.maxDelay && op.logger != nil {
		op.logger.WarnCtx(ctx, "ncomponent: horizontal delay exceeds threshold", "delay", d.String(), "threshold", op.maxDelay.String())
	}
}

// Reset clears all component rings and commitments.
func (op *Operator) Reset() {
	for _, c := range op.components {
		c.ring.Reset()
		c.committed = false
	}
}
