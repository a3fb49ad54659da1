// Package waveform defines the core streaming data types shared by every
// processor in the amplitude pipeline: the stream identifier, the typed
// sample record, inventory epochs, three-component groupings, and the
// external acquisition/dump contracts.
package waveform

import (
	"fmt"
	"time"
)

// StreamID is the four-tuple network/station/location/channel identifier.
// Zero value is not a valid stream id.
type StreamID struct {
	Network  string
	Station  string
	Location string
	Channel  string
}

// String renders the dotted four-segment form used by the stream filter
// grammar and by log lines ("net.sta.loc.cha").
func (s StreamID) String() string {
	return fmt.Sprintf("%s.%s.%s.%s", s.Network, s.Station, s.Location, s.Channel)
}

// Instrument returns the first two characters of the channel code, the
// SEED "instrument code" (e.g. "HH", "HN").
func (s StreamID) Instrument() string {
	if len(s.Channel) < 2 {
		return s.Channel
	}
	return s.Channel[:2]
}

// Component returns the net.sta.loc prefix shared by a three-component
// group, used as the router/station-index key.
func (s StreamID) Component() string {
	return fmt.Sprintf("%s.%s.%s", s.Network, s.Station, s.Location)
}

// WithChannel returns a copy of s with the channel replaced, used to derive
// synthetic stream ids (horizontal L2 combination, unit conversion suffixes).
func (s StreamID) WithChannel(channel string) StreamID {
	s.Channel = channel
	return s
}

// WithLocation returns a copy of s with the location code replaced, used for
// the synthetic PA/PV/PD/EA/EV/ED/TP/TC location suffixes.
func (s StreamID) WithLocation(location string) StreamID {
	s.Location = location
	return s
}

// Record is a typed, contiguous sample sequence for one stream. Invariant:
// EndTime() == StartTime + len(Samples)/SamplingFrequency; ClipMask, when
// non-nil, has exactly len(Samples) entries.
type Record struct {
	Stream            StreamID
	StartTime         time.Time
	SamplingFrequency float64
	Samples           []float64
	ClipMask          []bool
}

// NewRecord constructs a Record, validating the clip-mask length invariant.
func NewRecord(stream StreamID, start time.Time, fs float64, samples []float64, clip []bool) (*Record, error) {
	if fs <= 0 {
		return nil, fmt.Errorf("waveform: sampling frequency must be positive, got %v", fs)
	}
	if clip != nil && len(clip) != len(samples) {
		return nil, fmt.Errorf("waveform: clip mask length %d does not match sample count %d", len(clip), len(samples))
	}
	return &Record{Stream: stream, StartTime: start, SamplingFrequency: fs, Samples: samples, ClipMask: clip}, nil
}

// EndTime returns the exclusive end of the record's time window.
func (r *Record) EndTime() time.Time {
	if r == nil || len(r.Samples) == 0 {
		return r.StartTime
	}
	return r.StartTime.Add(time.Duration(float64(len(r.Samples)) / r.SamplingFrequency * float64(time.Second)))
}

// SamplePeriod returns 1/SamplingFrequency as a time.Duration.
func (r *Record) SamplePeriod() time.Duration {
	return time.Duration(float64(time.Second) / r.SamplingFrequency)
}

// SampleTime returns the timestamp of sample index i.
func (r *Record) SampleTime(i int) time.Time {
	return r.StartTime.Add(time.Duration(float64(i) / r.SamplingFrequency * float64(time.Second)))
}

// AnyClipped reports whether any sample in the record is clipped.
func (r *Record) AnyClipped() bool {
	for _, c := range r.ClipMask {
		if c {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the record, used where a processor must own
// samples beyond the lifetime of the caller's Feed call.
func (r *Record) Clone() *Record {
	out := &Record{Stream: r.Stream, StartTime: r.StartTime, SamplingFrequency: r.SamplingFrequency}
	out.Samples = append([]float64(nil), r.Samples...)
	if r.ClipMask != nil {
		out.ClipMask = append([]bool(nil), r.ClipMask...)
	}
	return out
}

// Pick is an external phase-arrival declaration.
type Pick struct {
	ID        string
	Stream    StreamID
	Time      time.Time
	PhaseHint string
}
