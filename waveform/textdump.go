package waveform

import (
	"fmt"
	"io"
	"time"
)

// TextDumper is the reference Dumper: one line per record, synthetic
// location/channel codes carried as-is in Stream. No MiniSEED library
// exists in the dependency corpus this module draws from, so this is a
// deliberate plain-text stand-in for the debug record dump.
type TextDumper struct {
	w io.Writer
}

// NewTextDumper returns a Dumper writing to w.
func NewTextDumper(w io.Writer) *TextDumper { return &TextDumper{w: w} }

func (d *TextDumper) Dump(r *Record) error {
	if r == nil {
		return nil
	}
	_, err := fmt.Fprintf(d.w, "%s %s %.6f %d %.6f %t\n",
		r.Stream, r.StartTime.UTC().Format(time.RFC3339Nano), r.SamplingFrequency,
		len(r.Samples), lastSampleOrZero(r), r.AnyClipped())
	return err
}

func lastSampleOrZero(r *Record) float64 {
	if len(r.Samples) == 0 {
		return 0
	}
	return r.Samples[len(r.Samples)-1]
}
