// Package demux implements the per-stream demultiplexer:
// it clones a template gain/baseline corrector for every unseen stream id,
// giving each stream independent filter and epoch-cache state.
package demux

import (
	"context"

	"github.com/SED-EEW/eewamps/gainbaseline"
	"github.com/SED-EEW/eewamps/waveform"
)

// Demux routes records to a per-stream-id corrector, lazily cloning the
// template on first sight of a stream.
type Demux struct {
	template *gainbaseline.Corrector
	chains   map[waveform.StreamID]*gainbaseline.Corrector
}

// New returns a Demux that clones template for every new stream id.
func New(template *gainbaseline.Corrector) *Demux {
	return &Demux{template: template, chains: make(map[waveform.StreamID]*gainbaseline.Corrector)}
}

// Feed looks up (or clones) the chain for rec.Stream and forwards rec.
func (d *Demux) Feed(ctx context.Context, rec *waveform.Record) (*waveform.Record, error) {
	chain, ok := d.chains[rec.Stream]
	if !ok {
		chain = d.template.Clone(rec.Stream)
		d.chains[rec.Stream] = chain
	}
	return chain.Feed(ctx, rec)
}

// Reset resets every cloned chain's filter state without forgetting the
// stream-id mapping.
func (d *Demux) Reset() {
	for _, c := range d.chains {
		c.Reset()
	}
}

// Corrector returns the cloned corrector owned for stream, if one has been
// created yet (a record has been fed for it at least once).
func (d *Demux) Corrector(stream waveform.StreamID) (*gainbaseline.Corrector, bool) {
	c, ok := d.chains[stream]
	return c, ok
}

// Streams returns the set of stream ids seen so far.
func (d *Demux) Streams() []waveform.StreamID {
	out := make([]waveform.StreamID, 0, len(d.chains))
	for s := range d.chains {
		out = append(out, s)
	}
	return out
}
