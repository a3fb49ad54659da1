// Package routing implements the fan-out routing processor: it holds
// every enabled amp.Processor for one target unit and fans conditioned
// records/picks into all of them.
package routing

import (
	"context"

	"github.com/SED-EEW/eewamps/amp"
	"github.com/SED-EEW/eewamps/waveform"
)

// Processor fans Feed/FeedPick/Reset into a slice of amp.Processor
//.
type Processor struct {
	algorithms []amp.Processor
}

// New returns a routing Processor fanning into the given algorithms.
func New(algorithms ...amp.Processor) *Processor {
	return &Processor{algorithms: algorithms}
}

// Add appends another algorithm processor to the fan-out set.
func (p *Processor) Add(a amp.Processor) { p.algorithms = append(p.algorithms, a) }

func (p *Processor) Feed(ctx context.Context, rec *waveform.Record) error {
	var firstErr error
	for _, a := range p.algorithms {
		if err := a.Feed(ctx, rec); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *Processor) FeedPick(ctx context.Context, pick *waveform.Pick) bool {
	routed := false
	for _, a := range p.algorithms {
		if a.FeedPick(ctx, pick) {
			routed = true
		}
	}
	return routed
}

func (p *Processor) Reset() {
	for _, a := range p.algorithms {
		a.Reset()
	}
}

var _ amp.Processor = (*Processor)(nil)
