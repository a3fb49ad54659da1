package amp_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/SED-EEW/eewamps/amp"
	"github.com/SED-EEW/eewamps/waveform"
)

func TestUnit_Constants(t *testing.T) {
	assert.Equal(t, amp.Unit("acc"), amp.UnitAcceleration)
	assert.Equal(t, amp.Unit("vel"), amp.UnitVelocity)
	assert.Equal(t, amp.Unit("disp"), amp.UnitDisplacement)
	assert.NotEqual(t, amp.UnitAcceleration, amp.UnitVelocity)
	assert.NotEqual(t, amp.UnitVelocity, amp.UnitDisplacement)
}

// fakeProcessor exercises amp.Processor's shape directly, independent of
// any real algorithm implementation.
type fakeProcessor struct {
	fed, reset int
}

func (f *fakeProcessor) Feed(_ context.Context, _ *waveform.Record) error { f.fed++; return nil }
func (f *fakeProcessor) FeedPick(_ context.Context, _ *waveform.Pick) bool { return false }
func (f *fakeProcessor) Reset()                                           { f.reset++ }

func TestProcessor_InterfaceIsSatisfiableByAMinimalType(t *testing.T) {
	var p amp.Processor = &fakeProcessor{}
	assert.NoError(t, p.Feed(context.Background(), &waveform.Record{}))
	assert.False(t, p.FeedPick(context.Background(), &waveform.Pick{}))
	p.Reset()
}
