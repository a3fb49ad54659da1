package ring_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SED-EEW/eewamps/ring"
)

type sample struct {
	t int64
	v float64
}

func (s sample) Stamp() int64 { return s.t }

// Invariant 1: after every feed, back.timestamp - front.timestamp <= capacity.
func TestRing_CapacityInvariant(t *testing.T) {
	r := ring.New[sample](2)
	for _, ts := range []int64{0, 1, 2, 3, 4, 5, 6} {
		require.True(t, r.Feed(sample{t: ts}))
		require.LessOrEqual(t, r.Back().Stamp()-r.Front().Stamp(), r.Capacity())
	}
}

// PGA ring eviction: capacity 2s (expressed in tenths here:
// 20). Feed at 0.0, 0.5, 1.0, 1.5, 2.0, 2.5; after last feed, ring holds
// exactly {0.5, 1.0, 1.5, 2.0, 2.5}.
func TestRing_ScenarioS3_Eviction(t *testing.T) {
	r := ring.New[sample](20) // units of tenths of a second
	for _, tenths := range []int64{0, 5, 10, 15, 20, 25} {
		r.Feed(sample{t: tenths})
	}
	var got []int64
	for _, it := range r.Items() {
		got = append(got, it.t)
	}
	assert.Equal(t, []int64{5, 10, 15, 20, 25}, got)
}

func TestRing_RejectsOutOfCapacity(t *testing.T) {
	r := ring.New[sample](10)
	require.True(t, r.Feed(sample{t: 100}))
	ok := r.Feed(sample{t: 50})
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())
}

func TestRing_TieBreakPreservesInsertionOrder(t *testing.T) {
	r := ring.New[sample](10)
	r.Feed(sample{t: 5, v: 1})
	r.Feed(sample{t: 5, v: 2})
	r.Feed(sample{t: 5, v: 3})
	items := r.Items()
	require.Len(t, items, 3)
	assert.Equal(t, []float64{1, 2, 3}, []float64{items[0].v, items[1].v, items[2].v})
}

func TestRing_EvictBefore(t *testing.T) {
	r := ring.New[sample](1000)
	for _, ts := range []int64{1, 2, 3, 4, 5} {
		r.Feed(sample{t: ts})
	}
	r.EvictBefore(4)
	var got []int64
	for _, it := range r.Items() {
		got = append(got, it.t)
	}
	assert.Equal(t, []int64{4, 5}, got)
}
