// Package inventory stands in for the out-of-scope FDSN inventory metadata
// store: epoch lookup and three-component grouping. Store is the read-only contract; Memory is an
// in-memory reference implementation for tests and the small reference CLI.
package inventory

import (
	"fmt"
	"sync"
	"time"

	"github.com/SED-EEW/eewamps/waveform"
)

// Store is the read-only inventory metadata contract used by the gain/
// baseline corrector and the router.
type Store interface {
	// EpochAt returns the epoch covering t for stream, or an error if no
	// matching epoch exists.
	EpochAt(stream waveform.StreamID, t time.Time) (waveform.Epoch, error)
	// ThreeComponents returns the group a stream belongs to.
	ThreeComponents(stream waveform.StreamID) (waveform.ThreeComponentGroup, error)
}

// ErrNoEpoch is returned by Store.EpochAt when no epoch covers the query
// time.
type ErrNoEpoch struct {
	Stream waveform.StreamID
	At     time.Time
}

func (e *ErrNoEpoch) Error() string {
	return fmt.Sprintf("inventory: no epoch covers %s at %s", e.Stream, e.At.UTC().Format(time.RFC3339))
}

// ErrNoGroup is returned by Store.ThreeComponents when the stream has no
// known three-component grouping.
type ErrNoGroup struct{ Stream waveform.StreamID }

func (e *ErrNoGroup) Error() string {
	return fmt.Sprintf("inventory: no three-component group for %s", e.Stream)
}

// Memory is an in-memory Store guarded by a read-write mutex. The inventory is stable for
// the process lifetime — Memory is populated once at startup and never
// mutated by the dispatcher goroutine.
type Memory struct {
	mu     sync.RWMutex
	epochs map[waveform.StreamID][]waveform.Epoch
	groups map[waveform.StreamID]waveform.ThreeComponentGroup
}

// NewMemory returns an empty in-memory inventory.
func NewMemory() *Memory {
	return &Memory{
		epochs: make(map[waveform.StreamID][]waveform.Epoch),
		groups: make(map[waveform.StreamID]waveform.ThreeComponentGroup),
	}
}

// AddEpoch registers an epoch for stream.
func (m *Memory) AddEpoch(stream waveform.StreamID, e waveform.Epoch) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.epochs[stream] = append(m.epochs[stream], e)
}

// AddGroup registers the three-component group for every member stream id.
func (m *Memory) AddGroup(g waveform.ThreeComponentGroup) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[g.Vertical] = g
	m.groups[g.HorizontalA] = g
	m.groups[g.HorizontalB] = g
}

func (m *Memory) EpochAt(stream waveform.StreamID, t time.Time) (waveform.Epoch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.epochs[stream] {
		if e.Contains(t) {
			return e, nil
		}
	}
	return waveform.Epoch{}, &ErrNoEpoch{Stream: stream, At: t}
}

func (m *Memory) ThreeComponents(stream waveform.StreamID) (waveform.ThreeComponentGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[stream]
	if !ok {
		return waveform.ThreeComponentGroup{}, &ErrNoGroup{Stream: stream}
	}
	return g, nil
}

var _ Store = (*Memory)(nil)
