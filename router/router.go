// Package router implements the three-component routing table, grounded on original_source
// .../eewamps/router.cpp (full read): RoutingTable maps stream id to
// preprocessor chain, StationIndexTable maps net.sta.loc to every owned
// chain for pick dispatch. Routing precedes preprocessing, and the horizontal
// pair must combine before reaching it, so the router also owns the
// per-station N-component operator that combines the two raw horizontal
// channels into the synthetic signal the horizontal preprocessor chain
// actually runs on.
package router

import (
	"context"
	"time"

	"github.com/SED-EEW/eewamps/inventory"
	"github.com/SED-EEW/eewamps/ncomponent"
	"github.com/SED-EEW/eewamps/preprocessor"
	"github.com/SED-EEW/eewamps/telemetry/logging"
	"github.com/SED-EEW/eewamps/waveform"
)

// ChainFactory builds a preprocessor.Chain for one stream given its native
// unit and the three-component group it belongs to; supplied by the
// dispatcher so the router stays decoupled from per-unit routing-processor
// wiring. stream is the chain's native forwarding id: the raw vertical id
// for a vertical chain, the synthetic combined id for a horizontal chain.
type ChainFactory func(stream waveform.StreamID, native preprocessor.NativeUnit, group waveform.ThreeComponentGroup) *preprocessor.Chain

// routeEntry is what the routing table resolves a stream id to: the owning
// chain, and (for a horizontal member) the station key used to find the
// shared N-component combiner.
type routeEntry struct {
	chain      *preprocessor.Chain
	horizontal bool
	station    string
}

// Router builds three-component groups from inventory on first sight of a
// stream and dispatches subsequent records/picks to the owning
// preprocessor.Chain. For the horizontal pair it runs each
// raw record through the station's N-component operator first, forwarding
// to the chain only once a combined synthetic frame is available.
type Router struct {
	store   inventory.Store
	factory ChainFactory
	logger  logging.Logger

	horizontalBuffer time.Duration
	maxHorizontalGap time.Duration

	// routingTable maps the full stream id to its route entry: one entry
	// for the vertical id, two entries (both horizontals) sharing a
	// horizontal entry.
	routingTable map[waveform.StreamID]routeEntry
	// combiners maps station key to the N-component operator combining
	// that station's two horizontal channels.
	combiners map[string]*ncomponent.Operator
	// stationIndexTable maps the net.sta.loc key (StreamID.Component) to
	// every chain owned under it, for pick dispatch; a pick reaches only the
	// chains whose network, station and location match its own.
	stationIndexTable map[string][]*preprocessor.Chain
}

// New returns a Router backed by store, using factory to build chains.
// horizontalBuffer and maxHorizontalGap configure the per-station
// N-component operator.
func New(store inventory.Store, factory ChainFactory, horizontalBuffer, maxHorizontalGap time.Duration, logger logging.Logger) *Router {
	return &Router{
		store:             store,
		factory:           factory,
		logger:            logger,
		horizontalBuffer:  horizontalBuffer,
		maxHorizontalGap:  maxHorizontalGap,
		routingTable:      make(map[waveform.StreamID]routeEntry),
		combiners:         make(map[string]*ncomponent.Operator),
		stationIndexTable: make(map[string][]*preprocessor.Chain),
	}
}

// Route dispatches rec to the owning preprocessor chain, creating the
// three-component group (and, for a horizontal member, the station's
// N-component combiner) lazily on first sight. native is the physical unit
// the record's inventory gain was calibrated in (known to the caller from
// the gain/baseline corrector's epoch lookup).
func (r *Router) Route(ctx context.Context, rec *waveform.Record, native preprocessor.NativeUnit) error {
	entry, ok := r.routingTable[rec.Stream]
	if ok {
		return r.dispatch(ctx, entry, rec)
	}

	group, err := r.store.ThreeComponents(rec.Stream)
	if err != nil {
		if r.logger != nil {
			r.logger.WarnCtx(ctx, "router: no three-component group, cannot route", "stream", rec.Stream.String(), "err", err)
		}
		return nil
	}

	synthetic := group.HorizontalA.WithChannel(group.HorizontalA.Instrument() + "X")
	vertical := r.factory(group.Vertical, native, group)
	horizontal := r.factory(synthetic, native, group)
	combiner := ncomponent.NewOperator([]waveform.StreamID{group.HorizontalA, group.HorizontalB}, synthetic, ncomponent.L2, r.horizontalBuffer, r.maxHorizontalGap, r.logger)
	key := group.Vertical.Component()

	verticalEntry := routeEntry{chain: vertical}
	horizontalEntry := routeEntry{chain: horizontal, horizontal: true, station: key}
	r.routingTable[group.Vertical] = verticalEntry
	r.routingTable[group.HorizontalA] = horizontalEntry
	r.routingTable[group.HorizontalB] = horizontalEntry
	r.combiners[key] = combiner
	r.stationIndexTable[key] = append(r.stationIndexTable[key], vertical, horizontal)

	if r.logger != nil {
		r.logger.InfoCtx(ctx, "router: created three-component routing", "station", key)
	}

	if rec.Stream == group.Vertical {
		return r.dispatch(ctx, verticalEntry, rec)
	}
	return r.dispatch(ctx, horizontalEntry, rec)
}

// dispatch feeds rec to entry's chain, running it through the station's
// N-component combiner first when entry is a horizontal member.
func (r *Router) dispatch(ctx context.Context, entry routeEntry, rec *waveform.Record) error {
	if entry.chain == nil {
		return nil
	}
	if !entry.horizontal {
		return entry.chain.Feed(ctx, rec)
	}

	combiner := r.combiners[entry.station]
	if combiner == nil {
		return nil
	}
	synthetic := combiner.Feed(ctx, rec)
	if synthetic == nil {
		return nil
	}
	return entry.chain.Feed(ctx, synthetic)
}

// RoutePick dispatches pick to every chain owned at its station.
func (r *Router) RoutePick(ctx context.Context, pick *waveform.Pick, feed func(*preprocessor.Chain)) bool {
	chains := r.stationIndexTable[pick.Stream.Component()]
	if len(chains) == 0 {
		return false
	}
	for _, c := range chains {
		feed(c)
	}
	return true
}

// Reset clears the routing table, combiners, and station index; owned
// processors are not torn down before this call, only forgotten.
func (r *Router) Reset() {
	r.routingTable = make(map[waveform.StreamID]routeEntry)
	r.combiners = make(map[string]*ncomponent.Operator)
	r.stationIndexTable = make(map[string][]*preprocessor.Chain)
}
