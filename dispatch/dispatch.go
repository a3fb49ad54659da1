// Package dispatch implements the single-threaded cooperative scheduler:
// a record-acquisition loop and a periodic 1 Hz timer drive every other
// package in this module — gain/baseline correction, routing (which
// itself owns the horizontal N-component combination on the way into a
// chain), the per-unit algorithm fan-out, the FinDer driver, and the VS
// envelope consumer — with no internal locking beyond what each owned
// package already does defensively. All mutable pipeline state is owned
// by the Dispatcher goroutine; nothing here is safe for concurrent use
// from a second goroutine, matching the single-loop coordinator pattern
// in cli/cmd/ariadne/main.go.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/SED-EEW/eewamps/amp"
	"github.com/SED-EEW/eewamps/bus"
	"github.com/SED-EEW/eewamps/config"
	"github.com/SED-EEW/eewamps/demux"
	"github.com/SED-EEW/eewamps/envelope"
	"github.com/SED-EEW/eewamps/finder"
	"github.com/SED-EEW/eewamps/gainbaseline"
	"github.com/SED-EEW/eewamps/gba"
	"github.com/SED-EEW/eewamps/inventory"
	"github.com/SED-EEW/eewamps/onsitemag"
	"github.com/SED-EEW/eewamps/preprocessor"
	"github.com/SED-EEW/eewamps/router"
	"github.com/SED-EEW/eewamps/routing"
	"github.com/SED-EEW/eewamps/telemetry/logging"
	"github.com/SED-EEW/eewamps/telemetry/metrics"
	"github.com/SED-EEW/eewamps/telemetry/tracing"
	"github.com/SED-EEW/eewamps/vsconsumer"
	"github.com/SED-EEW/eewamps/waveform"
)

// Clock abstracts time.Now for wall-clock delay warnings, mirroring the
// gba/onsitemag Clock idiom so tests can inject a fixed time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Deps bundles the Dispatcher's external collaborators. Store, Acquirer,
// and FinDerAlgorithm are collaborators provided by the surrounding
// acquisition system, not owned by this package; the rest are optional and
// default sensibly.
type Deps struct {
	Store        inventory.Store
	Acquirer     waveform.Acquirer
	Bus          bus.Bus
	Logger       logging.Logger
	Dumper       waveform.Dumper
	Clock        Clock
	FinDerAlgorithm finder.Algorithm

	// Metrics and Tracer are optional observability collaborators; nil
	// defaults to noop implementations.
	Metrics metrics.Provider
	Tracer  tracing.Tracer

	// Test suppresses every bus send.
	Test bool
	// Playback uses the latest record end time as the driver's reference
	// time instead of wall-clock.
	Playback bool
	// SyncEvery is the bus-backpressure period.
	SyncEvery uint64
}

// Dispatcher wires every processor package into one cooperative pipeline:
// demux → router (which combines the horizontal pair on the way in) →
// preprocessor chains → per-unit routing processors (envelope/GbA/OMP) →
// FinDer driver and VS envelope consumer.
type Dispatcher struct {
	cfg      *config.Config
	store    inventory.Store
	acquirer waveform.Acquirer
	busClient bus.Bus
	logger   logging.Logger
	dumper   waveform.Dumper
	clock    Clock
	filter   *config.StreamFilter
	tracer   tracing.Tracer

	recordsProcessed metrics.Counter
	recordErrors     metrics.Counter
	busSent          metrics.Counter

	test      bool
	playback  bool
	syncEvery uint64
	sendCount uint64

	demux  *demux.Demux
	router *router.Router

	finderDriver *finder.Driver
	vsConsumer   *vsconsumer.Consumer

	stationInfo map[waveform.StreamID]finder.StationInfo

	lastRecordEnd time.Time
	ctx           context.Context
}

// New builds a Dispatcher from cfg and deps. cfg must already have passed
// Validate (the FinDer config path etc. are the caller's concern, not
// this package's).
func New(cfg *config.Config, deps Deps) (*Dispatcher, error) {
	filter, err := config.NewStreamFilter(cfg)
	if err != nil {
		return nil, err
	}

	clock := deps.Clock
	if clock == nil {
		clock = systemClock{}
	}
	dumper := deps.Dumper
	if dumper == nil {
		dumper = waveform.NopDumper{}
	}
	syncEvery := deps.SyncEvery
	if syncEvery == 0 {
		syncEvery = 100
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = tracing.NewNoopTracer()
	}
	metricsProvider := deps.Metrics
	if metricsProvider == nil {
		metricsProvider = metrics.NewNoopProvider()
	}

	d := &Dispatcher{
		cfg:         cfg,
		store:       deps.Store,
		acquirer:    deps.Acquirer,
		busClient:   deps.Bus,
		logger:      deps.Logger,
		dumper:      dumper,
		clock:       clock,
		filter:      filter,
		tracer:      tracer,
		test:        deps.Test,
		playback:    deps.Playback,
		syncEvery:   syncEvery,
		stationInfo: make(map[waveform.StreamID]finder.StationInfo),
		ctx:         context.Background(),

		recordsProcessed: metricsProvider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "eewamps", Subsystem: "dispatch", Name: "records_processed_total", Help: "records accepted by processRecord", Labels: []string{"network"},
		}}),
		recordErrors: metricsProvider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "eewamps", Subsystem: "dispatch", Name: "record_errors_total", Help: "records that failed processing", Labels: []string{"network"},
		}}),
		busSent: metricsProvider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "eewamps", Subsystem: "dispatch", Name: "bus_sent_total", Help: "messages published to the bus", Labels: []string{"topic"},
		}}),
	}

	gbCfg := gainbaseline.DefaultConfig()
	gbCfg.SaturationPercent = cfg.SaturationThreshold
	gbCfg.BaselineBufferSeconds = cfg.BaselineCorrectionBuffer
	gbCfg.TaperSeconds = cfg.TaperLength
	template := gainbaseline.New(waveform.StreamID{}, deps.Store, gbCfg, deps.Logger)
	d.demux = demux.New(template)

	horizontalBuffer := time.Duration(cfg.HorizontalBuffer * float64(time.Second))
	maxHorizontalGap := time.Duration(cfg.Debug.MaxHorizontalGap * float64(time.Second))
	d.router = router.New(deps.Store, d.chainFactory, horizontalBuffer, maxHorizontalGap, deps.Logger)

	vsCfg := vsconsumer.DefaultConfig()
	d.vsConsumer = vsconsumer.New(vsCfg)

	finderCfg := finder.DefaultConfig()
	finderCfg.BufferSeconds = cfg.EnvelopeBufferSize
	finderCfg.DefaultWindowSeconds = cfg.DefaultFinDerEnvelopeLength
	if cfg.ScanInterval > 0 {
		finderCfg.ScanInterval = time.Duration(cfg.ScanInterval * float64(time.Second))
	}
	if cfg.ProcessInterval > 0 {
		finderCfg.ProcessInterval = time.Duration(cfg.ProcessInterval * float64(time.Second))
	}
	finderCfg.MaxEnvelopeBufferDelay = cfg.MaxEnvelopeBufferDelay
	finderCfg.ClipTimeout = cfg.ClipTimeout
	d.finderDriver = finder.New(finderCfg, deps.FinDerAlgorithm, dispatcherLocator{d}, d.publishFinder, deps.Logger)

	return d, nil
}

// dispatcherLocator adapts the Dispatcher's chain-build-time station
// registry to finder.StationLocator.
type dispatcherLocator struct{ d *Dispatcher }

func (l dispatcherLocator) Locate(stream waveform.StreamID) (finder.StationInfo, bool) {
	info, ok := l.d.stationInfo[stream]
	return info, ok
}

// chainFactory builds a preprocessor.Chain for a stream first seen by the
// router, wiring the envelope/GbA/OMP routing
// processors for every unit the configuration enables and registering
// each resulting stream id's station coordinate and NATIVE gain unit for
// the FinDer driver's accelerometer gate. stream is the chain's native forwarding id — the raw vertical
// id, or the synthetic combined id for the horizontal chain — and group is
// the three-component group the router resolved it from, so this never
// needs its own inventory lookup (the synthetic id isn't in the inventory
// at all).
func (d *Dispatcher) chainFactory(stream waveform.StreamID, native preprocessor.NativeUnit, group waveform.ThreeComponentGroup) *preprocessor.Chain {
	coordinate := finder.Coordinate{Latitude: group.Latitude, Longitude: group.Longitude}
	nativeGainUnit := waveform.GainUnitVelocity
	if native == preprocessor.NativeAcceleration {
		nativeGainUnit = waveform.GainUnitAcceleration
	}

	routers := make(map[waveform.StreamID]*routing.Processor)

	switch native {
	case preprocessor.NativeVelocity:
		routers[stream] = d.buildRoutingProcessor(stream, amp.UnitVelocity, d.cfg.VSFndr.FilterVel, true)
		if d.cfg.VSFndr.FilterAcc {
			accStream := stream.WithLocation(preprocessor.LocAccelFromVelocity)
			routers[accStream] = d.buildRoutingProcessor(accStream, amp.UnitAcceleration, true, false)
			d.stationInfo[accStream] = finder.StationInfo{Coordinate: coordinate, GainUnit: nativeGainUnit}
		}
	case preprocessor.NativeAcceleration:
		routers[stream] = d.buildRoutingProcessor(stream, amp.UnitAcceleration, d.cfg.VSFndr.FilterAcc, false)
		velStream := stream.WithLocation(preprocessor.LocVelFromAccel)
		routers[velStream] = d.buildRoutingProcessor(velStream, amp.UnitVelocity, d.cfg.VSFndr.FilterVel, true)
		d.stationInfo[velStream] = finder.StationInfo{Coordinate: coordinate, GainUnit: nativeGainUnit}
	}
	d.stationInfo[stream] = finder.StationInfo{Coordinate: coordinate, GainUnit: nativeGainUnit}

	if d.cfg.VSFndr.FilterDisp {
		dispStream := stream.WithLocation(preprocessor.LocDisplacement)
		routers[dispStream] = d.buildRoutingProcessor(dispStream, amp.UnitDisplacement, true, false)
		d.stationInfo[dispStream] = finder.StationInfo{Coordinate: coordinate, GainUnit: nativeGainUnit}
	}

	pcfg := preprocessor.DefaultConfig()
	// An acceleration-native stream always derives the co-located velocity
	// branch, which GbA/OMP run on. A velocity-native stream derives its
	// acceleration branch only when vsfndr.filterAcc is set, and the
	// displacement branch is derived only when vsfndr.filterDisp is set.
	pcfg.EnableCoLocated = native == preprocessor.NativeAcceleration || d.cfg.VSFndr.FilterAcc
	pcfg.EnableDisplacement = d.cfg.VSFndr.FilterDisp

	return preprocessor.New(stream, native, pcfg, routers)
}

// buildRoutingProcessor fans an envelope.Processor (when withEnvelope) and,
// for the velocity unit, a gba.Processor and onsitemag.Processor (when
// withVelocityAlgorithms) into one routing.Processor.
func (d *Dispatcher) buildRoutingProcessor(stream waveform.StreamID, unit amp.Unit, withEnvelope, withVelocityAlgorithms bool) *routing.Processor {
	rp := routing.New()

	if withEnvelope {
		ecfg := envelope.DefaultConfig()
		if d.cfg.VSFndr.EnvelopeInterval > 0 {
			ecfg.IntervalSeconds = d.cfg.VSFndr.EnvelopeInterval
		}
		rp.Add(envelope.New(stream, unit, ecfg, d.publishEnvelope, d.logger))
	}

	if withVelocityAlgorithms {
		gcfg := gba.DefaultConfig()
		if d.cfg.FilterBank.BufferLength > 0 {
			gcfg.BufferSeconds = d.cfg.FilterBank.BufferLength
		}
		if d.cfg.FilterBank.CutoffTime > 0 {
			gcfg.CutOffSeconds = d.cfg.FilterBank.CutoffTime
		}
		gbaProc := gba.New(gcfg, func(r gba.Result) { d.publishFilterBank(stream, r) }, d.logger).WithClock(d.clock)
		rp.Add(gbaProc)

		ocfg := onsitemag.DefaultConfig()
		ocfg.TauPDeadTimeSeconds = d.cfg.TauP.DeadTime
		if d.cfg.TauP.CutOffTime > 0 {
			ocfg.CutOffSeconds = d.cfg.TauP.CutOffTime
		}
		omp := onsitemag.New(ocfg,
			func(r onsitemag.TauPResult) { d.publishTauP(stream, r) },
			func(r onsitemag.TauCPdResult) { d.publishTauCPd(stream, r) },
			d.logger).WithClock(d.clock)
		rp.Add(omp)
	}

	return rp
}

// Run drives the acquisition/tick loop until ctx is cancelled or the
// acquirer signals end of stream.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return d.shutdown(ctx)
		case now := <-ticker.C:
			d.ctx = ctx
			d.onTick(ctx, d.tickTime(now))
		default:
		}

		recCtx, cancel := context.WithTimeout(ctx, time.Second)
		rec, pick, err := d.acquirer.Next(recCtx)
		cancel()

		switch {
		case errors.Is(err, context.DeadlineExceeded):
			continue
		case errors.Is(err, waveform.ErrEndOfStream):
			return d.shutdown(ctx)
		case err != nil:
			return err
		}

		d.ctx = ctx
		if pick != nil {
			d.routePick(ctx, pick)
		}
		if rec != nil {
			if err := d.processRecord(ctx, rec); err != nil && d.logger != nil {
				d.logger.ErrorCtx(ctx, "dispatch: record processing failed", "stream", rec.Stream.String(), "err", err)
			}
		}
	}
}

func (d *Dispatcher) tickTime(wallNow time.Time) time.Time {
	if d.playback {
		return d.lastRecordEnd
	}
	return wallNow
}

func (d *Dispatcher) onTick(ctx context.Context, tick time.Time) {
	if tick.IsZero() {
		return
	}
	if d.finderDriver != nil {
		d.finderDriver.Tick(ctx, tick)
	}
}

// processRecord runs one acquired record through gain/baseline correction
// and routing; the router itself owns the per-station
// N-component combination for a horizontal member.
func (d *Dispatcher) processRecord(ctx context.Context, rec *waveform.Record) error {
	ctx, span := d.tracer.StartSpan(ctx, "dispatch.processRecord")
	defer span.End()
	span.SetAttribute("stream", rec.Stream.String())

	if err := d.doProcessRecord(ctx, rec); err != nil {
		d.recordErrors.Inc(1, rec.Stream.Network)
		return err
	}
	d.recordsProcessed.Inc(1, rec.Stream.Network)
	return nil
}

func (d *Dispatcher) doProcessRecord(ctx context.Context, rec *waveform.Record) error {
	if d.filter != nil && !d.filter.Allow(rec.Stream.String()) {
		return nil
	}
	d.checkRecordDelay(ctx, rec)

	corrected, err := d.demux.Feed(ctx, rec)
	if err != nil {
		return err
	}
	if corrected == nil {
		return nil // gain correction dropped the record silently (no usable epoch)
	}
	if err := d.dumper.Dump(corrected); err != nil && d.logger != nil {
		d.logger.WarnCtx(ctx, "dispatch: record dump failed", "err", err)
	}

	native, ok := d.nativeUnit(corrected.Stream)
	if !ok {
		return nil
	}

	return d.router.Route(ctx, corrected, native)
}

// nativeUnit resolves the native gain unit the demux corrector cached for
// stream at its last inventory lookup.
func (d *Dispatcher) nativeUnit(stream waveform.StreamID) (preprocessor.NativeUnit, bool) {
	c, ok := d.demux.Corrector(stream)
	if !ok {
		return "", false
	}
	epoch, ok := c.Epoch()
	if !ok {
		return "", false
	}
	if epoch.Unit.IsAccelerometric() {
		return preprocessor.NativeAcceleration, true
	}
	return preprocessor.NativeVelocity, true
}

func (d *Dispatcher) routePick(ctx context.Context, pick *waveform.Pick) {
	routed := d.router.RoutePick(ctx, pick, func(chain *preprocessor.Chain) {
		chain.FeedPick(ctx, pick)
	})
	if !routed && d.logger != nil {
		d.logger.WarnCtx(ctx, "dispatch: pick matched no routed station", "pick", pick.ID, "stream", pick.Stream.String())
	}
}

// checkRecordDelay warns when a record arrives more than debug.maxDelay
// seconds behind wall-clock, and tracks the latest observed
// record end time for playback-mode ticking.
func (d *Dispatcher) checkRecordDelay(ctx context.Context, rec *waveform.Record) {
	end := rec.EndTime()
	if d.lastRecordEnd.Before(end) {
		d.lastRecordEnd = end
	}
	if d.playback {
		return
	}
	delay := d.clock.Now().Sub(end)
	maxDelay := time.Duration(d.cfg.Debug.MaxDelay * float64(time.Second))
	if delay > maxDelay && d.logger != nil {
		d.logger.WarnCtx(ctx, "dispatch: record end time is stale", "stream", rec.Stream.String(), "delay_seconds", delay.Seconds())
	}
}

// publishEnvelope fans one envelope result to the VS timeline, the FinDer
// driver (acceleration only), and the bus.
func (d *Dispatcher) publishEnvelope(r envelope.Result) {
	d.vsConsumer.Feed(r)
	if r.Unit == amp.UnitAcceleration {
		d.finderDriver.Feed(d.ctx, r)
	}
	d.send("envelope", r)
}

func (d *Dispatcher) publishFilterBank(stream waveform.StreamID, r gba.Result) {
	d.send("filterbank", filterBankMessage{Stream: stream, Result: r})
}

func (d *Dispatcher) publishTauP(stream waveform.StreamID, r onsitemag.TauPResult) {
	d.send("onsitemag.taup", tauPMessage{Stream: stream, Result: r})
}

func (d *Dispatcher) publishTauCPd(stream waveform.StreamID, r onsitemag.TauCPdResult) {
	d.send("onsitemag.taucpd", tauCPdMessage{Stream: stream, Result: r})
}

func (d *Dispatcher) publishFinder(b finder.Bundle) {
	d.send("origin", b)
}

// filterBankMessage, tauPMessage, tauCPdMessage tag a per-stream result for
// the bus, since gba/onsitemag results carry no stream identity of their
// own (they are scoped by the routing.Processor that owns them).
type filterBankMessage struct {
	Stream waveform.StreamID
	Result gba.Result
}

type tauPMessage struct {
	Stream waveform.StreamID
	Result onsitemag.TauPResult
}

type tauCPdMessage struct {
	Stream waveform.StreamID
	Result onsitemag.TauCPdResult
}

// send publishes payload to topic unless running in test/offline mode,
// requesting a bus sync token every syncEvery sends.
func (d *Dispatcher) send(topic string, payload any) {
	if d.test || d.busClient == nil {
		return
	}
	if err := d.busClient.Send(topic, payload); err != nil && d.logger != nil {
		d.logger.ErrorCtx(d.ctx, "dispatch: bus send failed", "topic", topic, "err", err)
	}
	d.busSent.Inc(1, topic)
	d.sendCount++
	if d.syncEvery > 0 && d.sendCount%d.syncEvery == 0 {
		syncCtx, cancel := context.WithTimeout(d.ctx, 2*time.Second)
		if err := d.busClient.Sync(syncCtx); err != nil && d.logger != nil {
			d.logger.WarnCtx(d.ctx, "dispatch: bus sync failed", "err", err)
		}
		cancel()
	}
}

// shutdown drains any pending bus sync before returning: pending timers
// drain, then the dispatcher terminates. Go's garbage collector (not
// manual teardown) reclaims every owned processor once Run returns, so
// there is no explicit reverse-creation-order destruction step to
// perform.
func (d *Dispatcher) shutdown(ctx context.Context) error {
	if d.logger != nil {
		d.logger.InfoCtx(ctx, "dispatch: shutting down")
	}
	if d.busClient != nil && !d.test {
		syncCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.busClient.Sync(syncCtx); err != nil && d.logger != nil {
			d.logger.WarnCtx(ctx, "dispatch: final bus sync failed", "err", err)
		}
	}
	return nil
}

// VSConsumer exposes the VS envelope timeline for an external estimator
// to query.
func (d *Dispatcher) VSConsumer() *vsconsumer.Consumer { return d.vsConsumer }
