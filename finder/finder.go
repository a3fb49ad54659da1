// Package finder implements the PGA ring and FinDer driver, grounded on original_source/apps/eew/scfinder/main.cpp: a
// per-station time-capacity PGA ring (App::Buddy::pgas) tracks a running
// maximum (App::Buddy::updateMaximum), envelope arrivals drive a reference
// time, and a throttled scan/process loop (App::callFinder) builds the
// accelerometer-only PGA list FinDer.scan consumes and drives each open
// Finder object's process() call. The FinDer algorithm itself, and the
// object it returns per event, are out of scope and
// are represented here as the Algorithm/Event interfaces.
package finder

import (
	"context"
	"sort"
	"time"

	"github.com/SED-EEW/eewamps/amp"
	"github.com/SED-EEW/eewamps/envelope"
	"github.com/SED-EEW/eewamps/geo"
	"github.com/SED-EEW/eewamps/ring"
	"github.com/SED-EEW/eewamps/telemetry/logging"
	"github.com/SED-EEW/eewamps/waveform"
)

// Coordinate is a latitude/longitude pair.
type Coordinate struct {
	Latitude  float64
	Longitude float64
}

// Config controls the PGA ring depth, the adaptive window, and the
// scan/process throttling.
type Config struct {
	BufferSeconds          float64 // envelopeBufferSize, default 120
	DefaultWindowSeconds   float64 // defaultFinDerEnvelopeLength, default 60
	ScanInterval           time.Duration
	ProcessInterval        time.Duration
	MaxEnvelopeBufferDelay float64 // default 15
	ClipTimeout            float64 // default 30

	// AdaptiveWindowFactor and RuptureLengthUnitSeconds are the "1.5" and
	// the rupture-length-to-window-unit scaling kept verbatim as named
	// constants rather than hard-coded: scaled
	// = ruptureLengthKM * RuptureLengthUnitSeconds, var_window = min(buffer,
	// max(var_window, AdaptiveWindowFactor*scaled)).
	AdaptiveWindowFactor     float64
	RuptureLengthUnitSeconds float64
}

// DefaultConfig mirrors the upstream FinDer driver's tuning defaults.
func DefaultConfig() Config {
	return Config{
		BufferSeconds:            120,
		DefaultWindowSeconds:     60,
		ScanInterval:             time.Second,
		ProcessInterval:          time.Second,
		MaxEnvelopeBufferDelay:   15,
		ClipTimeout:              30,
		AdaptiveWindowFactor:     1.5,
		RuptureLengthUnitSeconds: 1.0,
	}
}

// PGA is one station's scan-list entry, already converted to cm/s^2
//.
type PGA struct {
	Station    string
	Network    string
	Location   string
	Channel    string
	Instrument string
	Coordinate Coordinate
	ValueCmS2  float64
	Timestamp  time.Time
}

// NewEventParams is what Algorithm.Scan hands back for each freshly
// detected source.
type NewEventParams struct {
	Epicenter Coordinate
}

// ProcessResult is the per-event outcome of one process() call
// (App::Finder::get_finder_flags / get_finder_length_list).
type ProcessResult struct {
	Message      bool
	LengthList   []float64 // rupture-length PDF samples; non-empty gates message emission
	HoldObject   bool
	Epicenter    Coordinate
	EpicenterUnc Coordinate // degree uncertainty, lat/lon
	Depth        float64
	OriginTime   time.Time
	NstatUsed    int
	Magnitude    float64
	MagnitudeUnc float64
}

// Event is the opaque per-event FinDer handle the driver owns until the
// algorithm signals "do not hold".
type Event interface {
	EventID() int64
	Process(ctx context.Context, tick time.Time, pgaList []PGA) (ProcessResult, error)
	RuptureLengthKM() float64
}

// Algorithm is the external line-source finite-fault estimator
//.
type Algorithm interface {
	// Scan returns the epicenter of each newly detected source.
	Scan(ctx context.Context, pgaList []PGA, active []Event) ([]NewEventParams, error)
	// NewEvent constructs the opaque per-event handle for a fresh
	// detection, assigning it eventID.
	NewEvent(epicenter Coordinate, pgaList []PGA, eventID int64, bufferSeconds int64) Event
}

// StationInfo is the sensor-location metadata the driver needs per
// station (stands in for SensorLocation + its calibration gain unit).
type StationInfo struct {
	Coordinate Coordinate
	GainUnit   waveform.GainUnit
}

// StationLocator resolves a stream's station coordinates and native gain
// unit (stands in for
// Client::Inventory::Instance()->getSensorLocation()).
type StationLocator interface {
	Locate(stream waveform.StreamID) (StationInfo, bool)
}

// Bundle is the origin+magnitude+strong-motion message emitted when a
// FinDer event signals message.
type Bundle struct {
	Origin       Origin
	Magnitudes   []Magnitude
	StrongMotion StrongMotion
}

// Origin is the FinDer-method origin.
type Origin struct {
	Latitude             float64
	LatitudeUncertainty  float64 // km
	Longitude            float64
	LongitudeUncertainty float64 // km
	Depth                float64
	Time                 time.Time
	UsedStationCount     int
	UsedPhaseCount       int // number of scan-list PGAs; no amplitude threshold is applied
	Likelihood           float64
}

// Magnitude is one of Mfd/Mfdr/Mfdl.
type Magnitude struct {
	Type        string
	Value       float64
	Uncertainty float64
}

// StrongMotion describes the rupture geometry and per-station PGA peaks
//.
type StrongMotion struct {
	RuptureLengthPDF []float64
	Width            float64
	GeometryWKT      string
	StrikePDF        []float64
	Peaks            []PGA
}

// PublishFunc delivers a Bundle to the dispatcher's bus.
type PublishFunc func(Bundle)

// pgaRecord is one PGA-ring entry (App::Amplitude).
type pgaRecord struct {
	value     float64
	timestamp time.Time
	channel   string
	clipped   bool
}

func (r pgaRecord) Stamp() int64 { return r.timestamp.UnixNano() }

// station is the per-net.sta.loc accumulator (App::Buddy).
type station struct {
	stream            waveform.StreamID
	unit              waveform.GainUnit
	coordinate        Coordinate
	located           bool
	ring              *ring.Ring[pgaRecord]
	maxValue          float64
	maxTimestamp      time.Time
	maxChannel        string
	lastClippedTime   time.Time
	haveLastClippedAt bool
}

func (s *station) updateMaximum(minValid time.Time) bool {
	lastValue, lastTime := s.maxValue, s.maxTimestamp
	s.maxValue, s.maxTimestamp, s.maxChannel = 0, time.Time{}, ""

	items := s.ring.Items()
	if len(items) == 0 || items[len(items)-1].timestamp.Before(minValid) {
		return s.maxTimestamp != lastTime || s.maxValue != lastValue
	}
	for _, it := range items {
		if it.timestamp.Before(minValid) {
			continue
		}
		if s.maxTimestamp.IsZero() || it.value >= s.maxValue {
			s.maxTimestamp = it.timestamp
			s.maxValue = it.value
			s.maxChannel = it.channel
		}
	}
	return s.maxTimestamp != lastTime || s.maxValue != lastValue
}

// Driver is the per-station PGA ring plus the scan/process loop that
// drives Algorithm.
type Driver struct {
	cfg       Config
	algorithm Algorithm
	locator   StationLocator
	publish   PublishFunc
	logger    logging.Logger

	stations map[string]*station

	refTime   time.Time
	varWindow float64
	lastScan  time.Time
	lastProc  time.Time
	events    []Event
	nextEvent int64
}

// New returns a Driver. algorithm may be nil in a dry-run configuration
// (scan/process become no-ops); locator resolves station coordinates.
func New(cfg Config, algorithm Algorithm, locator StationLocator, publish PublishFunc, logger logging.Logger) *Driver {
	return &Driver{
		cfg:       cfg,
		algorithm: algorithm,
		locator:   locator,
		publish:   publish,
		logger:    logger,
		stations:  make(map[string]*station),
		varWindow: cfg.DefaultWindowSeconds,
	}
}

// Feed ingests one envelope result. Non-acceleration units
// are rejected, matching App::handleEnvelope's signalUnit() guard.
func (d *Driver) Feed(ctx context.Context, r envelope.Result) {
	if r.Unit != amp.UnitAcceleration {
		if d.logger != nil {
			d.logger.WarnCtx(ctx, "finder: unexpected envelope unit", "stream", r.Stream.String(), "unit", string(r.Unit))
		}
		return
	}

	key := r.Stream.Component()
	st, ok := d.stations[key]
	if !ok {
		info, found := StationInfo{}, false
		if d.locator != nil {
			info, found = d.locator.Locate(r.Stream)
		}
		if !found {
			if d.logger != nil {
				d.logger.WarnCtx(ctx, "finder: no sensor location, ignoring envelope value", "stream", r.Stream.String())
			}
			return
		}
		st = &station{
			stream:     r.Stream,
			unit:       info.GainUnit,
			coordinate: info.Coordinate,
			located:    true,
			ring:       ring.New[pgaRecord](int64(d.cfg.BufferSeconds * float64(time.Second))),
		}
		d.stations[key] = st
	}

	referenceTimeUpdated := false
	if d.refTime.Before(r.EndTime) {
		d.refTime = r.EndTime
		referenceTimeUpdated = true
	}
	minValid := d.refTime.Add(-time.Duration(d.varWindow * float64(time.Second)))

	needUpdate := false
	if st.ring.Feed(pgaRecord{value: r.Amplitude, timestamp: r.EndTime, channel: r.Stream.Channel, clipped: r.Clipped}) {
		if r.Clipped {
			st.lastClippedTime = r.EndTime
			st.haveLastClippedAt = true
		}
		if st.maxTimestamp.Before(minValid) || r.EndTime.Before(minValid) || r.Amplitude >= st.maxValue {
			if st.updateMaximum(minValid) {
				needUpdate = true
			}
		}
	}

	if referenceTimeUpdated {
		for _, other := range d.stations {
			if !other.maxTimestamp.Before(minValid) {
				continue
			}
			if other.updateMaximum(minValid) {
				needUpdate = true
			}
		}
	}

	if !needUpdate {
		return
	}
	d.callFinder(ctx, d.refTime)
}

// VarWindowSeconds reports the current adaptive window width.
func (d *Driver) VarWindowSeconds() float64 { return d.varWindow }

// Tick drives the throttled scan/process loop; the dispatcher calls it on
// its 1 Hz timer. Envelope arrivals reach the same loop through Feed.
func (d *Driver) Tick(ctx context.Context, now time.Time) {
	if d.refTime.Before(now) {
		d.refTime = now
	}
	d.callFinder(ctx, d.refTime)
}

func (d *Driver) callFinder(ctx context.Context, tick time.Time) {
	if d.algorithm == nil {
		return
	}

	scanDue := d.lastScan.IsZero() || tick.Sub(d.lastScan) >= d.cfg.ScanInterval
	procDue := d.lastProc.IsZero() || tick.Sub(d.lastProc) >= d.cfg.ProcessInterval
	if !scanDue && !procDue {
		return
	}

	pgaList := d.buildScanList(tick)

	if scanDue {
		d.lastScan = tick
		seeds, err := d.algorithm.Scan(ctx, pgaList, d.events)
		if err != nil {
			if d.logger != nil {
				d.logger.ErrorCtx(ctx, "finder: scan failed", "error", err.Error())
			}
		} else {
			for _, seed := range seeds {
				id := d.nextEventID()
				bufferSeconds := int64(d.cfg.BufferSeconds)
				if bufferSeconds < 1 {
					bufferSeconds = 1
				}
				d.events = append(d.events, d.algorithm.NewEvent(seed.Epicenter, pgaList, id, bufferSeconds*2))
			}
		}
	}

	if procDue {
		d.lastProc = tick
		d.processEvents(ctx, tick, pgaList)
	}
}

// nextEventID assigns a strictly monotonic id seeded from the wall clock
// but never at or below the last used id.
func (d *Driver) nextEventID() int64 {
	id := time.Now().Unix()
	if n := len(d.events); n > 0 && id <= d.events[n-1].EventID() {
		id = d.events[n-1].EventID() + 1
	}
	if d.nextEvent != 0 && id <= d.nextEvent {
		id = d.nextEvent + 1
	}
	d.nextEvent = id
	return id
}

// buildScanList applies the five ordered staleness/quality filters before a
// PGA snapshot is handed to the scan.
func (d *Driver) buildScanList(tick time.Time) []PGA {
	minBufferValid := tick.Add(-time.Duration(d.cfg.MaxEnvelopeBufferDelay * float64(time.Second)))
	clipCutoff := tick.Add(-time.Duration(d.cfg.ClipTimeout * float64(time.Second)))

	byInstrument := make(map[string]PGA)
	var order []string

	keys := make([]string, 0, len(d.stations))
	for k := range d.stations {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		st := d.stations[key]
		if st.maxTimestamp.IsZero() {
			continue
		}
		// 1. latest ring sample must not be older than minBufferValid.
		if st.ring.Len() == 0 || st.ring.Back().timestamp.Before(minBufferValid) {
			continue
		}
		// 2. latest sample must not be clipped.
		if st.ring.Back().clipped {
			continue
		}
		// 3. station must not have clipped within clipTimeout.
		if st.haveLastClippedAt && !st.lastClippedTime.Before(clipCutoff) {
			continue
		}
		// 4. gain unit must be accelerometric.
		if !st.unit.IsAccelerometric() {
			continue
		}

		instrumentKey := st.stream.Network + "." + st.stream.Station + "." + st.stream.Location + "." + st.stream.Instrument()
		entry := PGA{
			Station:    st.stream.Station,
			Network:    st.stream.Network,
			Location:   st.stream.Location,
			Channel:    st.maxChannel,
			Instrument: st.stream.Instrument(),
			Coordinate: st.coordinate,
			ValueCmS2:  st.maxValue * 100,
			Timestamp:  st.maxTimestamp,
		}
		// 5. dedup by instrument, preferring the most recently inserted.
		if _, exists := byInstrument[instrumentKey]; !exists {
			order = append(order, instrumentKey)
		}
		byInstrument[instrumentKey] = entry
	}

	out := make([]PGA, 0, len(order))
	for _, k := range order {
		out = append(out, byInstrument[k])
	}
	return out
}

func (d *Driver) processEvents(ctx context.Context, tick time.Time, pgaList []PGA) {
	longestRupture := 0.0
	kept := d.events[:0]
	for _, ev := range d.events {
		result, err := ev.Process(ctx, tick, pgaList)
		if err != nil {
			if d.logger != nil {
				d.logger.ErrorCtx(ctx, "finder: process failed", "event_id", ev.EventID(), "error", err.Error())
			}
		} else {
			if result.Message && len(result.LengthList) > 0 && d.publish != nil {
				d.publish(d.buildBundle(ev, result, pgaList))
			}
			if rl := ev.RuptureLengthKM(); rl > longestRupture {
				longestRupture = rl
			}
		}
		if err == nil && !result.HoldObject {
			continue // drop: algorithm signaled do-not-hold
		}
		kept = append(kept, ev)
	}
	d.events = kept

	d.updateAdaptiveWindow(longestRupture)
}

// updateAdaptiveWindow scales the scan window back to default_window once
// no events remain, otherwise grows it (never shrinks it) toward 1.5x the
// longest active rupture length, capped at the buffer length.
func (d *Driver) updateAdaptiveWindow(longestRuptureKM float64) {
	if len(d.events) == 0 {
		d.varWindow = d.cfg.DefaultWindowSeconds
		return
	}
	scaled := longestRuptureKM * d.cfg.RuptureLengthUnitSeconds
	candidate := d.cfg.AdaptiveWindowFactor * scaled
	next := d.varWindow
	if candidate > next {
		next = candidate
	}
	if next > d.cfg.BufferSeconds {
		next = d.cfg.BufferSeconds
	}
	d.varWindow = next
}

func (d *Driver) buildBundle(ev Event, result ProcessResult, pgaList []PGA) Bundle {
	return Bundle{
		Origin: Origin{
			Latitude:             result.Epicenter.Latitude,
			LatitudeUncertainty:  kmLatUncertainty(result.EpicenterUnc.Latitude),
			Longitude:            result.Epicenter.Longitude,
			LongitudeUncertainty: kmLonUncertainty(result.EpicenterUnc.Longitude, result.Epicenter.Latitude),
			Depth:                result.Depth,
			Time:                 result.OriginTime,
			UsedStationCount:     result.NstatUsed,
			UsedPhaseCount:       len(pgaList),
		},
		Magnitudes: []Magnitude{
			{Type: "Mfd", Value: result.Magnitude, Uncertainty: result.MagnitudeUnc},
		},
		StrongMotion: StrongMotion{
			RuptureLengthPDF: result.LengthList,
			Peaks:            pgaList,
		},
	}
}

func kmLatUncertainty(deg float64) float64 { return geo.LatDegreesToKM(deg) }

func kmLonUncertainty(deg, atLatitudeDeg float64) float64 { return geo.LonDegreesToKM(deg, atLatitudeDeg) }
