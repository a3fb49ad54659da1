package inventory

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/SED-EEW/eewamps/waveform"
)

// fileEpoch and fileGroup mirror waveform.Epoch/ThreeComponentGroup in a
// JSON-friendly shape (Epoch.Gain/End are pointers already, but Go's
// encoding/json needs exported string time fields to stay independent of
// time.Time's RFC3339 default, which is fine here — used verbatim).
type fileEpoch struct {
	Network  string     `json:"network"`
	Station  string      `json:"station"`
	Location string      `json:"location"`
	Channel  string      `json:"channel"`
	Start    time.Time   `json:"start"`
	End      *time.Time  `json:"end,omitempty"`
	Gain     *float64    `json:"gain,omitempty"`
	Unit     string      `json:"unit"`
}

type fileGroup struct {
	Vertical    fileStreamID `json:"vertical"`
	HorizontalA fileStreamID `json:"horizontal_a"`
	HorizontalB fileStreamID `json:"horizontal_b"`
	Latitude    float64      `json:"latitude"`
	Longitude   float64      `json:"longitude"`
}

type fileStreamID struct {
	Network  string `json:"network"`
	Station  string `json:"station"`
	Location string `json:"location"`
	Channel  string `json:"channel"`
}

func (s fileStreamID) streamID() waveform.StreamID {
	return waveform.StreamID{Network: s.Network, Station: s.Station, Location: s.Location, Channel: s.Channel}
}

// fileInventory is the on-disk shape LoadFile decodes: a flat list of
// epochs plus a flat list of three-component groups. Stands in for the
// out-of-scope FDSN inventory store's on-disk format (no StationXML/SC3ML
// library exists in the dependency corpus this module draws from, matching
// waveform.TextDumper's justification for the record-dump stand-in).
type fileInventory struct {
	Epochs []fileEpoch `json:"epochs"`
	Groups []fileGroup `json:"groups"`
}

// LoadFile reads a JSON inventory description from path into a fresh
// Memory store. Returns an error if the file cannot be read or parsed,
// which the CLI surfaces as the "missing inventory" init-failure exit code
//.
func LoadFile(path string) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("inventory: read %s: %w", path, err)
	}
	var fi fileInventory
	if err := json.Unmarshal(data, &fi); err != nil {
		return nil, fmt.Errorf("inventory: parse %s: %w", path, err)
	}

	mem := NewMemory()
	for _, e := range fi.Epochs {
		stream := waveform.StreamID{Network: e.Network, Station: e.Station, Location: e.Location, Channel: e.Channel}
		mem.AddEpoch(stream, waveform.Epoch{Start: e.Start, End: e.End, Gain: e.Gain, Unit: waveform.GainUnit(e.Unit)})
	}
	for _, g := range fi.Groups {
		mem.AddGroup(waveform.ThreeComponentGroup{
			Vertical:    g.Vertical.streamID(),
			HorizontalA: g.HorizontalA.streamID(),
			HorizontalB: g.HorizontalB.streamID(),
			Latitude:    g.Latitude,
			Longitude:   g.Longitude,
		})
	}
	return mem, nil
}
