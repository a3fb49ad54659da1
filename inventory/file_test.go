package inventory_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SED-EEW/eewamps/inventory"
	"github.com/SED-EEW/eewamps/waveform"
)

func writeInventoryFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "inventory.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFile_EpochsAndGroups(t *testing.T) {
	path := writeInventoryFile(t, `{
		"epochs": [
			{"network":"CH","station":"A","channel":"HHZ","start":"2020-01-01T00:00:00Z","unit":"M/S","gain":1000000}
		],
		"groups": [
			{
				"vertical": {"network":"CH","station":"A","channel":"HHZ"},
				"horizontal_a": {"network":"CH","station":"A","channel":"HHN"},
				"horizontal_b": {"network":"CH","station":"A","channel":"HHE"},
				"latitude": 47.0,
				"longitude": 8.0
			}
		]
	}`)

	store, err := inventory.LoadFile(path)
	require.NoError(t, err)

	stream := waveform.StreamID{Network: "CH", Station: "A", Channel: "HHZ"}
	epoch, err := store.EpochAt(stream, time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, waveform.GainUnitVelocity, waveform.GainUnit(epoch.Unit))
	require.NotNil(t, epoch.Gain)
	assert.Equal(t, 1000000.0, *epoch.Gain)

	group, err := store.ThreeComponents(stream)
	require.NoError(t, err)
	assert.Equal(t, 47.0, group.Latitude)
	assert.Equal(t, "HHN", group.HorizontalA.Channel)
	assert.Equal(t, "HHE", group.HorizontalB.Channel)
}

func TestLoadFile_MissingEpochReturnsErrNoEpoch(t *testing.T) {
	path := writeInventoryFile(t, `{"epochs": [], "groups": []}`)

	store, err := inventory.LoadFile(path)
	require.NoError(t, err)

	_, err = store.EpochAt(waveform.StreamID{Network: "CH", Station: "X", Channel: "HHZ"}, time.Now())
	var noEpoch *inventory.ErrNoEpoch
	assert.ErrorAs(t, err, &noEpoch)
}

func TestLoadFile_UnreadablePath(t *testing.T) {
	_, err := inventory.LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoadFile_InvalidJSON(t *testing.T) {
	path := writeInventoryFile(t, `{not valid json`)
	_, err := inventory.LoadFile(path)
	assert.Error(t, err)
}
