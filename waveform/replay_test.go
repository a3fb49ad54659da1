package waveform_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SED-EEW/eewamps/waveform"
)

func writeReplayFile(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "replay.ndjson")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFileAcquirer_OrdersByTimestamp(t *testing.T) {
	path := writeReplayFile(t,
		`{"record":{"network":"CH","station":"A","channel":"HHZ","start_time":"2020-01-01T00:00:02Z","sampling_frequency":100,"samples":[1,2]}}`,
		`{"pick":{"id":"p1","network":"CH","station":"A","channel":"HHZ","time":"2020-01-01T00:00:00Z","phase_hint":"P"}}`,
		`{"record":{"network":"CH","station":"A","channel":"HHZ","start_time":"2020-01-01T00:00:01Z","sampling_frequency":100,"samples":[3,4]}}`,
	)

	a, err := waveform.NewFileAcquirer(path, time.Time{}, time.Time{})
	require.NoError(t, err)

	_, pick, err := a.Next(context.Background())
	require.NoError(t, err)
	require.NotNil(t, pick)
	assert.Equal(t, "p1", pick.ID)

	rec, _, err := a.Next(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, []float64{3, 4}, rec.Samples)

	rec, _, err = a.Next(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, []float64{1, 2}, rec.Samples)

	_, _, err = a.Next(context.Background())
	assert.ErrorIs(t, err, waveform.ErrEndOfStream)
}

func TestFileAcquirer_WindowFilter(t *testing.T) {
	path := writeReplayFile(t,
		`{"record":{"network":"CH","station":"A","channel":"HHZ","start_time":"2020-01-01T00:00:00Z","sampling_frequency":100,"samples":[1]}}`,
		`{"record":{"network":"CH","station":"A","channel":"HHZ","start_time":"2020-01-01T00:05:00Z","sampling_frequency":100,"samples":[2]}}`,
		`{"record":{"network":"CH","station":"A","channel":"HHZ","start_time":"2020-01-01T00:10:00Z","sampling_frequency":100,"samples":[3]}}`,
	)

	since := time.Date(2020, 1, 1, 0, 1, 0, 0, time.UTC)
	until := time.Date(2020, 1, 1, 0, 10, 0, 0, time.UTC)
	a, err := waveform.NewFileAcquirer(path, since, until)
	require.NoError(t, err)

	rec, _, err := a.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []float64{2}, rec.Samples)

	_, _, err = a.Next(context.Background())
	assert.ErrorIs(t, err, waveform.ErrEndOfStream)
}

func TestFileAcquirer_SkipsBlankLines(t *testing.T) {
	path := writeReplayFile(t,
		"",
		`{"record":{"network":"CH","station":"A","channel":"HHZ","start_time":"2020-01-01T00:00:00Z","sampling_frequency":100,"samples":[1]}}`,
		"   ",
	)

	a, err := waveform.NewFileAcquirer(path, time.Time{}, time.Time{})
	require.NoError(t, err)

	rec, _, err := a.Next(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec)

	_, _, err = a.Next(context.Background())
	assert.ErrorIs(t, err, waveform.ErrEndOfStream)
}

func TestFileAcquirer_MissingFile(t *testing.T) {
	_, err := waveform.NewFileAcquirer(filepath.Join(t.TempDir(), "missing.ndjson"), time.Time{}, time.Time{})
	assert.Error(t, err)
}

func TestFileAcquirer_RespectsContextCancellation(t *testing.T) {
	path := writeReplayFile(t,
		`{"record":{"network":"CH","station":"A","channel":"HHZ","start_time":"2020-01-01T00:00:00Z","sampling_frequency":100,"samples":[1]}}`,
	)
	a, err := waveform.NewFileAcquirer(path, time.Time{}, time.Time{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err = a.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEmptyAcquirer_ImmediatelyEndsStream(t *testing.T) {
	var a waveform.EmptyAcquirer
	_, _, err := a.Next(context.Background())
	assert.ErrorIs(t, err, waveform.ErrEndOfStream)
}
