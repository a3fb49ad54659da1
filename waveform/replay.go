package waveform

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"
)

// replayEntry is one line of a replay file: exactly one of Record or Pick
// is set. Stands in for the out-of-scope waveform acquisition transport
// (no MiniSEED/SeedLink client exists in the dependency corpus this module
// draws from, matching TextDumper's justification for the write side).
type replayEntry struct {
	Record *replayRecord `json:"record,omitempty"`
	Pick   *replayPick   `json:"pick,omitempty"`
}

type replayRecord struct {
	Network           string    `json:"network"`
	Station           string    `json:"station"`
	Location          string    `json:"location"`
	Channel           string    `json:"channel"`
	StartTime         time.Time `json:"start_time"`
	SamplingFrequency float64   `json:"sampling_frequency"`
	Samples           []float64 `json:"samples"`
	ClipMask          []bool    `json:"clip_mask,omitempty"`
}

type replayPick struct {
	ID        string    `json:"id"`
	Network   string    `json:"network"`
	Station   string    `json:"station"`
	Location  string    `json:"location"`
	Channel   string    `json:"channel"`
	Time      time.Time `json:"time"`
	PhaseHint string    `json:"phase_hint"`
}

// FileAcquirer replays a newline-delimited JSON file of records and picks
// in timestamp order, implementing Acquirer. Each line decodes to a
// replayEntry; entries are sorted once at open time since a replay file is
// read in full before the first Next call.
type FileAcquirer struct {
	entries []replayEntry
	idx     int
}

// NewFileAcquirer opens path and loads every entry, sorted by timestamp
// (a record's start time, a pick's arrival time). since and until, when
// non-zero, drop entries outside [since, until) — the CLI's `-ts`/`-te`
// window.
func NewFileAcquirer(path string, since, until time.Time) (*FileAcquirer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("waveform: open replay file %s: %w", path, err)
	}
	defer f.Close()

	var entries []replayEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytesTrimSpace(line)) == 0 {
			continue
		}
		var e replayEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("waveform: parse replay file %s: %w", path, err)
		}
		t, ok := entryTime(e)
		if ok {
			if !since.IsZero() && t.Before(since) {
				continue
			}
			if !until.IsZero() && !t.Before(until) {
				continue
			}
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("waveform: read replay file %s: %w", path, err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		ti, _ := entryTime(entries[i])
		tj, _ := entryTime(entries[j])
		return ti.Before(tj)
	})

	return &FileAcquirer{entries: entries}, nil
}

func entryTime(e replayEntry) (time.Time, bool) {
	switch {
	case e.Record != nil:
		return e.Record.StartTime, true
	case e.Pick != nil:
		return e.Pick.Time, true
	default:
		return time.Time{}, false
	}
}

func bytesTrimSpace(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && (b[start] == ' ' || b[start] == '\t' || b[start] == '\r' || b[start] == '\n') {
		start++
	}
	for end > start && (b[end-1] == ' ' || b[end-1] == '\t' || b[end-1] == '\r' || b[end-1] == '\n') {
		end--
	}
	return b[start:end]
}

// Next returns the next replayed record or pick, or ErrEndOfStream once the
// file is exhausted.
func (a *FileAcquirer) Next(ctx context.Context) (*Record, *Pick, error) {
	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	default:
	}
	if a.idx >= len(a.entries) {
		return nil, nil, ErrEndOfStream
	}
	e := a.entries[a.idx]
	a.idx++

	switch {
	case e.Record != nil:
		stream := StreamID{Network: e.Record.Network, Station: e.Record.Station, Location: e.Record.Location, Channel: e.Record.Channel}
		rec, err := NewRecord(stream, e.Record.StartTime, e.Record.SamplingFrequency, e.Record.Samples, e.Record.ClipMask)
		if err != nil {
			return nil, nil, fmt.Errorf("waveform: replay record %s: %w", stream, err)
		}
		return rec, nil, nil
	case e.Pick != nil:
		stream := StreamID{Network: e.Pick.Network, Station: e.Pick.Station, Location: e.Pick.Location, Channel: e.Pick.Channel}
		return nil, &Pick{ID: e.Pick.ID, Stream: stream, Time: e.Pick.Time, PhaseHint: e.Pick.PhaseHint}, nil
	default:
		return nil, nil, io.ErrUnexpectedEOF
	}
}

var _ Acquirer = (*FileAcquirer)(nil)
