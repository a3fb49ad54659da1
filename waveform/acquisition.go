package waveform

import (
	"context"
	"io"
)

// Acquirer stands in for the out-of-scope waveform acquisition transport.
// Next blocks until a record or pick is available and returns io.EOF once
// the stream is exhausted (end of playback, or normal shutdown signal).
type Acquirer interface {
	Next(ctx context.Context) (*Record, *Pick, error)
}

// ErrEndOfStream is a sentinel alias of io.EOF returned by Acquirer
// implementations, kept distinct so callers can document intent.
var ErrEndOfStream = io.EOF

// Dumper writes synthetic intermediate records for the debug "-dump"
// feature. The reference implementation (textdump.go) emits a compact
// textual line format; a real MiniSEED encoder is out of scope.
type Dumper interface {
	Dump(r *Record) error
}

// NopDumper discards every record; used when dumping is disabled.
type NopDumper struct{}

func (NopDumper) Dump(*Record) error { return nil }

// EmptyAcquirer immediately signals end of stream. Used when a CLI
// invocation has no replay source wired (e.g. -dump-config-only runs, or a
// deployment that has not yet attached a real acquisition transport at this
// seam), so the dispatcher's Run loop still exercises its normal
// cooperative shutdown path rather than blocking forever.
type EmptyAcquirer struct{}

func (EmptyAcquirer) Next(ctx context.Context) (*Record, *Pick, error) {
	return nil, nil, ErrEndOfStream
}

var _ Acquirer = EmptyAcquirer{}
