package finder

import "context"

// NoopAlgorithm is an inert Algorithm: it never seeds a new event. It lets
// a Driver run its full PGA-ring and scan-list machinery standalone, for
// deployments or tests that don't embed the real FinDer line-source
// estimator. Mirrors waveform.NopDumper's role as the inert stand-in for
// an out-of-scope external collaborator.
type NoopAlgorithm struct{}

func (NoopAlgorithm) Scan(ctx context.Context, pgaList []PGA, active []Event) ([]NewEventParams, error) {
	return nil, nil
}

func (NoopAlgorithm) NewEvent(epicenter Coordinate, pgaList []PGA, eventID int64, bufferSeconds int64) Event {
	panic("finder: NoopAlgorithm.Scan never seeds an event, so NewEvent is unreachable")
}

var _ Algorithm = NoopAlgorithm{}
