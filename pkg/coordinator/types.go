package coordinator

import (
	"errors"
	"time"
)

// ErrAlreadyStarted indicates Start was called more than once.
var ErrAlreadyStarted = errors.New("coordinator: already started")

// State is the coordinator lifecycle state.
type State uint8

// Lifecycle states. The only transition is Uninitialized to Active.
const (
	StateUninitialized State = iota
	StateActive
)

func (s State) String() string {
	if s == StateActive {
		return "active"
	}
	return "uninitialized"
}

// Source identifies what triggered a sweep.
type Source string

// Sweep sources.
const (
	SourceInitial Source = "initial"
	SourceAdded   Source = "added"
	SourceText    Source = "text"
	SourceResweep Source = "resweep"
)

// SweepResult summarises one enumerate-then-apply pass.
type SweepResult struct {
	Source    Source
	Scanned   int
	Excluded  int
	Rewritten int
	Duration  time.Duration
}

// Stats are cumulative counters over the coordinator lifetime.
type Stats struct {
	Scanned   int
	Excluded  int
	Rewritten int
	Batches   int
	Failures  int
	Resweeps  int
}

// Recorder receives sweep results, typically to export metrics.
type Recorder interface {
	RecordSweep(result SweepResult)
}

// ReadySignal defers work until the host document has loaded.
type ReadySignal interface {
	OnReady(fn func()) error
}

type nopRecorder struct{}

func (nopRecorder) RecordSweep(SweepResult) {}
