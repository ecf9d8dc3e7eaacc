// Package sync drives report synchronization: the per-report reconciliation
// state machine, the orchestrator iterating platforms, programs and trackers,
// and the connectivity tester.
package sync

import (
	"github.com/yeswehack/ywh2bugtracker/internal/trackers"
	"github.com/yeswehack/ywh2bugtracker/internal/ywh"
)

// Event is emitted by the orchestrator around each synchronization phase.
// Events are immutable records; listeners must not retain mutable references
// into them.
type Event interface {
	// RunID returns the identifier of the orchestration run the event
	// belongs to.
	RunID() string
}

// Listener receives events during a run. Handle is called from the goroutine
// performing the work; implementations that block slow the run down.
type Listener interface {
	Handle(ev Event)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(ev Event)

// Handle calls f(ev).
func (f ListenerFunc) Handle(ev Event) { f(ev) }

type runEvent struct {
	Run string
}

func (e runEvent) RunID() string { return e.Run }

// StartingSynchronization opens a whole orchestration run.
type StartingSynchronization struct {
	runEvent
}

// EndedSynchronization closes a run with its aggregate result.
type EndedSynchronization struct {
	runEvent
	Result *RunResult
}

// StartingPlatform opens one platform's iteration.
type StartingPlatform struct {
	runEvent
	Platform string
}

// EndedPlatform closes one platform's iteration. Err is a platform-level
// failure (authentication, listing); per-pair failures surface on
// EndedReportTracker instead.
type EndedPlatform struct {
	runEvent
	Platform string
	Err      error
}

// StartingProgram opens one program's iteration.
type StartingProgram struct {
	runEvent
	Platform string
	Program  string
}

// EndedProgram closes one program's iteration.
type EndedProgram struct {
	runEvent
	Platform string
	Program  string
	Reports  int
	Err      error
}

// StartingReport opens one report's reconciliation across its trackers.
type StartingReport struct {
	runEvent
	Platform string
	Program  string
	Report   *ywh.Report
}

// EndedReport closes one report's reconciliation. Err is a report-level
// failure such as the detail fetch; pair failures surface on
// EndedReportTracker.
type EndedReport struct {
	runEvent
	Platform string
	Program  string
	Report   *ywh.Report
	Err      error
}

// StartingReportTracker opens one (report, tracker) pair.
type StartingReportTracker struct {
	runEvent
	Platform string
	Program  string
	Report   *ywh.Report
	Tracker  string
}

// EndedReportTracker closes one (report, tracker) pair with its result or
// error. Err being set does not abort the run; other pairs continue.
type EndedReportTracker struct {
	runEvent
	Platform string
	Program  string
	Report   *ywh.Report
	Tracker  string
	Result   *Result
	Err      error
}

// TestResult reports one endpoint probe from the tester.
type TestResult struct {
	runEvent
	// Kind is "platform" or "tracker".
	Kind string
	Name string
	Err  error
}

// Result describes what one (report, tracker) reconciliation did.
type Result struct {
	Issue *trackers.Issue

	// New is true when the round created the issue, including the stale-id
	// recovery path.
	New bool

	// Stale is true when a recorded issue id no longer resolved on the
	// tracker and a fresh issue was created instead.
	Stale bool

	// SentLogIDs are the platform log ids pushed to the tracker this round,
	// in send order.
	SentLogIDs []int

	// MirroredCommentIDs are the tracker comment ids posted back to the
	// platform this round.
	MirroredCommentIDs []string

	// StateChanged is true when the issue's closed flag differed from the
	// last recorded state.
	StateChanged bool

	// TrackingStatusWritten is true when the round recorded the tracking
	// status on the platform (first time the pair was established).
	TrackingStatusWritten bool

	// TrackerUpdateWritten is true when the round posted a tracker-update
	// feedback log carrying a fresh state token.
	TrackerUpdateWritten bool

	// Warnings are non-fatal per-item failures, such as a single tracker
	// comment that could not be mirrored. The round completed without them;
	// skipped items are retried next round.
	Warnings []error
}

// Changed reports whether the round modified either side.
func (r *Result) Changed() bool {
	return len(r.SentLogIDs) > 0 || len(r.MirroredCommentIDs) > 0 || r.StateChanged
}

// RunResult aggregates one orchestration run.
type RunResult struct {
	RunID string

	// Reports is the number of reports examined.
	Reports int

	// Pairs is the number of (report, tracker) reconciliations attempted.
	Pairs int

	// Created counts issues created, Synchronized counts pairs where
	// anything changed, Failed counts pairs that errored.
	Created      int
	Synchronized int
	Failed       int
}
