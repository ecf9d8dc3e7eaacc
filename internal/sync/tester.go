package sync

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/yeswehack/ywh2bugtracker/internal/config"
	"github.com/yeswehack/ywh2bugtracker/internal/trackers"
)

// Tester probes every configured endpoint without mutating anything: an
// authentication round trip per platform and the adapter's Test per tracker.
type Tester struct {
	Config   *config.Root
	Listener Listener

	// TOTP supplies a one-time code for platform logins behind a second
	// factor.
	TOTP func() (string, error)

	NewPlatform func(cfg *config.PlatformConfig) PlatformClient
	NewTracker  func(name string, cfg config.TrackerConfig) (trackers.Tracker, error)
}

// Run probes all endpoints and returns one result per endpoint, platforms
// first, each group in name order. A failing endpoint does not stop the
// remaining probes.
func (t *Tester) Run(ctx context.Context) []TestResult {
	run := uuid.NewString()
	var results []TestResult

	for _, name := range sortedKeys(t.Config.Platforms) {
		cfg := t.Config.Platforms[name]
		err := t.platformClient(cfg).Login(ctx)
		res := TestResult{runEvent{run}, "platform", name, err}
		results = append(results, res)
		t.emit(res)
	}

	trackerNames := make([]string, 0, len(t.Config.Trackers))
	for name := range t.Config.Trackers {
		trackerNames = append(trackerNames, name)
	}
	sort.Strings(trackerNames)

	for _, name := range trackerNames {
		err := t.testTracker(ctx, name, t.Config.Trackers[name])
		res := TestResult{runEvent{run}, "tracker", name, err}
		results = append(results, res)
		t.emit(res)
	}
	return results
}

// Passed reports whether every result in a Run output succeeded.
func Passed(results []TestResult) bool {
	for _, r := range results {
		if r.Err != nil {
			return false
		}
	}
	return true
}

func (t *Tester) testTracker(ctx context.Context, name string, cfg config.TrackerConfig) error {
	build := t.NewTracker
	if build == nil {
		build = trackers.New
	}
	tracker, err := build(name, cfg)
	if err != nil {
		return err
	}
	return tracker.Test(ctx)
}

func (t *Tester) platformClient(cfg *config.PlatformConfig) PlatformClient {
	if t.NewPlatform != nil {
		return t.NewPlatform(cfg)
	}
	return newPlatformClient(cfg, t.TOTP)
}

func (t *Tester) emit(ev Event) {
	if t.Listener != nil {
		t.Listener.Handle(ev)
	}
}
