package sync

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/yeswehack/ywh2bugtracker/internal/config"
	"github.com/yeswehack/ywh2bugtracker/internal/syncerr"
	"github.com/yeswehack/ywh2bugtracker/internal/trackers"
	"github.com/yeswehack/ywh2bugtracker/internal/ywh"
)

const instrumentationScope = "github.com/yeswehack/ywh2bugtracker"

// defaultReportWorkers bounds concurrent report reconciliations per program.
// Each tracker additionally serializes its own pairs, since adapters share
// one authenticated session across the run.
const defaultReportWorkers = 4

// Orchestrator iterates platforms, programs, reports and target trackers,
// dispatching each (report, tracker) pair to a Synchronizer. Per-pair errors
// surface as events; platform and configuration errors abort the run.
type Orchestrator struct {
	Config   *config.Root
	Listener Listener

	// ReportWorkers bounds concurrent reports per program. Zero means the
	// default.
	ReportWorkers int

	// TOTP supplies a one-time code when a platform login demands a second
	// factor. Nil means TOTP challenges fail.
	TOTP func() (string, error)

	// NewPlatform and NewTracker exist so tests can substitute fakes;
	// nil means the real client and the adapter registry.
	NewPlatform func(cfg *config.PlatformConfig) PlatformClient
	NewTracker  func(name string, cfg config.TrackerConfig) (trackers.Tracker, error)

	mu       sync.Mutex
	trackers map[string]trackers.Tracker
	gates    map[string]*semaphore.Weighted
}

// Synchronize runs the whole configuration end to end and returns the
// aggregate result. The context deadline applies to every network call; a
// cancellation between suspension points leaves remotes as-is.
func (o *Orchestrator) Synchronize(ctx context.Context) (*RunResult, error) {
	run := uuid.NewString()
	result := &RunResult{RunID: run}
	o.trackers = make(map[string]trackers.Tracker)
	o.gates = make(map[string]*semaphore.Weighted)

	tracer := otel.Tracer(instrumentationScope)
	ctx, span := tracer.Start(ctx, "synchronize", trace.WithAttributes(
		attribute.String("run.id", run)))
	defer span.End()

	o.emit(StartingSynchronization{runEvent{run}})
	defer func() { o.emit(EndedSynchronization{runEvent{run}, result}) }()

	for _, platformName := range sortedKeys(o.Config.Platforms) {
		platformCfg := o.Config.Platforms[platformName]
		o.emit(StartingPlatform{runEvent{run}, platformName})
		err := o.synchronizePlatform(ctx, run, platformName, platformCfg, result)
		o.emit(EndedPlatform{runEvent{run}, platformName, err})
		if err != nil {
			span.RecordError(err)
			return result, err
		}
	}
	return result, nil
}

func (o *Orchestrator) synchronizePlatform(ctx context.Context, run, platformName string, cfg *config.PlatformConfig, result *RunResult) error {
	client := o.platformClient(cfg)
	if err := client.Login(ctx); err != nil {
		return err
	}

	for _, prog := range cfg.Programs {
		o.emit(StartingProgram{runEvent{run}, platformName, prog.Slug})
		n, err := o.synchronizeProgram(ctx, run, platformName, client, prog, result)
		o.emit(EndedProgram{runEvent{run}, platformName, prog.Slug, n, err})
		if err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) synchronizeProgram(ctx context.Context, run, platformName string, client PlatformClient, prog config.ProgramConfig, result *RunResult) (int, error) {
	// Already-tracked reports only need re-fetching when some option keeps
	// mirroring them; otherwise AFI alone saves the network round trips.
	statuses := []string{ywh.TrackingStatusAFI}
	if prog.SynchronizeOptions.Any() || prog.FeedbackOptions.Any() {
		statuses = append(statuses, ywh.TrackingStatusTracked)
	}
	reports, err := client.ListProgramReports(ctx, prog.Slug, statuses)
	if err != nil {
		return 0, err
	}

	workers := o.ReportWorkers
	if workers <= 0 {
		workers = defaultReportWorkers
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := range reports {
		shallow := reports[i]
		g.Go(func() error {
			o.emit(StartingReport{runEvent{run}, platformName, prog.Slug, &shallow})
			report, err := client.GetReport(gctx, shallow.ID)
			if err == nil && report == nil {
				err = syncerr.New(syncerr.KindProtocol, "report %d detail fetch returned nothing", shallow.ID)
			}
			if err == nil {
				err = o.synchronizeReport(gctx, run, platformName, client, prog, report, result)
			}
			o.emit(EndedReport{runEvent{run}, platformName, prog.Slug, &shallow, err})
			o.count(result, func(r *RunResult) { r.Reports++ })
			return err
		})
	}
	return len(reports), g.Wait()
}

// synchronizeReport runs the report against each of its program's trackers in
// configuration order. Pair failures are recorded and the remaining trackers
// still run; only cancellation stops the loop.
func (o *Orchestrator) synchronizeReport(ctx context.Context, run, platformName string, client PlatformClient, prog config.ProgramConfig, report *ywh.Report, result *RunResult) error {
	tracer := otel.Tracer(instrumentationScope)
	for _, trackerName := range prog.Trackers {
		if err := ctx.Err(); err != nil {
			return err
		}
		tracker, gate, err := o.tracker(trackerName)
		if err != nil {
			return err
		}

		o.emit(StartingReportTracker{runEvent{run}, platformName, prog.Slug, report, trackerName})
		if err := gate.Acquire(ctx, 1); err != nil {
			return err
		}
		pairCtx, span := tracer.Start(ctx, "synchronize.pair", trace.WithAttributes(
			attribute.Int("report.id", report.ID),
			attribute.String("tracker.name", trackerName)))
		s := &Synchronizer{
			Platform:    client,
			Tracker:     tracker,
			TrackerType: o.Config.Trackers[trackerName].TrackerType(),
			Options:     prog.SynchronizeOptions,
			Feedback:    prog.FeedbackOptions,
		}
		res, pairErr := s.Synchronize(pairCtx, report)
		if pairErr != nil {
			span.RecordError(pairErr)
		}
		span.End()
		gate.Release(1)

		o.record(result, res, pairErr)
		o.emit(EndedReportTracker{runEvent{run}, platformName, prog.Slug, report, trackerName, res, pairErr})
		if pairErr != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

// tracker returns the shared adapter and its concurrency gate for a tracker
// name, building both on first use. The weight-1 gate keeps one adapter from
// serving two pairs at once.
func (o *Orchestrator) tracker(name string) (trackers.Tracker, *semaphore.Weighted, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if t, ok := o.trackers[name]; ok {
		return t, o.gates[name], nil
	}
	cfg, ok := o.Config.Trackers[name]
	if !ok {
		return nil, nil, syncerr.New(syncerr.KindConfiguration, "unknown tracker %q", name)
	}
	build := o.NewTracker
	if build == nil {
		build = trackers.New
	}
	t, err := build(name, cfg)
	if err != nil {
		return nil, nil, err
	}
	o.trackers[name] = t
	o.gates[name] = semaphore.NewWeighted(1)
	return t, o.gates[name], nil
}

func (o *Orchestrator) platformClient(cfg *config.PlatformConfig) PlatformClient {
	if o.NewPlatform != nil {
		return o.NewPlatform(cfg)
	}
	return newPlatformClient(cfg, o.TOTP)
}

// newPlatformClient builds the real platform client for one configured
// account. One client serves a whole run; authentication happens lazily.
func newPlatformClient(cfg *config.PlatformConfig, totp func() (string, error)) PlatformClient {
	return ywh.NewClient(cfg.APIURL, ywh.Credentials{
		Email:    cfg.Login,
		Password: cfg.Password,
		PAT:      cfg.PAT,
		TOTP:     totp,
	}, cfg.AppsHeaders, cfg.VerifyTLS())
}

func (o *Orchestrator) record(result *RunResult, res *Result, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	result.Pairs++
	if err != nil {
		result.Failed++
	}
	if res != nil {
		if res.New {
			result.Created++
		}
		if res.Changed() {
			result.Synchronized++
		}
	}
	reportMetrics(res, err)
}

func (o *Orchestrator) count(result *RunResult, f func(*RunResult)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	f(result)
}

func (o *Orchestrator) emit(ev Event) {
	if o.Listener != nil {
		o.Listener.Handle(ev)
	}
}

var (
	metricsOnce     sync.Once
	pairsCounter    metric.Int64Counter
	sentCounter     metric.Int64Counter
	mirroredCounter metric.Int64Counter
)

// reportMetrics feeds the run counters. Instruments come from the global
// meter provider, which is a no-op unless telemetry was initialized.
func reportMetrics(res *Result, err error) {
	metricsOnce.Do(func() {
		meter := otel.Meter(instrumentationScope)
		pairsCounter, _ = meter.Int64Counter("ywh2bt.pairs",
			metric.WithDescription("report/tracker reconciliations attempted"))
		sentCounter, _ = meter.Int64Counter("ywh2bt.comments_sent",
			metric.WithDescription("report logs pushed to trackers"))
		mirroredCounter, _ = meter.Int64Counter("ywh2bt.comments_mirrored",
			metric.WithDescription("tracker comments mirrored to the platform"))
	})
	ctx := context.Background()
	pairsCounter.Add(ctx, 1, metric.WithAttributes(attribute.Bool("error", err != nil)))
	if res != nil {
		sentCounter.Add(ctx, int64(len(res.SentLogIDs)))
		mirroredCounter.Add(ctx, int64(len(res.MirroredCommentIDs)))
	}
}

func sortedKeys(m map[string]*config.PlatformConfig) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
