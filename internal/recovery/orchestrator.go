// Package recovery runs historic queries against the tiered archive:
// the local weekly-bundle archive first, the object-storage mirror for
// whatever the local tier could not resolve. Progress and results are
// written through the status store for the polling side.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/wxarchive/goes-recovery/internal/archive"
	"github.com/wxarchive/goes-recovery/internal/bundle"
	"github.com/wxarchive/goes-recovery/internal/goesname"
	"github.com/wxarchive/goes-recovery/internal/logging"
	"github.com/wxarchive/goes-recovery/internal/metrics"
	"github.com/wxarchive/goes-recovery/internal/mirror"
	"github.com/wxarchive/goes-recovery/internal/query"
	"github.com/wxarchive/goes-recovery/internal/status"
)

// Options wires the orchestrator's tiers. A nil Archive disables the
// local tier; a nil Mirror disables the remote fallback. At least one
// tier must be present.
type Options struct {
	Archive *archive.Scanner
	Mirror  *mirror.Fetcher
	Status  status.Store

	DownloadDir    string
	Workers        int           // bundle workers, default 4
	ProcessTimeout time.Duration // per bundle, default 120s
	Catalog        []string      // product catalog backing the ALL wildcard
}

// Orchestrator executes recovery queries.
type Orchestrator struct {
	opts Options
}

// New creates an orchestrator. Missing optional settings take their
// operational defaults.
func New(opts Options) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.ProcessTimeout <= 0 {
		opts.ProcessTimeout = 120 * time.Second
	}
	if opts.Status == nil {
		opts.Status, _ = status.NewStore(status.Config{})
	}
	return &Orchestrator{opts: opts}
}

// Run executes one query end to end and returns its report. Any failure
// of the run itself (as opposed to individual targets) moves the query
// to the error state.
func (o *Orchestrator) Run(ctx context.Context, id string, q *query.Query) (*Report, error) {
	started := time.Now()
	log := logging.QueryLogger(id, q.Satellite, q.Level)
	if cid := logging.CorrelationID(ctx); cid != "" {
		log = log.With("correlation_id", cid)
	}
	labels := metrics.Labels{Satellite: q.Satellite, Level: q.Level}

	report, err := o.run(ctx, id, q, log)

	if m := metrics.Get(); m != nil {
		m.ObserveQueryDuration(labels, time.Since(started).Seconds())
		if err != nil {
			m.IncQueriesFailed(labels)
		} else {
			m.IncQueriesCompleted(labels)
		}
	}

	if err != nil {
		log.Error("query failed", "error", err)
		o.opts.Status.SetStatus(id, status.StateError, 0, err.Error())
		return nil, err
	}
	log.Info("query complete",
		"total_files", report.TotalFiles,
		"failed_targets", report.FailedTargets,
		"duration", time.Since(started).Round(time.Millisecond))
	return report, nil
}

func (o *Orchestrator) run(ctx context.Context, id string, q *query.Query, log *slog.Logger) (*Report, error) {
	destDir := filepath.Join(o.opts.DownloadDir, id)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("create destination %s: %w", destDir, err)
	}
	if err := o.opts.Status.SetStatus(id, status.StateProcessing, 10, "query accepted"); err != nil {
		return nil, err
	}

	// Target expansion does not touch the filesystem, so it works even
	// when the local tier is disabled.
	expander := o.opts.Archive
	if expander == nil {
		expander = archive.NewScanner("")
	}
	targets, err := expander.Expand(q)
	if err != nil {
		return nil, err
	}

	var products, bands []string
	if !q.WantsAllProducts() {
		products = q.ExpandedProducts(o.opts.Catalog)
	}
	if !q.WantsAllBands() {
		bands = q.ExpandedBands()
	}

	unresolved := targets
	if o.opts.Archive != nil {
		unresolved, err = o.runLocal(ctx, id, q, targets, destDir, products, bands, log)
		if err != nil {
			return nil, err
		}
	}

	var remoteFailed []string
	remoteNames := make(map[string]struct{})
	if o.opts.Mirror != nil && len(unresolved) > 0 {
		unresolved, remoteFailed, err = o.runRemote(ctx, id, q, unresolved, destDir, remoteNames, log)
		if err != nil {
			return nil, err
		}
	}

	if err := o.opts.Status.SetStatus(id, status.StateProcessing, 95, "building report"); err != nil {
		return nil, err
	}

	report, err := buildReport(id, destDir, remoteNames)
	if err != nil {
		return nil, fmt.Errorf("build report: %w", err)
	}
	report.FailedTargets = len(unresolved)

	if m := metrics.Get(); m != nil {
		m.AddBytesRecovered(metrics.Labels{Satellite: q.Satellite, Level: q.Level, Origin: "local"}, float64(report.Local.Bytes))
		m.AddBytesRecovered(metrics.Labels{Satellite: q.Satellite, Level: q.Level, Origin: "remote"}, float64(report.Remote.Bytes))
	}

	if len(unresolved) > 0 || len(remoteFailed) > 0 {
		retry, unmatched, err := buildRetryQuery(q, unresolved, remoteFailed)
		if err != nil {
			return nil, err
		}
		report.RetryQuery = retry
		report.UnmatchedFailures = unmatched
		if m := metrics.Get(); m != nil {
			m.AddTargetsFailed(metrics.Labels{Satellite: q.Satellite, Level: q.Level}, float64(len(unresolved)))
		}
	}

	if err := o.opts.Status.SaveResults(id, report); err != nil {
		return nil, err
	}
	if err := o.opts.Status.SetStatus(id, status.StateCompleted, 100, "recovery complete"); err != nil {
		return nil, err
	}
	return report, nil
}

// unit is one bundle to process, fanned out to every target that wants
// it. Overlapping windows of the same date key can claim the same
// bundle through different targets; deduplicating on the bundle path
// keeps destination writers disjoint (two workers must never race on
// the same temp file) and one completion resolves them all.
type unit struct {
	path    string
	targets []int // indexes into targets
}

type unitResult struct {
	targets []int
	paths   []string
	err     error
}

// runLocal resolves targets against the local archive with a bounded
// worker pool and returns the targets it could not fill. A target with
// candidate bundles counts as resolved when at least one of them
// processes cleanly, or when its content is already in the destination
// from an earlier run.
func (o *Orchestrator) runLocal(ctx context.Context, id string, q *query.Query, targets []archive.Target, destDir string, products, bands []string, log *slog.Logger) ([]archive.Target, error) {
	if err := o.opts.Status.SetStatus(id, status.StateProcessing, 20, "scanning local archive"); err != nil {
		return nil, err
	}

	resolved := make([]bool, len(targets))
	wantedBy := make(map[string][]int)
	var order []string
	for i, t := range targets {
		candidates, err := o.opts.Archive.CandidatesFor(t)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			continue // nothing local; remote tier's problem
		}
		pending, err := archive.ScanExisting(candidates, destDir)
		if err != nil {
			return nil, err
		}
		if len(pending) == 0 {
			resolved[i] = true // resumed from an earlier run
			continue
		}
		for _, p := range pending {
			if _, seen := wantedBy[p]; !seen {
				order = append(order, p)
			}
			wantedBy[p] = append(wantedBy[p], i)
		}
	}

	units := make([]unit, 0, len(order))
	for _, p := range order {
		units = append(units, unit{path: p, targets: wantedBy[p]})
	}

	if len(units) > 0 {
		if err := o.processUnits(ctx, id, q, units, destDir, products, bands, resolved); err != nil {
			return nil, err
		}
	}

	var unresolvedTargets []archive.Target
	for i, t := range targets {
		if !resolved[i] {
			unresolvedTargets = append(unresolvedTargets, t)
		}
	}
	log.Info("local tier done",
		"targets", len(targets),
		"bundles", len(units),
		"unresolved", len(unresolvedTargets))
	return unresolvedTargets, nil
}

// processUnits dispatches bundle work to the pool and folds completions
// into target resolution, advancing progress through the processing
// span as units finish.
func (o *Orchestrator) processUnits(ctx context.Context, id string, q *query.Query, units []unit, destDir string, products, bands []string, resolved []bool) error {
	labels := metrics.Labels{Satellite: q.Satellite, Level: q.Level, Origin: "local"}

	jobs := make(chan unit)
	results := make(chan unitResult, len(units))

	var wg sync.WaitGroup
	for i := 0; i < o.opts.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			wlog := logging.WorkerLogger(workerID)
			for u := range jobs {
				start := time.Now()
				unitCtx, cancel := context.WithTimeout(ctx, o.opts.ProcessTimeout)
				paths, err := bundle.Process(unitCtx, u.path, destDir, products, bands)
				cancel()
				if m := metrics.Get(); m != nil {
					m.ObserveBundleProcessDuration(labels, time.Since(start).Seconds())
				}
				if err != nil {
					wlog.Warn("bundle processing failed", "bundle", u.path, "error", err)
				}
				results <- unitResult{targets: u.targets, paths: paths, err: err}
			}
		}(i)
	}

	go func() {
		defer close(jobs)
		for _, u := range units {
			select {
			case jobs <- u:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	if m := metrics.Get(); m != nil {
		m.SetPendingTargets(float64(len(units)))
	}

	done := 0
	written := 0
	for r := range results {
		done++
		if r.err == nil {
			for _, i := range r.targets {
				resolved[i] = true
			}
			written += len(r.paths)
		}
		if m := metrics.Get(); m != nil {
			m.SetPendingTargets(float64(len(units) - done))
		}

		// Processing owns the 20..80 span of the progress scale.
		progress := 20 + (60*done)/len(units)
		msg := fmt.Sprintf("processing local bundles (%d/%d)", done, len(units))
		if err := o.opts.Status.SetStatus(id, status.StateProcessing, progress, msg); err != nil {
			return err
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if m := metrics.Get(); m != nil && written > 0 {
		m.AddFilesRecovered(labels, float64(written))
	}
	return nil
}

// runRemote falls back to the mirror for the unresolved targets. It
// returns the targets still unresolved afterwards and the object names
// that failed to download. Objects whose content timestamp is already in
// the destination are not re-fetched but still resolve their target.
func (o *Orchestrator) runRemote(ctx context.Context, id string, q *query.Query, unresolved []archive.Target, destDir string, remoteNames map[string]struct{}, log *slog.Logger) ([]archive.Target, []string, error) {
	if err := o.opts.Status.SetStatus(id, status.StateProcessing, 85, "querying remote mirror"); err != nil {
		return nil, nil, err
	}

	discovered, err := o.opts.Mirror.Discover(ctx, q)
	if err != nil {
		return nil, nil, fmt.Errorf("mirror discovery: %w", err)
	}

	prefixes := make([]string, 0, len(unresolved))
	for _, t := range unresolved {
		prefixes = append(prefixes, t.Prefix)
	}
	wanted := mirror.FilterByPrefixes(discovered, prefixes)

	existing, err := archive.ExistingTimestamps(destDir)
	if err != nil {
		return nil, nil, err
	}
	available := make(map[string]struct{})
	for name := range wanted {
		ts, ok := goesname.StartTimestamp(name)
		if !ok {
			continue
		}
		if _, done := existing[ts]; done {
			available[ts] = struct{}{}
			delete(wanted, name)
		}
	}

	recovered, failed, err := o.opts.Mirror.Download(ctx, q, wanted, destDir)
	if err != nil {
		return nil, nil, fmt.Errorf("mirror download: %w", err)
	}
	for _, p := range recovered {
		name := filepath.Base(p)
		remoteNames[name] = struct{}{}
		if ts, ok := goesname.StartTimestamp(name); ok {
			available[ts] = struct{}{}
		}
	}
	if m := metrics.Get(); m != nil && len(recovered) > 0 {
		m.AddFilesRecovered(metrics.Labels{Satellite: q.Satellite, Level: q.Level, Origin: "remote"}, float64(len(recovered)))
	}

	var still []archive.Target
	for _, t := range unresolved {
		if !targetCovered(t, available) {
			still = append(still, t)
		}
	}
	log.Info("remote tier done",
		"discovered", len(discovered),
		"downloaded", len(recovered),
		"failed", len(failed),
		"unresolved", len(still))
	return still, failed, nil
}

// targetCovered reports whether any available content timestamp falls
// inside the target's hour bucket and time window.
func targetCovered(t archive.Target, available map[string]struct{}) bool {
	for ts := range available {
		if strings.HasPrefix(ts, t.Prefix) && t.Window.Contains(ts) {
			return true
		}
	}
	return false
}
