// Package archive resolves historic queries against the local weekly
// bundle archive and diffs candidates against an existing destination.
package archive

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/wxarchive/goes-recovery/internal/goesname"
	"github.com/wxarchive/goes-recovery/internal/query"
)

// Target is one slot the orchestrator wants to fill: a weekly partition
// directory, an hour-bucket timestamp prefix, and the originating
// (date, window) pair it came from. Unresolved targets feed the retry
// query, so the originating pair is kept in the caller's format.
type Target struct {
	DateKey string // YYYYJJJ
	Caller  string // date key as the caller wrote it
	Window  goesname.Window
	Hour    int
	Dir     string // weekly partition directory
	Prefix  string // YYYYJJJHH
}

// Scanner locates candidate bundles in the local archive. The archive is
// partitioned as <root>/<sensor>/<level>/<domain>/<year>/<week>/ with a
// fixed 7-day week bucket.
type Scanner struct {
	root string
	log  *slog.Logger
}

// NewScanner creates a scanner over the given archive root.
func NewScanner(root string) *Scanner {
	return &Scanner{
		root: root,
		log:  slog.With("component", "archive"),
	}
}

// WeekBucket returns the fixed 7-day week number for a day of year.
func WeekBucket(dayOfYear int) int {
	return (dayOfYear-1)/7 + 1
}

// PartitionDir builds the weekly partition directory for a query and a
// day-of-year date key. Absent query components are skipped.
func (s *Scanner) PartitionDir(q *query.Query, dateKey string) string {
	parts := []string{s.root}
	for _, p := range []string{q.Sensor, q.Level, q.Domain} {
		if p != "" {
			parts = append(parts, strings.ToLower(p))
		}
	}
	doy, _ := strconv.Atoi(dateKey[4:])
	parts = append(parts, dateKey[:4], fmt.Sprintf("%02d", WeekBucket(doy)))
	return filepath.Join(parts...)
}

// Expand generates the concrete search targets for a query: one per
// (date key, window, hour) triple.
func (s *Scanner) Expand(q *query.Query) ([]Target, error) {
	slices, err := q.ExpandDates()
	if err != nil {
		return nil, err
	}

	var targets []Target
	for _, ds := range slices {
		dir := s.PartitionDir(q, ds.Key)
		for _, w := range ds.Windows {
			startHH, endHH := w.Hours()
			for h := startHH; h <= endHH; h++ {
				targets = append(targets, Target{
					DateKey: ds.Key,
					Caller:  ds.Caller,
					Window:  w,
					Hour:    h,
					Dir:     dir,
					Prefix:  fmt.Sprintf("%s%02d", ds.Key, h),
				})
			}
		}
	}
	return targets, nil
}

// CandidatesFor lists the bundle files in a target's partition directory
// whose start timestamp falls inside the target's hour bucket. A missing
// partition directory yields an empty result, not an error.
func (s *Scanner) CandidatesFor(t Target) ([]string, error) {
	if _, err := os.Stat(t.Dir); err != nil {
		if os.IsNotExist(err) {
			s.log.Debug("partition directory not found", "dir", t.Dir)
			return nil, nil
		}
		return nil, fmt.Errorf("stat partition %s: %w", t.Dir, err)
	}

	// Day-scoped glob; "s" matches both the "_s" and "-s" markers.
	matches, err := filepath.Glob(filepath.Join(t.Dir, "*s"+t.DateKey+"*"))
	if err != nil {
		return nil, fmt.Errorf("glob partition %s: %w", t.Dir, err)
	}

	low, high := goesname.HourRange(t.DateKey, t.Hour)
	var out []string
	for _, m := range matches {
		v, ok := goesname.StartInt(m)
		if !ok {
			continue
		}
		if low <= v && v <= high {
			out = append(out, m)
		}
	}
	return out, nil
}

// DiscoverAndFilter resolves a query to the sorted, deduplicated set of
// candidate bundle files across all its targets.
func (s *Scanner) DiscoverAndFilter(q *query.Query) ([]string, error) {
	targets, err := s.Expand(q)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	for _, t := range targets {
		files, err := s.CandidatesFor(t)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			seen[f] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Strings(out)
	return out, nil
}
