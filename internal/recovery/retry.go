package recovery

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/wxarchive/goes-recovery/internal/archive"
	"github.com/wxarchive/goes-recovery/internal/goesname"
	"github.com/wxarchive/goes-recovery/internal/query"
)

// buildRetryQuery folds unresolved targets back into a query document in
// the caller's own format, so the caller can re-submit it verbatim once
// the gap is fixed. Remote download failures arrive as base names; each
// is mapped back to the (date, window) bucket that asked for it. The
// second return value counts failures that matched no bucket, which
// indicates a naming or expansion defect rather than missing data.
func buildRetryQuery(q *query.Query, unresolved []archive.Target, remoteFailed []string) (json.RawMessage, int, error) {
	dates := make(map[string]map[string]struct{})
	add := func(caller string, w goesname.Window) {
		if dates[caller] == nil {
			dates[caller] = make(map[string]struct{})
		}
		dates[caller][w.String()] = struct{}{}
	}

	for _, t := range unresolved {
		add(t.Caller, t.Window)
	}

	unmatched := 0
	if len(remoteFailed) > 0 {
		slices, err := q.ExpandDates()
		if err != nil {
			return nil, 0, err
		}
		for _, name := range remoteFailed {
			ts, ok := goesname.StartTimestamp(name)
			if !ok {
				unmatched++
				continue
			}
			matched := false
			for _, ds := range slices {
				if ts[:7] != ds.Key {
					continue
				}
				for _, w := range ds.Windows {
					if w.Contains(ts) {
						add(ds.Caller, w)
						matched = true
					}
				}
			}
			if !matched {
				unmatched++
			}
		}
	}

	if len(dates) == 0 {
		return nil, unmatched, nil
	}

	retryDates := make(map[string][]string, len(dates))
	for caller, windows := range dates {
		list := make([]string, 0, len(windows))
		for w := range windows {
			list = append(list, w)
		}
		sort.Strings(list)
		retryDates[caller] = list
	}

	retry := query.Query{
		Satellite: q.Satellite,
		Sensor:    q.Sensor,
		Level:     q.Level,
		Domain:    q.Domain,
		Products:  q.Products,
		Bands:     q.Bands,
		Dates:     retryDates,
	}
	raw, err := json.Marshal(retry)
	if err != nil {
		return nil, 0, fmt.Errorf("encode retry query: %w", err)
	}
	return raw, unmatched, nil
}
