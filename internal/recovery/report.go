package recovery

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// RecoveredFile is one file delivered to the destination.
type RecoveredFile struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
}

// SourceReport summarizes the files delivered by one tier.
type SourceReport struct {
	Files []RecoveredFile `json:"files"`
	Count int             `json:"count"`
	Bytes int64           `json:"bytes"`
}

// Report is the final result document for one recovery query. It is
// built from the destination directory itself, so it reflects what a
// caller will actually find there.
type Report struct {
	QueryID     string       `json:"query_id"`
	Destination string       `json:"destination"`
	Local       SourceReport `json:"local"`
	Remote      SourceReport `json:"remote"`
	TotalFiles  int          `json:"total_files"`
	TotalSizeMB float64      `json:"total_size_mb"`
	ProcessedAt time.Time    `json:"processed_at"`

	// Failure accounting. RetryQuery is a caller-format query covering
	// the unresolved targets, absent when everything was recovered.
	FailedTargets     int             `json:"failed_targets"`
	UnmatchedFailures int             `json:"unmatched_failures,omitempty"`
	RetryQuery        json.RawMessage `json:"retry_query,omitempty"`
}

// buildReport enumerates the destination directory and splits its files
// by origin. remoteNames holds the base names the mirror tier wrote in
// this run; everything else in the destination is tagged local-origin.
// Origin is not persisted across runs, so on a resume a file the mirror
// delivered earlier counts as local. Totals and failure accounting are
// unaffected; only the per-tier split is best-effort on resumed runs.
func buildReport(queryID, destDir string, remoteNames map[string]struct{}) (*Report, error) {
	r := &Report{
		QueryID:     queryID,
		Destination: destDir,
		ProcessedAt: time.Now().UTC(),
	}

	entries, err := os.ReadDir(destDir)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, err
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		rf := RecoveredFile{
			Name:      e.Name(),
			Path:      filepath.Join(destDir, e.Name()),
			SizeBytes: info.Size(),
		}
		if _, remote := remoteNames[e.Name()]; remote {
			r.Remote.Files = append(r.Remote.Files, rf)
			r.Remote.Count++
			r.Remote.Bytes += rf.SizeBytes
		} else {
			r.Local.Files = append(r.Local.Files, rf)
			r.Local.Count++
			r.Local.Bytes += rf.SizeBytes
		}
	}

	r.TotalFiles = r.Local.Count + r.Remote.Count
	totalBytes := r.Local.Bytes + r.Remote.Bytes
	r.TotalSizeMB = float64(totalBytes) / (1024 * 1024)
	return r, nil
}
