package archive

import (
	"os"

	"github.com/wxarchive/goes-recovery/internal/goesname"
)

// ExistingTimestamps collects the content timestamps already present in
// a destination directory. Local- and remote-origin copies of the same
// logical file differ in name but share the embedded start timestamp, so
// the timestamp is the identity used for resume decisions. An empty or
// absent destination yields an empty set.
func ExistingTimestamps(destDir string) (map[string]struct{}, error) {
	entries, err := os.ReadDir(destDir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]struct{}{}, nil
		}
		return nil, err
	}

	out := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ts, ok := goesname.StartTimestamp(e.Name()); ok {
			out[ts] = struct{}{}
		}
	}
	return out, nil
}

// ScanExisting removes candidates whose content timestamp is already
// present in the destination. Re-running a query against a partially
// populated destination therefore never re-copies recovered content.
func ScanExisting(candidates []string, destDir string) ([]string, error) {
	existing, err := ExistingTimestamps(destDir)
	if err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		return candidates, nil
	}

	pending := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ts, ok := goesname.StartTimestamp(c)
		if !ok {
			pending = append(pending, c)
			continue
		}
		if _, done := existing[ts]; !done {
			pending = append(pending, c)
		}
	}
	return pending, nil
}
