// Package goesname parses GOES ABI file and bundle names.
//
// Every artifact this system touches carries its identity in its name:
// an 11-digit start timestamp (YYYYJJJHHMM) following an "_s" or "-s"
// marker, an optional spectral band token (C01..C16) and a product
// family token (RadF, CMIPF, ACHAC, ...). Parsing is pure string work;
// nothing here touches the filesystem.
package goesname

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Scene file naming pattern: OR_ABI-L2-CMIPF-M6C13_G16_s20241001200204_e..._c....nc
// Bundle naming pattern:     ABI-L1B-RadF-M6_GEAST-s20241001200.tgz
var (
	startTokenPattern = regexp.MustCompile(`[_-]s(\d{11})`)
	bandTokenPattern  = regexp.MustCompile(`C(\d{2})[_.]`)
	productPattern    = regexp.MustCompile(`ABI-L(?:1[bB]|2)[F]?-([A-Za-z]+?)(?:-M\d|_|\.|-s)`)
)

// StartTimestamp extracts the 11-digit YYYYJJJHHMM start token from a
// file or bundle name. Accepts bare names and path-like inputs.
func StartTimestamp(name string) (string, bool) {
	m := startTokenPattern.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return "", false
	}
	return m[1], true
}

// StartInt returns the start token as an integer with a seconds field
// appended (YYYYJJJHHMMSS, seconds always 00) so it can be compared
// against hour-bucket ranges.
func StartInt(name string) (int64, bool) {
	ts, ok := StartTimestamp(name)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(ts+"00", 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// HourRange returns the inclusive [low, high] integer range covering one
// hour bucket of a day-of-year date key. dateKey is YYYYJJJ, hour 0-23.
func HourRange(dateKey string, hour int) (int64, int64) {
	base, err := strconv.ParseInt(dateKey, 10, 64)
	if err != nil {
		return 0, -1
	}
	low := base*1e6 + int64(hour)*1e4 // YYYYJJJ HH 00 00
	return low, low + 5959            // YYYYJJJ HH 59 59
}

// Band extracts the two-digit spectral band token, if present.
func Band(name string) (string, bool) {
	m := bandTokenPattern.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Product extracts the product family token (with its domain suffix),
// e.g. "RadF" or "CMIPF".
func Product(name string) (string, bool) {
	m := productPattern.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Window is one inclusive time-of-day window. A single-bound window has
// Start == End.
type Window struct {
	Start string // "HH:MM"
	End   string // "HH:MM"
}

// Hours returns the inclusive hour span of the window.
func (w Window) Hours() (startHH, endHH int) {
	startHH, _ = strconv.Atoi(w.Start[:2])
	endHH, _ = strconv.Atoi(w.End[:2])
	return startHH, endHH
}

func (w Window) String() string {
	if w.Start == w.End {
		return w.Start
	}
	return w.Start + "-" + w.End
}

// minutes converts "HH:MM" to minutes after midnight.
func minutes(hhmm string) (int, bool) {
	if len(hhmm) != 5 || hhmm[2] != ':' {
		return 0, false
	}
	hh, err := strconv.Atoi(hhmm[:2])
	if err != nil {
		return 0, false
	}
	mm, err := strconv.Atoi(hhmm[3:])
	if err != nil {
		return 0, false
	}
	return hh*60 + mm, true
}

// Contains reports whether the start token's hh:mm falls inside the
// window (inclusive on both bounds).
func (w Window) Contains(ts string) bool {
	if len(ts) < 11 {
		return false
	}
	hh, err1 := strconv.Atoi(ts[7:9])
	mm, err2 := strconv.Atoi(ts[9:11])
	if err1 != nil || err2 != nil {
		return false
	}
	fileMin := hh*60 + mm
	lo, ok1 := minutes(w.Start)
	hi, ok2 := minutes(w.End)
	if !ok1 || !ok2 {
		return false
	}
	return lo <= fileMin && fileMin <= hi
}

// FilterByTime keeps the files whose start token matches the day-of-year
// date key (YYYYJJJ) and whose hh:mm lies inside at least one window.
// Files without a recognizable start token are dropped. The function is
// deterministic and idempotent: applying it to its own output is a no-op.
func FilterByTime(files []string, dateKey string, windows []Window) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		ts, ok := StartTimestamp(f)
		if !ok {
			continue
		}
		if ts[:7] != dateKey {
			continue
		}
		for _, w := range windows {
			if w.Contains(ts) {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

// IsSceneFile reports whether a name looks like a single NetCDF scene.
func IsSceneFile(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".nc")
}

// IsBundleFile reports whether a name looks like a weekly archive bundle.
func IsBundleFile(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".tgz") || strings.HasSuffix(lower, ".tar.gz")
}
