// Package query defines the historic query document and its expansion
// rules (date keys, time windows, band/product wildcards).
package query

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wxarchive/goes-recovery/internal/goesname"
)

// AllBands are the 16 ABI spectral channels, used when a query asks for
// "ALL" bands or supplies none for a banded product.
var AllBands = []string{
	"01", "02", "03", "04", "05", "06", "07", "08",
	"09", "10", "11", "12", "13", "14", "15", "16",
}

// Query is a validated historic recovery request. Date keys map to the
// time-of-day windows requested for that day; the raw caller payload is
// retained so a retry query can be re-submitted in the caller's format.
type Query struct {
	Satellite string              `json:"satellite"`
	Sensor    string              `json:"sensor"`
	Level     string              `json:"level"`
	Domain    string              `json:"domain"`
	Products  []string            `json:"products,omitempty"`
	Bands     []string            `json:"bands,omitempty"`
	Dates     map[string][]string `json:"dates"`

	Original json.RawMessage `json:"-"`
}

// DateSlice is one expanded (day, windows) pair. Key is the day-of-year
// form YYYYJJJ; Caller preserves the date key as the caller wrote it.
type DateSlice struct {
	Key     string
	Caller  string
	Windows []goesname.Window
}

// ParseWindow parses "HH:MM-HH:MM" or a single "HH:MM".
func ParseWindow(s string) (goesname.Window, error) {
	parts := strings.SplitN(s, "-", 2)
	start := strings.TrimSpace(parts[0])
	end := start
	if len(parts) == 2 {
		end = strings.TrimSpace(parts[1])
	}
	for _, v := range []string{start, end} {
		if _, err := time.Parse("15:04", v); err != nil {
			return goesname.Window{}, fmt.Errorf("invalid time window %q: %w", s, err)
		}
	}
	return goesname.Window{Start: start, End: end}, nil
}

// dayKey converts one calendar day to the YYYYJJJ form. Accepts YYYYMMDD
// and YYYYJJJ.
func dayKey(s string) (string, error) {
	switch len(s) {
	case 8:
		t, err := time.Parse("20060102", s)
		if err != nil {
			return "", fmt.Errorf("invalid date key %q: %w", s, err)
		}
		return fmt.Sprintf("%04d%03d", t.Year(), t.YearDay()), nil
	case 7:
		year, err := strconv.Atoi(s[:4])
		if err != nil {
			return "", fmt.Errorf("invalid date key %q", s)
		}
		doy, err := strconv.Atoi(s[4:])
		if err != nil || doy < 1 || doy > 366 {
			return "", fmt.Errorf("invalid date key %q", s)
		}
		return fmt.Sprintf("%04d%03d", year, doy), nil
	default:
		return "", fmt.Errorf("unsupported date key format %q", s)
	}
}

// dayTime converts a single-day key to its UTC midnight instant.
func dayTime(key string) (time.Time, error) {
	return time.Parse("2006002", key)
}

// ExpandDates resolves every date key (single day or inclusive "A-B" day
// range) into per-day slices keyed by YYYYJJJ. Window strings are parsed
// and validated here; the orchestrator downstream assumes they are sound.
func (q *Query) ExpandDates() ([]DateSlice, error) {
	var out []DateSlice
	for caller, windowStrs := range q.Dates {
		windows := make([]goesname.Window, 0, len(windowStrs))
		for _, ws := range windowStrs {
			w, err := ParseWindow(ws)
			if err != nil {
				return nil, err
			}
			windows = append(windows, w)
		}

		days, err := expandDayRange(caller)
		if err != nil {
			return nil, err
		}
		for _, d := range days {
			out = append(out, DateSlice{Key: d, Caller: caller, Windows: windows})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// expandDayRange resolves a date key to its list of YYYYJJJ days.
func expandDayRange(caller string) ([]string, error) {
	bounds := strings.SplitN(caller, "-", 2)
	first, err := dayKey(strings.TrimSpace(bounds[0]))
	if err != nil {
		return nil, err
	}
	if len(bounds) == 1 {
		return []string{first}, nil
	}

	last, err := dayKey(strings.TrimSpace(bounds[1]))
	if err != nil {
		return nil, err
	}
	start, err := dayTime(first)
	if err != nil {
		return nil, err
	}
	end, err := dayTime(last)
	if err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, fmt.Errorf("date range %q ends before it starts", caller)
	}

	var days []string
	for t := start; !t.After(end); t = t.AddDate(0, 0, 1) {
		days = append(days, fmt.Sprintf("%04d%03d", t.Year(), t.YearDay()))
	}
	return days, nil
}

// FirstDay returns the earliest requested day as a UTC instant, used to
// resolve the operational satellite code. Zero time when no dates.
func (q *Query) FirstDay() time.Time {
	slices, err := q.ExpandDates()
	if err != nil || len(slices) == 0 {
		return time.Time{}
	}
	t, err := dayTime(slices[0].Key)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ExpandedBands returns the concrete band list: the wildcard "ALL" (any
// case) expands to the 16 ABI channels. Bands are normalized to two
// digits.
func (q *Query) ExpandedBands() []string {
	if len(q.Bands) == 0 {
		return nil
	}
	for _, b := range q.Bands {
		if strings.EqualFold(b, "ALL") {
			return append([]string(nil), AllBands...)
		}
	}
	out := make([]string, 0, len(q.Bands))
	for _, b := range q.Bands {
		if len(b) == 1 {
			b = "0" + b
		}
		out = append(out, b)
	}
	return out
}

// ExpandedProducts resolves the "ALL" product wildcard against the
// supplied catalog.
func (q *Query) ExpandedProducts(catalog []string) []string {
	for _, p := range q.Products {
		if strings.EqualFold(p, "ALL") {
			return append([]string(nil), catalog...)
		}
	}
	return append([]string(nil), q.Products...)
}

// WantsAllBands reports whether the band filter is absent or the
// wildcard, in which case band-based member selection must not narrow
// anything.
func (q *Query) WantsAllBands() bool {
	if len(q.Bands) == 0 {
		return true
	}
	for _, b := range q.Bands {
		if strings.EqualFold(b, "ALL") {
			return true
		}
	}
	return false
}

// WantsAllProducts reports whether the product filter is absent or the
// wildcard.
func (q *Query) WantsAllProducts() bool {
	if len(q.Products) == 0 {
		return true
	}
	for _, p := range q.Products {
		if strings.EqualFold(p, "ALL") {
			return true
		}
	}
	return false
}

// Parse decodes and validates a query document. The raw payload is kept
// on the query for retry-query construction.
func Parse(raw []byte) (*Query, error) {
	var q Query
	if err := json.Unmarshal(raw, &q); err != nil {
		return nil, fmt.Errorf("decode query: %w", err)
	}
	if len(q.Dates) == 0 {
		return nil, fmt.Errorf("query has no dates")
	}
	if q.Sensor == "" {
		q.Sensor = "abi"
	}
	if q.Level == "" {
		q.Level = "L1b"
	}
	if _, err := q.ExpandDates(); err != nil {
		return nil, err
	}
	q.Original = append(json.RawMessage(nil), raw...)
	return &q, nil
}
